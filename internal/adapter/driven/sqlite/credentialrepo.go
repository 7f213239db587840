package sqlite

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/ericfisherdev/feesync/internal/domain/model"
	"github.com/ericfisherdev/feesync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.CredentialStore = (*CredentialRepo)(nil)

// CredentialRepo is the SQLite implementation of the CredentialStore port interface.
// Key material and refresh tokens are encrypted with AES-256-GCM before write
// and decrypted after read.
type CredentialRepo struct {
	db  *DB
	key []byte // 32-byte AES-256 key; nil when encryption is disabled.
	now func() time.Time
}

// NewCredentialRepo creates a new CredentialRepo. key must be 32 bytes for AES-256-GCM,
// or nil to disable credential storage (reads and writes return driven.ErrEncryptionKeyNotSet).
func NewCredentialRepo(db *DB, key []byte) *CredentialRepo {
	return &CredentialRepo{db: db, key: key, now: time.Now}
}

// Put stores or replaces the credential for (Provider, Account).
func (r *CredentialRepo) Put(ctx context.Context, cred model.Credential) error {
	keyMaterial, err := r.encrypt(cred.KeyMaterial)
	if err != nil {
		return err
	}

	refreshToken := ""
	if cred.RefreshToken != "" {
		refreshToken, err = r.encrypt(cred.RefreshToken)
		if err != nil {
			return err
		}
	}

	var expiry *time.Time
	if !cred.TokenExpiry.IsZero() {
		expiry = &cred.TokenExpiry
	}

	updatedAt := cred.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = r.now()
	}

	const query = `
		INSERT INTO credentials (provider, account, mode, key_material, refresh_token, token_expiry, test_mode, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, account) DO UPDATE SET
			mode = excluded.mode,
			key_material = excluded.key_material,
			refresh_token = excluded.refresh_token,
			token_expiry = excluded.token_expiry,
			test_mode = excluded.test_mode,
			updated_at = excluded.updated_at`

	_, err = r.db.Writer.ExecContext(ctx, query,
		string(cred.Provider), cred.Account, string(cred.Mode),
		keyMaterial, refreshToken, nullTime(expiry),
		boolToInt(cred.TestMode), formatTime(updatedAt),
	)
	if err != nil {
		return fmt.Errorf("put credential %s: %w", cred.Key(), err)
	}
	return nil
}

// Get retrieves the decrypted credential for (provider, account).
// Returns model.ErrCredentialNotFound if none exists.
func (r *CredentialRepo) Get(ctx context.Context, provider model.Provider, account string) (model.Credential, error) {
	if r.key == nil {
		return model.Credential{}, driven.ErrEncryptionKeyNotSet
	}

	const query = `
		SELECT provider, account, mode, key_material, refresh_token, token_expiry, test_mode, updated_at
		FROM credentials WHERE provider = ? AND account = ?`

	cred, err := r.scanCredential(r.db.Reader.QueryRowContext(ctx, query, string(provider), account))
	if errors.Is(err, sql.ErrNoRows) {
		return model.Credential{}, fmt.Errorf("get credential %s: %w",
			model.AccountKey(provider, account), model.ErrCredentialNotFound)
	}
	if err != nil {
		return model.Credential{}, fmt.Errorf("get credential %s: %w", model.AccountKey(provider, account), err)
	}
	return cred, nil
}

// List returns all stored credentials with decrypted values.
func (r *CredentialRepo) List(ctx context.Context) ([]model.Credential, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}

	const query = `
		SELECT provider, account, mode, key_material, refresh_token, token_expiry, test_mode, updated_at
		FROM credentials ORDER BY provider, account`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list credentials: %w", err)
	}
	defer rows.Close()

	var creds []model.Credential
	for rows.Next() {
		cred, err := r.scanCredential(rows)
		if err != nil {
			return nil, fmt.Errorf("scan credential: %w", err)
		}
		creds = append(creds, cred)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate credentials: %w", err)
	}

	return creds, nil
}

// Delete removes the credential for (provider, account).
func (r *CredentialRepo) Delete(ctx context.Context, provider model.Provider, account string) error {
	const query = `DELETE FROM credentials WHERE provider = ? AND account = ?`
	_, err := r.db.Writer.ExecContext(ctx, query, string(provider), account)
	if err != nil {
		return fmt.Errorf("delete credential %s: %w", model.AccountKey(provider, account), err)
	}
	return nil
}

func (r *CredentialRepo) scanCredential(s scanner) (model.Credential, error) {
	var (
		cred                      model.Credential
		provider, mode            string
		keyMaterial, refreshToken string
		expiry                    sql.NullString
		testMode                  int
		updatedAt                 string
	)

	err := s.Scan(&provider, &cred.Account, &mode, &keyMaterial, &refreshToken, &expiry, &testMode, &updatedAt)
	if err != nil {
		return model.Credential{}, err
	}

	cred.Provider = model.Provider(provider)
	cred.Mode = model.AuthMode(mode)
	cred.TestMode = testMode != 0

	cred.KeyMaterial, err = r.decrypt(keyMaterial)
	if err != nil {
		return model.Credential{}, fmt.Errorf("decrypt key material for %s: %w", cred.Key(), err)
	}
	if refreshToken != "" {
		cred.RefreshToken, err = r.decrypt(refreshToken)
		if err != nil {
			return model.Credential{}, fmt.Errorf("decrypt refresh token for %s: %w", cred.Key(), err)
		}
	}

	exp, err := parseNullTime(expiry)
	if err != nil {
		return model.Credential{}, fmt.Errorf("parse token_expiry for %s: %w", cred.Key(), err)
	}
	if exp != nil {
		cred.TokenExpiry = *exp
	}

	cred.UpdatedAt, err = parseTime(updatedAt)
	if err != nil {
		return model.Credential{}, fmt.Errorf("parse updated_at for %s: %w", cred.Key(), err)
	}

	return cred, nil
}

// encrypt encrypts plaintext using AES-256-GCM and returns a base64-encoded string
// containing the nonce (12 bytes) prepended to the ciphertext.
func (r *CredentialRepo) encrypt(plaintext string) (string, error) {
	gcm, err := r.aead()
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("rand nonce: %w", err)
	}

	// Seal appends the ciphertext to nonce, producing: nonce || ciphertext || tag.
	ciphertext := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.StdEncoding.EncodeToString(ciphertext), nil
}

// decrypt decrypts a base64-encoded AES-256-GCM ciphertext.
func (r *CredentialRepo) decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}

	gcm, err := r.aead()
	if err != nil {
		return "", err
	}

	nonceSize := gcm.NonceSize()
	if len(data) < nonceSize {
		return "", errors.New("ciphertext too short")
	}

	nonce, ciphertext := data[:nonceSize], data[nonceSize:]
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("gcm.Open: %w", err)
	}

	return string(plaintext), nil
}

func (r *CredentialRepo) aead() (cipher.AEAD, error) {
	if r.key == nil {
		return nil, driven.ErrEncryptionKeyNotSet
	}
	block, err := aes.NewCipher(r.key)
	if err != nil {
		return nil, fmt.Errorf("aes.NewCipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("cipher.NewGCM: %w", err)
	}
	return gcm, nil
}
