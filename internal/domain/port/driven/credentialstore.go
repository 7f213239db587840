package driven

import (
	"context"
	"errors"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

// ErrEncryptionKeyNotSet is returned by CredentialStore operations when
// FEESYNC_SECRET_KEY has not been configured.
var ErrEncryptionKeyNotSet = errors.New("encryption key not configured: set FEESYNC_SECRET_KEY")

// CredentialStore defines the driven port for encrypted credential persistence.
// The adapter layer is responsible for encryption/decryption; this interface
// operates on plaintext values at the domain boundary.
type CredentialStore interface {
	// Get returns the credential for (provider, account).
	// Returns model.ErrCredentialNotFound if none is configured.
	Get(ctx context.Context, provider model.Provider, account string) (model.Credential, error)

	// Put stores or replaces the credential keyed by (Provider, Account).
	Put(ctx context.Context, cred model.Credential) error

	// List returns all stored credentials, decrypted, ordered by provider then account.
	List(ctx context.Context) ([]model.Credential, error)

	// Delete removes the credential for (provider, account). Deleting a
	// missing credential is not an error.
	Delete(ctx context.Context, provider model.Provider, account string) error
}
