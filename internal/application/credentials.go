package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ericfisherdev/feesync/internal/domain/model"
	"github.com/ericfisherdev/feesync/internal/domain/port/driven"
)

// ErrCredentialStoreUnavailable wraps credential store failures other than a
// missing credential: no encryption key, undecryptable rows, I/O errors. No
// account can be synced while the store is in this state.
var ErrCredentialStoreUnavailable = errors.New("credential store unavailable")

const (
	// DefaultRefreshMargin refreshes OAuth tokens this long before they expire.
	DefaultRefreshMargin = 5 * time.Minute

	refreshTimeout = 30 * time.Second
)

// CredentialManager hands out usable credentials. It refreshes OAuth access
// tokens that are about to expire and persists the result before returning,
// so a rotated refresh token is never lost. At most one refresh per
// (provider, account) is in flight; concurrent callers share its result.
type CredentialManager struct {
	store  driven.CredentialStore
	margin time.Duration
	now    func() time.Time
	group  singleflight.Group
}

// NewCredentialManager creates a CredentialManager over store.
func NewCredentialManager(store driven.CredentialStore, margin time.Duration) *CredentialManager {
	if margin <= 0 {
		margin = DefaultRefreshMargin
	}
	return &CredentialManager{store: store, margin: margin, now: time.Now}
}

// Acquire loads the credential for (client.Provider(), account), refreshing it
// first when it expires within the refresh margin.
//
// Returns model.ErrCredentialNotFound when no credential is configured.
func (m *CredentialManager) Acquire(ctx context.Context, client driven.ProviderClient, account string) (model.Credential, error) {
	cred, err := m.get(ctx, client.Provider(), account)
	if err != nil {
		return model.Credential{}, err
	}
	if !cred.NeedsRefresh(m.now(), m.margin) {
		return cred, nil
	}

	refreshed, err := m.refresh(ctx, client, cred)
	if err != nil {
		// The current token may still be inside its validity window.
		if errors.Is(err, model.ErrUnreachable) && m.now().Before(cred.TokenExpiry) {
			slog.Warn("token refresh failed, using current token",
				"account", cred.Key(),
				"expires_in", cred.TokenExpiry.Sub(m.now()).Round(time.Second),
				"error", err,
			)
			return cred, nil
		}
		return model.Credential{}, err
	}
	return refreshed, nil
}

// Check verifies that the credential of (provider, account) can be read. A
// missing credential is not a store failure and passes.
func (m *CredentialManager) Check(ctx context.Context, provider model.Provider, account string) error {
	_, err := m.get(ctx, provider, account)
	if err != nil && !errors.Is(err, model.ErrCredentialNotFound) {
		return err
	}
	return nil
}

func (m *CredentialManager) get(ctx context.Context, provider model.Provider, account string) (model.Credential, error) {
	cred, err := m.store.Get(ctx, provider, account)
	if err != nil && !errors.Is(err, model.ErrCredentialNotFound) {
		return model.Credential{}, fmt.Errorf("%w: read %s: %w", ErrCredentialStoreUnavailable, model.AccountKey(provider, account), err)
	}
	return cred, err
}

// Call runs fn with a usable credential. If fn fails with model.ErrAuthExpired
// and the credential is OAuth, the token is force-refreshed once and fn is
// retried once; a second ErrAuthExpired is returned to the caller. An API key
// rejected as expired is reported as model.ErrInvalidCredential, since it
// cannot be refreshed.
func (m *CredentialManager) Call(ctx context.Context, client driven.ProviderClient, account string, fn func(context.Context, model.Credential) error) error {
	cred, err := m.Acquire(ctx, client, account)
	if err != nil {
		return err
	}

	err = fn(ctx, cred)
	if !errors.Is(err, model.ErrAuthExpired) {
		return err
	}
	if cred.Mode != model.AuthModeOAuth {
		return fmt.Errorf("%w: api key rejected: %v", model.ErrInvalidCredential, err)
	}

	slog.Debug("access token rejected, forcing refresh", "account", cred.Key())
	refreshed, rerr := m.refresh(ctx, client, cred)
	if rerr != nil {
		return rerr
	}
	return fn(ctx, refreshed)
}

// refresh replaces stale with a fresh credential. Inside the flight the store
// is re-read: if another caller already rotated the token, that result is used
// without calling the provider.
func (m *CredentialManager) refresh(ctx context.Context, client driven.ProviderClient, stale model.Credential) (model.Credential, error) {
	key := stale.Key()

	v, err, shared := m.group.Do(key, func() (any, error) {
		// The flight outlives any single caller's cancellation.
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), refreshTimeout)
		defer cancel()

		current, err := m.get(flightCtx, stale.Provider, stale.Account)
		if err != nil {
			return nil, err
		}
		if current.KeyMaterial != stale.KeyMaterial && !current.NeedsRefresh(m.now(), m.margin) {
			return current, nil
		}
		if !current.CanRefresh() {
			if current.Mode != model.AuthModeOAuth {
				return nil, fmt.Errorf("refresh %s: %w", key, model.ErrInvalidCredential)
			}
			return nil, fmt.Errorf("refresh %s: no refresh token: %w", key, model.ErrRefreshDenied)
		}

		updated, err := client.RefreshCredential(flightCtx, current)
		if err != nil {
			return nil, err
		}
		if err := m.store.Put(flightCtx, updated); err != nil {
			return nil, fmt.Errorf("%w: persist refreshed credential %s: %w", ErrCredentialStoreUnavailable, key, err)
		}

		slog.Info("access token refreshed",
			"account", key,
			"expires_at", updated.TokenExpiry,
			"rotated_refresh_token", updated.RefreshToken != current.RefreshToken,
		)
		return updated, nil
	})
	if err != nil {
		return model.Credential{}, err
	}

	if shared {
		slog.Debug("joined in-flight token refresh", "account", key)
	}
	return v.(model.Credential), nil
}
