package model

import "time"

// Credential holds the provider credential configured for one account
// (an organizer). KeyMaterial is the API key for AuthModeAPIKey and the
// access token for AuthModeOAuth.
type Credential struct {
	Provider     Provider
	Account      string
	Mode         AuthMode
	KeyMaterial  string
	RefreshToken string    // OAuth only.
	TokenExpiry  time.Time // OAuth only; zero means unknown and is treated as expired.
	TestMode     bool
	UpdatedAt    time.Time
}

// NeedsRefresh reports whether an OAuth access token expires within margin of now.
// API key credentials never need a refresh.
func (c Credential) NeedsRefresh(now time.Time, margin time.Duration) bool {
	if c.Mode != AuthModeOAuth {
		return false
	}
	return !now.Add(margin).Before(c.TokenExpiry)
}

// CanRefresh reports whether the credential carries what a refresh grant needs.
func (c Credential) CanRefresh() bool {
	return c.Mode == AuthModeOAuth && c.RefreshToken != ""
}

// Key returns the "provider/account" string used to scope per-account state.
func (c Credential) Key() string {
	return AccountKey(c.Provider, c.Account)
}

// AccountKey builds the scope key for a (provider, account) pair.
func AccountKey(provider Provider, account string) string {
	return string(provider) + "/" + account
}
