package model

import "strings"

// Provider identifies a payment service provider.
type Provider string

const (
	ProviderMollie Provider = "mollie"
	ProviderSumUp  Provider = "sumup"
)

// ParseProvider maps a host payment provider name onto a Provider. Host
// applications register method-specific variants ("mollie_ideal",
// "mollie_creditcard") that all settle through the same PSP account.
func ParseProvider(name string) (Provider, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	switch {
	case name == string(ProviderMollie), strings.HasPrefix(name, "mollie_"):
		return ProviderMollie, true
	case name == string(ProviderSumUp):
		return ProviderSumUp, true
	default:
		return "", false
	}
}

// AuthMode describes how a credential authenticates against a provider.
type AuthMode string

const (
	AuthModeAPIKey AuthMode = "api_key"
	AuthModeOAuth  AuthMode = "oauth"
)

// FeeSource records whether a fee came from the provider or from the estimator.
type FeeSource string

const (
	FeeSourceAuthoritative FeeSource = "authoritative"
	FeeSourceEstimated     FeeSource = "estimated"
)

// RunState is the lifecycle state of a sync run.
type RunState string

const (
	RunStatePending             RunState = "pending"
	RunStateRunning             RunState = "running"
	RunStateCompleted           RunState = "completed"
	RunStateCompletedWithErrors RunState = "completed_with_errors"
)

// MatchTier identifies which matcher strategy produced a transaction identity.
type MatchTier string

const (
	MatchTierStoredID     MatchTier = "stored_id"
	MatchTierAmountWindow MatchTier = "amount_window"
)

// Outcome describes what happened to a single payment during a sync run.
type Outcome string

const (
	OutcomeCached    Outcome = "cached"    // Served from a fresh fee cache entry.
	OutcomeFetched   Outcome = "fetched"   // Authoritative fee fetched from the provider.
	OutcomeEstimated Outcome = "estimated" // Fallback estimator used.
	OutcomeSkipped   Outcome = "skipped"   // No fee written.
)
