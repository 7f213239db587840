package model

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors shared by ports, adapters and the sync engine. Adapters wrap
// them with context; callers test with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrCredentialNotFound = fmt.Errorf("credential %w", ErrNotFound)
	ErrInvalidCredential  = errors.New("invalid credential")
	ErrAuthExpired        = errors.New("authentication expired")
	ErrRateLimited        = errors.New("rate limited")
	ErrUnreachable        = errors.New("provider unreachable")
	ErrUnsupported        = errors.New("operation not supported by provider")
	ErrRefreshDenied      = errors.New("token refresh denied")
	ErrAmbiguousMatch     = errors.New("ambiguous transaction match")
	ErrProviderResponse   = errors.New("unexpected provider response")
)

// RateLimitError carries the provider's Retry-After hint. It matches
// ErrRateLimited under errors.Is.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	if e.RetryAfter > 0 {
		return fmt.Sprintf("rate limited (retry after %s)", e.RetryAfter)
	}
	return "rate limited"
}

func (e *RateLimitError) Is(target error) bool { return target == ErrRateLimited }

// DiagnosticKind classifies a SyncDiagnostic.
type DiagnosticKind string

const (
	KindNotFound          DiagnosticKind = "not_found"
	KindInvalidCredential DiagnosticKind = "invalid_credential"
	KindAuthExpired       DiagnosticKind = "auth_expired"
	KindRateLimited       DiagnosticKind = "rate_limited"
	KindRateLimitExceeded DiagnosticKind = "rate_limit_exceeded"
	KindUnreachable       DiagnosticKind = "unreachable"
	KindProviderError     DiagnosticKind = "provider_error"
	KindUnsupported       DiagnosticKind = "unsupported"
	KindRefreshDenied     DiagnosticKind = "refresh_denied"
	KindAmbiguousMatch    DiagnosticKind = "ambiguous_match"
	KindMissingCredential DiagnosticKind = "missing_credential"
	KindPersistence       DiagnosticKind = "persistence"
	KindCredentialStore   DiagnosticKind = "credential_store"
	KindCancelled         DiagnosticKind = "cancelled"
)

// KindOf maps an error onto the diagnostic kind it should be reported as.
// Errors outside the taxonomy are reported as provider errors.
func KindOf(err error) DiagnosticKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrCredentialNotFound):
		return KindMissingCredential
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrRefreshDenied):
		return KindRefreshDenied
	case errors.Is(err, ErrInvalidCredential):
		return KindInvalidCredential
	case errors.Is(err, ErrAuthExpired):
		return KindAuthExpired
	case errors.Is(err, ErrRateLimited):
		return KindRateLimited
	case errors.Is(err, ErrUnreachable), errors.Is(err, context.DeadlineExceeded):
		return KindUnreachable
	case errors.Is(err, ErrUnsupported):
		return KindUnsupported
	case errors.Is(err, ErrAmbiguousMatch):
		return KindAmbiguousMatch
	case errors.Is(err, context.Canceled):
		return KindCancelled
	default:
		return KindProviderError
	}
}

// DisablesAccount reports whether err means no further call for the same
// (provider, account) can succeed during the current run.
func DisablesAccount(err error) bool {
	return errors.Is(err, ErrInvalidCredential) ||
		errors.Is(err, ErrRefreshDenied) ||
		errors.Is(err, ErrCredentialNotFound)
}
