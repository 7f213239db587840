package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// SyncScope selects the payments a sync run covers. Organizer is required.
type SyncScope struct {
	Organizer string
	Event     string     // Optional event filter.
	From      *time.Time // Optional lower bound on PaidAt.
	To        *time.Time // Optional upper bound on PaidAt.
	Limit     int        // Zero means no limit.
}

// SyncOptions controls how a sync run behaves.
type SyncOptions struct {
	// DryRun runs the full pipeline but writes no payment, cache or log data.
	DryRun bool
	// Force includes payments that already carry synced fee data.
	Force bool
}

// SyncDiagnostic records one non-fatal problem met during a sync run.
type SyncDiagnostic struct {
	RunID      string
	OccurredAt time.Time
	Provider   Provider
	Account    string
	Identifier string // Payment ID, transaction ID or settlement ID.
	Kind       DiagnosticKind
	Message    string
}

// FeeResolution is the (would-be) result for one payment of a run.
type FeeResolution struct {
	PaymentID      string
	Provider       Provider
	TransactionID  string
	MatchTier      MatchTier
	Gross          decimal.Decimal
	Fee            decimal.Decimal
	Net            decimal.Decimal
	Currency       string
	SettlementDate *time.Time
	Source         FeeSource
	Outcome        Outcome
}

// SyncResult summarizes a sync run.
type SyncResult struct {
	RunID      string
	Scope      SyncScope
	DryRun     bool
	State      RunState
	StartedAt  time.Time
	FinishedAt time.Time

	Processed  int // Payments taken into the run.
	CachedHits int // Resolved from a fresh cache entry.
	Fetched    int // Authoritative fee obtained from the provider.
	Estimated  int // Fallback estimator used.
	Skipped    int // No fee written.

	Errors []SyncDiagnostic
	Items  []FeeResolution
}

// Authoritative returns how many resolved payments carry an authoritative fee,
// whether fetched in this run or served from cache.
func (r *SyncResult) Authoritative() int {
	n := 0
	for _, item := range r.Items {
		if item.Outcome != OutcomeSkipped && item.Source == FeeSourceAuthoritative {
			n++
		}
	}
	return n
}

// TotalFees sums resolved fees per currency.
func (r *SyncResult) TotalFees() map[string]decimal.Decimal {
	totals := make(map[string]decimal.Decimal)
	for _, item := range r.Items {
		if item.Outcome == OutcomeSkipped {
			continue
		}
		totals[item.Currency] = totals[item.Currency].Add(item.Fee)
	}
	return totals
}
