package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// CacheEntry is a resolved fee fact for one provider transaction.
// It is keyed by (Provider, TransactionID) and always written whole.
type CacheEntry struct {
	Provider       Provider
	TransactionID  string
	Account        string
	Gross          decimal.Decimal
	Fee            decimal.Decimal
	Net            decimal.Decimal
	Currency       string
	SettlementID   string
	SettlementDate *time.Time
	Status         string
	Source         FeeSource
	FetchedAt      time.Time
}

// NewCacheEntry builds an entry whose fee is rounded to the currency's minor
// unit and whose net amount is derived from it, so Net == Gross - Fee exactly.
func NewCacheEntry(provider Provider, txID string, gross, fee decimal.Decimal, currency string, source FeeSource, fetchedAt time.Time) CacheEntry {
	gross = RoundMinor(gross, currency)
	fee = RoundMinor(fee, currency)
	return CacheEntry{
		Provider:      provider,
		TransactionID: txID,
		Gross:         gross,
		Fee:           fee,
		Net:           gross.Sub(fee),
		Currency:      currency,
		Source:        source,
		FetchedAt:     fetchedAt.UTC(),
	}
}

// IsStale reports whether the entry is older than ttl at now.
func (e CacheEntry) IsStale(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.FetchedAt) > ttl
}

// FeeRate is one line of a provider fee schedule: fixed + gross*percentage/100.
type FeeRate struct {
	Fixed      decimal.Decimal `json:"fixed"`
	Percentage decimal.Decimal `json:"percentage"`
}

// Apply returns the fee for gross under this rate, unrounded.
func (r FeeRate) Apply(gross decimal.Decimal) decimal.Decimal {
	return r.Fixed.Add(gross.Mul(r.Percentage).Div(decimal.NewFromInt(100)))
}

// SettlementRateEntry caches the rate table of one provider settlement so
// that transactions in the same settlement do not refetch it.
type SettlementRateEntry struct {
	Provider     Provider
	SettlementID string
	Account      string
	SettledAt    *time.Time
	Rates        map[string]FeeRate
	FetchedAt    time.Time
}

// IsStale reports whether the entry is older than ttl at now.
func (e SettlementRateEntry) IsStale(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.FetchedAt) > ttl
}

// FeeFor computes the fee for a transaction of the given cost category.
// It returns false when the settlement has no rate for that category.
func (e SettlementRateEntry) FeeFor(category string, gross decimal.Decimal) (decimal.Decimal, bool) {
	if category == "" {
		return decimal.Zero, false
	}
	rate, ok := e.Rates[category]
	if !ok {
		return decimal.Zero, false
	}
	return rate.Apply(gross), true
}

// CacheScope narrows a cache clear. Empty fields match everything.
type CacheScope struct {
	Provider Provider
	Account  string
}

// ProviderCacheStats holds per-provider cache counters.
type ProviderCacheStats struct {
	Count     int
	Oldest    time.Time
	Newest    time.Time
	Estimated int
}

// CacheStats summarizes the fee cache.
type CacheStats struct {
	Count      int
	ByProvider map[Provider]ProviderCacheStats
	OldestAge  time.Duration
	NewestAge  time.Duration
}
