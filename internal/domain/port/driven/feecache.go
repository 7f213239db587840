package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

// FeeCache defines the driven port for the per-transaction fee cache.
// Writes are key-scoped and atomic; concurrent writers to the same key resolve
// last-write-wins on FetchedAt.
type FeeCache interface {
	// Lookup returns the entry for (provider, txID), stale or not.
	// Returns (nil, nil) on a miss.
	Lookup(ctx context.Context, provider model.Provider, txID string) (*model.CacheEntry, error)

	// Store replaces the entry for its key unless the stored entry has a newer
	// FetchedAt. stored is false when the write lost to a newer entry.
	Store(ctx context.Context, entry model.CacheEntry) (stored bool, err error)

	// Stats summarizes the cache at now.
	Stats(ctx context.Context, now time.Time) (model.CacheStats, error)

	// Clear deletes entries matching scope and returns how many were removed.
	Clear(ctx context.Context, scope model.CacheScope) (int64, error)

	// DeleteFetchedBefore removes entries fetched before cutoff.
	DeleteFetchedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// SettlementRateCache defines the driven port for cached settlement rate tables,
// keyed by (provider, settlement id). Semantics mirror FeeCache.
type SettlementRateCache interface {
	Lookup(ctx context.Context, provider model.Provider, settlementID string) (*model.SettlementRateEntry, error)
	Store(ctx context.Context, entry model.SettlementRateEntry) (stored bool, err error)
	Clear(ctx context.Context, scope model.CacheScope) (int64, error)
	DeleteFetchedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}
