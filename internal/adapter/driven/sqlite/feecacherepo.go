package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/feesync/internal/domain/model"
	"github.com/ericfisherdev/feesync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.FeeCache = (*FeeCacheRepo)(nil)

// FeeCacheRepo is the SQLite implementation of the FeeCache port interface.
type FeeCacheRepo struct {
	db *DB
}

// NewFeeCacheRepo creates a new FeeCacheRepo backed by the given DB.
func NewFeeCacheRepo(db *DB) *FeeCacheRepo {
	return &FeeCacheRepo{db: db}
}

const feeCacheColumns = `provider, transaction_id, account, gross, fee, net, currency,
	settlement_id, settlement_date, status, source, fetched_at`

// Lookup returns the entry for (provider, txID). Returns nil, nil on a miss.
func (r *FeeCacheRepo) Lookup(ctx context.Context, provider model.Provider, txID string) (*model.CacheEntry, error) {
	query := `SELECT ` + feeCacheColumns + ` FROM fee_cache WHERE provider = ? AND transaction_id = ?`

	entry, err := scanCacheEntry(r.db.Reader.QueryRowContext(ctx, query, string(provider), txID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup fee cache %s/%s: %w", provider, txID, err)
	}
	return entry, nil
}

// Store upserts the entry in a single statement. The update is guarded on
// fetched_at, so an entry older than the stored one changes nothing and
// reports stored == false.
func (r *FeeCacheRepo) Store(ctx context.Context, entry model.CacheEntry) (bool, error) {
	query := `INSERT INTO fee_cache (` + feeCacheColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, transaction_id) DO UPDATE SET
			account = excluded.account,
			gross = excluded.gross,
			fee = excluded.fee,
			net = excluded.net,
			currency = excluded.currency,
			settlement_id = excluded.settlement_id,
			settlement_date = excluded.settlement_date,
			status = excluded.status,
			source = excluded.source,
			fetched_at = excluded.fetched_at
		WHERE excluded.fetched_at >= fee_cache.fetched_at`

	result, err := r.db.Writer.ExecContext(ctx, query,
		string(entry.Provider), entry.TransactionID, entry.Account,
		entry.Gross.String(), entry.Fee.String(), entry.Net.String(), entry.Currency,
		entry.SettlementID, nullTime(entry.SettlementDate), entry.Status,
		string(entry.Source), formatTime(entry.FetchedAt),
	)
	if err != nil {
		return false, fmt.Errorf("store fee cache %s/%s: %w", entry.Provider, entry.TransactionID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return rows > 0, nil
}

// Stats summarizes the cache per provider.
func (r *FeeCacheRepo) Stats(ctx context.Context, now time.Time) (model.CacheStats, error) {
	const query = `
		SELECT provider, COUNT(*), MIN(fetched_at), MAX(fetched_at),
			SUM(CASE WHEN source = 'estimated' THEN 1 ELSE 0 END)
		FROM fee_cache GROUP BY provider ORDER BY provider`

	rows, err := r.db.Reader.QueryContext(ctx, query)
	if err != nil {
		return model.CacheStats{}, fmt.Errorf("fee cache stats: %w", err)
	}
	defer rows.Close()

	stats := model.CacheStats{ByProvider: make(map[model.Provider]model.ProviderCacheStats)}
	var oldest, newest time.Time

	for rows.Next() {
		var (
			provider             string
			ps                   model.ProviderCacheStats
			oldestRaw, newestRaw string
		)
		if err := rows.Scan(&provider, &ps.Count, &oldestRaw, &newestRaw, &ps.Estimated); err != nil {
			return model.CacheStats{}, fmt.Errorf("scan fee cache stats: %w", err)
		}
		if ps.Oldest, err = parseTime(oldestRaw); err != nil {
			return model.CacheStats{}, fmt.Errorf("parse oldest fetched_at: %w", err)
		}
		if ps.Newest, err = parseTime(newestRaw); err != nil {
			return model.CacheStats{}, fmt.Errorf("parse newest fetched_at: %w", err)
		}

		stats.ByProvider[model.Provider(provider)] = ps
		stats.Count += ps.Count
		if oldest.IsZero() || ps.Oldest.Before(oldest) {
			oldest = ps.Oldest
		}
		if ps.Newest.After(newest) {
			newest = ps.Newest
		}
	}
	if err := rows.Err(); err != nil {
		return model.CacheStats{}, fmt.Errorf("iterate fee cache stats: %w", err)
	}

	if stats.Count > 0 {
		stats.OldestAge = now.Sub(oldest)
		stats.NewestAge = now.Sub(newest)
	}
	return stats, nil
}

// Clear deletes entries matching scope. An empty scope clears everything.
func (r *FeeCacheRepo) Clear(ctx context.Context, scope model.CacheScope) (int64, error) {
	where, args := scopeFilter(scope)
	return execCount(ctx, r.db, "clear fee cache", `DELETE FROM fee_cache`+where, args...)
}

// DeleteFetchedBefore removes entries fetched strictly before cutoff.
func (r *FeeCacheRepo) DeleteFetchedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return execCount(ctx, r.db, "sweep fee cache",
		`DELETE FROM fee_cache WHERE fetched_at < ?`, formatTime(cutoff))
}

func scanCacheEntry(s scanner) (*model.CacheEntry, error) {
	var (
		entry            model.CacheEntry
		provider, source string
		gross, fee, net  string
		settlementDate   sql.NullString
		fetchedAt        string
	)

	err := s.Scan(&provider, &entry.TransactionID, &entry.Account, &gross, &fee, &net, &entry.Currency,
		&entry.SettlementID, &settlementDate, &entry.Status, &source, &fetchedAt)
	if err != nil {
		return nil, err
	}

	entry.Provider = model.Provider(provider)
	entry.Source = model.FeeSource(source)

	if entry.Gross, err = decimal.NewFromString(gross); err != nil {
		return nil, fmt.Errorf("parse gross: %w", err)
	}
	if entry.Fee, err = decimal.NewFromString(fee); err != nil {
		return nil, fmt.Errorf("parse fee: %w", err)
	}
	if entry.Net, err = decimal.NewFromString(net); err != nil {
		return nil, fmt.Errorf("parse net: %w", err)
	}
	if entry.SettlementDate, err = parseNullTime(settlementDate); err != nil {
		return nil, fmt.Errorf("parse settlement_date: %w", err)
	}
	if entry.FetchedAt, err = parseTime(fetchedAt); err != nil {
		return nil, fmt.Errorf("parse fetched_at: %w", err)
	}

	return &entry, nil
}

// scopeFilter builds the WHERE clause for a cache scope over tables that carry
// provider and account columns.
func scopeFilter(scope model.CacheScope) (string, []any) {
	var (
		conds []string
		args  []any
	)
	if scope.Provider != "" {
		conds = append(conds, "provider = ?")
		args = append(args, string(scope.Provider))
	}
	if scope.Account != "" {
		conds = append(conds, "account = ?")
		args = append(args, scope.Account)
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func execCount(ctx context.Context, db *DB, op, query string, args ...any) (int64, error) {
	result, err := db.Writer.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("check rows affected: %w", err)
	}
	return n, nil
}
