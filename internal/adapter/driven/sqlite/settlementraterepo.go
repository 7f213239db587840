package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/ericfisherdev/feesync/internal/domain/model"
	"github.com/ericfisherdev/feesync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SettlementRateCache = (*SettlementRateRepo)(nil)

// SettlementRateRepo is the SQLite implementation of the SettlementRateCache port.
// The rate table is stored as a JSON object keyed by cost category.
type SettlementRateRepo struct {
	db *DB
}

// NewSettlementRateRepo creates a new SettlementRateRepo backed by the given DB.
func NewSettlementRateRepo(db *DB) *SettlementRateRepo {
	return &SettlementRateRepo{db: db}
}

// Lookup returns the rate entry for (provider, settlementID). Returns nil, nil on a miss.
func (r *SettlementRateRepo) Lookup(ctx context.Context, provider model.Provider, settlementID string) (*model.SettlementRateEntry, error) {
	const query = `
		SELECT provider, settlement_id, account, settled_at, rates, fetched_at
		FROM settlement_rates WHERE provider = ? AND settlement_id = ?`

	var (
		entry              model.SettlementRateEntry
		providerRaw, rates string
		settledAt          sql.NullString
		fetchedAt          string
	)
	err := r.db.Reader.QueryRowContext(ctx, query, string(provider), settlementID).
		Scan(&providerRaw, &entry.SettlementID, &entry.Account, &settledAt, &rates, &fetchedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("lookup settlement rates %s/%s: %w", provider, settlementID, err)
	}

	entry.Provider = model.Provider(providerRaw)
	if err := json.Unmarshal([]byte(rates), &entry.Rates); err != nil {
		return nil, fmt.Errorf("decode settlement rates %s/%s: %w", provider, settlementID, err)
	}
	if entry.SettledAt, err = parseNullTime(settledAt); err != nil {
		return nil, fmt.Errorf("parse settled_at: %w", err)
	}
	if entry.FetchedAt, err = parseTime(fetchedAt); err != nil {
		return nil, fmt.Errorf("parse fetched_at: %w", err)
	}

	return &entry, nil
}

// Store upserts the entry with the same last-write-wins guard as the fee cache.
func (r *SettlementRateRepo) Store(ctx context.Context, entry model.SettlementRateEntry) (bool, error) {
	rates := entry.Rates
	if rates == nil {
		rates = map[string]model.FeeRate{}
	}
	encoded, err := json.Marshal(rates)
	if err != nil {
		return false, fmt.Errorf("encode settlement rates: %w", err)
	}

	const query = `
		INSERT INTO settlement_rates (provider, settlement_id, account, settled_at, rates, fetched_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(provider, settlement_id) DO UPDATE SET
			account = excluded.account,
			settled_at = excluded.settled_at,
			rates = excluded.rates,
			fetched_at = excluded.fetched_at
		WHERE excluded.fetched_at >= settlement_rates.fetched_at`

	result, err := r.db.Writer.ExecContext(ctx, query,
		string(entry.Provider), entry.SettlementID, entry.Account,
		nullTime(entry.SettledAt), string(encoded), formatTime(entry.FetchedAt),
	)
	if err != nil {
		return false, fmt.Errorf("store settlement rates %s/%s: %w", entry.Provider, entry.SettlementID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("check rows affected: %w", err)
	}
	return rows > 0, nil
}

// Clear deletes entries matching scope.
func (r *SettlementRateRepo) Clear(ctx context.Context, scope model.CacheScope) (int64, error) {
	where, args := scopeFilter(scope)
	return execCount(ctx, r.db, "clear settlement rates", `DELETE FROM settlement_rates`+where, args...)
}

// DeleteFetchedBefore removes entries fetched strictly before cutoff.
func (r *SettlementRateRepo) DeleteFetchedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	return execCount(ctx, r.db, "sweep settlement rates",
		`DELETE FROM settlement_rates WHERE fetched_at < ?`, formatTime(cutoff))
}
