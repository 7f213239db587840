package sqlite

import (
	"context"
	"fmt"

	"github.com/ericfisherdev/feesync/internal/domain/model"
	"github.com/ericfisherdev/feesync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.SyncLog = (*SyncLogRepo)(nil)

// SyncLogRepo is the SQLite implementation of the SyncLog port interface.
type SyncLogRepo struct {
	db *DB
}

// NewSyncLogRepo creates a new SyncLogRepo backed by the given DB.
func NewSyncLogRepo(db *DB) *SyncLogRepo {
	return &SyncLogRepo{db: db}
}

// RecordRun inserts the run summary and its diagnostics in one transaction.
func (r *SyncLogRepo) RecordRun(ctx context.Context, result model.SyncResult) error {
	tx, err := r.db.Writer.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // rollback after commit is a no-op

	const runQuery = `
		INSERT INTO sync_runs (run_id, organizer, event, dry_run, state, started_at, finished_at,
			processed, cached_hits, fetched, estimated, skipped)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err = tx.ExecContext(ctx, runQuery,
		result.RunID, result.Scope.Organizer, result.Scope.Event, boolToInt(result.DryRun),
		string(result.State), formatTime(result.StartedAt), formatTime(result.FinishedAt),
		result.Processed, result.CachedHits, result.Fetched, result.Estimated, result.Skipped,
	)
	if err != nil {
		return fmt.Errorf("insert sync run %s: %w", result.RunID, err)
	}

	if len(result.Errors) > 0 {
		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO sync_diagnostics (run_id, occurred_at, provider, account, identifier, kind, message)
			VALUES (?, ?, ?, ?, ?, ?, ?)`)
		if err != nil {
			return fmt.Errorf("prepare diagnostic insert: %w", err)
		}
		defer stmt.Close()

		for _, d := range result.Errors {
			_, err := stmt.ExecContext(ctx, result.RunID, formatTime(d.OccurredAt),
				string(d.Provider), d.Account, d.Identifier, string(d.Kind), d.Message)
			if err != nil {
				return fmt.Errorf("insert diagnostic for run %s: %w", result.RunID, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit sync run %s: %w", result.RunID, err)
	}
	return nil
}

// ListDiagnostics returns diagnostics newest first, optionally limited to one organizer.
func (r *SyncLogRepo) ListDiagnostics(ctx context.Context, organizer string, limit int) ([]model.SyncDiagnostic, error) {
	if limit <= 0 {
		limit = 100
	}

	const query = `
		SELECT d.run_id, d.occurred_at, d.provider, d.account, d.identifier, d.kind, d.message
		FROM sync_diagnostics d
		JOIN sync_runs r ON r.run_id = d.run_id
		WHERE ? = '' OR r.organizer = ?
		ORDER BY d.occurred_at DESC, d.id DESC
		LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, organizer, organizer, limit)
	if err != nil {
		return nil, fmt.Errorf("list diagnostics: %w", err)
	}
	defer rows.Close()

	var diags []model.SyncDiagnostic
	for rows.Next() {
		var (
			d              model.SyncDiagnostic
			occurredAt     string
			provider, kind string
		)
		if err := rows.Scan(&d.RunID, &occurredAt, &provider, &d.Account, &d.Identifier, &kind, &d.Message); err != nil {
			return nil, fmt.Errorf("scan diagnostic: %w", err)
		}
		if d.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("parse occurred_at: %w", err)
		}
		d.Provider = model.Provider(provider)
		d.Kind = model.DiagnosticKind(kind)
		diags = append(diags, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate diagnostics: %w", err)
	}

	return diags, nil
}

// ListRuns returns run summaries newest first, without items or diagnostics.
func (r *SyncLogRepo) ListRuns(ctx context.Context, organizer string, limit int) ([]model.SyncResult, error) {
	if limit <= 0 {
		limit = 20
	}

	const query = `
		SELECT run_id, organizer, event, dry_run, state, started_at, finished_at,
			processed, cached_hits, fetched, estimated, skipped
		FROM sync_runs
		WHERE ? = '' OR organizer = ?
		ORDER BY started_at DESC
		LIMIT ?`

	rows, err := r.db.Reader.QueryContext(ctx, query, organizer, organizer, limit)
	if err != nil {
		return nil, fmt.Errorf("list sync runs: %w", err)
	}
	defer rows.Close()

	var runs []model.SyncResult
	for rows.Next() {
		var (
			run                   model.SyncResult
			dryRun                int
			state                 string
			startedAt, finishedAt string
		)
		err := rows.Scan(&run.RunID, &run.Scope.Organizer, &run.Scope.Event, &dryRun, &state,
			&startedAt, &finishedAt, &run.Processed, &run.CachedHits, &run.Fetched, &run.Estimated, &run.Skipped)
		if err != nil {
			return nil, fmt.Errorf("scan sync run: %w", err)
		}
		run.DryRun = dryRun != 0
		run.State = model.RunState(state)
		if run.StartedAt, err = parseTime(startedAt); err != nil {
			return nil, fmt.Errorf("parse started_at: %w", err)
		}
		if run.FinishedAt, err = parseTime(finishedAt); err != nil {
			return nil, fmt.Errorf("parse finished_at: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sync runs: %w", err)
	}

	return runs, nil
}
