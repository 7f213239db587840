package driven

import (
	"context"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

// SyncLog defines the driven port for sync run history. Diagnostics are
// append-only.
type SyncLog interface {
	// RecordRun persists the run summary together with its diagnostics.
	RecordRun(ctx context.Context, result model.SyncResult) error

	// ListDiagnostics returns the most recent diagnostics of runs for organizer,
	// newest first. An empty organizer lists all runs.
	ListDiagnostics(ctx context.Context, organizer string, limit int) ([]model.SyncDiagnostic, error)

	// ListRuns returns run summaries, newest first, without items or diagnostics.
	ListRuns(ctx context.Context, organizer string, limit int) ([]model.SyncResult, error)
}
