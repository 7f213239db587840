package application

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

// syncRunner is the part of SyncService the scheduler drives.
type syncRunner interface {
	RunSync(ctx context.Context, scope model.SyncScope, opts model.SyncOptions) (*model.SyncResult, error)
}

// ErrSchedulerStopped is returned by Trigger once Start has returned.
var ErrSchedulerStopped = errors.New("auto sync stopped")

// triggerRequest represents a manual sync trigger.
type triggerRequest struct {
	scope model.SyncScope
	opts  model.SyncOptions
	done  chan triggerResult
}

type triggerResult struct {
	result *model.SyncResult
	err    error
}

// AutoSyncService runs sync for a fixed set of organizers on an interval.
// Manual triggers run on the same goroutine, so a triggered run never
// overlaps a periodic one.
type AutoSyncService struct {
	runner     syncRunner
	organizers []string
	interval   time.Duration
	triggerCh  chan triggerRequest
	stopped    chan struct{}
}

// NewAutoSyncService creates a scheduler. A non-positive interval disables
// periodic runs; manual triggers still work while Start is running.
func NewAutoSyncService(runner syncRunner, organizers []string, interval time.Duration) *AutoSyncService {
	return &AutoSyncService{
		runner:     runner,
		organizers: organizers,
		interval:   interval,
		triggerCh:  make(chan triggerRequest),
		stopped:    make(chan struct{}),
	}
}

// Start runs an immediate sync for every organizer, then repeats on the
// configured interval while serving manual triggers. Start blocks until the
// context is canceled and the run in progress, if any, has finished. It must
// be called at most once.
func (s *AutoSyncService) Start(ctx context.Context) {
	defer close(s.stopped)

	var tick <-chan time.Time
	if s.interval > 0 {
		s.syncAll(ctx)

		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			slog.Info("auto sync stopped")
			return
		case <-tick:
			s.syncAll(ctx)
		case req := <-s.triggerCh:
			result, err := s.runner.RunSync(ctx, req.scope, req.opts)
			req.done <- triggerResult{result: result, err: err}
		}
	}
}

// Trigger runs a sync for scope between scheduled runs and blocks until it
// completes. It returns ErrSchedulerStopped once Start has returned, and
// ctx.Err() if ctx ends first; the run itself is bound to Start's context.
func (s *AutoSyncService) Trigger(ctx context.Context, scope model.SyncScope, opts model.SyncOptions) (*model.SyncResult, error) {
	done := make(chan triggerResult, 1)
	req := triggerRequest{scope: scope, opts: opts, done: done}

	select {
	case s.triggerCh <- req:
	case <-s.stopped:
		return nil, ErrSchedulerStopped
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	select {
	case res := <-done:
		return res.result, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (s *AutoSyncService) syncAll(ctx context.Context) {
	start := time.Now()
	var failed int
	for _, org := range s.organizers {
		if ctx.Err() != nil {
			return
		}
		if _, err := s.runner.RunSync(ctx, model.SyncScope{Organizer: org}, model.SyncOptions{}); err != nil {
			slog.Error("auto sync failed", "organizer", org, "error", err)
			failed++
		}
	}
	slog.Info("auto sync cycle complete",
		"organizers", len(s.organizers),
		"errors", failed,
		"duration", time.Since(start).Round(time.Millisecond),
	)
}
