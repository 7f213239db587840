package application_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/feesync/internal/application"
	"github.com/ericfisherdev/feesync/internal/domain/model"
)

type recordingRunner struct {
	mu    sync.Mutex
	scope []string
	opts  []model.SyncOptions
	err   error
}

func (r *recordingRunner) RunSync(_ context.Context, scope model.SyncScope, opts model.SyncOptions) (*model.SyncResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.scope = append(r.scope, scope.Organizer)
	r.opts = append(r.opts, opts)
	return &model.SyncResult{Scope: scope}, r.err
}

func (r *recordingRunner) options() []model.SyncOptions {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]model.SyncOptions(nil), r.opts...)
}

func (r *recordingRunner) organizers() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.scope...)
}

func TestAutoSyncService_InitialRunCoversAllOrganizers(t *testing.T) {
	runner := &recordingRunner{}
	svc := application.NewAutoSyncService(runner, []string{"org1", "org2"}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(done)
	}()

	require.Eventually(t, func() bool { return len(runner.organizers()) == 2 }, time.Second, 5*time.Millisecond)
	cancel()
	<-done

	assert.Equal(t, []string{"org1", "org2"}, runner.organizers())
}

func TestAutoSyncService_TriggerRunsScope(t *testing.T) {
	runner := &recordingRunner{}
	svc := application.NewAutoSyncService(runner, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	result, err := svc.Trigger(ctx, model.SyncScope{Organizer: "org9", Event: "spring"}, model.SyncOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, "spring", result.Scope.Event)
	assert.Equal(t, []string{"org9"}, runner.organizers())
	assert.Equal(t, []model.SyncOptions{{Force: true}}, runner.options())
}

func TestAutoSyncService_TriggerReturnsRunError(t *testing.T) {
	runner := &recordingRunner{err: errors.New("list pending payments: boom")}
	svc := application.NewAutoSyncService(runner, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.Start(ctx)

	_, err := svc.Trigger(ctx, model.SyncScope{Organizer: "org1"}, model.SyncOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}

func TestAutoSyncService_TriggerHonorsContext(t *testing.T) {
	svc := application.NewAutoSyncService(&recordingRunner{}, nil, 0)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	// Start is not running, so the trigger can never be accepted.
	_, err := svc.Trigger(ctx, model.SyncScope{Organizer: "org1"}, model.SyncOptions{})
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAutoSyncService_TriggerAfterStopFails(t *testing.T) {
	svc := application.NewAutoSyncService(&recordingRunner{}, nil, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	svc.Start(ctx)

	_, err := svc.Trigger(context.Background(), model.SyncScope{Organizer: "org1"}, model.SyncOptions{})
	require.ErrorIs(t, err, application.ErrSchedulerStopped)
}

// blockingRunner holds every run until release is closed.
type blockingRunner struct {
	started chan struct{}
	release chan struct{}
	done    atomic.Bool
}

func (r *blockingRunner) RunSync(_ context.Context, scope model.SyncScope, _ model.SyncOptions) (*model.SyncResult, error) {
	close(r.started)
	<-r.release
	r.done.Store(true)
	return &model.SyncResult{Scope: scope}, nil
}

func TestAutoSyncService_StartWaitsForRunInProgress(t *testing.T) {
	runner := &blockingRunner{started: make(chan struct{}), release: make(chan struct{})}
	svc := application.NewAutoSyncService(runner, []string{"org1"}, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		svc.Start(ctx)
		close(stopped)
	}()

	<-runner.started
	cancel()

	select {
	case <-stopped:
		t.Fatal("Start returned while a run was in progress")
	case <-time.After(50 * time.Millisecond):
	}

	close(runner.release)
	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("Start did not return after the run finished")
	}
	assert.True(t, runner.done.Load())
}
