// Package application contains use-case orchestration services.
package application

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/feesync/internal/domain/model"
	"github.com/ericfisherdev/feesync/internal/domain/port/driven"
)

var (
	// ErrOrganizerRequired is returned when a sync scope names no organizer.
	ErrOrganizerRequired = errors.New("sync scope: organizer is required")

	// ErrInvalidPayment is returned by RecordPayment for incomplete payments.
	ErrInvalidPayment = errors.New("invalid payment")

	errPersistence = errors.New("persistence failure")
)

// Default sync tuning values.
const (
	DefaultCacheTTL       = time.Hour
	DefaultWorkers        = 4
	DefaultMaxRetries     = 3
	DefaultCallTimeout    = 30 * time.Second
	DefaultBackoffInitial = time.Second
	DefaultBackoffMax     = 30 * time.Second
)

// SyncConfig tunes the sync orchestrator. Zero durations and a zero worker
// count take the defaults above; MaxRetries is used as given.
type SyncConfig struct {
	CacheTTL       time.Duration
	Workers        int
	MaxRetries     int
	CallTimeout    time.Duration
	BackoffInitial time.Duration
	BackoffMax     time.Duration
}

func (c SyncConfig) withDefaults() SyncConfig {
	if c.CacheTTL <= 0 {
		c.CacheTTL = DefaultCacheTTL
	}
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = max(DefaultBackoffMax, c.BackoffInitial)
	}
	return c
}

// CacheClearResult reports how many entries a cache clear or sweep removed.
type CacheClearResult struct {
	FeeEntries        int64 `json:"fee_entries"`
	SettlementEntries int64 `json:"settlement_entries"`
}

// SyncService reconciles provider fees onto recorded payments. Each payment
// goes through identity resolution, a fee cache lookup, a provider fetch on a
// miss and the fallback estimator when the provider cannot give a fee.
type SyncService struct {
	registry  *ProviderRegistry
	creds     *CredentialManager
	fees      driven.FeeCache
	rates     driven.SettlementRateCache
	payments  driven.PaymentStore
	syncLog   driven.SyncLog
	estimator *Estimator
	matcher   *Matcher
	cfg       SyncConfig
	now       func() time.Time
	newID     func() string
}

// NewSyncService creates a new SyncService with all required dependencies.
func NewSyncService(
	registry *ProviderRegistry,
	creds *CredentialManager,
	fees driven.FeeCache,
	rates driven.SettlementRateCache,
	payments driven.PaymentStore,
	syncLog driven.SyncLog,
	estimator *Estimator,
	matcher *Matcher,
	cfg SyncConfig,
) *SyncService {
	return &SyncService{
		registry:  registry,
		creds:     creds,
		fees:      fees,
		rates:     rates,
		payments:  payments,
		syncLog:   syncLog,
		estimator: estimator,
		matcher:   matcher,
		cfg:       cfg.withDefaults(),
		now:       time.Now,
		newID:     uuid.NewString,
	}
}

// RunSync resolves fees for the pending payments in scope and writes them
// back. Per-payment failures become diagnostics on the result; only failing
// to enumerate payments aborts the run.
//
// Cancelling ctx stops the run: calls already in flight complete, queued
// payments are dropped and reported by a single cancelled diagnostic.
func (s *SyncService) RunSync(ctx context.Context, scope model.SyncScope, opts model.SyncOptions) (*model.SyncResult, error) {
	if strings.TrimSpace(scope.Organizer) == "" {
		return nil, ErrOrganizerRequired
	}

	result := &model.SyncResult{
		RunID:     s.newID(),
		Scope:     scope,
		DryRun:    opts.DryRun,
		State:     model.RunStatePending,
		StartedAt: s.now().UTC(),
	}

	payments, err := s.payments.ListPending(ctx, scope, opts.Force)
	if err != nil {
		return nil, fmt.Errorf("list pending payments for %s: %w", scope.Organizer, err)
	}
	if err := s.checkCredentials(ctx, scope.Organizer, payments); err != nil {
		return nil, fmt.Errorf("sync %s: %w", scope.Organizer, err)
	}

	result.State = model.RunStateRunning
	slog.Info("sync run started",
		"run_id", result.RunID,
		"organizer", scope.Organizer,
		"payments", len(payments),
		"dry_run", opts.DryRun,
		"force", opts.Force,
	)

	run := newSyncRun(s, result.RunID, opts.DryRun, len(payments))
	run.execute(ctx, payments)

	result.Items = run.resolutions()
	result.Errors = run.diagnostics
	for _, item := range result.Items {
		switch item.Outcome {
		case model.OutcomeCached:
			result.CachedHits++
		case model.OutcomeFetched:
			result.Fetched++
		case model.OutcomeEstimated:
			result.Estimated++
		case model.OutcomeSkipped:
			result.Skipped++
		}
	}
	result.Processed = len(result.Items)
	result.FinishedAt = s.now().UTC()
	result.State = model.RunStateCompleted
	if len(result.Errors) > 0 {
		result.State = model.RunStateCompletedWithErrors
	}

	if !opts.DryRun {
		if err := s.syncLog.RecordRun(context.WithoutCancel(ctx), *result); err != nil {
			slog.Error("record sync run failed", "run_id", result.RunID, "error", err)
		}
	}

	slog.Info("sync run complete",
		"run_id", result.RunID,
		"organizer", scope.Organizer,
		"state", string(result.State),
		"processed", result.Processed,
		"cached", result.CachedHits,
		"fetched", result.Fetched,
		"estimated", result.Estimated,
		"skipped", result.Skipped,
		"errors", len(result.Errors),
		"duration", result.FinishedAt.Sub(result.StartedAt).Round(time.Millisecond),
	)

	return result, nil
}

// checkCredentials reads the organizer's credential of every provider the
// payments need. A store that cannot serve them fails the run before anything
// is written, rather than every payment falling back to an estimate.
func (s *SyncService) checkCredentials(ctx context.Context, organizer string, payments []model.PaymentRecord) error {
	checked := make(map[model.Provider]bool)
	for _, p := range payments {
		provider, ok := model.ParseProvider(p.Provider)
		if !ok || checked[provider] {
			continue
		}
		if _, ok := s.registry.Get(provider); !ok {
			continue
		}
		checked[provider] = true
		if err := s.creds.Check(ctx, provider, organizer); err != nil {
			return err
		}
	}
	return nil
}

// CacheStats summarizes the fee cache.
func (s *SyncService) CacheStats(ctx context.Context) (model.CacheStats, error) {
	return s.fees.Stats(ctx, s.now())
}

// ClearCache removes fee and settlement-rate entries matching scope.
func (s *SyncService) ClearCache(ctx context.Context, scope model.CacheScope) (CacheClearResult, error) {
	var res CacheClearResult
	var err error

	res.FeeEntries, err = s.fees.Clear(ctx, scope)
	if err != nil {
		return res, fmt.Errorf("clear fee cache: %w", err)
	}
	res.SettlementEntries, err = s.rates.Clear(ctx, scope)
	if err != nil {
		return res, fmt.Errorf("clear settlement rates: %w", err)
	}

	slog.Info("cache cleared",
		"provider", string(scope.Provider),
		"account", scope.Account,
		"fee_entries", res.FeeEntries,
		"settlement_entries", res.SettlementEntries,
	)
	return res, nil
}

// SweepCache removes entries fetched more than olderThan ago. A non-positive
// olderThan sweeps everything past the cache TTL.
func (s *SyncService) SweepCache(ctx context.Context, olderThan time.Duration) (CacheClearResult, error) {
	if olderThan <= 0 {
		olderThan = s.cfg.CacheTTL
	}
	cutoff := s.now().Add(-olderThan)

	var res CacheClearResult
	var err error

	res.FeeEntries, err = s.fees.DeleteFetchedBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("sweep fee cache: %w", err)
	}
	res.SettlementEntries, err = s.rates.DeleteFetchedBefore(ctx, cutoff)
	if err != nil {
		return res, fmt.Errorf("sweep settlement rates: %w", err)
	}

	slog.Info("cache swept", "older_than", olderThan, "fee_entries", res.FeeEntries, "settlement_entries", res.SettlementEntries)
	return res, nil
}

// Diagnostics returns recent sync diagnostics for organizer, newest first.
func (s *SyncService) Diagnostics(ctx context.Context, organizer string, limit int) ([]model.SyncDiagnostic, error) {
	return s.syncLog.ListDiagnostics(ctx, organizer, limit)
}

// Runs returns recent sync run summaries for organizer, newest first.
func (s *SyncService) Runs(ctx context.Context, organizer string, limit int) ([]model.SyncResult, error) {
	return s.syncLog.ListRuns(ctx, organizer, limit)
}

// RecordPayment validates and stores a confirmed payment reported by the host.
func (s *SyncService) RecordPayment(ctx context.Context, p model.PaymentRecord) error {
	p.ID = strings.TrimSpace(p.ID)
	p.Organizer = strings.TrimSpace(p.Organizer)
	p.Currency = strings.ToUpper(strings.TrimSpace(p.Currency))

	switch {
	case p.ID == "":
		return fmt.Errorf("%w: id is required", ErrInvalidPayment)
	case p.Organizer == "":
		return fmt.Errorf("%w: organizer is required", ErrInvalidPayment)
	case len(p.Currency) != 3:
		return fmt.Errorf("%w: currency %q is not an ISO 4217 code", ErrInvalidPayment, p.Currency)
	case !p.Gross.IsPositive():
		return fmt.Errorf("%w: gross amount must be positive", ErrInvalidPayment)
	case p.PaidAt.IsZero():
		return fmt.Errorf("%w: paid_at is required", ErrInvalidPayment)
	}
	if _, ok := model.ParseProvider(p.Provider); !ok {
		return fmt.Errorf("%w: unknown provider %q", ErrInvalidPayment, p.Provider)
	}

	if err := s.payments.Upsert(ctx, p); err != nil {
		return fmt.Errorf("record payment %s: %w", p.ID, err)
	}
	return nil
}

// syncTask is one payment travelling through the worker pool.
type syncTask struct {
	index    int
	payment  model.PaymentRecord
	attempts int
}

// attempt carries what one pass over a payment learned, including on failure.
type attempt struct {
	match   Match
	entry   *model.CacheEntry
	stale   *model.CacheEntry // Expired cache entry seen before fetching.
	outcome model.Outcome
}

// syncRun holds the state of a single RunSync call.
type syncRun struct {
	svc    *SyncService
	runID  string
	dryRun bool
	gate   *accountGate

	queue     chan syncTask
	done      chan struct{}
	remaining atomic.Int64
	timers    sync.WaitGroup

	items []*model.FeeResolution

	mu          sync.Mutex
	diagnostics []model.SyncDiagnostic
	disabled    map[string]bool
}

func newSyncRun(svc *SyncService, runID string, dryRun bool, n int) *syncRun {
	return &syncRun{
		svc:      svc,
		runID:    runID,
		dryRun:   dryRun,
		gate:     newAccountGate(svc.cfg.BackoffInitial, svc.cfg.BackoffMax, svc.now),
		queue:    make(chan syncTask, n),
		done:     make(chan struct{}),
		items:    make([]*model.FeeResolution, n),
		disabled: make(map[string]bool),
	}
}

// execute drains the payments through the worker pool and returns once every
// payment is resolved or ctx is cancelled.
func (r *syncRun) execute(ctx context.Context, payments []model.PaymentRecord) {
	if len(payments) == 0 {
		return
	}

	r.remaining.Store(int64(len(payments)))
	for i, p := range payments {
		r.queue <- syncTask{index: i, payment: p}
	}

	workers := min(r.svc.cfg.Workers, len(payments))
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			r.work(ctx)
		}()
	}
	wg.Wait()
	r.timers.Wait()

	if ctx.Err() != nil {
		if dropped := r.remaining.Load(); dropped > 0 {
			r.diagnose(model.SyncDiagnostic{
				Identifier: r.runID,
				Kind:       model.KindCancelled,
				Message:    fmt.Sprintf("run cancelled: %d payments not processed", dropped),
			})
		}
	}
}

func (r *syncRun) work(ctx context.Context) {
	for {
		// Stop promptly once cancelled even when tasks are still queued.
		if ctx.Err() != nil {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-r.done:
			return
		case t := <-r.queue:
			r.process(ctx, t)
		}
	}
}

// requeue puts t back on the queue after delay. The worker slot is released
// while the delay runs.
func (r *syncRun) requeue(ctx context.Context, t syncTask, delay time.Duration) {
	r.timers.Add(1)
	go func() {
		defer r.timers.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
			r.queue <- t
		case <-ctx.Done():
		}
	}()
}

// finish records the resolution of t.
func (r *syncRun) finish(t syncTask, res model.FeeResolution) {
	r.items[t.index] = &res
	if r.remaining.Add(-1) == 0 {
		close(r.done)
	}
}

func (r *syncRun) resolutions() []model.FeeResolution {
	out := make([]model.FeeResolution, 0, len(r.items))
	for _, item := range r.items {
		if item != nil {
			out = append(out, *item)
		}
	}
	return out
}

func (r *syncRun) diagnose(d model.SyncDiagnostic) {
	d.RunID = r.runID
	d.OccurredAt = r.svc.now().UTC()

	r.mu.Lock()
	r.diagnostics = append(r.diagnostics, d)
	r.mu.Unlock()

	slog.Warn("sync diagnostic",
		"run_id", r.runID,
		"provider", string(d.Provider),
		"account", d.Account,
		"identifier", d.Identifier,
		"kind", string(d.Kind),
		"message", d.Message,
	)
}

// disable marks an account unusable for the rest of the run. It reports
// whether this call disabled it.
func (r *syncRun) disable(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.disabled[key] {
		return false
	}
	r.disabled[key] = true
	return true
}

func (r *syncRun) isDisabled(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.disabled[key]
}

func (r *syncRun) process(ctx context.Context, t syncTask) {
	p := t.payment

	provider, ok := model.ParseProvider(p.Provider)
	if !ok {
		r.finish(t, r.skipped(p, provider, Match{}))
		return
	}
	client, ok := r.svc.registry.Get(provider)
	if !ok {
		r.finish(t, r.skipped(p, provider, Match{}))
		return
	}

	key := model.AccountKey(provider, p.Organizer)
	if r.isDisabled(key) {
		r.finish(t, r.skipped(p, provider, Match{}))
		return
	}
	if wait := r.gate.Wait(key); wait > 0 {
		r.requeue(ctx, t, wait)
		return
	}

	// In-flight work completes even if the run is cancelled meanwhile.
	att, err := r.resolve(context.WithoutCancel(ctx), client, p)
	if err == nil {
		r.gate.Open(key)
		r.finish(t, r.commit(ctx, p, provider, att))
		return
	}

	var rle *model.RateLimitError
	if errors.Is(err, model.ErrRateLimited) {
		var retryAfter time.Duration
		if errors.As(err, &rle) {
			retryAfter = rle.RetryAfter
		}
		delay := r.gate.Close(key, retryAfter)
		if t.attempts < r.svc.cfg.MaxRetries {
			t.attempts++
			slog.Debug("rate limited, retrying",
				"run_id", r.runID, "account", key, "payment", p.ID,
				"attempt", t.attempts, "delay", delay.Round(time.Millisecond),
			)
			r.requeue(ctx, t, delay)
			return
		}
		r.diagnose(r.diagnostic(p, provider, att, model.KindRateLimitExceeded,
			fmt.Sprintf("gave up after %d retries: %v", r.svc.cfg.MaxRetries, err)))
		r.finish(t, r.fallback(ctx, p, provider, att))
		return
	}

	kind := diagnosticKind(err)
	switch {
	case errors.Is(err, model.ErrNotFound) && !errors.Is(err, model.ErrCredentialNotFound),
		errors.Is(err, model.ErrAmbiguousMatch):
		r.diagnose(r.diagnostic(p, provider, att, kind, err.Error()))
		r.finish(t, r.skipped(p, provider, att.match))
	case model.DisablesAccount(err), errors.Is(err, ErrCredentialStoreUnavailable):
		if r.disable(key) {
			r.diagnose(r.diagnostic(p, provider, att, kind, err.Error()))
		}
		r.finish(t, r.skipped(p, provider, att.match))
	default:
		r.diagnose(r.diagnostic(p, provider, att, kind, err.Error()))
		r.finish(t, r.fallback(ctx, p, provider, att))
	}
}

// resolve identifies the provider transaction for p and determines its fee,
// from a fresh cache entry or from the provider.
func (r *syncRun) resolve(ctx context.Context, client driven.ProviderClient, p model.PaymentRecord) (attempt, error) {
	var att attempt
	provider := client.Provider()

	match, err := r.svc.matcher.Resolve(ctx, p, func(ctx context.Context, from, to time.Time) ([]model.TransactionFact, error) {
		var facts []model.TransactionFact
		err := r.call(ctx, client, p.Organizer, func(ctx context.Context, cred model.Credential) error {
			var err error
			facts, err = client.ListTransactions(ctx, cred, from, to)
			return err
		})
		return facts, err
	})
	if err != nil {
		return att, err
	}
	att.match = match

	cached, err := r.svc.fees.Lookup(ctx, provider, match.TransactionID)
	if err != nil {
		slog.Warn("fee cache lookup failed, fetching from provider",
			"provider", string(provider), "transaction", match.TransactionID, "error", err)
	} else if cached != nil {
		if !cached.IsStale(r.svc.now(), r.svc.cfg.CacheTTL) {
			att.entry = cached
			att.outcome = model.OutcomeCached
			return att, nil
		}
		att.stale = cached
	}

	var fact model.TransactionFact
	err = r.call(ctx, client, p.Organizer, func(ctx context.Context, cred model.Credential) error {
		var err error
		fact, err = client.FetchTransaction(ctx, cred, match.TransactionID)
		return err
	})
	if err != nil {
		return att, err
	}

	entry, err := r.feeFromFact(ctx, client, p.Organizer, fact)
	if err != nil {
		return att, err
	}
	att.entry = &entry
	att.outcome = model.OutcomeFetched
	if entry.Source == model.FeeSourceEstimated {
		att.outcome = model.OutcomeEstimated
	}
	return att, nil
}

// feeFromFact turns a transaction fact into a cache entry. A fee reported on
// the transaction wins; otherwise the fee is priced from the settlement rate
// table, and failing that, estimated. Any application fee is added on top of
// an authoritative fee.
func (r *syncRun) feeFromFact(ctx context.Context, client driven.ProviderClient, account string, fact model.TransactionFact) (model.CacheEntry, error) {
	now := r.svc.now()
	currency := strings.ToUpper(fact.Currency)

	var (
		fee            decimal.Decimal
		source         = model.FeeSourceAuthoritative
		settlementDate = fact.SettledAt
	)

	switch {
	case fact.Fee != nil:
		fee = fact.Fee.Add(fact.ApplicationFee)
	case fact.SettlementID != "":
		rates, err := r.settlementRates(ctx, client, account, fact.SettlementID)
		switch {
		case errors.Is(err, model.ErrUnsupported):
			rates = nil
		case err != nil:
			return model.CacheEntry{}, err
		}
		if rates != nil {
			if settlementDate == nil {
				settlementDate = rates.SettledAt
			}
			if f, ok := rates.FeeFor(fact.FeeCategory, fact.Gross); ok {
				fee = f.Add(fact.ApplicationFee)
				break
			}
			slog.Debug("no settlement rate for category",
				"provider", string(fact.Provider), "settlement", fact.SettlementID, "category", fact.FeeCategory)
		}
		source = model.FeeSourceEstimated
	default:
		source = model.FeeSourceEstimated
	}

	if source == model.FeeSourceEstimated {
		est, err := r.svc.estimator.Estimate(client.Provider(), fact.Gross, currency)
		if err != nil {
			return model.CacheEntry{}, err
		}
		fee = est.Add(fact.ApplicationFee)
		settlementDate = nil
	}

	entry := model.NewCacheEntry(client.Provider(), fact.ID, fact.Gross, fee, currency, source, now)
	entry.Account = account
	entry.SettlementID = fact.SettlementID
	entry.SettlementDate = settlementDate
	entry.Status = fact.Status
	return entry, nil
}

// settlementRates returns the rate table of a settlement from the settlement
// cache, fetching and caching it on a miss or when stale.
func (r *syncRun) settlementRates(ctx context.Context, client driven.ProviderClient, account, settlementID string) (*model.SettlementRateEntry, error) {
	provider := client.Provider()

	cached, err := r.svc.rates.Lookup(ctx, provider, settlementID)
	if err != nil {
		slog.Warn("settlement rate lookup failed", "provider", string(provider), "settlement", settlementID, "error", err)
	} else if cached != nil && !cached.IsStale(r.svc.now(), r.svc.cfg.CacheTTL) {
		return cached, nil
	}

	var fact model.SettlementFact
	err = r.call(ctx, client, account, func(ctx context.Context, cred model.Credential) error {
		var err error
		fact, err = client.FetchSettlement(ctx, cred, settlementID)
		return err
	})
	if err != nil {
		return nil, err
	}

	entry := model.SettlementRateEntry{
		Provider:     provider,
		SettlementID: settlementID,
		Account:      account,
		SettledAt:    fact.SettledAt,
		Rates:        fact.Rates,
		FetchedAt:    r.svc.now().UTC(),
	}
	if !r.dryRun {
		if _, err := r.svc.rates.Store(ctx, entry); err != nil {
			slog.Warn("store settlement rates failed", "provider", string(provider), "settlement", settlementID, "error", err)
		}
	}
	return &entry, nil
}

// call runs fn through the credential manager with the per-call timeout.
func (r *syncRun) call(ctx context.Context, client driven.ProviderClient, account string, fn func(context.Context, model.Credential) error) error {
	return r.svc.creds.Call(ctx, client, account, func(ctx context.Context, cred model.Credential) error {
		callCtx, cancel := context.WithTimeout(ctx, r.svc.cfg.CallTimeout)
		defer cancel()
		return fn(callCtx, cred)
	})
}

// commit stores a resolved entry and writes the fee back onto the payment.
func (r *syncRun) commit(ctx context.Context, p model.PaymentRecord, provider model.Provider, att attempt) model.FeeResolution {
	entry := *att.entry
	ctx = context.WithoutCancel(ctx)

	if att.outcome != model.OutcomeCached && !r.dryRun {
		stored, err := r.svc.fees.Store(ctx, entry)
		switch {
		case err != nil:
			r.diagnose(r.diagnostic(p, provider, att, model.KindPersistence,
				fmt.Errorf("%w: store fee cache entry: %w", errPersistence, err).Error()))
		case !stored:
			// A concurrent writer stored a newer fact; converge on it.
			newer, err := r.svc.fees.Lookup(ctx, provider, entry.TransactionID)
			if err == nil && newer != nil {
				entry = *newer
			}
		}
	}

	res := r.resolution(p, provider, att.match, entry, att.outcome)
	if r.dryRun {
		return res
	}

	if err := r.apply(ctx, p, res); err != nil {
		r.diagnose(r.diagnostic(p, provider, att, model.KindPersistence, err.Error()))
		return r.skipped(p, provider, att.match)
	}
	return res
}

// fallback estimates the fee for p when the provider could not supply one.
// The estimate is cached when the transaction identity is known. An expired
// authoritative cache entry is still better than an estimate and is used
// as is, without rewriting the cache.
func (r *syncRun) fallback(ctx context.Context, p model.PaymentRecord, provider model.Provider, att attempt) model.FeeResolution {
	if att.stale != nil && att.stale.Source == model.FeeSourceAuthoritative {
		return r.commit(ctx, p, provider, attempt{match: att.match, entry: att.stale, outcome: model.OutcomeCached})
	}

	currency := strings.ToUpper(p.Currency)
	fee, err := r.svc.estimator.Estimate(provider, p.Gross, currency)
	if err != nil {
		r.diagnose(r.diagnostic(p, provider, att, diagnosticKind(err), err.Error()))
		return r.skipped(p, provider, att.match)
	}

	entry := model.NewCacheEntry(provider, att.match.TransactionID, p.Gross, fee, currency, model.FeeSourceEstimated, r.svc.now())
	entry.Account = p.Organizer

	est := attempt{match: att.match, entry: &entry, outcome: model.OutcomeEstimated}
	if att.match.TransactionID == "" {
		// Nothing to key a cache entry on; only write the payment.
		res := r.resolution(p, provider, att.match, entry, model.OutcomeEstimated)
		if r.dryRun {
			return res
		}
		if err := r.apply(context.WithoutCancel(ctx), p, res); err != nil {
			r.diagnose(r.diagnostic(p, provider, att, model.KindPersistence, err.Error()))
			return r.skipped(p, provider, att.match)
		}
		return res
	}
	return r.commit(ctx, p, provider, est)
}

func (r *syncRun) apply(ctx context.Context, p model.PaymentRecord, res model.FeeResolution) error {
	err := r.svc.payments.ApplyFee(ctx, model.FeeUpdate{
		PaymentID:      p.ID,
		ProviderTxID:   res.TransactionID,
		Fee:            res.Fee,
		Net:            res.Net,
		SettlementDate: res.SettlementDate,
		Source:         res.Source,
		SyncedAt:       r.svc.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("%w: apply fee to payment %s: %w", errPersistence, p.ID, err)
	}
	return nil
}

// resolution builds the per-payment result. Net is derived from the payment's
// own gross amount so that Net == Gross - Fee holds on what is written back.
func (r *syncRun) resolution(p model.PaymentRecord, provider model.Provider, match Match, entry model.CacheEntry, outcome model.Outcome) model.FeeResolution {
	currency := strings.ToUpper(p.Currency)
	gross := model.RoundMinor(p.Gross, currency)
	fee := model.RoundMinor(entry.Fee, currency)
	return model.FeeResolution{
		PaymentID:      p.ID,
		Provider:       provider,
		TransactionID:  match.TransactionID,
		MatchTier:      match.Tier,
		Gross:          gross,
		Fee:            fee,
		Net:            gross.Sub(fee),
		Currency:       currency,
		SettlementDate: entry.SettlementDate,
		Source:         entry.Source,
		Outcome:        outcome,
	}
}

func (r *syncRun) skipped(p model.PaymentRecord, provider model.Provider, match Match) model.FeeResolution {
	return model.FeeResolution{
		PaymentID:     p.ID,
		Provider:      provider,
		TransactionID: match.TransactionID,
		MatchTier:     match.Tier,
		Gross:         p.Gross,
		Currency:      strings.ToUpper(p.Currency),
		Outcome:       model.OutcomeSkipped,
	}
}

func (r *syncRun) diagnostic(p model.PaymentRecord, provider model.Provider, att attempt, kind model.DiagnosticKind, msg string) model.SyncDiagnostic {
	id := p.ID
	if att.match.TransactionID != "" {
		id = att.match.TransactionID
	}
	return model.SyncDiagnostic{
		Provider:   provider,
		Account:    p.Organizer,
		Identifier: id,
		Kind:       kind,
		Message:    msg,
	}
}

func diagnosticKind(err error) model.DiagnosticKind {
	if errors.Is(err, errPersistence) {
		return model.KindPersistence
	}
	if errors.Is(err, ErrCredentialStoreUnavailable) {
		return model.KindCredentialStore
	}
	return model.KindOf(err)
}
