package httphandler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/ericfisherdev/feesync/internal/application"
	"github.com/ericfisherdev/feesync/internal/domain/model"
	"github.com/ericfisherdev/feesync/internal/domain/port/driven"
)

const (
	maxBodyBytes      = 1 << 20
	defaultListLimit  = 100
	maxListLimit      = 1000
	defaultSweepAfter = 24 * time.Hour
)

// SyncTrigger queues a sync behind the scheduler so writing runs never
// overlap. *application.AutoSyncService implements it.
type SyncTrigger interface {
	Trigger(ctx context.Context, scope model.SyncScope, opts model.SyncOptions) (*model.SyncResult, error)
}

// Handler is the HTTP driving adapter that serves the REST API.
type Handler struct {
	syncSvc  *application.SyncService
	trigger  SyncTrigger
	payments driven.PaymentStore
	registry *application.ProviderRegistry
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a Handler with all required dependencies. A nil
// trigger makes every sync run directly on the request goroutine.
func NewHandler(
	syncSvc *application.SyncService,
	trigger SyncTrigger,
	payments driven.PaymentStore,
	registry *application.ProviderRegistry,
	logger *slog.Logger,
) *Handler {
	return &Handler{
		syncSvc:  syncSvc,
		trigger:  trigger,
		payments: payments,
		registry: registry,
		logger:   logger,
		now:      time.Now,
	}
}

// NewServeMux creates an http.Handler with all routes registered and wrapped
// with logging and recovery middleware.
func NewServeMux(h *Handler, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/sync", h.RunSync)
	mux.HandleFunc("GET /api/v1/sync/runs", h.ListRuns)
	mux.HandleFunc("GET /api/v1/diagnostics", h.ListDiagnostics)
	mux.HandleFunc("GET /api/v1/cache/stats", h.CacheStats)
	mux.HandleFunc("DELETE /api/v1/cache", h.ClearCache)
	mux.HandleFunc("POST /api/v1/cache/sweep", h.SweepCache)
	mux.HandleFunc("POST /api/v1/payments", h.RecordPayment)
	mux.HandleFunc("GET /api/v1/payments/{id}", h.GetPayment)
	mux.HandleFunc("GET /api/v1/health", h.Health)

	// Recovery innermost so panics are caught before logging.
	wrapped := recoveryMiddleware(logger, mux)
	wrapped = loggingMiddleware(logger, wrapped)
	wrapped = requestIDMiddleware(wrapped)

	return wrapped
}

// RunSync runs a fee sync for one organizer and returns the run summary.
func (h *Handler) RunSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Days < 0 || req.Limit < 0 {
		writeError(w, http.StatusBadRequest, "days and limit must not be negative")
		return
	}

	scope := model.SyncScope{
		Organizer: req.Organizer,
		Event:     req.Event,
		From:      req.From,
		To:        req.To,
		Limit:     req.Limit,
	}
	if req.Days > 0 {
		from := h.now().UTC().AddDate(0, 0, -req.Days)
		scope.From = &from
	}

	opts := model.SyncOptions{DryRun: req.DryRun, Force: req.Force}

	// Dry runs write nothing, so they skip the scheduler queue.
	var result *model.SyncResult
	var err error
	if h.trigger != nil && !opts.DryRun {
		result, err = h.trigger.Trigger(r.Context(), scope, opts)
	} else {
		result, err = h.syncSvc.RunSync(r.Context(), scope, opts)
	}
	if err != nil {
		switch {
		case errors.Is(err, application.ErrOrganizerRequired):
			writeError(w, http.StatusBadRequest, "organizer is required")
			return
		case errors.Is(err, application.ErrSchedulerStopped):
			writeError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		case errors.Is(err, application.ErrCredentialStoreUnavailable):
			h.logger.Error("sync run aborted", "organizer", req.Organizer, "error", err)
			writeError(w, http.StatusServiceUnavailable, "credential store unavailable")
			return
		}
		h.logger.Error("sync run failed", "organizer", req.Organizer, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toSyncResultResponse(result))
}

// ListRuns returns recent sync run summaries.
func (h *Handler) ListRuns(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	runs, err := h.syncSvc.Runs(r.Context(), r.URL.Query().Get("organizer"), limit)
	if err != nil {
		h.logger.Error("failed to list sync runs", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toRunResponses(runs))
}

// ListDiagnostics returns recent sync diagnostics, newest first.
func (h *Handler) ListDiagnostics(w http.ResponseWriter, r *http.Request) {
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}

	diags, err := h.syncSvc.Diagnostics(r.Context(), r.URL.Query().Get("organizer"), limit)
	if err != nil {
		h.logger.Error("failed to list diagnostics", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toDiagnosticResponses(diags))
}

// CacheStats returns fee cache statistics.
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.syncSvc.CacheStats(r.Context())
	if err != nil {
		h.logger.Error("failed to read cache stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, toCacheStatsResponse(stats))
}

// ClearCache deletes cached fees and settlement rates, optionally narrowed by
// the provider and account query parameters.
func (h *Handler) ClearCache(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var scope model.CacheScope
	if v := q.Get("provider"); v != "" {
		p, ok := model.ParseProvider(v)
		if !ok {
			writeError(w, http.StatusBadRequest, "unknown provider")
			return
		}
		scope.Provider = p
	}
	scope.Account = q.Get("account")

	res, err := h.syncSvc.ClearCache(r.Context(), scope)
	if err != nil {
		h.logger.Error("failed to clear cache", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// SweepCache removes entries older than the older_than query parameter
// (a Go duration, default 24h).
func (h *Handler) SweepCache(w http.ResponseWriter, r *http.Request) {
	olderThan := defaultSweepAfter
	if v := r.URL.Query().Get("older_than"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d <= 0 {
			writeError(w, http.StatusBadRequest, "invalid older_than duration")
			return
		}
		olderThan = d
	}

	res, err := h.syncSvc.SweepCache(r.Context(), olderThan)
	if err != nil {
		h.logger.Error("failed to sweep cache", "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusOK, res)
}

// RecordPayment records a confirmed payment reported by the host application.
func (h *Handler) RecordPayment(w http.ResponseWriter, r *http.Request) {
	var req PaymentRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	p := model.PaymentRecord{
		ID:           req.ID,
		Organizer:    req.Organizer,
		Event:        req.Event,
		Provider:     req.Provider,
		Gross:        req.Gross,
		Currency:     req.Currency,
		PaidAt:       req.PaidAt.UTC(),
		ProviderTxID: req.ProviderTxID,
	}

	if err := h.syncSvc.RecordPayment(r.Context(), p); err != nil {
		if errors.Is(err, application.ErrInvalidPayment) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.Error("failed to record payment", "payment", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	stored, err := h.payments.GetByID(r.Context(), req.ID)
	if err != nil || stored == nil {
		h.logger.Error("failed to read back payment", "payment", req.ID, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	writeJSON(w, http.StatusCreated, toPaymentResponse(*stored))
}

// GetPayment returns a payment with its synced fee data.
func (h *Handler) GetPayment(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	p, err := h.payments.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Error("failed to get payment", "payment", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	if p == nil {
		writeError(w, http.StatusNotFound, "payment not found")
		return
	}

	writeJSON(w, http.StatusOK, toPaymentResponse(*p))
}

// Health returns a simple health check response.
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "ok",
		Time:      formatTime(h.now()),
		Providers: providerNames(h.registry.Providers()),
	})
}

// parseLimit reads the limit query parameter. It writes a 400 response and
// returns false when the value is invalid.
func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	v := r.URL.Query().Get("limit")
	if v == "" {
		return defaultListLimit, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > maxListLimit {
		writeError(w, http.StatusBadRequest, "invalid limit")
		return 0, false
	}
	return n, true
}
