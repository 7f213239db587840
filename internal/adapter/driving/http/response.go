package httphandler

import (
	"encoding/json"
	"net/http"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// SyncRequest is the JSON body for the run sync endpoint. Days, when set,
// overrides From with now minus that many days.
type SyncRequest struct {
	Organizer string     `json:"organizer"`
	Event     string     `json:"event,omitempty"`
	From      *time.Time `json:"from,omitempty"`
	To        *time.Time `json:"to,omitempty"`
	Days      int        `json:"days,omitempty"`
	Limit     int        `json:"limit,omitempty"`
	DryRun    bool       `json:"dry_run"`
	Force     bool       `json:"force"`
}

// SyncResultResponse is the JSON representation of a sync run.
type SyncResultResponse struct {
	RunID         string               `json:"run_id"`
	Organizer     string               `json:"organizer"`
	Event         string               `json:"event,omitempty"`
	DryRun        bool                 `json:"dry_run"`
	State         string               `json:"state"`
	StartedAt     string               `json:"started_at"`
	FinishedAt    string               `json:"finished_at"`
	Processed     int                  `json:"processed"`
	CachedHits    int                  `json:"cached_hits"`
	Fetched       int                  `json:"fetched"`
	Estimated     int                  `json:"estimated"`
	Skipped       int                  `json:"skipped"`
	Authoritative int                  `json:"authoritative"`
	TotalFees     map[string]string    `json:"total_fees"`
	Errors        []DiagnosticResponse `json:"errors"`
	Items         []ResolutionResponse `json:"items"`
}

// ResolutionResponse is the JSON representation of one payment's fee result.
type ResolutionResponse struct {
	PaymentID      string `json:"payment_id"`
	Provider       string `json:"provider"`
	TransactionID  string `json:"transaction_id,omitempty"`
	MatchTier      string `json:"match_tier,omitempty"`
	Gross          string `json:"gross"`
	Fee            string `json:"fee"`
	Net            string `json:"net"`
	Currency       string `json:"currency"`
	SettlementDate string `json:"settlement_date,omitempty"`
	Source         string `json:"source,omitempty"`
	Outcome        string `json:"outcome"`
}

// DiagnosticResponse is the JSON representation of a sync diagnostic.
type DiagnosticResponse struct {
	RunID      string `json:"run_id"`
	OccurredAt string `json:"occurred_at"`
	Provider   string `json:"provider,omitempty"`
	Account    string `json:"account,omitempty"`
	Identifier string `json:"identifier"`
	Kind       string `json:"kind"`
	Message    string `json:"message"`
}

// CacheStatsResponse is the JSON representation of fee cache statistics.
type CacheStatsResponse struct {
	Count            int                              `json:"count"`
	OldestAgeSeconds int64                            `json:"oldest_age_seconds"`
	NewestAgeSeconds int64                            `json:"newest_age_seconds"`
	ByProvider       map[string]ProviderStatsResponse `json:"by_provider"`
}

// ProviderStatsResponse holds the cache counters of one provider.
type ProviderStatsResponse struct {
	Count     int    `json:"count"`
	Estimated int    `json:"estimated"`
	Oldest    string `json:"oldest,omitempty"`
	Newest    string `json:"newest,omitempty"`
}

// PaymentRequest is the JSON body for the record payment endpoint.
type PaymentRequest struct {
	ID           string          `json:"id"`
	Organizer    string          `json:"organizer"`
	Event        string          `json:"event"`
	Provider     string          `json:"provider"`
	Gross        decimal.Decimal `json:"gross"`
	Currency     string          `json:"currency"`
	PaidAt       time.Time       `json:"paid_at"`
	ProviderTxID string          `json:"provider_tx_id"`
}

// PaymentResponse is the JSON representation of a recorded payment.
type PaymentResponse struct {
	ID             string `json:"id"`
	Organizer      string `json:"organizer"`
	Event          string `json:"event,omitempty"`
	Provider       string `json:"provider"`
	Gross          string `json:"gross"`
	Currency       string `json:"currency"`
	PaidAt         string `json:"paid_at"`
	ProviderTxID   string `json:"provider_tx_id,omitempty"`
	Fee            string `json:"fee,omitempty"`
	Net            string `json:"net,omitempty"`
	SettlementDate string `json:"settlement_date,omitempty"`
	FeeSource      string `json:"fee_source,omitempty"`
	FeeSyncedAt    string `json:"fee_synced_at,omitempty"`
}

// HealthResponse is the JSON representation of the health check endpoint.
type HealthResponse struct {
	Status    string   `json:"status"`
	Time      string   `json:"time"`
	Providers []string `json:"providers"`
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}

func formatAmount(d decimal.Decimal, currency string) string {
	return d.StringFixed(model.MinorUnits(currency))
}

func toSyncResultResponse(r *model.SyncResult) SyncResultResponse {
	totals := make(map[string]string)
	for currency, total := range r.TotalFees() {
		totals[currency] = formatAmount(total, currency)
	}

	items := make([]ResolutionResponse, 0, len(r.Items))
	for _, item := range r.Items {
		items = append(items, toResolutionResponse(item))
	}

	return SyncResultResponse{
		RunID:         r.RunID,
		Organizer:     r.Scope.Organizer,
		Event:         r.Scope.Event,
		DryRun:        r.DryRun,
		State:         string(r.State),
		StartedAt:     formatTime(r.StartedAt),
		FinishedAt:    formatTime(r.FinishedAt),
		Processed:     r.Processed,
		CachedHits:    r.CachedHits,
		Fetched:       r.Fetched,
		Estimated:     r.Estimated,
		Skipped:       r.Skipped,
		Authoritative: r.Authoritative(),
		TotalFees:     totals,
		Errors:        toDiagnosticResponses(r.Errors),
		Items:         items,
	}
}

func toResolutionResponse(item model.FeeResolution) ResolutionResponse {
	resp := ResolutionResponse{
		PaymentID:      item.PaymentID,
		Provider:       string(item.Provider),
		TransactionID:  item.TransactionID,
		MatchTier:      string(item.MatchTier),
		Gross:          formatAmount(item.Gross, item.Currency),
		Currency:       item.Currency,
		SettlementDate: formatTimePtr(item.SettlementDate),
		Source:         string(item.Source),
		Outcome:        string(item.Outcome),
	}
	if item.Outcome != model.OutcomeSkipped {
		resp.Fee = formatAmount(item.Fee, item.Currency)
		resp.Net = formatAmount(item.Net, item.Currency)
	}
	return resp
}

func toDiagnosticResponses(diags []model.SyncDiagnostic) []DiagnosticResponse {
	resp := make([]DiagnosticResponse, 0, len(diags))
	for _, d := range diags {
		resp = append(resp, DiagnosticResponse{
			RunID:      d.RunID,
			OccurredAt: formatTime(d.OccurredAt),
			Provider:   string(d.Provider),
			Account:    d.Account,
			Identifier: d.Identifier,
			Kind:       string(d.Kind),
			Message:    d.Message,
		})
	}
	return resp
}

func toCacheStatsResponse(s model.CacheStats) CacheStatsResponse {
	byProvider := make(map[string]ProviderStatsResponse, len(s.ByProvider))
	for p, ps := range s.ByProvider {
		byProvider[string(p)] = ProviderStatsResponse{
			Count:     ps.Count,
			Estimated: ps.Estimated,
			Oldest:    formatTime(ps.Oldest),
			Newest:    formatTime(ps.Newest),
		}
	}
	return CacheStatsResponse{
		Count:            s.Count,
		OldestAgeSeconds: int64(s.OldestAge / time.Second),
		NewestAgeSeconds: int64(s.NewestAge / time.Second),
		ByProvider:       byProvider,
	}
}

func toPaymentResponse(p model.PaymentRecord) PaymentResponse {
	resp := PaymentResponse{
		ID:             p.ID,
		Organizer:      p.Organizer,
		Event:          p.Event,
		Provider:       p.Provider,
		Gross:          formatAmount(p.Gross, p.Currency),
		Currency:       p.Currency,
		PaidAt:         formatTime(p.PaidAt),
		ProviderTxID:   p.ProviderTxID,
		SettlementDate: formatTimePtr(p.SettlementDate),
		FeeSource:      string(p.FeeSource),
		FeeSyncedAt:    formatTimePtr(p.FeeSyncedAt),
	}
	if p.Fee != nil {
		resp.Fee = formatAmount(*p.Fee, p.Currency)
	}
	if p.Net != nil {
		resp.Net = formatAmount(*p.Net, p.Currency)
	}
	return resp
}

func toRunResponses(runs []model.SyncResult) []SyncResultResponse {
	resp := make([]SyncResultResponse, 0, len(runs))
	for i := range runs {
		resp = append(resp, toSyncResultResponse(&runs[i]))
	}
	return resp
}

func providerNames(providers []model.Provider) []string {
	names := make([]string, 0, len(providers))
	for _, p := range providers {
		names = append(names, string(p))
	}
	sort.Strings(names)
	return names
}
