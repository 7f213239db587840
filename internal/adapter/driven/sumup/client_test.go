package sumup_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/feesync/internal/adapter/driven/pspclient"
	"github.com/ericfisherdev/feesync/internal/adapter/driven/sumup"
	"github.com/ericfisherdev/feesync/internal/domain/model"
)

func newTestClient(t *testing.T, handler http.Handler) *sumup.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	return sumup.NewClient(sumup.Config{
		BaseURL: server.URL + "/v0.1",
		OAuth:   pspclient.OAuthConfig{ClientID: "cc_id", ClientSecret: "cc_secret", TokenURL: server.URL + "/token"},
	}, pspclient.NewTransports(server.Client().Transport, 5*time.Second))
}

func cred() model.Credential {
	return model.Credential{Provider: model.ProviderSumUp, Account: "org-1", Mode: model.AuthModeAPIKey, KeyMaterial: "sup_sk_live"}
}

const paidOutTransaction = `{
	"id": "4e425463-3e1b-431d-83fa-1e51c2925e99",
	"transaction_code": "TEENSK4W2K",
	"amount": 50.00,
	"currency": "EUR",
	"timestamp": "2026-01-15T12:00:00.000Z",
	"status": "SUCCESSFUL",
	"simple_status": "PAID_OUT",
	"payment_type": "ECOM",
	"events": [
		{"id": 1001, "type": "CHARGE_BACK", "status": "PENDING", "amount": 0, "fee_amount": null},
		{"id": 1002, "type": "PAYOUT", "status": "PAID_OUT", "amount": 48.50, "fee_amount": 1.50,
		 "timestamp": "2026-01-17T03:00:00.000Z", "payout_id": 887766, "payout_reference": "SUMUP PID887766"}
	]
}`

func TestFetchTransaction_ByCode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v0.1/me/transactions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "TEENSK4W2K", r.URL.Query().Get("transaction_code"))
		assert.Empty(t, r.URL.Query().Get("id"))
		assert.Equal(t, "Bearer sup_sk_live", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(paidOutTransaction))
	})
	client := newTestClient(t, mux)

	fact, err := client.FetchTransaction(context.Background(), cred(), "TEENSK4W2K")
	require.NoError(t, err)

	assert.Equal(t, "TEENSK4W2K", fact.ID)
	assert.Equal(t, "50.00", fact.Gross.StringFixed(2))
	assert.Equal(t, "EUR", fact.Currency)
	require.NotNil(t, fact.Fee)
	assert.Equal(t, "1.50", fact.Fee.StringFixed(2))
	assert.Equal(t, "887766", fact.SettlementID)
	require.NotNil(t, fact.SettledAt)
	assert.Equal(t, time.Date(2026, 1, 17, 3, 0, 0, 0, time.UTC), *fact.SettledAt)
	assert.Equal(t, time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), fact.CreatedAt)
}

func TestFetchTransaction_ByUUID(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v0.1/me/transactions", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "4e425463-3e1b-431d-83fa-1e51c2925e99", r.URL.Query().Get("id"))
		assert.Empty(t, r.URL.Query().Get("transaction_code"))
		_, _ = w.Write([]byte(paidOutTransaction))
	})
	client := newTestClient(t, mux)

	_, err := client.FetchTransaction(context.Background(), cred(), "4e425463-3e1b-431d-83fa-1e51c2925e99")
	require.NoError(t, err)
}

func TestFetchTransaction_NotYetPaidOut(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v0.1/me/transactions", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"transaction_code":"TPENDING","amount":20.0,"currency":"EUR","status":"SUCCESSFUL","events":[]}`))
	})
	client := newTestClient(t, mux)

	fact, err := client.FetchTransaction(context.Background(), cred(), "TPENDING")
	require.NoError(t, err)
	assert.Nil(t, fact.Fee)
	assert.Empty(t, fact.SettlementID)
	assert.Nil(t, fact.SettledAt)
}

func TestFetchTransaction_EmptyBodyIsNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v0.1/me/transactions", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{}`))
	})
	client := newTestClient(t, mux)

	_, err := client.FetchTransaction(context.Background(), cred(), "TNOPE")
	assert.ErrorIs(t, err, model.ErrNotFound)
}

func TestFetchTransaction_RateLimited(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v0.1/me/transactions", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Retry-After", "2")
		w.WriteHeader(http.StatusTooManyRequests)
	})
	client := newTestClient(t, mux)

	_, err := client.FetchTransaction(context.Background(), cred(), "TX")
	assert.ErrorIs(t, err, model.ErrRateLimited)
}

func TestFetchSettlement_Unsupported(t *testing.T) {
	client := newTestClient(t, http.NewServeMux())

	_, err := client.FetchSettlement(context.Background(), cred(), "887766")
	assert.ErrorIs(t, err, model.ErrUnsupported)
}

func TestListTransactions_FollowsNextLink(t *testing.T) {
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v0.1/me/transactions/history", func(w http.ResponseWriter, r *http.Request) {
		calls++
		if r.URL.Query().Get("oldest_ref") == "" {
			assert.Equal(t, "2026-01-13T00:00:00Z", r.URL.Query().Get("oldest_time"))
			assert.Equal(t, "2026-01-17T00:00:00Z", r.URL.Query().Get("newest_time"))
			_, _ = w.Write([]byte(`{
				"items": [{"transaction_code": "TA", "amount": 50.0, "currency": "EUR", "timestamp": "2026-01-15T12:05:00Z"}],
				"links": [{"rel": "next", "href": "limit=100&oldest_ref=TA"}]
			}`))
			return
		}
		_, _ = w.Write([]byte(`{
			"items": [{"transaction_code": "TB", "amount": 50.0, "currency": "EUR", "timestamp": "2026-01-14T08:00:00Z"}],
			"links": []
		}`))
	})
	client := newTestClient(t, mux)

	from := time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 17, 0, 0, 0, 0, time.UTC)
	facts, err := client.ListTransactions(context.Background(), cred(), from, to)
	require.NoError(t, err)

	require.Len(t, facts, 2)
	assert.Equal(t, "TA", facts[0].ID)
	assert.Equal(t, "TB", facts[1].ID)
	assert.Nil(t, facts[0].Fee)
	assert.Equal(t, 2, calls)
}

func TestRefreshCredential_Denied(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /token", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})
	client := newTestClient(t, mux)

	c := model.Credential{Provider: model.ProviderSumUp, Account: "org-1", Mode: model.AuthModeOAuth, KeyMaterial: "a", RefreshToken: "r"}
	_, err := client.RefreshCredential(context.Background(), c)
	assert.ErrorIs(t, err, model.ErrRefreshDenied)
}
