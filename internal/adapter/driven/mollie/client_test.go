package mollie_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/feesync/internal/adapter/driven/mollie"
	"github.com/ericfisherdev/feesync/internal/adapter/driven/pspclient"
	"github.com/ericfisherdev/feesync/internal/domain/model"
)

// newTestClient creates a Client backed by the given httptest handler.
func newTestClient(t *testing.T, handler http.Handler) *mollie.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	transports := pspclient.NewTransports(server.Client().Transport, 5*time.Second)
	return mollie.NewClient(mollie.Config{
		BaseURL: server.URL + "/v2",
		OAuth: pspclient.OAuthConfig{
			ClientID:     "app_123",
			ClientSecret: "secret",
			TokenURL:     server.URL + "/oauth2/tokens",
		},
	}, transports)
}

func apiKeyCred() model.Credential {
	return model.Credential{Provider: model.ProviderMollie, Account: "org-1", Mode: model.AuthModeAPIKey, KeyMaterial: "live_key"}
}

const cardPayment = `{
	"resource": "payment",
	"id": "tr_WDqYK6vllg",
	"mode": "live",
	"createdAt": "2026-01-15T12:00:00+00:00",
	"status": "paid",
	"method": "creditcard",
	"amount": {"value": "100.00", "currency": "EUR"},
	"settlementId": "stl_jDk30akdN",
	"applicationFee": {"amount": {"value": "0.50", "currency": "EUR"}, "description": "Platform"},
	"details": {"feeRegion": "carte-bancaire", "cardLabel": "Carte Bancaire"}
}`

func TestFetchTransaction_CardPayment(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/payments/tr_WDqYK6vllg", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer live_key", r.Header.Get("Authorization"))
		assert.Empty(t, r.URL.Query().Get("testmode"))
		w.Header().Set("Content-Type", "application/hal+json")
		_, _ = w.Write([]byte(cardPayment))
	})
	client := newTestClient(t, mux)

	fact, err := client.FetchTransaction(context.Background(), apiKeyCred(), "tr_WDqYK6vllg")
	require.NoError(t, err)

	assert.Equal(t, model.ProviderMollie, fact.Provider)
	assert.Equal(t, "100.00", fact.Gross.StringFixed(2))
	assert.Equal(t, "EUR", fact.Currency)
	assert.Nil(t, fact.Fee, "mollie payments carry no per-payment fee")
	assert.Equal(t, "0.50", fact.ApplicationFee.StringFixed(2))
	assert.Equal(t, "stl_jDk30akdN", fact.SettlementID)
	assert.Equal(t, "Credit card - Carte Bancaire", fact.FeeCategory)
	assert.Equal(t, "paid", fact.Status)
	assert.Equal(t, time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC), fact.CreatedAt)
}

func TestFetchTransaction_OAuthTestMode(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/payments/tr_test", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "true", r.URL.Query().Get("testmode"))
		_, _ = w.Write([]byte(`{"id":"tr_test","method":"ideal","amount":{"value":"10.00","currency":"EUR"}}`))
	})
	client := newTestClient(t, mux)

	cred := model.Credential{Provider: model.ProviderMollie, Account: "org-1", Mode: model.AuthModeOAuth, KeyMaterial: "access_x", TestMode: true}
	fact, err := client.FetchTransaction(context.Background(), cred, "tr_test")
	require.NoError(t, err)
	assert.Equal(t, "iDEAL", fact.FeeCategory)
	assert.Empty(t, fact.SettlementID)
}

func TestFetchTransaction_NotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/payments/tr_missing", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/hal+json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":404,"title":"Not Found","detail":"No payment exists with token tr_missing."}`))
	})
	client := newTestClient(t, mux)

	_, err := client.FetchTransaction(context.Background(), apiKeyCred(), "tr_missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.Contains(t, err.Error(), "No payment exists")
}

func TestFetchTransaction_Unauthorized(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/payments/tr_1", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	})
	client := newTestClient(t, mux)

	_, err := client.FetchTransaction(context.Background(), apiKeyCred(), "tr_1")
	assert.ErrorIs(t, err, model.ErrAuthExpired)
}

func TestFetchSettlement_FlattensRates(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/settlements/stl_jDk30akdN", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{
			"id": "stl_jDk30akdN",
			"settledAt": "2026-01-31T06:00:00+00:00",
			"periods": {
				"2026": {
					"1": {
						"costs": [
							{"description": "Credit card - Carte Bancaire", "rate": {"fixed": {"value": "0.25", "currency": "EUR"}, "percentage": "1.2"}},
							{"description": "iDEAL", "rate": {"fixed": {"value": "0.29", "currency": "EUR"}}},
							{"description": "Rounding differences", "rate": {"fixed": {"value": "0.01", "currency": "EUR"}}},
							{"description": "Refund costs"}
						]
					}
				},
				"2025": {
					"12": {
						"costs": [
							{"description": "Credit card - Carte Bancaire", "rate": {"fixed": {"value": "0.30", "currency": "EUR"}, "percentage": "1.5"}}
						]
					}
				}
			}
		}`))
	})
	client := newTestClient(t, mux)

	fact, err := client.FetchSettlement(context.Background(), apiKeyCred(), "stl_jDk30akdN")
	require.NoError(t, err)

	require.NotNil(t, fact.SettledAt)
	assert.Equal(t, time.Date(2026, 1, 31, 6, 0, 0, 0, time.UTC), *fact.SettledAt)
	require.Len(t, fact.Rates, 2)
	assert.NotContains(t, fact.Rates, "Rounding differences")

	cb := fact.Rates["Credit card - Carte Bancaire"]
	assert.Equal(t, "0.25", cb.Fixed.StringFixed(2), "latest period wins")
	assert.Equal(t, "1.2", cb.Percentage.String())
	assert.True(t, fact.Rates["iDEAL"].Percentage.IsZero())
}

func TestListTransactions_PagesUntilWindowStart(t *testing.T) {
	var page2Calls atomic.Int32
	var serverURL string

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v2/payments", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("from") == "" {
			assert.Equal(t, "250", r.URL.Query().Get("limit"))
			fmt.Fprintf(w, `{
				"count": 2,
				"_embedded": {"payments": [
					{"id": "tr_future", "createdAt": "2026-01-20T10:00:00+00:00", "amount": {"value": "5.00", "currency": "EUR"}},
					{"id": "tr_in1", "createdAt": "2026-01-15T13:00:00+00:00", "amount": {"value": "100.00", "currency": "EUR"}}
				]},
				"_links": {"next": {"href": "%s/v2/payments?from=tr_in2&limit=250"}}
			}`, serverURL)
			return
		}
		page2Calls.Add(1)
		_, _ = w.Write([]byte(`{
			"count": 2,
			"_embedded": {"payments": [
				{"id": "tr_in2", "createdAt": "2026-01-14T09:00:00+00:00", "amount": {"value": "100.00", "currency": "EUR"}},
				{"id": "tr_old", "createdAt": "2026-01-01T09:00:00+00:00", "amount": {"value": "100.00", "currency": "EUR"}}
			]},
			"_links": {"next": {"href": "http://unreachable.invalid/v2/payments?from=tr_older"}}
		}`))
	})

	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	serverURL = server.URL

	client := mollie.NewClient(mollie.Config{BaseURL: server.URL + "/v2"},
		pspclient.NewTransports(server.Client().Transport, 5*time.Second))

	from := time.Date(2026, 1, 13, 0, 0, 0, 0, time.UTC)
	to := time.Date(2026, 1, 17, 0, 0, 0, 0, time.UTC)
	facts, err := client.ListTransactions(context.Background(), apiKeyCred(), from, to)
	require.NoError(t, err)

	require.Len(t, facts, 2)
	assert.Equal(t, "tr_in1", facts[0].ID)
	assert.Equal(t, "tr_in2", facts[1].ID)
	assert.Equal(t, int32(1), page2Calls.Load())
}

func TestRefreshCredential(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /oauth2/tokens", func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		assert.Equal(t, "refresh_token", r.PostForm.Get("grant_type"))
		assert.Equal(t, "refresh_1", r.PostForm.Get("refresh_token"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"access_2","refresh_token":"refresh_2","token_type":"bearer","expires_in":3600}`))
	})
	client := newTestClient(t, mux)

	cred := model.Credential{Provider: model.ProviderMollie, Account: "org-1", Mode: model.AuthModeOAuth, KeyMaterial: "access_1", RefreshToken: "refresh_1"}
	got, err := client.RefreshCredential(context.Background(), cred)
	require.NoError(t, err)
	assert.Equal(t, "access_2", got.KeyMaterial)
	assert.Equal(t, "refresh_2", got.RefreshToken)
	assert.True(t, got.TokenExpiry.After(time.Now()))
}

func TestFeeCategories(t *testing.T) {
	tests := []struct {
		method, region, want string
	}{
		{"creditcard", "carte-bancaire", "Credit card - Carte Bancaire"},
		{"creditcard", "intra-eu", "Credit card - Domestic consumer cards"},
		{"creditcard", "eu-card", "Credit card - Domestic consumer cards"},
		{"creditcard", "other", "Credit card - Other"},
		{"creditcard", "", "Credit card - Other"},
		{"bancontact", "", "Bancontact"},
		{"voucher", "", "voucher"},
	}

	for _, tt := range tests {
		t.Run(tt.method+"/"+tt.region, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("GET /v2/payments/tr_x", func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprintf(w, `{"id":"tr_x","method":%q,"amount":{"value":"1.00","currency":"EUR"},"details":{"feeRegion":%q}}`,
					tt.method, tt.region)
			})
			client := newTestClient(t, mux)

			fact, err := client.FetchTransaction(context.Background(), apiKeyCred(), "tr_x")
			require.NoError(t, err)
			assert.Equal(t, tt.want, fact.FeeCategory)
		})
	}
}
