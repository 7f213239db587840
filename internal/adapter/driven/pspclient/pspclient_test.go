package pspclient_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ericfisherdev/feesync/internal/adapter/driven/pspclient"
	"github.com/ericfisherdev/feesync/internal/domain/model"
)

func newServer(t *testing.T, handler http.HandlerFunc) (*httptest.Server, *pspclient.Transports) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return server, pspclient.NewTransports(server.Client().Transport, 5*time.Second)
}

func TestGetJSON_DecodesAndSendsBearer(t *testing.T) {
	server, transports := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer live_abc", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"tr_1"}`))
	})

	var out struct {
		ID string `json:"id"`
	}
	err := pspclient.GetJSON(context.Background(), transports.Client("mollie/org-1"), model.ProviderMollie,
		server.URL+"/payments/tr_1", "live_abc", &out)
	require.NoError(t, err)
	assert.Equal(t, "tr_1", out.ID)
}

func TestGetJSON_StatusMapping(t *testing.T) {
	tests := []struct {
		status int
		want   error
	}{
		{http.StatusUnauthorized, model.ErrAuthExpired},
		{http.StatusForbidden, model.ErrInvalidCredential},
		{http.StatusNotFound, model.ErrNotFound},
		{http.StatusGone, model.ErrNotFound},
		{http.StatusTooManyRequests, model.ErrRateLimited},
		{http.StatusInternalServerError, model.ErrUnreachable},
		{http.StatusBadGateway, model.ErrUnreachable},
		{http.StatusUnprocessableEntity, model.ErrProviderResponse},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			server, transports := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(tt.status)
			})

			err := pspclient.GetJSON(context.Background(), transports.Client("k"), model.ProviderSumUp, server.URL, "tok", nil)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.want)

			var apiErr *pspclient.APIError
			require.True(t, errors.As(err, &apiErr))
			assert.Equal(t, tt.status, apiErr.StatusCode)
		})
	}
}

func TestGetJSON_RateLimitCarriesRetryAfter(t *testing.T) {
	var calls atomic.Int32
	server, transports := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		w.Header().Set("Retry-After", "7")
		w.WriteHeader(http.StatusTooManyRequests)
	})

	err := pspclient.GetJSON(context.Background(), transports.Client("k"), model.ProviderMollie, server.URL, "tok", nil)
	require.Error(t, err)

	var rle *model.RateLimitError
	require.True(t, errors.As(err, &rle))
	assert.Equal(t, 7*time.Second, rle.RetryAfter)
	assert.Equal(t, int32(1), calls.Load(), "a 429 must not be retried inside the client")
}

func TestGetJSON_DeadlineIsUnreachable(t *testing.T) {
	server, transports := newServer(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	err := pspclient.GetJSON(ctx, transports.Client("k"), model.ProviderMollie, server.URL, "tok", nil)
	require.Error(t, err)
	assert.ErrorIs(t, err, model.ErrUnreachable)
}

func TestGetJSON_MalformedBody(t *testing.T) {
	server, transports := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{not json`))
	})

	var out map[string]any
	err := pspclient.GetJSON(context.Background(), transports.Client("k"), model.ProviderMollie, server.URL, "tok", &out)
	assert.ErrorIs(t, err, model.ErrProviderResponse)
}

func TestGetJSON_ErrorMessageFromJSON(t *testing.T) {
	server, transports := newServer(t, func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/hal+json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"status":404,"title":"Not Found","detail":"No payment exists with token tr_x."}`))
	})

	err := pspclient.GetJSON(context.Background(), transports.Client("k"), model.ProviderMollie, server.URL, "tok", nil)
	var apiErr *pspclient.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "Not Found: No payment exists with token tr_x.", apiErr.Message)
}

func TestErrorMessage_StripsMarkup(t *testing.T) {
	body := []byte("<html><body><h1>502 Bad Gateway</h1>\n<script>alert(1)</script><p>nginx</p></body></html>")
	msg := pspclient.ErrorMessage("text/html", body)
	assert.NotContains(t, msg, "<")
	assert.NotContains(t, msg, "alert")
	assert.Contains(t, msg, "502 Bad Gateway")
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)

	assert.Equal(t, 3*time.Second, pspclient.ParseRetryAfter("3", now))
	assert.Equal(t, time.Duration(0), pspclient.ParseRetryAfter("", now))
	assert.Equal(t, time.Duration(0), pspclient.ParseRetryAfter("-4", now))
	assert.Equal(t, time.Duration(0), pspclient.ParseRetryAfter("soon", now))
	assert.Equal(t, 30*time.Second, pspclient.ParseRetryAfter(now.Add(30*time.Second).Format(http.TimeFormat), now))
}

func TestTransports_ClientPerKey(t *testing.T) {
	transports := pspclient.NewTransports(nil, 0)

	a := transports.Client("mollie/org-1")
	assert.Same(t, a, transports.Client("mollie/org-1"))
	assert.NotSame(t, a, transports.Client("mollie/org-2"))
}

func tokenServer(t *testing.T, handler func(form url.Values) (int, any)) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		status, body := handler(r.PostForm)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(body)
	}))
	t.Cleanup(server.Close)
	return server
}

func oauthCred() model.Credential {
	return model.Credential{
		Provider:     model.ProviderMollie,
		Account:      "org-1",
		Mode:         model.AuthModeOAuth,
		KeyMaterial:  "access_old",
		RefreshToken: "refresh_old",
	}
}

func TestRefreshCredential_RotatesTokens(t *testing.T) {
	server := tokenServer(t, func(form url.Values) (int, any) {
		assert.Equal(t, "refresh_token", form.Get("grant_type"))
		assert.Equal(t, "refresh_old", form.Get("refresh_token"))
		assert.Equal(t, "app_id", form.Get("client_id"))
		assert.Equal(t, "app_secret", form.Get("client_secret"))
		return http.StatusOK, map[string]any{
			"access_token":  "access_new",
			"refresh_token": "refresh_new",
			"token_type":    "bearer",
			"expires_in":    3600,
		}
	})

	now := time.Now()
	cfg := pspclient.OAuthConfig{ClientID: "app_id", ClientSecret: "app_secret", TokenURL: server.URL}
	got, err := pspclient.RefreshCredential(context.Background(), server.Client(), cfg, oauthCred(), now)
	require.NoError(t, err)
	assert.Equal(t, "access_new", got.KeyMaterial)
	assert.Equal(t, "refresh_new", got.RefreshToken)
	assert.WithinDuration(t, now.Add(time.Hour), got.TokenExpiry, time.Minute)
	assert.False(t, got.NeedsRefresh(now, 5*time.Minute))
}

func TestRefreshCredential_KeepsRefreshTokenAndDefaultsExpiry(t *testing.T) {
	server := tokenServer(t, func(url.Values) (int, any) {
		return http.StatusOK, map[string]any{"access_token": "access_new", "token_type": "bearer"}
	})

	now := time.Date(2026, 2, 1, 12, 0, 0, 0, time.UTC)
	cfg := pspclient.OAuthConfig{ClientID: "id", ClientSecret: "secret", TokenURL: server.URL}
	got, err := pspclient.RefreshCredential(context.Background(), server.Client(), cfg, oauthCred(), now)
	require.NoError(t, err)
	assert.Equal(t, "refresh_old", got.RefreshToken)
	assert.Equal(t, now.Add(time.Hour), got.TokenExpiry)
}

func TestRefreshCredential_Denied(t *testing.T) {
	server := tokenServer(t, func(url.Values) (int, any) {
		return http.StatusBadRequest, map[string]any{"error": "invalid_grant", "error_description": "refresh token revoked"}
	})

	cfg := pspclient.OAuthConfig{ClientID: "id", ClientSecret: "secret", TokenURL: server.URL}
	_, err := pspclient.RefreshCredential(context.Background(), server.Client(), cfg, oauthCred(), time.Now())
	assert.ErrorIs(t, err, model.ErrRefreshDenied)
}

func TestRefreshCredential_ServerErrorIsUnreachable(t *testing.T) {
	server := tokenServer(t, func(url.Values) (int, any) {
		return http.StatusServiceUnavailable, map[string]any{}
	})

	cfg := pspclient.OAuthConfig{ClientID: "id", ClientSecret: "secret", TokenURL: server.URL}
	_, err := pspclient.RefreshCredential(context.Background(), server.Client(), cfg, oauthCred(), time.Now())
	assert.ErrorIs(t, err, model.ErrUnreachable)
}

func TestRefreshCredential_APIKeyUnsupported(t *testing.T) {
	cred := oauthCred()
	cred.Mode = model.AuthModeAPIKey
	_, err := pspclient.RefreshCredential(context.Background(), http.DefaultClient, pspclient.OAuthConfig{}, cred, time.Now())
	assert.ErrorIs(t, err, model.ErrUnsupported)
}
