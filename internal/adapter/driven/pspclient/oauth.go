package pspclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"golang.org/x/oauth2"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

// defaultTokenLifetime applies when a token response omits expires_in.
const defaultTokenLifetime = time.Hour

// OAuthConfig identifies the OAuth application registered with a provider.
type OAuthConfig struct {
	ClientID     string
	ClientSecret string
	TokenURL     string
}

// RefreshCredential performs the refresh_token grant for cred and returns the
// updated credential. A rotated refresh token replaces the old one.
//
// A rejected grant (4xx from the token endpoint) yields model.ErrRefreshDenied;
// transport failures and 5xx yield model.ErrUnreachable.
func RefreshCredential(ctx context.Context, client *http.Client, cfg OAuthConfig, cred model.Credential, now time.Time) (model.Credential, error) {
	if cred.Mode != model.AuthModeOAuth {
		return model.Credential{}, fmt.Errorf("refresh %s: api key credential: %w", cred.Key(), model.ErrUnsupported)
	}
	if cred.RefreshToken == "" {
		return model.Credential{}, fmt.Errorf("refresh %s: no refresh token: %w", cred.Key(), model.ErrRefreshDenied)
	}

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  cfg.TokenURL,
			AuthStyle: oauth2.AuthStyleInParams,
		},
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, client)
	tok, err := conf.TokenSource(ctx, &oauth2.Token{RefreshToken: cred.RefreshToken}).Token()
	if err != nil {
		return model.Credential{}, fmt.Errorf("refresh %s: %w", cred.Key(), classifyRefreshError(err))
	}
	if tok.AccessToken == "" {
		return model.Credential{}, fmt.Errorf("refresh %s: empty access token: %w", cred.Key(), model.ErrProviderResponse)
	}

	updated := cred
	updated.KeyMaterial = tok.AccessToken
	if tok.RefreshToken != "" {
		updated.RefreshToken = tok.RefreshToken
	}
	updated.TokenExpiry = tok.Expiry.UTC()
	if tok.Expiry.IsZero() {
		updated.TokenExpiry = now.Add(defaultTokenLifetime).UTC()
	}
	updated.UpdatedAt = now.UTC()
	return updated, nil
}

func classifyRefreshError(err error) error {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		code := re.Response.StatusCode
		msg := ErrorMessage(re.Response.Header.Get("Content-Type"), re.Body)
		switch {
		case code >= 500:
			return fmt.Errorf("%w: token endpoint http %d: %s", model.ErrUnreachable, code, msg)
		case code == http.StatusTooManyRequests:
			return &model.RateLimitError{RetryAfter: ParseRetryAfter(re.Response.Header.Get("Retry-After"), time.Now())}
		default:
			return fmt.Errorf("%w: token endpoint http %d: %s", model.ErrRefreshDenied, code, msg)
		}
	}
	return fmt.Errorf("%w: %w", model.ErrUnreachable, err)
}
