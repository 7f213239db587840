package pspclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

// maxErrorBody caps how much of an error response is read for the message.
const maxErrorBody = 64 << 10

// APIError describes a non-2xx provider response. It unwraps to the domain
// sentinel matching the status code.
type APIError struct {
	Provider   model.Provider
	StatusCode int
	Message    string
	err        error
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("%s: http %d: %v", e.Provider, e.StatusCode, e.err)
	}
	return fmt.Sprintf("%s: http %d: %v: %s", e.Provider, e.StatusCode, e.err, e.Message)
}

func (e *APIError) Unwrap() error { return e.err }

// GetJSON issues an authenticated GET to rawURL and decodes a 2xx JSON body
// into out. Failures are mapped onto the model error taxonomy; a 429 is
// returned immediately with its Retry-After hint and never retried here.
func GetJSON(ctx context.Context, client *http.Client, provider model.Provider, rawURL, token string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("%s: GET %s: %w: %w", provider, redactQuery(rawURL), model.ErrUnreachable, err)
	}
	defer resp.Body.Close()

	slog.Debug("provider api call",
		"provider", provider,
		"url", redactQuery(rawURL),
		"status", resp.StatusCode,
		"cached", FromCache(resp),
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return statusError(provider, resp, body, time.Now())
	}

	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return fmt.Errorf("%s: read body: %w: %w", provider, model.ErrUnreachable, err)
		}
		return fmt.Errorf("%s: decode response: %w: %w", provider, model.ErrProviderResponse, err)
	}
	return nil
}

// statusError maps a non-2xx response onto an *APIError.
func statusError(provider model.Provider, resp *http.Response, body []byte, now time.Time) error {
	apiErr := &APIError{
		Provider:   provider,
		StatusCode: resp.StatusCode,
		Message:    ErrorMessage(resp.Header.Get("Content-Type"), body),
	}

	switch code := resp.StatusCode; {
	case code == http.StatusUnauthorized:
		apiErr.err = model.ErrAuthExpired
	case code == http.StatusForbidden:
		apiErr.err = model.ErrInvalidCredential
	case code == http.StatusNotFound, code == http.StatusGone:
		apiErr.err = model.ErrNotFound
	case code == http.StatusTooManyRequests:
		apiErr.err = &model.RateLimitError{RetryAfter: ParseRetryAfter(resp.Header.Get("Retry-After"), now)}
	case code >= 500:
		apiErr.err = model.ErrUnreachable
	default:
		apiErr.err = model.ErrProviderResponse
	}
	return apiErr
}

// ParseRetryAfter parses a Retry-After header given either as delta-seconds or
// as an HTTP date. It returns zero when the header is absent or unparseable.
func ParseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := at.Sub(now); d > 0 {
			return d
		}
	}
	return 0
}

// redactQuery drops the query string so logged URLs never carry filters or ids
// supplied as parameters.
func redactQuery(rawURL string) string {
	if i := strings.IndexByte(rawURL, '?'); i >= 0 {
		return rawURL[:i]
	}
	return rawURL
}
