// Package pspclient holds the HTTP plumbing shared by the payment provider
// adapters: per-account cached transports, status mapping onto the domain
// error taxonomy, and the OAuth refresh grant.
package pspclient

import (
	"net/http"
	"sync"
	"time"

	"github.com/gregjones/httpcache"
)

// DefaultTimeout bounds a single provider request as a safety net alongside
// the caller's context deadline.
const DefaultTimeout = 30 * time.Second

// Transports hands out one http.Client per (provider, account) key. Each client
// has its own conditional-request cache, so a cached list or payment response is
// never served to a different account.
type Transports struct {
	base    http.RoundTripper
	timeout time.Duration

	mu      sync.Mutex
	clients map[string]*http.Client
}

// NewTransports creates a Transports on top of base. A nil base uses
// http.DefaultTransport; a zero timeout uses DefaultTimeout.
func NewTransports(base http.RoundTripper, timeout time.Duration) *Transports {
	if base == nil {
		base = http.DefaultTransport
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Transports{
		base:    base,
		timeout: timeout,
		clients: make(map[string]*http.Client),
	}
}

// Client returns the cached client for key, creating it on first use.
func (t *Transports) Client(key string) *http.Client {
	t.mu.Lock()
	defer t.mu.Unlock()

	if c, ok := t.clients[key]; ok {
		return c
	}

	cacheTransport := &httpcache.Transport{
		Transport:           t.base,
		Cache:               httpcache.NewMemoryCache(),
		MarkCachedResponses: true,
	}
	c := &http.Client{Transport: cacheTransport, Timeout: t.timeout}
	t.clients[key] = c
	return c
}

// Plain returns an uncached client for token endpoints.
func (t *Transports) Plain() *http.Client {
	return &http.Client{Transport: t.base, Timeout: t.timeout}
}

// FromCache reports whether resp was served from the conditional-request cache.
func FromCache(resp *http.Response) bool {
	return resp != nil && resp.Header.Get(httpcache.XFromCache) == "1"
}
