package application

import (
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// accountGate tracks rate limiting per (provider, account). A rate-limited
// account is closed until its backoff delay elapses; tasks for it are
// deferred while tasks for other accounts proceed.
type accountGate struct {
	initial     time.Duration
	maxInterval time.Duration
	now         func() time.Time

	mu     sync.Mutex
	states map[string]*gateState
}

type gateState struct {
	backoff *backoff.ExponentialBackOff
	openAt  time.Time
}

func newAccountGate(initial, maxInterval time.Duration, now func() time.Time) *accountGate {
	return &accountGate{
		initial:     initial,
		maxInterval: maxInterval,
		now:         now,
		states:      make(map[string]*gateState),
	}
}

// Wait returns how long the gate for key stays closed; zero when open.
func (g *accountGate) Wait(key string) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.states[key]
	if !ok {
		return 0
	}
	if d := s.openAt.Sub(g.now()); d > 0 {
		return d
	}
	return 0
}

// Close records a rate limit for key and returns the delay before the next
// attempt: the next exponential backoff interval with jitter, or the
// provider's Retry-After hint when that is longer.
func (g *accountGate) Close(key string, retryAfter time.Duration) time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()

	s, ok := g.states[key]
	if !ok {
		b := backoff.NewExponentialBackOff()
		b.InitialInterval = g.initial
		b.MaxInterval = g.maxInterval
		b.MaxElapsedTime = 0
		b.Reset()
		s = &gateState{backoff: b}
		g.states[key] = s
	}

	delay := max(s.backoff.NextBackOff(), retryAfter)

	openAt := g.now().Add(delay)
	if openAt.After(s.openAt) {
		s.openAt = openAt
	}
	return s.openAt.Sub(g.now())
}

// Open resets the backoff for key after a successful call.
func (g *accountGate) Open(key string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.states, key)
}
