package application

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

// DefaultMatchWindow is the date window searched around a payment when it has
// no stored provider transaction id.
const DefaultMatchWindow = 48 * time.Hour

// ListFunc returns the provider transactions created within [from, to].
type ListFunc func(ctx context.Context, from, to time.Time) ([]model.TransactionFact, error)

// Match is the provider transaction identified for a payment.
type Match struct {
	TransactionID string
	Tier          model.MatchTier
}

// Matcher resolves which provider transaction corresponds to a local payment.
type Matcher struct {
	window time.Duration
}

// NewMatcher creates a Matcher that searches ±window around the payment date.
func NewMatcher(window time.Duration) *Matcher {
	if window <= 0 {
		window = DefaultMatchWindow
	}
	return &Matcher{window: window}
}

// failedStatuses are provider statuses of transactions that never captured money.
var failedStatuses = map[string]bool{
	"failed":    true,
	"canceled":  true,
	"cancelled": true,
	"expired":   true,
}

// Resolve identifies the provider transaction for p.
//
// A stored provider transaction id always wins. Otherwise list is called for
// the window around p.PaidAt and the candidates with the same currency and an
// amount within half a minor unit of p.Gross are kept. Exactly one candidate
// is a match; none or several yield model.ErrAmbiguousMatch. Ties are never
// broken by guessing.
func (m *Matcher) Resolve(ctx context.Context, p model.PaymentRecord, list ListFunc) (Match, error) {
	if p.ProviderTxID != "" {
		return Match{TransactionID: p.ProviderTxID, Tier: model.MatchTierStoredID}, nil
	}

	from, to := p.PaidAt.Add(-m.window), p.PaidAt.Add(m.window)
	facts, err := list(ctx, from, to)
	if err != nil {
		return Match{}, fmt.Errorf("list candidates for payment %s: %w", p.ID, err)
	}

	var candidates []string
	for _, f := range facts {
		if !strings.EqualFold(f.Currency, p.Currency) {
			continue
		}
		if failedStatuses[strings.ToLower(f.Status)] {
			continue
		}
		if !f.CreatedAt.IsZero() && (f.CreatedAt.Before(from) || f.CreatedAt.After(to)) {
			continue
		}
		if model.AmountsMatch(f.Gross, p.Gross, p.Currency) {
			candidates = append(candidates, f.ID)
		}
	}

	if len(candidates) != 1 {
		return Match{}, fmt.Errorf("payment %s: %d candidates for %s %s within %s: %w",
			p.ID, len(candidates), p.Gross.StringFixed(model.MinorUnits(p.Currency)), p.Currency, m.window, model.ErrAmbiguousMatch)
	}
	return Match{TransactionID: candidates[0], Tier: model.MatchTierAmountWindow}, nil
}
