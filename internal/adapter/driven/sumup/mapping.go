package sumup

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

const eventTypePayout = "PAYOUT"

type eventJSON struct {
	ID              json.Number         `json:"id"`
	Type            string              `json:"type"`
	Status          string              `json:"status"`
	Amount          decimal.NullDecimal `json:"amount"`
	FeeAmount       decimal.NullDecimal `json:"fee_amount"`
	Timestamp       string              `json:"timestamp"`
	PayoutID        json.Number         `json:"payout_id"`
	PayoutReference string              `json:"payout_reference"`
}

type transactionJSON struct {
	ID              string          `json:"id"`
	TransactionCode string          `json:"transaction_code"`
	Amount          decimal.Decimal `json:"amount"`
	Currency        string          `json:"currency"`
	Timestamp       string          `json:"timestamp"`
	Status          string          `json:"status"`
	SimpleStatus    string          `json:"simple_status"`
	PaymentType     string          `json:"payment_type"`
	EntryMode       string          `json:"entry_mode"`
	Events          []eventJSON     `json:"events"`
}

type linkJSON struct {
	Rel  string `json:"rel"`
	Href string `json:"href"`
}

type historyJSON struct {
	Items []transactionJSON `json:"items"`
	Links []linkJSON        `json:"links"`
}

// nextURL resolves the rel=next link. SumUp returns it either as an absolute
// URL or as a bare query string relative to the history endpoint.
func (h historyJSON) nextURL(historyURL string) string {
	for _, l := range h.Links {
		if l.Rel != "next" || l.Href == "" {
			continue
		}
		if strings.HasPrefix(l.Href, "http://") || strings.HasPrefix(l.Href, "https://") {
			return l.Href
		}
		return historyURL + "?" + strings.TrimPrefix(l.Href, "?")
	}
	return ""
}

// payoutEvent returns the event that carries the fee: the first PAYOUT event
// with a fee amount, or failing that the first event with a non-zero fee.
func (t transactionJSON) payoutEvent() (eventJSON, bool) {
	for _, e := range t.Events {
		if e.Type == eventTypePayout && e.FeeAmount.Valid {
			return e, true
		}
	}
	for _, e := range t.Events {
		if e.FeeAmount.Valid && !e.FeeAmount.Decimal.IsZero() {
			return e, true
		}
	}
	return eventJSON{}, false
}

func (t transactionJSON) toFact() (model.TransactionFact, error) {
	id := t.TransactionCode
	if id == "" {
		id = t.ID
	}

	fact := model.TransactionFact{
		Provider: model.ProviderSumUp,
		ID:       id,
		Gross:    t.Amount,
		Currency: strings.ToUpper(t.Currency),
		Method:   t.PaymentType,
		Status:   t.Status,
	}

	if t.Timestamp != "" {
		ts, err := parseTimestamp(t.Timestamp)
		if err != nil {
			return model.TransactionFact{}, fmt.Errorf("parse timestamp: %w", err)
		}
		fact.CreatedAt = ts
	}

	if e, ok := t.payoutEvent(); ok {
		fee := e.FeeAmount.Decimal
		fact.Fee = &fee
		fact.SettlementID = e.PayoutID.String()
		if e.Timestamp != "" {
			settled, err := parseTimestamp(e.Timestamp)
			if err != nil {
				return model.TransactionFact{}, fmt.Errorf("parse payout timestamp: %w", err)
			}
			fact.SettledAt = &settled
		}
	}

	return fact, nil
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}
