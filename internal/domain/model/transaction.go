package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// TransactionFact is a provider's view of one transaction, normalized across
// providers. Fee is nil when the provider payload does not report one.
type TransactionFact struct {
	Provider       Provider
	ID             string
	Gross          decimal.Decimal
	Currency       string
	Fee            *decimal.Decimal
	ApplicationFee decimal.Decimal
	SettlementID   string
	SettledAt      *time.Time
	// FeeCategory names the settlement cost line that prices this transaction
	// (e.g. "Credit card - Carte Bancaire"). Empty when unknown.
	FeeCategory string
	Method      string
	Status      string
	CreatedAt   time.Time
}

// SettlementFact is a provider settlement (payout batch) with its rate table.
type SettlementFact struct {
	Provider  Provider
	ID        string
	SettledAt *time.Time
	Rates     map[string]FeeRate
}
