package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// PaymentRecord is a confirmed payment recorded by the host application.
// The engine reads it and writes back fee data through a FeeUpdate.
type PaymentRecord struct {
	ID           string
	Organizer    string
	Event        string
	Provider     string // Host provider name, e.g. "mollie_creditcard".
	Gross        decimal.Decimal
	Currency     string
	PaidAt       time.Time
	ProviderTxID string // Set by the payment flow callback, or by a previous match.

	// Written back by the engine.
	Fee            *decimal.Decimal
	Net            *decimal.Decimal
	SettlementDate *time.Time
	FeeSource      FeeSource
	FeeSyncedAt    *time.Time
}

// FeeUpdate is the write-back applied to a PaymentRecord once its fee is resolved.
type FeeUpdate struct {
	PaymentID      string
	ProviderTxID   string
	Fee            decimal.Decimal
	Net            decimal.Decimal
	SettlementDate *time.Time
	Source         FeeSource
	SyncedAt       time.Time
}
