// Package driven defines secondary port interfaces for external adapters.
package driven

import (
	"context"
	"time"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

// ProviderClient defines the driven port for a payment provider's REST API.
// Implementations map HTTP failures onto the model error taxonomy and never
// retry or sleep on rate limiting; retry policy belongs to the caller.
type ProviderClient interface {
	// Provider reports which provider this client talks to.
	Provider() model.Provider

	// FetchTransaction returns the provider's record of transaction id.
	FetchTransaction(ctx context.Context, cred model.Credential, id string) (model.TransactionFact, error)

	// FetchSettlement returns a settlement and its rate table.
	// Returns model.ErrUnsupported when the provider has no settlement API.
	FetchSettlement(ctx context.Context, cred model.Credential, settlementID string) (model.SettlementFact, error)

	// RefreshCredential exchanges the refresh token of an OAuth credential for
	// a new access token. The returned credential carries the new token, the
	// new expiry and the rotated refresh token if the provider issued one.
	RefreshCredential(ctx context.Context, cred model.Credential) (model.Credential, error)

	// ListTransactions returns transactions created within [from, to].
	ListTransactions(ctx context.Context, cred model.Credential, from, to time.Time) ([]model.TransactionFact, error)
}
