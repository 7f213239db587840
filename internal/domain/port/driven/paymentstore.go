package driven

import (
	"context"

	"github.com/ericfisherdev/feesync/internal/domain/model"
)

// PaymentStore defines the driven port for the host application's confirmed
// payments. The engine reads them and writes back fee data.
type PaymentStore interface {
	// ListPending returns confirmed payments in scope, oldest first. Unless
	// force is set, payments that already carry synced fee data are excluded.
	ListPending(ctx context.Context, scope model.SyncScope, force bool) ([]model.PaymentRecord, error)

	// ApplyFee writes fee data back onto a payment.
	// Returns model.ErrNotFound if the payment does not exist.
	ApplyFee(ctx context.Context, update model.FeeUpdate) error

	// Upsert inserts or updates a payment recorded by the host. Fee
	// write-back columns of an existing row are preserved.
	Upsert(ctx context.Context, payment model.PaymentRecord) error

	// GetByID returns the payment with id, or (nil, nil) if not found.
	GetByID(ctx context.Context, id string) (*model.PaymentRecord, error)
}
