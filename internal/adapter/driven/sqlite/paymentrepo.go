package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ericfisherdev/feesync/internal/domain/model"
	"github.com/ericfisherdev/feesync/internal/domain/port/driven"
)

// Compile-time interface satisfaction check.
var _ driven.PaymentStore = (*PaymentRepo)(nil)

// PaymentRepo is the SQLite implementation of the PaymentStore port interface.
type PaymentRepo struct {
	db *DB
}

// NewPaymentRepo creates a new PaymentRepo backed by the given DB.
func NewPaymentRepo(db *DB) *PaymentRepo {
	return &PaymentRepo{db: db}
}

const paymentColumns = `id, organizer, event, provider, gross, currency, paid_at, provider_tx_id,
	fee, net, settlement_date, fee_source, fee_synced_at`

// ListPending returns confirmed payments in scope ordered by paid_at.
func (r *PaymentRepo) ListPending(ctx context.Context, scope model.SyncScope, force bool) ([]model.PaymentRecord, error) {
	var (
		b    strings.Builder
		args []any
	)
	b.WriteString(`SELECT ` + paymentColumns + ` FROM payments WHERE organizer = ?`)
	args = append(args, scope.Organizer)

	if scope.Event != "" {
		b.WriteString(` AND event = ?`)
		args = append(args, scope.Event)
	}
	if scope.From != nil {
		b.WriteString(` AND paid_at >= ?`)
		args = append(args, formatTime(*scope.From))
	}
	if scope.To != nil {
		b.WriteString(` AND paid_at <= ?`)
		args = append(args, formatTime(*scope.To))
	}
	if !force {
		b.WriteString(` AND fee_synced_at IS NULL`)
	}
	b.WriteString(` ORDER BY paid_at, id`)
	if scope.Limit > 0 {
		b.WriteString(` LIMIT ?`)
		args = append(args, scope.Limit)
	}

	rows, err := r.db.Reader.QueryContext(ctx, b.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("list pending payments for %s: %w", scope.Organizer, err)
	}
	defer rows.Close()

	var payments []model.PaymentRecord
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		payments = append(payments, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate payments: %w", err)
	}

	return payments, nil
}

// GetByID returns the payment with id. Returns nil, nil if it does not exist.
func (r *PaymentRepo) GetByID(ctx context.Context, id string) (*model.PaymentRecord, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE id = ?`

	p, err := scanPayment(r.db.Reader.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get payment %s: %w", id, err)
	}
	return p, nil
}

// ApplyFee writes fee data onto the payment. A resolved provider transaction id
// is recorded so later runs match on the stored id.
func (r *PaymentRepo) ApplyFee(ctx context.Context, update model.FeeUpdate) error {
	const query = `
		UPDATE payments SET
			provider_tx_id = CASE WHEN ? <> '' THEN ? ELSE provider_tx_id END,
			fee = ?,
			net = ?,
			settlement_date = ?,
			fee_source = ?,
			fee_synced_at = ?
		WHERE id = ?`

	result, err := r.db.Writer.ExecContext(ctx, query,
		update.ProviderTxID, update.ProviderTxID,
		update.Fee.String(), update.Net.String(),
		nullTime(update.SettlementDate), string(update.Source),
		formatTime(update.SyncedAt), update.PaymentID,
	)
	if err != nil {
		return fmt.Errorf("apply fee to payment %s: %w", update.PaymentID, err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("check rows affected: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("apply fee to payment %s: %w", update.PaymentID, model.ErrNotFound)
	}
	return nil
}

// Upsert inserts or updates a host payment. Fee columns are left untouched on
// update, and an empty provider_tx_id never erases a stored one.
func (r *PaymentRepo) Upsert(ctx context.Context, p model.PaymentRecord) error {
	const query = `
		INSERT INTO payments (id, organizer, event, provider, gross, currency, paid_at, provider_tx_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			organizer = excluded.organizer,
			event = excluded.event,
			provider = excluded.provider,
			gross = excluded.gross,
			currency = excluded.currency,
			paid_at = excluded.paid_at,
			provider_tx_id = CASE WHEN excluded.provider_tx_id <> ''
				THEN excluded.provider_tx_id ELSE payments.provider_tx_id END`

	_, err := r.db.Writer.ExecContext(ctx, query,
		p.ID, p.Organizer, p.Event, p.Provider, p.Gross.String(),
		strings.ToUpper(p.Currency), formatTime(p.PaidAt), p.ProviderTxID,
	)
	if err != nil {
		return fmt.Errorf("upsert payment %s: %w", p.ID, err)
	}
	return nil
}

func scanPayment(s scanner) (*model.PaymentRecord, error) {
	var (
		p                           model.PaymentRecord
		gross, paidAt, feeSource    string
		fee, net                    decimal.NullDecimal
		settlementDate, feeSyncedAt sql.NullString
	)

	err := s.Scan(&p.ID, &p.Organizer, &p.Event, &p.Provider, &gross, &p.Currency, &paidAt,
		&p.ProviderTxID, &fee, &net, &settlementDate, &feeSource, &feeSyncedAt)
	if err != nil {
		return nil, err
	}

	if p.Gross, err = decimal.NewFromString(gross); err != nil {
		return nil, fmt.Errorf("parse gross: %w", err)
	}
	if p.PaidAt, err = parseTime(paidAt); err != nil {
		return nil, fmt.Errorf("parse paid_at: %w", err)
	}
	if fee.Valid {
		p.Fee = &fee.Decimal
	}
	if net.Valid {
		p.Net = &net.Decimal
	}
	p.FeeSource = model.FeeSource(feeSource)
	if p.SettlementDate, err = parseNullTime(settlementDate); err != nil {
		return nil, fmt.Errorf("parse settlement_date: %w", err)
	}
	if p.FeeSyncedAt, err = parseNullTime(feeSyncedAt); err != nil {
		return nil, fmt.Errorf("parse fee_synced_at: %w", err)
	}

	return &p, nil
}
