package payments

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("payments: not found")

const paymentRequestColumns = `
id, user_id, provider, provider_payment_id, provider_checkout_id, amount_cents, currency,
description, customer_name, customer_email, payment_url, status, call_id, paid_at, metadata,
created_at, updated_at
`

func scanPaymentRequest(row interface{ Scan(dest ...any) error }) (PaymentRequest, error) {
	var p PaymentRequest
	var providerPaymentID, providerCheckoutID, customerName, customerEmail, paymentURL, callID, metadata sql.NullString
	var paidAt sql.NullTime
	err := row.Scan(
		&p.ID, &p.UserID, &p.Provider, &providerPaymentID, &providerCheckoutID, &p.AmountCents, &p.Currency,
		&p.Description, &customerName, &customerEmail, &paymentURL, &p.Status, &callID, &paidAt, &metadata,
		&p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return PaymentRequest{}, ErrNotFound
		}
		return PaymentRequest{}, err
	}
	p.ProviderPaymentID = providerPaymentID.String
	p.ProviderCheckoutID = providerCheckoutID.String
	p.CustomerName = customerName.String
	p.CustomerEmail = customerEmail.String
	p.PaymentURL = paymentURL.String
	p.CallID = callID.String
	p.Metadata = metadata.String
	if paidAt.Valid {
		p.PaidAt = &paidAt.Time
	}
	return p, nil
}

func insertPaymentRequest(ctx context.Context, db *sql.DB, p PaymentRequest) error {
	const q = `
INSERT INTO payment_requests (
  id, user_id, provider, amount_cents, currency, description, customer_name, customer_email,
  payment_url, provider_checkout_id, status, call_id, metadata, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$14)
`
	_, err := db.ExecContext(ctx, q,
		p.ID, p.UserID, p.Provider, p.AmountCents, p.Currency, p.Description, nullIfEmpty(p.CustomerName), nullIfEmpty(p.CustomerEmail),
		nullIfEmpty(p.PaymentURL), nullIfEmpty(p.ProviderCheckoutID), p.Status, nullIfEmpty(p.CallID), nullIfEmpty(p.Metadata), p.CreatedAt,
	)
	return err
}

func getPaymentRequestByID(ctx context.Context, db *sql.DB, id string) (PaymentRequest, error) {
	return scanPaymentRequest(db.QueryRowContext(ctx, `SELECT `+paymentRequestColumns+` FROM payment_requests WHERE id=$1`, id))
}

func markPaymentRequestPaid(ctx context.Context, db *sql.DB, id, providerPaymentID string, now time.Time) error {
	const q = `UPDATE payment_requests SET status=$2, provider_payment_id=$3, paid_at=$4, updated_at=$4 WHERE id=$1 AND status='pending'`
	_, err := db.ExecContext(ctx, q, id, PaymentStatusCompleted, nullIfEmpty(providerPaymentID), now)
	return err
}

func markPaymentRequestStatus(ctx context.Context, db *sql.DB, id string, status PaymentRequestStatus, now time.Time) error {
	const q = `UPDATE payment_requests SET status=$2, updated_at=$3 WHERE id=$1 AND status='pending'`
	_, err := db.ExecContext(ctx, q, id, status, now)
	return err
}

const depositColumns = `
id, provider, remote_id, local_order_id, user_id, amount_cents, status, credited, raw_payload, created_at, updated_at
`

func scanDeposit(row interface{ Scan(dest ...any) error }) (IncomingDeposit, error) {
	var d IncomingDeposit
	var rawPayload sql.NullString
	err := row.Scan(&d.ID, &d.Provider, &d.RemoteID, &d.LocalOrderID, &d.UserID, &d.AmountCents, &d.Status, &d.Credited, &rawPayload, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return IncomingDeposit{}, ErrNotFound
		}
		return IncomingDeposit{}, err
	}
	d.RawPayload = rawPayload.String
	return d, nil
}

// upsertDeposit records (or updates the status of) one processor event,
// keyed by (provider, remote_id) so repeated webhook deliveries for the same
// remote event collapse onto one row.
func upsertDeposit(ctx context.Context, db *sql.DB, d IncomingDeposit) (IncomingDeposit, error) {
	const q = `
INSERT INTO incoming_deposits (
  id, provider, remote_id, local_order_id, user_id, amount_cents, status, credited, raw_payload, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,false,$8,$9,$9)
ON CONFLICT (provider, remote_id) DO UPDATE SET status = EXCLUDED.status, updated_at = EXCLUDED.updated_at
RETURNING ` + depositColumns
	return scanDeposit(db.QueryRowContext(ctx, q, d.ID, d.Provider, d.RemoteID, d.LocalOrderID, d.UserID, d.AmountCents, d.Status, nullIfEmpty(d.RawPayload), d.CreatedAt))
}

// claimDepositForCredit atomically flips credited=false -> true, the gate
// that makes crediting a processor event exactly-once safe under retries.
func claimDepositForCredit(ctx context.Context, db *sql.DB, id string) (IncomingDeposit, bool, error) {
	const q = `UPDATE incoming_deposits SET credited=true WHERE id=$1 AND credited=false RETURNING ` + depositColumns
	d, err := scanDeposit(db.QueryRowContext(ctx, q, id))
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return IncomingDeposit{}, false, nil
		}
		return IncomingDeposit{}, false, err
	}
	return d, true, nil
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
