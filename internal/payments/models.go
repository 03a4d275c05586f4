// Package payments owns the PaymentRequest/IncomingDeposit entities and the
// processor clients (Square-style and Stripe-style checkout, crypto and ACH
// invoices) that turn a deposit request into a hosted payment URL, and their
// webhook/IPN callbacks back into a ledger credit.
package payments

import "time"

type Provider string

const (
	ProviderSquare Provider = "square"
	ProviderStripe Provider = "stripe"
	ProviderCrypto Provider = "crypto"
	ProviderACH    Provider = "ach"
)

type PaymentRequestStatus string

const (
	PaymentStatusPending   PaymentRequestStatus = "pending"
	PaymentStatusCompleted PaymentRequestStatus = "completed"
	PaymentStatusFailed    PaymentRequestStatus = "failed"
	PaymentStatusExpired   PaymentRequestStatus = "expired"
	PaymentStatusCancelled PaymentRequestStatus = "cancelled"
)

// PaymentRequest is a hosted checkout link handed back to a caller — either
// the dashboard's top-up flow or the create-payment-link tool action.
type PaymentRequest struct {
	ID                string               `json:"id" db:"id"`
	UserID            string               `json:"user_id" db:"user_id"`
	Provider          Provider             `json:"provider" db:"provider"`
	ProviderPaymentID string               `json:"provider_payment_id,omitempty" db:"provider_payment_id"`
	ProviderCheckoutID string              `json:"provider_checkout_id,omitempty" db:"provider_checkout_id"`
	AmountCents       int64                `json:"amount_cents" db:"amount_cents"`
	Currency          string               `json:"currency" db:"currency"`
	Description       string               `json:"description" db:"description"`
	CustomerName      string               `json:"customer_name,omitempty" db:"customer_name"`
	CustomerEmail     string               `json:"customer_email,omitempty" db:"customer_email"`
	PaymentURL        string               `json:"payment_url,omitempty" db:"payment_url"`
	Status            PaymentRequestStatus `json:"status" db:"status"`
	CallID            string               `json:"call_id,omitempty" db:"call_id"`
	PaidAt            *time.Time           `json:"paid_at,omitempty" db:"paid_at"`
	Metadata          string               `json:"metadata,omitempty" db:"metadata"`
	CreatedAt         time.Time            `json:"created_at" db:"created_at"`
	UpdatedAt         time.Time            `json:"updated_at" db:"updated_at"`
}

// IncomingDeposit is one row per external processor payment event: a crypto
// invoice, a card checkout session, or an ACH invoice. Credited is the
// idempotency gate that keeps a retried webhook delivery from crediting the
// ledger twice.
type IncomingDeposit struct {
	ID           string    `json:"id" db:"id"`
	Provider     Provider  `json:"provider" db:"provider"`
	RemoteID     string    `json:"remote_id" db:"remote_id"`
	LocalOrderID string    `json:"local_order_id" db:"local_order_id"`
	UserID       string    `json:"user_id" db:"user_id"`
	AmountCents  int64     `json:"amount_cents" db:"amount_cents"`
	Status       string    `json:"status" db:"status"`
	Credited     bool      `json:"credited" db:"credited"`
	RawPayload   string    `json:"raw_payload,omitempty" db:"raw_payload"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}
