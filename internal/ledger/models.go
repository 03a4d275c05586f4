// Package ledger is the single source of truth for money. It exposes one
// operation, Adjust, that every credit, debit, and admin adjustment in the
// system routes through. A user's balance is always the sum of its
// completed Transaction rows; Adjust keeps that invariant by writing both
// in the same database transaction.
package ledger

import (
	"time"

	"aitelephony-platform/pkg/money"
)

type TransactionKind string

const (
	KindCredit     TransactionKind = "credit"
	KindDebit      TransactionKind = "debit"
	KindAdjustment TransactionKind = "adjustment"
)

type TransactionStatus string

const (
	StatusPending   TransactionStatus = "pending"
	StatusCompleted TransactionStatus = "completed"
	StatusFailed    TransactionStatus = "failed"
)

// Transaction is an immutable, append-only ledger entry.
type Transaction struct {
	ID             string            `json:"id" db:"id"`
	UserID         string            `json:"user_id" db:"user_id"`
	Amount         money.Amount      `json:"amount" db:"amount"`
	Description    string            `json:"description" db:"description"`
	Kind           TransactionKind   `json:"kind" db:"kind"`
	PaymentMethod  string            `json:"payment_method,omitempty" db:"payment_method"`
	ReferenceID    string            `json:"reference_id,omitempty" db:"reference_id"`
	BalanceBefore  money.Amount      `json:"balance_before" db:"balance_before"`
	BalanceAfter   money.Amount      `json:"balance_after" db:"balance_after"`
	Status         TransactionStatus `json:"status" db:"status"`
	CreatedAt      time.Time         `json:"created_at" db:"created_at"`
}
