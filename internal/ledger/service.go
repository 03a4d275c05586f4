package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"aitelephony-platform/pkg/money"
	"aitelephony-platform/pkg/utils"

	"github.com/google/uuid"
)

var (
	ErrInsufficientFunds = errors.New("ledger: insufficient funds")
	ErrInvalidArgument   = errors.New("ledger: invalid argument")
)

// Service provides the one money-moving operation every other package uses.
//
// Money invariants:
// - No balance change without a Transaction row, in the same DB transaction.
// - Transaction rows are append-only.
// - Writes for a given user are linearized by SELECT ... FOR UPDATE on the
//   user row.
type Service struct {
	db    *sql.DB
	clock func() time.Time
}

func NewService(db *sql.DB) *Service {
	return &Service{db: db, clock: time.Now}
}

// AdjustResult is what every caller needs to reconcile: where the balance
// stood before and after, and which transaction row recorded it.
type AdjustResult struct {
	TransactionID string
	BalanceBefore money.Amount
	BalanceAfter  money.Amount
}

// Adjust posts signed_amount against userID's balance. Positive amounts are
// credits, negative amounts are debits; kind just labels the row for
// reporting. When strict is true and the adjustment would drive the
// balance negative, no row is written and ErrInsufficientFunds is returned.
// When strict is false the balance is allowed to go negative.
func (s *Service) Adjust(ctx context.Context, userID string, signedAmount money.Amount, description string, kind TransactionKind, paymentMethod, referenceID string, strict bool) (AdjustResult, error) {
	if userID == "" || description == "" || kind == "" {
		return AdjustResult{}, ErrInvalidArgument
	}
	if signedAmount.IsZero() {
		return AdjustResult{}, ErrInvalidArgument
	}

	var out AdjustResult
	err := utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		res, err := s.AdjustTx(ctx, tx, userID, signedAmount, description, kind, paymentMethod, referenceID, strict)
		if err != nil {
			return err
		}
		out = res
		return nil
	})
	return out, err
}

// AdjustTx performs the same operation as Adjust but inside a transaction
// the caller already holds. internal/billing uses this to lock a resource
// row and post the ledger entry in one DB transaction, as the charge/refund
// discipline requires.
func (s *Service) AdjustTx(ctx context.Context, tx *sql.Tx, userID string, signedAmount money.Amount, description string, kind TransactionKind, paymentMethod, referenceID string, strict bool) (AdjustResult, error) {
	if userID == "" || description == "" || kind == "" {
		return AdjustResult{}, ErrInvalidArgument
	}
	if signedAmount.IsZero() {
		return AdjustResult{}, ErrInvalidArgument
	}

	before, err := lockUserBalance(ctx, tx, userID)
	if err != nil {
		return AdjustResult{}, err
	}

	after := before.Add(signedAmount)
	if strict && signedAmount.IsNegative() && after.IsNegative() {
		return AdjustResult{}, ErrInsufficientFunds
	}

	txn := Transaction{
		ID:            uuid.NewString(),
		UserID:        userID,
		Amount:        signedAmount,
		Description:   description,
		Kind:          kind,
		PaymentMethod: paymentMethod,
		ReferenceID:   referenceID,
		BalanceBefore: before,
		BalanceAfter:  after,
		Status:        StatusCompleted,
		CreatedAt:     s.clock().UTC(),
	}
	if err := insertTransaction(ctx, tx, txn); err != nil {
		return AdjustResult{}, err
	}
	if err := updateUserBalance(ctx, tx, userID, after); err != nil {
		return AdjustResult{}, err
	}

	return AdjustResult{TransactionID: txn.ID, BalanceBefore: before, BalanceAfter: after}, nil
}

// Credit is a convenience wrapper for a positive, non-strict adjustment
// (top-ups, refunds, payment processor webhooks).
func (s *Service) Credit(ctx context.Context, userID string, amount money.Amount, description, paymentMethod, referenceID string) (AdjustResult, error) {
	if amount.IsNegative() || amount.IsZero() {
		return AdjustResult{}, ErrInvalidArgument
	}
	return s.Adjust(ctx, userID, amount, description, KindCredit, paymentMethod, referenceID, false)
}

// Debit is a convenience wrapper for a negative adjustment. strict controls
// whether overdrawing is rejected; the Charge engine in internal/billing
// always calls with strict=true for tool/call charges, while number monthly
// fees use strict=true as well so the cancellation state machine can react
// to insufficient_funds.
func (s *Service) Debit(ctx context.Context, userID string, amount money.Amount, description, paymentMethod, referenceID string, strict bool) (AdjustResult, error) {
	if amount.IsNegative() || amount.IsZero() {
		return AdjustResult{}, ErrInvalidArgument
	}
	return s.Adjust(ctx, userID, amount.Neg(), description, KindDebit, paymentMethod, referenceID, strict)
}

// AdminAdjust lets an operator post an arbitrary signed adjustment outside
// the normal charge/credit flows (goodwill credit, dispute correction). The
// caller (internal/httpapi, gated by internal/rbac) is responsible for
// mirroring this into internal/audit with the returned transaction id.
func (s *Service) AdminAdjust(ctx context.Context, userID string, signedAmount money.Amount, reason string) (AdjustResult, error) {
	if reason == "" {
		return AdjustResult{}, ErrInvalidArgument
	}
	return s.Adjust(ctx, userID, signedAmount, reason, KindAdjustment, "admin", "", false)
}

func (s *Service) GetTransaction(ctx context.Context, id string) (Transaction, error) {
	return getTransaction(ctx, s.db, id)
}

func (s *Service) ListTransactions(ctx context.Context, userID string, limit int) ([]Transaction, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	return listTransactions(ctx, s.db, userID, limit)
}
