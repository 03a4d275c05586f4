// Package billing is the idempotent charge/refund wrapper every billable
// resource row (a call log, an email send, a mail send, a dialer call)
// routes through on its way to internal/ledger. It never touches money
// directly — the same lock-row/post-ledger/mark-resource transaction shape
// the teacher uses for wallet debits is reused here, generalized to any
// resource via the ChargeStore/RefundStore interfaces so calls, dialer
// calls, and tool actions share one implementation instead of three.
package billing

import (
	"context"
	"database/sql"
	"errors"

	"aitelephony-platform/internal/ledger"
	"aitelephony-platform/pkg/money"
	"aitelephony-platform/pkg/utils"
)

var ErrInvalidArgument = errors.New("billing: invalid argument")

// ChargeStore is implemented by any package owning a billable resource row
// (internal/calls, internal/dialer, internal/actions). It must lock the row
// for update and report whether it has already been billed.
type ChargeStore interface {
	// LockForCharge locks resourceID for update and returns the owning user
	// and, if already billed, the existing transaction id.
	LockForCharge(ctx context.Context, tx *sql.Tx, resourceID string) (ChargeState, error)
	// MarkCharged persists billed=true, billing_transaction_id=txnID.
	MarkCharged(ctx context.Context, tx *sql.Tx, resourceID, txnID string) error
}

type ChargeState struct {
	UserID              string
	AlreadyBilled       bool
	BillingTransactionID string
}

// RefundStore is implemented by the same resource packages for the refund
// half of the discipline.
type RefundStore interface {
	// ClaimForRefund performs the conditional UPDATE that only matches rows
	// with refund_status IN (none, failed) AND billing_transaction_id IS NOT
	// NULL, transitioning them to refund_status=pending. Returns found=false
	// if no row matched (already refunded, already pending, or never charged).
	ClaimForRefund(ctx context.Context, tx *sql.Tx, resourceID string) (userID string, found bool, err error)
	// MarkRefunded sets refund_status=completed, refund_transaction_id=txnID,
	// billing_transaction_id=NULL.
	MarkRefunded(ctx context.Context, tx *sql.Tx, resourceID, txnID string) error
	// MarkRefundFailed sets refund_status=failed. errText carries the ledger
	// error; the internal/actions implementation does not store it.
	MarkRefundFailed(ctx context.Context, tx *sql.Tx, resourceID, errText string) error
}

type ChargeStatus string

const (
	ChargeStatusCharged        ChargeStatus = "charged"
	ChargeStatusAlreadyCharged ChargeStatus = "already_charged"
)

type ChargeOutcome struct {
	Status        ChargeStatus
	TransactionID string
}

type RefundStatus string

const (
	RefundStatusRefunded RefundStatus = "refunded"
	RefundStatusSkipped  RefundStatus = "skipped"
	RefundStatusFailed   RefundStatus = "failed"
)

type RefundOutcome struct {
	Status        RefundStatus
	TransactionID string
}

// Engine runs the charge/refund sequences described in §4.2 over whichever
// ChargeStore/RefundStore a caller supplies.
type Engine struct {
	db     *sql.DB
	ledger *ledger.Service
}

func NewEngine(db *sql.DB, ledgerSvc *ledger.Service) *Engine {
	return &Engine{db: db, ledger: ledgerSvc}
}

// Charge locks resourceID, and if it is not already billed, posts a debit
// of amount against userID and marks the resource billed — all in one DB
// transaction. If the debit would overdraw the balance, the whole
// transaction rolls back and ledger.ErrInsufficientFunds is returned so the
// caller (e.g. a tool action handler) can respond 402 without a partial
// write.
func (e *Engine) Charge(ctx context.Context, store ChargeStore, resourceID, userID string, amount money.Amount, description string, kind ledger.TransactionKind) (ChargeOutcome, error) {
	if store == nil || resourceID == "" || userID == "" || amount.IsZero() {
		return ChargeOutcome{}, ErrInvalidArgument
	}

	var out ChargeOutcome
	err := utils.WithTx(ctx, e.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		state, err := store.LockForCharge(ctx, tx, resourceID)
		if err != nil {
			return err
		}
		if state.AlreadyBilled {
			out = ChargeOutcome{Status: ChargeStatusAlreadyCharged, TransactionID: state.BillingTransactionID}
			return nil
		}

		res, err := e.ledger.AdjustTx(ctx, tx, userID, amount.Neg(), description, kind, "", resourceID, true)
		if err != nil {
			return err
		}
		if err := store.MarkCharged(ctx, tx, resourceID, res.TransactionID); err != nil {
			return err
		}

		out = ChargeOutcome{Status: ChargeStatusCharged, TransactionID: res.TransactionID}
		return nil
	})
	return out, err
}

// Refund claims resourceID for refund and, if claimed, posts a credit of
// amount back to userID. On ledger failure the resource is marked
// refund_status=failed with the error text rather than left pending.
func (e *Engine) Refund(ctx context.Context, store RefundStore, resourceID, userID string, amount money.Amount, description string) (RefundOutcome, error) {
	if store == nil || resourceID == "" || userID == "" || amount.IsZero() {
		return RefundOutcome{}, ErrInvalidArgument
	}

	var out RefundOutcome
	err := utils.WithTx(ctx, e.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		_, found, err := store.ClaimForRefund(ctx, tx, resourceID)
		if err != nil {
			return err
		}
		if !found {
			out = RefundOutcome{Status: RefundStatusSkipped}
			return nil
		}

		res, err := e.ledger.AdjustTx(ctx, tx, userID, amount, description, ledger.KindCredit, "", resourceID, false)
		if err != nil {
			if markErr := store.MarkRefundFailed(ctx, tx, resourceID, err.Error()); markErr != nil {
				return markErr
			}
			out = RefundOutcome{Status: RefundStatusFailed}
			return nil
		}
		if err := store.MarkRefunded(ctx, tx, resourceID, res.TransactionID); err != nil {
			return err
		}

		out = RefundOutcome{Status: RefundStatusRefunded, TransactionID: res.TransactionID}
		return nil
	})
	return out, err
}
