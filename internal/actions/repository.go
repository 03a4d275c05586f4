package actions

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("actions: not found")

const selectColumns = `
id, user_id, agent_id, kind, dedupe_key, call_id, call_domain,
recipient_email, recipient_phone, recipient_name, recipient_address,
subject, body, template_id, status, attempt_count, provider_message_id,
billed, billing_transaction_id, refund_status, refund_transaction_id,
error, raw_payload, created_at, updated_at
`

func scanAction(row interface{ Scan(dest ...any) error }) (ActionSend, error) {
	var a ActionSend
	var agentID, callID, callDomain sql.NullString
	var recEmail, recPhone, recName, recAddr sql.NullString
	var subject, body, templateID, providerMsgID sql.NullString
	var billingTxnID, refundTxnID sql.NullString
	var errText, rawPayload sql.NullString
	err := row.Scan(
		&a.ID, &a.UserID, &agentID, &a.Kind, &a.DedupeKey, &callID, &callDomain,
		&recEmail, &recPhone, &recName, &recAddr,
		&subject, &body, &templateID, &a.Status, &a.AttemptCount, &providerMsgID,
		&a.Billed, &billingTxnID, &a.RefundStatus, &refundTxnID,
		&errText, &rawPayload, &a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ActionSend{}, ErrNotFound
		}
		return ActionSend{}, err
	}
	a.AgentID = agentID.String
	a.CallID = callID.String
	a.CallDomain = callDomain.String
	a.RecipientEmail = recEmail.String
	a.RecipientPhone = recPhone.String
	a.RecipientName = recName.String
	a.RecipientAddress = recAddr.String
	a.Subject = subject.String
	a.Body = body.String
	a.TemplateID = templateID.String
	a.ProviderMessageID = providerMsgID.String
	a.Error = errText.String
	a.RawPayload = rawPayload.String
	if billingTxnID.Valid {
		a.BillingTransactionID = &billingTxnID.String
	}
	if refundTxnID.Valid {
		a.RefundTransactionID = &refundTxnID.String
	}
	return a, nil
}

func getByDedupeKey(ctx context.Context, db *sql.DB, dedupeKey string) (ActionSend, error) {
	return scanAction(db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM action_sends WHERE dedupe_key=$1`, dedupeKey))
}

func getByID(ctx context.Context, db *sql.DB, id string) (ActionSend, error) {
	return scanAction(db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM action_sends WHERE id=$1`, id))
}

func getByIDForUpdate(ctx context.Context, tx *sql.Tx, id string) (ActionSend, error) {
	return scanAction(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM action_sends WHERE id=$1 FOR UPDATE`, id))
}

// insertPending attempts the dedupe_key-unique INSERT that steps 1-2 of the
// tool-action flow rely on. inserted=false means a row with this dedupe_key
// already existed (the caller should then load and branch on its status).
func insertPending(ctx context.Context, db *sql.DB, a ActionSend) (inserted bool, err error) {
	const q = `
INSERT INTO action_sends (
  id, user_id, agent_id, kind, dedupe_key, call_id, call_domain,
  recipient_email, recipient_phone, recipient_name, recipient_address,
  subject, body, template_id, status, attempt_count,
  billed, refund_status, raw_payload, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,1,false,'none',$16,$17,$17)
ON CONFLICT (dedupe_key) DO NOTHING
`
	res, err := db.ExecContext(ctx, q,
		a.ID, a.UserID, nullIfEmpty(a.AgentID), a.Kind, a.DedupeKey, nullIfEmpty(a.CallID), nullIfEmpty(a.CallDomain),
		nullIfEmpty(a.RecipientEmail), nullIfEmpty(a.RecipientPhone), nullIfEmpty(a.RecipientName), nullIfEmpty(a.RecipientAddress),
		nullIfEmpty(a.Subject), nullIfEmpty(a.Body), nullIfEmpty(a.TemplateID), StatusPending,
		nullIfEmpty(a.RawPayload), a.CreatedAt,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// reopenForRetry transitions a failed row back to pending, bumping
// attempt_count, per the dedupe collision rule for a previously-failed send.
func reopenForRetry(ctx context.Context, db *sql.DB, id string, now time.Time) error {
	const q = `UPDATE action_sends SET status=$2, attempt_count=attempt_count+1, error='', updated_at=$3 WHERE id=$1`
	_, err := db.ExecContext(ctx, q, id, StatusPending, now)
	return err
}

func markCompleted(ctx context.Context, db *sql.DB, id, providerMessageID string, now time.Time) error {
	const q = `UPDATE action_sends SET status=$2, provider_message_id=$3, updated_at=$4 WHERE id=$1`
	_, err := db.ExecContext(ctx, q, id, StatusCompleted, nullIfEmpty(providerMessageID), now)
	return err
}

func markFailed(ctx context.Context, db *sql.DB, id, errText string, now time.Time) error {
	const q = `UPDATE action_sends SET status=$2, error=$3, updated_at=$4 WHERE id=$1`
	_, err := db.ExecContext(ctx, q, id, StatusFailed, errText, now)
	return err
}

func lockForCharge(ctx context.Context, tx *sql.Tx, resourceID string) (ActionSend, error) {
	return getByIDForUpdate(ctx, tx, resourceID)
}

func markCharged(ctx context.Context, tx *sql.Tx, resourceID, txnID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE action_sends SET billed=true, billing_transaction_id=$2 WHERE id=$1`, resourceID, txnID)
	return err
}

func claimForRefund(ctx context.Context, tx *sql.Tx, resourceID string) (userID string, found bool, err error) {
	const q = `
UPDATE action_sends SET refund_status=$2
WHERE id=$1 AND refund_status IN ($3,$4) AND billing_transaction_id IS NOT NULL
RETURNING user_id
`
	err = tx.QueryRowContext(ctx, q, resourceID, RefundStatusPending, RefundStatusNone, RefundStatusFailed).Scan(&userID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return userID, true, nil
}

func markRefunded(ctx context.Context, tx *sql.Tx, resourceID, txnID string) error {
	const q = `UPDATE action_sends SET refund_status=$2, refund_transaction_id=$3, billing_transaction_id=NULL WHERE id=$1`
	_, err := tx.ExecContext(ctx, q, resourceID, RefundStatusCompleted, txnID)
	return err
}

func markRefundFailed(ctx context.Context, tx *sql.Tx, resourceID, errText string) error {
	const q = `UPDATE action_sends SET refund_status=$2 WHERE id=$1`
	_, err := tx.ExecContext(ctx, q, resourceID, RefundStatusFailed)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
