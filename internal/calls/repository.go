package calls

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("calls: not found")

const selectColumns = `
id, call_domain, call_id, event_call_id, user_id, agent_id, to_number, from_number,
direction, status, time_start, time_connect, time_end, billsec, is_tollfree,
billed, billing_transaction_id, refund_status, refund_transaction_id, refund_error, created_at
`

func scanCallLog(row interface{ Scan(dest ...any) error }) (CallLog, error) {
	var c CallLog
	var agentID sql.NullString
	var billingTxnID, refundTxnID sql.NullString
	err := row.Scan(
		&c.ID, &c.CallDomain, &c.CallID, &c.EventCallID, &c.UserID, &agentID, &c.ToNumber, &c.FromNumber,
		&c.Direction, &c.Status, &c.TimeStart, &c.TimeConnect, &c.TimeEnd, &c.Billsec, &c.IsTollFree,
		&c.Billed, &billingTxnID, &c.RefundStatus, &refundTxnID, &c.RefundError, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallLog{}, ErrNotFound
		}
		return CallLog{}, err
	}
	c.AgentID = agentID.String
	if billingTxnID.Valid {
		c.BillingTransactionID = &billingTxnID.String
	}
	if refundTxnID.Valid {
		c.RefundTransactionID = &refundTxnID.String
	}
	return c, nil
}

func getByDomainAndCallID(ctx context.Context, db *sql.DB, domain, callID string) (CallLog, error) {
	return scanCallLog(db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM call_logs WHERE call_domain=$1 AND call_id=$2`, domain, callID))
}

func getByEventCallID(ctx context.Context, db *sql.DB, domain, eventCallID string) (CallLog, error) {
	return scanCallLog(db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM call_logs WHERE call_domain=$1 AND event_call_id=$2`, domain, eventCallID))
}

// findByNumbersWithinWindow implements reducer matching strategy (c):
// digits-only to/from numbers within a trailing window, no event id bound
// yet, newest first.
func findByNumbersWithinWindow(ctx context.Context, db *sql.DB, domain, toDigits, fromDigits string, since time.Time) (CallLog, error) {
	const q = `
SELECT ` + selectColumns + ` FROM call_logs
WHERE call_domain=$1 AND event_call_id=''
  AND regexp_replace(to_number, '\D', '', 'g') LIKE '%' || $2
  AND regexp_replace(from_number, '\D', '', 'g') LIKE '%' || $3
  AND time_start >= $4
ORDER BY time_start DESC
LIMIT 1
`
	return scanCallLog(db.QueryRowContext(ctx, q, domain, toDigits, fromDigits, since))
}

// findNearestUnfinished implements reducer matching strategy (d): the
// nearest row with no end-time yet, within +/- window of the event
// timestamp.
func findNearestUnfinished(ctx context.Context, db *sql.DB, domain string, eventTS time.Time, window time.Duration) (CallLog, error) {
	const q = `
SELECT ` + selectColumns + ` FROM call_logs
WHERE call_domain=$1 AND time_end IS NULL
  AND time_start BETWEEN $2 AND $3
ORDER BY abs(extract(epoch FROM (time_start - $4)))
LIMIT 1
`
	return scanCallLog(db.QueryRowContext(ctx, q, domain, eventTS.Add(-window), eventTS.Add(window), eventTS))
}

func getByID(ctx context.Context, db *sql.DB, id string) (CallLog, error) {
	return scanCallLog(db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM call_logs WHERE id=$1`, id))
}

func getByIDForUpdate(ctx context.Context, tx *sql.Tx, id string) (CallLog, error) {
	return scanCallLog(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM call_logs WHERE id=$1 FOR UPDATE`, id))
}

// upsertByDomainAndCallID inserts a new pending row or returns the existing
// one, keyed by (call_domain, call_id), per the coordinator's step 4.
func upsertByDomainAndCallID(ctx context.Context, db *sql.DB, c CallLog) (CallLog, error) {
	const q = `
INSERT INTO call_logs (
  id, call_domain, call_id, event_call_id, user_id, agent_id, to_number, from_number,
  direction, status, time_start, billsec, is_tollfree, billed, refund_status, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,0,false,false,'none',$12)
ON CONFLICT (call_domain, call_id) DO NOTHING
`
	_, err := db.ExecContext(ctx, q,
		c.ID, c.CallDomain, c.CallID, c.EventCallID, c.UserID, nullIfEmpty(c.AgentID), c.ToNumber, c.FromNumber,
		c.Direction, c.Status, c.TimeStart, c.CreatedAt,
	)
	if err != nil {
		return CallLog{}, err
	}
	return getByDomainAndCallID(ctx, db, c.CallDomain, c.CallID)
}

func updateStatus(ctx context.Context, db *sql.DB, id string, status CallStatus) error {
	_, err := db.ExecContext(ctx, `UPDATE call_logs SET status=$2 WHERE id=$1`, id, status)
	return err
}

func bindEventCallID(ctx context.Context, db *sql.DB, id, eventCallID string) error {
	_, err := db.ExecContext(ctx, `UPDATE call_logs SET event_call_id=$2 WHERE id=$1`, id, eventCallID)
	return err
}

func updateReduction(ctx context.Context, execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, c CallLog) error {
	const q = `
UPDATE call_logs SET
  event_call_id=$2, status=$3, time_connect=$4, time_end=$5, billsec=$6, is_tollfree=$7
WHERE id=$1
`
	_, err := execer.ExecContext(ctx, q, c.ID, c.EventCallID, c.Status, c.TimeConnect, c.TimeEnd, c.Billsec, c.IsTollFree)
	return err
}

func lockForCharge(ctx context.Context, tx *sql.Tx, resourceID string) (CallLog, error) {
	return getByIDForUpdate(ctx, tx, resourceID)
}

func markCharged(ctx context.Context, tx *sql.Tx, resourceID, txnID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE call_logs SET billed=true, billing_transaction_id=$2 WHERE id=$1`, resourceID, txnID)
	return err
}

func insertMessage(ctx context.Context, db *sql.DB, m CallMessage) error {
	const q = `INSERT INTO call_messages (id, call_log_id, role, content, created_at) VALUES ($1,$2,$3,$4,$5)`
	_, err := db.ExecContext(ctx, q, m.ID, m.CallLogID, m.Role, m.Content, m.CreatedAt)
	return err
}

func listMessagesByCallLog(ctx context.Context, db *sql.DB, callLogID string, limit int) ([]CallMessage, error) {
	const q = `SELECT id, call_log_id, role, content, created_at FROM call_messages WHERE call_log_id=$1 ORDER BY created_at DESC LIMIT $2`
	rows, err := db.QueryContext(ctx, q, callLogID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CallMessage
	for rows.Next() {
		var m CallMessage
		if err := rows.Scan(&m.ID, &m.CallLogID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

// listPriorInboundByCaller implements the returning-caller lookup's number
// match: exact or last-10-digits, excluding the current call, within
// max_days, status not blocked.
func listPriorInboundByCaller(ctx context.Context, db *sql.DB, userID, agentID, fromDigitsLast10, excludeCallLogID string, since time.Time, limit int) ([]CallLog, error) {
	const q = `
SELECT ` + selectColumns + ` FROM call_logs
WHERE user_id=$1 AND agent_id=$2 AND id != $3
  AND direction='inbound'
  AND status NOT IN ('blocked_insufficient_funds', 'blocked_balance_check_failed')
  AND time_start >= $4
  AND right(regexp_replace(from_number, '\D', '', 'g'), 10) = $5
ORDER BY time_start DESC
LIMIT $6
`
	rows, err := db.QueryContext(ctx, q, userID, agentID, excludeCallLogID, since, fromDigitsLast10, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CallLog
	for rows.Next() {
		c, err := scanCallLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// listUnbilledCompleted finds completed-but-not-yet-charged call logs for
// the scheduler's billing backfill step.
func listUnbilledCompleted(ctx context.Context, db *sql.DB, userID string, limit int) ([]CallLog, error) {
	const q = `
SELECT ` + selectColumns + ` FROM call_logs
WHERE user_id=$1 AND status='completed' AND billed=false AND billsec > 0
LIMIT $2
`
	rows, err := db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CallLog
	for rows.Next() {
		c, err := scanCallLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// listUnbilledCompletedAll is listUnbilledCompleted without the per-user
// filter, for the scheduler's global backfill pass.
func listUnbilledCompletedAll(ctx context.Context, db *sql.DB, limit int) ([]CallLog, error) {
	const q = `
SELECT ` + selectColumns + ` FROM call_logs
WHERE status='completed' AND billed=false AND billsec > 0
LIMIT $1
`
	rows, err := db.QueryContext(ctx, q, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []CallLog
	for rows.Next() {
		c, err := scanCallLog(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
