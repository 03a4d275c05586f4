package reporting

import (
	"context"
	"database/sql"
	"time"

	"aitelephony-platform/internal/calls"
	"aitelephony-platform/pkg/money"
)

// PostgresRepo reads directly off the call_logs, dialer_call_logs,
// dialer_leads, and transactions tables owned by internal/calls,
// internal/dialer, and internal/ledger respectively. It holds no write path.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) ListInboundCalls(ctx context.Context, userID string, from, to time.Time) ([]calls.CallLog, error) {
	const q = `
SELECT id, call_domain, call_id, event_call_id, user_id, agent_id, to_number, from_number,
       direction, status, time_start, time_connect, time_end, billsec, is_tollfree,
       billed, billing_transaction_id, refund_status, refund_transaction_id, refund_error, created_at
FROM call_logs
WHERE user_id = $1 AND time_start >= $2 AND time_start < $3
ORDER BY time_start`
	rows, err := r.db.QueryContext(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]calls.CallLog, 0)
	for rows.Next() {
		var c calls.CallLog
		var agentID sql.NullString
		var billingTxnID, refundTxnID sql.NullString
		if err := rows.Scan(
			&c.ID, &c.CallDomain, &c.CallID, &c.EventCallID, &c.UserID, &agentID, &c.ToNumber, &c.FromNumber,
			&c.Direction, &c.Status, &c.TimeStart, &c.TimeConnect, &c.TimeEnd, &c.Billsec, &c.IsTollFree,
			&c.Billed, &billingTxnID, &c.RefundStatus, &refundTxnID, &c.RefundError, &c.CreatedAt,
		); err != nil {
			return nil, err
		}
		c.AgentID = agentID.String
		if billingTxnID.Valid {
			c.BillingTransactionID = &billingTxnID.String
		}
		if refundTxnID.Valid {
			c.RefundTransactionID = &refundTxnID.String
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListDialerCalls(ctx context.Context, userID, campaignID string, from, to time.Time) ([]DialerCallRow, error) {
	const q = `
SELECT status, billsec, created_at
FROM dialer_call_logs
WHERE user_id = $1 AND campaign_id = $2 AND created_at >= $3 AND created_at < $4
ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, userID, campaignID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]DialerCallRow, 0)
	for rows.Next() {
		var c DialerCallRow
		if err := rows.Scan(&c.Status, &c.Billsec, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) ListLedgerEntries(ctx context.Context, userID string, from, to time.Time) ([]LedgerRow, error) {
	const q = `
SELECT amount, kind, reference_id, created_at
FROM transactions
WHERE user_id = $1 AND status = 'completed' AND created_at >= $2 AND created_at < $3
ORDER BY created_at`
	rows, err := r.db.QueryContext(ctx, q, userID, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make([]LedgerRow, 0)
	for rows.Next() {
		var l LedgerRow
		var refID sql.NullString
		var amount money.Amount
		if err := rows.Scan(&amount, &l.Kind, &refID, &l.CreatedAt); err != nil {
			return nil, err
		}
		l.AmountMinor = amount.Int64() / 1_000_000
		l.Currency = "USD"
		l.ReferenceID = refID.String
		out = append(out, l)
	}
	return out, rows.Err()
}

func (r *PostgresRepo) CountLeadsDone(ctx context.Context, campaignID string) (int, error) {
	var n int
	err := r.db.QueryRowContext(ctx, `SELECT count(*) FROM dialer_leads WHERE campaign_id = $1 AND status = 'done'`, campaignID).Scan(&n)
	return n, err
}
