package numbers

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var ErrNotFound = errors.New("numbers: not found")

const selectColumns = `
id, user_id, provider_number_id, phone_number, assigned_agent_id, dial_in_config_id,
cancel_pending, cancel_pending_since, cancel_after, cancel_billed_to,
notice_initial_sent_at, notice_reminder_sent_at, created_at
`

func scanNumber(row interface{ Scan(dest ...any) error }) (ExternalNumber, error) {
	var n ExternalNumber
	var assignedAgentID, dialinConfigID sql.NullString
	err := row.Scan(
		&n.ID, &n.UserID, &n.ProviderNumberID, &n.PhoneNumber, &assignedAgentID, &dialinConfigID,
		&n.CancelPending, &n.CancelPendingSince, &n.CancelAfter, &n.CancelBilledTo,
		&n.NoticeInitialSentAt, &n.NoticeReminderSentAt, &n.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ExternalNumber{}, ErrNotFound
		}
		return ExternalNumber{}, err
	}
	n.AssignedAgentID = assignedAgentID.String
	n.DialinConfigID = dialinConfigID.String
	return n, nil
}

func getByID(ctx context.Context, db *sql.DB, id string) (ExternalNumber, error) {
	return scanNumber(db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM external_numbers WHERE id = $1`, id))
}

func getByIDForUpdate(ctx context.Context, tx *sql.Tx, id string) (ExternalNumber, error) {
	return scanNumber(tx.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM external_numbers WHERE id = $1 FOR UPDATE`, id))
}

func getByPhoneNumber(ctx context.Context, db *sql.DB, phoneNumber string) (ExternalNumber, error) {
	return scanNumber(db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM external_numbers WHERE phone_number = $1`, phoneNumber))
}

func getByAssignedAgent(ctx context.Context, db *sql.DB, agentID string) (ExternalNumber, error) {
	return scanNumber(db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM external_numbers WHERE assigned_agent_id = $1`, agentID))
}

func listByUser(ctx context.Context, db *sql.DB, userID string) ([]ExternalNumber, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+selectColumns+` FROM external_numbers WHERE user_id = $1`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExternalNumber
	for rows.Next() {
		n, err := scanNumber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// listCancelPending returns numbers currently in the cancel_pending state,
// for the scheduler's per-tick sweep.
func listCancelPending(ctx context.Context, db *sql.DB, limit int) ([]ExternalNumber, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+selectColumns+` FROM external_numbers WHERE cancel_pending = true LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExternalNumber
	for rows.Next() {
		n, err := scanNumber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// listAssigned returns numbers with an agent assigned, for the scheduler's
// routing-convergence sweep.
func listAssigned(ctx context.Context, db *sql.DB, limit int) ([]ExternalNumber, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+selectColumns+` FROM external_numbers WHERE assigned_agent_id IS NOT NULL AND assigned_agent_id != '' LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExternalNumber
	for rows.Next() {
		n, err := scanNumber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

// listActive returns numbers not already in cancel_pending, for the
// scheduler's regular monthly billing sweep (cancel_pending numbers get
// their own billing attempt inside ProcessCancelPendingSweep).
func listActive(ctx context.Context, db *sql.DB, limit int) ([]ExternalNumber, error) {
	rows, err := db.QueryContext(ctx, `SELECT `+selectColumns+` FROM external_numbers WHERE cancel_pending = false LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ExternalNumber
	for rows.Next() {
		n, err := scanNumber(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}

func insert(ctx context.Context, execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, n ExternalNumber) error {
	const q = `
INSERT INTO external_numbers (
  id, user_id, provider_number_id, phone_number, assigned_agent_id, dial_in_config_id,
  cancel_pending, cancel_pending_since, cancel_after, cancel_billed_to,
  notice_initial_sent_at, notice_reminder_sent_at, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`
	_, err := execer.ExecContext(ctx, q,
		n.ID, n.UserID, n.ProviderNumberID, n.PhoneNumber, nullIfEmpty(n.AssignedAgentID), nullIfEmpty(n.DialinConfigID),
		n.CancelPending, n.CancelPendingSince, n.CancelAfter, n.CancelBilledTo,
		n.NoticeInitialSentAt, n.NoticeReminderSentAt, n.CreatedAt,
	)
	return err
}

func updateState(ctx context.Context, execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}, n ExternalNumber) error {
	const q = `
UPDATE external_numbers SET
  assigned_agent_id=$2, dial_in_config_id=$3,
  cancel_pending=$4, cancel_pending_since=$5, cancel_after=$6, cancel_billed_to=$7,
  notice_initial_sent_at=$8, notice_reminder_sent_at=$9
WHERE id=$1
`
	_, err := execer.ExecContext(ctx, q,
		n.ID, nullIfEmpty(n.AssignedAgentID), nullIfEmpty(n.DialinConfigID),
		n.CancelPending, n.CancelPendingSince, n.CancelAfter, n.CancelBilledTo,
		n.NoticeInitialSentAt, n.NoticeReminderSentAt,
	)
	return err
}

func deleteNumber(ctx context.Context, db *sql.DB, id string) error {
	_, err := db.ExecContext(ctx, `DELETE FROM external_numbers WHERE id = $1`, id)
	return err
}

// insertBillingCycle performs the INSERT IGNORE equivalent: it relies on
// the (user_id, number_id, billed_to) unique constraint and reports whether
// the row was actually inserted (false means another worker already billed
// this period).
func insertBillingCycle(ctx context.Context, tx *sql.Tx, c NumberBillingCycle) (bool, error) {
	const q = `
INSERT INTO number_billing_cycles (user_id, number_id, billed_to)
VALUES ($1,$2,$3)
ON CONFLICT (user_id, number_id, billed_to) DO NOTHING
`
	res, err := tx.ExecContext(ctx, q, c.UserID, c.NumberID, c.BilledTo)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func deleteBillingCycle(ctx context.Context, tx *sql.Tx, userID, numberID string, billedTo time.Time) error {
	_, err := tx.ExecContext(ctx, `DELETE FROM number_billing_cycles WHERE user_id=$1 AND number_id=$2 AND billed_to=$3`, userID, numberID, billedTo)
	return err
}

func getActiveOverride(ctx context.Context, db *sql.DB, numberID string, now time.Time) (RoutingOverride, bool, error) {
	const q = `
SELECT id, number_id, created_by, reason, expires_at, created_at
FROM number_routing_overrides
WHERE number_id = $1 AND expires_at > $2
ORDER BY expires_at DESC
LIMIT 1
`
	var o RoutingOverride
	err := db.QueryRowContext(ctx, q, numberID, now).Scan(&o.ID, &o.NumberID, &o.CreatedBy, &o.Reason, &o.ExpiresAt, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return RoutingOverride{}, false, nil
		}
		return RoutingOverride{}, false, err
	}
	return o, true, nil
}

func insertOverride(ctx context.Context, db *sql.DB, o RoutingOverride) error {
	const q = `
INSERT INTO number_routing_overrides (id, number_id, created_by, reason, expires_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
`
	_, err := db.ExecContext(ctx, q, o.ID, o.NumberID, o.CreatedBy, o.Reason, o.ExpiresAt, o.CreatedAt)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
