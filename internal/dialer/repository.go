package dialer

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("dialer: not found")

func getCampaignByID(ctx context.Context, db *sql.DB, id string) (Campaign, error) {
	const q = `SELECT id, user_id, name, status, agent_id, audio_only_url, concurrency_limit, created_at
FROM dialer_campaigns WHERE id=$1`
	return scanCampaign(db.QueryRowContext(ctx, q, id))
}

func scanCampaign(row interface{ Scan(dest ...any) error }) (Campaign, error) {
	var c Campaign
	var agentID, audioURL sql.NullString
	err := row.Scan(&c.ID, &c.UserID, &c.Name, &c.Status, &agentID, &audioURL, &c.ConcurrencyLimit, &c.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Campaign{}, ErrNotFound
		}
		return Campaign{}, err
	}
	c.AgentID = agentID.String
	c.AudioOnlyURL = audioURL.String
	return c, nil
}

func insertCampaign(ctx context.Context, db *sql.DB, c Campaign) error {
	const q = `INSERT INTO dialer_campaigns (id, user_id, name, status, agent_id, audio_only_url, concurrency_limit, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`
	_, err := db.ExecContext(ctx, q, c.ID, c.UserID, c.Name, c.Status, nullIfEmpty(c.AgentID), nullIfEmpty(c.AudioOnlyURL), c.ConcurrencyLimit, c.CreatedAt)
	return err
}

// listRunningCampaigns returns up to limit campaigns in status='running',
// the scheduler tick's outer loop per the dialer's pseudocode.
func listRunningCampaigns(ctx context.Context, db *sql.DB, limit int) ([]Campaign, error) {
	const q = `SELECT id, user_id, name, status, agent_id, audio_only_url, concurrency_limit, created_at
FROM dialer_campaigns WHERE status=$1 LIMIT $2`
	rows, err := db.QueryContext(ctx, q, CampaignStatusRunning, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Campaign
	for rows.Next() {
		c, err := scanCampaign(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func countLeadsInProgress(ctx context.Context, db *sql.DB, campaignID string) (int, error) {
	const q = `SELECT count(*) FROM dialer_leads WHERE campaign_id=$1 AND status IN ($2,$3)`
	var n int
	err := db.QueryRowContext(ctx, q, campaignID, LeadStatusQueued, LeadStatusDialing).Scan(&n)
	return n, err
}

func scanLead(row interface{ Scan(dest ...any) error }) (Lead, error) {
	var l Lead
	var name, metadata, notes sql.NullString
	err := row.Scan(&l.ID, &l.CampaignID, &l.Phone, &name, &metadata, &l.Status, &notes, &l.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Lead{}, ErrNotFound
		}
		return Lead{}, err
	}
	l.Name = name.String
	l.Metadata = metadata.String
	l.Notes = notes.String
	return l, nil
}

// insertLeadsIgnoreDupes bulk-inserts a CSV batch, absorbing duplicates per
// (campaign_id, phone) via ON CONFLICT DO NOTHING, one statement per row
// inside a single transaction so a bad row doesn't abort the whole batch.
func insertLeadsIgnoreDupes(ctx context.Context, db *sql.DB, leads []Lead) (inserted int, err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	const q = `INSERT INTO dialer_leads (id, campaign_id, phone, name, metadata, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (campaign_id, phone) DO NOTHING`
	for _, l := range leads {
		res, err := tx.ExecContext(ctx, q, l.ID, l.CampaignID, l.Phone, nullIfEmpty(l.Name), nullIfEmpty(l.Metadata), LeadStatusPending, l.CreatedAt)
		if err != nil {
			return inserted, err
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted++
		}
	}
	return inserted, tx.Commit()
}

// claimPendingLeads is the scheduler's atomic claim: the conditional UPDATE
// ... WHERE status='pending' guarantees two concurrent tick runs can never
// claim the same lead, per the dialer's reentrancy requirement.
func claimPendingLeads(ctx context.Context, db *sql.DB, campaignID string, n int) ([]Lead, error) {
	const selectIDs = `SELECT id FROM dialer_leads WHERE campaign_id=$1 AND status=$2 ORDER BY created_at LIMIT $3 FOR UPDATE SKIP LOCKED`
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, selectIDs, campaignID, LeadStatusPending, n)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, tx.Commit()
	}

	var claimed []Lead
	const claim = `UPDATE dialer_leads SET status=$2 WHERE id=$1 AND status=$3
RETURNING id, campaign_id, phone, name, metadata, status, notes, created_at`
	for _, id := range ids {
		l, err := scanLead(tx.QueryRowContext(ctx, claim, id, LeadStatusQueued, LeadStatusPending))
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return nil, err
		}
		claimed = append(claimed, l)
	}
	return claimed, tx.Commit()
}

func updateLeadStatus(ctx context.Context, db *sql.DB, id string, status LeadStatus, notes string) error {
	_, err := db.ExecContext(ctx, `UPDATE dialer_leads SET status=$2, notes=$3 WHERE id=$1`, id, status, nullIfEmpty(notes))
	return err
}

const callLogSelectColumns = `
id, campaign_id, lead_id, user_id, call_domain, call_id, to_number, from_number,
status, time_start, time_connect, time_end, billsec, is_tollfree,
billed, billing_transaction_id, notes, created_at
`

func scanCallLog(row interface{ Scan(dest ...any) error }) (CallLog, error) {
	var c CallLog
	var billingTxnID, notes sql.NullString
	err := row.Scan(
		&c.ID, &c.CampaignID, &c.LeadID, &c.UserID, &c.CallDomain, &c.CallID, &c.ToNumber, &c.FromNumber,
		&c.Status, &c.TimeStart, &c.TimeConnect, &c.TimeEnd, &c.Billsec, &c.IsTollFree,
		&c.Billed, &billingTxnID, &notes, &c.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return CallLog{}, ErrNotFound
		}
		return CallLog{}, err
	}
	if billingTxnID.Valid {
		c.BillingTransactionID = &billingTxnID.String
	}
	c.Notes = notes.String
	return c, nil
}

func insertCallLog(ctx context.Context, db *sql.DB, c CallLog) error {
	const q = `INSERT INTO dialer_call_logs (
  id, campaign_id, lead_id, user_id, call_domain, call_id, to_number, from_number,
  status, time_start, billsec, is_tollfree, billed, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,0,$11,false,$12)`
	_, err := db.ExecContext(ctx, q, c.ID, c.CampaignID, c.LeadID, c.UserID, c.CallDomain, c.CallID, c.ToNumber, c.FromNumber,
		c.Status, c.TimeStart, c.IsTollFree, c.CreatedAt)
	return err
}

func getCallLogByDomainAndCallID(ctx context.Context, db *sql.DB, domain, callID string) (CallLog, error) {
	return scanCallLog(db.QueryRowContext(ctx, `SELECT `+callLogSelectColumns+` FROM dialer_call_logs WHERE call_domain=$1 AND call_id=$2`, domain, callID))
}

func getCallLogByIDForUpdate(ctx context.Context, tx *sql.Tx, id string) (CallLog, error) {
	return scanCallLog(tx.QueryRowContext(ctx, `SELECT `+callLogSelectColumns+` FROM dialer_call_logs WHERE id=$1 FOR UPDATE`, id))
}

func updateCallLogReduction(ctx context.Context, db *sql.DB, c CallLog) error {
	const q = `UPDATE dialer_call_logs SET status=$2, time_connect=$3, time_end=$4, billsec=$5, notes=$6 WHERE id=$1`
	_, err := db.ExecContext(ctx, q, c.ID, c.Status, c.TimeConnect, c.TimeEnd, c.Billsec, nullIfEmpty(c.Notes))
	return err
}

func lockForCharge(ctx context.Context, tx *sql.Tx, resourceID string) (CallLog, error) {
	return getCallLogByIDForUpdate(ctx, tx, resourceID)
}

func markCharged(ctx context.Context, tx *sql.Tx, resourceID, txnID string) error {
	_, err := tx.ExecContext(ctx, `UPDATE dialer_call_logs SET billed=true, billing_transaction_id=$2 WHERE id=$1`, resourceID, txnID)
	return err
}

func listUnbilledCompleted(ctx context.Context, db *sql.DB, userID string, limit int) ([]CallLog, error) {
	const q = `SELECT ` + callLogSelectColumns + ` FROM dialer_call_logs
WHERE user_id=$1 AND status='completed' AND billed=false AND billsec > 0
LIMIT $2`
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
	const q = `SELECT ` + callLogSelectColumns + ` FROM dialer_call_logs
WHERE status='completed' AND billed=false AND billsec > 0
LIMIT $1`
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
