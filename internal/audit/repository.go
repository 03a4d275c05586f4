package audit

import (
	"context"
	"database/sql"
)

// PostgresRepo is the production Repository: audit_events is insert-only,
// with no Update/Delete paths anywhere in this package.
type PostgresRepo struct {
	db *sql.DB
}

func NewPostgresRepo(db *sql.DB) *PostgresRepo {
	return &PostgresRepo{db: db}
}

func (r *PostgresRepo) Append(ctx context.Context, e Event) error {
	const q = `
INSERT INTO audit_events (
  id, user_id, type, actor_user_id, actor_role, ip_address,
  transaction_id, campaign_id, call_id, override_id, message, metadata, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
`
	_, err := r.db.ExecContext(ctx, q,
		e.ID, e.UserID, e.Type, nullIfEmpty(e.ActorUserID), nullIfEmpty(e.ActorRole), nullIfEmpty(e.IPAddress),
		nullIfEmpty(e.TransactionID), nullIfEmpty(e.CampaignID), nullIfEmpty(e.CallID), nullIfEmpty(e.OverrideID),
		nullIfEmpty(e.Message), nullIfEmpty(e.Metadata), e.CreatedAt,
	)
	return err
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
