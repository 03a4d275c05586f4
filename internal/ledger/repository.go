package ledger

import (
	"context"
	"database/sql"
	"errors"

	"aitelephony-platform/pkg/money"
)

var ErrNotFound = errors.New("ledger: not found")

// lockUserBalance locks the user row and returns its current balance. All
// money operations serialize on this lock.
func lockUserBalance(ctx context.Context, tx *sql.Tx, userID string) (money.Amount, error) {
	const q = `SELECT balance FROM users WHERE id = $1 FOR UPDATE`
	var bal money.Amount
	if err := tx.QueryRowContext(ctx, q, userID).Scan(&bal); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, ErrNotFound
		}
		return 0, err
	}
	return bal, nil
}

func updateUserBalance(ctx context.Context, tx *sql.Tx, userID string, newBalance money.Amount) error {
	res, err := tx.ExecContext(ctx, `UPDATE users SET balance = $2 WHERE id = $1`, userID, newBalance)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func insertTransaction(ctx context.Context, tx *sql.Tx, t Transaction) error {
	const q = `
INSERT INTO transactions (
  id, user_id, amount, description, kind, payment_method, reference_id,
  balance_before, balance_after, status, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
`
	_, err := tx.ExecContext(ctx, q,
		t.ID, t.UserID, t.Amount, t.Description, t.Kind, t.PaymentMethod, t.ReferenceID,
		t.BalanceBefore, t.BalanceAfter, t.Status, t.CreatedAt,
	)
	return err
}

func getTransaction(ctx context.Context, db *sql.DB, id string) (Transaction, error) {
	const q = `
SELECT id, user_id, amount, description, kind, payment_method, reference_id,
       balance_before, balance_after, status, created_at
FROM transactions WHERE id = $1
`
	var t Transaction
	err := db.QueryRowContext(ctx, q, id).Scan(
		&t.ID, &t.UserID, &t.Amount, &t.Description, &t.Kind, &t.PaymentMethod, &t.ReferenceID,
		&t.BalanceBefore, &t.BalanceAfter, &t.Status, &t.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, err
	}
	return t, nil
}

func listTransactions(ctx context.Context, db *sql.DB, userID string, limit int) ([]Transaction, error) {
	const q = `
SELECT id, user_id, amount, description, kind, payment_method, reference_id,
       balance_before, balance_after, status, created_at
FROM transactions WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2
`
	rows, err := db.QueryContext(ctx, q, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Transaction
	for rows.Next() {
		var t Transaction
		if err := rows.Scan(
			&t.ID, &t.UserID, &t.Amount, &t.Description, &t.Kind, &t.PaymentMethod, &t.ReferenceID,
			&t.BalanceBefore, &t.BalanceAfter, &t.Status, &t.CreatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, rows.Err()
}
