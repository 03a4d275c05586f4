package users

import (
	"context"
	"database/sql"
	"errors"
)

var ErrNotFound = errors.New("users: not found")

const selectColumns = `
id, username, email, password_hash, balance, is_active, is_admin, suspended,
contact_name, contact_phone, address_line1, address_line2, city, state, postal_code, country,
created_at
`

func scanUser(row interface{ Scan(dest ...any) error }) (User, error) {
	var u User
	err := row.Scan(
		&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.Balance, &u.IsActive, &u.IsAdmin, &u.Suspended,
		&u.ContactName, &u.ContactPhone, &u.AddressLine1, &u.AddressLine2, &u.City, &u.State, &u.PostalCode, &u.Country,
		&u.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrNotFound
		}
		return User{}, err
	}
	return u, nil
}

func getByID(ctx context.Context, db *sql.DB, id string) (User, error) {
	q := `SELECT ` + selectColumns + ` FROM users WHERE id = $1`
	return scanUser(db.QueryRowContext(ctx, q, id))
}

func getByIDForUpdate(ctx context.Context, tx *sql.Tx, id string) (User, error) {
	q := `SELECT ` + selectColumns + ` FROM users WHERE id = $1 FOR UPDATE`
	return scanUser(tx.QueryRowContext(ctx, q, id))
}

func getByEmail(ctx context.Context, db *sql.DB, email string) (User, error) {
	q := `SELECT ` + selectColumns + ` FROM users WHERE email = $1`
	return scanUser(db.QueryRowContext(ctx, q, email))
}

func insert(ctx context.Context, db *sql.DB, u User) error {
	const q = `
INSERT INTO users (
  id, username, email, password_hash, balance, is_active, is_admin, suspended,
  contact_name, contact_phone, address_line1, address_line2, city, state, postal_code, country,
  created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
`
	_, err := db.ExecContext(ctx, q,
		u.ID, u.Username, u.Email, u.PasswordHash, u.Balance, u.IsActive, u.IsAdmin, u.Suspended,
		u.ContactName, u.ContactPhone, u.AddressLine1, u.AddressLine2, u.City, u.State, u.PostalCode, u.Country,
		u.CreatedAt,
	)
	return err
}

func updateProfile(ctx context.Context, db *sql.DB, u User) error {
	const q = `
UPDATE users SET
  contact_name = $2, contact_phone = $3, address_line1 = $4, address_line2 = $5,
  city = $6, state = $7, postal_code = $8, country = $9
WHERE id = $1
`
	res, err := db.ExecContext(ctx, q,
		u.ID, u.ContactName, u.ContactPhone, u.AddressLine1, u.AddressLine2,
		u.City, u.State, u.PostalCode, u.Country,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func setSuspended(ctx context.Context, db *sql.DB, id string, suspended bool) error {
	res, err := db.ExecContext(ctx, `UPDATE users SET suspended = $2 WHERE id = $1`, id, suspended)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func getSMTPSettings(ctx context.Context, db *sql.DB, userID string) (SMTPSettings, error) {
	const q = `
SELECT smtp_host, smtp_port, smtp_secure, smtp_username, smtp_from_address,
       smtp_password_ciphertext, smtp_password_iv, smtp_password_tag
FROM users WHERE id = $1
`
	var host, username, from sql.NullString
	var port sql.NullInt64
	var secure sql.NullBool
	var ciphertext, iv, tag []byte
	err := db.QueryRowContext(ctx, q, userID).Scan(&host, &port, &secure, &username, &from, &ciphertext, &iv, &tag)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return SMTPSettings{}, ErrNotFound
		}
		return SMTPSettings{}, err
	}
	return SMTPSettings{
		Host: host.String, Port: int(port.Int64), Secure: secure.Bool,
		Username: username.String, FromAddress: from.String,
		PasswordCiphertext: ciphertext, PasswordIV: iv, PasswordTag: tag,
	}, nil
}

func setSMTPSettings(ctx context.Context, db *sql.DB, userID string, s SMTPSettings) error {
	const q = `
UPDATE users SET
  smtp_host = $2, smtp_port = $3, smtp_secure = $4, smtp_username = $5, smtp_from_address = $6,
  smtp_password_ciphertext = $7, smtp_password_iv = $8, smtp_password_tag = $9
WHERE id = $1
`
	res, err := db.ExecContext(ctx, q,
		userID, s.Host, s.Port, s.Secure, s.Username, s.FromAddress,
		s.PasswordCiphertext, s.PasswordIV, s.PasswordTag,
	)
	if err != nil {
		return err
	}
	return requireAffected(res)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
