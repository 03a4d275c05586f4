// Package users owns the User entity: every other row in the system is
// scoped to exactly one user. Balance itself is not mutated here — it is
// owned by internal/ledger, which is the only package allowed to write it.
package users

import (
	"time"

	"aitelephony-platform/pkg/money"
)

// User is the account a phone number, agent, campaign, or transaction
// belongs to.
type User struct {
	ID           string       `json:"id" db:"id"`
	Username     string       `json:"username" db:"username"`
	Email        string       `json:"email" db:"email"`
	PasswordHash string       `json:"-" db:"password_hash"`
	Balance      money.Amount `json:"balance" db:"balance"`
	IsActive     bool         `json:"is_active" db:"is_active"`
	IsAdmin      bool         `json:"is_admin" db:"is_admin"`
	Suspended    bool         `json:"suspended" db:"suspended"`

	ContactName string `json:"contact_name,omitempty" db:"contact_name"`
	ContactPhone string `json:"contact_phone,omitempty" db:"contact_phone"`
	AddressLine1 string `json:"address_line1,omitempty" db:"address_line1"`
	AddressLine2 string `json:"address_line2,omitempty" db:"address_line2"`
	City         string `json:"city,omitempty" db:"city"`
	State        string `json:"state,omitempty" db:"state"`
	PostalCode   string `json:"postal_code,omitempty" db:"postal_code"`
	Country      string `json:"country,omitempty" db:"country"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`

	SMTP SMTPSettings `json:"-" db:"-"`
}

// CanTransact reports whether the user is allowed to have billable actions
// performed on their behalf.
func (u User) CanTransact() bool {
	return u.IsActive && !u.Suspended
}

// SMTPSettings is a user's own outbound mail relay: host/port/secure/user
// plus an AES-256-GCM sealed password, per the per-user SMTP requirement.
// A zero-value SMTPSettings (Host=="") means the user has none configured.
type SMTPSettings struct {
	Host         string
	Port         int
	Secure       bool
	Username     string
	FromAddress  string
	PasswordCiphertext []byte
	PasswordIV         []byte
	PasswordTag        []byte
}

func (s SMTPSettings) Configured() bool {
	return s.Host != "" && s.Username != ""
}
