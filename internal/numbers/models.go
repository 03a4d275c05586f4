// Package numbers owns the ExternalNumber lifecycle: purchase, monthly
// billing, the grace-period cancellation state machine, and the routing
// sync that keeps dial-in configs convergent with the user's balance.
package numbers

import "time"

type ExternalNumber struct {
	ID               string `json:"id" db:"id"`
	UserID           string `json:"user_id" db:"user_id"`
	ProviderNumberID string `json:"provider_number_id" db:"provider_number_id"`
	PhoneNumber      string `json:"phone_number" db:"phone_number"`

	AssignedAgentID string `json:"assigned_agent_id,omitempty" db:"assigned_agent_id"`
	DialinConfigID  string `json:"dial_in_config_id,omitempty" db:"dial_in_config_id"`

	CancelPending         bool       `json:"cancel_pending" db:"cancel_pending"`
	CancelPendingSince    *time.Time `json:"cancel_pending_since,omitempty" db:"cancel_pending_since"`
	CancelAfter           *time.Time `json:"cancel_after,omitempty" db:"cancel_after"`
	CancelBilledTo        *time.Time `json:"cancel_billed_to,omitempty" db:"cancel_billed_to"`
	NoticeInitialSentAt   *time.Time `json:"notice_initial_sent_at,omitempty" db:"notice_initial_sent_at"`
	NoticeReminderSentAt  *time.Time `json:"notice_reminder_sent_at,omitempty" db:"notice_reminder_sent_at"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// LastBilledTo derives the last fully-paid billing period edge: the
// cancel_billed_to marker, which every successful purchase or monthly
// charge advances, or nil (meaning "never billed, derive from created_at").
func (n ExternalNumber) LastBilledTo() *time.Time {
	return n.CancelBilledTo
}

// NumberBillingCycle is the idempotency row for one month's fee. The
// UNIQUE(user_id, number_id, billed_to) constraint is what makes
// concurrent scheduler ticks safe.
type NumberBillingCycle struct {
	UserID   string    `json:"user_id" db:"user_id"`
	NumberID string    `json:"number_id" db:"number_id"`
	BilledTo time.Time `json:"billed_to" db:"billed_to"`
}

// RoutingOverride is a hidden, expiry-based escape hatch an operator can use
// to keep a number's inbound routing alive past a balance gate (e.g. while
// a disputed card payment is investigated). It is never surfaced to the
// customer; every application is mirrored to internal/audit.
type RoutingOverride struct {
	ID        string    `json:"id" db:"id"`
	NumberID  string    `json:"number_id" db:"number_id"`
	CreatedBy string    `json:"created_by" db:"created_by"`
	Reason    string    `json:"reason" db:"reason"`
	ExpiresAt time.Time `json:"expires_at" db:"expires_at"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
