// Package calls owns the CallLog/CallMessage entities: the inbound AI call
// coordinator that answers the telephony provider's dial-in webhook, and
// the event reducer that folds dialin.*/dialout.* events onto the matching
// CallLog row.
package calls

import "time"

type CallStatus string

const (
	StatusPending                    CallStatus = "pending"
	StatusBlockedInsufficientFunds   CallStatus = "blocked_insufficient_funds"
	StatusBlockedBalanceCheckFailed  CallStatus = "blocked_balance_check_failed"
	StatusPipecatStarted             CallStatus = "pipecat_started"
	StatusPipecatStartFailed         CallStatus = "pipecat_start_failed"
	StatusConnected                  CallStatus = "connected"
	StatusMissed                     CallStatus = "missed"
	StatusCompleted                  CallStatus = "completed"
	StatusError                      CallStatus = "error"
	StatusWarning                    CallStatus = "warning"
)

type RefundStatus string

const (
	RefundStatusNone      RefundStatus = "none"
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusFailed    RefundStatus = "failed"
)

// CallLog is one inbound-or-outbound call leg, billable at most once via
// the billed/billing_transaction_id pair.
type CallLog struct {
	ID string `json:"id" db:"id"`

	// CallDomain+CallID form the provider's canonical identity for the
	// call; EventCallID is what later event webhooks reference once a
	// fallback matching strategy has bound this row to them.
	CallDomain  string `json:"call_domain" db:"call_domain"`
	CallID      string `json:"call_id" db:"call_id"`
	EventCallID string `json:"event_call_id,omitempty" db:"event_call_id"`

	UserID  string `json:"user_id" db:"user_id"`
	AgentID string `json:"agent_id,omitempty" db:"agent_id"`

	ToNumber   string `json:"to_number" db:"to_number"`
	FromNumber string `json:"from_number" db:"from_number"`

	Direction string `json:"direction" db:"direction"` // inbound | outbound

	Status CallStatus `json:"status" db:"status"`

	TimeStart   time.Time  `json:"time_start" db:"time_start"`
	TimeConnect *time.Time `json:"time_connect,omitempty" db:"time_connect"`
	TimeEnd     *time.Time `json:"time_end,omitempty" db:"time_end"`

	Billsec  int64 `json:"billsec" db:"billsec"`
	IsTollFree bool `json:"is_tollfree" db:"is_tollfree"`

	Billed              bool    `json:"billed" db:"billed"`
	BillingTransactionID *string `json:"billing_transaction_id,omitempty" db:"billing_transaction_id"`

	RefundStatus        RefundStatus `json:"refund_status" db:"refund_status"`
	RefundTransactionID *string      `json:"refund_transaction_id,omitempty" db:"refund_transaction_id"`
	RefundError         string       `json:"refund_error,omitempty" db:"refund_error"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

// Duration returns time_end - coalesce(time_connect, time_start), floored
// at zero, in whole seconds.
func (c CallLog) Duration() int64 {
	if c.TimeEnd == nil {
		return 0
	}
	start := c.TimeStart
	if c.TimeConnect != nil {
		start = *c.TimeConnect
	}
	d := c.TimeEnd.Sub(start)
	if d < 0 {
		return 0
	}
	return int64(d.Seconds())
}

// CallMessage is one turn of a transcript attached to a CallLog, consumed
// by the returning-caller memory lookup.
type CallMessage struct {
	ID        string    `json:"id" db:"id"`
	CallLogID string    `json:"call_log_id" db:"call_log_id"`
	Role      string    `json:"role" db:"role"` // user | assistant
	Content   string    `json:"content" db:"content"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}
