// Package actions owns the ActionSend entity and the tool-action handlers
// the agent-runtime provider calls back into mid-call: send-email,
// send-sms, send-physical-mail, send-video-meeting-link,
// create-payment-link, log-message. Every handler shares the same
// charge-before-act, dedupe-by-key discipline.
package actions

import "time"

type ActionKind string

const (
	KindEmail        ActionKind = "email"
	KindSMS          ActionKind = "sms"
	KindMail         ActionKind = "mail"
	KindVideoMeeting ActionKind = "video_meeting"
	KindPaymentLink  ActionKind = "payment_link"
	KindLogMessage   ActionKind = "log_message"
)

type ActionStatus string

const (
	StatusPending   ActionStatus = "pending"
	StatusCompleted ActionStatus = "completed"
	StatusFailed    ActionStatus = "failed"
)

type RefundStatus string

const (
	RefundStatusNone      RefundStatus = "none"
	RefundStatusPending   RefundStatus = "pending"
	RefundStatusCompleted RefundStatus = "completed"
	RefundStatusFailed    RefundStatus = "failed"
)

// ActionSend is one tool-action invocation, billable at most once and
// deduplicated by DedupeKey across retries of the "same" call/recipient/
// content fingerprint.
type ActionSend struct {
	ID      string     `json:"id" db:"id"`
	UserID  string     `json:"user_id" db:"user_id"`
	AgentID string     `json:"agent_id,omitempty" db:"agent_id"`
	Kind    ActionKind `json:"kind" db:"kind"`

	DedupeKey string `json:"dedupe_key" db:"dedupe_key"`

	CallID     string `json:"call_id,omitempty" db:"call_id"`
	CallDomain string `json:"call_domain,omitempty" db:"call_domain"`

	RecipientEmail string `json:"recipient_email,omitempty" db:"recipient_email"`
	RecipientPhone string `json:"recipient_phone,omitempty" db:"recipient_phone"`
	RecipientName  string `json:"recipient_name,omitempty" db:"recipient_name"`
	RecipientAddress string `json:"recipient_address,omitempty" db:"recipient_address"`

	Subject string `json:"subject,omitempty" db:"subject"`
	Body    string `json:"body,omitempty" db:"body"`

	TemplateID string `json:"template_id,omitempty" db:"template_id"`

	Status       ActionStatus `json:"status" db:"status"`
	AttemptCount int          `json:"attempt_count" db:"attempt_count"`

	ProviderMessageID string `json:"provider_message_id,omitempty" db:"provider_message_id"`

	Billed               bool    `json:"billed" db:"billed"`
	BillingTransactionID *string `json:"billing_transaction_id,omitempty" db:"billing_transaction_id"`

	RefundStatus        RefundStatus `json:"refund_status" db:"refund_status"`
	RefundTransactionID *string      `json:"refund_transaction_id,omitempty" db:"refund_transaction_id"`

	Error       string `json:"error,omitempty" db:"error"`
	RawPayload  string `json:"raw_payload,omitempty" db:"raw_payload"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
	UpdatedAt time.Time `json:"updated_at" db:"updated_at"`
}
