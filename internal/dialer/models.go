// Package dialer owns the outbound campaign/lead/call-log entities and the
// scheduler-tick algorithm that claims pending leads and starts dial-out
// sessions against the agent runtime, mirroring internal/calls' inbound
// coordinator and event reducer for the outbound direction.
package dialer

import "time"

type CampaignStatus string

const (
	CampaignStatusDraft    CampaignStatus = "draft"
	CampaignStatusRunning  CampaignStatus = "running"
	CampaignStatusPaused   CampaignStatus = "paused"
	CampaignStatusComplete CampaignStatus = "complete"
)

// Campaign groups a batch of leads dialed by either an AI agent or a
// pre-recorded audio file, bounded by ConcurrencyLimit simultaneous legs.
type Campaign struct {
	ID     string `json:"id" db:"id"`
	UserID string `json:"user_id" db:"user_id"`

	Name   string         `json:"name" db:"name"`
	Status CampaignStatus `json:"status" db:"status"`

	// AgentID is set for AI campaigns; AudioOnlyURL is set for audio-only
	// campaigns. Exactly one of the two is expected.
	AgentID      string `json:"agent_id,omitempty" db:"agent_id"`
	AudioOnlyURL string `json:"audio_only_url,omitempty" db:"audio_only_url"`

	ConcurrencyLimit int `json:"concurrency_limit" db:"concurrency_limit"`

	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

func (c Campaign) IsAudioOnly() bool {
	return c.AudioOnlyURL != ""
}

type LeadStatus string

const (
	LeadStatusPending LeadStatus = "pending"
	LeadStatusQueued  LeadStatus = "queued"
	LeadStatusDialing LeadStatus = "dialing"
	LeadStatusDone    LeadStatus = "done"
	LeadStatusFailed  LeadStatus = "failed"
)

// Lead is one phone number to dial within a campaign. Phone is always
// normalized E.164 by the time it is persisted.
type Lead struct {
	ID         string     `json:"id" db:"id"`
	CampaignID string     `json:"campaign_id" db:"campaign_id"`
	Phone      string     `json:"phone" db:"phone"`
	Name       string     `json:"name,omitempty" db:"name"`
	Metadata   string     `json:"metadata,omitempty" db:"metadata"`
	Status     LeadStatus `json:"status" db:"status"`
	Notes      string     `json:"notes,omitempty" db:"notes"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}

// CallLog is one outbound call leg, billable at most once via the same
// billed/billing_transaction_id discipline internal/calls uses.
type CallLog struct {
	ID         string `json:"id" db:"id"`
	CampaignID string `json:"campaign_id" db:"campaign_id"`
	LeadID     string `json:"lead_id" db:"lead_id"`
	UserID     string `json:"user_id" db:"user_id"`

	CallDomain string `json:"call_domain" db:"call_domain"`
	CallID     string `json:"call_id" db:"call_id"`

	ToNumber   string `json:"to_number" db:"to_number"`
	FromNumber string `json:"from_number" db:"from_number"`

	Status string `json:"status" db:"status"` // dialing | connected | completed | error

	TimeStart   time.Time  `json:"time_start" db:"time_start"`
	TimeConnect *time.Time `json:"time_connect,omitempty" db:"time_connect"`
	TimeEnd     *time.Time `json:"time_end,omitempty" db:"time_end"`

	Billsec    int64 `json:"billsec" db:"billsec"`
	IsTollFree bool  `json:"is_tollfree" db:"is_tollfree"`

	Billed               bool    `json:"billed" db:"billed"`
	BillingTransactionID *string `json:"billing_transaction_id,omitempty" db:"billing_transaction_id"`

	Notes     string    `json:"notes,omitempty" db:"notes"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

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
