package reporting

import "time"

// Common filtering inputs.

type TimeRange struct {
	From time.Time `json:"from"`
	To   time.Time `json:"to"`
}

// CallsSummaryRequest requests aggregated call metrics for one user, across
// both inbound AI calls and outbound dialer calls. UserID is required.

type CallsSummaryRequest struct {
	UserID     string    `json:"user_id"`
	Range      TimeRange `json:"range"`
	CampaignID string    `json:"campaign_id,omitempty"`
}

type CallsSummary struct {
	UserID     string `json:"user_id"`
	CampaignID string `json:"campaign_id,omitempty"`

	TotalCalls      int `json:"total_calls"`
	CompletedCalls  int `json:"completed_calls"`
	FailedCalls     int `json:"failed_calls"`
	MissedCalls     int `json:"missed_calls"`
	BlockedCalls    int `json:"blocked_calls"`
	InProgressCalls int `json:"in_progress_calls"`

	TotalDurationSeconds   int64 `json:"total_duration_seconds"`
	AverageDurationSeconds int64 `json:"average_duration_seconds"`
}

// SpendSummaryRequest requests aggregated spend metrics.
// Spend is derived from immutable ledger transactions scoped to a user —
// there is one wallet per user, so no separate wallet id is needed.

type SpendSummaryRequest struct {
	UserID   string    `json:"user_id"`
	Range    TimeRange `json:"range"`
	Currency string    `json:"currency,omitempty"`
}

type SpendSummary struct {
	UserID   string `json:"user_id"`
	Currency string `json:"currency"`

	TotalDebitMinor  int64 `json:"total_debit_minor"`
	TotalCreditMinor int64 `json:"total_credit_minor"`
	NetDeltaMinor    int64 `json:"net_delta_minor"`

	UsageDebitMinor  int64 `json:"usage_debit_minor"`
	AdminAdjustMinor int64 `json:"admin_adjust_minor"`
}

// ConversionMetricsRequest reports a dialer campaign's connection rate and
// its count of leads marked done. CompletionRate is not computed and is
// always zero. CampaignID is required since conversion only makes sense
// scoped to one outbound campaign.

type ConversionMetricsRequest struct {
	UserID     string    `json:"user_id"`
	Range      TimeRange `json:"range"`
	CampaignID string    `json:"campaign_id"`
}

type ConversionMetrics struct {
	UserID     string `json:"user_id"`
	CampaignID string `json:"campaign_id"`

	CallsAttempted int `json:"calls_attempted"`
	CallsConnected int `json:"calls_connected"`
	LeadsDone      int `json:"leads_done"`

	ConnectionRate float64 `json:"connection_rate"`
	CompletionRate float64 `json:"completion_rate"`
}
