package reporting

import (
	"context"
	"errors"
	"time"

	"aitelephony-platform/internal/calls"
)

var ErrInvalidRequest = errors.New("reporting: invalid request")

// Repository abstracts the read-only queries reporting runs over the
// immutable call-log and ledger tables. It never writes.
type Repository interface {
	ListInboundCalls(ctx context.Context, userID string, from, to time.Time) ([]calls.CallLog, error)

	// ListDialerCalls returns outbound dialer call legs for a user, scoped
	// to one campaign.
	ListDialerCalls(ctx context.Context, userID, campaignID string, from, to time.Time) ([]DialerCallRow, error)

	ListLedgerEntries(ctx context.Context, userID string, from, to time.Time) ([]LedgerRow, error)

	// CountLeadsDone returns the number of dialer leads marked done for a
	// campaign, regardless of time range — leads carry no duration window.
	CountLeadsDone(ctx context.Context, campaignID string) (int, error)
}

// DialerCallRow is the sliver of a dialer call leg reporting needs; kept
// local so this package doesn't need the full dialer campaign/lead surface
// for one field set.
type DialerCallRow struct {
	Status    string // dialing | connected | completed | error
	Billsec   int64
	CreatedAt time.Time
}

// LedgerRow is the sliver of a ledger transaction reporting needs.
type LedgerRow struct {
	AmountMinor int64
	Currency    string
	Kind        string // credit | debit | adjustment
	ReferenceID string
	CreatedAt   time.Time
}

type Service struct {
	repo Repository
}

func NewService(repo Repository) *Service { return &Service{repo: repo} }

func validRange(r TimeRange) bool {
	return !r.From.IsZero() && !r.To.IsZero() && r.To.After(r.From)
}

func (s *Service) CallsSummary(ctx context.Context, req CallsSummaryRequest) (CallsSummary, error) {
	if req.UserID == "" || !validRange(req.Range) {
		return CallsSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return CallsSummary{}, errors.New("reporting: repository not configured")
	}

	out := CallsSummary{UserID: req.UserID, CampaignID: req.CampaignID}

	// An unscoped summary covers inbound AI calls only; a campaign-scoped
	// one covers that campaign's outbound dialer legs instead. The two
	// traffic directions use different status vocabularies, so they are
	// never blended into one summary.
	if req.CampaignID != "" {
		rows, err := s.repo.ListDialerCalls(ctx, req.UserID, req.CampaignID, req.Range.From, req.Range.To)
		if err != nil {
			return CallsSummary{}, err
		}
		for _, c := range rows {
			out.TotalCalls++
			out.TotalDurationSeconds += c.Billsec
			switch c.Status {
			case "completed":
				out.CompletedCalls++
			case "error":
				out.FailedCalls++
			case "dialing", "connected":
				out.InProgressCalls++
			}
		}
		if out.TotalCalls > 0 {
			out.AverageDurationSeconds = out.TotalDurationSeconds / int64(out.TotalCalls)
		}
		return out, nil
	}

	rows, err := s.repo.ListInboundCalls(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return CallsSummary{}, err
	}
	for _, c := range rows {
		out.TotalCalls++
		out.TotalDurationSeconds += c.Billsec
		switch c.Status {
		case calls.StatusCompleted:
			out.CompletedCalls++
		case calls.StatusError, calls.StatusPipecatStartFailed:
			out.FailedCalls++
		case calls.StatusMissed:
			out.MissedCalls++
		case calls.StatusBlockedInsufficientFunds, calls.StatusBlockedBalanceCheckFailed:
			out.BlockedCalls++
		case calls.StatusConnected, calls.StatusPipecatStarted, calls.StatusPending:
			out.InProgressCalls++
		}
	}
	if out.TotalCalls > 0 {
		out.AverageDurationSeconds = out.TotalDurationSeconds / int64(out.TotalCalls)
	}
	return out, nil
}

func (s *Service) SpendSummary(ctx context.Context, req SpendSummaryRequest) (SpendSummary, error) {
	if req.UserID == "" || !validRange(req.Range) {
		return SpendSummary{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return SpendSummary{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListLedgerEntries(ctx, req.UserID, req.Range.From, req.Range.To)
	if err != nil {
		return SpendSummary{}, err
	}

	out := SpendSummary{UserID: req.UserID, Currency: req.Currency}
	for _, l := range rows {
		if out.Currency == "" {
			out.Currency = l.Currency
		}
		if req.Currency != "" && l.Currency != req.Currency {
			continue
		}

		if l.AmountMinor > 0 {
			out.TotalCreditMinor += l.AmountMinor
		} else {
			out.TotalDebitMinor += -l.AmountMinor
		}

		switch l.Kind {
		case "adjustment":
			out.AdminAdjustMinor += l.AmountMinor
		case "debit":
			out.UsageDebitMinor += -l.AmountMinor
		}
	}
	out.NetDeltaMinor = out.TotalCreditMinor - out.TotalDebitMinor
	if out.Currency == "" {
		out.Currency = "USD"
	}
	return out, nil
}

func (s *Service) ConversionMetrics(ctx context.Context, req ConversionMetricsRequest) (ConversionMetrics, error) {
	if req.UserID == "" || req.CampaignID == "" || !validRange(req.Range) {
		return ConversionMetrics{}, ErrInvalidRequest
	}
	if s.repo == nil {
		return ConversionMetrics{}, errors.New("reporting: repository not configured")
	}

	rows, err := s.repo.ListDialerCalls(ctx, req.UserID, req.CampaignID, req.Range.From, req.Range.To)
	if err != nil {
		return ConversionMetrics{}, err
	}
	done, err := s.repo.CountLeadsDone(ctx, req.CampaignID)
	if err != nil {
		return ConversionMetrics{}, err
	}

	out := ConversionMetrics{UserID: req.UserID, CampaignID: req.CampaignID, LeadsDone: done}
	out.CallsAttempted = len(rows)
	for _, c := range rows {
		if c.Status == "completed" || c.Status == "connected" {
			out.CallsConnected++
		}
	}
	if out.CallsAttempted > 0 {
		out.ConnectionRate = float64(out.CallsConnected) / float64(out.CallsAttempted)
	}
	return out, nil
}
