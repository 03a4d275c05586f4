package dialer

import (
	"context"
	"database/sql"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"aitelephony-platform/internal/billing"
	"aitelephony-platform/internal/ledger"
	"aitelephony-platform/internal/rates"
	"aitelephony-platform/internal/runtimeprovider"
	"aitelephony-platform/pkg/money"
	"aitelephony-platform/pkg/utils"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	ErrInvalidArgument   = errors.New("dialer: invalid argument")
	ErrAgentRequired     = errors.New("dialer: AI campaign requires an agent owned by the user")
	ErrCallerIDUnset     = errors.New("dialer: campaign's agent has no assigned inbound number for caller id")
)

// AgentOwnershipCheck is implemented by internal/agents so campaign create
// can verify the chosen agent belongs to the user, without importing
// internal/agents directly.
type AgentOwnershipCheck interface {
	OwnsAgent(ctx context.Context, userID, agentID string) (bool, error)
}

// CallerIDLookup is implemented by internal/numbers: the AI campaign's
// caller id is the phone number currently assigned to its agent.
type CallerIDLookup interface {
	CallerIDForAgent(ctx context.Context, agentID string) (string, error)
}

type RateConfig struct {
	RatePerMin      money.Amount
	RoundUpToMinute bool
}

type Service struct {
	db      *sql.DB
	billing *billing.Engine
	ledger  *ledger.Service
	runtime *runtimeprovider.Client
	agents  AgentOwnershipCheck
	numbers CallerIDLookup
	rdb     *redis.Client

	rates RateConfig
	clock func() time.Time
}

func NewService(db *sql.DB, billingEngine *billing.Engine, ledgerSvc *ledger.Service, runtime *runtimeprovider.Client, agents AgentOwnershipCheck, numbers CallerIDLookup, rdb *redis.Client, rateCfg RateConfig) *Service {
	return &Service{
		db: db, billing: billingEngine, ledger: ledgerSvc, runtime: runtime,
		agents: agents, numbers: numbers, rdb: rdb, rates: rateCfg, clock: time.Now,
	}
}

// CreateCampaignRequest mirrors the HTTP layer's create payload; exactly one
// of AgentID/AudioOnlyURL must be set.
type CreateCampaignRequest struct {
	UserID           string
	Name             string
	AgentID          string
	AudioOnlyURL     string
	ConcurrencyLimit int
}

// CreateCampaign validates concurrency_limit in [1,20] and, for AI
// campaigns, that the agent belongs to the user.
func (s *Service) CreateCampaign(ctx context.Context, req CreateCampaignRequest) (Campaign, error) {
	if req.UserID == "" || req.Name == "" {
		return Campaign{}, ErrInvalidArgument
	}
	if req.ConcurrencyLimit < 1 || req.ConcurrencyLimit > 20 {
		return Campaign{}, ErrInvalidArgument
	}
	hasAgent := req.AgentID != ""
	hasAudio := req.AudioOnlyURL != ""
	if hasAgent == hasAudio {
		return Campaign{}, ErrInvalidArgument
	}
	if hasAgent {
		ok, err := s.agents.OwnsAgent(ctx, req.UserID, req.AgentID)
		if err != nil {
			return Campaign{}, err
		}
		if !ok {
			return Campaign{}, ErrAgentRequired
		}
	}

	c := Campaign{
		ID:               uuid.NewString(),
		UserID:           req.UserID,
		Name:             req.Name,
		Status:           CampaignStatusDraft,
		AgentID:          req.AgentID,
		AudioOnlyURL:     req.AudioOnlyURL,
		ConcurrencyLimit: req.ConcurrencyLimit,
		CreatedAt:        s.clock().UTC(),
	}
	if err := insertCampaign(ctx, s.db, c); err != nil {
		return Campaign{}, err
	}
	return c, nil
}

// IngestLeadsCSV parses a header-keyed CSV (phone, name, metadata columns,
// any order, extra columns ignored) and bulk-inserts normalized leads,
// absorbing (campaign_id, phone) duplicates.
func (s *Service) IngestLeadsCSV(ctx context.Context, campaignID string, r io.Reader) (inserted, rejected int, err error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return 0, 0, nil
		}
		return 0, 0, err
	}
	col := map[string]int{}
	for i, h := range header {
		col[strings.ToLower(strings.TrimSpace(h))] = i
	}
	phoneIdx, ok := col["phone"]
	if !ok {
		return 0, 0, ErrInvalidArgument
	}
	nameIdx, hasName := col["name"]
	metaIdx, hasMeta := col["metadata"]

	now := s.clock().UTC()
	var leads []Lead
	for {
		rec, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return inserted, rejected, err
		}
		if phoneIdx >= len(rec) {
			rejected++
			continue
		}
		phone, ok := NormalizeE164(rec[phoneIdx])
		if !ok {
			rejected++
			continue
		}
		l := Lead{ID: uuid.NewString(), CampaignID: campaignID, Phone: phone, CreatedAt: now}
		if hasName && nameIdx < len(rec) {
			l.Name = strings.TrimSpace(rec[nameIdx])
		}
		if hasMeta && metaIdx < len(rec) {
			l.Metadata = strings.TrimSpace(rec[metaIdx])
		}
		leads = append(leads, l)
	}
	if len(leads) == 0 {
		return 0, rejected, nil
	}
	inserted, err = insertLeadsIgnoreDupes(ctx, s.db, leads)
	return inserted, rejected, err
}

// NormalizeE164 prepends +1 to a bare 10-digit NANPA number and rejects
// anything outside 8-15 total digits once normalized.
func NormalizeE164(raw string) (string, bool) {
	digits := stripNonDigits(raw)
	if len(digits) == 10 {
		digits = "1" + digits
	}
	if len(digits) < 8 || len(digits) > 15 {
		return "", false
	}
	return "+" + digits, true
}

func stripNonDigits(s string) string {
	var b strings.Builder
	for _, r := range s {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

const concurrencyCapTTL = 2 * time.Hour

func campaignConcurrencyKey(campaignID string) string {
	return "dialer:concurrency:" + campaignID
}

// Tick runs one scheduler pass over running campaigns (bounded to limit, per
// §4.11's outer iteration cap), claiming and dialing as many pending leads
// as each campaign's concurrency headroom allows.
func (s *Service) Tick(ctx context.Context, limit int) (dialed int, err error) {
	campaigns, err := listRunningCampaigns(ctx, s.db, limit)
	if err != nil {
		return 0, err
	}
	for _, c := range campaigns {
		n, err := s.tickCampaign(ctx, c)
		if err != nil {
			return dialed, err
		}
		dialed += n
	}
	return dialed, nil
}

func (s *Service) tickCampaign(ctx context.Context, c Campaign) (int, error) {
	inProgress, err := countLeadsInProgress(ctx, s.db, c.ID)
	if err != nil {
		return 0, err
	}
	available := c.ConcurrencyLimit - inProgress
	if available <= 0 {
		return 0, nil
	}
	if available > 50 {
		available = 50
	}

	leads, err := claimPendingLeads(ctx, s.db, c.ID, available)
	if err != nil {
		return 0, err
	}

	var callerID string
	if c.AgentID != "" {
		callerID, err = s.numbers.CallerIDForAgent(ctx, c.AgentID)
		if err != nil {
			return 0, err
		}
		if callerID == "" {
			return 0, ErrCallerIDUnset
		}
	}

	dialed := 0
	for _, lead := range leads {
		ok, err := s.acquireConcurrencySlot(ctx, c.ID, c.ConcurrencyLimit)
		if err != nil {
			return dialed, err
		}
		if !ok {
			// Redis fast path disagrees with the DB count (another process
			// raced ahead of this tick); hand the lead back to pending for
			// the next tick rather than dialing over the cap.
			if err := updateLeadStatus(ctx, s.db, lead.ID, LeadStatusPending, ""); err != nil {
				return dialed, err
			}
			continue
		}
		if err := s.dial(ctx, c, lead, callerID); err != nil {
			return dialed, err
		}
		dialed++
	}
	return dialed, nil
}

// dial starts one dial-out session for a claimed lead, transitioning the
// lead and creating its call log row on both success and failure paths.
func (s *Service) dial(ctx context.Context, c Campaign, lead Lead, callerID string) error {
	now := s.clock().UTC()
	callID := dialCallID(c.ID, lead.ID, now)
	domain := "dialer-" + c.ID

	req := runtimeprovider.SessionStartRequest{
		CreateDailyRoom: true,
		Mode:            runtimeprovider.SessionModeDialout,
		DialoutSettings: map[string]any{
			"phone_number": lead.Phone,
			"caller_id":    callerID,
		},
	}
	if c.AgentID != "" {
		req.AgentName = c.AgentID
	}
	if c.IsAudioOnly() {
		req.AgentConfig = map[string]any{"campaign_audio_url": c.AudioOnlyURL}
	}

	log := CallLog{
		ID: uuid.NewString(), CampaignID: c.ID, LeadID: lead.ID, UserID: c.UserID,
		CallDomain: domain, CallID: callID, ToNumber: lead.Phone, FromNumber: callerID,
		Status: "dialing", TimeStart: now, IsTollFree: rates.IsTollFree(lead.Phone), CreatedAt: now,
	}

	if _, err := s.runtime.StartSession(ctx, req); err != nil {
		if uErr := updateLeadStatus(ctx, s.db, lead.ID, LeadStatusFailed, err.Error()); uErr != nil {
			return uErr
		}
		log.Status = "error"
		log.Notes = err.Error()
		return insertCallLog(ctx, s.db, log)
	}

	if err := updateLeadStatus(ctx, s.db, lead.ID, LeadStatusDialing, ""); err != nil {
		return err
	}
	return insertCallLog(ctx, s.db, log)
}

// dialCallID builds "d{campaign}l{lead}-{base36_ts}", truncating the
// campaign/lead id components so the whole string stays within 64 chars.
func dialCallID(campaignID, leadID string, ts time.Time) string {
	stamp := strconv.FormatInt(ts.UnixNano(), 36)
	id := fmt.Sprintf("d%sl%s-%s", campaignID, leadID, stamp)
	if len(id) <= 64 {
		return id
	}
	budget := 64 - len(stamp) - 3 // 'd', 'l', '-'
	half := budget / 2
	return fmt.Sprintf("d%sl%s-%s", truncate(campaignID, half), truncate(leadID, budget-half), stamp)
}

func truncate(s string, n int) string {
	if n < 0 {
		n = 0
	}
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ReduceEvent folds a dialout.* provider event onto the matching call log
// row, keyed by (call_domain, call_id) since outbound legs never need the
// inbound reducer's fallback matching strategies — the dialer always knows
// the call_id it generated.
func (s *Service) ReduceEvent(ctx context.Context, domain, callID, eventType string, eventTS time.Time, reason string, durationS *int64) (CallLog, error) {
	c, err := getCallLogByDomainAndCallID(ctx, s.db, domain, callID)
	if err != nil {
		return CallLog{}, err
	}

	switch eventType {
	case "connected":
		c.Status = "connected"
		c.TimeConnect = &eventTS
	case "stopped", "completed":
		c.Status = "completed"
		c.TimeEnd = &eventTS
		if durationS != nil {
			c.Billsec = *durationS
		} else {
			c.Billsec = c.Duration()
		}
	case "error":
		c.Status = "error"
		c.TimeEnd = &eventTS
		c.Notes = reason
	default:
		return c, nil
	}

	if err := updateCallLogReduction(ctx, s.db, c); err != nil {
		return CallLog{}, err
	}
	if c.Status == "completed" || c.Status == "error" {
		if err := s.releaseConcurrencySlot(ctx, c.CampaignID); err != nil {
			return c, err
		}
	}

	if c.Status == "completed" && c.Billsec > 0 {
		price := rates.OutboundDialerRate(c.Billsec, s.rates.RatePerMin, s.rates.RoundUpToMinute)
		if _, err := s.billing.Charge(ctx, s, c.ID, c.UserID, price.Price, "dialer call "+c.CallID, ledger.KindDebit); err != nil {
			return c, err
		}
	}
	return c, nil
}

// LockForCharge/MarkCharged satisfy billing.ChargeStore so Service can pass
// itself to Engine.Charge.
func (s *Service) LockForCharge(ctx context.Context, tx *sql.Tx, resourceID string) (billing.ChargeState, error) {
	c, err := lockForCharge(ctx, tx, resourceID)
	if err != nil {
		return billing.ChargeState{}, err
	}
	state := billing.ChargeState{UserID: c.UserID, AlreadyBilled: c.Billed}
	if c.BillingTransactionID != nil {
		state.BillingTransactionID = *c.BillingTransactionID
	}
	return state, nil
}

func (s *Service) MarkCharged(ctx context.Context, tx *sql.Tx, resourceID, txnID string) error {
	return markCharged(ctx, tx, resourceID, txnID)
}

// BackfillUnbilled charges any completed dialer calls the tick loop missed,
// mirroring internal/calls' scheduler step.
func (s *Service) BackfillUnbilled(ctx context.Context, userID string, limit int) (int, error) {
	logs, err := listUnbilledCompleted(ctx, s.db, userID, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range logs {
		price := rates.OutboundDialerRate(c.Billsec, s.rates.RatePerMin, s.rates.RoundUpToMinute)
		out, err := s.billing.Charge(ctx, s, c.ID, c.UserID, price.Price, "dialer call "+c.CallID, ledger.KindDebit)
		if err != nil {
			return n, err
		}
		if out.Status == billing.ChargeStatusCharged {
			n++
		}
	}
	return n, nil
}

// BackfillUnbilledAll runs BackfillUnbilled's charge loop across every
// user's completed-but-unbilled dialer calls, for the scheduler's global pass.
func (s *Service) BackfillUnbilledAll(ctx context.Context, limit int) (int, error) {
	logs, err := listUnbilledCompletedAll(ctx, s.db, limit)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, c := range logs {
		price := rates.OutboundDialerRate(c.Billsec, s.rates.RatePerMin, s.rates.RoundUpToMinute)
		out, err := s.billing.Charge(ctx, s, c.ID, c.UserID, price.Price, "dialer call "+c.CallID, ledger.KindDebit)
		if err != nil {
			return n, err
		}
		if out.Status == billing.ChargeStatusCharged {
			n++
		}
	}
	return n, nil
}

// acquireConcurrencySlot is the Redis fast-path mirrored from
// pkg/utils.AcquireConcurrencyCap: an optional accelerant in front of the
// Postgres conditional UPDATE, which remains the system of record for the
// claim itself. Nil rdb (Redis not configured) degrades to "always allow",
// relying solely on the DB claim.
func (s *Service) acquireConcurrencySlot(ctx context.Context, campaignID string, limit int) (bool, error) {
	if s.rdb == nil {
		return true, nil
	}
	return utils.AcquireConcurrencyCap(ctx, s.rdb, campaignConcurrencyKey(campaignID), limit, concurrencyCapTTL)
}

func (s *Service) releaseConcurrencySlot(ctx context.Context, campaignID string) error {
	if s.rdb == nil {
		return nil
	}
	return utils.ReleaseConcurrencyCap(ctx, s.rdb, campaignConcurrencyKey(campaignID))
}
