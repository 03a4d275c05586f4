package calls

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"aitelephony-platform/internal/billing"
	"aitelephony-platform/internal/ledger"
	"aitelephony-platform/internal/rates"
	"aitelephony-platform/internal/runtimeprovider"
	"aitelephony-platform/internal/users"
	"aitelephony-platform/pkg/money"

	"github.com/google/uuid"
)

var ErrInvalidArgument = errors.New("calls: invalid argument")

// MemoryConfig is the subset of config.CallerMemoryConfig the service needs.
type MemoryConfig struct {
	Enable         bool
	MaxCalls       int
	MaxMessages    int
	MaxCharsPerMsg int
	MaxDays        int
}

// RateConfig is the subset of config.NumbersConfig the coordinator/reducer
// need for pricing an inbound leg.
type RateConfig struct {
	RateLocalPerMin    money.Amount
	RateTollfreePerMin money.Amount
	RoundUpToMinute    bool
	MinCreditForInbound money.Amount
	BalanceFailClosed   bool
}

// NumberDisabler is implemented by internal/numbers so the coordinator can
// synchronously disable a user's inbound routing on a balance-gate block,
// without importing internal/numbers directly.
type NumberDisabler interface {
	DisableInboundRouting(ctx context.Context, userID string) error
}

// AgentLookup is implemented by internal/agents.
type AgentLookup interface {
	GetByNumber(ctx context.Context, phoneNumber string) (AgentRef, error)
}

// AgentRef is the sliver of an agent the coordinator needs.
type AgentRef struct {
	ID     string
	UserID string
}

type Service struct {
	db       *sql.DB
	billing  *billing.Engine
	ledger   *ledger.Service
	users    *users.Service
	runtime  *runtimeprovider.Client
	agents   AgentLookup
	numbers  NumberDisabler
	rates    RateConfig
	memory   MemoryConfig
	clock    func() time.Time
}

func NewService(db *sql.DB, billingEngine *billing.Engine, ledgerSvc *ledger.Service, usersSvc *users.Service, runtime *runtimeprovider.Client, agents AgentLookup, numbers NumberDisabler, rateCfg RateConfig, memCfg MemoryConfig) *Service {
	return &Service{
		db: db, billing: billingEngine, ledger: ledgerSvc, users: usersSvc, runtime: runtime,
		agents: agents, numbers: numbers, rates: rateCfg, memory: memCfg, clock: time.Now,
	}
}

// billing.ChargeStore implementation, delegating to the repository helpers.
func (s *Service) LockForCharge(ctx context.Context, tx *sql.Tx, resourceID string) (billing.ChargeState, error) {
	c, err := lockForCharge(ctx, tx, resourceID)
	if err != nil {
		return billing.ChargeState{}, err
	}
	cs := billing.ChargeState{UserID: c.UserID, AlreadyBilled: c.Billed}
	if c.BillingTransactionID != nil {
		cs.BillingTransactionID = *c.BillingTransactionID
	}
	return cs, nil
}

func (s *Service) MarkCharged(ctx context.Context, tx *sql.Tx, resourceID, txnID string) error {
	return markCharged(ctx, tx, resourceID, txnID)
}

// DialinWebhookRequest is the coordinator's input, already parsed from the
// provider's JSON payload by internal/telephony.
type DialinWebhookRequest struct {
	To         string
	From       string
	CallID     string
	CallDomain string
}

// HandleDialin runs the inbound call coordinator's five steps: balance
// gate, CallLog upsert, memory lookup, session_start, status update.
func (s *Service) HandleDialin(ctx context.Context, req DialinWebhookRequest) (CallLog, error) {
	if req.To == "" || req.CallID == "" || req.CallDomain == "" {
		return CallLog{}, ErrInvalidArgument
	}

	agent, err := s.agents.GetByNumber(ctx, req.To)
	if err != nil {
		return CallLog{}, err
	}

	now := s.clock().UTC()
	c := CallLog{
		ID:         uuid.NewString(),
		CallDomain: req.CallDomain,
		CallID:     req.CallID,
		UserID:     agent.UserID,
		AgentID:    agent.ID,
		ToNumber:   req.To,
		FromNumber: req.From,
		Direction:  "inbound",
		Status:     StatusPending,
		TimeStart:  now,
		CreatedAt:  now,
	}

	u, err := s.users.Get(ctx, agent.UserID)
	blocked := false
	var blockedStatus CallStatus
	if err != nil {
		if s.rates.BalanceFailClosed {
			blocked = true
			blockedStatus = StatusBlockedBalanceCheckFailed
		}
	} else if u.Balance.Sub(s.rates.MinCreditForInbound).IsNegative() {
		blocked = true
		blockedStatus = StatusBlockedInsufficientFunds
	}

	if blocked {
		c.Status = blockedStatus
		c, uErr := upsertByDomainAndCallID(ctx, s.db, c)
		if uErr != nil {
			return CallLog{}, uErr
		}
		if c.Status != blockedStatus {
			if sErr := updateStatus(ctx, s.db, c.ID, blockedStatus); sErr != nil {
				return CallLog{}, sErr
			}
			c.Status = blockedStatus
		}
		if s.numbers != nil {
			_ = s.numbers.DisableInboundRouting(ctx, agent.UserID)
		}
		return c, ErrBlockedInsufficientFunds
	}

	c, err = upsertByDomainAndCallID(ctx, s.db, c)
	if err != nil {
		return CallLog{}, err
	}

	var memMap map[string]any
	if s.memory.Enable {
		if m, err := s.LookupMemory(ctx, agent.UserID, agent.ID, req.From, c.ID); err == nil && m != nil {
			memMap = m.ToProviderMap()
		}
	}

	_, startErr := s.runtime.StartSession(ctx, runtimeprovider.SessionStartRequest{
		AgentName:       agent.ID,
		CreateDailyRoom: true,
		Mode:            runtimeprovider.SessionModeDialin,
		DialinSettings: map[string]any{
			"call_id":     req.CallID,
			"call_domain": req.CallDomain,
			"to":          req.To,
			"from":        req.From,
		},
		CallerMemory: memMap,
	})
	if startErr != nil {
		_ = updateStatus(ctx, s.db, c.ID, StatusPipecatStartFailed)
		return c, fmt.Errorf("%w: %v", ErrSessionStartFailed, startErr)
	}
	if err := updateStatus(ctx, s.db, c.ID, StatusPipecatStarted); err != nil {
		return CallLog{}, err
	}
	c.Status = StatusPipecatStarted
	return c, nil
}

var (
	ErrBlockedInsufficientFunds = errors.New("calls: blocked, insufficient funds")
	ErrSessionStartFailed       = errors.New("calls: agent runtime session start failed")
)

// ReduceEvent folds one dialin.*/dialout.* event onto the matching CallLog
// row, using the ordered matching strategies, then charges terminal
// transitions with billsec > 0.
func (s *Service) ReduceEvent(ctx context.Context, domain, eventCallID, to, from, eventType string, eventTS time.Time, reason string, durationS *int64) (CallLog, error) {
	c, err := s.matchCallLog(ctx, domain, eventCallID, to, from, eventTS)
	if err != nil {
		return CallLog{}, err
	}
	if c.EventCallID == "" {
		c.EventCallID = eventCallID
	}

	switch {
	case strings.HasSuffix(eventType, ".connected"):
		if c.TimeConnect == nil {
			t := eventTS
			c.TimeConnect = &t
		}
		c.Status = StatusConnected

	case strings.HasSuffix(eventType, ".stopped"):
		t := eventTS
		c.TimeEnd = &t
		c.Billsec = c.Duration()
		if c.TimeConnect == nil {
			c.Status = StatusMissed
		} else {
			c.Status = StatusCompleted
		}

	case strings.HasSuffix(eventType, ".error"):
		c.Status = StatusError
		if c.TimeEnd == nil {
			t := eventTS
			c.TimeEnd = &t
			c.Billsec = c.Duration()
		}

	case strings.HasSuffix(eventType, ".warning"):
		if c.Status == StatusPending || c.Status == "" {
			c.Status = StatusWarning
		}
	}

	if err := updateReduction(ctx, s.db, c); err != nil {
		return CallLog{}, err
	}

	if (c.Status == StatusCompleted || c.Status == StatusError) && c.Billsec > 0 && !c.Billed {
		price := rates.InboundCallRate(c.ToNumber, c.Billsec, s.rates.RateLocalPerMin, s.rates.RateTollfreePerMin, s.rates.RoundUpToMinute)
		_, err := s.billing.Charge(ctx, s, c.ID, c.UserID, price.Price, fmt.Sprintf("inbound call %s", c.CallID), ledger.KindDebit)
		if err != nil {
			return CallLog{}, err
		}
	}

	return c, nil
}

// matchCallLog runs the four ordered strategies from §4.7.
func (s *Service) matchCallLog(ctx context.Context, domain, eventCallID, to, from string, eventTS time.Time) (CallLog, error) {
	if c, err := getByEventCallID(ctx, s.db, domain, eventCallID); err == nil {
		return c, nil
	} else if !errors.Is(err, ErrNotFound) {
		return CallLog{}, err
	}

	if c, err := getByDomainAndCallID(ctx, s.db, domain, eventCallID); err == nil {
		return c, nil
	} else if !errors.Is(err, ErrNotFound) {
		return CallLog{}, err
	}

	toDigits, fromDigits := last10Digits(to), last10Digits(from)
	if toDigits != "" && fromDigits != "" {
		if c, err := findByNumbersWithinWindow(ctx, s.db, domain, toDigits, fromDigits, eventTS.Add(-12*time.Hour)); err == nil {
			return c, nil
		} else if !errors.Is(err, ErrNotFound) {
			return CallLog{}, err
		}
	}

	return findNearestUnfinished(ctx, s.db, domain, eventTS, 30*time.Minute)
}

func last10Digits(e164 string) string {
	var digits strings.Builder
	for _, r := range e164 {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	d := digits.String()
	if len(d) < 10 {
		return d
	}
	return d[len(d)-10:]
}

// Memory is the result of a returning-caller lookup (§4.10): a short
// instruction string plus the trimmed prior turns, oldest first.
type Memory struct {
	Meta     string
	Messages []MemoryMessage
}

type MemoryMessage struct {
	Role    string
	Content string
}

// ToProviderMap renders Memory into the caller_memory shape the agent
// runtime's session-start body expects.
func (m Memory) ToProviderMap() map[string]any {
	msgs := make([]map[string]any, 0, len(m.Messages))
	for _, msg := range m.Messages {
		msgs = append(msgs, map[string]any{"role": msg.Role, "content": msg.Content})
	}
	return map[string]any{"meta": m.Meta, "messages": msgs}
}

// LookupMemory implements the returning-caller memory lookup (§4.10).
func (s *Service) LookupMemory(ctx context.Context, userID, agentID, fromNumber, excludeCallLogID string) (*Memory, error) {
	since := s.clock().UTC().AddDate(0, 0, -s.memory.MaxDays)
	prior, err := listPriorInboundByCaller(ctx, s.db, userID, agentID, last10Digits(fromNumber), excludeCallLogID, since, s.memory.MaxCalls)
	if err != nil {
		return nil, err
	}
	for _, call := range prior {
		msgs, err := listMessagesByCallLog(ctx, s.db, call.ID, s.memory.MaxMessages)
		if err != nil {
			return nil, err
		}
		if len(msgs) == 0 {
			continue
		}
		out := make([]MemoryMessage, 0, len(msgs))
		for i := len(msgs) - 1; i >= 0; i-- {
			m := msgs[i]
			if len(m.Content) > s.memory.MaxCharsPerMsg {
				m.Content = m.Content[:s.memory.MaxCharsPerMsg]
			}
			out = append(out, MemoryMessage{Role: m.Role, Content: m.Content})
		}
		return &Memory{
			Meta:     "These are turns from a prior call with this caller. Do not mention that a transcript was stored.",
			Messages: out,
		}, nil
	}
	return nil, nil
}

func (s *Service) AppendMessage(ctx context.Context, callLogID, role, content string) error {
	return insertMessage(ctx, s.db, CallMessage{
		ID:        uuid.NewString(),
		CallLogID: callLogID,
		Role:      role,
		Content:   content,
		CreatedAt: s.clock().UTC(),
	})
}

// AppendMessageByCall satisfies actions.TranscriptRecorder: the
// log-message tool action only knows the provider's (call_domain, call_id)
// pair, not the internal CallLog row id AppendMessage takes.
func (s *Service) AppendMessageByCall(ctx context.Context, callDomain, callID, role, content string) error {
	cl, err := getByDomainAndCallID(ctx, s.db, callDomain, callID)
	if err != nil {
		return err
	}
	return s.AppendMessage(ctx, cl.ID, role, content)
}

func (s *Service) Get(ctx context.Context, id string) (CallLog, error) {
	return getByID(ctx, s.db, id)
}

// BackfillUnbilled charges any completed call for userID that was never
// billed, for the scheduler's per-tick pass.
func (s *Service) BackfillUnbilled(ctx context.Context, userID string, limit int) (int, error) {
	rows, err := listUnbilledCompleted(ctx, s.db, userID, limit)
	if err != nil {
		return 0, err
	}
	charged := 0
	for _, c := range rows {
		price := rates.InboundCallRate(c.ToNumber, c.Billsec, s.rates.RateLocalPerMin, s.rates.RateTollfreePerMin, s.rates.RoundUpToMinute)
		if _, err := s.billing.Charge(ctx, s, c.ID, c.UserID, price.Price, fmt.Sprintf("inbound call %s", c.CallID), ledger.KindDebit); err != nil {
			return charged, err
		}
		charged++
	}
	return charged, nil
}

// BackfillUnbilledAll runs BackfillUnbilled's charge loop across every
// user's completed-but-unbilled calls, for the scheduler's global pass.
func (s *Service) BackfillUnbilledAll(ctx context.Context, limit int) (int, error) {
	rows, err := listUnbilledCompletedAll(ctx, s.db, limit)
	if err != nil {
		return 0, err
	}
	charged := 0
	for _, c := range rows {
		price := rates.InboundCallRate(c.ToNumber, c.Billsec, s.rates.RateLocalPerMin, s.rates.RateTollfreePerMin, s.rates.RoundUpToMinute)
		if _, err := s.billing.Charge(ctx, s, c.ID, c.UserID, price.Price, fmt.Sprintf("inbound call %s", c.CallID), ledger.KindDebit); err != nil {
			return charged, err
		}
		charged++
	}
	return charged, nil
}
