package numbers

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"aitelephony-platform/internal/audit"
	"aitelephony-platform/internal/ledger"
	"aitelephony-platform/internal/rates"
	"aitelephony-platform/internal/telephony"
	"aitelephony-platform/internal/users"
	"aitelephony-platform/pkg/money"
	"aitelephony-platform/pkg/utils"

	"github.com/google/uuid"
)

var ErrInvalidArgument = errors.New("numbers: invalid argument")
var ErrInsufficientBalance = errors.New("numbers: insufficient balance to purchase number")

// BillingConfig is the slice of config.NumbersConfig this service needs.
// Kept as its own struct so the package doesn't import internal/config
// directly (the teacher's services take plain values, not the config
// struct, so callers wire the fields explicitly at construction).
type BillingConfig struct {
	MonthlyFeeLocal    money.Amount
	MonthlyFeeTollfree money.Amount
	MinCreditForInbound money.Amount
	DisableOnLowBalance bool
	GraceDays           int
}

type Service struct {
	db        *sql.DB
	ledger    *ledger.Service
	users     *users.Service
	telephony *telephony.Client
	audit     *audit.Service
	cfg       BillingConfig
	clock     func() time.Time
}

func NewService(db *sql.DB, ledgerSvc *ledger.Service, usersSvc *users.Service, tel *telephony.Client, auditSvc *audit.Service, cfg BillingConfig) *Service {
	return &Service{db: db, ledger: ledgerSvc, users: usersSvc, telephony: tel, audit: auditSvc, cfg: cfg, clock: time.Now}
}

// Purchase buys a number from the provider, stores the local row, and
// immediately charges the first month's fee in the same transaction as the
// insert. It does not assign an agent or create a dial-in config;
// AssignAgent does that once the caller has picked an agent.
//
// A purchase requires a positive balance that covers at least the larger of
// the local/toll-free monthly fees; without this gate a zero-or-negative
// balance user could accumulate numbers that never get billed until the
// generic monthly sweep catches up a month later.
func (s *Service) Purchase(ctx context.Context, userID, desiredNumber string) (ExternalNumber, error) {
	if userID == "" {
		return ExternalNumber{}, ErrInvalidArgument
	}

	u, err := s.users.Get(ctx, userID)
	if err != nil {
		return ExternalNumber{}, err
	}
	minRequired := s.cfg.MonthlyFeeLocal
	if s.cfg.MonthlyFeeTollfree.Sub(minRequired).IsPositive() {
		minRequired = s.cfg.MonthlyFeeTollfree
	}
	if u.Balance.IsNegative() || u.Balance.IsZero() || u.Balance.Sub(minRequired).IsNegative() {
		return ExternalNumber{}, ErrInsufficientBalance
	}

	purchased, err := s.telephony.BuyNumber(ctx, desiredNumber)
	if err != nil {
		return ExternalNumber{}, err
	}

	now := s.clock().UTC()
	periodEnd := now.AddDate(0, 1, 0)
	n := ExternalNumber{
		ID:               uuid.NewString(),
		UserID:           userID,
		ProviderNumberID: purchased.ProviderNumberID,
		PhoneNumber:      purchased.PhoneNumber,
		CreatedAt:        now,
	}

	fee := rates.MonthlyNumberFee(n.PhoneNumber, s.cfg.MonthlyFeeLocal, s.cfg.MonthlyFeeTollfree)
	description := fmt.Sprintf("first month fee for %s, period ending %s", n.PhoneNumber, periodEnd.Format("2006-01-02"))

	err = utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		if err := insert(ctx, tx, n); err != nil {
			return err
		}
		inserted, err := insertBillingCycle(ctx, tx, NumberBillingCycle{UserID: n.UserID, NumberID: n.ID, BilledTo: periodEnd})
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		if _, err := s.ledger.AdjustTx(ctx, tx, n.UserID, fee.Neg(), description, ledger.KindDebit, "", n.ID, true); err != nil {
			return err
		}
		n.CancelBilledTo = &periodEnd
		return updateState(ctx, tx, n)
	})
	if errors.Is(err, ledger.ErrInsufficientFunds) {
		return ExternalNumber{}, ErrInsufficientBalance
	}
	if err != nil {
		return ExternalNumber{}, err
	}
	return n, nil
}

// AssignAgent points numberID's dial-in config at the given agent's
// room-creation callback, creating the config if one doesn't exist yet.
func (s *Service) AssignAgent(ctx context.Context, numberID, agentID, roomCreationAPI, namePrefix string) (ExternalNumber, error) {
	n, err := getByID(ctx, s.db, numberID)
	if err != nil {
		return ExternalNumber{}, err
	}

	cfg := telephony.DialinConfig{
		ID:              n.DialinConfigID,
		PhoneNumber:     n.PhoneNumber,
		RoomCreationAPI: roomCreationAPI,
		NamePrefix:      namePrefix,
	}
	if n.DialinConfigID == "" {
		created, err := s.telephony.CreateDialinConfig(ctx, cfg)
		if err != nil {
			return ExternalNumber{}, err
		}
		n.DialinConfigID = created.ID
	} else {
		if err := s.telephony.UpdateDialinConfig(ctx, cfg); err != nil {
			return ExternalNumber{}, err
		}
	}
	n.AssignedAgentID = agentID
	if err := updateState(ctx, s.db, n); err != nil {
		return ExternalNumber{}, err
	}
	return n, nil
}

// UnassignAgent satisfies agents.NumberUnassigner: it tears down the
// dial-in config for whatever number is currently pointed at agentID, so a
// deleted agent can never again receive inbound calls.
func (s *Service) UnassignAgent(ctx context.Context, agentID string) error {
	n, err := getByAssignedAgent(ctx, s.db, agentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil
		}
		return err
	}
	if n.DialinConfigID != "" {
		if err := s.telephony.DeleteDialinConfig(ctx, n.DialinConfigID); err != nil {
			return err
		}
		n.DialinConfigID = ""
	}
	n.AssignedAgentID = ""
	return updateState(ctx, s.db, n)
}

// RequestCancellation starts the grace-period cancellation state machine at
// the user's request, independent of any billing failure.
func (s *Service) RequestCancellation(ctx context.Context, numberID string) (ExternalNumber, error) {
	n, err := getByID(ctx, s.db, numberID)
	if err != nil {
		return ExternalNumber{}, err
	}
	if n.CancelPending {
		return n, nil
	}
	now := s.clock().UTC()
	after := now.AddDate(0, 0, s.graceDays())
	n.CancelPending = true
	n.CancelPendingSince = &now
	n.CancelAfter = &after
	if err := updateState(ctx, s.db, n); err != nil {
		return ExternalNumber{}, err
	}
	return n, nil
}

func (s *Service) graceDays() int {
	if s.cfg.GraceDays <= 0 {
		return 3
	}
	return s.cfg.GraceDays
}

// nextBillingBoundary returns the end of the next unpaid monthly period and
// whether it has come due relative to now. A nil lastBilledTo means the
// number has never been billed; its first period ends one month after
// createdAt.
func nextBillingBoundary(createdAt time.Time, lastBilledTo *time.Time, now time.Time) (time.Time, bool) {
	start := createdAt
	if lastBilledTo != nil {
		start = *lastBilledTo
	}
	boundary := start.AddDate(0, 1, 0)
	return boundary, !boundary.After(now)
}

// MonthlyBillingTick charges the next unpaid month's fee for n, if due.
// The (user_id, number_id, billed_to) uniqueness on number_billing_cycles
// makes this safe to call concurrently from more than one scheduler
// instance: only one insert wins, and the ledger debit rides inside the
// same transaction as that insert.
func (s *Service) MonthlyBillingTick(ctx context.Context, n ExternalNumber) (billed bool, err error) {
	now := s.clock().UTC()
	periodEnd, due := nextBillingBoundary(n.CreatedAt, n.LastBilledTo(), now)
	if !due {
		return false, nil
	}

	fee := rates.MonthlyNumberFee(n.PhoneNumber, s.cfg.MonthlyFeeLocal, s.cfg.MonthlyFeeTollfree)
	description := fmt.Sprintf("monthly fee for %s, period ending %s", n.PhoneNumber, periodEnd.Format("2006-01-02"))

	var charged bool
	err = utils.WithTx(ctx, s.db, &sql.TxOptions{}, func(ctx context.Context, tx *sql.Tx) error {
		inserted, err := insertBillingCycle(ctx, tx, NumberBillingCycle{UserID: n.UserID, NumberID: n.ID, BilledTo: periodEnd})
		if err != nil {
			return err
		}
		if !inserted {
			return nil
		}
		res, err := s.ledger.AdjustTx(ctx, tx, n.UserID, fee.Neg(), description, ledger.KindDebit, "", n.ID, true)
		if err != nil {
			return err
		}
		_ = res
		locked, err := getByIDForUpdate(ctx, tx, n.ID)
		if err != nil {
			return err
		}
		locked.CancelBilledTo = &periodEnd
		charged = true
		return updateState(ctx, tx, locked)
	})

	if errors.Is(err, ledger.ErrInsufficientFunds) {
		if _, cerr := s.beginCancellation(ctx, n.ID); cerr != nil {
			return false, cerr
		}
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return charged, nil
}

func (s *Service) beginCancellation(ctx context.Context, numberID string) (ExternalNumber, error) {
	n, err := getByID(ctx, s.db, numberID)
	if err != nil {
		return ExternalNumber{}, err
	}
	if n.CancelPending {
		return n, nil
	}
	now := s.clock().UTC()
	after := now.AddDate(0, 0, s.graceDays())
	n.CancelPending = true
	n.CancelPendingSince = &now
	n.CancelAfter = &after
	if err := updateState(ctx, s.db, n); err != nil {
		return ExternalNumber{}, err
	}
	return n, nil
}

// ProcessCancelPendingSweep is the scheduler's per-tick pass over every
// number in cancel_pending: numbers whose grace period has expired are
// released, and numbers whose owner has since funded their balance are
// given one more chance to pay the outstanding period before release.
func (s *Service) ProcessCancelPendingSweep(ctx context.Context, limit int) (released int, recovered int, err error) {
	now := s.clock().UTC()
	pending, err := listCancelPending(ctx, s.db, limit)
	if err != nil {
		return 0, 0, err
	}
	for _, n := range pending {
		if n.CancelAfter != nil && !now.Before(*n.CancelAfter) {
			if err := s.release(ctx, n); err != nil {
				return released, recovered, err
			}
			released++
			continue
		}
		billed, err := s.MonthlyBillingTick(ctx, n)
		if err != nil {
			return released, recovered, err
		}
		if billed {
			recovered++
			n, err = getByID(ctx, s.db, n.ID)
			if err != nil {
				return released, recovered, err
			}
			n.CancelPending = false
			n.CancelPendingSince = nil
			n.CancelAfter = nil
			if err := updateState(ctx, s.db, n); err != nil {
				return released, recovered, err
			}
		}
	}
	return released, recovered, nil
}

// RoutingSweep converges dial-in routing for every agent-assigned number,
// for the scheduler's regular pass (balance can cross the inbound minimum
// in either direction between sweeps without any explicit event firing).
func (s *Service) RoutingSweep(ctx context.Context, limit int, roomCreationAPI, namePrefix string) (converged int, err error) {
	assigned, err := listAssigned(ctx, s.db, limit)
	if err != nil {
		return 0, err
	}
	for _, n := range assigned {
		if err := s.EnsureRouting(ctx, n.ID, roomCreationAPI, namePrefix); err != nil {
			return converged, err
		}
		converged++
	}
	return converged, nil
}

// MonthlyBillingSweep is the scheduler's regular pass over numbers not
// already in cancel_pending; MonthlyBillingTick itself starts cancellation
// on insufficient funds, which moves a number into
// ProcessCancelPendingSweep's territory on the next tick.
func (s *Service) MonthlyBillingSweep(ctx context.Context, limit int) (billed int, err error) {
	active, err := listActive(ctx, s.db, limit)
	if err != nil {
		return 0, err
	}
	for _, n := range active {
		wasBilled, err := s.MonthlyBillingTick(ctx, n)
		if err != nil {
			return billed, err
		}
		if wasBilled {
			billed++
		}
	}
	return billed, nil
}

func (s *Service) release(ctx context.Context, n ExternalNumber) error {
	if n.DialinConfigID != "" {
		if err := s.telephony.DeleteDialinConfig(ctx, n.DialinConfigID); err != nil {
			return err
		}
	}
	if err := s.telephony.ReleaseNumber(ctx, n.ProviderNumberID); err != nil {
		if errors.Is(err, telephony.ErrReleaseTooSoon) {
			return nil
		}
		return err
	}
	return deleteNumber(ctx, s.db, n.ID)
}

// EnsureRouting converges a number's dial-in config with its owner's
// current balance: below the inbound minimum, inbound is disabled (the
// config is torn down) unless an active RoutingOverride applies; at or
// above it, the config is restored.
func (s *Service) EnsureRouting(ctx context.Context, numberID, roomCreationAPI, namePrefix string) error {
	n, err := getByID(ctx, s.db, numberID)
	if err != nil {
		return err
	}
	if n.AssignedAgentID == "" {
		return nil
	}
	if !s.cfg.DisableOnLowBalance {
		return nil
	}

	if _, overridden, err := getActiveOverride(ctx, s.db, numberID, s.clock().UTC()); err != nil {
		return err
	} else if overridden {
		return s.restoreRouting(ctx, n, roomCreationAPI, namePrefix)
	}

	u, err := s.users.Get(ctx, n.UserID)
	if err != nil {
		return err
	}
	if u.Balance.Sub(s.cfg.MinCreditForInbound).IsNegative() {
		return s.disableRouting(ctx, n)
	}
	return s.restoreRouting(ctx, n, roomCreationAPI, namePrefix)
}

func (s *Service) disableRouting(ctx context.Context, n ExternalNumber) error {
	if n.DialinConfigID == "" {
		return nil
	}
	if err := s.telephony.DeleteDialinConfig(ctx, n.DialinConfigID); err != nil {
		return err
	}
	n.DialinConfigID = ""
	return updateState(ctx, s.db, n)
}

func (s *Service) restoreRouting(ctx context.Context, n ExternalNumber, roomCreationAPI, namePrefix string) error {
	if n.DialinConfigID != "" {
		return nil
	}
	created, err := s.telephony.CreateDialinConfig(ctx, telephony.DialinConfig{
		PhoneNumber:     n.PhoneNumber,
		RoomCreationAPI: roomCreationAPI,
		NamePrefix:      namePrefix,
	})
	if err != nil {
		return err
	}
	n.DialinConfigID = created.ID
	return updateState(ctx, s.db, n)
}

// ApplyRoutingOverride records a hidden, expiry-based routing override and
// restores inbound routing immediately, auditing the action under the
// acting operator's identity.
func (s *Service) ApplyRoutingOverride(ctx context.Context, numberID, createdBy, reason, actorRole, ip string, ttl time.Duration, roomCreationAPI, namePrefix string) (RoutingOverride, error) {
	if numberID == "" || createdBy == "" || reason == "" {
		return RoutingOverride{}, ErrInvalidArgument
	}
	n, err := getByID(ctx, s.db, numberID)
	if err != nil {
		return RoutingOverride{}, err
	}

	now := s.clock().UTC()
	o := RoutingOverride{
		ID:        uuid.NewString(),
		NumberID:  numberID,
		CreatedBy: createdBy,
		Reason:    reason,
		ExpiresAt: now.Add(ttl),
		CreatedAt: now,
	}
	if err := insertOverride(ctx, s.db, o); err != nil {
		return RoutingOverride{}, err
	}
	if err := s.restoreRouting(ctx, n, roomCreationAPI, namePrefix); err != nil {
		return RoutingOverride{}, err
	}
	if s.audit != nil {
		_ = s.audit.LogRoutingOverride(ctx, n.UserID, createdBy, actorRole, ip, "", o.ID, reason)
	}
	return o, nil
}

func (s *Service) Get(ctx context.Context, id string) (ExternalNumber, error) {
	return getByID(ctx, s.db, id)
}

func (s *Service) GetByPhoneNumber(ctx context.Context, phoneNumber string) (ExternalNumber, error) {
	return getByPhoneNumber(ctx, s.db, phoneNumber)
}

func (s *Service) ListByUser(ctx context.Context, userID string) ([]ExternalNumber, error) {
	return listByUser(ctx, s.db, userID)
}

// DisableInboundRouting satisfies calls.NumberDisabler: it tears down every
// one of userID's dial-in configs synchronously, used by the inbound
// coordinator's balance gate (§4.6 step 3) so a blocked call immediately
// stops routing to this user rather than waiting for the next scheduler
// tick's routing sync.
func (s *Service) DisableInboundRouting(ctx context.Context, userID string) error {
	nums, err := listByUser(ctx, s.db, userID)
	if err != nil {
		return err
	}
	for _, n := range nums {
		if err := s.disableRouting(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

// CallerIDForAgent satisfies internal/dialer.CallerIDLookup: an AI dialer
// campaign's caller id is whatever number is currently assigned to its agent.
func (s *Service) CallerIDForAgent(ctx context.Context, agentID string) (string, error) {
	n, err := getByAssignedAgent(ctx, s.db, agentID)
	if err != nil {
		return "", err
	}
	return n.PhoneNumber, nil
}
