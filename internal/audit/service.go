package audit

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

// Repository is the persistence contract for audit events.
//
// It MUST be append-only.
// No Update/Delete methods are provided by design.

type Repository interface {
	Append(ctx context.Context, e Event) error
}

// Service logs internal audit information.
//
// IMPORTANT:
// - Audit is internal-only. Do not expose these records to end users by default.
// - Callers should treat audit logging as best-effort.

type Service struct {
	repo  Repository
	clock func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, clock: time.Now}
}

var ErrInvalidEvent = errors.New("audit: invalid event")

func (s *Service) Append(ctx context.Context, e Event) error {
	if s.repo == nil {
		return errors.New("audit: repository not configured")
	}
	if e.UserID == "" {
		return ErrInvalidEvent
	}
	if e.Type == "" {
		return ErrInvalidEvent
	}

	now := s.clock().UTC()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	return s.repo.Append(ctx, e)
}

// LogAdminAdjustment records an admin-triggered ledger adjustment.
func (s *Service) LogAdminAdjustment(ctx context.Context, userID, actorUserID, actorRole, ip, message, transactionID, metadata string) error {
	return s.Append(ctx, Event{
		UserID:        userID,
		Type:          EventTypeAdminAdjustment,
		ActorUserID:   actorUserID,
		ActorRole:     actorRole,
		IPAddress:     ip,
		TransactionID: transactionID,
		Message:       message,
		Metadata:      metadata,
	})
}

// LogRoutingOverride records use of a hidden/expiring inbound-routing override.
func (s *Service) LogRoutingOverride(ctx context.Context, userID, actorUserID, actorRole, ip, callID, overrideID, metadata string) error {
	return s.Append(ctx, Event{
		UserID:      userID,
		Type:        EventTypeRoutingOverride,
		ActorUserID: actorUserID,
		ActorRole:   actorRole,
		IPAddress:   ip,
		CallID:      callID,
		OverrideID:  overrideID,
		Message:     "routing override applied",
		Metadata:    metadata,
	})
}
