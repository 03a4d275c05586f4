package reporting

import (
	"context"
	"errors"
	"sync"
	"time"

	"aitelephony-platform/internal/calls"
)

// MemoryRepo is a simple in-memory reporting repository for tests. It
// enforces user isolation on every read, same as the Postgres repository's
// WHERE user_id=$1 does.
type MemoryRepo struct {
	mu sync.Mutex

	InboundCalls []calls.CallLog
	DialerCalls  map[string][]DialerCallRow // keyed by user_id|campaign_id
	Ledger       []LedgerRow
	LedgerUser   map[int]string // index into Ledger -> user id, since LedgerRow has no UserID field

	LeadsDone map[string]int // keyed by campaign_id
}

func NewMemoryRepo() *MemoryRepo {
	return &MemoryRepo{
		DialerCalls: map[string][]DialerCallRow{},
		LedgerUser:  map[int]string{},
		LeadsDone:   map[string]int{},
	}
}

func (r *MemoryRepo) ListInboundCalls(ctx context.Context, userID string, from, to time.Time) ([]calls.CallLog, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]calls.CallLog, 0)
	for _, c := range r.InboundCalls {
		if c.UserID != userID {
			continue
		}
		if !c.TimeStart.IsZero() && (c.TimeStart.Before(from) || !c.TimeStart.Before(to)) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) ListDialerCalls(ctx context.Context, userID, campaignID string, from, to time.Time) ([]DialerCallRow, error) {
	if userID == "" || campaignID == "" {
		return nil, errors.New("user_id and campaign_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]DialerCallRow, 0)
	for _, c := range r.DialerCalls[userID+"|"+campaignID] {
		if !c.CreatedAt.IsZero() && (c.CreatedAt.Before(from) || !c.CreatedAt.Before(to)) {
			continue
		}
		out = append(out, c)
	}
	return out, nil
}

func (r *MemoryRepo) ListLedgerEntries(ctx context.Context, userID string, from, to time.Time) ([]LedgerRow, error) {
	if userID == "" {
		return nil, errors.New("user_id required")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]LedgerRow, 0)
	for i, l := range r.Ledger {
		if r.LedgerUser[i] != userID {
			continue
		}
		if !l.CreatedAt.IsZero() && (l.CreatedAt.Before(from) || !l.CreatedAt.Before(to)) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (r *MemoryRepo) CountLeadsDone(ctx context.Context, campaignID string) (int, error) {
	if campaignID == "" {
		return 0, nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.LeadsDone[campaignID], nil
}

// PutLedgerEntry is a MemoryRepo-only test helper, since LedgerRow carries
// no user id of its own.
func (r *MemoryRepo) PutLedgerEntry(userID string, l LedgerRow) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.LedgerUser[len(r.Ledger)] = userID
	r.Ledger = append(r.Ledger, l)
}
