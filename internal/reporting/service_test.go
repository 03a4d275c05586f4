package reporting

import (
	"context"
	"testing"
	"time"

	"aitelephony-platform/internal/calls"
)

func TestReporting_UserIsolation(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.InboundCalls = []calls.CallLog{
		{CallID: "c1", UserID: "u1", Status: calls.StatusCompleted, Billsec: 30, TimeStart: now},
		{CallID: "c2", UserID: "u2", Status: calls.StatusCompleted, Billsec: 50, TimeStart: now},
	}
	svc := NewService(repo)

	out, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{UserID: "u1", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalCalls != 1 {
		t.Fatalf("expected 1 call, got %d", out.TotalCalls)
	}
	if out.CompletedCalls != 1 {
		t.Fatalf("expected 1 completed call, got %d", out.CompletedCalls)
	}
}

func TestReporting_SpendSummaryAggregates(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.PutLedgerEntry("u", LedgerRow{AmountMinor: 1000, Currency: "USD", Kind: "credit", CreatedAt: now})
	repo.PutLedgerEntry("u", LedgerRow{AmountMinor: -200, Currency: "USD", Kind: "debit", ReferenceID: "call:c1", CreatedAt: now})
	repo.PutLedgerEntry("u", LedgerRow{AmountMinor: -50, Currency: "USD", Kind: "debit", ReferenceID: "call:c2", CreatedAt: now})
	repo.PutLedgerEntry("u", LedgerRow{AmountMinor: 25, Currency: "USD", Kind: "adjustment", CreatedAt: now})

	svc := NewService(repo)

	out, err := svc.SpendSummary(context.Background(), SpendSummaryRequest{UserID: "u", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}, Currency: "USD"})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if out.TotalDebitMinor != 250 {
		t.Fatalf("expected total debit 250, got %d", out.TotalDebitMinor)
	}
	if out.TotalCreditMinor != 1025 {
		t.Fatalf("expected total credit 1025, got %d", out.TotalCreditMinor)
	}
	if out.NetDeltaMinor != 775 {
		t.Fatalf("expected net 775, got %d", out.NetDeltaMinor)
	}
	if out.UsageDebitMinor != 250 {
		t.Fatalf("expected usage debit 250, got %d", out.UsageDebitMinor)
	}
	if out.AdminAdjustMinor != 25 {
		t.Fatalf("expected admin adjust 25, got %d", out.AdminAdjustMinor)
	}
}

func TestReporting_ConversionMetrics(t *testing.T) {
	repo := NewMemoryRepo()
	now := time.Unix(1700000000, 0).UTC()
	repo.DialerCalls["u|camp"] = []DialerCallRow{
		{Status: "completed", Billsec: 40, CreatedAt: now},
		{Status: "error", CreatedAt: now},
	}
	repo.LeadsDone["camp"] = 1

	svc := NewService(repo)
	m, err := svc.ConversionMetrics(context.Background(), ConversionMetricsRequest{UserID: "u", CampaignID: "camp", Range: TimeRange{From: now.Add(-time.Hour), To: now.Add(time.Hour)}})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if m.CallsAttempted != 2 || m.CallsConnected != 1 || m.LeadsDone != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
	if m.ConnectionRate == 0 {
		t.Fatalf("expected non-zero connection rate")
	}
}

func TestReporting_CallsSummaryRequiresValidRange(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	_, err := svc.CallsSummary(context.Background(), CallsSummaryRequest{UserID: "u"})
	if err != ErrInvalidRequest {
		t.Fatalf("expected ErrInvalidRequest, got %v", err)
	}
}
