package audit

import (
	"context"
	"testing"
)

func TestService_AppendRequiresUserIDAndType(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.Append(context.Background(), Event{Type: EventTypeAdminAdjustment}); err == nil {
		t.Fatalf("expected error")
	}
	if err := svc.Append(context.Background(), Event{UserID: "u"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestService_AppendsImmutableEvents(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogAdminAdjustment(context.Background(), "u", "admin1", "super_admin", "1.2.3.4", "did something", "txn1", "{}"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].IPAddress != "1.2.3.4" {
		t.Fatalf("expected ip captured")
	}
	if evs[0].Type != EventTypeAdminAdjustment {
		t.Fatalf("expected admin_adjustment")
	}
}

func TestService_LogRoutingOverride(t *testing.T) {
	repo := NewMemoryRepo()
	svc := NewService(repo)

	if err := svc.LogRoutingOverride(context.Background(), "u", "admin1", "super_admin", "1.2.3.4", "call1", "override1", "{}"); err != nil {
		t.Fatalf("unexpected err: %v", err)
	}

	evs := repo.Events()
	if len(evs) != 1 {
		t.Fatalf("expected 1 event")
	}
	if evs[0].Type != EventTypeRoutingOverride {
		t.Fatalf("expected routing_override")
	}
	if evs[0].OverrideID != "override1" {
		t.Fatalf("expected override id captured")
	}
}
