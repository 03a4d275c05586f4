package dialer

import (
	"testing"
	"time"
)

func TestNormalizeE164(t *testing.T) {
	cases := []struct {
		in   string
		want string
		ok   bool
	}{
		{"5551234567", "+15551234567", true},
		{"(555) 123-4567", "+15551234567", true},
		{"+442071838750", "+442071838750", true},
		{"123", "", false},
		{"1234567890123456", "", false},
	}
	for _, c := range cases {
		got, ok := NormalizeE164(c.in)
		if ok != c.ok || (ok && got != c.want) {
			t.Fatalf("NormalizeE164(%q) = (%q, %v), want (%q, %v)", c.in, got, ok, c.want, c.ok)
		}
	}
}

func TestDialCallIDWithinLimit(t *testing.T) {
	ts := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	id := dialCallID("campaign-1", "lead-1", ts)
	if len(id) > 64 {
		t.Fatalf("call id too long: %d chars: %s", len(id), id)
	}

	longCampaign := "campaign-0123456789012345678901234567890123456789"
	longLead := "lead-0123456789012345678901234567890123456789"
	id = dialCallID(longCampaign, longLead, ts)
	if len(id) > 64 {
		t.Fatalf("truncated call id too long: %d chars: %s", len(id), id)
	}
}
