package calls

import (
	"testing"
	"time"
)

func TestCallLogDuration(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	connect := start.Add(5 * time.Second)
	end := start.Add(47 * time.Second)

	c := CallLog{TimeStart: start, TimeConnect: &connect, TimeEnd: &end}
	if got := c.Duration(); got != 42 {
		t.Fatalf("duration = %d, want 42", got)
	}
}

func TestCallLogDurationMissedNoConnect(t *testing.T) {
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.Add(10 * time.Second)
	c := CallLog{TimeStart: start, TimeEnd: &end}
	if got := c.Duration(); got != 10 {
		t.Fatalf("duration = %d, want 10", got)
	}
}

func TestCallLogDurationNoEndIsZero(t *testing.T) {
	c := CallLog{TimeStart: time.Now()}
	if got := c.Duration(); got != 0 {
		t.Fatalf("duration = %d, want 0", got)
	}
}

func TestMemoryToProviderMap(t *testing.T) {
	m := Memory{Meta: "hint", Messages: []MemoryMessage{{Role: "user", Content: "hi"}}}
	out := m.ToProviderMap()
	if out["meta"] != "hint" {
		t.Fatalf("meta not preserved")
	}
	msgs, ok := out["messages"].([]map[string]any)
	if !ok || len(msgs) != 1 {
		t.Fatalf("messages not preserved: %#v", out["messages"])
	}
}

func TestLast10Digits(t *testing.T) {
	cases := map[string]string{
		"+18005551234": "8005551234",
		"5551234":      "5551234",
		"":             "",
	}
	for in, want := range cases {
		if got := last10Digits(in); got != want {
			t.Fatalf("last10Digits(%q) = %q, want %q", in, got, want)
		}
	}
}
