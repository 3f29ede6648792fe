package proctor

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestEscalationTable(t *testing.T) {
	for ordinal := 1; ordinal <= 3; ordinal++ {
		action, msg := Escalate(3, ordinal)
		if action != ActionWarning || msg == "" {
			t.Fatalf("ordinal %d: expected warning, got %s %q", ordinal, action, msg)
		}
	}
	for _, ordinal := range []int{4, 5, 10} {
		if action, _ := Escalate(3, ordinal); action != ActionTerminated {
			t.Fatalf("ordinal %d: expected terminated, got %s", ordinal, action)
		}
	}

	_, first := Escalate(3, 1)
	_, second := Escalate(3, 2)
	_, final := Escalate(3, 3)
	if first == second || second == final {
		t.Fatal("expected distinct escalating warning text")
	}
	if _, msg := Escalate(5, 3); msg == final {
		t.Fatal("expected final warning text only at the last warning")
	}
	if _, msg := Escalate(5, 5); msg != final {
		t.Fatalf("expected final warning at ordinal 5, got %q", msg)
	}
}

func TestViolationJSONUsesTimestamp(t *testing.T) {
	v := Violation{
		Type:    FullscreenExit,
		At:      time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC),
		Ordinal: 2,
		Action:  ActionWarning,
	}
	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"timestamp":"2026-03-01T09:30:00Z"`) {
		t.Fatalf("expected timestamp field, got %s", data)
	}
	if strings.Contains(string(data), "details") {
		t.Fatalf("expected empty details omitted, got %s", data)
	}
	if got := v.String(); got != "#2 fullscreen_exit (warning)" {
		t.Fatalf("unexpected string %q", got)
	}
}
