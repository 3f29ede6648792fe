package transcribe

import (
	"encoding/json"
	"io"
	"log/slog"
	"testing"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
)

func deepgramMessage(t *testing.T, transcript string, final bool) *api.MessageResponse {
	t.Helper()
	raw, err := json.Marshal(map[string]any{
		"is_final": final,
		"channel": map[string]any{
			"alternatives": []map[string]any{{"transcript": transcript}},
		},
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var msg api.MessageResponse
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal deepgram message failed: %v", err)
	}
	return &msg
}

func TestCaptionStateBuildsCumulativeText(t *testing.T) {
	var got []string
	state := newCaptionState(func(s string) { got = append(got, s) }, slog.New(slog.NewTextHandler(io.Discard, nil)))

	for _, m := range []*api.MessageResponse{
		deepgramMessage(t, "I would", false),
		deepgramMessage(t, "I would start", true),
		deepgramMessage(t, "with a", false),
		deepgramMessage(t, "with a queue.", true),
	} {
		if err := state.Message(m); err != nil {
			t.Fatalf("Message failed: %v", err)
		}
	}

	want := []string{"I would", "I would start", "I would start with a", "I would start with a queue."}
	if len(got) != len(want) {
		t.Fatalf("expected %d captions, got %v", len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("caption %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestCaptionStateResetStartsNewUtterance(t *testing.T) {
	var last string
	state := newCaptionState(func(s string) { last = s }, nil)

	_ = state.Message(deepgramMessage(t, "first answer", true))
	state.Reset()
	_ = state.Message(deepgramMessage(t, "second", false))

	if last != "second" {
		t.Fatalf("expected reset to drop prior text, got %q", last)
	}
}

func TestCaptionStateIgnoresEmptyResults(t *testing.T) {
	calls := 0
	state := newCaptionState(func(string) { calls++ }, nil)

	_ = state.Message(&api.MessageResponse{})
	_ = state.Message(deepgramMessage(t, "  ", true))

	if calls != 0 {
		t.Fatalf("expected no captions for empty results, got %d", calls)
	}
}
