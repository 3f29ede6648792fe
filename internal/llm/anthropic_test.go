package llm

import (
	"context"
	"net/http"
	"strings"
	"testing"
)

func anthropicReply(texts ...string) map[string]any {
	content := make([]map[string]any, 0, len(texts))
	for _, text := range texts {
		content = append(content, map[string]any{"type": "text", "text": text})
	}
	return map[string]any{
		"id":            "msg_eval",
		"type":          "message",
		"role":          "assistant",
		"model":         "claude-sonnet-4-5",
		"content":       content,
		"stop_reason":   "end_turn",
		"stop_sequence": "",
		"usage":         map[string]any{"input_tokens": 120, "output_tokens": len(texts)},
	}
}

func TestAnthropicLiftsRubricAndLedgerIntoSystem(t *testing.T) {
	server := jsonProvider(t, "/v1/messages", anthropicReply(" ## Summary\n", "Clear tradeoffs on sharding. "), func(_ *http.Request, body map[string]any) {
		if got := field(body, "model"); got != "claude-sonnet-4-5" {
			t.Errorf("expected claude-sonnet-4-5, got %v", got)
		}
		if got := field(body, "max_tokens"); got != float64(DefaultMaxTokens) {
			t.Errorf("expected max_tokens %d, got %v", DefaultMaxTokens, got)
		}
		if n := count(field(body, "system")); n != 2 {
			t.Errorf("expected rubric and ledger system blocks, got %d", n)
		}
		if got := field(body, "system", 1, "text"); got != ledgerPrompt {
			t.Errorf("expected ledger as second system block, got %v", got)
		}
		roles := []string{"user", "assistant", "user"}
		if n := count(field(body, "messages")); n != len(roles) {
			t.Errorf("expected %d chat turns, got %d", len(roles), n)
			return
		}
		for i, role := range roles {
			if got := field(body, "messages", i, "role"); got != role {
				t.Errorf("turn %d: expected %s, got %v", i, role, got)
			}
		}
		if got := field(body, "temperature"); got != nil {
			t.Errorf("expected provider default temperature, got %v", got)
		}
	})
	defer server.Close()

	client, err := newAnthropicClient("test-key", "claude-sonnet-4-5", &clientOptions{baseURL: server.URL})
	if err != nil {
		t.Fatalf("newAnthropicClient failed: %v", err)
	}
	got, err := client.Complete(context.Background(), evaluationConversation())
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != reportText {
		t.Fatalf("expected joined report %q, got %q", reportText, got)
	}
}

func TestAnthropicReportOptions(t *testing.T) {
	server := jsonProvider(t, "", anthropicReply("ok"), func(r *http.Request, body map[string]any) {
		if key := r.Header.Get("X-Api-Key"); key != "test-key" {
			t.Errorf("expected api key header, got %q", key)
		}
		if got := field(body, "max_tokens"); got != float64(1024) {
			t.Errorf("expected max_tokens 1024, got %v", got)
		}
		if got := field(body, "temperature"); got != 0.5 {
			t.Errorf("expected temperature 0.5, got %v", got)
		}
	})
	defer server.Close()

	client, err := NewClient(ProviderAnthropic, "test-key", "claude-sonnet-4-5",
		WithBaseURL(server.URL), WithMaxTokens(1024), WithTemperature(0.5))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	if _, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: transcriptMsg}}); err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
}

func TestAnthropicRefusesUnusableReports(t *testing.T) {
	for name, tc := range map[string]struct {
		blocks   []string
		messages []Message
		want     string
	}{
		"no text blocks":  {messages: []Message{{Role: RoleUser, Content: transcriptMsg}}, want: "empty response"},
		"whitespace only": {blocks: []string{"  ", "\n"}, messages: []Message{{Role: RoleUser, Content: transcriptMsg}}, want: "empty response"},
		"rubric only":     {blocks: []string{"unused"}, messages: []Message{{Role: RoleSystem, Content: rubricPrompt}}, want: "no user message"},
	} {
		t.Run(name, func(t *testing.T) {
			server := jsonProvider(t, "", anthropicReply(tc.blocks...), nil)
			defer server.Close()

			client, err := newAnthropicClient("test-key", "claude-sonnet-4-5", &clientOptions{baseURL: server.URL})
			if err != nil {
				t.Fatalf("newAnthropicClient failed: %v", err)
			}
			_, err = client.Complete(context.Background(), tc.messages)
			if err == nil || !strings.Contains(err.Error(), tc.want) {
				t.Fatalf("expected %q error, got %v", tc.want, err)
			}
		})
	}
}
