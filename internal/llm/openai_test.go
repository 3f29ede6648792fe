package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

type openaiRequest struct {
	Model               string   `json:"model"`
	MaxCompletionTokens int      `json:"max_completion_tokens"`
	Temperature         *float64 `json:"temperature"`
	Messages            []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// fakeOpenAI answers chat completions with content and hands each decoded
// request to inspect.
func fakeOpenAI(t *testing.T, content string, inspect func(*http.Request, openaiRequest)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Fatalf("unexpected path %q", r.URL.Path)
		}
		var req openaiRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if inspect != nil {
			inspect(r, req)
		}

		choices := []map[string]any{}
		if content != "\x00" {
			choices = append(choices, map[string]any{
				"index":         0,
				"message":       map[string]any{"role": "assistant", "content": content},
				"finish_reason": "stop",
			})
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":      "chatcmpl-eval",
			"object":  "chat.completion",
			"created": 123,
			"model":   req.Model,
			"choices": choices,
		})
	}))
}

func TestOpenAIMapsEvaluationConversation(t *testing.T) {
	server := fakeOpenAI(t, "  ## Summary\nStrong systems answers.  ", func(_ *http.Request, req openaiRequest) {
		if req.Model != "gpt-4o-mini" {
			t.Fatalf("expected model gpt-4o-mini, got %q", req.Model)
		}
		want := []string{"system", "user", "assistant", "user"}
		if len(req.Messages) != len(want) {
			t.Fatalf("expected %d messages, got %d", len(want), len(req.Messages))
		}
		for i, role := range want {
			if req.Messages[i].Role != role {
				t.Fatalf("message %d: expected role %q, got %q", i, role, req.Messages[i].Role)
			}
		}
		if req.Temperature != nil && *req.Temperature != 0 {
			t.Fatalf("expected no temperature by default, got %v", *req.Temperature)
		}
	})
	defer server.Close()

	client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1", maxTokens: DefaultMaxTokens})
	if err != nil {
		t.Fatalf("newOpenAIClient failed: %v", err)
	}

	got, err := client.Complete(context.Background(), []Message{
		{Role: RoleSystem, Content: "Evaluate the candidate against the rubric."},
		{Role: RoleUser, Content: "**Interviewer:** Tell me about a queue you built."},
		{Role: RoleAssistant, Content: "Noted."},
		{Role: "reviewer", Content: "Unknown roles are sent as user turns."},
	})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "## Summary\nStrong systems answers." {
		t.Fatalf("expected trimmed report, got %q", got)
	}
}

func TestNewClientOpenAIHonoursOptions(t *testing.T) {
	server := fakeOpenAI(t, "ok", func(r *http.Request, req openaiRequest) {
		if auth := r.Header.Get("Authorization"); !strings.Contains(auth, "test-key") {
			t.Fatalf("expected auth header to include test-key, got %q", auth)
		}
		if req.MaxCompletionTokens != DefaultMaxTokens {
			t.Fatalf("expected max_completion_tokens %d, got %d", DefaultMaxTokens, req.MaxCompletionTokens)
		}
		if req.Temperature == nil || *req.Temperature != 0.25 {
			t.Fatalf("expected temperature 0.25, got %v", req.Temperature)
		}
	})
	defer server.Close()

	client, err := NewClient(ProviderOpenAI, "test-key", "gpt-4o-mini", WithBaseURL(server.URL+"/v1"), WithTemperature(0.25))
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}

	got, err := client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "Pick a preset."}})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if got != "ok" {
		t.Fatalf("expected response ok, got %q", got)
	}
}

func TestOpenAIRejectsEmptyResponses(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{name: "no choices", content: "\x00", wantErr: "no choices"},
		{name: "blank content", content: "   ", wantErr: "empty response"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := fakeOpenAI(t, tt.content, nil)
			defer server.Close()

			client, err := newOpenAIClient("test-key", "gpt-4o-mini", &clientOptions{baseURL: server.URL + "/v1"})
			if err != nil {
				t.Fatalf("newOpenAIClient failed: %v", err)
			}

			_, err = client.Complete(context.Background(), []Message{{Role: RoleUser, Content: "transcript"}})
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected %q in error, got %q", tt.wantErr, err.Error())
			}
		})
	}
}
