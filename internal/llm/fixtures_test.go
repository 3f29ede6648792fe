package llm

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

const (
	rubricPrompt  = "Score the candidate against the backend rubric."
	ledgerPrompt  = "Proctoring: 1 warning (fullscreen_exit)."
	transcriptMsg = "**Interviewer:** How would you shard the queue?\n**Candidate:** By tenant, with a rebalancer."
	reportText    = "## Summary\nClear tradeoffs on sharding."
)

// evaluationConversation is the message shape the report worker sends: the
// rubric and ledger as system turns, then the transcript.
func evaluationConversation() []Message {
	return []Message{
		{Role: RoleSystem, Content: rubricPrompt},
		{Role: RoleSystem, Content: ledgerPrompt},
		{Role: RoleUser, Content: transcriptMsg},
		{Role: RoleAssistant, Content: "Understood."},
		{Role: RoleUser, Content: "Write the report."},
	}
}

// jsonProvider serves every request with reply after handing the decoded
// body to inspect.
func jsonProvider(t *testing.T, path string, reply any, inspect func(r *http.Request, body map[string]any)) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if path != "" && r.URL.Path != path {
			t.Errorf("unexpected path %q", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if inspect != nil {
			inspect(r, body)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(reply)
	}))
}

// field walks nested JSON objects and arrays by key or index.
func field(v any, keys ...any) any {
	for _, k := range keys {
		switch key := k.(type) {
		case string:
			m, ok := v.(map[string]any)
			if !ok {
				return nil
			}
			v = m[key]
		case int:
			a, ok := v.([]any)
			if !ok || key >= len(a) {
				return nil
			}
			v = a[key]
		}
	}
	return v
}

func count(v any) int {
	a, _ := v.([]any)
	return len(a)
}
