package storage

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/ghost-interviewer/internal/transcribe"
)

func TestWriterAppendsPerInterview(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	ts := time.Date(2026, 2, 26, 10, 30, 0, 0, time.Local)

	if err := w.Append("iv-1", transcribe.Chunk{Speaker: transcribe.Interviewer, Text: "Tell me about yourself.", Sequence: 1, CommittedAt: ts}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := w.Append("iv-1", transcribe.Chunk{Speaker: transcribe.Candidate, Text: "I build services.", Sequence: 2, CommittedAt: ts}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	_ = w.Append("iv-2", transcribe.Chunk{Speaker: transcribe.Candidate, Text: "Other.", Sequence: 1, CommittedAt: ts})

	data, err := os.ReadFile(w.Path("iv-1"))
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	content := string(data)
	if !strings.Contains(content, "**[10:30:00] Interviewer:** Tell me about yourself.") {
		t.Errorf("expected interviewer line, got: %s", content)
	}
	if !strings.Contains(content, "Candidate:** I build services.") {
		t.Errorf("expected candidate line, got: %s", content)
	}
	if strings.Contains(content, "Other.") {
		t.Errorf("expected interviews kept in separate files, got: %s", content)
	}
}

func TestWriterWriteTranscriptWithReport(t *testing.T) {
	w := NewWriter(t.TempDir())
	ts := time.Date(2026, 2, 26, 10, 30, 0, 0, time.UTC)
	chunks := []transcribe.Chunk{
		{Speaker: transcribe.Candidate, Text: "Second.", Sequence: 2, CommittedAt: ts},
		{Speaker: transcribe.Interviewer, Text: "First.", Sequence: 1, CommittedAt: ts},
	}

	path, err := w.WriteTranscript("iv-1", "Mock interview", chunks, "Strong answers.")
	if err != nil {
		t.Fatalf("WriteTranscript failed: %v", err)
	}
	data, _ := os.ReadFile(path)
	content := string(data)

	if !strings.HasPrefix(content, "# Mock interview\n") {
		t.Fatalf("expected title heading, got: %s", content)
	}
	if strings.Index(content, "First.") > strings.Index(content, "Second.") {
		t.Fatalf("expected chunks ordered by sequence, got: %s", content)
	}
	if !strings.Contains(content, "## Report\n\nStrong answers.") {
		t.Fatalf("expected report section, got: %s", content)
	}
}
