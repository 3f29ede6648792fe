package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/sjawhar/ghost-interviewer/internal/transcribe"
)

// Writer keeps one markdown transcript file per interview.
type Writer struct {
	dir string
	mu  sync.Mutex
}

func NewWriter(dir string) *Writer {
	return &Writer{dir: dir}
}

func (w *Writer) Append(interviewID string, chunk transcribe.Chunk) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	path := w.Path(interviewID)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer func() { _ = f.Close() }()

	if _, err := fmt.Fprintf(f, "%s\n\n", chunk.FormatMarkdown()); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// WriteTranscript replaces the interview's file with the full transcript
// followed by an optional report section.
func (w *Writer) WriteTranscript(interviewID, title string, chunks []transcribe.Chunk, report string) (string, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", w.dir, err)
	}

	var b strings.Builder
	b.WriteString(transcribe.Markdown(title, chunks))
	if report = strings.TrimSpace(report); report != "" {
		b.WriteString("## Report\n\n")
		b.WriteString(report)
		b.WriteString("\n")
	}

	path := w.Path(interviewID)
	if err := os.WriteFile(path, []byte(b.String()), 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	return path, nil
}

func (w *Writer) Path(interviewID string) string {
	return filepath.Join(w.dir, interviewID+".md")
}
