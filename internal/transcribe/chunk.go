package transcribe

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// Speaker identifies which party produced an utterance.
type Speaker string

const (
	Interviewer Speaker = "interviewer"
	Candidate   Speaker = "candidate"
)

// Speakers lists every party in flush order: the candidate's answer is
// committed before the interviewer's reply to it.
var Speakers = []Speaker{Candidate, Interviewer}

func (s Speaker) Valid() bool {
	return s == Interviewer || s == Candidate
}

func (s Speaker) Label() string {
	switch s {
	case Interviewer:
		return "Interviewer"
	case Candidate:
		return "Candidate"
	default:
		return "Unknown"
	}
}

// Chunk is one committed utterance. Sequence orders chunks within a single
// interview only.
type Chunk struct {
	Speaker     Speaker   `json:"speaker"`
	Text        string    `json:"text"`
	Sequence    int       `json:"sequence"`
	CommittedAt time.Time `json:"committed_at"`
}

func (c Chunk) FormatMarkdown() string {
	ts := c.CommittedAt.Format("15:04:05")
	return fmt.Sprintf("**[%s] %s:** %s", ts, c.Speaker.Label(), strings.TrimSpace(c.Text))
}

// PlainText renders chunks as "Speaker: text" lines ordered by sequence,
// the form fed to report prompts.
func PlainText(chunks []Chunk) string {
	ordered := sortedBySequence(chunks)

	var b strings.Builder
	for _, c := range ordered {
		text := strings.TrimSpace(c.Text)
		if text == "" {
			continue
		}
		b.WriteString(c.Speaker.Label())
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}

// Markdown renders a full transcript document with a heading.
func Markdown(title string, chunks []Chunk) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", strings.TrimSpace(title))
	for _, c := range sortedBySequence(chunks) {
		if strings.TrimSpace(c.Text) == "" {
			continue
		}
		b.WriteString(c.FormatMarkdown())
		b.WriteString("\n\n")
	}
	return b.String()
}

func sortedBySequence(chunks []Chunk) []Chunk {
	ordered := append([]Chunk(nil), chunks...)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Sequence < ordered[j].Sequence
	})
	return ordered
}
