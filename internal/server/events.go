package server

import "time"

const EventVersion = 1

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

type ConnectionStateEvent struct {
	Event
	State     string `json:"state"`
	Kind      string `json:"kind,omitempty"`
	Message   string `json:"message,omitempty"`
	Retryable bool   `json:"retryable"`
}

type TimerEvent struct {
	Event
	RemainingSeconds int `json:"remaining_seconds"`
}

type WrapUpEvent struct {
	Event
	RemainingSeconds int `json:"remaining_seconds"`
}

type SpeakingEvent struct {
	Event
	AgentSpeaking bool `json:"agent_speaking"`
	Volume        int  `json:"volume"`
}

type TranscriptEvent struct {
	Event
	Speaker  string `json:"speaker"`
	Text     string `json:"text"`
	Sequence int    `json:"sequence"`
}

// TranscriptPartialEvent carries the utterance so far; the UI replaces the
// previous partial for the same speaker.
type TranscriptPartialEvent struct {
	Event
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

type ViolationEvent struct {
	Event
	Ordinal       int    `json:"ordinal"`
	ViolationType string `json:"violation_type"`
	Action        string `json:"action"`
	Message       string `json:"message"`
}

type IdleWarningEvent struct {
	Event
	Shown bool `json:"shown"`
}

type FullscreenEvent struct {
	Event
	Command string `json:"command"`
}

type MalpracticeEvent struct {
	Event
	Message string `json:"message"`
}

type SessionEndedEvent struct {
	Event
	InterviewID string  `json:"interview_id"`
	Reason      string  `json:"reason"`
	Duration    float64 `json:"duration"`
}

type RedirectEvent struct {
	Event
	URL string `json:"url"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}
