package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/ghost-interviewer/internal/live"
	"github.com/sjawhar/ghost-interviewer/internal/proctor"
	"github.com/sjawhar/ghost-interviewer/internal/transcribe"
)

// Hub fans session events out to every connected kiosk page. Slow clients
// drop messages rather than stall the session.
type Hub struct {
	logger *slog.Logger

	mu      sync.RWMutex
	clients map[chan []byte]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, clients: make(map[chan []byte]struct{})}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Clients() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastConnectionState(state live.State, err error) {
	ev := ConnectionStateEvent{
		Event: newEvent("connection_state", time.Now().UTC()),
		State: state.String(),
	}
	var le *live.Error
	if errors.As(err, &le) {
		ev.Kind = string(le.Kind)
		ev.Message = le.Message()
		ev.Retryable = true
	} else if state == live.Error {
		ev.Retryable = true
	}
	h.broadcastEvent(ev)
}

func (h *Hub) BroadcastTimer(remainingSeconds int) {
	h.broadcastEvent(TimerEvent{
		Event:            newEvent("timer", time.Now().UTC()),
		RemainingSeconds: remainingSeconds,
	})
}

func (h *Hub) BroadcastWrapUp(remainingSeconds int) {
	h.broadcastEvent(WrapUpEvent{
		Event:            newEvent("wrap_up", time.Now().UTC()),
		RemainingSeconds: remainingSeconds,
	})
}

func (h *Hub) BroadcastSpeaking(agentSpeaking bool, volume int) {
	h.broadcastEvent(SpeakingEvent{
		Event:         newEvent("speaking", time.Now().UTC()),
		AgentSpeaking: agentSpeaking,
		Volume:        volume,
	})
}

func (h *Hub) BroadcastTranscript(chunk transcribe.Chunk) {
	h.broadcastEvent(TranscriptEvent{
		Event:    newEvent("transcript", chunk.CommittedAt),
		Speaker:  string(chunk.Speaker),
		Text:     chunk.Text,
		Sequence: chunk.Sequence,
	})
}

func (h *Hub) BroadcastTranscriptPartial(speaker transcribe.Speaker, text string) {
	h.broadcastEvent(TranscriptPartialEvent{
		Event:   newEvent("transcript_partial", time.Now().UTC()),
		Speaker: string(speaker),
		Text:    text,
	})
}

func (h *Hub) BroadcastViolation(v proctor.Violation, message string) {
	h.broadcastEvent(ViolationEvent{
		Event:         newEvent("violation", v.At),
		Ordinal:       v.Ordinal,
		ViolationType: string(v.Type),
		Action:        string(v.Action),
		Message:       message,
	})
}

func (h *Hub) BroadcastIdleWarning(shown bool) {
	h.broadcastEvent(IdleWarningEvent{
		Event: newEvent("idle_warning", time.Now().UTC()),
		Shown: shown,
	})
}

func (h *Hub) BroadcastExitConfirm() {
	h.broadcastEvent(newEvent("exit_confirm", time.Now().UTC()))
}

func (h *Hub) BroadcastFullscreen(command string) {
	h.broadcastEvent(FullscreenEvent{
		Event:   newEvent("fullscreen", time.Now().UTC()),
		Command: command,
	})
}

func (h *Hub) BroadcastMalpractice(message string) {
	h.broadcastEvent(MalpracticeEvent{
		Event:   newEvent("malpractice", time.Now().UTC()),
		Message: message,
	})
}

func (h *Hub) BroadcastSessionEnded(interviewID, reason string, duration time.Duration) {
	h.broadcastEvent(SessionEndedEvent{
		Event:       newEvent("session_ended", time.Now().UTC()),
		InterviewID: interviewID,
		Reason:      reason,
		Duration:    duration.Seconds(),
	})
}

func (h *Hub) BroadcastRedirect(url string) {
	h.broadcastEvent(RedirectEvent{
		Event: newEvent("redirect", time.Now().UTC()),
		URL:   url,
	})
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		h.logger.Warn("event marshal failed", "error", err)
		return
	}
	h.Broadcast(payload)
}
