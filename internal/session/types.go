package session

import (
	"context"
	"time"

	"github.com/sjawhar/ghost-interviewer/internal/audio"
	"github.com/sjawhar/ghost-interviewer/internal/live"
	"github.com/sjawhar/ghost-interviewer/internal/proctor"
	"github.com/sjawhar/ghost-interviewer/internal/storage"
	"github.com/sjawhar/ghost-interviewer/internal/transcribe"
)

type Store interface {
	GetInterview(id string) (storage.Interview, error)
	UpdateInterview(id string, upd storage.InterviewUpdate) error
	GetTranscript(interviewID string) ([]transcribe.Chunk, error)
	AppendTranscript(interviewID string, chunk transcribe.Chunk) error
	AppendViolation(interviewID string, v proctor.Violation) error
	RequestReport(req storage.ReportRequest) (bool, error)
}

type Recorder interface {
	Start(interviewID string) error
	Finish() (string, error)
}

// Pipeline is the playback side of the audio pipeline plus its teardown.
// Capture is started by the connection.
type Pipeline interface {
	PlayChunk(pcm []byte) error
	ClearPlaybackQueue()
	QueueLen() int
	Stop()
}

type Connection interface {
	Connect(ctx context.Context, sc live.SessionConfig) error
	Retry(ctx context.Context, resume string) error
	Roll(ctx context.Context, summary string) error
	Disconnect()
	SendAudioFrame(frame audio.Frame) (bool, error)
	ActivityStart() error
	ActivityEnd() error
	SendText(text string) error
	Events() <-chan live.Event
	State() live.State
	Err() error
}

type TranscriptWriter interface {
	Append(interviewID string, chunk transcribe.Chunk) error
}

// CaptionSource produces candidate captions outside the agent stream.
// Reset starts a new utterance.
type CaptionSource interface {
	Reset()
}

type EventBroadcaster interface {
	BroadcastConnectionState(state live.State, err error)
	BroadcastTimer(remainingSeconds int)
	BroadcastWrapUp(remainingSeconds int)
	BroadcastSpeaking(agentSpeaking bool, volume int)
	BroadcastTranscript(chunk transcribe.Chunk)
	BroadcastTranscriptPartial(speaker transcribe.Speaker, text string)
	BroadcastViolation(v proctor.Violation, message string)
	BroadcastIdleWarning(shown bool)
	BroadcastExitConfirm()
	BroadcastFullscreen(command string)
	BroadcastMalpractice(message string)
	BroadcastSessionEnded(interviewID, reason string, duration time.Duration)
	BroadcastRedirect(url string)
}
