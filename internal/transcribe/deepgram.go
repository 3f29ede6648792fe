package transcribe

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
)

// DeepgramModel is the live model used for candidate captions.
const DeepgramModel = "nova-2"

// DeepgramCaptions streams candidate microphone audio to Deepgram and
// reports the cumulative utterance-so-far on every result. It is an
// io.Writer so it can sit on the capture tap list.
type DeepgramCaptions struct {
	ws *client.WSCallback
	*captionState
}

// NewDeepgramCaptions connects a live transcription stream for linear16
// mono audio at sampleRate.
func NewDeepgramCaptions(ctx context.Context, apiKey string, sampleRate int, onCaption func(string), logger *slog.Logger) (*DeepgramCaptions, error) {
	state := newCaptionState(onCaption, logger)

	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:          DeepgramModel,
		Language:       "en-US",
		Punctuate:      true,
		SmartFormat:    true,
		InterimResults: true,
		Encoding:       "linear16",
		SampleRate:     sampleRate,
		Channels:       1,
	}

	ws, err := client.NewWSUsingCallback(ctx, apiKey, cOptions, tOptions, state)
	if err != nil {
		return nil, fmt.Errorf("create deepgram client: %w", err)
	}
	if ok := ws.Connect(); !ok {
		return nil, fmt.Errorf("deepgram connect failed")
	}
	return &DeepgramCaptions{ws: ws, captionState: state}, nil
}

func (d *DeepgramCaptions) Write(p []byte) (int, error) {
	return d.ws.Write(p)
}

func (d *DeepgramCaptions) Stop() {
	d.ws.Stop()
}

// captionState implements the Deepgram callback interface. Final results
// accumulate until Reset; the latest interim result is shown after them.
type captionState struct {
	onCaption func(string)
	logger    *slog.Logger

	mu      sync.Mutex
	finals  []string
	interim string
}

func newCaptionState(onCaption func(string), logger *slog.Logger) *captionState {
	if logger == nil {
		logger = slog.Default()
	}
	return &captionState{onCaption: onCaption, logger: logger}
}

// Reset starts a new utterance.
func (c *captionState) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finals = nil
	c.interim = ""
}

func (c *captionState) Message(mr *api.MessageResponse) error {
	if len(mr.Channel.Alternatives) == 0 {
		return nil
	}
	sentence := strings.TrimSpace(mr.Channel.Alternatives[0].Transcript)

	c.mu.Lock()
	if mr.IsFinal {
		if sentence != "" {
			c.finals = append(c.finals, sentence)
		}
		c.interim = ""
	} else {
		c.interim = sentence
	}
	parts := append([]string(nil), c.finals...)
	if c.interim != "" {
		parts = append(parts, c.interim)
	}
	c.mu.Unlock()

	if len(parts) == 0 || c.onCaption == nil {
		return nil
	}
	c.onCaption(strings.Join(parts, " "))
	return nil
}

func (c *captionState) Open(*api.OpenResponse) error {
	c.logger.Info("connected to Deepgram")
	return nil
}

func (c *captionState) Metadata(*api.MetadataResponse) error { return nil }

func (c *captionState) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c *captionState) UtteranceEnd(*api.UtteranceEndResponse) error { return nil }

func (c *captionState) Close(*api.CloseResponse) error {
	c.logger.Info("disconnected from Deepgram")
	return nil
}

func (c *captionState) Error(er *api.ErrorResponse) error {
	c.logger.Warn("deepgram error", "code", er.ErrCode, "description", er.Description)
	return nil
}

func (c *captionState) UnhandledEvent([]byte) error { return nil }
