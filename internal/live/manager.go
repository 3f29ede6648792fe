package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/ghost-interviewer/internal/audio"
	"github.com/sjawhar/ghost-interviewer/internal/transcribe"
)

const (
	DefaultHandshakeTimeout = 15 * time.Second
	DefaultMaxConnectionAge = 9 * time.Minute
	DefaultPreRoll          = 500 * time.Millisecond

	eventBuffer  = 256
	writeTimeout = 5 * time.Second
	closeTimeout = time.Second
)

// TranscriptionMode says how the endpoint reports partial transcription.
type TranscriptionMode string

const (
	TranscriptionDelta      TranscriptionMode = "delta"
	TranscriptionCumulative TranscriptionMode = "cumulative"
)

type EventType int

const (
	EventStateChanged EventType = iota
	EventAudio
	EventTranscript
	EventTurnComplete
	EventInterrupted
	EventGenerationComplete
	EventKickoffSent
	EventAgeCeiling
)

// Event is one item of the ordered stream the manager produces. Transcript
// text is always the cumulative utterance so far for Speaker.
type Event struct {
	Type    EventType
	State   State
	Audio   []byte
	Speaker transcribe.Speaker
	Text    string
	Err     error
	At      time.Time
}

// Capture is the part of the audio pipeline the manager starts on Ready.
type Capture interface {
	StartCapture(onFrame func(audio.Frame), onVolume func(int)) error
	StopCapture()
}

type Config struct {
	Endpoint          string
	HandshakeTimeout  time.Duration
	MaxConnectionAge  time.Duration
	TranscriptionMode TranscriptionMode
	InputSampleRate   int
	FrameDuration     time.Duration
	PreRoll           time.Duration
	Logger            *slog.Logger
}

type SessionConfig struct {
	Model        string
	Voice        string
	SystemPrompt string

	// Kickoff is sent once, on the first Ready, unless IntroPlayed.
	Kickoff     string
	IntroPlayed bool

	OnFrame  func(audio.Frame)
	OnVolume func(int)
}

// Manager owns one session's link to the agent endpoint.
type Manager struct {
	cfg     Config
	creds   CredentialSource
	capture Capture
	logger  *slog.Logger
	dial    func(ctx context.Context, url string) (*websocket.Conn, error)
	now     func() time.Time

	events   chan Event
	done     chan struct{}
	doneOnce sync.Once

	// writeMu serialises every send sequence on the stream. Lock order is
	// writeMu then mu.
	writeMu sync.Mutex

	mu          sync.Mutex
	state       State
	lastErr     error
	session     SessionConfig
	introPlayed bool
	conn        *websocket.Conn
	gen         uint64
	connectedAt time.Time
	ageTimer    *time.Timer
	activity    bool
	preroll     *audio.PreRoll
	partial     map[transcribe.Speaker]string
}

func NewManager(creds CredentialSource, capture Capture, cfg Config) *Manager {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = DefaultHandshakeTimeout
	}
	if cfg.TranscriptionMode == "" {
		cfg.TranscriptionMode = TranscriptionDelta
	}
	if cfg.InputSampleRate <= 0 {
		cfg.InputSampleRate = audio.CaptureSampleRate
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = audio.DefaultFrameDuration
	}
	if cfg.PreRoll <= 0 {
		cfg.PreRoll = DefaultPreRoll
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Manager{
		cfg:     cfg,
		creds:   creds,
		capture: capture,
		logger:  logger,
		dial:    dialWebsocket,
		now:     time.Now,
		events:  make(chan Event, eventBuffer),
		done:    make(chan struct{}),
		state:   Idle,
		preroll: audio.NewPreRoll(cfg.PreRoll, cfg.FrameDuration),
		partial: make(map[transcribe.Speaker]string),
	}
}

func dialWebsocket(ctx context.Context, url string) (*websocket.Conn, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	return conn, err
}

// Events is never closed; select on Done to stop reading.
func (m *Manager) Events() <-chan Event { return m.events }

// Done is closed once the manager reaches Ended.
func (m *Manager) Done() <-chan struct{} { return m.done }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the failure that moved the manager to Error, if any.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

func (m *Manager) IntroPlayed() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.introPlayed
}

func (m *Manager) ActivityOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activity
}

// ConnectedAt is when the current stream became ready.
func (m *Manager) ConnectedAt() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connectedAt
}

// Connect acquires a credential, opens the stream and waits for the
// endpoint to acknowledge setup. It blocks for at most the handshake
// timeout. On Ready it starts capture and sends the kick-off.
func (m *Manager) Connect(ctx context.Context, sc SessionConfig) error {
	m.mu.Lock()
	if m.state != Idle {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("connect from %s: %w", state, ErrInvalidState)
	}
	m.session = sc
	m.introPlayed = sc.IntroPlayed
	m.mu.Unlock()

	return m.open(ctx, "")
}

// Retry reconnects after an Error. resume, when set and the introduction
// has already played, is replayed as one text turn.
func (m *Manager) Retry(ctx context.Context, resume string) error {
	m.mu.Lock()
	if m.state != Error {
		state := m.state
		m.mu.Unlock()
		return fmt.Errorf("retry from %s: %w", state, ErrInvalidState)
	}
	m.mu.Unlock()

	if !m.transition(Idle, nil) {
		return fmt.Errorf("retry: %w", ErrInvalidState)
	}
	m.mu.Lock()
	m.lastErr = nil
	m.mu.Unlock()

	return m.open(ctx, resume)
}

// Roll replaces a live stream with a fresh one and replays summary on it.
// Capture keeps running; frames sent while rolling are dropped.
func (m *Manager) Roll(ctx context.Context, summary string) error {
	m.writeMu.Lock()
	m.mu.Lock()
	if !m.state.Connected() {
		state := m.state
		m.mu.Unlock()
		m.writeMu.Unlock()
		return fmt.Errorf("roll from %s: %w", state, ErrInvalidState)
	}
	conn := m.detachLocked()
	m.mu.Unlock()
	m.writeMu.Unlock()

	closeConn(conn)
	m.logger.Info("rolling agent stream")
	return m.open(ctx, summary)
}

// Disconnect ends the session's link. It is idempotent and never blocks on
// the event consumer.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	if m.state == Ended {
		m.mu.Unlock()
		return
	}
	from := m.state
	conn := m.detachLocked()
	m.state = Ended
	m.mu.Unlock()

	if m.capture != nil {
		m.capture.StopCapture()
	}
	closeConn(conn)
	m.logger.Info("agent connection ended", "from", from.String())

	select {
	case m.events <- Event{Type: EventStateChanged, State: Ended, At: m.now()}:
	default:
	}
	m.doneOnce.Do(func() { close(m.done) })
}

// SendAudioFrame forwards a capture frame inside an open activity. Outside
// one the frame is kept as pre-roll; without a live stream it is dropped.
// The bool reports whether the frame went on the wire.
func (m *Manager) SendAudioFrame(frame audio.Frame) (bool, error) {
	sent, err := m.sendAudioFrame(frame)
	return sent, m.failOnWrite(err)
}

func (m *Manager) sendAudioFrame(frame audio.Frame) (bool, error) {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	conn, gen, ok := m.connLocked()
	if !ok {
		m.mu.Unlock()
		return false, nil
	}
	if !m.activity {
		m.preroll.Push(frame)
		m.mu.Unlock()
		return false, nil
	}
	m.mu.Unlock()

	if err := m.write(conn, gen, m.audioMessage(frame.PCM)); err != nil {
		return false, err
	}
	return true, nil
}

// ActivityStart opens a caller-detected activity and flushes pre-roll.
// It is a no-op while an activity is already open.
func (m *Manager) ActivityStart() error {
	return m.failOnWrite(m.activityStart())
}

func (m *Manager) activityStart() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	conn, gen, ok := m.connLocked()
	if !ok {
		m.mu.Unlock()
		return ErrNotConnected
	}
	if m.activity {
		m.mu.Unlock()
		return nil
	}
	m.activity = true
	frames := m.preroll.Drain()
	m.mu.Unlock()

	start := realtimeInputMessage{RealtimeInput: realtimeInput{ActivityStart: &struct{}{}}}
	if err := m.write(conn, gen, start); err != nil {
		return err
	}
	for _, f := range frames {
		if err := m.write(conn, gen, m.audioMessage(f.PCM)); err != nil {
			return err
		}
	}
	return nil
}

// ActivityEnd closes the open activity. It is a no-op when none is open.
func (m *Manager) ActivityEnd() error {
	return m.failOnWrite(m.activityEnd())
}

func (m *Manager) activityEnd() error {
	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	conn, gen, ok := m.connLocked()
	if !ok || !m.activity {
		m.mu.Unlock()
		return nil
	}
	m.activity = false
	m.mu.Unlock()

	end := realtimeInputMessage{RealtimeInput: realtimeInput{ActivityEnd: &struct{}{}}}
	return m.write(conn, gen, end)
}

// SendText sends one complete user turn, closing any open activity first.
func (m *Manager) SendText(text string) error {
	return m.failOnWrite(m.sendText(text))
}

func (m *Manager) sendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}

	m.writeMu.Lock()
	defer m.writeMu.Unlock()

	m.mu.Lock()
	conn, gen, ok := m.connLocked()
	if !ok {
		m.mu.Unlock()
		return ErrNotConnected
	}
	closeActivity := m.activity
	m.activity = false
	m.mu.Unlock()

	if closeActivity {
		end := realtimeInputMessage{RealtimeInput: realtimeInput{ActivityEnd: &struct{}{}}}
		if err := m.write(conn, gen, end); err != nil {
			return err
		}
	}

	msg := clientContentMessage{ClientContent: clientContent{
		Turns:        []content{{Role: "user", Parts: []part{{Text: text}}}},
		TurnComplete: true,
	}}
	return m.write(conn, gen, msg)
}

func (m *Manager) open(ctx context.Context, resume string) error {
	if !m.transition(AcquiringCredential, nil) {
		return fmt.Errorf("open: %w", ErrInvalidState)
	}

	hctx, cancel := context.WithTimeout(ctx, m.cfg.HandshakeTimeout)
	defer cancel()

	cred, err := m.creds.Fetch(hctx)
	if err == nil && cred.Expired(m.now()) {
		err = errors.New("credential already expired")
	}
	if err != nil {
		return m.fail(&Error{Kind: KindCredential, Op: "acquire credential", Err: err}, 0)
	}

	if !m.transition(Handshaking, nil) {
		return fmt.Errorf("open: %w", ErrInvalidState)
	}

	conn, err := m.dial(hctx, streamURL(m.cfg.Endpoint, cred))
	if err != nil {
		return m.fail(&Error{Kind: KindTransport, Op: "dial agent stream", Err: err}, 0)
	}
	if err := m.handshake(hctx, conn); err != nil {
		_ = conn.Close()
		return m.fail(&Error{Kind: KindTransport, Op: "handshake", Err: err}, 0)
	}

	m.mu.Lock()
	if m.state != Handshaking {
		m.mu.Unlock()
		_ = conn.Close()
		return fmt.Errorf("open: %w", ErrInvalidState)
	}
	m.gen++
	gen := m.gen
	m.conn = conn
	m.connectedAt = m.now()
	if m.cfg.MaxConnectionAge > 0 {
		m.ageTimer = time.AfterFunc(m.cfg.MaxConnectionAge, func() { m.onAgeCeiling(gen) })
	}
	sc := m.session
	m.mu.Unlock()

	m.logger.Info("agent stream connected", "model", sc.Model, "credential", Redact(cred.Token))
	if !m.transition(Ready, nil) {
		return fmt.Errorf("open: %w", ErrInvalidState)
	}
	go m.readLoop(conn, gen)

	if m.capture != nil {
		if err := m.capture.StartCapture(sc.OnFrame, sc.OnVolume); err != nil {
			return m.fail(&Error{Kind: KindDevice, Op: "start capture", Err: err}, gen)
		}
	}

	return m.sendOpening(sc, resume)
}

func (m *Manager) handshake(ctx context.Context, conn *websocket.Conn) error {
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	m.mu.Lock()
	sc := m.session
	m.mu.Unlock()

	if err := conn.WriteJSON(newSetup(sc.Model, sc.Voice, sc.SystemPrompt)); err != nil {
		return fmt.Errorf("send setup: %w", err)
	}

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return fmt.Errorf("await setup: %w", ctx.Err())
			}
			return fmt.Errorf("await setup: %w", err)
		}
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		if msg.Error != nil {
			return fmt.Errorf("setup rejected: %w", msg.Error)
		}
		if msg.SetupComplete != nil {
			return nil
		}
	}
}

// sendOpening sends the kick-off on the first ready stream, or the resume
// summary on later ones.
func (m *Manager) sendOpening(sc SessionConfig, resume string) error {
	m.mu.Lock()
	kickoff := !m.introPlayed && strings.TrimSpace(sc.Kickoff) != ""
	m.mu.Unlock()

	text := resume
	if kickoff {
		text = sc.Kickoff
	}
	if strings.TrimSpace(text) == "" {
		return nil
	}

	if err := m.SendText(text); err != nil {
		return err
	}
	if kickoff {
		m.mu.Lock()
		m.introPlayed = true
		m.mu.Unlock()
		m.emit(Event{Type: EventKickoffSent, Text: text})
	}
	return nil
}

func (m *Manager) readLoop(conn *websocket.Conn, gen uint64) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			_ = m.fail(&Error{Kind: KindTransport, Op: "read agent stream", Err: err}, gen)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			m.logger.Debug("skipping malformed agent message", "error", err)
			continue
		}
		if !m.handle(&msg, gen) {
			return
		}
	}
}

func (m *Manager) handle(msg *serverMessage, gen uint64) bool {
	if msg.Error != nil {
		_ = m.fail(&Error{Kind: KindTransport, Op: "agent stream", Err: msg.Error}, gen)
		return false
	}
	if msg.GoAway != nil {
		m.logger.Warn("agent stream going away", "time_left", msg.GoAway.TimeLeft)
		m.emitFor(gen, Event{Type: EventAgeCeiling, Text: "go_away"})
	}

	sc := msg.ServerContent
	if sc == nil {
		return true
	}

	if sc.Interrupted {
		m.emitFor(gen, Event{Type: EventInterrupted})
	}
	if t := sc.InputTranscription; t != nil && t.Text != "" {
		m.markStreaming(gen)
		m.emitFor(gen, Event{Type: EventTranscript, Speaker: transcribe.Candidate, Text: m.accumulate(transcribe.Candidate, t.Text)})
	}
	if t := sc.OutputTranscription; t != nil && t.Text != "" {
		m.markStreaming(gen)
		m.emitFor(gen, Event{Type: EventTranscript, Speaker: transcribe.Interviewer, Text: m.accumulate(transcribe.Interviewer, t.Text)})
	}
	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil || len(pcm) == 0 {
				continue
			}
			m.markStreaming(gen)
			m.emitFor(gen, Event{Type: EventAudio, Audio: pcm})
		}
	}
	if sc.GenerationComplete {
		m.emitFor(gen, Event{Type: EventGenerationComplete})
	}
	if sc.TurnComplete {
		m.mu.Lock()
		if gen == m.gen {
			clear(m.partial)
		}
		m.mu.Unlock()
		m.emitFor(gen, Event{Type: EventTurnComplete})
	}
	return true
}

// markStreaming applies the Ready -> Streaming rule: the first inbound
// audio or transcription on a ready stream.
func (m *Manager) markStreaming(gen uint64) {
	m.mu.Lock()
	if gen != m.gen || m.state != Ready {
		m.mu.Unlock()
		return
	}
	m.state = Streaming
	m.mu.Unlock()

	m.emit(Event{Type: EventStateChanged, State: Streaming})
}

func (m *Manager) accumulate(speaker transcribe.Speaker, text string) string {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.cfg.TranscriptionMode == TranscriptionCumulative {
		m.partial[speaker] = text
	} else {
		m.partial[speaker] += text
	}
	return m.partial[speaker]
}

func (m *Manager) onAgeCeiling(gen uint64) {
	m.mu.Lock()
	live := gen == m.gen && m.state.Connected()
	age := m.now().Sub(m.connectedAt)
	m.mu.Unlock()
	if !live {
		return
	}

	m.logger.Warn("agent stream reached age ceiling", "age", age.Round(time.Second).String())
	m.emitFor(gen, Event{Type: EventAgeCeiling, Text: "age_ceiling"})
}

// fail moves to Error and tears the stream down. A non-zero gen scopes the
// failure to one stream so late errors from a replaced stream are ignored.
func (m *Manager) fail(e *Error, gen uint64) error {
	m.mu.Lock()
	if (gen != 0 && gen != m.gen) || !canTransition(m.state, Error) {
		m.mu.Unlock()
		return e
	}
	from := m.state
	conn := m.detachLocked()
	m.state = Error
	m.lastErr = e
	m.mu.Unlock()

	if conn != nil {
		_ = conn.Close()
	}
	if m.capture != nil {
		m.capture.StopCapture()
	}
	m.logger.Error("agent connection failed", "from", from.String(), "kind", string(e.Kind), "error", e)
	m.emit(Event{Type: EventStateChanged, State: Error, Err: e})
	return e
}

func (m *Manager) transition(to State, err error) bool {
	m.mu.Lock()
	from := m.state
	if !canTransition(from, to) {
		m.mu.Unlock()
		return false
	}
	m.state = to
	m.mu.Unlock()

	m.logger.Debug("agent connection state", "from", from.String(), "to", to.String())
	m.emit(Event{Type: EventStateChanged, State: to, Err: err})
	return true
}

func (m *Manager) detachLocked() *websocket.Conn {
	conn := m.conn
	m.conn = nil
	m.gen++
	if m.ageTimer != nil {
		m.ageTimer.Stop()
		m.ageTimer = nil
	}
	m.activity = false
	m.preroll.Drain()
	clear(m.partial)
	return conn
}

func (m *Manager) connLocked() (*websocket.Conn, uint64, bool) {
	if m.conn == nil || !m.state.Connected() {
		return nil, 0, false
	}
	return m.conn, m.gen, true
}

// streamWriteError carries a failed write out from under writeMu so the
// teardown in fail never runs while a send sequence holds the stream.
type streamWriteError struct {
	gen uint64
	err error
}

func (e *streamWriteError) Error() string { return e.err.Error() }

// write sends one message; callers hold writeMu.
func (m *Manager) write(conn *websocket.Conn, gen uint64, v any) error {
	_ = conn.SetWriteDeadline(m.now().Add(writeTimeout))
	if err := conn.WriteJSON(v); err != nil {
		return &streamWriteError{gen: gen, err: err}
	}
	return nil
}

func (m *Manager) failOnWrite(err error) error {
	var we *streamWriteError
	if errors.As(err, &we) {
		return m.fail(&Error{Kind: KindTransport, Op: "write agent stream", Err: we.err}, we.gen)
	}
	return err
}

func (m *Manager) audioMessage(pcm []byte) realtimeInputMessage {
	return realtimeInputMessage{RealtimeInput: realtimeInput{Audio: &blob{
		MIMEType: pcmMIMEType(m.cfg.InputSampleRate),
		Data:     base64.StdEncoding.EncodeToString(pcm),
	}}}
}

func (m *Manager) emit(ev Event) {
	ev.At = m.now()
	select {
	case m.events <- ev:
	case <-m.done:
	}
}

func (m *Manager) emitFor(gen uint64, ev Event) {
	m.mu.Lock()
	live := gen == m.gen
	m.mu.Unlock()
	if live {
		m.emit(ev)
	}
}

func closeConn(conn *websocket.Conn) {
	if conn == nil {
		return
	}
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended")
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeTimeout))
	_ = conn.Close()
}
