package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sjawhar/ghost-interviewer/internal/audio"
	"github.com/sjawhar/ghost-interviewer/internal/live"
	"github.com/sjawhar/ghost-interviewer/internal/observe"
	"github.com/sjawhar/ghost-interviewer/internal/proctor"
	"github.com/sjawhar/ghost-interviewer/internal/storage"
	"github.com/sjawhar/ghost-interviewer/internal/transcribe"
)

const (
	DefaultDuration      = 15 * time.Minute
	DefaultRedirectDelay = 10 * time.Second
	DefaultRedirectURL   = "/ended"

	queueSize  = 64
	commitSize = 256

	// volumeStep is the level change that triggers a new speaking event.
	volumeStep = 5
)

// EndReason records why a session ended.
type EndReason string

const (
	EndUser          EndReason = "user"
	EndTimeUp        EndReason = "time_up"
	EndIdleTimeout   EndReason = "idle_timeout"
	EndMalpractice   EndReason = "malpractice"
	EndCandidateLeft EndReason = "candidate_left"
	EndTeardown      EndReason = "teardown"
)

const malpracticeText = "This interview was ended because of repeated proctoring violations. " +
	"The session has been recorded and reported."

type Config struct {
	// Duration overrides the interview record's length when set.
	Duration      time.Duration
	WrapUpAt      time.Duration
	IdleWarning   time.Duration
	IdleTimeout   time.Duration
	Model         string
	Voice         string
	RollSessions  bool
	VADThreshold  int
	VADHangover   time.Duration
	FrameDuration time.Duration
	Proctor       proctor.Config
	RedirectURL   string
	RedirectDelay time.Duration

	// ExternalCaptions drops the agent's input transcription; candidate
	// text then arrives through OnCandidateCaption.
	ExternalCaptions bool

	Logger *slog.Logger

	tick time.Duration
}

type Deps struct {
	Store       Store
	Connection  Connection
	Pipeline    Pipeline
	Recorder    Recorder
	Hub         EventBroadcaster
	Transcripts TranscriptWriter
	Captions    CaptionSource
	Metrics     *observe.Metrics
}

// Snapshot is the observable session state for the UI.
type Snapshot struct {
	InterviewID      string             `json:"interview_id"`
	ConnectionState  string             `json:"connection_state"`
	ErrorKind        string             `json:"error_kind,omitempty"`
	ErrorMessage     string             `json:"error_message,omitempty"`
	RemainingSeconds int                `json:"remaining_seconds"`
	AgentSpeaking    bool               `json:"agent_speaking"`
	Volume           int                `json:"volume"`
	Transcript       []transcribe.Chunk `json:"transcript"`
	ViolationCount   int                `json:"violation_count"`
	KioskState       string             `json:"kiosk_state"`
	IdleWarning      bool               `json:"idle_warning"`
	Ended            bool               `json:"ended"`
	EndReason        string             `json:"end_reason,omitempty"`
}

// Session runs one interview from connect to shutdown. It is created by
// Start and never reused.
type Session struct {
	id        string
	interview storage.Interview
	cfg       Config
	deps      Deps
	logger    *slog.Logger
	total     int
	startedAt time.Time

	ctx    context.Context
	cancel context.CancelFunc

	queue      chan func()
	stop       chan struct{}
	done       chan struct{}
	commits    chan func()
	commitMu   sync.Mutex
	commitDone chan struct{}
	closed     bool

	acc      *Accumulator
	watchdog *Watchdog
	timer    *Timer
	enforcer *proctor.Enforcer

	vadMu sync.Mutex
	vad   *audio.ActivityDetector

	// Owned by the loop goroutine.
	timerStarted  bool
	agentDone     bool
	rolling       bool
	wrapUpPending bool

	mu           sync.RWMutex
	state        live.State
	lastErr      error
	remaining    int
	speaking     bool
	volume       int
	sentVolume   int
	transcript   []transcribe.Chunk
	violations   int
	idleWarning  bool
	turns        int
	lastQuestion string
	ended        bool
	reason       EndReason
}

// Start loads the interview, marks it in progress and begins connecting in
// the background. Connection failures surface as connection_state events.
func Start(ctx context.Context, deps Deps, cfg Config, interviewID string) (*Session, error) {
	if deps.Store == nil || deps.Connection == nil || deps.Pipeline == nil {
		return nil, errors.New("session requires a store, a connection and a pipeline")
	}
	iv, err := deps.Store.GetInterview(interviewID)
	if err != nil {
		return nil, fmt.Errorf("load interview %s: %w", interviewID, err)
	}
	if iv.Closed() {
		return nil, fmt.Errorf("interview %s is %s: %w", interviewID, iv.Status, ErrSessionEnded)
	}
	prior, err := deps.Store.GetTranscript(interviewID)
	if err != nil {
		return nil, fmt.Errorf("load transcript %s: %w", interviewID, err)
	}

	cfg = withDefaults(cfg, iv)
	logger := cfg.Logger.With("interview_id", interviewID)

	sctx, cancel := context.WithCancel(ctx)
	s := &Session{
		id:         interviewID,
		interview:  iv,
		cfg:        cfg,
		deps:       deps,
		logger:     logger,
		total:      int(cfg.Duration / time.Second),
		startedAt:  time.Now().UTC(),
		ctx:        sctx,
		cancel:     cancel,
		queue:      make(chan func(), queueSize),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		commits:    make(chan func(), commitSize),
		commitDone: make(chan struct{}),
		state:      live.Idle,
		transcript: append([]transcribe.Chunk(nil), prior...),
		turns:      len(prior),
		vad:        audio.NewActivityDetector(cfg.VADThreshold, cfg.VADHangover, cfg.FrameDuration),
	}
	s.remaining = s.total

	next := 1
	for _, c := range prior {
		if c.Sequence >= next {
			next = c.Sequence + 1
		}
	}
	s.acc = NewAccumulator(next, s.publishChunk, s.commitChunk)

	s.timer = NewTimer(int(cfg.WrapUpAt / time.Second))
	s.timer.OnTick(s.onTick)
	s.timer.OnWrapUp(s.onWrapUp)
	s.timer.OnTimeUp(func() { s.shutdown(EndTimeUp) })

	s.watchdog = NewWatchdog(cfg.IdleWarning, cfg.IdleTimeout)
	// Reset clears the warning synchronously, sometimes from the loop
	// itself, so neither callback may post.
	s.watchdog.OnWarning(s.syncIdleWarning)
	s.watchdog.OnWarningCleared(s.syncIdleWarning)
	s.watchdog.OnTimeout(func() { s.post(func() { s.shutdown(EndIdleTimeout) }) })

	s.enforcer = s.newEnforcer()

	if deps.Recorder != nil {
		if err := deps.Recorder.Start(interviewID); err != nil {
			logger.Warn("candidate recording unavailable", "error", err)
		}
	}

	go s.commitLoop()
	go s.run()

	status := storage.StatusInProgress
	upd := storage.InterviewUpdate{Status: &status}
	if iv.StartedAt == nil {
		upd.StartedAt = &s.startedAt
	}
	s.commit("mark interview in progress", func() error { return deps.Store.UpdateInterview(interviewID, upd) })
	deps.Metrics.RecordSessionStarted(sctx)
	logger.Info("interview session started", "duration", cfg.Duration.String(), "intro_played", iv.IntroPlayed)

	go s.connect()
	return s, nil
}

func withDefaults(cfg Config, iv storage.Interview) Config {
	if cfg.Duration <= 0 {
		cfg.Duration = time.Duration(iv.DurationSeconds) * time.Second
	}
	if cfg.Duration <= 0 {
		cfg.Duration = DefaultDuration
	}
	if cfg.WrapUpAt <= 0 {
		cfg.WrapUpAt = DefaultWrapUpSeconds * time.Second
	}
	if cfg.VADThreshold <= 0 {
		cfg.VADThreshold = audio.DefaultVADThreshold
	}
	if cfg.VADHangover <= 0 {
		cfg.VADHangover = audio.DefaultVADHangover
	}
	if cfg.FrameDuration <= 0 {
		cfg.FrameDuration = audio.DefaultFrameDuration
	}
	if cfg.RedirectDelay <= 0 {
		cfg.RedirectDelay = DefaultRedirectDelay
	}
	if cfg.RedirectURL == "" {
		cfg.RedirectURL = DefaultRedirectURL
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Proctor.Logger == nil {
		cfg.Proctor.Logger = cfg.Logger
	}
	if cfg.tick <= 0 {
		cfg.tick = time.Second
	}
	return cfg
}

func (s *Session) ID() string { return s.id }

// Done is closed once shutdown has finished.
func (s *Session) Done() <-chan struct{} { return s.done }

func (s *Session) Reason() EndReason {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.reason
}

func (s *Session) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		InterviewID:      s.id,
		ConnectionState:  s.state.String(),
		RemainingSeconds: s.remaining,
		AgentSpeaking:    s.speaking,
		Volume:           s.volume,
		Transcript:       append([]transcribe.Chunk(nil), s.transcript...),
		ViolationCount:   s.violations,
		KioskState:       s.enforcer.State().String(),
		IdleWarning:      s.idleWarning,
		Ended:            s.ended,
		EndReason:        string(s.reason),
	}
	var le *live.Error
	if errors.As(s.lastErr, &le) {
		snap.ErrorKind = string(le.Kind)
		snap.ErrorMessage = le.Message()
	}
	return snap
}

// End finishes the interview at the candidate's request.
func (s *Session) End() {
	s.shutdown(EndUser)
}

// Close tears the session down. It is synchronous and idempotent.
func (s *Session) Close() {
	s.shutdown(EndTeardown)
	<-s.done
}

// Retry reconnects after a connection error. The stream resumes with a
// rehydration summary once the introduction has played.
func (s *Session) Retry(ctx context.Context) error {
	if s.isEnded() {
		return ErrSessionEnded
	}
	if err := s.deps.Connection.Retry(ctx, s.rehydration().String()); err != nil {
		return fmt.Errorf("retry connection: %w", err)
	}
	return nil
}

// SendText sends a typed candidate answer as one complete turn. The text
// becomes the candidate's buffered turn.
func (s *Session) SendText(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return errors.New("text is required")
	}
	result := make(chan error, 1)
	if !s.post(func() {
		s.acc.OnPartial(transcribe.Candidate, text)
		s.publishPartial(transcribe.Candidate, text)
		s.watchdog.Reset()
		s.vadMu.Lock()
		s.vad.Reset()
		s.vadMu.Unlock()
		err := s.deps.Connection.SendText(text)
		if s.wrapUpPending {
			s.sendWrapUp()
		}
		result <- err
	}) {
		return ErrSessionEnded
	}
	select {
	case err := <-result:
		return err
	case <-s.done:
		return ErrSessionEnded
	}
}

// HandleKiosk routes a runtime report from the kiosk page to the enforcer.
func (s *Session) HandleKiosk(ev proctor.Event) {
	s.post(func() { s.enforcer.Handle(ev) })
}

// OnCandidateCaption receives the cumulative candidate utterance from an
// external caption source.
func (s *Session) OnCandidateCaption(text string) {
	if !s.cfg.ExternalCaptions {
		return
	}
	s.post(func() {
		s.acc.OnPartial(transcribe.Candidate, text)
		s.publishPartial(transcribe.Candidate, text)
		s.watchdog.Reset()
	})
}

func (s *Session) connect() {
	err := s.deps.Connection.Connect(s.ctx, live.SessionConfig{
		Model:        s.cfg.Model,
		Voice:        s.cfg.Voice,
		SystemPrompt: SystemPrompt(s.interview, s.cfg.Duration),
		Kickoff:      Kickoff(s.interview),
		IntroPlayed:  s.interview.IntroPlayed,
		OnFrame:      s.onFrame,
		OnVolume:     s.onVolume,
	})
	if err != nil {
		s.logger.Warn("agent connection not established", "error", err)
	}
}

// run is the session loop. Every state change outside the capture path
// happens here, in arrival order.
func (s *Session) run() {
	ticker := time.NewTicker(s.cfg.tick)
	defer ticker.Stop()

	events := s.deps.Connection.Events()
	for {
		select {
		case <-s.stop:
			return
		case fn := <-s.queue:
			if !s.isEnded() {
				fn()
			}
		case ev := <-events:
			if !s.isEnded() {
				s.handleEvent(ev)
			}
		case <-ticker.C:
			if !s.isEnded() {
				s.timer.Tick()
				s.settleSpeaking()
			}
		}
	}
}

func (s *Session) post(fn func()) bool {
	select {
	case <-s.stop:
		return false
	default:
	}
	select {
	case s.queue <- fn:
		return true
	case <-s.stop:
		return false
	}
}

func (s *Session) handleEvent(ev live.Event) {
	switch ev.Type {
	case live.EventStateChanged:
		s.onStateChanged(ev.State, ev.Err)

	case live.EventAudio:
		if err := s.deps.Pipeline.PlayChunk(ev.Audio); err != nil {
			s.logger.Warn("playback chunk dropped", "error", err)
		}
		s.agentDone = false
		s.watchdog.Reset()
		s.setSpeaking(true)

	case live.EventTranscript:
		if ev.Speaker == transcribe.Candidate && s.cfg.ExternalCaptions {
			return
		}
		s.acc.OnPartial(ev.Speaker, ev.Text)
		s.publishPartial(ev.Speaker, ev.Text)
		if ev.Speaker == transcribe.Interviewer {
			s.mu.Lock()
			s.lastQuestion = ev.Text
			s.mu.Unlock()
		}
		s.watchdog.Reset()

	case live.EventTurnComplete:
		s.acc.OnTurnComplete()
		if s.deps.Captions != nil {
			s.deps.Captions.Reset()
		}
		s.agentDone = true
		s.watchdog.Reset()
		s.settleSpeaking()

	case live.EventInterrupted:
		s.deps.Pipeline.ClearPlaybackQueue()
		s.setSpeaking(false)

	case live.EventGenerationComplete:
		s.agentDone = true
		s.settleSpeaking()

	case live.EventKickoffSent:
		played := true
		s.commit("mark introduction played", func() error {
			return s.deps.Store.UpdateInterview(s.id, storage.InterviewUpdate{IntroPlayed: &played})
		})

	case live.EventAgeCeiling:
		s.onAgeCeiling(ev.Text)
	}
}

func (s *Session) onStateChanged(state live.State, err error) {
	s.mu.Lock()
	s.state = state
	if state == live.Error {
		s.lastErr = err
	} else if state != live.Ended {
		s.lastErr = nil
	}
	s.mu.Unlock()

	s.deps.Metrics.RecordConnectionState(s.ctx, state.String())
	if s.deps.Hub != nil {
		s.deps.Hub.BroadcastConnectionState(state, err)
	}

	switch state {
	case live.Ready:
		s.rolling = false
		if !s.timerStarted {
			s.timerStarted = true
			s.timer.Start(s.total)
		}
		s.watchdog.Start()

	case live.Error:
		s.rolling = false
		s.watchdog.Stop()
		s.deps.Pipeline.ClearPlaybackQueue()
		s.setSpeaking(false)
		s.vadMu.Lock()
		s.vad.Reset()
		s.vadMu.Unlock()
		s.deps.Metrics.RecordConnectionError(s.ctx, string(live.KindOf(err)))
	}
}

func (s *Session) onAgeCeiling(cause string) {
	if !s.cfg.RollSessions {
		s.logger.Warn("agent stream nearing its age ceiling; rolling disabled", "cause", cause)
		return
	}
	if s.rolling {
		return
	}
	s.rolling = true
	summary := s.rehydration().String()
	s.logger.Info("rolling agent stream", "cause", cause)
	go func() {
		if err := s.deps.Connection.Roll(s.ctx, summary); err != nil {
			s.logger.Warn("agent stream roll failed", "error", err)
		}
	}()
}

// onFrame runs on the capture goroutine.
func (s *Session) onFrame(f audio.Frame) {
	if s.isEnded() {
		return
	}
	s.vadMu.Lock()
	tr := s.vad.Process(f.Level)
	s.vadMu.Unlock()

	switch tr {
	case audio.ActivityStarted:
		s.post(func() {
			if err := s.deps.Connection.ActivityStart(); err != nil {
				s.logger.Debug("activity start not sent", "error", err)
			}
		})
	case audio.ActivityEnded:
		s.post(func() {
			if err := s.deps.Connection.ActivityEnd(); err != nil {
				s.logger.Debug("activity end not sent", "error", err)
			}
			if s.wrapUpPending && !s.vadActive() {
				s.sendWrapUp()
			}
		})
	}

	sent, err := s.deps.Connection.SendAudioFrame(f)
	if err != nil {
		s.logger.Debug("audio frame not sent", "error", err)
		return
	}
	if sent {
		s.watchdog.Reset()
	}
}

func (s *Session) onVolume(level int) {
	s.mu.Lock()
	s.volume = level
	speaking := s.speaking
	diff := level - s.sentVolume
	notify := diff >= volumeStep || diff <= -volumeStep
	if notify {
		s.sentVolume = level
	}
	s.mu.Unlock()

	if notify && s.deps.Hub != nil {
		s.deps.Hub.BroadcastSpeaking(speaking, level)
	}
}

func (s *Session) onTick(remaining int) {
	s.mu.Lock()
	s.remaining = remaining
	s.mu.Unlock()
	if s.deps.Hub != nil {
		s.deps.Hub.BroadcastTimer(remaining)
	}
}

func (s *Session) onWrapUp(remaining int) {
	s.logger.Info("interview entering wrap-up", "remaining_seconds", remaining)
	if s.deps.Hub != nil {
		s.deps.Hub.BroadcastWrapUp(remaining)
	}
	if s.vadActive() {
		// A text turn would cut the candidate off mid-answer.
		s.logger.Debug("wrap-up directive deferred until the candidate pauses")
		s.wrapUpPending = true
		return
	}
	s.sendWrapUp()
}

func (s *Session) vadActive() bool {
	s.vadMu.Lock()
	defer s.vadMu.Unlock()
	return s.vad.Active()
}

// sendWrapUp runs on the loop.
func (s *Session) sendWrapUp() {
	s.wrapUpPending = false
	if err := s.deps.Connection.SendText(WrapUpDirective); err != nil {
		s.logger.Warn("wrap-up directive not sent", "error", err)
	}
}

func (s *Session) setSpeaking(speaking bool) {
	s.mu.Lock()
	changed := s.speaking != speaking
	s.speaking = speaking
	volume := s.volume
	s.mu.Unlock()

	if changed && s.deps.Hub != nil {
		s.deps.Hub.BroadcastSpeaking(speaking, volume)
	}
}

// settleSpeaking clears the speaking indicator once the agent has finished
// its turn and playback has drained.
func (s *Session) settleSpeaking() {
	if s.agentDone && s.deps.Pipeline.QueueLen() == 0 {
		s.setSpeaking(false)
	}
}

// syncIdleWarning mirrors the watchdog's warning flag. Reading it under
// s.mu keeps concurrent show and clear callbacks from landing out of order.
func (s *Session) syncIdleWarning() {
	s.mu.Lock()
	shown := s.watchdog.WarningShown()
	changed := s.idleWarning != shown
	s.idleWarning = shown
	s.mu.Unlock()

	if changed && s.deps.Hub != nil {
		s.deps.Hub.BroadcastIdleWarning(shown)
	}
}

func (s *Session) publishPartial(speaker transcribe.Speaker, text string) {
	if s.deps.Hub != nil {
		s.deps.Hub.BroadcastTranscriptPartial(speaker, text)
	}
}

func (s *Session) publishChunk(c transcribe.Chunk) {
	s.mu.Lock()
	s.transcript = append(s.transcript, c)
	s.turns++
	s.mu.Unlock()

	if s.deps.Hub != nil {
		s.deps.Hub.BroadcastTranscript(c)
	}
}

func (s *Session) commitChunk(c transcribe.Chunk) {
	s.commit("commit transcript chunk", func() error {
		err := s.deps.Store.AppendTranscript(s.id, c)
		status := "ok"
		if err != nil {
			status = "error"
		}
		s.deps.Metrics.RecordTranscriptCommit(s.ctx, status)
		if err == nil && s.deps.Transcripts != nil {
			if werr := s.deps.Transcripts.Append(s.id, c); werr != nil {
				s.logger.Warn("transcript file append failed", "error", werr)
			}
		}
		return err
	})
}

func (s *Session) newEnforcer() *proctor.Enforcer {
	e := proctor.New(s.cfg.Proctor, proctor.Callbacks{
		OnViolation: func(v proctor.Violation, message string) {
			s.mu.Lock()
			s.violations = v.Ordinal
			s.mu.Unlock()

			s.logger.Warn("proctoring violation", "ordinal", v.Ordinal, "type", string(v.Type), "action", string(v.Action))
			s.deps.Metrics.RecordViolation(s.ctx, string(v.Type), string(v.Action))
			if s.deps.Hub != nil {
				s.deps.Hub.BroadcastViolation(v, message)
			}
			s.commit("record violation", func() error { return s.deps.Store.AppendViolation(s.id, v) })
		},
		OnExitConfirm: func() {
			if s.deps.Hub != nil {
				s.deps.Hub.BroadcastExitConfirm()
			}
		},
		OnFullscreen: func(command string) {
			if s.deps.Hub != nil {
				s.deps.Hub.BroadcastFullscreen(command)
			}
		},
		OnTerminate: func() { s.shutdown(EndMalpractice) },
		OnLeave:     func() { s.shutdown(EndCandidateLeft) },
	})
	e.SetAfterFunc(func(d time.Duration, fn func()) func() bool {
		return time.AfterFunc(d, func() { s.post(fn) }).Stop
	})
	return e
}

func (s *Session) rehydration() Rehydration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return Rehydration{
		Role:         s.interview.Role,
		Level:        s.interview.Level,
		Elapsed:      time.Duration(s.total-s.remaining) * time.Second,
		Remaining:    time.Duration(s.remaining) * time.Second,
		Turns:        s.turns,
		LastQuestion: s.lastQuestion,
	}
}

func (s *Session) isEnded() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.ended
}

// shutdown is the single end path for every reason. Only the first call
// has any effect.
func (s *Session) shutdown(reason EndReason) {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return
	}
	s.ended = true
	s.reason = reason
	s.mu.Unlock()

	endedAt := time.Now().UTC()
	s.logger.Info("interview session ending", "reason", string(reason))

	s.timer.Stop()
	s.watchdog.Stop()
	s.enforcer.Close()
	s.acc.OnTurnComplete()

	s.deps.Pipeline.Stop()
	s.deps.Connection.Disconnect()
	s.setSpeaking(false)

	var audioPath string
	if s.deps.Recorder != nil {
		path, err := s.deps.Recorder.Finish()
		if err != nil {
			s.logger.Warn("finish candidate recording", "error", err)
		}
		audioPath = path
	}

	status := storage.StatusCompleted
	kind := storage.ReportCompletion
	if reason == EndMalpractice {
		status = storage.StatusTerminated
		kind = storage.ReportTermination
	}
	why := string(reason)
	upd := storage.InterviewUpdate{Status: &status, EndedAt: &endedAt, EndReason: &why}
	if audioPath != "" {
		upd.AudioPath = &audioPath
	}
	s.commit("close interview", func() error { return s.deps.Store.UpdateInterview(s.id, upd) })
	s.commit("request report", func() error {
		created, err := s.deps.Store.RequestReport(storage.ReportRequest{
			ID:          uuid.NewString(),
			InterviewID: s.id,
			Kind:        kind,
			Reason:      why,
			RequestedAt: endedAt,
		})
		if err == nil && !created {
			s.logger.Info("report already requested")
		}
		return err
	})

	duration := endedAt.Sub(s.startedAt)
	s.deps.Metrics.RecordSessionEnded(context.WithoutCancel(s.ctx), why, duration)

	if hub := s.deps.Hub; hub != nil {
		hub.BroadcastSessionEnded(s.id, why, duration)
		if reason == EndMalpractice {
			hub.BroadcastFullscreen(proctor.CommandExit)
			hub.BroadcastMalpractice(malpracticeText)
			if url := s.cfg.RedirectURL; url != "" {
				time.AfterFunc(s.cfg.RedirectDelay, func() { hub.BroadcastRedirect(url) })
			}
		}
	}

	close(s.stop)
	s.commitMu.Lock()
	s.closed = true
	close(s.commits)
	s.commitMu.Unlock()
	<-s.commitDone

	s.cancel()
	close(s.done)
	s.logger.Info("interview session ended", "reason", why, "duration", duration.Round(time.Second).String())
}

// commit queues a persistence write. Writes run in order on one goroutine
// and failures are logged, never returned.
func (s *Session) commit(what string, fn func() error) {
	s.commitMu.Lock()
	defer s.commitMu.Unlock()
	if s.closed {
		s.logger.Warn("dropping write after shutdown", "op", what)
		return
	}
	s.commits <- func() {
		if err := fn(); err != nil {
			s.logger.Warn(what+" failed", "error", err)
		}
	}
}

func (s *Session) commitLoop() {
	defer close(s.commitDone)
	for fn := range s.commits {
		fn()
	}
}
