package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	microphone "github.com/deepgram/deepgram-go-sdk/v3/pkg/audio/microphone"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"
	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/ghost-interviewer/internal/audio"
	"github.com/sjawhar/ghost-interviewer/internal/config"
	"github.com/sjawhar/ghost-interviewer/internal/gdrive"
	"github.com/sjawhar/ghost-interviewer/internal/live"
	"github.com/sjawhar/ghost-interviewer/internal/llm"
	"github.com/sjawhar/ghost-interviewer/internal/observe"
	"github.com/sjawhar/ghost-interviewer/internal/proctor"
	"github.com/sjawhar/ghost-interviewer/internal/report"
	"github.com/sjawhar/ghost-interviewer/internal/server"
	"github.com/sjawhar/ghost-interviewer/internal/session"
	"github.com/sjawhar/ghost-interviewer/internal/storage"
	"github.com/sjawhar/ghost-interviewer/internal/transcribe"
)

//go:embed static/*
var staticFiles embed.FS

var version = "dev"

// reportTemperature keeps evaluations close to deterministic.
const reportTemperature = 0.2

// activeSession hands the running session to the HTTP layer. It returns a
// nil interface between sessions so handlers answer 404.
type activeSession struct {
	mu sync.Mutex
	s  *session.Session
}

func (a *activeSession) set(s *session.Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.s = s
}

func (a *activeSession) get() *session.Session {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.s
}

func (a *activeSession) controller() server.Controller {
	if s := a.get(); s != nil {
		return s
	}
	return nil
}

func (a *activeSession) onCaption(text string) {
	if s := a.get(); s != nil {
		s.OnCandidateCaption(text)
	}
}

type flags struct {
	configPath  string
	interviewID string
	candidate   string
	role        string
	level       string
}

func main() {
	var f flags
	flag.StringVar(&f.configPath, "config", "config.yaml", "path to the YAML config file")
	flag.StringVar(&f.interviewID, "interview", "", "interview id to run")
	flag.StringVar(&f.candidate, "candidate", "", "candidate name, used to create a missing interview")
	flag.StringVar(&f.role, "role", "", "role interviewed for, used to create a missing interview")
	flag.StringVar(&f.level, "level", "", "seniority level, used to create a missing interview")
	flag.Parse()

	if err := run(f); err != nil {
		slog.Error("ghost-interviewer failed", "error", err)
		os.Exit(1)
	}
}

func run(f flags) error {
	cfg, warnings, err := config.Load(f.configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	for _, w := range warnings {
		logger.Warn(w)
	}
	logger.Info("ghost-interviewer: starting", "version", version)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("storage init: %w", err)
	}
	defer func() { _ = store.Close() }()

	interviewID, err := ensureInterview(store, f, cfg.InterviewDuration())
	if err != nil {
		return err
	}

	provider, err := observe.InitProvider("ghost-interviewer", version)
	if err != nil {
		return fmt.Errorf("metrics init: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = provider.Shutdown(shutdownCtx)
	}()

	assets, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return fmt.Errorf("static assets init: %w", err)
	}

	hub := server.NewHub(logger)
	transcripts := storage.NewWriter(cfg.TranscriptDir)
	active := &activeSession{}

	var minter server.TokenMinter
	if cfg.GeminiAPIKey != "" {
		m, err := live.NewGeminiMinter(ctx, cfg.GeminiAPIKey, "", live.DefaultTokenTTL)
		if err != nil {
			logger.Warn("credential minting disabled", "error", err)
		} else {
			minter = m
		}
	}

	worker := newReportWorker(ctx, cfg, store, transcripts, provider.Metrics, logger)

	controls := server.ControlHooks{
		Session:  active.controller,
		Minter:   minter,
		Metrics:  provider.Handler,
		Warnings: func() []string { return warnings },
		Logger:   logger,
		Presets:  func() map[string]config.Preset { return cfg.Reporting.Presets },
	}
	if worker != nil {
		controls.Regenerate = worker.Regenerate
	}

	handler, err := server.Handler(assets, hub, store, controls)
	if err != nil {
		return fmt.Errorf("build http handler: %w", err)
	}

	if err := audio.InitDevices(); err != nil {
		return err
	}
	defer audio.TerminateDevices()

	capture, sampleRate, closeCapture, err := openCapture(cfg, logger)
	if err != nil {
		return err
	}
	defer closeCapture()

	speaker, err := audio.NewSpeaker(cfg.Audio.PlaybackSampleRate, cfg.FrameDuration())
	if err != nil {
		return fmt.Errorf("open speaker: %w", err)
	}
	defer func() { _ = speaker.Close() }()

	recorder := audio.NewRecorder(cfg.AudioDir)
	recorder.SetSampleRate(sampleRate)
	taps := []io.Writer{recorder}

	var captions session.CaptionSource
	if cfg.UseDeepgramCaptions() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
		dg, err := transcribe.NewDeepgramCaptions(ctx, cfg.DeepgramAPIKey, sampleRate, active.onCaption, logger)
		if err != nil {
			logger.Warn("deepgram captions unavailable, using agent transcription", "error", err)
		} else {
			defer dg.Stop()
			taps = append(taps, dg)
			captions = dg
		}
	}

	pipeline := audio.NewPipeline(capture, speaker, audio.PipelineConfig{
		CaptureSampleRate:  sampleRate,
		PlaybackSampleRate: cfg.Audio.PlaybackSampleRate,
		FrameDuration:      cfg.FrameDuration(),
		Taps:               taps,
		Logger:             logger,
	})

	manager := live.NewManager(&live.HTTPCredentialSource{URL: credentialURL(cfg)}, pipeline, live.Config{
		Endpoint:          cfg.Agent.Endpoint,
		HandshakeTimeout:  cfg.HandshakeTimeout(),
		MaxConnectionAge:  cfg.MaxConnectionAge(),
		TranscriptionMode: live.TranscriptionMode(cfg.Agent.TranscriptionMode),
		InputSampleRate:   sampleRate,
		FrameDuration:     cfg.FrameDuration(),
		PreRoll:           live.DefaultPreRoll,
		Logger:            logger,
	})

	deps := session.Deps{
		Store:       store,
		Connection:  manager,
		Pipeline:    pipeline,
		Recorder:    recorder,
		Hub:         hub,
		Transcripts: transcripts,
		Captions:    captions,
		Metrics:     provider.Metrics,
	}
	scfg := session.Config{
		WrapUpAt:      cfg.WrapUpAt(),
		IdleWarning:   cfg.IdleWarning(),
		IdleTimeout:   cfg.IdleTimeout(),
		Model:         cfg.Agent.Model,
		Voice:         cfg.Agent.Voice,
		RollSessions:  cfg.Agent.RollSessions,
		VADThreshold:  cfg.Audio.VADThreshold,
		VADHangover:   cfg.VADHangover(),
		FrameDuration: cfg.FrameDuration(),
		Proctor: proctor.Config{
			HoldKey:        cfg.Proctoring.ExitHoldKey,
			HoldDuration:   cfg.ExitHoldDuration(),
			ConfirmTimeout: cfg.ExitConfirmTimeout(),
			MaxWarnings:    cfg.Proctoring.MaxWarnings,
			Logger:         logger,
		},
		RedirectURL:      cfg.Proctoring.RedirectURL,
		RedirectDelay:    cfg.RedirectDelay(),
		ExternalCaptions: captions != nil,
		Logger:           logger,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Serve(gctx, cfg.ListenAddr, handler, logger)
	})
	if worker != nil {
		g.Go(func() error { return worker.Run(gctx) })
	}
	g.Go(func() error {
		if err := waitForListener(gctx, cfg.ListenAddr); err != nil {
			return err
		}
		s, err := session.Start(gctx, deps, scfg, interviewID)
		if err != nil {
			return fmt.Errorf("start session: %w", err)
		}
		active.set(s)
		logger.Info("ghost-interviewer: interview ready", "url", "http://"+cfg.ListenAddr, "interview_id", interviewID)

		select {
		case <-s.Done():
			logger.Info("interview finished", "interview_id", interviewID, "reason", s.Reason())
		case <-gctx.Done():
			s.Close()
		}
		return nil
	})

	err = g.Wait()
	logger.Info("ghost-interviewer: shutting down")
	if s := active.get(); s != nil {
		s.Close()
	}
	manager.Disconnect()
	pipeline.Stop()
	return err
}

func parseLevel(raw string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// ensureInterview returns the interview to run, creating it from the
// candidate flags when it does not exist yet.
func ensureInterview(store *storage.SQLiteStore, f flags, duration time.Duration) (string, error) {
	id := strings.TrimSpace(f.interviewID)
	if id != "" {
		_, err := store.GetInterview(id)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, storage.ErrNotFound) {
			return "", fmt.Errorf("load interview: %w", err)
		}
	}
	if strings.TrimSpace(f.candidate) == "" {
		if id == "" {
			return "", errors.New("-interview is required (or -candidate to create one)")
		}
		return "", fmt.Errorf("interview %s not found; pass -candidate, -role and -level to create it", id)
	}
	if id == "" {
		id = uuid.NewString()
	}

	iv := storage.Interview{
		ID:              id,
		CandidateName:   strings.TrimSpace(f.candidate),
		Role:            strings.TrimSpace(f.role),
		Level:           strings.TrimSpace(f.level),
		DurationSeconds: int(duration / time.Second),
		Status:          storage.StatusScheduled,
	}
	if err := store.CreateInterview(iv); err != nil {
		return "", fmt.Errorf("create interview: %w", err)
	}
	slog.Info("interview created", "interview_id", id, "candidate", iv.CandidateName)
	return id, nil
}

// openCapture prefers the deepgram microphone and falls back to a plain
// PortAudio input, trying each configured rate in order.
func openCapture(cfg config.Config, logger *slog.Logger) (audio.CaptureDevice, int, func(), error) {
	rates := cfg.SampleRateCandidates()
	for _, rate := range rates {
		mic, err := microphone.New(microphone.AudioConfig{InputChannels: 1, SamplingRate: float32(rate)})
		if err != nil {
			logger.Warn("microphone open failed", "sample_rate", rate, "error", err)
			continue
		}
		logger.Info("microphone opened", "sample_rate", rate)
		return mic, rate, func() { _ = mic.Stop() }, nil
	}

	for _, rate := range rates {
		mic, err := audio.NewMic(rate, cfg.FrameDuration())
		if err != nil {
			logger.Warn("portaudio input open failed", "sample_rate", rate, "error", err)
			continue
		}
		logger.Info("portaudio input opened", "sample_rate", rate)
		return mic, rate, func() { _ = mic.Close() }, nil
	}
	return nil, 0, nil, &live.Error{Kind: live.KindDevice, Op: "open microphone", Err: errors.New("no input device accepted any sample rate")}
}

// credentialURL points the connection at the local minting endpoint unless
// an external one is configured.
func credentialURL(cfg config.Config) string {
	if cfg.Agent.CredentialURL != "" {
		return cfg.Agent.CredentialURL
	}
	return "http://" + loopbackAddr(cfg.ListenAddr) + "/api/credential"
}

func loopbackAddr(listen string) string {
	host, port, err := net.SplitHostPort(listen)
	if err != nil {
		return listen
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}
	return net.JoinHostPort(host, port)
}

func waitForListener(ctx context.Context, listen string) error {
	addr := loopbackAddr(listen)
	deadline := time.Now().Add(5 * time.Second)
	for {
		conn, err := net.DialTimeout("tcp", addr, 200*time.Millisecond)
		if err == nil {
			_ = conn.Close()
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("web UI did not start on %s: %w", addr, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(50 * time.Millisecond):
		}
	}
}

func newReportWorker(ctx context.Context, cfg config.Config, store *storage.SQLiteStore, writer *storage.Writer, metrics *observe.Metrics, logger *slog.Logger) *report.Worker {
	provider, _, err := llm.ParseModel(cfg.Reporting.Model)
	if err != nil || cfg.APIKeyFor(provider) == "" {
		return nil
	}

	factory := llm.NewFactory(cfg.APIKeyFor, llm.WithTemperature(reportTemperature))
	gen := report.NewGenerator(cfg.Reporting, factory, logger)

	var archive report.Archiver
	if cfg.GDriveFolderID != "" {
		a, err := gdrive.NewArchive(ctx, cfg.GoogleCredentialsFile, cfg.GDriveFolderID)
		if err != nil {
			logger.Warn("gdrive archive disabled", "error", err)
		} else {
			archive = a
		}
	}

	return report.NewWorker(store, gen, report.WorkerConfig{
		Writer:  writer,
		Archive: archive,
		Metrics: metrics,
		Logger:  logger,
	})
}
