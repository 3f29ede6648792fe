package report

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/ghost-interviewer/internal/proctor"
	"github.com/sjawhar/ghost-interviewer/internal/storage"
	"github.com/sjawhar/ghost-interviewer/internal/transcribe"
)

const DefaultPollInterval = 2 * time.Second

type Store interface {
	PendingReportRequests() ([]storage.ReportRequest, error)
	GetInterview(id string) (storage.Interview, error)
	GetTranscript(interviewID string) ([]transcribe.Chunk, error)
	GetViolations(interviewID string) ([]proctor.Violation, error)
	GetReport(interviewID string) (storage.Report, error)
	ClaimReport(interviewID, promptHash string) (bool, error)
	UpdateReport(interviewID, kind, content, status, preset string) error
}

type TranscriptWriter interface {
	WriteTranscript(interviewID, title string, chunks []transcribe.Chunk, report string) (string, error)
}

// Archiver copies a finished transcript file somewhere off the machine.
type Archiver interface {
	Archive(ctx context.Context, interviewID, localPath string) error
}

type Metrics interface {
	RecordReport(ctx context.Context, status string)
}

type WorkerConfig struct {
	Interval time.Duration
	Writer   TranscriptWriter
	Archive  Archiver
	Metrics  Metrics
	Logger   *slog.Logger
}

// Worker turns pending report requests into stored reports.
type Worker struct {
	store    Store
	gen      *Generator
	writer   TranscriptWriter
	archive  Archiver
	metrics  Metrics
	logger   *slog.Logger
	interval time.Duration

	// mu serializes generation so a regeneration never races the poller
	// on the same interview.
	mu sync.Mutex
}

func NewWorker(store Store, gen *Generator, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultPollInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Worker{
		store:    store,
		gen:      gen,
		writer:   cfg.Writer,
		archive:  cfg.Archive,
		metrics:  cfg.Metrics,
		logger:   cfg.Logger,
		interval: cfg.Interval,
	}
}

// Run polls for pending requests until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		w.ProcessPending(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ProcessPending handles every pending request once and returns how many
// were settled without error.
func (w *Worker) ProcessPending(ctx context.Context) int {
	reqs, err := w.store.PendingReportRequests()
	if err != nil {
		w.logger.Warn("list pending report requests failed", "error", err)
		return 0
	}

	done := 0
	for _, req := range reqs {
		if ctx.Err() != nil {
			break
		}
		if err := w.process(ctx, req); err != nil {
			w.logger.Warn("report generation failed", "interview_id", req.InterviewID, "kind", req.Kind, "error", err)
			continue
		}
		done++
	}
	return done
}

func (w *Worker) process(ctx context.Context, req storage.ReportRequest) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	iv, chunks, violations, err := w.load(req.InterviewID)
	if err != nil {
		w.fail(ctx, req.InterviewID, req.Kind, "")
		return err
	}

	claimed, err := w.store.ClaimReport(iv.ID, PromptHash(req.Kind, transcribe.PlainText(chunks)))
	if err != nil {
		return fmt.Errorf("claim report: %w", err)
	}
	if !claimed {
		return w.settleDuplicate(ctx, req)
	}

	return w.generate(ctx, Input{
		Interview:  iv,
		Kind:       req.Kind,
		Reason:     req.Reason,
		Chunks:     chunks,
		Violations: violations,
	})
}

// Regenerate rebuilds an interview's report, optionally with a specific
// preset. It bypasses the claim table.
func (w *Worker) Regenerate(ctx context.Context, interviewID, preset string) error {
	if preset != "" && !w.gen.HasPreset(preset) {
		return fmt.Errorf("%w %q", ErrUnknownPreset, preset)
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	iv, chunks, violations, err := w.load(interviewID)
	if err != nil {
		return err
	}

	kind := storage.ReportCompletion
	if existing, err := w.store.GetReport(interviewID); err == nil {
		kind = existing.Kind
	} else if !errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("load report: %w", err)
	} else if iv.Status == storage.StatusTerminated {
		kind = storage.ReportTermination
	}

	return w.generate(ctx, Input{
		Interview:  iv,
		Kind:       kind,
		Reason:     iv.EndReason,
		Chunks:     chunks,
		Violations: violations,
		Preset:     preset,
	})
}

func (w *Worker) load(interviewID string) (storage.Interview, []transcribe.Chunk, []proctor.Violation, error) {
	iv, err := w.store.GetInterview(interviewID)
	if err != nil {
		return storage.Interview{}, nil, nil, fmt.Errorf("load interview: %w", err)
	}
	chunks, err := w.store.GetTranscript(interviewID)
	if err != nil {
		return storage.Interview{}, nil, nil, fmt.Errorf("load transcript: %w", err)
	}
	violations, err := w.store.GetViolations(interviewID)
	if err != nil {
		return storage.Interview{}, nil, nil, fmt.Errorf("load violations: %w", err)
	}
	return iv, chunks, violations, nil
}

func (w *Worker) generate(ctx context.Context, in Input) error {
	id := in.Interview.ID
	if err := w.store.UpdateReport(id, in.Kind, "", storage.ReportRunning, in.Preset); err != nil {
		return fmt.Errorf("mark report running: %w", err)
	}

	res, err := w.gen.Generate(ctx, in)
	if err != nil {
		w.fail(ctx, id, in.Kind, in.Preset)
		return err
	}

	if err := w.store.UpdateReport(id, in.Kind, res.Content, storage.ReportCompleted, res.Preset); err != nil {
		w.fail(ctx, id, in.Kind, res.Preset)
		return fmt.Errorf("store report: %w", err)
	}
	status := storage.ReportCompleted
	if res.Skipped {
		status = "skipped"
	}
	w.record(ctx, status)
	w.logger.Info("report stored", "interview_id", id, "kind", in.Kind, "preset", res.Preset, "skipped", res.Skipped)

	w.writeTranscript(ctx, in.Interview, in.Chunks, res.Content)
	return nil
}

// settleDuplicate closes a request whose generation was already claimed,
// keeping whatever report exists.
func (w *Worker) settleDuplicate(ctx context.Context, req storage.ReportRequest) error {
	existing, err := w.store.GetReport(req.InterviewID)
	if err == nil && existing.Status == storage.ReportCompleted {
		return w.store.UpdateReport(req.InterviewID, existing.Kind, existing.Content, storage.ReportCompleted, existing.Preset)
	}
	w.logger.Warn("report already claimed without a result", "interview_id", req.InterviewID)
	w.fail(ctx, req.InterviewID, req.Kind, "")
	return nil
}

func (w *Worker) fail(ctx context.Context, interviewID, kind, preset string) {
	if err := w.store.UpdateReport(interviewID, kind, "", storage.ReportFailed, preset); err != nil {
		w.logger.Warn("mark report failed", "interview_id", interviewID, "error", err)
	}
	w.record(ctx, storage.ReportFailed)
}

func (w *Worker) record(ctx context.Context, status string) {
	if w.metrics != nil {
		w.metrics.RecordReport(ctx, status)
	}
}

func (w *Worker) writeTranscript(ctx context.Context, iv storage.Interview, chunks []transcribe.Chunk, report string) {
	if w.writer == nil {
		return
	}
	path, err := w.writer.WriteTranscript(iv.ID, Title(iv), chunks, report)
	if err != nil {
		w.logger.Warn("write transcript file failed", "interview_id", iv.ID, "error", err)
		return
	}
	if w.archive == nil {
		return
	}
	if err := w.archive.Archive(ctx, iv.ID, path); err != nil {
		w.logger.Warn("archive transcript failed", "interview_id", iv.ID, "error", err)
	}
}

// Title is the transcript document heading for an interview.
func Title(iv storage.Interview) string {
	name := strings.TrimSpace(iv.CandidateName)
	if name == "" {
		name = iv.ID
	}
	var details []string
	for _, s := range []string{iv.Role, iv.Level} {
		if s = strings.TrimSpace(s); s != "" {
			details = append(details, s)
		}
	}
	if len(details) == 0 {
		return "Interview with " + name
	}
	return fmt.Sprintf("Interview with %s (%s)", name, strings.Join(details, ", "))
}
