package report

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/sjawhar/ghost-interviewer/internal/config"
	"github.com/sjawhar/ghost-interviewer/internal/llm"
	"github.com/sjawhar/ghost-interviewer/internal/proctor"
	"github.com/sjawhar/ghost-interviewer/internal/storage"
	"github.com/sjawhar/ghost-interviewer/internal/transcribe"
)

// minWords is the shortest transcript worth sending to a model.
const minWords = 20

const shortTranscriptNote = "_The transcript is too short for an evaluation._"

var ErrUnknownPreset = errors.New("unknown report preset")

type ClientFactory func(provider, model string) (llm.Client, error)

// Input is everything a report is built from.
type Input struct {
	Interview  storage.Interview
	Kind       string
	Reason     string
	Chunks     []transcribe.Chunk
	Violations []proctor.Violation
	// Preset forces a rubric instead of routing.
	Preset string
}

type Result struct {
	Content string
	Preset  string
	Skipped bool
}

type Generator struct {
	cfg     config.Reporting
	factory ClientFactory
	router  *Router
	logger  *slog.Logger
	sleep   func(time.Duration)
	now     func() time.Time
}

func NewGenerator(cfg config.Reporting, factory ClientFactory, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	var router *Router
	if len(cfg.Presets) > 1 {
		router = NewRouter(cfg, factory, logger)
	}
	return &Generator{
		cfg:     cfg,
		factory: factory,
		router:  router,
		logger:  logger,
		sleep:   time.Sleep,
		now:     time.Now,
	}
}

func (g *Generator) Presets() map[string]config.Preset {
	return g.cfg.Presets
}

func (g *Generator) HasPreset(name string) bool {
	_, ok := g.cfg.Presets[name]
	return ok
}

func (g *Generator) Generate(ctx context.Context, in Input) (Result, error) {
	transcript := transcribe.PlainText(in.Chunks)

	presetName := in.Preset
	if presetName == "" {
		presetName = g.selectPreset(ctx, in.Interview.Role, transcript)
	}
	preset, ok := g.cfg.Presets[presetName]
	if !ok {
		return Result{}, fmt.Errorf("%w %q", ErrUnknownPreset, presetName)
	}

	if len(strings.Fields(transcript)) < minWords {
		return Result{
			Content: withLedger(shortTranscriptNote, in.Kind, in.Violations),
			Preset:  presetName,
			Skipped: true,
		}, nil
	}

	modelStr := preset.Model
	if modelStr == "" {
		modelStr = g.cfg.Model
	}
	provider, model, err := llm.ParseModel(modelStr)
	if err != nil {
		return Result{}, err
	}

	client, err := g.factory(provider, model)
	if err != nil {
		return Result{}, fmt.Errorf("create llm client: %w", err)
	}

	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: preset.SystemPrompt},
		{Role: llm.RoleUser, Content: g.render(preset.UserTemplate, in, transcript)},
	}

	backoff := []time.Duration{1 * time.Second, 4 * time.Second, 16 * time.Second}
	var lastErr error
	for attempt := range backoff {
		result, err := client.Complete(ctx, messages)
		if err == nil {
			return Result{Content: withLedger(result, in.Kind, in.Violations), Preset: presetName}, nil
		}
		lastErr = err
		if ctx.Err() != nil {
			break
		}
		if attempt < len(backoff)-1 {
			g.logger.Warn("report completion failed, retrying", "interview_id", in.Interview.ID, "attempt", attempt+1, "error", err)
			g.sleep(backoff[attempt])
		}
	}
	return Result{}, fmt.Errorf("generate report failed after retries: %w", lastErr)
}

func (g *Generator) selectPreset(ctx context.Context, role, transcript string) string {
	if g.router == nil {
		return fallbackPreset(g.cfg.Presets)
	}
	return g.router.SelectPreset(ctx, role, transcript)
}

func (g *Generator) render(tmpl string, in Input, transcript string) string {
	reason := in.Reason
	if reason == "" {
		reason = in.Interview.EndReason
	}
	out := strings.NewReplacer(
		"{{transcript}}", transcript,
		"{{date}}", g.now().UTC().Format("2006-01-02"),
		"{{candidate}}", in.Interview.CandidateName,
		"{{role}}", in.Interview.Role,
		"{{level}}", in.Interview.Level,
		"{{end_reason}}", reason,
	).Replace(tmpl)

	if len(in.Violations) > 0 {
		out += "\n\nProctoring violations recorded during the interview:\n" + ledgerLines(in.Violations)
	}
	return out
}

// withLedger appends the violation ledger to termination reports.
func withLedger(content, kind string, violations []proctor.Violation) string {
	if kind != storage.ReportTermination || len(violations) == 0 {
		return content
	}
	return strings.TrimSpace(content) + "\n\n## Proctoring violations\n\n" + ledgerLines(violations)
}

func ledgerLines(violations []proctor.Violation) string {
	var b strings.Builder
	for _, v := range violations {
		fmt.Fprintf(&b, "- %s at %s", v, v.At.UTC().Format("15:04:05"))
		if v.Details != "" {
			fmt.Fprintf(&b, ": %s", v.Details)
		}
		b.WriteString("\n")
	}
	return b.String()
}

// PromptHash identifies one (kind, transcript) generation for claims.
func PromptHash(kind, transcript string) string {
	sum := sha256.Sum256([]byte(kind + "\n" + transcript))
	return hex.EncodeToString(sum[:])
}
