package report

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/sjawhar/ghost-interviewer/internal/config"
	"github.com/sjawhar/ghost-interviewer/internal/llm"
)

// Router picks an evaluation preset for a transcript when several are
// configured.
type Router struct {
	cfg     config.Reporting
	factory ClientFactory
	logger  *slog.Logger
}

func NewRouter(cfg config.Reporting, factory ClientFactory, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{cfg: cfg, factory: factory, logger: logger}
}

// SampleTranscript keeps the opening, middle and closing words of a long
// transcript separated by "[...]" markers.
func SampleTranscript(transcript string, firstN, midN, lastN int) string {
	words := strings.Fields(transcript)
	total := len(words)

	if total <= firstN+midN+lastN {
		return transcript
	}

	first := strings.Join(words[:firstN], " ")
	midStart := (total - midN) / 2
	mid := strings.Join(words[midStart:midStart+midN], " ")
	last := strings.Join(words[total-lastN:], " ")

	return first + "\n\n[...]\n\n" + mid + "\n\n[...]\n\n" + last
}

func (r *Router) SelectPreset(ctx context.Context, role, transcript string) string {
	sampled := SampleTranscript(transcript, 300, 200, 200)

	var presetList strings.Builder
	for _, name := range presetNames(r.cfg.Presets) {
		fmt.Fprintf(&presetList, "- %s: %s\n", name, r.cfg.Presets[name].Description)
	}

	prompt := fmt.Sprintf(`Given this interview excerpt for the role %q, choose the single best evaluation rubric.

Interview excerpt:
%s

Available rubrics:
%s
Reply with ONLY the rubric name, nothing else.`, role, sampled, presetList.String())

	provider, model, err := llm.ParseModel(r.cfg.Model)
	if err != nil {
		r.logger.Warn("router: falling back to default preset", "reason", "parse model failed", "error", err)
		return r.fallbackPreset()
	}

	client, err := r.factory(provider, model)
	if err != nil {
		r.logger.Warn("router: falling back to default preset", "reason", "create client failed", "error", err)
		return r.fallbackPreset()
	}

	result, err := client.Complete(ctx, []llm.Message{{Role: llm.RoleUser, Content: prompt}})
	if err != nil {
		r.logger.Warn("router: falling back to default preset", "reason", "llm complete failed", "error", err)
		return r.fallbackPreset()
	}

	chosen := strings.Trim(strings.TrimSpace(result), "`\"'")
	if _, ok := r.cfg.Presets[chosen]; ok {
		return chosen
	}

	r.logger.Warn("router: falling back to default preset", "reason", "chosen preset not found", "chosen", chosen)
	return r.fallbackPreset()
}

func (r *Router) fallbackPreset() string {
	return fallbackPreset(r.cfg.Presets)
}

func fallbackPreset(presets map[string]config.Preset) string {
	if _, ok := presets["default"]; ok {
		return "default"
	}
	names := presetNames(presets)
	if len(names) == 0 {
		return "default"
	}
	return names[0]
}

func presetNames(presets map[string]config.Preset) []string {
	keys := make([]string, 0, len(presets))
	for k := range presets {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
