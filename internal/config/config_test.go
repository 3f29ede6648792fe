package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"DB_PATH", "AUDIO_DIR", "TRANSCRIPT_DIR", "LISTEN_ADDR", "LOG_LEVEL",
		"INTERVIEW_DURATION", "IDLE_WARNING", "IDLE_TIMEOUT",
		"AGENT_ENDPOINT", "AGENT_MODEL", "AGENT_VOICE", "AGENT_CREDENTIAL_URL",
		"TRANSCRIPTION_MODE", "ROLL_SESSIONS",
		"MIC_SAMPLE_RATE", "MIC_SAMPLE_RATES", "VAD_THRESHOLD",
		"MAX_WARNINGS", "REDIRECT_URL", "CANDIDATE_CAPTIONS", "REPORTING_MODEL",
		"GDRIVE_FOLDER_ID", "GOOGLE_CREDENTIALS_FILE",
		"GEMINI_API_KEY", "DEEPGRAM_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY",
	} {
		t.Setenv(EnvPrefix+key, "")
	}
	for _, key := range []string{"GEMINI_API_KEY", "DEEPGRAM_API_KEY", "OPENAI_API_KEY", "ANTHROPIC_API_KEY"} {
		t.Setenv(key, "")
	}
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "data/ghost-interviewer.db" {
		t.Fatalf("expected default db_path, got %q", cfg.DBPath)
	}
	if cfg.ListenAddr != "127.0.0.1:8765" {
		t.Fatalf("expected loopback listen_addr, got %q", cfg.ListenAddr)
	}
	if cfg.InterviewDuration() != 15*time.Minute || cfg.WrapUpAt() != 2*time.Minute {
		t.Fatalf("unexpected interview timing %v / %v", cfg.InterviewDuration(), cfg.WrapUpAt())
	}
	if cfg.IdleWarning() != 30*time.Second || cfg.IdleTimeout() != 60*time.Second {
		t.Fatalf("unexpected idle timing %v / %v", cfg.IdleWarning(), cfg.IdleTimeout())
	}
	if cfg.Proctoring.ExitHoldKey != "q" || cfg.ExitHoldDuration() != 3*time.Second || cfg.Proctoring.MaxWarnings != 3 {
		t.Fatalf("unexpected proctoring defaults %+v", cfg.Proctoring)
	}
	if cfg.ExitConfirmTimeout() != 15*time.Second {
		t.Fatalf("expected 15s exit confirm timeout, got %v", cfg.ExitConfirmTimeout())
	}
	if cfg.Proctoring.RedirectURL != DefaultRedirectURL {
		t.Fatalf("expected default redirect %q, got %q", DefaultRedirectURL, cfg.Proctoring.RedirectURL)
	}
	if cfg.Agent.TranscriptionMode != "delta" || cfg.Agent.RollSessions {
		t.Fatalf("unexpected agent defaults %+v", cfg.Agent)
	}
	if _, ok := cfg.Reporting.Presets["default"]; !ok {
		t.Fatal("expected default reporting preset")
	}
}

func TestYAMLLoading(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
db_path: /custom/db.sqlite
listen_addr: 127.0.0.1:9000
interview:
  duration: 30m
  idle_warning: 45s
  idle_timeout: 90s
agent:
  model: models/custom-live
  voice: Kore
  roll_sessions: true
  transcription_mode: cumulative
audio:
  mic_sample_rate: 48000
  mic_sample_rates: [44100, 32000]
proctoring:
  exit_hold_key: x
  max_warnings: 2
  redirect_url: https://example.com/done
candidate_captions: deepgram
reporting:
  model: anthropic/claude-sonnet-4-5
  presets:
    system_design:
      description: Architecture rounds
      system_prompt: grade the design
      user_template: "{{transcript}}"
gdrive_folder_id: my-folder
`)

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/custom/db.sqlite" || cfg.ListenAddr != "127.0.0.1:9000" {
		t.Fatalf("unexpected paths %q %q", cfg.DBPath, cfg.ListenAddr)
	}
	if cfg.InterviewDuration() != 30*time.Minute || cfg.IdleTimeout() != 90*time.Second {
		t.Fatalf("unexpected interview timing %+v", cfg.Interview)
	}
	if cfg.WrapUpAt() != 2*time.Minute {
		t.Fatalf("expected unset wrap_up_at to keep default, got %v", cfg.WrapUpAt())
	}
	if cfg.Agent.Voice != "Kore" || !cfg.Agent.RollSessions || cfg.Agent.TranscriptionMode != "cumulative" {
		t.Fatalf("unexpected agent %+v", cfg.Agent)
	}
	if !reflect.DeepEqual(cfg.Audio.MicSampleRates, []int{44100, 32000}) {
		t.Fatalf("expected yaml mic_sample_rates, got %v", cfg.Audio.MicSampleRates)
	}
	if cfg.Proctoring.ExitHoldKey != "x" || cfg.Proctoring.MaxWarnings != 2 {
		t.Fatalf("unexpected proctoring %+v", cfg.Proctoring)
	}
	if cfg.CandidateCaptions != CaptionsDeepgram {
		t.Fatalf("expected deepgram captions, got %q", cfg.CandidateCaptions)
	}
	if cfg.Reporting.Presets["system_design"].Description != "Architecture rounds" {
		t.Fatalf("expected yaml preset, got %+v", cfg.Reporting.Presets)
	}
	if _, ok := cfg.Reporting.Presets["default"]; !ok {
		t.Fatal("expected default preset kept alongside yaml presets")
	}
}

func TestEnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
db_path: /from/yaml
agent:
  model: yaml-model
`)

	clearEnv(t)
	t.Setenv(EnvPrefix+"DB_PATH", "/from/env")
	t.Setenv(EnvPrefix+"AGENT_MODEL", "env-model")
	t.Setenv(EnvPrefix+"ROLL_SESSIONS", "true")
	t.Setenv(EnvPrefix+"INTERVIEW_DURATION", "45m")

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.DBPath != "/from/env" {
		t.Fatalf("expected env override for db_path, got %q", cfg.DBPath)
	}
	if cfg.Agent.Model != "env-model" || !cfg.Agent.RollSessions {
		t.Fatalf("expected env override for agent, got %+v", cfg.Agent)
	}
	if cfg.InterviewDuration() != 45*time.Minute {
		t.Fatalf("expected env duration, got %v", cfg.InterviewDuration())
	}
}

func TestSecretsFromEnvOnly(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "gm-plain")
	t.Setenv(EnvPrefix+"DEEPGRAM_API_KEY", "dg-secret")
	t.Setenv(EnvPrefix+"OPENAI_API_KEY", "oai-secret")
	t.Setenv("OPENAI_API_KEY", "oai-plain")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.GeminiAPIKey != "gm-plain" {
		t.Fatalf("expected gemini key from plain env, got %q", cfg.GeminiAPIKey)
	}
	if cfg.DeepgramAPIKey != "dg-secret" {
		t.Fatalf("expected deepgram key from env, got %q", cfg.DeepgramAPIKey)
	}
	if cfg.OpenAIAPIKey != "oai-secret" {
		t.Fatalf("expected namespaced openai key to win, got %q", cfg.OpenAIAPIKey)
	}
}

func TestSecretsIgnoredInYAML(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
gemini_api_key: should-be-ignored
openai_api_key: also-ignored
`)

	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.GeminiAPIKey != "" || cfg.OpenAIAPIKey != "" {
		t.Fatalf("expected yaml secrets ignored, got %q %q", cfg.GeminiAPIKey, cfg.OpenAIAPIKey)
	}
}

func TestValidationWarnings(t *testing.T) {
	clearEnv(t)

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	var geminiWarning, reportWarning bool
	for _, w := range warnings {
		if strings.Contains(w, "GEMINI_API_KEY") {
			geminiWarning = true
		}
		if strings.Contains(w, `"openai"`) {
			reportWarning = true
		}
	}

	if !geminiWarning {
		t.Fatalf("expected Gemini warning when key is missing, got warnings: %v", warnings)
	}
	if !reportWarning {
		t.Fatalf("expected report provider warning when key is missing, got warnings: %v", warnings)
	}
}

func TestValidationNoWarningsWhenConfigured(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("OPENAI_API_KEY", "key")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 0 {
		t.Fatalf("expected no warnings when fully configured, got: %v", warnings)
	}
}

func TestCredentialURLSatisfiesAgentCredentials(t *testing.T) {
	clearEnv(t)
	t.Setenv("OPENAI_API_KEY", "key")
	t.Setenv(EnvPrefix+"AGENT_CREDENTIAL_URL", "http://127.0.0.1:8765/api/credential")

	_, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(warnings) != 0 {
		t.Fatalf("expected no warnings with a credential url, got: %v", warnings)
	}
}

func TestInvalidDurationWarningFallsBack(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("OPENAI_API_KEY", "key")
	t.Setenv(EnvPrefix+"IDLE_WARNING", "not-a-duration")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(warnings) != 1 || !strings.Contains(warnings[0], "interview.idle_warning") {
		t.Fatalf("expected idle_warning warning, got: %v", warnings)
	}
	if cfg.IdleWarning() != 30*time.Second {
		t.Fatalf("expected fallback to 30s, got %v", cfg.IdleWarning())
	}
}

func TestIdleTimeoutMustExceedWarning(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("OPENAI_API_KEY", "key")
	t.Setenv(EnvPrefix+"IDLE_WARNING", "60s")
	t.Setenv(EnvPrefix+"IDLE_TIMEOUT", "30s")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(warnings) != 1 || !strings.Contains(warnings[0], "idle_timeout") {
		t.Fatalf("expected idle_timeout warning, got: %v", warnings)
	}
	if cfg.IdleTimeout() != 2*time.Minute {
		t.Fatalf("expected idle timeout of twice the warning, got %v", cfg.IdleTimeout())
	}
}

func TestInvalidCaptionsAndModeAreReset(t *testing.T) {
	clearEnv(t)
	t.Setenv("GEMINI_API_KEY", "key")
	t.Setenv("OPENAI_API_KEY", "key")
	t.Setenv(EnvPrefix+"CANDIDATE_CAPTIONS", "whisper")
	t.Setenv(EnvPrefix+"TRANSCRIPTION_MODE", "chunks")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if len(warnings) != 2 {
		t.Fatalf("expected two warnings, got: %v", warnings)
	}
	if cfg.CandidateCaptions != CaptionsAgent || cfg.Agent.TranscriptionMode != "delta" {
		t.Fatalf("expected fallbacks, got %q %q", cfg.CandidateCaptions, cfg.Agent.TranscriptionMode)
	}
}

func TestDeepgramCaptionsNeedKey(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"CANDIDATE_CAPTIONS", "deepgram")

	cfg, warnings, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.UseDeepgramCaptions() {
		t.Fatal("expected deepgram captions disabled without a key")
	}
	found := false
	for _, w := range warnings {
		if strings.Contains(w, "DEEPGRAM_API_KEY") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected Deepgram warning, got: %v", warnings)
	}

	cfg.DeepgramAPIKey = "key"
	if !cfg.UseDeepgramCaptions() {
		t.Fatal("expected deepgram captions with a key")
	}
}

func TestAPIKeyFor(t *testing.T) {
	cfg := Config{OpenAIAPIKey: "o", AnthropicAPIKey: "a", GeminiAPIKey: "g"}
	for provider, want := range map[string]string{"openai": "o", "anthropic": "a", "gemini": "g", "mistral": ""} {
		if got := cfg.APIKeyFor(provider); got != want {
			t.Fatalf("APIKeyFor(%q): expected %q, got %q", provider, want, got)
		}
	}
}

func TestMissingConfigFileUsesDefaults(t *testing.T) {
	clearEnv(t)

	cfg, _, err := Load("/nonexistent/path/config.yaml")
	if err != nil {
		t.Fatalf("Load should not fail for missing config file, got: %v", err)
	}

	if cfg.DBPath != "data/ghost-interviewer.db" {
		t.Fatalf("expected defaults when config file missing, got db_path=%q", cfg.DBPath)
	}
}

func TestInvalidConfigFileReturnsError(t *testing.T) {
	path := writeConfig(t, ":::invalid yaml")
	clearEnv(t)

	if _, _, err := Load(path); err == nil {
		t.Fatal("expected error for invalid yaml, got nil")
	}
}

func TestSampleRateCandidatesDefault(t *testing.T) {
	cfg := defaults()
	got := cfg.SampleRateCandidates()
	want := []int{16000, 48000, 44100, 32000, 24000}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected default sample rates: got=%v want=%v", got, want)
	}
}

func TestSampleRateCandidatesEnvOverride(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvPrefix+"MIC_SAMPLE_RATE", "48000")
	t.Setenv(EnvPrefix+"MIC_SAMPLE_RATES", "44100,16000,48000,abc,32000")

	cfg, _, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	got := cfg.SampleRateCandidates()
	want := []int{48000, 44100, 16000, 32000, 24000}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected env sample rates: got=%v want=%v", got, want)
	}
}

func TestParseSampleRates(t *testing.T) {
	got := parseSampleRates(" 16000,  ,invalid,0,-1,44100,16000 ")
	want := []int{16000, 44100}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("unexpected parsed sample rates: got=%v want=%v", got, want)
	}
}

func TestBlankRedirectURLUsesEndedPage(t *testing.T) {
	clearEnv(t)

	path := writeConfig(t, `
proctoring:
  redirect_url: "  "
  exit_confirm_timeout: 20s
`)
	cfg, _, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Proctoring.RedirectURL != "/ended" {
		t.Fatalf("expected blank redirect to fall back to /ended, got %q", cfg.Proctoring.RedirectURL)
	}
	if cfg.ExitConfirmTimeout() != 20*time.Second {
		t.Fatalf("expected 20s exit confirm timeout, got %v", cfg.ExitConfirmTimeout())
	}
}
