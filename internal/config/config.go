package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix is the namespace prefix for all Ghost Interviewer environment variables.
const EnvPrefix = "GHOST_INTERVIEWER_"

const (
	CaptionsAgent    = "agent"
	CaptionsDeepgram = "deepgram"
)

// Config holds all application configuration. Secrets (API keys) are loaded
// exclusively from environment variables and never appear in the config file.
type Config struct {
	DBPath                string     `yaml:"db_path"`
	AudioDir              string     `yaml:"audio_dir"`
	TranscriptDir         string     `yaml:"transcript_dir"`
	ListenAddr            string     `yaml:"listen_addr"`
	LogLevel              string     `yaml:"log_level"`
	Interview             Interview  `yaml:"interview"`
	Agent                 Agent      `yaml:"agent"`
	Audio                 Audio      `yaml:"audio"`
	Proctoring            Proctoring `yaml:"proctoring"`
	CandidateCaptions     string     `yaml:"candidate_captions"`
	Reporting             Reporting  `yaml:"reporting"`
	GDriveFolderID        string     `yaml:"gdrive_folder_id"`
	GoogleCredentialsFile string     `yaml:"google_credentials_file"`

	// Secrets, env vars only.
	GeminiAPIKey    string `yaml:"-"`
	DeepgramAPIKey  string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
}

type Interview struct {
	Duration    string `yaml:"duration"`
	WrapUpAt    string `yaml:"wrap_up_at"`
	IdleWarning string `yaml:"idle_warning"`
	IdleTimeout string `yaml:"idle_timeout"`
}

type Agent struct {
	Endpoint          string `yaml:"endpoint"`
	Model             string `yaml:"model"`
	Voice             string `yaml:"voice"`
	CredentialURL     string `yaml:"credential_url"`
	HandshakeTimeout  string `yaml:"handshake_timeout"`
	MaxConnectionAge  string `yaml:"max_connection_age"`
	RollSessions      bool   `yaml:"roll_sessions"`
	TranscriptionMode string `yaml:"transcription_mode"`
}

type Audio struct {
	MicSampleRate      int    `yaml:"mic_sample_rate"`
	MicSampleRates     []int  `yaml:"mic_sample_rates"`
	PlaybackSampleRate int    `yaml:"playback_sample_rate"`
	FrameDuration      string `yaml:"frame_duration"`
	VADThreshold       int    `yaml:"vad_threshold"`
	VADHangover        string `yaml:"vad_hangover"`
}

type Proctoring struct {
	ExitHoldKey        string `yaml:"exit_hold_key"`
	ExitHoldDuration   string `yaml:"exit_hold_duration"`
	ExitConfirmTimeout string `yaml:"exit_confirm_timeout"`
	MaxWarnings        int    `yaml:"max_warnings"`
	RedirectDelay      string `yaml:"redirect_delay"`
	RedirectURL        string `yaml:"redirect_url"`
}

// DefaultRedirectURL is the local page a terminated session navigates to.
const DefaultRedirectURL = "/ended"

type Reporting struct {
	Model   string            `yaml:"model"`
	Presets map[string]Preset `yaml:"presets"`
}

// Preset is one evaluation rubric. UserTemplate placeholders: {{transcript}},
// {{date}}, {{candidate}}, {{role}}, {{level}}, {{end_reason}}.
type Preset struct {
	Description  string `yaml:"description"`
	Model        string `yaml:"model"`
	SystemPrompt string `yaml:"system_prompt"`
	UserTemplate string `yaml:"user_template"`
}

const defaultSystemPrompt = `You are a senior engineering interviewer writing a hiring report from a mock interview transcript.
Be specific and cite what the candidate actually said. Output markdown with the sections:
Summary, Strengths, Concerns, Technical Depth, Communication, Recommendation (strong hire, hire, lean no, no).`

const defaultUserTemplate = `Interview date: {{date}}
Candidate: {{candidate}}
Role: {{role}} ({{level}})
Ended: {{end_reason}}

Transcript:
{{transcript}}`

func defaults() Config {
	return Config{
		DBPath:        "data/ghost-interviewer.db",
		AudioDir:      "data/audio",
		TranscriptDir: "data/transcripts",
		ListenAddr:    "127.0.0.1:8765",
		LogLevel:      "info",
		Interview: Interview{
			Duration:    "15m",
			WrapUpAt:    "2m",
			IdleWarning: "30s",
			IdleTimeout: "60s",
		},
		Agent: Agent{
			Model:             "models/gemini-2.0-flash-live-001",
			Voice:             "Puck",
			HandshakeTimeout:  "15s",
			MaxConnectionAge:  "9m",
			TranscriptionMode: "delta",
		},
		Audio: Audio{
			MicSampleRate:      16000,
			MicSampleRates:     []int{48000, 44100, 32000, 24000},
			PlaybackSampleRate: 24000,
			FrameDuration:      "20ms",
			VADThreshold:       8,
			VADHangover:        "800ms",
		},
		Proctoring: Proctoring{
			ExitHoldKey:        "q",
			ExitHoldDuration:   "3s",
			ExitConfirmTimeout: "15s",
			MaxWarnings:        3,
			RedirectDelay:      "10s",
			RedirectURL:        DefaultRedirectURL,
		},
		CandidateCaptions: CaptionsAgent,
		Reporting: Reporting{
			Model: "openai/gpt-4o-mini",
			Presets: map[string]Preset{
				"default": {
					Description:  "General software engineering interview evaluation",
					SystemPrompt: defaultSystemPrompt,
					UserTemplate: defaultUserTemplate,
				},
			},
		},
		GoogleCredentialsFile: "./service-account.json",
	}
}

// Load reads configuration from a YAML file (if it exists), applies
// environment variable overrides, loads secrets, and validates the result.
// It returns the config, any validation warnings, and an error if the file
// exists but cannot be read or parsed.
func Load(path string) (Config, []string, error) {
	cfg := defaults()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return cfg, nil, fmt.Errorf("read config file: %w", err)
			}
		} else {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, nil, fmt.Errorf("parse config file: %w", err)
			}
		}
	}

	applyEnvOverrides(&cfg)
	loadSecrets(&cfg)

	warnings := validate(&cfg)
	return cfg, warnings, nil
}

func (c *Config) InterviewDuration() time.Duration {
	return parseDuration(c.Interview.Duration, 15*time.Minute)
}

func (c *Config) WrapUpAt() time.Duration {
	return parseDuration(c.Interview.WrapUpAt, 2*time.Minute)
}

func (c *Config) IdleWarning() time.Duration {
	return parseDuration(c.Interview.IdleWarning, 30*time.Second)
}

func (c *Config) IdleTimeout() time.Duration {
	return parseDuration(c.Interview.IdleTimeout, 60*time.Second)
}

func (c *Config) HandshakeTimeout() time.Duration {
	return parseDuration(c.Agent.HandshakeTimeout, 15*time.Second)
}

func (c *Config) MaxConnectionAge() time.Duration {
	return parseDuration(c.Agent.MaxConnectionAge, 9*time.Minute)
}

func (c *Config) FrameDuration() time.Duration {
	return parseDuration(c.Audio.FrameDuration, 20*time.Millisecond)
}

func (c *Config) VADHangover() time.Duration {
	return parseDuration(c.Audio.VADHangover, 800*time.Millisecond)
}

func (c *Config) ExitHoldDuration() time.Duration {
	return parseDuration(c.Proctoring.ExitHoldDuration, 3*time.Second)
}

func (c *Config) ExitConfirmTimeout() time.Duration {
	return parseDuration(c.Proctoring.ExitConfirmTimeout, 15*time.Second)
}

func (c *Config) RedirectDelay() time.Duration {
	return parseDuration(c.Proctoring.RedirectDelay, 10*time.Second)
}

// UseDeepgramCaptions reports whether candidate captions come from Deepgram
// rather than the agent's own input transcription.
func (c *Config) UseDeepgramCaptions() bool {
	return c.CandidateCaptions == CaptionsDeepgram && c.DeepgramAPIKey != ""
}

// APIKeyFor returns the secret for an LLM provider name.
func (c *Config) APIKeyFor(provider string) string {
	switch provider {
	case "openai":
		return c.OpenAIAPIKey
	case "anthropic":
		return c.AnthropicAPIKey
	case "gemini":
		return c.GeminiAPIKey
	default:
		return ""
	}
}

// SampleRateCandidates returns a deduplicated ordered list of sample rates
// to try: preferred rate first, then configured alternatives, then defaults.
func (c *Config) SampleRateCandidates() []int {
	hardcoded := []int{16000, 48000, 44100, 32000, 24000}

	combined := make([]int, 0, 1+len(c.Audio.MicSampleRates)+len(hardcoded))
	combined = append(combined, c.Audio.MicSampleRate)
	combined = append(combined, c.Audio.MicSampleRates...)
	combined = append(combined, hardcoded...)

	seen := make(map[int]struct{}, len(combined))
	result := make([]int, 0, len(combined))
	for _, rate := range combined {
		if rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}
	return result
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func applyEnvOverrides(cfg *Config) {
	str := func(key string, dst *string) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			*dst = v
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(EnvPrefix + key); v != "" {
			if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil && n > 0 {
				*dst = n
			}
		}
	}

	str("DB_PATH", &cfg.DBPath)
	str("AUDIO_DIR", &cfg.AudioDir)
	str("TRANSCRIPT_DIR", &cfg.TranscriptDir)
	str("LISTEN_ADDR", &cfg.ListenAddr)
	str("LOG_LEVEL", &cfg.LogLevel)
	str("INTERVIEW_DURATION", &cfg.Interview.Duration)
	str("IDLE_WARNING", &cfg.Interview.IdleWarning)
	str("IDLE_TIMEOUT", &cfg.Interview.IdleTimeout)
	str("AGENT_ENDPOINT", &cfg.Agent.Endpoint)
	str("AGENT_MODEL", &cfg.Agent.Model)
	str("AGENT_VOICE", &cfg.Agent.Voice)
	str("AGENT_CREDENTIAL_URL", &cfg.Agent.CredentialURL)
	str("TRANSCRIPTION_MODE", &cfg.Agent.TranscriptionMode)
	if v := os.Getenv(EnvPrefix + "ROLL_SESSIONS"); v != "" {
		if b, err := strconv.ParseBool(strings.TrimSpace(v)); err == nil {
			cfg.Agent.RollSessions = b
		}
	}
	num("MIC_SAMPLE_RATE", &cfg.Audio.MicSampleRate)
	if v := os.Getenv(EnvPrefix + "MIC_SAMPLE_RATES"); v != "" {
		cfg.Audio.MicSampleRates = parseSampleRates(v)
	}
	num("VAD_THRESHOLD", &cfg.Audio.VADThreshold)
	num("MAX_WARNINGS", &cfg.Proctoring.MaxWarnings)
	str("REDIRECT_URL", &cfg.Proctoring.RedirectURL)
	str("CANDIDATE_CAPTIONS", &cfg.CandidateCaptions)
	str("REPORTING_MODEL", &cfg.Reporting.Model)
	str("GDRIVE_FOLDER_ID", &cfg.GDriveFolderID)
	str("GOOGLE_CREDENTIALS_FILE", &cfg.GoogleCredentialsFile)
}

// secret prefers the namespaced variable and falls back to the provider's
// conventional name.
func secret(name string) string {
	if v := os.Getenv(EnvPrefix + name); v != "" {
		return v
	}
	return os.Getenv(name)
}

func loadSecrets(cfg *Config) {
	cfg.GeminiAPIKey = secret("GEMINI_API_KEY")
	cfg.DeepgramAPIKey = secret("DEEPGRAM_API_KEY")
	cfg.OpenAIAPIKey = secret("OPENAI_API_KEY")
	cfg.AnthropicAPIKey = secret("ANTHROPIC_API_KEY")
}

func validate(cfg *Config) []string {
	var warnings []string

	if cfg.GeminiAPIKey == "" && cfg.Agent.CredentialURL == "" {
		warnings = append(warnings, "Gemini API key not configured and no agent.credential_url set. The interviewer cannot connect. Set GEMINI_API_KEY.")
	}
	if cfg.CandidateCaptions == CaptionsDeepgram && cfg.DeepgramAPIKey == "" {
		warnings = append(warnings, "Deepgram API key not configured. Candidate captions fall back to the agent transcription. Set DEEPGRAM_API_KEY.")
	}
	if cfg.CandidateCaptions != CaptionsAgent && cfg.CandidateCaptions != CaptionsDeepgram {
		warnings = append(warnings, fmt.Sprintf("Invalid candidate_captions %q. Using agent.", cfg.CandidateCaptions))
		cfg.CandidateCaptions = CaptionsAgent
	}
	if mode := cfg.Agent.TranscriptionMode; mode != "delta" && mode != "cumulative" {
		warnings = append(warnings, fmt.Sprintf("Invalid agent.transcription_mode %q. Using delta.", mode))
		cfg.Agent.TranscriptionMode = "delta"
	}

	if provider, _, ok := strings.Cut(cfg.Reporting.Model, "/"); !ok || provider == "" {
		warnings = append(warnings, fmt.Sprintf("Invalid reporting.model %q. Expected provider/model_name.", cfg.Reporting.Model))
	} else if cfg.APIKeyFor(provider) == "" {
		warnings = append(warnings, fmt.Sprintf("No API key for report provider %q. Interview reports are disabled.", provider))
	}
	if len(cfg.Reporting.Presets) == 0 {
		warnings = append(warnings, "No reporting presets configured. Using the default preset.")
		cfg.Reporting.Presets = defaults().Reporting.Presets
	}

	for _, d := range []struct{ key, raw, fallback string }{
		{"interview.duration", cfg.Interview.Duration, "15m"},
		{"interview.wrap_up_at", cfg.Interview.WrapUpAt, "2m"},
		{"interview.idle_warning", cfg.Interview.IdleWarning, "30s"},
		{"interview.idle_timeout", cfg.Interview.IdleTimeout, "60s"},
		{"agent.handshake_timeout", cfg.Agent.HandshakeTimeout, "15s"},
		{"agent.max_connection_age", cfg.Agent.MaxConnectionAge, "9m"},
		{"audio.frame_duration", cfg.Audio.FrameDuration, "20ms"},
		{"audio.vad_hangover", cfg.Audio.VADHangover, "800ms"},
		{"proctoring.exit_hold_duration", cfg.Proctoring.ExitHoldDuration, "3s"},
		{"proctoring.exit_confirm_timeout", cfg.Proctoring.ExitConfirmTimeout, "15s"},
		{"proctoring.redirect_delay", cfg.Proctoring.RedirectDelay, "10s"},
	} {
		if v, err := time.ParseDuration(d.raw); err != nil || v <= 0 {
			warnings = append(warnings, fmt.Sprintf("Invalid %s %q. Using default %s.", d.key, d.raw, d.fallback))
		}
	}

	if cfg.IdleTimeout() <= cfg.IdleWarning() {
		warnings = append(warnings, "interview.idle_timeout must be longer than interview.idle_warning. Using twice the warning.")
		cfg.Interview.IdleTimeout = (2 * cfg.IdleWarning()).String()
	}
	if cfg.Proctoring.MaxWarnings < 1 {
		warnings = append(warnings, fmt.Sprintf("Invalid proctoring.max_warnings %d. Using 3.", cfg.Proctoring.MaxWarnings))
		cfg.Proctoring.MaxWarnings = 3
	}
	if strings.TrimSpace(cfg.Proctoring.RedirectURL) == "" {
		cfg.Proctoring.RedirectURL = DefaultRedirectURL
	}

	return warnings
}

func parseSampleRates(raw string) []int {
	parts := strings.Split(raw, ",")
	seen := make(map[int]struct{}, len(parts))
	result := make([]int, 0, len(parts))

	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed == "" {
			continue
		}
		rate, err := strconv.Atoi(trimmed)
		if err != nil || rate <= 0 {
			continue
		}
		if _, ok := seen[rate]; ok {
			continue
		}
		seen[rate] = struct{}{}
		result = append(result, rate)
	}

	return result
}
