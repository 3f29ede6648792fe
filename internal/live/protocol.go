package live

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
)

const (
	DefaultEndpoint = "wss://generativelanguage.googleapis.com/ws"

	keyPath   = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"
	tokenPath = "/google.ai.generativelanguage.v1alpha.GenerativeService.BidiGenerateContentConstrained"
)

// streamURL builds the websocket URL for a credential. API keys and
// ephemeral tokens use different methods and query parameters.
func streamURL(endpoint string, cred Credential) string {
	base := strings.TrimRight(endpoint, "/")
	if base == "" {
		base = DefaultEndpoint
	}
	if cred.APIKey {
		return base + keyPath + "?key=" + url.QueryEscape(cred.Token)
	}
	return base + tokenPath + "?access_token=" + url.QueryEscape(cred.Token)
}

func pcmMIMEType(sampleRate int) string {
	return fmt.Sprintf("audio/pcm;rate=%d", sampleRate)
}

// Outbound

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model                    string              `json:"model"`
	GenerationConfig         generationConfig    `json:"generationConfig"`
	SystemInstruction        *content            `json:"systemInstruction,omitempty"`
	RealtimeInputConfig      realtimeInputConfig `json:"realtimeInputConfig"`
	InputAudioTranscription  *audioTranscription `json:"inputAudioTranscription"`
	OutputAudioTranscription *audioTranscription `json:"outputAudioTranscription"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type realtimeInputConfig struct {
	AutomaticActivityDetection activityDetection `json:"automaticActivityDetection"`
}

type activityDetection struct {
	Disabled bool `json:"disabled"`
}

type audioTranscription struct{}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text       string `json:"text,omitempty"`
	InlineData *blob  `json:"inlineData,omitempty"`
}

type blob struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	ActivityStart *struct{} `json:"activityStart,omitempty"`
	ActivityEnd   *struct{} `json:"activityEnd,omitempty"`
	Audio         *blob     `json:"audio,omitempty"`
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []content `json:"turns"`
	TurnComplete bool      `json:"turnComplete"`
}

func newSetup(model, voice, systemPrompt string) setupMessage {
	if model != "" && !strings.HasPrefix(model, "models/") {
		model = "models/" + model
	}
	msg := setupMessage{Setup: setupConfig{
		Model: model,
		GenerationConfig: generationConfig{
			ResponseModalities: []string{"AUDIO"},
		},
		RealtimeInputConfig: realtimeInputConfig{
			AutomaticActivityDetection: activityDetection{Disabled: true},
		},
		InputAudioTranscription:  &audioTranscription{},
		OutputAudioTranscription: &audioTranscription{},
	}}
	if voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: voice}},
		}
	}
	if systemPrompt != "" {
		msg.Setup.SystemInstruction = &content{Parts: []part{{Text: systemPrompt}}}
	}
	return msg
}

// Inbound

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	GoAway        *goAway          `json:"goAway,omitempty"`
	Error         *serverError     `json:"error,omitempty"`
}

type serverContent struct {
	ModelTurn           *content       `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	GenerationComplete  bool           `json:"generationComplete,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type transcription struct {
	Text string `json:"text"`
}

type goAway struct {
	TimeLeft string `json:"timeLeft,omitempty"`
}

type serverError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

func (e *serverError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("agent error %d", e.Code)
	}
	return fmt.Sprintf("agent error %d: %s", e.Code, e.Message)
}
