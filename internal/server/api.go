package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/sjawhar/ghost-interviewer/internal/proctor"
	"github.com/sjawhar/ghost-interviewer/internal/session"
	"github.com/sjawhar/ghost-interviewer/internal/storage"
	"github.com/sjawhar/ghost-interviewer/internal/transcribe"
)

const maxTextBody = 16 << 10

var interviewIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

type InterviewStore interface {
	GetInterview(id string) (storage.Interview, error)
	GetTranscript(interviewID string) ([]transcribe.Chunk, error)
	GetViolations(interviewID string) ([]proctor.Violation, error)
	GetReport(interviewID string) (storage.Report, error)
}

func registerAPIRoutes(mux *http.ServeMux, store InterviewStore, controls ControlHooks, logger *slog.Logger) {
	mux.HandleFunc("GET /api/session", func(w http.ResponseWriter, r *http.Request) {
		ctl := controls.active()
		if ctl == nil {
			writeJSONError(w, http.StatusNotFound, session.ErrNoActiveSession.Error())
			return
		}
		writeJSON(w, http.StatusOK, ctl.Snapshot())
	})

	mux.HandleFunc("POST /api/session/end", func(w http.ResponseWriter, r *http.Request) {
		ctl := controls.active()
		if ctl == nil {
			writeJSONError(w, http.StatusNotFound, session.ErrNoActiveSession.Error())
			return
		}
		ctl.End()
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/session/retry", func(w http.ResponseWriter, r *http.Request) {
		ctl := controls.active()
		if ctl == nil {
			writeJSONError(w, http.StatusNotFound, session.ErrNoActiveSession.Error())
			return
		}
		if err := ctl.Retry(r.Context()); err != nil {
			if errors.Is(err, session.ErrSessionEnded) {
				writeJSONError(w, http.StatusConflict, err.Error())
				return
			}
			logger.Warn("retry failed", "error", err)
			writeJSONError(w, http.StatusBadGateway, fmt.Sprintf("retry: %v", err))
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/session/text", func(w http.ResponseWriter, r *http.Request) {
		ctl := controls.active()
		if ctl == nil {
			writeJSONError(w, http.StatusNotFound, session.ErrNoActiveSession.Error())
			return
		}
		var body struct {
			Text string `json:"text"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTextBody)).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if strings.TrimSpace(body.Text) == "" {
			writeJSONError(w, http.StatusBadRequest, "text is required")
			return
		}
		if err := ctl.SendText(body.Text); err != nil {
			status := http.StatusBadGateway
			if errors.Is(err, session.ErrSessionEnded) {
				status = http.StatusConflict
			}
			writeJSONError(w, status, err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("GET /api/interviews/{id}", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !validInterviewID(id) {
			writeJSONError(w, http.StatusForbidden, "invalid interview id")
			return
		}

		iv, err := store.GetInterview(id)
		if err != nil {
			writeStoreError(w, "get interview", err)
			return
		}
		chunks, err := store.GetTranscript(id)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get transcript: %v", err))
			return
		}
		violations, err := store.GetViolations(id)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("get violations: %v", err))
			return
		}
		if chunks == nil {
			chunks = []transcribe.Chunk{}
		}
		if violations == nil {
			violations = []proctor.Violation{}
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"interview":  iv,
			"transcript": chunks,
			"violations": violations,
		})
	})

	mux.HandleFunc("GET /api/interviews/{id}/report", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !validInterviewID(id) {
			writeJSONError(w, http.StatusForbidden, "invalid interview id")
			return
		}
		report, err := store.GetReport(id)
		if err != nil {
			writeStoreError(w, "get report", err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	})

	mux.HandleFunc("POST /api/interviews/{id}/report", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !validInterviewID(id) {
			writeJSONError(w, http.StatusForbidden, "invalid interview id")
			return
		}
		if controls.Regenerate == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "report generation not configured")
			return
		}

		var body struct {
			Preset string `json:"preset"`
		}
		if r.ContentLength != 0 {
			if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTextBody)).Decode(&body); err != nil {
				writeJSONError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		go func() {
			if err := controls.Regenerate(context.WithoutCancel(r.Context()), id, body.Preset); err != nil {
				logger.Warn("report regeneration failed", "interview_id", id, "error", err)
			}
		}()
		w.WriteHeader(http.StatusAccepted)
	})

	mux.HandleFunc("GET /api/presets", func(w http.ResponseWriter, r *http.Request) {
		descriptions := map[string]string{}
		if controls.Presets != nil {
			for name, preset := range controls.Presets() {
				descriptions[name] = preset.Description
			}
		}
		writeJSON(w, http.StatusOK, descriptions)
	})

	mux.HandleFunc("GET /api/interviews/{id}/audio", func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if !validInterviewID(id) {
			writeJSONError(w, http.StatusForbidden, "invalid interview id")
			return
		}

		iv, err := store.GetInterview(id)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "interview not found")
			return
		}
		if iv.AudioPath == "" {
			writeJSONError(w, http.StatusNotFound, "audio not available")
			return
		}

		cleanPath := filepath.Clean(iv.AudioPath)
		if cleanPath == "." || filepath.IsAbs(cleanPath) || strings.Contains(cleanPath, "..") {
			writeJSONError(w, http.StatusForbidden, "invalid audio path")
			return
		}

		f, err := os.Open(cleanPath)
		if err != nil {
			writeJSONError(w, http.StatusNotFound, "audio file not found")
			return
		}
		defer func() { _ = f.Close() }()

		info, err := f.Stat()
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, fmt.Sprintf("stat audio: %v", err))
			return
		}

		w.Header().Set("Accept-Ranges", "bytes")
		w.Header().Set("Content-Type", contentTypeForAudio(cleanPath))
		http.ServeContent(w, r, filepath.Base(cleanPath), info.ModTime(), f)
	})

	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		var warnings []string
		if controls.Warnings != nil {
			warnings = controls.Warnings()
		}
		if warnings == nil {
			warnings = []string{}
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session_active": controls.active() != nil,
			"warnings":       warnings,
		})
	})
}

func validInterviewID(id string) bool {
	return interviewIDPattern.MatchString(id)
}

func contentTypeForAudio(path string) string {
	switch filepath.Ext(path) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	default:
		return "application/octet-stream"
	}
}

func writeStoreError(w http.ResponseWriter, op string, err error) {
	status := http.StatusInternalServerError
	if errors.Is(err, storage.ErrNotFound) {
		status = http.StatusNotFound
	}
	writeJSONError(w, status, fmt.Sprintf("%s: %v", op, err))
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
