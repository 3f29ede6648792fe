package server

import (
	"context"
	"errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/sjawhar/ghost-interviewer/internal/config"
	"github.com/sjawhar/ghost-interviewer/internal/proctor"
	"github.com/sjawhar/ghost-interviewer/internal/session"
)

// Controller is the slice of the live session the UI can drive.
type Controller interface {
	Snapshot() session.Snapshot
	End()
	Retry(ctx context.Context) error
	SendText(text string) error
	HandleKiosk(ev proctor.Event)
}

type ControlHooks struct {
	// Session returns the active session, or nil between sessions.
	Session  func() Controller
	Minter   TokenMinter
	Metrics  http.Handler
	Warnings func() []string
	Logger   *slog.Logger

	// Regenerate re-runs the report for an interview, optionally with a
	// named preset.
	Regenerate func(ctx context.Context, interviewID, preset string) error
	Presets    func() map[string]config.Preset
}

func (c ControlHooks) active() Controller {
	if c.Session == nil {
		return nil
	}
	return c.Session()
}

func Handler(staticFS fs.FS, hub *Hub, store InterviewStore, controls ControlHooks) (http.Handler, error) {
	if hub == nil || store == nil {
		return nil, errors.New("server requires a hub and a store")
	}
	logger := controls.Logger
	if logger == nil {
		logger = slog.Default()
	}

	mux := http.NewServeMux()

	registerWSRoute(mux, hub, controls, logger)
	registerAPIRoutes(mux, store, controls, logger)
	registerCredentialRoute(mux, controls.Minter, logger)

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	if controls.Metrics != nil {
		mux.Handle("GET /metrics", controls.Metrics)
	}
	mux.HandleFunc("GET "+config.DefaultRedirectURL, serveEnded)

	if staticFS != nil {
		fileServer := http.FileServer(http.FS(staticFS))
		mux.HandleFunc("/", serveSPA(fileServer))
	}

	return mux, nil
}

// Serve runs the UI server until ctx is cancelled.
func Serve(ctx context.Context, addr string, h http.Handler, logger *slog.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("web UI listening", "url", "http://"+addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// endedPage is shown once a session has ended. It does not load the kiosk
// script, so it cannot re-request fullscreen or reopen the socket.
const endedPage = `<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>Interview ended</title></head>
<body style="margin:0;display:flex;align-items:center;justify-content:center;height:100vh;font-family:system-ui,sans-serif;background:#0f1115;color:#e6e6e6">
<p>The interview has ended. You can close this window.</p>
</body>
</html>
`

func serveEnded(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = io.WriteString(w, endedPage)
}

func serveSPA(fileServer http.Handler) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		if strings.HasPrefix(r.URL.Path, "/api/") || r.URL.Path == "/ws" || r.URL.Path == "/metrics" {
			http.NotFound(w, r)
			return
		}

		if r.URL.Path == "/manifest.json" || r.URL.Path == "/manifest.webmanifest" {
			w.Header().Set("Content-Type", "application/manifest+json")
		}

		cleanPath := path.Clean(strings.TrimPrefix(r.URL.Path, "/"))
		if cleanPath == "." || cleanPath == "" {
			r.URL.Path = "/"
		} else if !strings.Contains(cleanPath, ".") {
			r.URL.Path = "/index.html"
		} else {
			r.URL.Path = "/" + cleanPath
		}

		fileServer.ServeHTTP(w, r)
	}
}
