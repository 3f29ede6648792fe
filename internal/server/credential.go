package server

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sjawhar/ghost-interviewer/internal/live"
)

// TokenMinter issues short-lived agent credentials from a key that never
// leaves the server.
type TokenMinter interface {
	Mint(ctx context.Context) (live.Credential, error)
}

func registerCredentialRoute(mux *http.ServeMux, minter TokenMinter, logger *slog.Logger) {
	mux.HandleFunc("POST /api/credential", func(w http.ResponseWriter, r *http.Request) {
		if !fromLoopback(r) {
			writeJSONError(w, http.StatusForbidden, "credentials are only issued to local clients")
			return
		}
		if minter == nil {
			writeJSONError(w, http.StatusServiceUnavailable, "credential minting not configured")
			return
		}

		cred, err := minter.Mint(r.Context())
		if err != nil {
			logger.Warn("credential minting failed", "error", err)
			writeJSONError(w, http.StatusBadGateway, "credential minting failed")
			return
		}
		logger.Info("agent credential issued", "token", live.Redact(cred.Token), "expires_at", cred.ExpiresAt.Format(time.RFC3339))

		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, http.StatusOK, map[string]any{
			"token":      cred.Token,
			"expires_at": cred.ExpiresAt,
		})
	})
}

func fromLoopback(r *http.Request) bool {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
