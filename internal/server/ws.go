package server

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/ghost-interviewer/internal/proctor"
)

const maxCommandSize = 4096

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// kioskCommand is one inbound message from the kiosk page: a runtime report
// for the enforcer or a session control.
type kioskCommand struct {
	Type   string `json:"type"`
	Key    string `json:"key,omitempty"`
	Detail string `json:"detail,omitempty"`
	Text   string `json:"text,omitempty"`
}

func registerWSRoute(mux *http.ServeMux, hub *Hub, controls ControlHooks, logger *slog.Logger) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			logger.Warn("ws upgrade failed", "error", err)
			return
		}
		defer func() { _ = conn.Close() }()
		conn.SetReadLimit(maxCommandSize)

		connectionEvent := ConnectionEvent{
			Event:     newEvent("connection", time.Now().UTC()),
			Connected: true,
		}
		payload, err := json.Marshal(connectionEvent)
		if err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}

		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				_, msg, err := conn.ReadMessage()
				if err != nil {
					return
				}
				var cmd kioskCommand
				if err := json.Unmarshal(msg, &cmd); err != nil {
					logger.Debug("ignoring malformed kiosk message", "error", err)
					continue
				}
				dispatch(r, controls, cmd, logger)
			}
		}()

		for {
			select {
			case <-closed:
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			}
		}
	})
}

func dispatch(r *http.Request, controls ControlHooks, cmd kioskCommand, logger *slog.Logger) {
	ctl := controls.active()
	if ctl == nil {
		logger.Debug("kiosk message without an active session", "type", cmd.Type)
		return
	}

	switch cmd.Type {
	case "end":
		ctl.End()
	case "retry":
		go func() {
			if err := ctl.Retry(r.Context()); err != nil {
				logger.Warn("retry from kiosk failed", "error", err)
			}
		}()
	case "text":
		go func() {
			if err := ctl.SendText(cmd.Text); err != nil {
				logger.Warn("text answer not sent", "error", err)
			}
		}()
	default:
		kind := proctor.EventKind(cmd.Type)
		if !kioskKinds[kind] {
			logger.Debug("ignoring unknown kiosk message", "type", cmd.Type)
			return
		}
		ctl.HandleKiosk(proctor.Event{Kind: kind, Key: cmd.Key, Detail: cmd.Detail})
	}
}

var kioskKinds = map[proctor.EventKind]bool{
	proctor.FullscreenEntered:  true,
	proctor.FullscreenRejected: true,
	proctor.FullscreenExited:   true,
	proctor.KeyDown:            true,
	proctor.KeyUp:              true,
	proctor.ExitStay:           true,
	proctor.ExitLeave:          true,
	proctor.VisibilityHidden:   true,
}
