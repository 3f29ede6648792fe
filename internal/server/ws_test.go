package server

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/ghost-interviewer/internal/proctor"
	"github.com/sjawhar/ghost-interviewer/internal/transcribe"
)

func dialKiosk(t *testing.T, hub *Hub, controls ControlHooks) *websocket.Conn {
	t.Helper()
	h, err := Handler(nil, hub, newAPIStoreStub(), controls)
	if err != nil {
		t.Fatalf("Handler failed: %v", err)
	}
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	var first map[string]any
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if err := conn.ReadJSON(&first); err != nil {
		t.Fatalf("read connection event failed: %v", err)
	}
	if first["type"] != "connection" {
		t.Fatalf("expected connection event first, got %v", first)
	}

	deadline := time.Now().Add(time.Second)
	for hub.Clients() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("client never subscribed")
		}
		time.Sleep(5 * time.Millisecond)
	}
	return conn
}

func TestWSBroadcastEventShape(t *testing.T) {
	hub := NewHub(nil)
	conn := dialKiosk(t, hub, ControlHooks{})

	hub.BroadcastTranscript(transcribe.Chunk{
		Speaker:     transcribe.Candidate,
		Text:        "test line",
		Sequence:    3,
		CommittedAt: time.Now().UTC(),
	})

	var payload map[string]any
	_ = conn.SetReadDeadline(time.Now().Add(time.Second))
	if err := conn.ReadJSON(&payload); err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if payload["type"] != "transcript" {
		t.Fatalf("expected event type transcript, got %#v", payload["type"])
	}
	if payload["speaker"] != "candidate" || payload["sequence"] != float64(3) {
		t.Fatalf("unexpected transcript payload %v", payload)
	}
	if payload["version"] == nil || payload["timestamp"] == nil {
		t.Fatalf("expected version and timestamp fields, got %v", payload)
	}
}

func TestWSKioskEventsReachSession(t *testing.T) {
	ctl := &controllerStub{}
	conn := dialKiosk(t, NewHub(nil), ControlHooks{Session: activeSession(ctl)})

	msgs := []string{
		`{"type":"fullscreen_entered"}`,
		`{"type":"key_down","key":"q"}`,
		`{"type":"not_a_kiosk_event"}`,
		`not json`,
		`{"type":"visibility_hidden","detail":"tab switch"}`,
	}
	for _, m := range msgs {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for len(ctl.kioskEvents()) < 3 {
		if time.Now().After(deadline) {
			t.Fatalf("expected 3 kiosk events, got %v", ctl.kioskEvents())
		}
		time.Sleep(5 * time.Millisecond)
	}
	got := ctl.kioskEvents()
	if got[0].Kind != proctor.FullscreenEntered {
		t.Fatalf("expected fullscreen_entered first, got %+v", got[0])
	}
	if got[1].Kind != proctor.KeyDown || got[1].Key != "q" {
		t.Fatalf("expected key_down q, got %+v", got[1])
	}
	if got[2].Kind != proctor.VisibilityHidden || got[2].Detail != "tab switch" {
		t.Fatalf("expected visibility_hidden with detail, got %+v", got[2])
	}
}

func TestWSSessionCommands(t *testing.T) {
	ctl := &controllerStub{}
	conn := dialKiosk(t, NewHub(nil), ControlHooks{Session: activeSession(ctl)})

	for _, m := range []string{`{"type":"text","text":"typed answer"}`, `{"type":"retry"}`, `{"type":"end"}`} {
		if err := conn.WriteMessage(websocket.TextMessage, []byte(m)); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	deadline := time.Now().Add(time.Second)
	for {
		ctl.mu.Lock()
		done := ctl.ended == 1 && ctl.retries == 1 && len(ctl.texts) == 1
		ctl.mu.Unlock()
		if done {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected end, retry and text to reach the session")
		}
		time.Sleep(5 * time.Millisecond)
	}
	if ctl.texts[0] != "typed answer" {
		t.Fatalf("expected typed answer, got %q", ctl.texts[0])
	}
}

func TestHubDropsForSlowClients(t *testing.T) {
	hub := NewHub(nil)
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	for i := 0; i < 100; i++ {
		hub.BroadcastTimer(100 - i)
	}
	if len(ch) != cap(ch) {
		t.Fatalf("expected buffer full at %d, got %d", cap(ch), len(ch))
	}

	var first TimerEvent
	if err := json.Unmarshal(<-ch, &first); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if first.RemainingSeconds != 100 {
		t.Fatalf("expected oldest message kept, got %d", first.RemainingSeconds)
	}
}
