package transport

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"loom/internal/protocol"
	"loom/internal/types"
)

type captureHandler struct {
	mu          sync.Mutex
	envelopes   []protocol.Envelope
	states      []types.ConnectionState
	unavailable int
	exhausted   []ReconnectInfo
}

func (h *captureHandler) HandleEnvelope(env protocol.Envelope) {
	h.mu.Lock()
	h.envelopes = append(h.envelopes, env)
	h.mu.Unlock()
}

func (h *captureHandler) HandleConnectionState(state types.ConnectionState) {
	h.mu.Lock()
	h.states = append(h.states, state)
	h.mu.Unlock()
}

func (h *captureHandler) HandleServerUnavailable() {
	h.mu.Lock()
	h.unavailable++
	h.mu.Unlock()
}

func (h *captureHandler) HandleMaxReconnectReached(info ReconnectInfo) {
	h.mu.Lock()
	h.exhausted = append(h.exhausted, info)
	h.mu.Unlock()
}

func (h *captureHandler) envelopeTypes() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]string, 0, len(h.envelopes))
	for _, env := range h.envelopes {
		out = append(out, env.Type)
	}
	return out
}

func (h *captureHandler) stateSeq() []types.ConnectionState {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]types.ConnectionState{}, h.states...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestStreamURL(t *testing.T) {
	got, err := streamURL("http://example.test:8080/", "c1")
	if err != nil || got != "ws://example.test:8080/v1/conversations/c1/stream" {
		t.Fatalf("unexpected url %q err=%v", got, err)
	}
	got, err = streamURL("https://example.test/api", "c 2")
	if err != nil || got != "wss://example.test/api/v1/conversations/c%202/stream" {
		t.Fatalf("unexpected url %q err=%v", got, err)
	}
	got, err = streamURL("wss://example.test", "c1")
	if err != nil || !strings.HasPrefix(got, "wss://") {
		t.Fatalf("ws schemes must pass through, got %q err=%v", got, err)
	}
	if _, err = streamURL("ftp://example.test", "c1"); err == nil {
		t.Fatalf("expected an error for an unsupported scheme")
	}
	if _, err = streamURL("  ", "c1"); err == nil {
		t.Fatalf("expected an error for an empty base url")
	}
}

func TestConnectDeliversEnvelopes(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	var paths, auths []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		paths = append(paths, r.URL.Path)
		auths = append(auths, r.Header.Get("Authorization"))
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`not json`))
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"content_delta","data":{"delta":"hi"}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	handler := &captureHandler{}
	ws := New(Config{BaseURL: server.URL, Token: "tok-1"}, handler)
	defer ws.Destroy()
	if err := ws.Connect(context.Background(), "c1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if ws.State() != types.ConnectionConnected || ws.ConversationID() != "c1" {
		t.Fatalf("unexpected transport state %s/%s", ws.State(), ws.ConversationID())
	}

	waitFor(t, "envelope delivery", func() bool { return len(handler.envelopeTypes()) == 1 })
	if got := handler.envelopeTypes(); got[0] != "content_delta" {
		t.Fatalf("unexpected envelopes: %v", got)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(paths) != 1 || paths[0] != "/v1/conversations/c1/stream" {
		t.Fatalf("unexpected handshake path: %v", paths)
	}
	if auths[0] != "Bearer tok-1" {
		t.Fatalf("missing bearer header: %v", auths)
	}
	states := handler.stateSeq()
	if len(states) < 2 || states[0] != types.ConnectionConnecting || states[1] != types.ConnectionConnected {
		t.Fatalf("unexpected state sequence: %v", states)
	}
}

func TestConnectSameConversationIsIdempotent(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	dials := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials++
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ws := New(Config{BaseURL: server.URL}, &captureHandler{})
	defer ws.Destroy()
	if err := ws.Connect(context.Background(), "c1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ws.Connect(context.Background(), "c1"); err != nil {
		t.Fatalf("repeat connect: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Fatalf("expected one dial, got %d", dials)
	}
}

func TestSendWritesFrame(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	var frames []string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			_, frame, err := conn.ReadMessage()
			if err != nil {
				return
			}
			mu.Lock()
			frames = append(frames, string(frame))
			mu.Unlock()
		}
	}))
	defer server.Close()

	ws := New(Config{BaseURL: server.URL}, &captureHandler{})
	defer ws.Destroy()
	if err := ws.Connect(context.Background(), "c1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := ws.Send(protocol.NewStop()); err != nil {
		t.Fatalf("send: %v", err)
	}
	waitFor(t, "frame arrival", func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(frames) == 1
	})
	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(frames[0], `"type":"stop"`) {
		t.Fatalf("unexpected frame: %s", frames[0])
	}
}

func TestSendWhenDisconnected(t *testing.T) {
	ws := New(Config{BaseURL: "http://127.0.0.1:1"}, &captureHandler{})
	if err := ws.Send(protocol.NewStop()); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("expected ErrNotConnected, got %v", err)
	}
}

func TestPolicyViolationKicksWithoutReconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	dials := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials++
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		deadline := time.Now().Add(time.Second)
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "session replaced"), deadline)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	handler := &captureHandler{}
	ws := New(Config{BaseURL: server.URL, ReconnectBaseDelay: 2 * time.Millisecond, MaxReconnectAttempts: 3}, handler)
	defer ws.Destroy()
	if err := ws.Connect(context.Background(), "c1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "kicked state", func() bool { return ws.State() == types.ConnectionKicked })

	// The automatic loop must never run out of the kicked state.
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	if dials != 1 {
		t.Fatalf("kicked close must not redial, got %d dials", dials)
	}
}

func TestAbnormalCloseTriggersReconnect(t *testing.T) {
	upgrader := websocket.Upgrader{}
	var mu sync.Mutex
	dials := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		dials++
		n := dials
		mu.Unlock()
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		if n == 1 {
			// Kill the socket without a close handshake.
			_ = conn.UnderlyingConn().Close()
			return
		}
		_ = conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"done","data":{}}`))
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	handler := &captureHandler{}
	ws := New(Config{BaseURL: server.URL, ReconnectBaseDelay: 2 * time.Millisecond, MaxReconnectAttempts: 5}, handler)
	defer ws.Destroy()
	if err := ws.Connect(context.Background(), "c1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	waitFor(t, "reconnected envelope", func() bool { return len(handler.envelopeTypes()) == 1 })

	states := handler.stateSeq()
	sawReconnecting := false
	for _, state := range states {
		if state == types.ConnectionReconnecting {
			sawReconnecting = true
		}
	}
	if !sawReconnecting || states[len(states)-1] != types.ConnectionConnected {
		t.Fatalf("unexpected state sequence: %v", states)
	}
	mu.Lock()
	defer mu.Unlock()
	if dials != 2 {
		t.Fatalf("expected exactly one redial, got %d", dials)
	}
}

func TestReconnectExhaustionFails(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		_ = conn.UnderlyingConn().Close()
	}))

	handler := &captureHandler{}
	ws := New(Config{BaseURL: server.URL, ReconnectBaseDelay: 2 * time.Millisecond, MaxReconnectAttempts: 2}, handler)
	defer ws.Destroy()
	if err := ws.Connect(context.Background(), "c1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	server.Close()

	waitFor(t, "failed state", func() bool { return ws.State() == types.ConnectionFailed })
	handler.mu.Lock()
	defer handler.mu.Unlock()
	if len(handler.exhausted) != 1 {
		t.Fatalf("expected one exhaustion callback, got %#v", handler.exhausted)
	}
	info := handler.exhausted[0]
	if info.ConversationID != "c1" || info.Attempts != 2 || info.LastError == nil {
		t.Fatalf("unexpected exhaustion info: %#v", info)
	}
	if handler.unavailable == 0 {
		t.Fatalf("expected a server unavailable callback")
	}
}

func TestDisconnectLeavesTransportUsable(t *testing.T) {
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer server.Close()

	ws := New(Config{BaseURL: server.URL}, &captureHandler{})
	defer ws.Destroy()
	if err := ws.Connect(context.Background(), "c1"); err != nil {
		t.Fatalf("connect: %v", err)
	}
	ws.Disconnect()
	if ws.State() != types.ConnectionDisconnected {
		t.Fatalf("disconnect must land in disconnected, got %s", ws.State())
	}

	// An empty id falls back to the stored conversation.
	if err := ws.Reconnect(""); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if ws.State() != types.ConnectionConnected || ws.ConversationID() != "c1" {
		t.Fatalf("reconnect must restore the session: %s/%s", ws.State(), ws.ConversationID())
	}
}

func TestDestroyedTransportRefuses(t *testing.T) {
	ws := New(Config{BaseURL: "http://127.0.0.1:1"}, &captureHandler{})
	ws.Destroy()
	if err := ws.Connect(context.Background(), "c1"); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("expected ErrDestroyed, got %v", err)
	}
	if err := ws.Reconnect("c1"); !errors.Is(err, ErrDestroyed) {
		t.Fatalf("expected ErrDestroyed, got %v", err)
	}
}

func TestReconnectWithoutConversation(t *testing.T) {
	ws := New(Config{BaseURL: "http://127.0.0.1:1"}, &captureHandler{})
	if err := ws.Reconnect(""); err == nil {
		t.Fatalf("expected an error without a stored conversation")
	}
}
