package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"loom/internal/logging"
	"loom/internal/protocol"
	"loom/internal/types"
)

// WS is the websocket transport. The conversation id is part of the
// handshake path, so switching conversations means a fresh dial.
type WS struct {
	cfg     Config
	handler Handler
	log     logging.Logger

	mu             sync.Mutex
	conn           *websocket.Conn
	state          types.ConnectionState
	conversationID string
	generation     int
	destroyed      bool

	writeMu sync.Mutex
}

func New(cfg Config, handler Handler) *WS {
	cfg = cfg.withDefaults()
	return &WS{
		cfg:     cfg,
		handler: handler,
		log:     cfg.Logger,
		state:   types.ConnectionDisconnected,
	}
}

func (t *WS) State() types.ConnectionState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *WS) ConversationID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.conversationID
}

// Connect is a no-op when already connected to the same conversation;
// a different id tears the current connection down first.
func (t *WS) Connect(ctx context.Context, conversationID string) error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return ErrDestroyed
	}
	if t.state == types.ConnectionConnected && t.conversationID == conversationID && t.conn != nil {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()
	return t.open(ctx, conversationID)
}

// Reconnect always re-dials, including out of the terminal kicked and failed
// states. This is the manual recovery path; the automatic loop never runs
// from those states.
func (t *WS) Reconnect(conversationID string) error {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return ErrDestroyed
	}
	if conversationID == "" {
		conversationID = t.conversationID
	}
	t.mu.Unlock()
	if conversationID == "" {
		return fmt.Errorf("transport: no conversation to reconnect")
	}
	return t.open(context.Background(), conversationID)
}

func (t *WS) open(ctx context.Context, conversationID string) error {
	t.mu.Lock()
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
	}
	t.generation++
	gen := t.generation
	t.conversationID = conversationID
	t.mu.Unlock()

	t.setState(types.ConnectionConnecting)
	conn, err := t.dial(ctx, conversationID)
	if err != nil {
		t.setState(types.ConnectionDisconnected)
		t.notifyServerUnavailable(err)
		return err
	}
	if !t.adopt(gen, conn) {
		_ = conn.Close()
		return ErrDestroyed
	}
	t.setState(types.ConnectionConnected)
	go t.readPump(gen, conn)
	go t.pingPump(gen, conn)
	return nil
}

func (t *WS) dial(ctx context.Context, conversationID string) (*websocket.Conn, error) {
	endpoint, err := streamURL(t.cfg.BaseURL, conversationID)
	if err != nil {
		return nil, err
	}
	header := http.Header{}
	if t.cfg.Token != "" {
		header.Set("Authorization", "Bearer "+t.cfg.Token)
	}
	dialer := websocket.Dialer{HandshakeTimeout: t.cfg.HandshakeTimeout}
	streamLogf("dial conversation=%s url=%s", conversationID, endpoint)
	conn, resp, err := dialer.DialContext(ctx, endpoint, header)
	if err != nil {
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		streamLogf("dial failed conversation=%s err=%v", conversationID, err)
		return nil, fmt.Errorf("transport: dial %s: %w", endpoint, err)
	}
	return conn, nil
}

func (t *WS) adopt(gen int, conn *websocket.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.destroyed || gen != t.generation {
		return false
	}
	t.conn = conn
	return true
}

// Send writes one outbound frame. Callers are responsible for awaiting
// readiness; a transport that is not connected refuses instead of queuing.
func (t *WS) Send(out protocol.Outbound) error {
	t.mu.Lock()
	conn := t.conn
	state := t.state
	t.mu.Unlock()
	if conn == nil || state != types.ConnectionConnected {
		return ErrNotConnected
	}
	frame, err := json.Marshal(out)
	if err != nil {
		return fmt.Errorf("transport: encode %s: %w", out.Type, err)
	}
	streamLogf("send type=%s bytes=%d", out.Type, len(frame))
	t.writeMu.Lock()
	defer t.writeMu.Unlock()
	_ = conn.SetWriteDeadline(time.Now().Add(t.cfg.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
		return fmt.Errorf("transport: write %s: %w", out.Type, err)
	}
	return nil
}

// Disconnect closes the current connection but leaves the transport usable;
// a later Connect or Reconnect dials again.
func (t *WS) Disconnect() {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.generation++
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	t.setState(types.ConnectionDisconnected)
}

func (t *WS) Destroy() {
	t.mu.Lock()
	if t.destroyed {
		t.mu.Unlock()
		return
	}
	t.destroyed = true
	t.generation++
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
	t.setState(types.ConnectionDisconnected)
}

func (t *WS) readPump(gen int, conn *websocket.Conn) {
	conn.SetReadLimit(t.cfg.ReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
	})
	for {
		_, frame, err := conn.ReadMessage()
		if err != nil {
			t.handleReadError(gen, err)
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(t.cfg.PongWait))
		env, perr := protocol.ParseEnvelope(frame)
		if perr != nil {
			t.log.Debug("transport drop malformed frame", logging.F("err", perr))
			continue
		}
		streamLogf("recv type=%s bytes=%d", env.Type, len(frame))
		if t.handler != nil {
			t.handler.HandleEnvelope(env)
		}
	}
}

func (t *WS) pingPump(gen int, conn *websocket.Conn) {
	ticker := time.NewTicker(t.cfg.PingInterval)
	defer ticker.Stop()
	for range ticker.C {
		t.mu.Lock()
		stale := t.destroyed || gen != t.generation || t.conn != conn
		t.mu.Unlock()
		if stale {
			return
		}
		if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(t.cfg.WriteTimeout)); err != nil {
			_ = conn.Close()
			return
		}
	}
}

func (t *WS) handleReadError(gen int, err error) {
	t.mu.Lock()
	if t.destroyed || gen != t.generation {
		t.mu.Unlock()
		return
	}
	t.conn = nil
	conversationID := t.conversationID
	t.mu.Unlock()

	streamLogf("read closed conversation=%s err=%v", conversationID, err)
	switch {
	case websocket.IsCloseError(err, websocket.ClosePolicyViolation):
		// Another session took the conversation over.
		t.setState(types.ConnectionKicked)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		t.setState(types.ConnectionDisconnected)
	default:
		t.reconnectLoop(gen, conversationID)
	}
}

func (t *WS) reconnectLoop(gen int, conversationID string) {
	t.setState(types.ConnectionReconnecting)
	var lastErr error
	for attempt := 1; ; attempt++ {
		time.Sleep(t.backoff(attempt))
		t.mu.Lock()
		if t.destroyed || gen != t.generation {
			t.mu.Unlock()
			return
		}
		t.mu.Unlock()

		conn, err := t.dial(context.Background(), conversationID)
		if err == nil {
			if !t.adopt(gen, conn) {
				_ = conn.Close()
				return
			}
			t.log.Info("transport reconnected",
				logging.F("conversation", conversationID),
				logging.F("attempts", attempt))
			t.setState(types.ConnectionConnected)
			go t.readPump(gen, conn)
			go t.pingPump(gen, conn)
			return
		}
		lastErr = err
		if attempt == 1 {
			t.notifyServerUnavailable(err)
		}
		if attempt >= t.cfg.MaxReconnectAttempts {
			t.log.Warn("transport reconnect exhausted",
				logging.F("conversation", conversationID),
				logging.F("attempts", attempt),
				logging.F("err", err))
			if t.handler != nil {
				t.handler.HandleMaxReconnectReached(ReconnectInfo{
					ConversationID: conversationID,
					Attempts:       attempt,
					LastError:      lastErr,
				})
			}
			t.setState(types.ConnectionFailed)
			return
		}
	}
}

func (t *WS) backoff(attempt int) time.Duration {
	delay := t.cfg.ReconnectBaseDelay
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= t.cfg.ReconnectMaxDelay {
			return t.cfg.ReconnectMaxDelay
		}
	}
	if delay > t.cfg.ReconnectMaxDelay {
		delay = t.cfg.ReconnectMaxDelay
	}
	return delay
}

func (t *WS) setState(state types.ConnectionState) {
	t.mu.Lock()
	if t.state == state {
		t.mu.Unlock()
		return
	}
	t.state = state
	t.mu.Unlock()
	streamLogf("state=%s", state)
	if t.handler != nil {
		t.handler.HandleConnectionState(state)
	}
}

func (t *WS) notifyServerUnavailable(err error) {
	t.log.Warn("transport server unavailable", logging.F("err", err))
	if t.handler != nil {
		t.handler.HandleServerUnavailable()
	}
}

func streamURL(base, conversationID string) (string, error) {
	trimmed := strings.TrimRight(strings.TrimSpace(base), "/")
	if trimmed == "" {
		return "", fmt.Errorf("transport: empty base url")
	}
	parsed, err := url.Parse(trimmed)
	if err != nil {
		return "", fmt.Errorf("transport: parse base url: %w", err)
	}
	switch parsed.Scheme {
	case "http":
		parsed.Scheme = "ws"
	case "https":
		parsed.Scheme = "wss"
	case "ws", "wss":
	default:
		return "", fmt.Errorf("transport: unsupported scheme %q", parsed.Scheme)
	}
	parsed.Path = strings.TrimRight(parsed.Path, "/") + "/v1/conversations/" + url.PathEscape(conversationID) + "/stream"
	return parsed.String(), nil
}
