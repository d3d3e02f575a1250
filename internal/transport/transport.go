// Package transport owns the duplex stream channel: websocket framing,
// heartbeat, and the reconnection loop. Consumers see deserialized envelopes
// and connection-state callbacks, never raw frames.
package transport

import (
	"errors"
	"time"

	"loom/internal/logging"
	"loom/internal/protocol"
	"loom/internal/types"
)

var (
	ErrNotConnected = errors.New("transport: not connected")
	ErrDestroyed    = errors.New("transport: destroyed")
)

// Handler receives everything the transport produces. Calls arrive from the
// transport's own goroutines, serialized per connection.
type Handler interface {
	HandleEnvelope(env protocol.Envelope)
	HandleConnectionState(state types.ConnectionState)
	HandleServerUnavailable()
	HandleMaxReconnectReached(info ReconnectInfo)
}

type ReconnectInfo struct {
	ConversationID string
	Attempts       int
	LastError      error
}

type Config struct {
	// BaseURL accepts http(s) or ws(s) schemes; http converts to ws.
	BaseURL string
	Token   string

	HandshakeTimeout     time.Duration
	PingInterval         time.Duration
	PongWait             time.Duration
	WriteTimeout         time.Duration
	ReadLimit            int64
	ReconnectBaseDelay   time.Duration
	ReconnectMaxDelay    time.Duration
	MaxReconnectAttempts int

	Logger logging.Logger
}

func (cfg Config) withDefaults() Config {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = 10 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 25 * time.Second
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = 60 * time.Second
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 10 * time.Second
	}
	if cfg.ReadLimit <= 0 {
		cfg.ReadLimit = 1 << 20
	}
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = 500 * time.Millisecond
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = 30 * time.Second
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = 10
	}
	if cfg.Logger == nil {
		cfg.Logger = logging.Nop()
	}
	return cfg
}
