package types

import "strings"

type ConnectionState string

const (
	ConnectionDisconnected ConnectionState = "disconnected"
	ConnectionConnecting   ConnectionState = "connecting"
	ConnectionConnected    ConnectionState = "connected"
	ConnectionReconnecting ConnectionState = "reconnecting"
	ConnectionKicked       ConnectionState = "kicked"
	ConnectionFailed       ConnectionState = "failed"
)

// Terminal states require an explicit manual reconnect; automatic recovery
// must not retry out of them.
func (s ConnectionState) Terminal() bool {
	return s == ConnectionKicked || s == ConnectionFailed
}

func NormalizeConnectionState(raw string) ConnectionState {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "connecting":
		return ConnectionConnecting
	case "connected", "open":
		return ConnectionConnected
	case "reconnecting":
		return ConnectionReconnecting
	case "kicked":
		return ConnectionKicked
	case "failed":
		return ConnectionFailed
	default:
		return ConnectionDisconnected
	}
}

type Pagination struct {
	HasMore    bool   `json:"hasMore"`
	NextCursor string `json:"nextCursor,omitempty"`
}

type Interrupt struct {
	ID      string         `json:"id"`
	Payload map[string]any `json:"payload,omitempty"`
}

func CloneInterrupt(in *Interrupt) *Interrupt {
	if in == nil {
		return nil
	}
	out := *in
	out.Payload = cloneAnyMap(in.Payload)
	return &out
}

type StreamError struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
}

func (e *StreamError) Error() string {
	if e == nil {
		return ""
	}
	if e.Code == "" {
		return e.Message
	}
	return e.Code + ": " + e.Message
}

// RetryFailure marks a turn that cannot be retried, distinct from transient
// stream errors.
type RetryFailure struct {
	TurnID  string `json:"turnId,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// StreamState is the immutable root snapshot. Reducers return a fresh value;
// consumers must never observe in-place mutation of a snapshot they hold.
type StreamState struct {
	ConversationID  string              `json:"conversationId,omitempty"`
	Messages        []Message           `json:"messages"`
	ToolCalls       map[string]ToolCall `json:"toolCalls,omitempty"`
	Todos           []TodoItem          `json:"todos,omitempty"`
	Files           map[string]FileItem `json:"files,omitempty"`
	Interrupt       *Interrupt          `json:"interrupt,omitempty"`
	ConnectionState ConnectionState     `json:"connectionState"`
	ServerReady     bool                `json:"isServerReady"`
	Loading         bool                `json:"isLoading"`
	Err             *StreamError        `json:"error,omitempty"`
	Pagination      Pagination          `json:"pagination"`
	RetryingTurnID  string              `json:"retryingTurnId,omitempty"`
	RetryAttempt    int                 `json:"retryAttempt,omitempty"`
	RetryFailure    *RetryFailure       `json:"retryFailure,omitempty"`

	// StreamingMessageID tracks the message currently receiving deltas, for
	// events that omit an explicit message id.
	StreamingMessageID string `json:"streamingMessageId,omitempty"`
}

func NewStreamState() *StreamState {
	return &StreamState{
		Messages:        []Message{},
		ToolCalls:       map[string]ToolCall{},
		Files:           map[string]FileItem{},
		ConnectionState: ConnectionDisconnected,
	}
}

func CloneToolCallIndex(in map[string]ToolCall) map[string]ToolCall {
	if in == nil {
		return nil
	}
	out := make(map[string]ToolCall, len(in))
	for id, call := range in {
		out[id] = CloneToolCall(call)
	}
	return out
}

func CloneStreamState(in *StreamState) *StreamState {
	if in == nil {
		return nil
	}
	out := *in
	out.Messages = CloneMessages(in.Messages)
	out.ToolCalls = CloneToolCallIndex(in.ToolCalls)
	out.Todos = CloneTodos(in.Todos)
	out.Files = CloneFileMap(in.Files)
	out.Interrupt = CloneInterrupt(in.Interrupt)
	if in.Err != nil {
		err := *in.Err
		out.Err = &err
	}
	if in.RetryFailure != nil {
		failure := *in.RetryFailure
		out.RetryFailure = &failure
	}
	return &out
}
