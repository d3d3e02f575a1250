// Package protocol defines the wire envelope, the canonical event model, and
// the normalizer that maps heterogeneous server payload shapes onto it.
package protocol

import (
	"loom/internal/types"
)

// Event is the canonical, fixed-shape form of one inbound protocol event.
// Reducers type-switch over the concrete variants; Kind returns the primary
// wire name for logging.
type Event interface {
	Kind() string
}

type ConnectedEvent struct {
	ConversationID string
}

// StateEvent is a full conversation snapshot. Nil Pagination means the
// payload carried none and the previous cursor stays in effect.
type StateEvent struct {
	ConversationID string
	Messages       []types.Message
	Todos          []types.TodoItem
	Files          map[string]types.FileItem
	Pagination     *types.Pagination
	Interrupt      *types.Interrupt
}

type MessageStartEvent struct {
	MessageID       string
	Role            types.Role
	ParentMessageID string
	SubagentName    string
	CreatedAt       int64
}

// ContentDeltaEvent appends text to the streaming message. MessageID may be
// empty; consumers fall back to the message currently streaming.
type ContentDeltaEvent struct {
	MessageID string
	Delta     string
}

type MessageEndEvent struct {
	MessageID     string
	Content       string
	ContentBlocks types.Blocks
	ToolCalls     []types.ToolCall
	Metadata      *types.MessageMetadata
}

type ToolCallStartEvent struct {
	MessageID   string
	Call        types.ToolCall
	DisplayName string
	ArgsPreview string
}

type ToolCallEndEvent struct {
	MessageID   string
	ToolCallID  string
	Result      any
	Status      types.ToolCallStatus
	Error       string
	DurationMs  int64
	CompletedAt int64
}

type SubagentStartEvent struct {
	MessageID       string
	SubagentName    string
	DisplayName     string
	TaskDescription string
	StartedAt       int64
}

type SubagentEndEvent struct {
	MessageID    string
	SubagentName string
	Status       types.SubagentStatus
	Error        string
	CompletedAt  int64
	ToolCallIDs  []string
}

type TodosEvent struct {
	Todos []types.TodoItem
}

type FileOperationEvent struct {
	Path        string
	Operation   types.FileOperation
	Content     string
	OldContent  string
	Language    string
	DownloadURL string
	IsBinary    bool
	FileSize    int64
	LineStart   int
	LineEnd     int
}

type InterruptEvent struct {
	Interrupt types.Interrupt
}

type RetryStartedEvent struct {
	TurnID  string
	Attempt int
}

type ToolProgressEvent struct {
	MessageID  string
	ToolCallID string
	Preview    string
}

type ToolRetryEvent struct {
	ToolCallID  string
	ToolName    string
	Attempt     int
	MaxAttempts int
	Reason      string
}

type ModelRetryEvent struct {
	Attempt     int
	MaxAttempts int
	DelayMs     int64
	Reason      string
}

type ContentPhase string

const (
	ContentPhaseSaved     ContentPhase = "saved"
	ContentPhaseRendered  ContentPhase = "rendered"
	ContentPhasePublished ContentPhase = "published"
)

type ContentEvent struct {
	Phase     ContentPhase
	ContentID string
	Title     string
	URL       string
}

type SessionReplacedEvent struct {
	Reason string
}

type ForceLogoutEvent struct {
	Reason string
}

type RateLimitedEvent struct {
	Message      string
	RetryAfterMs int64
}

type ErrorEvent struct {
	Code    string
	Message string
	TurnID  string
}

type DoneEvent struct {
	TurnID string
}

func (e *ConnectedEvent) Kind() string       { return "connected" }
func (e *StateEvent) Kind() string           { return "state" }
func (e *MessageStartEvent) Kind() string    { return "message_start" }
func (e *ContentDeltaEvent) Kind() string    { return "content_delta" }
func (e *MessageEndEvent) Kind() string      { return "message_end" }
func (e *ToolCallStartEvent) Kind() string   { return "tool_call_start" }
func (e *ToolCallEndEvent) Kind() string     { return "tool_call_end" }
func (e *SubagentStartEvent) Kind() string   { return "subagent_start" }
func (e *SubagentEndEvent) Kind() string     { return "subagent_end" }
func (e *TodosEvent) Kind() string           { return "todos_update" }
func (e *FileOperationEvent) Kind() string   { return "file_operation" }
func (e *InterruptEvent) Kind() string       { return "interrupt" }
func (e *RetryStartedEvent) Kind() string    { return "retry_started" }
func (e *ToolProgressEvent) Kind() string    { return "tool_progress" }
func (e *ToolRetryEvent) Kind() string       { return "tool_retry" }
func (e *ModelRetryEvent) Kind() string      { return "model_retry" }
func (e *ContentEvent) Kind() string         { return "content_" + string(e.Phase) }
func (e *SessionReplacedEvent) Kind() string { return "session_replaced" }
func (e *ForceLogoutEvent) Kind() string     { return "force_logout" }
func (e *RateLimitedEvent) Kind() string     { return "rate_limited" }
func (e *ErrorEvent) Kind() string           { return "error" }
func (e *DoneEvent) Kind() string            { return "done" }
