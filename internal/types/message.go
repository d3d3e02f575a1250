package types

import "strings"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

type Message struct {
	ID              string           `json:"id"`
	ConversationID  string           `json:"conversationId,omitempty"`
	Role            Role             `json:"role"`
	Content         string           `json:"content,omitempty"`
	ContentBlocks   Blocks           `json:"contentBlocks,omitempty"`
	ParentMessageID string           `json:"parentMessageId,omitempty"`
	SubagentName    string           `json:"subagentName,omitempty"`
	Metadata        *MessageMetadata `json:"metadata,omitempty"`
	ToolCalls       []ToolCall       `json:"toolCalls,omitempty"`
	Attachments     []Attachment     `json:"attachments,omitempty"`
	CreatedAt       int64            `json:"createdAt,omitempty"`
}

type MessageMetadata struct {
	Todos []TodoItem       `json:"todos,omitempty"`
	Usage map[string]int64 `json:"usage,omitempty"`
}

// ToolCall is the flat legacy view of one invocation, also used as the
// side-index entry keyed by id. MessageID records ownership so completion
// events can find the right message without scanning.
type ToolCall struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        ToolType       `json:"type,omitempty"`
	Args        map[string]any `json:"args,omitempty"`
	Result      any            `json:"result,omitempty"`
	Status      ToolCallStatus `json:"status"`
	MessageID   string         `json:"messageId,omitempty"`
	StartedAt   int64          `json:"startedAt,omitempty"`
	CompletedAt int64          `json:"completedAt,omitempty"`
	DurationMs  int64          `json:"durationMs,omitempty"`
	Sequence    *int           `json:"sequence,omitempty"`
	Error       string         `json:"error,omitempty"`
}

type Attachment struct {
	AttachmentID string         `json:"attachmentId"`
	Type         AttachmentType `json:"type,omitempty"`
	StorageKey   string         `json:"storageKey,omitempty"`
	MimeType     string         `json:"mimeType,omitempty"`
	Purpose      string         `json:"purpose,omitempty"`
}

func NormalizeRole(raw string) Role {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "user", "human":
		return RoleUser
	case "assistant", "ai", "agent":
		return RoleAssistant
	case "system":
		return RoleSystem
	case "tool":
		return RoleTool
	default:
		return RoleAssistant
	}
}

func CloneMessage(in Message) Message {
	out := in
	out.ContentBlocks = CloneBlocks(in.ContentBlocks)
	out.Metadata = CloneMessageMetadata(in.Metadata)
	if in.ToolCalls != nil {
		out.ToolCalls = make([]ToolCall, 0, len(in.ToolCalls))
		for _, call := range in.ToolCalls {
			out.ToolCalls = append(out.ToolCalls, CloneToolCall(call))
		}
	}
	if in.Attachments != nil {
		out.Attachments = append([]Attachment{}, in.Attachments...)
	}
	return out
}

func CloneMessages(in []Message) []Message {
	if in == nil {
		return nil
	}
	out := make([]Message, 0, len(in))
	for _, message := range in {
		out = append(out, CloneMessage(message))
	}
	return out
}

func CloneMessageMetadata(in *MessageMetadata) *MessageMetadata {
	if in == nil {
		return nil
	}
	out := MessageMetadata{}
	if in.Todos != nil {
		out.Todos = append([]TodoItem{}, in.Todos...)
	}
	if in.Usage != nil {
		out.Usage = make(map[string]int64, len(in.Usage))
		for key, value := range in.Usage {
			out.Usage[key] = value
		}
	}
	return &out
}

func CloneToolCall(in ToolCall) ToolCall {
	out := in
	out.Args = cloneAnyMap(in.Args)
	if in.Sequence != nil {
		v := *in.Sequence
		out.Sequence = &v
	}
	return out
}
