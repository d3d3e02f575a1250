package types

import (
	"encoding/json"
	"strings"
)

type BlockType string

const (
	BlockTypeText          BlockType = "text"
	BlockTypeToolCall      BlockType = "tool_call"
	BlockTypeSubagent      BlockType = "subagent"
	BlockTypeFileRef       BlockType = "file_ref"
	BlockTypeAttachmentRef BlockType = "attachment_ref"
	BlockTypeActionCard    BlockType = "action_card"
)

type ToolCallStatus string

const (
	ToolCallStatusPending ToolCallStatus = "pending"
	ToolCallStatusRunning ToolCallStatus = "running"
	ToolCallStatusSuccess ToolCallStatus = "success"
	ToolCallStatusError   ToolCallStatus = "error"
)

type ToolType string

const (
	ToolTypeTool     ToolType = "tool"
	ToolTypeSubagent ToolType = "subagent"
)

type SubagentStatus string

const (
	SubagentStatusRunning SubagentStatus = "running"
	SubagentStatusSuccess SubagentStatus = "success"
	SubagentStatusError   SubagentStatus = "error"
)

type FileOperation string

const (
	FileOperationCreate FileOperation = "create"
	FileOperationEdit   FileOperation = "edit"
	FileOperationRead   FileOperation = "read"
	FileOperationWrite  FileOperation = "write"
	FileOperationDelete FileOperation = "delete"
)

type AttachmentType string

const (
	AttachmentTypeImage    AttachmentType = "image"
	AttachmentTypeDocument AttachmentType = "document"
	AttachmentTypeAudio    AttachmentType = "audio"
	AttachmentTypeVideo    AttachmentType = "video"
	AttachmentTypeData     AttachmentType = "data"
	AttachmentTypeOther    AttachmentType = "other"
)

// Block is the closed union of message content kinds. Transitions type-switch
// over the concrete pointer variants below.
type Block interface {
	BlockType() BlockType
	CloneBlock() Block
}

type TextBlock struct {
	Content string `json:"content"`
}

type ToolCallBlock struct {
	ToolCallID    string         `json:"toolCallId"`
	ToolName      string         `json:"toolName"`
	DisplayName   string         `json:"displayName,omitempty"`
	ToolType      ToolType       `json:"toolType,omitempty"`
	Args          map[string]any `json:"args,omitempty"`
	ArgsPreview   string         `json:"argsPreview,omitempty"`
	Result        any            `json:"result,omitempty"`
	ResultPreview string         `json:"resultPreview,omitempty"`
	Status        ToolCallStatus `json:"status"`
	StartedAt     int64          `json:"startedAt,omitempty"`
	CompletedAt   int64          `json:"completedAt,omitempty"`
	DurationMs    int64          `json:"durationMs,omitempty"`
	Sequence      *int           `json:"sequence,omitempty"`
	Error         string         `json:"error,omitempty"`
}

type SubagentBlock struct {
	SubagentName    string         `json:"subagentName"`
	DisplayName     string         `json:"displayName,omitempty"`
	TaskDescription string         `json:"taskDescription,omitempty"`
	Status          SubagentStatus `json:"status"`
	StartedAt       int64          `json:"startedAt,omitempty"`
	CompletedAt     int64          `json:"completedAt,omitempty"`
	ToolCallIDs     []string       `json:"toolCallIds,omitempty"`
	Error           string         `json:"error,omitempty"`
}

type FileRefBlock struct {
	Path      string        `json:"path"`
	Operation FileOperation `json:"operation,omitempty"`
	Preview   string        `json:"preview,omitempty"`
}

type AttachmentRefBlock struct {
	AttachmentID   string         `json:"attachmentId"`
	AttachmentType AttachmentType `json:"attachmentType,omitempty"`
	MimeType       string         `json:"mimeType,omitempty"`
	PreviewURL     string         `json:"previewUrl,omitempty"`
}

type ActionCardBlock struct {
	ToolCallID     string           `json:"toolCallId,omitempty"`
	SourceTool     string           `json:"sourceTool,omitempty"`
	Title          string           `json:"title,omitempty"`
	Items          []map[string]any `json:"items,omitempty"`
	ActionTemplate string           `json:"actionTemplate,omitempty"`
}

func (b *TextBlock) BlockType() BlockType          { return BlockTypeText }
func (b *ToolCallBlock) BlockType() BlockType      { return BlockTypeToolCall }
func (b *SubagentBlock) BlockType() BlockType      { return BlockTypeSubagent }
func (b *FileRefBlock) BlockType() BlockType       { return BlockTypeFileRef }
func (b *AttachmentRefBlock) BlockType() BlockType { return BlockTypeAttachmentRef }
func (b *ActionCardBlock) BlockType() BlockType    { return BlockTypeActionCard }

func (b *TextBlock) CloneBlock() Block {
	if b == nil {
		return nil
	}
	out := *b
	return &out
}

func (b *ToolCallBlock) CloneBlock() Block {
	if b == nil {
		return nil
	}
	out := *b
	out.Args = cloneAnyMap(b.Args)
	if b.Sequence != nil {
		v := *b.Sequence
		out.Sequence = &v
	}
	return &out
}

func (b *SubagentBlock) CloneBlock() Block {
	if b == nil {
		return nil
	}
	out := *b
	if b.ToolCallIDs != nil {
		out.ToolCallIDs = append([]string{}, b.ToolCallIDs...)
	}
	return &out
}

func (b *FileRefBlock) CloneBlock() Block {
	if b == nil {
		return nil
	}
	out := *b
	return &out
}

func (b *AttachmentRefBlock) CloneBlock() Block {
	if b == nil {
		return nil
	}
	out := *b
	return &out
}

func (b *ActionCardBlock) CloneBlock() Block {
	if b == nil {
		return nil
	}
	out := *b
	if b.Items != nil {
		out.Items = make([]map[string]any, 0, len(b.Items))
		for _, item := range b.Items {
			out.Items = append(out.Items, cloneAnyMap(item))
		}
	}
	return &out
}

func (b *TextBlock) MarshalJSON() ([]byte, error) {
	type alias TextBlock
	return json.Marshal(struct {
		Type BlockType `json:"type"`
		*alias
	}{BlockTypeText, (*alias)(b)})
}

func (b *ToolCallBlock) MarshalJSON() ([]byte, error) {
	type alias ToolCallBlock
	return json.Marshal(struct {
		Type BlockType `json:"type"`
		*alias
	}{BlockTypeToolCall, (*alias)(b)})
}

func (b *SubagentBlock) MarshalJSON() ([]byte, error) {
	type alias SubagentBlock
	return json.Marshal(struct {
		Type BlockType `json:"type"`
		*alias
	}{BlockTypeSubagent, (*alias)(b)})
}

func (b *FileRefBlock) MarshalJSON() ([]byte, error) {
	type alias FileRefBlock
	return json.Marshal(struct {
		Type BlockType `json:"type"`
		*alias
	}{BlockTypeFileRef, (*alias)(b)})
}

func (b *AttachmentRefBlock) MarshalJSON() ([]byte, error) {
	type alias AttachmentRefBlock
	return json.Marshal(struct {
		Type BlockType `json:"type"`
		*alias
	}{BlockTypeAttachmentRef, (*alias)(b)})
}

func (b *ActionCardBlock) MarshalJSON() ([]byte, error) {
	type alias ActionCardBlock
	return json.Marshal(struct {
		Type BlockType `json:"type"`
		*alias
	}{BlockTypeActionCard, (*alias)(b)})
}

// Blocks is an ordered block list with union-aware JSON decoding. Unknown
// block types are skipped rather than failing the whole message.
type Blocks []Block

func (blocks *Blocks) UnmarshalJSON(data []byte) error {
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return err
	}
	out := make(Blocks, 0, len(raws))
	for _, raw := range raws {
		block, err := DecodeBlock(raw)
		if err != nil {
			return err
		}
		if block == nil {
			continue
		}
		out = append(out, block)
	}
	*blocks = out
	return nil
}

func DecodeBlock(raw json.RawMessage) (Block, error) {
	var probe struct {
		Type BlockType `json:"type"`
	}
	if err := json.Unmarshal(raw, &probe); err != nil {
		return nil, err
	}
	switch probe.Type {
	case BlockTypeText:
		var block TextBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, err
		}
		return &block, nil
	case BlockTypeToolCall:
		var block ToolCallBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, err
		}
		return &block, nil
	case BlockTypeSubagent:
		var block SubagentBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, err
		}
		return &block, nil
	case BlockTypeFileRef:
		var block FileRefBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, err
		}
		return &block, nil
	case BlockTypeAttachmentRef:
		var block AttachmentRefBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, err
		}
		return &block, nil
	case BlockTypeActionCard:
		var block ActionCardBlock
		if err := json.Unmarshal(raw, &block); err != nil {
			return nil, err
		}
		return &block, nil
	default:
		return nil, nil
	}
}

func CloneBlocks(in Blocks) Blocks {
	if in == nil {
		return nil
	}
	out := make(Blocks, 0, len(in))
	for _, block := range in {
		if block == nil {
			continue
		}
		out = append(out, block.CloneBlock())
	}
	return out
}

func NormalizeToolCallStatus(raw string) ToolCallStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "pending":
		return ToolCallStatusPending
	case "running", "in_progress", "executing":
		return ToolCallStatusRunning
	case "success", "succeeded", "completed", "complete", "done":
		return ToolCallStatusSuccess
	case "error", "failed", "failure":
		return ToolCallStatusError
	default:
		return ""
	}
}

func NormalizeToolType(raw string) ToolType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "subagent", "agent", "sub_agent":
		return ToolTypeSubagent
	case "tool", "function", "":
		return ToolTypeTool
	default:
		return ToolTypeTool
	}
}

func NormalizeSubagentStatus(raw string) SubagentStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "running", "in_progress", "started":
		return SubagentStatusRunning
	case "success", "succeeded", "completed", "complete", "done":
		return SubagentStatusSuccess
	case "error", "failed", "failure":
		return SubagentStatusError
	default:
		return ""
	}
}

func NormalizeFileOperation(raw string) FileOperation {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "create", "created", "add", "added":
		return FileOperationCreate
	case "edit", "edited", "modify", "modified", "update", "updated":
		return FileOperationEdit
	case "read":
		return FileOperationRead
	case "write", "written":
		return FileOperationWrite
	case "delete", "deleted", "remove", "removed":
		return FileOperationDelete
	default:
		return ""
	}
}

func NormalizeAttachmentType(raw string) AttachmentType {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "image", "img", "photo":
		return AttachmentTypeImage
	case "document", "doc", "pdf":
		return AttachmentTypeDocument
	case "audio":
		return AttachmentTypeAudio
	case "video":
		return AttachmentTypeVideo
	case "data", "dataset", "csv":
		return AttachmentTypeData
	default:
		return AttachmentTypeOther
	}
}

func cloneAnyMap(in map[string]any) map[string]any {
	if in == nil {
		return nil
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
