package types

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestBlocksRoundTrip(t *testing.T) {
	seq := 3
	in := Blocks{
		&TextBlock{Content: "hello"},
		&ToolCallBlock{
			ToolCallID: "t1",
			ToolName:   "bash",
			ToolType:   ToolTypeTool,
			Args:       map[string]any{"cmd": "ls"},
			Status:     ToolCallStatusSuccess,
			Sequence:   &seq,
		},
		&SubagentBlock{SubagentName: "researcher", Status: SubagentStatusRunning},
		&FileRefBlock{Path: "/a.txt", Operation: FileOperationEdit},
		&AttachmentRefBlock{AttachmentID: "att-1", AttachmentType: AttachmentTypeImage},
		&ActionCardBlock{ToolCallID: "t1", Title: "Pick", Items: []map[string]any{{"label": "a"}}, ActionTemplate: "run {label}"},
	}

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(data), `"type":"tool_call"`) {
		t.Fatalf("missing type tag: %s", data)
	}

	var out Blocks
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != len(in) {
		t.Fatalf("expected %d blocks, got %#v", len(in), out)
	}
	tool, ok := out[1].(*ToolCallBlock)
	if !ok || tool.ToolCallID != "t1" || tool.Status != ToolCallStatusSuccess {
		t.Fatalf("tool block mangled: %#v", out[1])
	}
	if tool.Sequence == nil || *tool.Sequence != 3 {
		t.Fatalf("sequence lost: %#v", tool.Sequence)
	}
	card, ok := out[5].(*ActionCardBlock)
	if !ok || card.ActionTemplate != "run {label}" || len(card.Items) != 1 {
		t.Fatalf("action card mangled: %#v", out[5])
	}
}

func TestBlocksSkipUnknownTypes(t *testing.T) {
	raw := `[
		{"type":"text","content":"kept"},
		{"type":"hologram","payload":"???"},
		{"type":"tool_call","toolCallId":"t1","toolName":"bash","status":"running"}
	]`
	var out Blocks
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("unknown block must be skipped, got %#v", out)
	}
	if _, ok := out[0].(*TextBlock); !ok {
		t.Fatalf("expected text first: %#v", out[0])
	}
	if _, ok := out[1].(*ToolCallBlock); !ok {
		t.Fatalf("expected tool second: %#v", out[1])
	}
}

func TestCloneBlocksIsolation(t *testing.T) {
	seq := 1
	in := Blocks{
		&ToolCallBlock{ToolCallID: "t1", Args: map[string]any{"cmd": "ls"}, Sequence: &seq},
	}
	out := CloneBlocks(in)
	clone := out[0].(*ToolCallBlock)
	clone.Args["cmd"] = "rm"
	*clone.Sequence = 9

	orig := in[0].(*ToolCallBlock)
	if orig.Args["cmd"] != "ls" {
		t.Fatalf("args shared between clone and original: %#v", orig.Args)
	}
	if *orig.Sequence != 1 {
		t.Fatalf("sequence shared between clone and original: %d", *orig.Sequence)
	}
}

func TestNormalizeToolCallStatus(t *testing.T) {
	if got := NormalizeToolCallStatus("Completed"); got != ToolCallStatusSuccess {
		t.Fatalf("completed must map to success, got %q", got)
	}
	if got := NormalizeToolCallStatus("in_progress"); got != ToolCallStatusRunning {
		t.Fatalf("in_progress must map to running, got %q", got)
	}
	if got := NormalizeToolCallStatus("nonsense"); got != "" {
		t.Fatalf("unknown status must map to empty, got %q", got)
	}
}

func TestNormalizeToolType(t *testing.T) {
	if got := NormalizeToolType("function"); got != ToolTypeTool {
		t.Fatalf("function must map to tool, got %q", got)
	}
	if got := NormalizeToolType("agent"); got != ToolTypeSubagent {
		t.Fatalf("agent must map to subagent, got %q", got)
	}
}

func TestCloneStreamStateIsolation(t *testing.T) {
	state := NewStreamState()
	state.Messages = []Message{{ID: "m1", Content: "hi"}}
	state.ToolCalls = map[string]ToolCall{"t1": {ID: "t1", Args: map[string]any{"a": 1}}}
	state.Files = map[string]FileItem{"/a.txt": {Path: "/a.txt", Content: "x"}}
	state.Todos = []TodoItem{{ID: "td1", Status: TodoStatusPending}}

	clone := CloneStreamState(state)
	clone.Messages[0].Content = "changed"
	clone.ToolCalls["t1"] = ToolCall{ID: "t1"}
	clone.Files["/a.txt"] = FileItem{Path: "/a.txt", Content: "y"}
	clone.Todos[0].Status = TodoStatusCompleted

	if state.Messages[0].Content != "hi" {
		t.Fatalf("messages shared: %#v", state.Messages)
	}
	if state.ToolCalls["t1"].Args["a"] != 1 {
		t.Fatalf("tool calls shared: %#v", state.ToolCalls)
	}
	if state.Files["/a.txt"].Content != "x" {
		t.Fatalf("files shared: %#v", state.Files)
	}
	if state.Todos[0].Status != TodoStatusPending {
		t.Fatalf("todos shared: %#v", state.Todos)
	}
}
