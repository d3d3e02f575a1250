package stream

import (
	"testing"

	"loom/internal/protocol"
	"loom/internal/types"
)

func seq(n int) *int { return &n }

func toolBlockIDs(t *testing.T, blocks types.Blocks) []string {
	t.Helper()
	out := []string{}
	for _, block := range blocks {
		switch b := block.(type) {
		case *types.ToolCallBlock:
			out = append(out, b.ToolCallID)
		case *types.ActionCardBlock:
			out = append(out, b.ToolCallID)
		}
	}
	return out
}

func TestAppendTextDeltaGrowsTrailingBlock(t *testing.T) {
	blocks := appendTextDelta(nil, "Hel")
	blocks = appendTextDelta(blocks, "lo")
	if len(blocks) != 1 {
		t.Fatalf("expected one block, got %#v", blocks)
	}
	text, ok := blocks[0].(*types.TextBlock)
	if !ok || text.Content != "Hello" {
		t.Fatalf("unexpected block: %#v", blocks[0])
	}
}

func TestAppendTextDeltaOpensNewBlockAfterTool(t *testing.T) {
	blocks := types.Blocks{
		&types.TextBlock{Content: "before"},
		&types.ToolCallBlock{ToolCallID: "t1", Status: types.ToolCallStatusRunning},
	}
	out := appendTextDelta(blocks, "after")
	if len(out) != 3 {
		t.Fatalf("expected new trailing text block, got %#v", out)
	}
	if text, ok := out[2].(*types.TextBlock); !ok || text.Content != "after" {
		t.Fatalf("unexpected trailing block: %#v", out[2])
	}
	if text, ok := out[0].(*types.TextBlock); !ok || text.Content != "before" {
		t.Fatalf("earlier text block must stay closed: %#v", out[0])
	}
}

func TestAppendTextDeltaDoesNotMutateInput(t *testing.T) {
	original := appendTextDelta(nil, "Hel")
	_ = appendTextDelta(original, "lo")
	if text := original[0].(*types.TextBlock); text.Content != "Hel" {
		t.Fatalf("input mutated: %q", text.Content)
	}
}

func TestToolBlocksResortBySequence(t *testing.T) {
	blocks := appendToolCallBlock(nil, types.ToolCall{ID: "t1", Name: "search", Sequence: seq(2)}, "", "")
	blocks = appendToolCallBlock(blocks, types.ToolCall{ID: "t2", Name: "fetch", Sequence: seq(1)}, "", "")
	ids := toolBlockIDs(t, blocks)
	if len(ids) != 2 || ids[0] != "t2" || ids[1] != "t1" {
		t.Fatalf("expected [t2 t1], got %v", ids)
	}
}

func TestUnsequencedToolBlocksSortAfterSequenced(t *testing.T) {
	blocks := appendToolCallBlock(nil, types.ToolCall{ID: "t1", Name: "search"}, "", "")
	blocks = appendToolCallBlock(blocks, types.ToolCall{ID: "t2", Name: "fetch", Sequence: seq(1)}, "", "")
	ids := toolBlockIDs(t, blocks)
	if len(ids) != 2 || ids[0] != "t2" || ids[1] != "t1" {
		t.Fatalf("expected sequenced before unsequenced, got %v", ids)
	}
}

func TestSortKeepsNonToolPositions(t *testing.T) {
	blocks := types.Blocks{
		&types.ToolCallBlock{ToolCallID: "a", Sequence: seq(2)},
		&types.TextBlock{Content: "between"},
		&types.ToolCallBlock{ToolCallID: "b", Sequence: seq(1)},
	}
	out := sortToolCallBlocks(blocks)
	if _, ok := out[1].(*types.TextBlock); !ok {
		t.Fatalf("text block moved: %#v", out)
	}
	if first := out[0].(*types.ToolCallBlock); first.ToolCallID != "b" {
		t.Fatalf("expected b first, got %#v", out)
	}
	if last := out[2].(*types.ToolCallBlock); last.ToolCallID != "a" {
		t.Fatalf("expected a last, got %#v", out)
	}
}

func TestCompleteToolCallUpdatesBlock(t *testing.T) {
	blocks := appendToolCallBlock(nil, types.ToolCall{ID: "t1", Name: "bash", StartedAt: 100}, "", "")
	end := &protocol.ToolCallEndEvent{
		ToolCallID:  "t1",
		Result:      map[string]any{"stdout": "ok"},
		Status:      types.ToolCallStatusSuccess,
		CompletedAt: 250,
	}
	out := completeToolCallBlock(blocks, end, types.ToolCall{ID: "t1", Name: "bash", StartedAt: 100})
	tool, ok := out[0].(*types.ToolCallBlock)
	if !ok {
		t.Fatalf("expected tool block, got %#v", out[0])
	}
	if tool.Status != types.ToolCallStatusSuccess || tool.CompletedAt != 250 {
		t.Fatalf("completion not applied: %#v", tool)
	}
	if tool.DurationMs != 150 {
		t.Fatalf("duration must derive from timestamps, got %d", tool.DurationMs)
	}
	if orig := blocks[0].(*types.ToolCallBlock); orig.Status != types.ToolCallStatusRunning {
		t.Fatalf("input mutated: %#v", orig)
	}
}

func TestCompleteToolCallPromotesActionCardOneWay(t *testing.T) {
	blocks := appendToolCallBlock(nil, types.ToolCall{ID: "t1", Name: "plan"}, "", "")
	cardResult := map[string]any{
		"title":          "Pick one",
		"items":          []any{map[string]any{"label": "a"}},
		"actionTemplate": "choose {label}",
	}
	out := completeToolCallBlock(blocks, &protocol.ToolCallEndEvent{ToolCallID: "t1", Result: cardResult, Status: types.ToolCallStatusSuccess}, types.ToolCall{ID: "t1", Name: "plan"})
	card, ok := out[0].(*types.ActionCardBlock)
	if !ok {
		t.Fatalf("expected promotion to action card, got %#v", out[0])
	}
	if card.ToolCallID != "t1" || card.SourceTool != "plan" || card.Title != "Pick one" {
		t.Fatalf("unexpected card: %#v", card)
	}

	// A repeat completion with a plain result must not demote the card.
	again := completeToolCallBlock(out, &protocol.ToolCallEndEvent{ToolCallID: "t1", Result: "plain", Status: types.ToolCallStatusSuccess}, types.ToolCall{ID: "t1"})
	if _, ok := again[0].(*types.ActionCardBlock); !ok {
		t.Fatalf("card demoted by repeat completion: %#v", again[0])
	}
}

func TestCompleteToolCallAppendsLateBlock(t *testing.T) {
	out := completeToolCallBlock(nil, &protocol.ToolCallEndEvent{ToolCallID: "t9", Result: "late", Status: types.ToolCallStatusSuccess}, types.ToolCall{ID: "t9", Name: "fetch"})
	if len(out) != 1 {
		t.Fatalf("expected appended block, got %#v", out)
	}
	tool := out[0].(*types.ToolCallBlock)
	if tool.ToolCallID != "t9" || tool.Status != types.ToolCallStatusSuccess {
		t.Fatalf("unexpected late block: %#v", tool)
	}
}

func TestUpdateToolProgressOnlyWhileRunning(t *testing.T) {
	blocks := appendToolCallBlock(nil, types.ToolCall{ID: "t1", Name: "bash"}, "", "")
	out := updateToolProgress(blocks, "t1", "partial output")
	if tool := out[0].(*types.ToolCallBlock); tool.ResultPreview != "partial output" {
		t.Fatalf("progress not applied: %#v", tool)
	}

	done := completeToolCallBlock(out, &protocol.ToolCallEndEvent{ToolCallID: "t1", Status: types.ToolCallStatusSuccess}, types.ToolCall{ID: "t1"})
	unchanged := updateToolProgress(done, "t1", "too late")
	if tool := unchanged[0].(*types.ToolCallBlock); tool.ResultPreview != "partial output" {
		t.Fatalf("finished block must ignore progress: %#v", tool)
	}
}

func TestCompleteSubagentUpdatesMostRecent(t *testing.T) {
	blocks := appendSubagentBlock(nil, &protocol.SubagentStartEvent{SubagentName: "researcher"})
	blocks = appendSubagentBlock(blocks, &protocol.SubagentStartEvent{SubagentName: "researcher"})
	out, ok := completeSubagentBlock(blocks, &protocol.SubagentEndEvent{
		SubagentName: "researcher",
		Status:       types.SubagentStatusSuccess,
		ToolCallIDs:  []string{"t1"},
	})
	if !ok {
		t.Fatalf("expected a matching block")
	}
	first := out[0].(*types.SubagentBlock)
	second := out[1].(*types.SubagentBlock)
	if first.Status != types.SubagentStatusRunning {
		t.Fatalf("older block must stay running: %#v", first)
	}
	if second.Status != types.SubagentStatusSuccess || len(second.ToolCallIDs) != 1 {
		t.Fatalf("most recent block not completed: %#v", second)
	}
}

func TestReconstructBlocksFromFlatMessage(t *testing.T) {
	message := types.Message{
		ID:      "m1",
		Role:    types.RoleAssistant,
		Content: "summary text",
		ToolCalls: []types.ToolCall{
			{ID: "t2", Name: "fetch", StartedAt: 200, Status: types.ToolCallStatusSuccess},
			{ID: "t1", Name: "search", StartedAt: 100, Status: types.ToolCallStatusSuccess},
		},
		Attachments: []types.Attachment{
			{AttachmentID: "a1", Type: types.AttachmentTypeImage, MimeType: "image/png"},
		},
	}
	blocks := reconstructBlocks(message)
	if len(blocks) != 4 {
		t.Fatalf("expected 4 blocks, got %#v", blocks)
	}
	if tool := blocks[0].(*types.ToolCallBlock); tool.ToolCallID != "t1" {
		t.Fatalf("tool calls must order by start time: %#v", blocks)
	}
	if tool := blocks[1].(*types.ToolCallBlock); tool.ToolCallID != "t2" {
		t.Fatalf("tool calls must order by start time: %#v", blocks)
	}
	if _, ok := blocks[2].(*types.AttachmentRefBlock); !ok {
		t.Fatalf("expected attachment ref, got %#v", blocks[2])
	}
	if text := blocks[3].(*types.TextBlock); text.Content != "summary text" {
		t.Fatalf("expected trailing text, got %#v", blocks[3])
	}
}

func TestReconstructBlocksPassThroughAndEmpty(t *testing.T) {
	native := types.Blocks{&types.TextBlock{Content: "already structured"}}
	message := types.Message{ID: "m1", ContentBlocks: native, Content: "ignored"}
	if got := reconstructBlocks(message); len(got) != 1 {
		t.Fatalf("native blocks must pass through: %#v", got)
	}
	if got := reconstructBlocks(types.Message{ID: "m2", Content: "   "}); got != nil {
		t.Fatalf("blank message must produce nil blocks: %#v", got)
	}
}

func TestDetectActionCard(t *testing.T) {
	if _, ok := detectActionCard(map[string]any{"type": "action_card", "title": "x"}); !ok {
		t.Fatalf("tagged payload must be a card")
	}
	if _, ok := detectActionCard(map[string]any{
		"items":           []any{map[string]any{"label": "a"}},
		"action_template": "run {label}",
	}); !ok {
		t.Fatalf("items plus template must be a card")
	}
	if _, ok := detectActionCard(map[string]any{"items": []any{map[string]any{"label": "a"}}}); ok {
		t.Fatalf("items without template must not be a card")
	}
	if _, ok := detectActionCard("plain string"); ok {
		t.Fatalf("non-map result must not be a card")
	}
}
