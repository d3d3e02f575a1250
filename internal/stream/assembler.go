// Package stream holds the conversation reconstruction core: the block
// assembler, the pure state reducer, artifact extraction, history merge, and
// the orchestrating client.
package stream

import (
	"math"
	"sort"
	"strings"

	"loom/internal/protocol"
	"loom/internal/types"
)

// appendTextDelta grows the trailing text block, or opens a new one when the
// last block is not text. Earlier text blocks closed by an intervening tool
// call stay untouched.
func appendTextDelta(blocks types.Blocks, delta string) types.Blocks {
	if delta == "" {
		return blocks
	}
	if n := len(blocks); n > 0 {
		if text, ok := blocks[n-1].(*types.TextBlock); ok {
			out := append(types.Blocks{}, blocks...)
			grown := *text
			grown.Content += delta
			out[n-1] = &grown
			return out
		}
	}
	return append(append(types.Blocks{}, blocks...), &types.TextBlock{Content: delta})
}

func appendToolCallBlock(blocks types.Blocks, call types.ToolCall, displayName, argsPreview string) types.Blocks {
	block := &types.ToolCallBlock{
		ToolCallID:  call.ID,
		ToolName:    call.Name,
		DisplayName: displayName,
		ToolType:    call.Type,
		Args:        call.Args,
		ArgsPreview: argsPreview,
		Status:      types.ToolCallStatusRunning,
		StartedAt:   call.StartedAt,
	}
	if call.Sequence != nil {
		v := *call.Sequence
		block.Sequence = &v
	}
	out := append(append(types.Blocks{}, blocks...), block)
	return sortToolCallBlocks(out)
}

// sortToolCallBlocks re-sorts the tool_call subsequence by sequence while
// every other block keeps its position. Blocks without a sequence sort after
// all sequenced ones, ties keep arrival order. No-op unless some tool block
// carries a sequence.
func sortToolCallBlocks(blocks types.Blocks) types.Blocks {
	indices := make([]int, 0, len(blocks))
	sequenced := false
	for i, block := range blocks {
		if tool, ok := block.(*types.ToolCallBlock); ok {
			indices = append(indices, i)
			if tool.Sequence != nil {
				sequenced = true
			}
		}
	}
	if !sequenced || len(indices) < 2 {
		return blocks
	}
	subset := make([]*types.ToolCallBlock, 0, len(indices))
	for _, i := range indices {
		subset = append(subset, blocks[i].(*types.ToolCallBlock))
	}
	sort.SliceStable(subset, func(a, b int) bool {
		return toolSortKey(subset[a]) < toolSortKey(subset[b])
	})
	out := append(types.Blocks{}, blocks...)
	for n, i := range indices {
		out[i] = subset[n]
	}
	return out
}

func toolSortKey(block *types.ToolCallBlock) int {
	if block.Sequence == nil {
		return math.MaxInt
	}
	return *block.Sequence
}

// completeToolCallBlock applies a completion to the block with the given id.
// Action-card shaped results promote the block one way; an existing action
// card absorbs repeat completions unchanged. Unknown ids append a finished
// block so late completions are never dropped.
func completeToolCallBlock(blocks types.Blocks, ev *protocol.ToolCallEndEvent, call types.ToolCall) types.Blocks {
	for i, block := range blocks {
		switch existing := block.(type) {
		case *types.ActionCardBlock:
			if existing.ToolCallID == ev.ToolCallID {
				return blocks
			}
		case *types.ToolCallBlock:
			if existing.ToolCallID != ev.ToolCallID {
				continue
			}
			out := append(types.Blocks{}, blocks...)
			if card, ok := detectActionCard(ev.Result); ok {
				card.ToolCallID = existing.ToolCallID
				card.SourceTool = existing.ToolName
				out[i] = card
				return out
			}
			updated := *existing
			updated.Result = ev.Result
			updated.Status = ev.Status
			updated.Error = ev.Error
			updated.CompletedAt = ev.CompletedAt
			updated.DurationMs = toolDuration(ev, existing.StartedAt)
			out[i] = &updated
			return out
		}
	}
	if card, ok := detectActionCard(ev.Result); ok {
		card.ToolCallID = ev.ToolCallID
		card.SourceTool = call.Name
		return append(append(types.Blocks{}, blocks...), card)
	}
	late := &types.ToolCallBlock{
		ToolCallID:  ev.ToolCallID,
		ToolName:    call.Name,
		ToolType:    call.Type,
		Args:        call.Args,
		Result:      ev.Result,
		Status:      ev.Status,
		Error:       ev.Error,
		StartedAt:   call.StartedAt,
		CompletedAt: ev.CompletedAt,
		DurationMs:  toolDuration(ev, call.StartedAt),
	}
	return append(append(types.Blocks{}, blocks...), late)
}

func toolDuration(ev *protocol.ToolCallEndEvent, startedAt int64) int64 {
	if ev.DurationMs > 0 {
		return ev.DurationMs
	}
	if startedAt > 0 && ev.CompletedAt > startedAt {
		return ev.CompletedAt - startedAt
	}
	return 0
}

// updateToolProgress refreshes the live preview of a running call. Final
// results and promoted cards are never touched.
func updateToolProgress(blocks types.Blocks, toolCallID, preview string) types.Blocks {
	for i, block := range blocks {
		tool, ok := block.(*types.ToolCallBlock)
		if !ok || tool.ToolCallID != toolCallID {
			continue
		}
		if tool.Status != types.ToolCallStatusRunning && tool.Status != types.ToolCallStatusPending {
			return blocks
		}
		out := append(types.Blocks{}, blocks...)
		updated := *tool
		updated.ResultPreview = preview
		out[i] = &updated
		return out
	}
	return blocks
}

func appendSubagentBlock(blocks types.Blocks, ev *protocol.SubagentStartEvent) types.Blocks {
	block := &types.SubagentBlock{
		SubagentName:    ev.SubagentName,
		DisplayName:     ev.DisplayName,
		TaskDescription: ev.TaskDescription,
		Status:          types.SubagentStatusRunning,
		StartedAt:       ev.StartedAt,
	}
	return append(append(types.Blocks{}, blocks...), block)
}

// completeSubagentBlock updates the most recent block for the subagent name.
func completeSubagentBlock(blocks types.Blocks, ev *protocol.SubagentEndEvent) (types.Blocks, bool) {
	for i := len(blocks) - 1; i >= 0; i-- {
		sub, ok := blocks[i].(*types.SubagentBlock)
		if !ok || sub.SubagentName != ev.SubagentName {
			continue
		}
		out := append(types.Blocks{}, blocks...)
		updated := *sub
		updated.Status = ev.Status
		updated.Error = ev.Error
		updated.CompletedAt = ev.CompletedAt
		if len(ev.ToolCallIDs) > 0 {
			updated.ToolCallIDs = append([]string{}, ev.ToolCallIDs...)
		}
		out[i] = &updated
		return out, true
	}
	return blocks, false
}

// reconstructBlocks rebuilds a block list for a flat historical message: tool
// calls ordered by start time first, then attachment references, then one
// trailing text block. True interleaving is not recoverable from flat
// records; a trailing summary is assumed.
func reconstructBlocks(message types.Message) types.Blocks {
	if len(message.ContentBlocks) > 0 {
		return message.ContentBlocks
	}
	blocks := types.Blocks{}
	if len(message.ToolCalls) > 0 {
		calls := append([]types.ToolCall{}, message.ToolCalls...)
		sort.SliceStable(calls, func(a, b int) bool {
			return calls[a].StartedAt < calls[b].StartedAt
		})
		for _, call := range calls {
			if card, ok := detectActionCard(call.Result); ok {
				card.ToolCallID = call.ID
				card.SourceTool = call.Name
				blocks = append(blocks, card)
				continue
			}
			block := &types.ToolCallBlock{
				ToolCallID:  call.ID,
				ToolName:    call.Name,
				ToolType:    call.Type,
				Args:        call.Args,
				Result:      call.Result,
				Status:      call.Status,
				Error:       call.Error,
				StartedAt:   call.StartedAt,
				CompletedAt: call.CompletedAt,
				DurationMs:  call.DurationMs,
			}
			if call.Sequence != nil {
				v := *call.Sequence
				block.Sequence = &v
			}
			blocks = append(blocks, block)
		}
	}
	for _, attachment := range message.Attachments {
		blocks = append(blocks, &types.AttachmentRefBlock{
			AttachmentID:   attachment.AttachmentID,
			AttachmentType: attachment.Type,
			MimeType:       attachment.MimeType,
		})
	}
	if strings.TrimSpace(message.Content) != "" {
		blocks = append(blocks, &types.TextBlock{Content: message.Content})
	}
	if len(blocks) == 0 {
		return nil
	}
	return blocks
}

// detectActionCard reports whether a tool result is an interactive structured
// choice: either tagged with an action_card type, or carrying both an item
// list and an action template.
func detectActionCard(result any) (*types.ActionCardBlock, bool) {
	payload, ok := result.(map[string]any)
	if !ok {
		return nil, false
	}
	tagged := false
	switch strings.ToLower(strings.TrimSpace(stringValue(payload["type"]))) {
	case "action_card", "actioncard", "action-card":
		tagged = true
	}
	template := stringValue(payload["actionTemplate"])
	if template == "" {
		template = stringValue(payload["action_template"])
	}
	items := itemList(payload["items"])
	if !tagged && (len(items) == 0 || template == "") {
		return nil, false
	}
	return &types.ActionCardBlock{
		Title:          stringValue(payload["title"]),
		Items:          items,
		ActionTemplate: template,
	}, true
}

func itemList(value any) []map[string]any {
	raw, ok := value.([]any)
	if !ok {
		return nil
	}
	out := make([]map[string]any, 0, len(raw))
	for _, entry := range raw {
		if item, ok := entry.(map[string]any); ok {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func stringValue(value any) string {
	s, _ := value.(string)
	return s
}
