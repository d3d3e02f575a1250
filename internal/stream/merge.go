package stream

import (
	"loom/internal/protocol"
	"loom/internal/types"
)

// MergeHistoryPage prepends an older page to the transcript and replaces the
// pagination cursor. Page messages get the same normalization and flat-to-
// block reconstruction as an initial load; ids already present are skipped.
// Files, todos, and live in-flight messages stay untouched.
func MergeHistoryPage(state *types.StreamState, messages []types.Message, pagination types.Pagination) *types.StreamState {
	if state == nil {
		state = types.NewStreamState()
	}
	next := types.CloneStreamState(state)
	if next.ToolCalls == nil {
		next.ToolCalls = map[string]types.ToolCall{}
	}

	seen := make(map[string]struct{}, len(next.Messages))
	for _, message := range next.Messages {
		seen[message.ID] = struct{}{}
	}
	page := make([]types.Message, 0, len(messages))
	for _, message := range protocol.NormalizeMessages(messages) {
		if _, dup := seen[message.ID]; dup {
			continue
		}
		message = types.CloneMessage(message)
		message.ContentBlocks = reconstructBlocks(message)
		page = append(page, message)
		seen[message.ID] = struct{}{}
		for _, call := range message.ToolCalls {
			if _, live := next.ToolCalls[call.ID]; live {
				continue
			}
			call.MessageID = message.ID
			next.ToolCalls[call.ID] = types.CloneToolCall(call)
		}
	}

	next.Messages = append(page, next.Messages...)
	next.Pagination = pagination
	return next
}
