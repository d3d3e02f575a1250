package stream

import (
	"strings"

	"loom/internal/protocol"
	"loom/internal/types"
)

// Reduce is the pure transition (state, event) -> state. The result is always
// a fresh root value when anything changed; the input is never mutated.
// Events that only produce side notifications leave the state untouched.
func Reduce(state *types.StreamState, event protocol.Event) *types.StreamState {
	if state == nil {
		state = types.NewStreamState()
	}
	if event == nil {
		return state
	}
	switch event.(type) {
	case *protocol.ToolRetryEvent, *protocol.ModelRetryEvent, *protocol.ContentEvent:
		return state
	}

	next := types.CloneStreamState(state)
	if next.ToolCalls == nil {
		next.ToolCalls = map[string]types.ToolCall{}
	}
	if next.Files == nil {
		next.Files = map[string]types.FileItem{}
	}

	switch ev := event.(type) {
	case *protocol.ConnectedEvent:
		next.ServerReady = true
		next.Err = nil
		if ev.ConversationID != "" {
			next.ConversationID = ev.ConversationID
		}
	case *protocol.StateEvent:
		applyFullState(next, ev)
	case *protocol.MessageStartEvent:
		applyMessageStart(next, ev)
	case *protocol.ContentDeltaEvent:
		applyContentDelta(next, ev)
	case *protocol.MessageEndEvent:
		applyMessageEnd(next, ev)
	case *protocol.ToolCallStartEvent:
		applyToolCallStart(next, ev)
	case *protocol.ToolCallEndEvent:
		applyToolCallEnd(next, ev)
	case *protocol.SubagentStartEvent:
		applySubagentStart(next, ev)
	case *protocol.SubagentEndEvent:
		applySubagentEnd(next, ev)
	case *protocol.TodosEvent:
		next.Todos = types.CloneTodos(ev.Todos)
	case *protocol.FileOperationEvent:
		applyFileOperation(next.Files, ev)
	case *protocol.InterruptEvent:
		interrupt := ev.Interrupt
		next.Interrupt = types.CloneInterrupt(&interrupt)
		next.Loading = false
	case *protocol.RetryStartedEvent:
		next.RetryingTurnID = ev.TurnID
		if ev.Attempt > 0 {
			next.RetryAttempt = ev.Attempt
		} else {
			next.RetryAttempt++
		}
		next.RetryFailure = nil
		next.Err = nil
		next.Loading = true
	case *protocol.ToolProgressEvent:
		applyToolProgress(next, ev)
	case *protocol.SessionReplacedEvent:
		next.ConnectionState = types.ConnectionKicked
		next.ServerReady = false
		next.Loading = false
	case *protocol.ForceLogoutEvent:
		next.ConnectionState = types.ConnectionFailed
		next.ServerReady = false
		next.Loading = false
	case *protocol.RateLimitedEvent:
		next.ConnectionState = types.ConnectionFailed
		next.ServerReady = false
		next.Loading = false
		next.Err = &types.StreamError{Code: "RATE_LIMITED", Message: ev.Message}
	case *protocol.ErrorEvent:
		applyErrorEvent(next, ev)
	case *protocol.DoneEvent:
		next.Loading = false
		next.StreamingMessageID = ""
		next.RetryingTurnID = ""
		next.RetryAttempt = 0
	}
	return next
}

// applyFullState merges an authoritative snapshot. Snapshot messages win;
// local messages the server has not echoed yet are re-appended in order, so a
// reconnect never loses an optimistic send and never duplicates an id.
func applyFullState(next *types.StreamState, ev *protocol.StateEvent) {
	merged := make([]types.Message, 0, len(ev.Messages)+len(next.Messages))
	seen := make(map[string]struct{}, len(ev.Messages))
	for _, message := range ev.Messages {
		if _, dup := seen[message.ID]; dup {
			continue
		}
		message = types.CloneMessage(message)
		message.ContentBlocks = reconstructBlocks(message)
		merged = append(merged, message)
		seen[message.ID] = struct{}{}
	}
	for _, local := range next.Messages {
		if _, ok := seen[local.ID]; ok {
			continue
		}
		merged = append(merged, local)
		seen[local.ID] = struct{}{}
	}

	index := make(map[string]types.ToolCall, len(next.ToolCalls))
	for _, message := range merged {
		for _, call := range message.ToolCalls {
			call.MessageID = message.ID
			index[call.ID] = types.CloneToolCall(call)
		}
	}
	for id, call := range next.ToolCalls {
		if _, ok := index[id]; !ok {
			index[id] = call
		}
	}

	files := next.Files
	for path, item := range ev.Files {
		files[path] = item
	}
	for _, message := range merged {
		mergeMessageArtifacts(files, message)
	}

	next.Messages = merged
	next.ToolCalls = index
	next.Files = files
	if ev.Todos != nil {
		next.Todos = types.CloneTodos(ev.Todos)
	}
	if ev.Pagination != nil {
		next.Pagination = *ev.Pagination
	}
	if ev.Interrupt != nil {
		next.Interrupt = types.CloneInterrupt(ev.Interrupt)
	}
	if ev.ConversationID != "" {
		next.ConversationID = ev.ConversationID
	}
	next.ServerReady = true
	next.Err = nil
	next.StreamingMessageID = ""
}

func applyMessageStart(next *types.StreamState, ev *protocol.MessageStartEvent) {
	if i := findMessageIndex(next.Messages, ev.MessageID); i < 0 {
		next.Messages = append(next.Messages, types.Message{
			ID:              ev.MessageID,
			ConversationID:  next.ConversationID,
			Role:            ev.Role,
			ParentMessageID: ev.ParentMessageID,
			SubagentName:    ev.SubagentName,
			CreatedAt:       ev.CreatedAt,
		})
	}
	if ev.Role != types.RoleUser {
		next.StreamingMessageID = ev.MessageID
	}
	next.Loading = true
}

func applyContentDelta(next *types.StreamState, ev *protocol.ContentDeltaEvent) {
	id := ev.MessageID
	if id == "" {
		id = next.StreamingMessageID
	}
	if id == "" {
		return
	}
	i := findMessageIndex(next.Messages, id)
	if i < 0 {
		next.Messages = append(next.Messages, types.Message{
			ID:             id,
			ConversationID: next.ConversationID,
			Role:           types.RoleAssistant,
		})
		i = len(next.Messages) - 1
	}
	message := &next.Messages[i]
	message.ContentBlocks = appendTextDelta(message.ContentBlocks, ev.Delta)
	message.Content += ev.Delta
	next.StreamingMessageID = id
	next.Loading = true
}

func applyMessageEnd(next *types.StreamState, ev *protocol.MessageEndEvent) {
	id := ev.MessageID
	if id == "" {
		id = next.StreamingMessageID
	}
	if id == "" {
		return
	}
	i := findMessageIndex(next.Messages, id)
	if i < 0 {
		message := types.Message{
			ID:             id,
			ConversationID: next.ConversationID,
			Role:           types.RoleAssistant,
			Content:        ev.Content,
			ContentBlocks:  types.CloneBlocks(ev.ContentBlocks),
			ToolCalls:      cloneToolCallSlice(ev.ToolCalls),
			Metadata:       types.CloneMessageMetadata(ev.Metadata),
		}
		message.ContentBlocks = reconstructBlocks(message)
		for _, call := range message.ToolCalls {
			call.MessageID = message.ID
			next.ToolCalls[call.ID] = types.CloneToolCall(call)
		}
		next.Messages = append(next.Messages, message)
	} else {
		message := &next.Messages[i]
		mergeFinalBlocks(message, ev)
		mergeFinalToolCalls(next, message, ev)
		if ev.Metadata != nil {
			message.Metadata = types.CloneMessageMetadata(ev.Metadata)
		}
		if len(message.ContentBlocks) == 0 {
			message.ContentBlocks = reconstructBlocks(*message)
		}
	}
	if ev.Metadata != nil && ev.Metadata.Todos != nil {
		next.Todos = types.CloneTodos(ev.Metadata.Todos)
	}
	if next.StreamingMessageID == id {
		next.StreamingMessageID = ""
	}
}

// mergeFinalBlocks reconciles the server's finalized message with blocks
// built live from deltas. The live list encodes correct temporal order, so it
// is never blindly replaced: the final payload only fills an empty list,
// contributes a missing trailing text block, or extends text that is strictly
// longer than everything accumulated so far.
func mergeFinalBlocks(message *types.Message, ev *protocol.MessageEndEvent) {
	live := message.ContentBlocks
	if len(live) == 0 {
		if len(ev.ContentBlocks) > 0 {
			message.ContentBlocks = types.CloneBlocks(ev.ContentBlocks)
		} else if strings.TrimSpace(ev.Content) != "" {
			message.ContentBlocks = types.Blocks{&types.TextBlock{Content: ev.Content}}
		}
	} else {
		total := 0
		lastText := -1
		for idx, block := range live {
			if text, ok := block.(*types.TextBlock); ok {
				total += len(text.Content)
				lastText = idx
			}
		}
		if lastText < 0 {
			if strings.TrimSpace(ev.Content) != "" {
				message.ContentBlocks = append(append(types.Blocks{}, live...), &types.TextBlock{Content: ev.Content})
			}
		} else if len(ev.Content) > total {
			out := append(types.Blocks{}, live...)
			grown := *(out[lastText].(*types.TextBlock))
			grown.Content += ev.Content[total:]
			out[lastText] = &grown
			message.ContentBlocks = out
		}
	}
	if len(ev.Content) > len(message.Content) {
		message.Content = ev.Content
	}
}

// mergeFinalToolCalls folds the completion summary into locally tracked
// calls. Complete local args and results take precedence over summary
// previews; identity is the tool call id.
func mergeFinalToolCalls(next *types.StreamState, message *types.Message, ev *protocol.MessageEndEvent) {
	if len(ev.ToolCalls) == 0 {
		return
	}
	position := make(map[string]int, len(message.ToolCalls))
	for idx, call := range message.ToolCalls {
		position[call.ID] = idx
	}
	for _, summary := range ev.ToolCalls {
		if summary.ID == "" {
			continue
		}
		merged, known := next.ToolCalls[summary.ID]
		if !known {
			merged = types.CloneToolCall(summary)
		} else {
			if len(merged.Args) == 0 && len(summary.Args) > 0 {
				merged.Args = types.CloneToolCall(summary).Args
			}
			if merged.Result == nil && summary.Result != nil {
				merged.Result = summary.Result
			}
			if merged.Status != types.ToolCallStatusSuccess && merged.Status != types.ToolCallStatusError {
				merged.Status = summary.Status
			}
			if merged.CompletedAt == 0 {
				merged.CompletedAt = summary.CompletedAt
			}
			if merged.DurationMs == 0 {
				merged.DurationMs = summary.DurationMs
			}
			if merged.Error == "" {
				merged.Error = summary.Error
			}
		}
		merged.MessageID = message.ID
		next.ToolCalls[merged.ID] = merged
		if idx, ok := position[merged.ID]; ok {
			message.ToolCalls[idx] = types.CloneToolCall(merged)
		} else {
			message.ToolCalls = append(message.ToolCalls, types.CloneToolCall(merged))
			position[merged.ID] = len(message.ToolCalls) - 1
		}
	}
}

func applyToolCallStart(next *types.StreamState, ev *protocol.ToolCallStartEvent) {
	call := types.CloneToolCall(ev.Call)
	i := resolveMessageIndex(next, ev.MessageID, "m-"+call.ID)
	message := &next.Messages[i]
	call.MessageID = message.ID

	if hasToolCallBlock(message.ContentBlocks, call.ID) {
		// Replayed start for a call already assembled; refresh the index only.
		if _, known := next.ToolCalls[call.ID]; !known {
			next.ToolCalls[call.ID] = call
		}
		next.Loading = true
		return
	}
	next.ToolCalls[call.ID] = call
	message.ContentBlocks = appendToolCallBlock(message.ContentBlocks, call, ev.DisplayName, ev.ArgsPreview)
	upsertFlatToolCall(message, call)
	next.Loading = true
}

func applyToolCallEnd(next *types.StreamState, ev *protocol.ToolCallEndEvent) {
	call, known := next.ToolCalls[ev.ToolCallID]
	if !known {
		call = types.ToolCall{ID: ev.ToolCallID, Args: map[string]any{}, Type: types.ToolTypeTool}
	}
	call.Status = ev.Status
	call.Result = ev.Result
	call.Error = ev.Error
	call.CompletedAt = ev.CompletedAt
	call.DurationMs = toolDuration(ev, call.StartedAt)
	if call.MessageID == "" {
		call.MessageID = ev.MessageID
	}
	next.ToolCalls[call.ID] = call

	i := resolveMessageIndex(next, call.MessageID, "m-"+call.ID)
	message := &next.Messages[i]
	call.MessageID = message.ID
	next.ToolCalls[call.ID] = call
	message.ContentBlocks = completeToolCallBlock(message.ContentBlocks, ev, call)
	upsertFlatToolCall(message, call)

	if ev.Result != nil {
		mergeToolResultFiles(next.Files, ev.Result)
	}
	mergeWriteToolFiles(next.Files, call)
}

func applySubagentStart(next *types.StreamState, ev *protocol.SubagentStartEvent) {
	i := resolveMessageIndex(next, ev.MessageID, "m-"+ev.SubagentName)
	message := &next.Messages[i]
	message.ContentBlocks = appendSubagentBlock(message.ContentBlocks, ev)
	next.Loading = true
}

func applySubagentEnd(next *types.StreamState, ev *protocol.SubagentEndEvent) {
	if ev.MessageID != "" {
		if i := findMessageIndex(next.Messages, ev.MessageID); i >= 0 {
			if blocks, ok := completeSubagentBlock(next.Messages[i].ContentBlocks, ev); ok {
				next.Messages[i].ContentBlocks = blocks
			}
			return
		}
	}
	for i := len(next.Messages) - 1; i >= 0; i-- {
		blocks, ok := completeSubagentBlock(next.Messages[i].ContentBlocks, ev)
		if ok {
			next.Messages[i].ContentBlocks = blocks
			return
		}
	}
}

func applyToolProgress(next *types.StreamState, ev *protocol.ToolProgressEvent) {
	if ev.ToolCallID == "" || ev.Preview == "" {
		return
	}
	messageID := ev.MessageID
	if call, ok := next.ToolCalls[ev.ToolCallID]; ok && call.MessageID != "" {
		messageID = call.MessageID
	}
	if messageID != "" {
		if i := findMessageIndex(next.Messages, messageID); i >= 0 {
			next.Messages[i].ContentBlocks = updateToolProgress(next.Messages[i].ContentBlocks, ev.ToolCallID, ev.Preview)
			return
		}
	}
	for i := len(next.Messages) - 1; i >= 0; i-- {
		if hasToolCallBlock(next.Messages[i].ContentBlocks, ev.ToolCallID) {
			next.Messages[i].ContentBlocks = updateToolProgress(next.Messages[i].ContentBlocks, ev.ToolCallID, ev.Preview)
			return
		}
	}
}

func applyErrorEvent(next *types.StreamState, ev *protocol.ErrorEvent) {
	if protocol.IsRetryFailureCode(ev.Code) {
		turn := ev.TurnID
		if turn == "" {
			turn = next.RetryingTurnID
		}
		next.RetryFailure = &types.RetryFailure{TurnID: turn, Code: ev.Code, Message: ev.Message}
		next.RetryingTurnID = ""
		next.RetryAttempt = 0
		next.Loading = false
		return
	}
	next.Err = &types.StreamError{Code: ev.Code, Message: ev.Message}
	next.Loading = false
}

// ApplyConnectionState records a transport-level transition. Anything but
// connected drops readiness until the server pushes state again.
func ApplyConnectionState(state *types.StreamState, cs types.ConnectionState) *types.StreamState {
	if state == nil {
		state = types.NewStreamState()
	}
	next := types.CloneStreamState(state)
	next.ConnectionState = cs
	if cs != types.ConnectionConnected {
		next.ServerReady = false
	}
	return next
}

// ApplyOptimisticSend appends the user's message before any network
// confirmation. The transport never echoes it back, so nothing needs to
// confirm or deduplicate it later.
func ApplyOptimisticSend(state *types.StreamState, message types.Message) *types.StreamState {
	if state == nil {
		state = types.NewStreamState()
	}
	next := types.CloneStreamState(state)
	message = types.CloneMessage(message)
	if message.Role == "" {
		message.Role = types.RoleUser
	}
	if message.ConversationID == "" {
		message.ConversationID = next.ConversationID
	}
	if len(message.ContentBlocks) == 0 {
		message.ContentBlocks = reconstructBlocks(message)
	}
	next.Messages = append(next.Messages, message)
	next.Loading = true
	next.Err = nil
	return next
}

func ApplyOperationError(state *types.StreamState, code, message string) *types.StreamState {
	if state == nil {
		state = types.NewStreamState()
	}
	next := types.CloneStreamState(state)
	next.Err = &types.StreamError{Code: code, Message: message}
	next.Loading = false
	return next
}

func ApplyRetryFailure(state *types.StreamState, turnID, code, message string) *types.StreamState {
	if state == nil {
		state = types.NewStreamState()
	}
	next := types.CloneStreamState(state)
	if code == "" {
		code = protocol.RetryCodeFailed
	}
	next.RetryFailure = &types.RetryFailure{TurnID: turnID, Code: code, Message: message}
	next.RetryingTurnID = ""
	next.RetryAttempt = 0
	next.Loading = false
	return next
}

// ApplyStopRequested clears the busy flags as soon as the user asks to stop,
// whether or not the stop frame reaches the server. Late events for the
// interrupted turn still apply normally afterwards.
func ApplyStopRequested(state *types.StreamState) *types.StreamState {
	if state == nil {
		return types.NewStreamState()
	}
	next := types.CloneStreamState(state)
	next.Loading = false
	next.StreamingMessageID = ""
	return next
}

// ApplyRetryRequested clears a previous retry failure when the user asks for
// another attempt. The server's own retry event fills in the attempt count.
func ApplyRetryRequested(state *types.StreamState, turnID string) *types.StreamState {
	if state == nil {
		state = types.NewStreamState()
	}
	next := types.CloneStreamState(state)
	next.RetryingTurnID = turnID
	next.RetryFailure = nil
	next.Err = nil
	next.Loading = true
	return next
}

func ApplyInterruptResumed(state *types.StreamState) *types.StreamState {
	if state == nil {
		state = types.NewStreamState()
	}
	next := types.CloneStreamState(state)
	next.Interrupt = nil
	next.Loading = true
	return next
}

// ResetConversation clears transcript-scoped state while the connection and
// its readiness survive, for switching conversations on an open transport.
func ResetConversation(state *types.StreamState) *types.StreamState {
	if state == nil {
		return types.NewStreamState()
	}
	next := types.CloneStreamState(state)
	next.Messages = []types.Message{}
	next.ToolCalls = map[string]types.ToolCall{}
	next.Todos = nil
	next.Files = map[string]types.FileItem{}
	next.Interrupt = nil
	next.Loading = false
	next.Err = nil
	next.Pagination = types.Pagination{}
	next.RetryingTurnID = ""
	next.RetryAttempt = 0
	next.RetryFailure = nil
	next.StreamingMessageID = ""
	return next
}

// Reset tears everything down, connection flags included.
func Reset(_ *types.StreamState) *types.StreamState {
	return types.NewStreamState()
}

func findMessageIndex(messages []types.Message, id string) int {
	if id == "" {
		return -1
	}
	for i := range messages {
		if messages[i].ID == id {
			return i
		}
	}
	return -1
}

// resolveMessageIndex finds the message an event belongs to, materializing
// one when the id is known but unseen, and falling back to the streaming or
// last assistant message when the event carries no id at all.
func resolveMessageIndex(next *types.StreamState, messageID, fallbackID string) int {
	if messageID != "" {
		if i := findMessageIndex(next.Messages, messageID); i >= 0 {
			return i
		}
		next.Messages = append(next.Messages, types.Message{
			ID:             messageID,
			ConversationID: next.ConversationID,
			Role:           types.RoleAssistant,
		})
		return len(next.Messages) - 1
	}
	if next.StreamingMessageID != "" {
		if i := findMessageIndex(next.Messages, next.StreamingMessageID); i >= 0 {
			return i
		}
	}
	for i := len(next.Messages) - 1; i >= 0; i-- {
		if next.Messages[i].Role == types.RoleAssistant {
			return i
		}
	}
	next.Messages = append(next.Messages, types.Message{
		ID:             fallbackID,
		ConversationID: next.ConversationID,
		Role:           types.RoleAssistant,
	})
	return len(next.Messages) - 1
}

func hasToolCallBlock(blocks types.Blocks, toolCallID string) bool {
	for _, block := range blocks {
		switch b := block.(type) {
		case *types.ToolCallBlock:
			if b.ToolCallID == toolCallID {
				return true
			}
		case *types.ActionCardBlock:
			if b.ToolCallID == toolCallID {
				return true
			}
		}
	}
	return false
}

func upsertFlatToolCall(message *types.Message, call types.ToolCall) {
	for i := range message.ToolCalls {
		if message.ToolCalls[i].ID == call.ID {
			message.ToolCalls[i] = types.CloneToolCall(call)
			return
		}
	}
	message.ToolCalls = append(message.ToolCalls, types.CloneToolCall(call))
}

func cloneToolCallSlice(calls []types.ToolCall) []types.ToolCall {
	if calls == nil {
		return nil
	}
	out := make([]types.ToolCall, 0, len(calls))
	for _, call := range calls {
		out = append(out, types.CloneToolCall(call))
	}
	return out
}
