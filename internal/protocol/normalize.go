package protocol

import (
	"encoding/json"
	"strings"

	"loom/internal/types"
)

// Normalize maps a raw envelope onto one canonical event, or nil for
// unrecognized and malformed payloads. It never fails: unknown types are
// dropped so server-side additions stay forward-compatible.
func Normalize(env Envelope) Event {
	data := decodeMap(env.Data)
	switch strings.ToLower(strings.TrimSpace(env.Type)) {
	case "connected":
		return &ConnectedEvent{
			ConversationID: stringField(data, "conversationId", "conversation_id", "sessionId"),
		}
	case "state", "state_update":
		return normalizeState(data)
	case "message_start":
		return normalizeMessageStart(data)
	case "content_delta", "message_delta":
		return &ContentDeltaEvent{
			MessageID: stringField(data, "messageId", "message_id", "message"),
			Delta:     stringField(data, "delta", "content", "text"),
		}
	case "message_end":
		return normalizeMessageEnd(data)
	case "tool_call_start":
		return normalizeToolCallStart(data)
	case "tool_call_end", "tool_call_result":
		return normalizeToolCallEnd(data)
	case "subagent_start":
		return normalizeSubagentStart(data)
	case "subagent_end":
		return normalizeSubagentEnd(data)
	case "todos_update", "todos_updated":
		return normalizeTodos(env.Data, data)
	case "file_operation":
		return normalizeFileOperation(data)
	case "interrupt":
		return normalizeInterrupt(data)
	case "retry_started":
		return &RetryStartedEvent{
			TurnID:  stringField(data, "turnId", "turn_id", "messageId", "message_id"),
			Attempt: intField(data, "attempt", "retryCount", "attemptNumber"),
		}
	case "tool_progress":
		return &ToolProgressEvent{
			MessageID:  stringField(data, "messageId", "message_id"),
			ToolCallID: toolCallID(data),
			Preview:    stringField(data, "preview", "partial", "output", "progress"),
		}
	case "tool_retry":
		return &ToolRetryEvent{
			ToolCallID:  toolCallID(data),
			ToolName:    stringField(data, "toolName", "tool_name", "name"),
			Attempt:     intField(data, "attempt", "retryCount"),
			MaxAttempts: intField(data, "maxAttempts", "max_attempts", "limit"),
			Reason:      stringField(data, "reason", "error", "message"),
		}
	case "model_retry":
		return &ModelRetryEvent{
			Attempt:     intField(data, "attempt", "retryCount"),
			MaxAttempts: intField(data, "maxAttempts", "max_attempts", "limit"),
			DelayMs:     int64Field(data, "delayMs", "delay_ms", "backoffMs"),
			Reason:      stringField(data, "reason", "error", "message"),
		}
	case "content_saved":
		return normalizeContent(data, ContentPhaseSaved)
	case "content_rendered":
		return normalizeContent(data, ContentPhaseRendered)
	case "content_published":
		return normalizeContent(data, ContentPhasePublished)
	case "session_replaced":
		return &SessionReplacedEvent{Reason: stringField(data, "reason", "message")}
	case "force_logout":
		return &ForceLogoutEvent{Reason: stringField(data, "reason", "message")}
	case "rate_limited":
		return &RateLimitedEvent{
			Message:      stringField(data, "message", "reason"),
			RetryAfterMs: int64Field(data, "retryAfterMs", "retry_after_ms", "retryAfter"),
		}
	case "error":
		return &ErrorEvent{
			Code:    stringField(data, "code", "errorCode", "error_code"),
			Message: stringField(data, "message", "error", "detail"),
			TurnID:  stringField(data, "turnId", "turn_id", "messageId"),
		}
	case "done":
		return &DoneEvent{TurnID: stringField(data, "turnId", "turn_id", "messageId")}
	default:
		return nil
	}
}

func normalizeState(data map[string]any) Event {
	event := &StateEvent{
		ConversationID: stringField(data, "conversationId", "conversation_id"),
	}
	if raw, ok := data["messages"]; ok {
		var messages []types.Message
		if decodeAs(raw, &messages) {
			event.Messages = NormalizeMessages(messages)
		}
	}
	if raw, ok := firstPresent(data, "todos", "todoList", "todo_list"); ok {
		var todos []types.TodoItem
		if decodeAs(raw, &todos) {
			event.Todos = normalizeTodoItems(todos)
		}
	}
	if raw, ok := data["files"]; ok {
		event.Files = normalizeFileMap(raw)
	}
	if raw, ok := data["pagination"]; ok {
		var pagination types.Pagination
		if decodeAs(raw, &pagination) {
			event.Pagination = &pagination
		}
	}
	if raw, ok := data["interrupt"]; ok {
		var interrupt types.Interrupt
		if decodeAs(raw, &interrupt) && interrupt.ID != "" {
			event.Interrupt = &interrupt
		}
	}
	return event
}

func normalizeMessageStart(data map[string]any) Event {
	src := data
	if nested := mapField(data, "message"); nested != nil {
		src = nested
	}
	id := stringField(src, "id", "messageId", "message_id")
	if id == "" {
		id = stringField(data, "messageId", "message_id")
	}
	if id == "" {
		return nil
	}
	role := types.NormalizeRole(stringField(src, "role"))
	return &MessageStartEvent{
		MessageID:       id,
		Role:            role,
		ParentMessageID: stringField(src, "parentMessageId", "parent_message_id"),
		SubagentName:    stringField(src, "subagentName", "subagent_name"),
		CreatedAt:       int64Field(src, "createdAt", "created_at", "timestamp"),
	}
}

func normalizeMessageEnd(data map[string]any) Event {
	src := data
	if nested := mapField(data, "message"); nested != nil {
		src = nested
	}
	id := stringField(src, "id", "messageId", "message_id")
	if id == "" {
		id = stringField(data, "messageId", "message_id", "message")
	}
	event := &MessageEndEvent{
		MessageID: id,
		Content:   stringField(src, "content", "text"),
	}
	if raw, ok := firstPresent(src, "contentBlocks", "content_blocks", "blocks"); ok {
		var blocks types.Blocks
		if decodeAs(raw, &blocks) {
			event.ContentBlocks = blocks
		}
	}
	if raw, ok := firstPresent(src, "toolCalls", "tool_calls"); ok {
		var calls []types.ToolCall
		if decodeAs(raw, &calls) {
			event.ToolCalls = normalizeToolCalls(calls)
		}
	}
	if raw, ok := src["metadata"]; ok {
		var metadata types.MessageMetadata
		if decodeAs(raw, &metadata) {
			metadata.Todos = normalizeTodoItems(metadata.Todos)
			event.Metadata = &metadata
		}
	}
	return event
}

func normalizeToolCallStart(data map[string]any) Event {
	src := data
	if nested := mapField(data, "toolCall", "tool_call"); nested != nil {
		src = nested
	}
	id := stringField(src, "id", "toolCallId", "tool_call_id")
	if id == "" {
		id = toolCallID(data)
	}
	if id == "" {
		return nil
	}
	call := types.ToolCall{
		ID:        id,
		Name:      stringField(src, "name", "toolName", "tool_name"),
		Type:      types.NormalizeToolType(stringField(src, "type", "toolType", "tool_type")),
		Args:      decodeArgs(firstValue(src, "args", "arguments", "input")),
		Status:    types.ToolCallStatusRunning,
		StartedAt: int64Field(src, "startedAt", "started_at", "timestamp"),
		Sequence:  sequenceField(src),
	}
	return &ToolCallStartEvent{
		MessageID:   stringField(data, "messageId", "message_id"),
		Call:        call,
		DisplayName: stringField(src, "displayName", "display_name"),
		ArgsPreview: stringField(src, "argsPreview", "args_preview"),
	}
}

func normalizeToolCallEnd(data map[string]any) Event {
	src := data
	if nested := mapField(data, "toolCall", "tool_call"); nested != nil {
		src = nested
	}
	id := stringField(src, "id", "toolCallId", "tool_call_id")
	if id == "" {
		id = toolCallID(data)
	}
	if id == "" {
		return nil
	}
	status := types.NormalizeToolCallStatus(stringField(src, "status"))
	errMsg := stringField(src, "error", "errorMessage", "error_message")
	if status == "" {
		if errMsg != "" {
			status = types.ToolCallStatusError
		} else {
			status = types.ToolCallStatusSuccess
		}
	}
	result, _ := firstPresent(src, "result", "output")
	return &ToolCallEndEvent{
		MessageID:   stringField(data, "messageId", "message_id"),
		ToolCallID:  id,
		Result:      result,
		Status:      status,
		Error:       errMsg,
		DurationMs:  int64Field(src, "durationMs", "duration_ms"),
		CompletedAt: int64Field(src, "completedAt", "completed_at", "timestamp"),
	}
}

func normalizeSubagentStart(data map[string]any) Event {
	name := stringField(data, "subagentName", "subagent_name", "name")
	if name == "" {
		return nil
	}
	return &SubagentStartEvent{
		MessageID:       stringField(data, "messageId", "message_id"),
		SubagentName:    name,
		DisplayName:     stringField(data, "displayName", "display_name"),
		TaskDescription: stringField(data, "taskDescription", "task_description", "task", "description"),
		StartedAt:       int64Field(data, "startedAt", "started_at", "timestamp"),
	}
}

func normalizeSubagentEnd(data map[string]any) Event {
	name := stringField(data, "subagentName", "subagent_name", "name")
	if name == "" {
		return nil
	}
	status := types.NormalizeSubagentStatus(stringField(data, "status"))
	errMsg := stringField(data, "error", "errorMessage", "error_message")
	if status == "" {
		if errMsg != "" {
			status = types.SubagentStatusError
		} else {
			status = types.SubagentStatusSuccess
		}
	}
	event := &SubagentEndEvent{
		MessageID:    stringField(data, "messageId", "message_id"),
		SubagentName: name,
		Status:       status,
		Error:        errMsg,
		CompletedAt:  int64Field(data, "completedAt", "completed_at", "timestamp"),
	}
	if raw, ok := firstPresent(data, "toolCallIds", "tool_call_ids"); ok {
		var ids []string
		if decodeAs(raw, &ids) {
			event.ToolCallIDs = ids
		}
	}
	return event
}

func normalizeTodos(raw json.RawMessage, data map[string]any) Event {
	// The payload is either {"todos": [...]} or the bare array itself.
	if value, ok := firstPresent(data, "todos", "items"); ok {
		var todos []types.TodoItem
		if decodeAs(value, &todos) {
			return &TodosEvent{Todos: normalizeTodoItems(todos)}
		}
	}
	var todos []types.TodoItem
	if len(raw) > 0 && json.Unmarshal(raw, &todos) == nil {
		return &TodosEvent{Todos: normalizeTodoItems(todos)}
	}
	return nil
}

func normalizeFileOperation(data map[string]any) Event {
	path := stringField(data, "path", "filePath", "file_path")
	if path == "" {
		return nil
	}
	return &FileOperationEvent{
		Path:        path,
		Operation:   types.NormalizeFileOperation(stringField(data, "operation", "op", "action")),
		Content:     stringField(data, "content"),
		OldContent:  stringField(data, "oldContent", "old_content", "previousContent"),
		Language:    stringField(data, "language", "lang"),
		DownloadURL: stringField(data, "downloadUrl", "download_url", "url"),
		IsBinary:    boolField(data, "isBinary", "is_binary", "binary"),
		FileSize:    int64Field(data, "fileSize", "file_size", "size"),
		LineStart:   intField(data, "lineStart", "line_start"),
		LineEnd:     intField(data, "lineEnd", "line_end"),
	}
}

func normalizeInterrupt(data map[string]any) Event {
	id := stringField(data, "id", "interruptId", "interrupt_id")
	if id == "" {
		return nil
	}
	payload := mapField(data, "payload", "request")
	if payload == nil {
		payload = map[string]any{}
		for key, value := range data {
			if key == "id" || key == "interruptId" || key == "interrupt_id" {
				continue
			}
			payload[key] = value
		}
	}
	return &InterruptEvent{Interrupt: types.Interrupt{ID: id, Payload: payload}}
}

func normalizeContent(data map[string]any, phase ContentPhase) Event {
	return &ContentEvent{
		Phase:     phase,
		ContentID: stringField(data, "contentId", "content_id", "id"),
		Title:     stringField(data, "title", "name"),
		URL:       stringField(data, "url", "publicUrl", "public_url"),
	}
}

// NormalizeMessages applies replay defaults to historical messages: roles
// collapse to the canonical set and tool calls without a recorded status
// count as finished.
func NormalizeMessages(messages []types.Message) []types.Message {
	out := make([]types.Message, 0, len(messages))
	for _, message := range messages {
		if strings.TrimSpace(message.ID) == "" {
			continue
		}
		message.Role = types.NormalizeRole(string(message.Role))
		message.ToolCalls = normalizeToolCalls(message.ToolCalls)
		out = append(out, message)
	}
	return out
}

func normalizeToolCalls(calls []types.ToolCall) []types.ToolCall {
	if calls == nil {
		return nil
	}
	out := make([]types.ToolCall, 0, len(calls))
	for _, call := range calls {
		if strings.TrimSpace(call.ID) == "" {
			continue
		}
		if call.Status == "" {
			call.Status = types.ToolCallStatusSuccess
		} else {
			call.Status = types.NormalizeToolCallStatus(string(call.Status))
			if call.Status == "" {
				call.Status = types.ToolCallStatusSuccess
			}
		}
		call.Type = types.NormalizeToolType(string(call.Type))
		if call.Args == nil {
			call.Args = map[string]any{}
		}
		out = append(out, call)
	}
	return out
}

func normalizeTodoItems(todos []types.TodoItem) []types.TodoItem {
	if todos == nil {
		return nil
	}
	out := make([]types.TodoItem, 0, len(todos))
	for _, todo := range todos {
		todo.Status = types.NormalizeTodoStatus(string(todo.Status))
		out = append(out, todo)
	}
	return out
}

func normalizeFileMap(raw any) map[string]types.FileItem {
	entries, ok := raw.(map[string]any)
	if !ok {
		return nil
	}
	out := make(map[string]types.FileItem, len(entries))
	for path, value := range entries {
		if strings.TrimSpace(path) == "" {
			continue
		}
		switch v := value.(type) {
		case string:
			out[path] = types.FileItem{Path: path, Content: v, Editable: true}
		case map[string]any:
			var item types.FileItem
			if !decodeAs(v, &item) {
				continue
			}
			item.Path = path
			if item.DownloadURL != "" {
				item.IsBinary = true
			}
			item.Editable = !item.IsBinary
			if item.IsBinary {
				item.Content = ""
			}
			out[path] = item
		}
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

func toolCallID(data map[string]any) string {
	if nested := mapField(data, "toolCall", "tool_call"); nested != nil {
		if id := stringField(nested, "id", "toolCallId", "tool_call_id"); id != "" {
			return id
		}
	}
	return stringField(data, "toolCallId", "tool_call_id")
}

func decodeMap(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil
	}
	return data
}

// decodeAs round-trips an already-decoded value into a typed target.
func decodeAs(value any, target any) bool {
	if value == nil {
		return false
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, target) == nil
}

// decodeArgs accepts an object, a JSON-encoded object string, or nothing.
// Absent or unusable args resolve to an empty map, never nil.
func decodeArgs(value any) map[string]any {
	switch v := value.(type) {
	case map[string]any:
		return v
	case string:
		var args map[string]any
		if json.Unmarshal([]byte(v), &args) == nil && args != nil {
			return args
		}
	}
	return map[string]any{}
}

func stringField(data map[string]any, keys ...string) string {
	for _, key := range keys {
		if value, ok := data[key].(string); ok {
			if trimmed := strings.TrimSpace(value); trimmed != "" {
				return trimmed
			}
		}
	}
	return ""
}

func intField(data map[string]any, keys ...string) int {
	return int(int64Field(data, keys...))
}

func int64Field(data map[string]any, keys ...string) int64 {
	for _, key := range keys {
		switch v := data[key].(type) {
		case float64:
			return int64(v)
		case json.Number:
			if n, err := v.Int64(); err == nil {
				return n
			}
		}
	}
	return 0
}

func boolField(data map[string]any, keys ...string) bool {
	for _, key := range keys {
		if value, ok := data[key].(bool); ok {
			return value
		}
	}
	return false
}

func mapField(data map[string]any, keys ...string) map[string]any {
	for _, key := range keys {
		if value, ok := data[key].(map[string]any); ok {
			return value
		}
	}
	return nil
}

func firstPresent(data map[string]any, keys ...string) (any, bool) {
	for _, key := range keys {
		if value, ok := data[key]; ok && value != nil {
			return value, true
		}
	}
	return nil, false
}

func firstValue(data map[string]any, keys ...string) any {
	value, _ := firstPresent(data, keys...)
	return value
}

func sequenceField(data map[string]any) *int {
	for _, key := range []string{"sequence", "seq", "order"} {
		if v, ok := data[key].(float64); ok {
			n := int(v)
			return &n
		}
	}
	return nil
}
