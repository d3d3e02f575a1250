package main

import (
	"fmt"
	"io"

	"loom/internal/types"
)

// transcriptRenderer turns successive state snapshots into incremental
// terminal output: message text streams in place, everything else prints as
// bracketed status lines.
type transcriptRenderer struct {
	out        io.Writer
	printed    map[string]int
	labeled    map[string]bool
	tools      map[string]types.ToolCallStatus
	files      map[string]string
	connection types.ConnectionState
	interrupt  string
	errText    string
	todoLine   string
	midLine    bool
}

func newTranscriptRenderer(out io.Writer) *transcriptRenderer {
	return &transcriptRenderer{
		out:     out,
		printed: map[string]int{},
		labeled: map[string]bool{},
		tools:   map[string]types.ToolCallStatus{},
		files:   map[string]string{},
	}
}

func (r *transcriptRenderer) Render(state *types.StreamState) {
	if state == nil {
		return
	}
	r.renderConnection(state)
	r.renderMessages(state)
	r.renderTools(state)
	r.renderFiles(state)
	r.renderTodos(state)
	r.renderInterrupt(state)
	r.renderError(state)
}

func (r *transcriptRenderer) renderConnection(state *types.StreamState) {
	if state.ConnectionState == r.connection {
		return
	}
	r.connection = state.ConnectionState
	r.statusLine("connection: %s", state.ConnectionState)
}

func (r *transcriptRenderer) renderMessages(state *types.StreamState) {
	for _, message := range state.Messages {
		content := message.Content
		already := r.printed[message.ID]
		if len(content) <= already {
			continue
		}
		if !r.labeled[message.ID] {
			r.breakLine()
			fmt.Fprintf(r.out, "%s> ", roleLabel(message.Role))
			r.labeled[message.ID] = true
		}
		fmt.Fprint(r.out, content[already:])
		r.printed[message.ID] = len(content)
		r.midLine = true
	}
}

func (r *transcriptRenderer) renderTools(state *types.StreamState) {
	for _, message := range state.Messages {
		for _, call := range message.ToolCalls {
			if call.ID == "" {
				continue
			}
			if r.tools[call.ID] == call.Status {
				continue
			}
			r.tools[call.ID] = call.Status
			name := call.Name
			if name == "" {
				name = "tool"
			}
			r.statusLine("%s %s: %s", call.Type, name, call.Status)
		}
	}
}

func (r *transcriptRenderer) renderFiles(state *types.StreamState) {
	for path, item := range state.Files {
		signature := fmt.Sprintf("%d:%s", len(item.Content), item.DownloadURL)
		if r.files[path] == signature {
			continue
		}
		isNew := r.files[path] == ""
		r.files[path] = signature
		if isNew {
			r.statusLine("file %s", path)
		} else {
			r.statusLine("file %s updated", path)
		}
	}
	for path := range r.files {
		if _, ok := state.Files[path]; !ok {
			delete(r.files, path)
			r.statusLine("file %s removed", path)
		}
	}
}

func (r *transcriptRenderer) renderTodos(state *types.StreamState) {
	if len(state.Todos) == 0 {
		return
	}
	done := 0
	for _, todo := range state.Todos {
		if todo.Status == types.TodoStatusCompleted {
			done++
		}
	}
	line := fmt.Sprintf("todos %d/%d done", done, len(state.Todos))
	if line == r.todoLine {
		return
	}
	r.todoLine = line
	r.statusLine("%s", line)
}

func (r *transcriptRenderer) renderInterrupt(state *types.StreamState) {
	if state.Interrupt == nil {
		r.interrupt = ""
		return
	}
	if state.Interrupt.ID == r.interrupt {
		return
	}
	r.interrupt = state.Interrupt.ID
	r.statusLine("interrupt pending: %s", state.Interrupt.ID)
}

func (r *transcriptRenderer) renderError(state *types.StreamState) {
	if state.Err == nil {
		r.errText = ""
		return
	}
	text := state.Err.Error()
	if text == r.errText {
		return
	}
	r.errText = text
	r.statusLine("error: %s", text)
}

func (r *transcriptRenderer) statusLine(format string, args ...any) {
	r.breakLine()
	fmt.Fprintf(r.out, "[%s]\n", fmt.Sprintf(format, args...))
}

func (r *transcriptRenderer) breakLine() {
	if r.midLine {
		fmt.Fprintln(r.out)
		r.midLine = false
	}
}

func roleLabel(role types.Role) string {
	switch role {
	case types.RoleUser:
		return "you"
	case types.RoleAssistant:
		return "assistant"
	case types.RoleSystem:
		return "system"
	default:
		return string(role)
	}
}
