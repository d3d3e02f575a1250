package types

type ConversationSnapshot struct {
	ConversationID string              `json:"conversationId"`
	Messages       []Message           `json:"messages"`
	Todos          []TodoItem          `json:"todos,omitempty"`
	Files          map[string]FileItem `json:"files,omitempty"`
	Pagination     Pagination          `json:"pagination"`
	SavedAt        string              `json:"savedAt,omitempty"`
}

func CloneConversationSnapshot(in *ConversationSnapshot) *ConversationSnapshot {
	if in == nil {
		return nil
	}
	out := *in
	out.Messages = CloneMessages(in.Messages)
	out.Todos = CloneTodos(in.Todos)
	out.Files = CloneFileMap(in.Files)
	return &out
}
