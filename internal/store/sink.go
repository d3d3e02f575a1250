package store

import (
	"context"
	"time"

	"loom/internal/logging"
	"loom/internal/protocol"
	"loom/internal/types"
)

// SnapshotSink persists the conversation whenever a turn or message
// completes. Failures are logged, never surfaced into the stream.
type SnapshotSink struct {
	store SnapshotStore
	log   logging.Logger
}

func NewSnapshotSink(store SnapshotStore, log logging.Logger) *SnapshotSink {
	if log == nil {
		log = logging.Nop()
	}
	return &SnapshotSink{store: store, log: log}
}

func (s *SnapshotSink) StateChanged(state *types.StreamState, event protocol.Event) {
	switch event.(type) {
	case *protocol.DoneEvent, *protocol.MessageEndEvent:
	default:
		return
	}
	if s.store == nil || state == nil || state.ConversationID == "" {
		return
	}
	snapshot := &types.ConversationSnapshot{
		ConversationID: state.ConversationID,
		Messages:       types.CloneMessages(state.Messages),
		Todos:          types.CloneTodos(state.Todos),
		Files:          types.CloneFileMap(state.Files),
		Pagination:     state.Pagination,
		SavedAt:        time.Now().UTC().Format(time.RFC3339),
	}
	if err := s.store.Save(context.Background(), snapshot); err != nil {
		s.log.Warn("snapshot save failed",
			logging.F("conversation", state.ConversationID),
			logging.F("error", err))
	}
}

func (s *SnapshotSink) Notify(types.Notice) {}
