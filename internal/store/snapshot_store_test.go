package store

import (
	"context"
	"path/filepath"
	"testing"

	"loom/internal/protocol"
	"loom/internal/types"
)

func TestBboltSnapshotStoreCRUD(t *testing.T) {
	s, err := NewBboltSnapshotStore(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("NewBboltSnapshotStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	snapshot := &types.ConversationSnapshot{
		ConversationID: "c1",
		Messages: []types.Message{
			{ID: "m1", Role: types.RoleUser, Content: "hello"},
			{
				ID: "m2", Role: types.RoleAssistant, Content: "hi there",
				ContentBlocks: types.Blocks{
					&types.TextBlock{Content: "hi there"},
					&types.ToolCallBlock{ToolCallID: "tc1", ToolName: "bash", Status: types.ToolCallStatusSuccess},
				},
			},
		},
		Todos: []types.TodoItem{{ID: "t1", Content: "ship it", Status: types.TodoStatusInProgress}},
		Files: map[string]types.FileItem{
			"/a.txt": {Path: "/a.txt", Content: "x", Editable: true},
		},
		Pagination: types.Pagination{HasMore: true, NextCursor: "cur-1"},
	}
	if err := s.Save(ctx, snapshot); err != nil {
		t.Fatalf("save: %v", err)
	}

	loaded, ok, err := s.Load(ctx, "c1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !ok {
		t.Fatalf("expected snapshot for c1")
	}
	if len(loaded.Messages) != 2 || loaded.Messages[1].Content != "hi there" {
		t.Fatalf("unexpected messages: %#v", loaded.Messages)
	}
	blocks := loaded.Messages[1].ContentBlocks
	if len(blocks) != 2 {
		t.Fatalf("blocks did not survive the round trip: %#v", blocks)
	}
	if _, ok := blocks[0].(*types.TextBlock); !ok {
		t.Fatalf("expected a text block, got %#v", blocks[0])
	}
	if tool, ok := blocks[1].(*types.ToolCallBlock); !ok || tool.ToolCallID != "tc1" || tool.Status != types.ToolCallStatusSuccess {
		t.Fatalf("expected the tool block intact, got %#v", blocks[1])
	}
	if loaded.Files["/a.txt"].Content != "x" {
		t.Fatalf("unexpected files: %#v", loaded.Files)
	}
	if !loaded.Pagination.HasMore || loaded.Pagination.NextCursor != "cur-1" {
		t.Fatalf("unexpected pagination: %#v", loaded.Pagination)
	}
	if loaded.SavedAt == "" {
		t.Fatalf("expected saved timestamp")
	}

	infos, err := s.List(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 1 || infos[0].ConversationID != "c1" || infos[0].Messages != 2 {
		t.Fatalf("unexpected infos: %#v", infos)
	}

	if err := s.Delete(ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, ok, err := s.Load(ctx, "c1"); err != nil || ok {
		t.Fatalf("expected snapshot gone: ok=%v err=%v", ok, err)
	}
	if err := s.Delete(ctx, "c1"); err != ErrSnapshotNotFound {
		t.Fatalf("expected ErrSnapshotNotFound, got %v", err)
	}
}

func TestSnapshotStoreSaveValidation(t *testing.T) {
	s, err := NewBboltSnapshotStore(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("NewBboltSnapshotStore: %v", err)
	}
	defer s.Close()

	if err := s.Save(context.Background(), &types.ConversationSnapshot{}); err == nil {
		t.Fatalf("expected error for snapshot without conversation id")
	}
}

func TestSnapshotSinkPersistsOnTurnCompletion(t *testing.T) {
	s, err := NewBboltSnapshotStore(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("NewBboltSnapshotStore: %v", err)
	}
	defer s.Close()
	ctx := context.Background()

	sink := NewSnapshotSink(s, nil)
	state := &types.StreamState{
		ConversationID: "c1",
		Messages: []types.Message{
			{ID: "m1", Role: types.RoleAssistant, Content: "partial"},
		},
	}

	sink.StateChanged(state, &protocol.ContentDeltaEvent{MessageID: "m1", Delta: "partial"})
	if _, ok, err := s.Load(ctx, "c1"); err != nil || ok {
		t.Fatalf("expected no snapshot after delta, got ok=%v err=%v", ok, err)
	}

	sink.StateChanged(state, &protocol.DoneEvent{TurnID: "turn-1"})
	snapshot, ok, err := s.Load(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("expected snapshot after done, got ok=%v err=%v", ok, err)
	}
	if len(snapshot.Messages) != 1 || snapshot.Messages[0].Content != "partial" {
		t.Fatalf("unexpected persisted messages: %#v", snapshot.Messages)
	}
	if snapshot.SavedAt == "" {
		t.Fatalf("expected SavedAt to be set")
	}

	state.Messages[0].Content = "partial plus more"
	sink.StateChanged(state, &protocol.MessageEndEvent{MessageID: "m1", Content: "partial plus more"})
	snapshot, ok, err = s.Load(ctx, "c1")
	if err != nil || !ok {
		t.Fatalf("Load after message_end: ok=%v err=%v", ok, err)
	}
	if snapshot.Messages[0].Content != "partial plus more" {
		t.Fatalf("expected refreshed snapshot, got %q", snapshot.Messages[0].Content)
	}

	sink.StateChanged(&types.StreamState{}, &protocol.DoneEvent{})
	if _, ok, _ := s.Load(ctx, ""); ok {
		t.Fatalf("expected no snapshot for empty conversation id")
	}
}
