// Package store persists conversation snapshots so a restarted client can
// show the last known transcript before the stream catches up.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"

	"loom/internal/types"
)

var (
	bucketSnapshots    = []byte("snapshots")
	bucketSnapshotMeta = []byte("snapshot_meta")
)

var ErrSnapshotNotFound = errors.New("snapshot not found")

// SnapshotInfo is the listing row kept alongside each snapshot.
type SnapshotInfo struct {
	ConversationID string `json:"conversationId"`
	Messages       int    `json:"messages"`
	SavedAt        string `json:"savedAt"`
}

type SnapshotStore interface {
	Save(ctx context.Context, snapshot *types.ConversationSnapshot) error
	Load(ctx context.Context, conversationID string) (*types.ConversationSnapshot, bool, error)
	List(ctx context.Context) ([]SnapshotInfo, error)
	Delete(ctx context.Context, conversationID string) error
	Close() error
}

type bboltSnapshotStore struct {
	db *bolt.DB
	mu sync.Mutex
}

func NewBboltSnapshotStore(path string) (SnapshotStore, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("snapshot db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, err
	}
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: 2 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := initSnapshotSchema(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &bboltSnapshotStore{db: db}, nil
}

func initSnapshotSchema(db *bolt.DB) error {
	return db.Update(func(tx *bolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshots); err != nil {
			return err
		}
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshotMeta); err != nil {
			return err
		}
		return nil
	})
}

func (s *bboltSnapshotStore) Save(ctx context.Context, snapshot *types.ConversationSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if snapshot == nil || strings.TrimSpace(snapshot.ConversationID) == "" {
		return errors.New("snapshot requires a conversation id")
	}
	normalized := types.CloneConversationSnapshot(snapshot)
	if normalized.SavedAt == "" {
		normalized.SavedAt = time.Now().UTC().Format(time.RFC3339)
	}
	raw, err := json.Marshal(normalized)
	if err != nil {
		return err
	}
	meta, err := json.Marshal(SnapshotInfo{
		ConversationID: normalized.ConversationID,
		Messages:       len(normalized.Messages),
		SavedAt:        normalized.SavedAt,
	})
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bolt.Tx) error {
		snapshots := tx.Bucket(bucketSnapshots)
		metas := tx.Bucket(bucketSnapshotMeta)
		if snapshots == nil || metas == nil {
			return errors.New("snapshot buckets missing")
		}
		key := []byte(normalized.ConversationID)
		if err := snapshots.Put(key, raw); err != nil {
			return err
		}
		return metas.Put(key, meta)
	})
}

func (s *bboltSnapshotStore) Load(ctx context.Context, conversationID string) (*types.ConversationSnapshot, bool, error) {
	var (
		out *types.ConversationSnapshot
		ok  bool
	)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshots)
		if b == nil {
			return nil
		}
		raw := b.Get([]byte(conversationID))
		if len(raw) == 0 {
			return nil
		}
		var snapshot types.ConversationSnapshot
		if err := json.Unmarshal(raw, &snapshot); err != nil {
			return err
		}
		out = types.CloneConversationSnapshot(&snapshot)
		ok = true
		return nil
	})
	if err != nil {
		return nil, false, err
	}
	return out, ok, nil
}

func (s *bboltSnapshotStore) List(ctx context.Context) ([]SnapshotInfo, error) {
	out := make([]SnapshotInfo, 0)
	err := s.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSnapshotMeta)
		if b == nil {
			return nil
		}
		return b.ForEach(func(_, v []byte) error {
			var info SnapshotInfo
			if err := json.Unmarshal(v, &info); err != nil {
				return err
			}
			out = append(out, info)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].SavedAt == out[j].SavedAt {
			return out[i].ConversationID < out[j].ConversationID
		}
		return out[i].SavedAt > out[j].SavedAt
	})
	return out, nil
}

func (s *bboltSnapshotStore) Delete(ctx context.Context, conversationID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.db.Update(func(tx *bolt.Tx) error {
		snapshots := tx.Bucket(bucketSnapshots)
		metas := tx.Bucket(bucketSnapshotMeta)
		if snapshots == nil || metas == nil {
			return errors.New("snapshot buckets missing")
		}
		key := []byte(conversationID)
		if snapshots.Get(key) == nil {
			return ErrSnapshotNotFound
		}
		if err := snapshots.Delete(key); err != nil {
			return err
		}
		return metas.Delete(key)
	})
}

func (s *bboltSnapshotStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
