package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/grim-sudo/Automation/internal/conversation"
)

type memorySnapshot struct {
	info SnapshotInfo
	ctx  *conversation.Context
}

// MemoryStore keeps snapshots in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	order []string
	snaps map[string]memorySnapshot
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]memorySnapshot)}
}

func (s *MemoryStore) Save(ctx context.Context, c *conversation.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	id := uuid.NewString()
	snap := memorySnapshot{
		info: SnapshotInfo{ID: id, SessionID: c.SessionID, Turn: c.TurnIndex, CreatedAt: time.Now()},
		ctx:  c.Clone(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[id] = snap
	s.order = append(s.order, id)
	return id, nil
}

func (s *MemoryStore) Load(ctx context.Context, id string) (*conversation.Context, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[id]
	if !ok {
		return nil, ErrNotFound
	}
	return snap.ctx.Clone(), nil
}

func (s *MemoryStore) List(ctx context.Context, sessionID string) ([]SnapshotInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []SnapshotInfo
	for i := len(s.order) - 1; i >= 0; i-- {
		if info := s.snaps[s.order[i]].info; info.SessionID == sessionID {
			out = append(out, info)
		}
	}
	return out, nil
}

func (s *MemoryStore) Close() error { return nil }
