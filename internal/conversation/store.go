package conversation

import (
	"context"
	"sync"
)

// Store persists conversations by key.
type Store interface {
	Load(ctx context.Context, key string) ([]Message, error)
	// Save replaces the log, keeping the most recent messages.
	Save(ctx context.Context, key string, msgs []Message) error
	Append(ctx context.Context, key string, msgs ...Message) error
	Clear(ctx context.Context, key string) error
}

// MemoryStore keeps conversations in process memory.
type MemoryStore struct {
	mu    sync.Mutex
	limit int
	logs  map[string][]Message
}

func NewMemoryStore(limit int) *MemoryStore {
	if limit <= 0 {
		limit = DefaultLimit
	}
	return &MemoryStore{limit: limit, logs: make(map[string][]Message)}
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Message(nil), s.logs[key]...), nil
}

func (s *MemoryStore) Save(_ context.Context, key string, msgs []Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logs[key] = append([]Message(nil), Cap(msgs, s.limit)...)
	return nil
}

func (s *MemoryStore) Append(_ context.Context, key string, msgs ...Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	all := append(append([]Message(nil), s.logs[key]...), msgs...)
	s.logs[key] = Cap(all, s.limit)
	return nil
}

func (s *MemoryStore) Clear(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.logs, key)
	return nil
}
