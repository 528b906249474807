package preview

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore keeps previews in process memory
type MemoryStore struct {
	mu      sync.RWMutex
	objects map[string]*Object
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{objects: make(map[string]*Object)}
}

func (s *MemoryStore) Put(ctx context.Context, contentType string, data []byte) (string, error) {
	id := uuid.NewString()
	obj := &Object{ContentType: contentType, Data: append([]byte(nil), data...)}

	s.mu.Lock()
	s.objects[id] = obj
	s.mu.Unlock()
	return id, nil
}

func (s *MemoryStore) Open(ctx context.Context, id string) (*Object, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	obj, ok := s.objects[id]
	if !ok {
		return nil, ErrNotFound
	}
	return obj, nil
}

func (s *MemoryStore) Release(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[id]; !ok {
		return ErrNotFound
	}
	delete(s.objects, id)
	return nil
}

// Len reports how many previews are currently held
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.objects)
}
