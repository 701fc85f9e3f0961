package store

import (
	"context"
	"sync"
)

// MemoryStore is an in-process Store useful for tests.
// It is not intended for production use.
type MemoryStore struct {
	locks lockSet

	mu   sync.RWMutex
	docs map[string][]byte
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string][]byte)}
}

func (s *MemoryStore) Read(ctx context.Context, name string) ([]byte, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	mu := s.locks.get(name)
	mu.Lock()
	defer mu.Unlock()
	return s.get(name), nil
}

func (s *MemoryStore) Write(ctx context.Context, name string, doc []byte) error {
	if err := checkName(name); err != nil {
		return err
	}
	mu := s.locks.get(name)
	mu.Lock()
	defer mu.Unlock()
	s.put(name, doc)
	return nil
}

func (s *MemoryStore) Update(ctx context.Context, name string, fn UpdateFunc) error {
	if err := checkName(name); err != nil {
		return err
	}
	mu := s.locks.get(name)
	mu.Lock()
	defer mu.Unlock()

	next, err := fn(s.get(name))
	if err != nil || next == nil {
		return err
	}
	s.put(name, next)
	return nil
}

func (s *MemoryStore) get(name string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.docs[name]
	if !ok {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (s *MemoryStore) put(name string, doc []byte) {
	cp := make([]byte, len(doc))
	copy(cp, doc)
	s.mu.Lock()
	s.docs[name] = cp
	s.mu.Unlock()
}
