package credentials

import (
	"context"
	"maps"
	"sync"
)

// MemoryStore keeps the document in process memory. It suits tests and
// single-replica deployments that rebuild from the database on start.
type MemoryStore struct {
	mu   sync.Mutex
	docs map[string]Record
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore returns a store seeded with a copy of initial.
func NewMemoryStore(initial map[string]Record) *MemoryStore {
	docs := make(map[string]Record, len(initial))
	maps.Copy(docs, initial)
	return &MemoryStore{docs: docs}
}

// Load returns a copy of the document.
func (s *MemoryStore) Load(context.Context) (map[string]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return maps.Clone(s.docs), nil
}

// Apply replaces or patches the document in place.
func (s *MemoryStore) Apply(_ context.Context, b Batch) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b.Replace {
		s.docs = maps.Clone(b.Snapshot)
		if s.docs == nil {
			s.docs = map[string]Record{}
		}
		return nil
	}
	maps.Copy(s.docs, b.Upserts)
	for _, token := range b.Deletes {
		delete(s.docs, token)
	}
	return nil
}
