package awareness

import (
	"context"
	"sync"
)

// MemoryStore keeps every collection in process memory. It backs tests and
// the --store=memory mode, where durability across runs is not wanted.
// Records are deep-copied both ways so callers can never alias store state.
type MemoryStore struct {
	mu         sync.RWMutex
	contexts   map[Collection]map[string]*Context
	references map[string]ReferenceRecord
	closed     bool
}

// NewMemoryStore builds an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contexts: map[Collection]map[string]*Context{
			CollectionHistory:   {},
			CollectionHierarchy: {},
		},
		references: make(map[string]ReferenceRecord),
	}
}

// PutContext stores a deep copy of the record under its id.
func (s *MemoryStore) PutContext(_ context.Context, col Collection, rec *Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	bucket, ok := s.contexts[col]
	if !ok {
		bucket = make(map[string]*Context)
		s.contexts[col] = bucket
	}
	bucket[rec.ID] = rec.Clone()
	return nil
}

// GetContext returns a deep copy of the stored record.
func (s *MemoryStore) GetContext(_ context.Context, col Collection, id string) (*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.contexts[col][id]
	if !ok {
		return nil, ErrKeyNotFound
	}
	return rec.Clone(), nil
}

// DeleteContext removes the record. Deleting a missing key is not an error.
func (s *MemoryStore) DeleteContext(_ context.Context, col Collection, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.contexts[col], id)
	return nil
}

// ListContexts returns deep copies of the collection, oldest first.
func (s *MemoryStore) ListContexts(_ context.Context, col Collection) ([]*Context, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	records := make([]*Context, 0, len(s.contexts[col]))
	for _, rec := range s.contexts[col] {
		records = append(records, rec.Clone())
	}
	sortContexts(records)
	return records, nil
}

// PutReference stores one token's resolution.
func (s *MemoryStore) PutReference(_ context.Context, token string, rec ReferenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	rec.Entities = append([]string(nil), rec.Entities...)
	s.references[token] = rec
	return nil
}

// DeleteReference drops one token. Missing tokens are not an error.
func (s *MemoryStore) DeleteReference(_ context.Context, token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	delete(s.references, token)
	return nil
}

// ListReferences returns a copy of the whole reference collection.
func (s *MemoryStore) ListReferences(_ context.Context) (map[string]ReferenceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	out := make(map[string]ReferenceRecord, len(s.references))
	for token, rec := range s.references {
		rec.Entities = append([]string(nil), rec.Entities...)
		out[token] = rec
	}
	return out, nil
}

// Close marks the store closed; later calls fail with ErrStoreClosed.
func (s *MemoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}
