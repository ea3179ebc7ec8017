package awareness

import (
	"context"
	"errors"
	"sort"
)

// ═══════════════════════════════════════════════════════════════════════════════
// COLLECTIONS
// ═══════════════════════════════════════════════════════════════════════════════

// Collection names one of the durable key spaces. Every adapter stores the
// same three collections; records inside a collection are keyed by context
// id or reference token.
type Collection string

const (
	// CollectionHistory holds contexts promoted past the retention threshold.
	CollectionHistory Collection = "history"
	// CollectionHierarchy holds every non-root context, so an earlier
	// conversation's topic tree can be navigated after a restart.
	CollectionHierarchy Collection = "hierarchy"
	// CollectionReferences holds the flattened recent-reference cache,
	// keyed by the referring token.
	CollectionReferences Collection = "references"
)

var (
	// ErrKeyNotFound is returned by point reads when the collection has no
	// such key.
	ErrKeyNotFound = errors.New("store: key not found")
	// ErrStoreClosed is returned by the memory store's operations after
	// Close; the durable adapters surface their driver's error instead.
	ErrStoreClosed = errors.New("store: closed")
)

// ═══════════════════════════════════════════════════════════════════════════════
// STORE
// ═══════════════════════════════════════════════════════════════════════════════

// Store is the persistence contract the engine writes through. Contexts are
// stored whole per key, so adapters never need partial updates, and every
// write is the truth for that key. ListContexts must return records ordered
// by start time, oldest first, with ties broken by id, so that rebuilding
// history after a restart is deterministic across adapters.
//
// Implementations must be safe for the engine's serialized call pattern but
// are not required to support concurrent callers.
type Store interface {
	PutContext(ctx context.Context, col Collection, rec *Context) error
	GetContext(ctx context.Context, col Collection, id string) (*Context, error)
	DeleteContext(ctx context.Context, col Collection, id string) error
	ListContexts(ctx context.Context, col Collection) ([]*Context, error)

	PutReference(ctx context.Context, token string, rec ReferenceRecord) error
	DeleteReference(ctx context.Context, token string) error
	ListReferences(ctx context.Context) (map[string]ReferenceRecord, error)

	Close() error
}

// sortContexts orders restored records the way ListContexts promises.
func sortContexts(records []*Context) {
	sort.Slice(records, func(i, j int) bool {
		return contextBefore(records[i], records[j])
	})
}

func contextBefore(a, b *Context) bool {
	if !a.StartTime.Equal(b.StartTime) {
		return a.StartTime.Before(b.StartTime)
	}
	return a.ID < b.ID
}
