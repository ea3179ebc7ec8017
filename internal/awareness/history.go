package awareness

import (
	"sort"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RETENTION CONFIG
// ═══════════════════════════════════════════════════════════════════════════════

// RetentionConfig bounds how much conversational state the engine keeps.
type RetentionConfig struct {
	// HistoryCapacity is the maximum number of contexts retained in history.
	HistoryCapacity int
	// LowImportance is the score below which a context is not worth a
	// history slot.
	LowImportance float64
	// ReferenceCacheCapacity bounds the cross-context recent-reference cache.
	ReferenceCacheCapacity int
}

// DefaultRetentionConfig returns the stock retention settings.
func DefaultRetentionConfig() RetentionConfig {
	return RetentionConfig{
		HistoryCapacity:        100,
		LowImportance:          0.3,
		ReferenceCacheCapacity: 50,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// HISTORY
// ═══════════════════════════════════════════════════════════════════════════════

// History is the bounded, insertion-ordered set of contexts that scored past
// the retention threshold. It is not safe for concurrent use; the engine
// serializes all access.
type History struct {
	entries  []*Context
	capacity int
}

// NewHistory builds a history bounded at capacity entries.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultRetentionConfig().HistoryCapacity
	}
	return &History{capacity: capacity}
}

// Len returns the number of retained contexts.
func (h *History) Len() int { return len(h.entries) }

// All returns the retained contexts in insertion order. The slice is a copy;
// the contexts are not.
func (h *History) All() []*Context {
	return append([]*Context(nil), h.entries...)
}

// FindByID returns the retained context with the given id, or nil.
func (h *History) FindByID(id string) *Context {
	for _, c := range h.entries {
		if c.ID == id {
			return c
		}
	}
	return nil
}

// FindByTopic returns the first retained context carrying the topic,
// compared case-insensitively, or nil.
func (h *History) FindByTopic(topic string) *Context {
	for _, c := range h.entries {
		if c.HasTopic(topic) {
			return c
		}
	}
	return nil
}

// Upsert inserts the context or replaces the entry with the same id in
// place, keeping insertion order stable. When the insert pushes the history
// past capacity, the single lowest-importance entry is evicted and returned;
// on a tie the oldest of the tied entries goes. The evicted entry can be the
// one just inserted.
func (h *History) Upsert(c *Context) (evicted *Context) {
	for i, e := range h.entries {
		if e.ID == c.ID {
			h.entries[i] = c
			return nil
		}
	}
	evicted = h.planEviction(c)
	h.entries = append(h.entries, c)
	if evicted == nil {
		return nil
	}
	for i, e := range h.entries {
		if e == evicted {
			h.entries = append(h.entries[:i], h.entries[i+1:]...)
			break
		}
	}
	return evicted
}

// planEviction reports which entry inserting c would evict, without
// mutating the history. Replacements never evict.
func (h *History) planEviction(c *Context) *Context {
	for _, e := range h.entries {
		if e.ID == c.ID {
			return nil
		}
	}
	if len(h.entries)+1 <= h.capacity {
		return nil
	}
	victim := h.entries[0]
	for _, e := range h.entries[1:] {
		if e.Importance < victim.Importance {
			victim = e
		}
	}
	if c.Importance < victim.Importance {
		victim = c
	}
	return victim
}

// clone returns a history sharing the same context pointers but with a
// private entry slice, so retention effects can be staged and thrown away.
func (h *History) clone() *History {
	return &History{
		entries:  append([]*Context(nil), h.entries...),
		capacity: h.capacity,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// RETRIEVAL
// ═══════════════════════════════════════════════════════════════════════════════

// retrievalWindow is how long a context still earns recency credit in
// retrieval scoring.
const retrievalWindow = 7 * 24 * time.Hour

// RetrievedContext pairs a history context with its relevance to a query.
type RetrievedContext struct {
	Context   *Context `json:"context"`
	Relevance float64  `json:"relevance"`
}

// Retrieve scores every retained context against the query topics and
// returns the top limit matches, best first. Relevance blends topic overlap
// (weight 0.5), recency inside a seven-day window (0.3), and the stored
// importance (0.2). Ties keep history order.
func (h *History) Retrieve(topics []string, now time.Time, limit int) []RetrievedContext {
	if limit <= 0 {
		limit = 3
	}
	scored := make([]RetrievedContext, 0, len(h.entries))
	for _, c := range h.entries {
		age := now.Sub(c.LastUpdate)
		recency := 1 - float64(age)/float64(retrievalWindow)
		if recency < 0 {
			recency = 0
		}
		if recency > 1 {
			recency = 1
		}
		relevance := 0.5*topicOverlap(topics, c.Topics) + 0.3*recency + 0.2*c.Importance
		scored = append(scored, RetrievedContext{Context: c, Relevance: relevance})
	}
	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Relevance > scored[j].Relevance
	})
	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
