package awareness

import (
	"strings"
	"unicode"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RESOLUTION TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// ResolutionSource names the ladder rung that produced a resolution. The
// values are wire-stable: they are persisted inside reference records and
// surfaced in events.
type ResolutionSource string

const (
	SourceCurrentContext   ResolutionSource = "current_context"   // prior resolution in the active context
	SourceRecentReferences ResolutionSource = "recent_references" // cross-context recent-reference cache
	SourceGenderMatch      ResolutionSource = "gender_match"      // gendered pronoun matched a tagged entity
	SourceRecentNonPerson  ResolutionSource = "recent_non_person" // neutral pronoun matched a non-person
	SourcePluralMatch      ResolutionSource = "plural_match"      // plural token matched a plural or group entity
	SourceRecentEntities   ResolutionSource = "recent_entities"   // list fallback over the most recent mentions
	SourceRecentSingular   ResolutionSource = "recent_singular"   // demonstrative matched the latest singular entity
	SourceUnresolved       ResolutionSource = "unresolved"
)

// Resolution is the outcome of resolving one referring token. Entities holds
// a single name for direct matches and several for the list fallbacks; an
// unresolved token carries no entities and zero confidence.
type Resolution struct {
	Token      string           `json:"token"`
	Entities   []string         `json:"entities,omitempty"`
	Confidence float64          `json:"confidence"`
	Source     ResolutionSource `json:"source"`
}

// Resolved reports whether the token was bound to at least one entity.
func (r Resolution) Resolved() bool {
	return r.Source != SourceUnresolved && len(r.Entities) > 0
}

// ═══════════════════════════════════════════════════════════════════════════════
// REFERENCE CACHE
// ═══════════════════════════════════════════════════════════════════════════════

// ReferenceCache keeps the most recent resolutions across every context so a
// pronoun can survive a topic switch. It is bounded: inserting into a full
// cache drops the stalest entry, with ties broken by token so eviction stays
// deterministic.
type ReferenceCache struct {
	entries  map[string]*ReferenceRecord
	capacity int
}

// NewReferenceCache builds a cache holding at most capacity tokens.
func NewReferenceCache(capacity int) *ReferenceCache {
	if capacity <= 0 {
		capacity = 50
	}
	return &ReferenceCache{
		entries:  make(map[string]*ReferenceRecord, capacity),
		capacity: capacity,
	}
}

// Lookup returns the cached resolution for a normalized token.
func (rc *ReferenceCache) Lookup(token string) (*ReferenceRecord, bool) {
	rec, ok := rc.entries[token]
	return rec, ok
}

// Put inserts or refreshes a token, evicting the stalest entry when full.
// It returns the evicted token, or "" when nothing was dropped, so callers
// can mirror the eviction onto durable storage.
func (rc *ReferenceCache) Put(token string, rec ReferenceRecord) (evicted string) {
	if _, exists := rc.entries[token]; !exists && len(rc.entries) >= rc.capacity {
		evicted = rc.evictStalest()
	}
	copied := rec
	copied.Entities = append([]string(nil), rec.Entities...)
	rc.entries[token] = &copied
	return evicted
}

func (rc *ReferenceCache) evictStalest() string {
	var victim string
	for token, rec := range rc.entries {
		if victim == "" {
			victim = token
			continue
		}
		cur := rc.entries[victim]
		if rec.ResolvedAt.Before(cur.ResolvedAt) ||
			(rec.ResolvedAt.Equal(cur.ResolvedAt) && token < victim) {
			victim = token
		}
	}
	if victim != "" {
		delete(rc.entries, victim)
	}
	return victim
}

// Len returns the number of cached tokens.
func (rc *ReferenceCache) Len() int {
	return len(rc.entries)
}

// Snapshot copies the cache contents for persistence.
func (rc *ReferenceCache) Snapshot() map[string]ReferenceRecord {
	out := make(map[string]ReferenceRecord, len(rc.entries))
	for token, rec := range rc.entries {
		copied := *rec
		copied.Entities = append([]string(nil), rec.Entities...)
		out[token] = copied
	}
	return out
}

// Restore replaces the cache contents, trimming to capacity if the stored
// snapshot came from a larger configuration.
func (rc *ReferenceCache) Restore(entries map[string]ReferenceRecord) {
	rc.entries = make(map[string]*ReferenceRecord, len(entries))
	for token, rec := range entries {
		rc.Put(token, rec)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// RESOLVER
// ═══════════════════════════════════════════════════════════════════════════════

// Resolver binds pronouns and demonstratives to recently mentioned entities.
// Resolution walks a fixed ladder and the first rung that matches wins:
//
//  1. an exact prior resolution stored on the context (confidence x0.9)
//  2. the cross-context recent-reference cache (confidence x0.8)
//  3. a class heuristic over the context's entities, most recent first
//  4. unresolved, with zero confidence
//
// Resolve never mutates the context or the cache; recording successful
// resolutions is the engine's job, which keeps the ladder a pure function of
// the state it is shown.
type Resolver struct {
	recent *ReferenceCache
}

// NewResolver builds a resolver backed by the given recent-reference cache.
func NewResolver(recent *ReferenceCache) *Resolver {
	return &Resolver{recent: recent}
}

// Resolve maps one referring token against the context's references, the
// recent cache, and the pronoun class heuristics.
func (r *Resolver) Resolve(token string, ctx *Context) Resolution {
	norm := normalizeToken(token)
	if norm == "" {
		return unresolved(norm)
	}

	if rec, ok := ctx.References[norm]; ok {
		return Resolution{
			Token:      norm,
			Entities:   append([]string(nil), rec.Entities...),
			Confidence: rec.Confidence * 0.9,
			Source:     SourceCurrentContext,
		}
	}

	if r.recent != nil {
		if rec, ok := r.recent.Lookup(norm); ok {
			return Resolution{
				Token:      norm,
				Entities:   append([]string(nil), rec.Entities...),
				Confidence: rec.Confidence * 0.8,
				Source:     SourceRecentReferences,
			}
		}
	}

	pc, ok := classOfToken(norm)
	if !ok {
		return unresolved(norm)
	}

	recent := ctx.EntitiesByRecency()
	switch pc.kind {
	case pronounGendered:
		for _, m := range recent {
			if m.Info.Gender == pc.gender {
				return match(norm, 0.7, SourceGenderMatch, m.Name)
			}
		}

	case pronounNeutral:
		for _, m := range recent {
			if m.Info.Type != EntityPerson {
				return match(norm, 0.6, SourceRecentNonPerson, m.Name)
			}
		}

	case pronounPlural:
		for _, m := range recent {
			if m.Info.Plural || m.Info.Type == EntityGroup {
				return match(norm, 0.6, SourcePluralMatch, m.Name)
			}
		}
		if len(recent) >= 2 {
			return match(norm, 0.5, SourceRecentEntities, recent[0].Name, recent[1].Name)
		}

	case pronounDemonstrative:
		for _, m := range recent {
			if !m.Info.Plural {
				return match(norm, 0.5, SourceRecentSingular, m.Name)
			}
		}

	case pronounDemonstrativePlural:
		for _, m := range recent {
			if m.Info.Plural || m.Info.Type == EntityGroup {
				return match(norm, 0.5, SourcePluralMatch, m.Name)
			}
		}
		if len(recent) >= 1 {
			names := make([]string, 0, 3)
			for i := 0; i < len(recent) && i < 3; i++ {
				names = append(names, recent[i].Name)
			}
			return match(norm, 0.4, SourceRecentEntities, names...)
		}
	}

	return unresolved(norm)
}

func match(token string, confidence float64, source ResolutionSource, entities ...string) Resolution {
	return Resolution{
		Token:      token,
		Entities:   entities,
		Confidence: confidence,
		Source:     source,
	}
}

func unresolved(token string) Resolution {
	return Resolution{Token: token, Source: SourceUnresolved}
}

// ReferringTokens returns the distinct pronouns and demonstratives in the
// text, in order of first appearance.
func ReferringTokens(text string) []string {
	seen := make(map[string]bool)
	var tokens []string
	for _, w := range tokenizeWords(text) {
		if _, ok := classOfToken(w); !ok {
			continue
		}
		if seen[w] {
			continue
		}
		seen[w] = true
		tokens = append(tokens, w)
	}
	return tokens
}

func normalizeToken(token string) string {
	return strings.TrimFunc(strings.ToLower(token), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
