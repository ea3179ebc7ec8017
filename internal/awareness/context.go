// Package awareness tracks conversational context across a message stream.
// It maintains a small forest of contexts (session roots with topic children),
// extracts entities and topics from raw text, resolves pronouns against
// recently mentioned entities, detects topic switches, and retains the most
// important contexts in a bounded history backed by a key-value store.
package awareness

import (
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ═══════════════════════════════════════════════════════════════════════════════
// CONTEXT TAXONOMY
// ═══════════════════════════════════════════════════════════════════════════════

// ContextType distinguishes session roots from topic children.
type ContextType string

const (
	ContextSession ContextType = "session" // root of a conversation tree, level 0
	ContextTopic   ContextType = "topic"   // child context created on a topic switch
)

// EntityType classifies what an extracted entity refers to.
type EntityType string

const (
	EntityNamed    EntityType = "named_entity" // capitalized span with no stronger classification
	EntityDate     EntityType = "date"         // calendar date or day reference
	EntityLocation EntityType = "location"     // place name following a locative preposition
	EntityPerson   EntityType = "person"       // known person, set by callers or imports
	EntityGroup    EntityType = "group"        // collective entity, candidate for plural pronouns
)

// Gender tags an entity for gendered pronoun resolution. Tags are learned
// from successful resolutions or supplied by the caller; extraction alone
// never assigns one.
type Gender string

const (
	GenderFemale Gender = "female"
	GenderMale   Gender = "male"
)

// ═══════════════════════════════════════════════════════════════════════════════
// RECORD TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// EntityInfo is everything a context remembers about one entity.
type EntityInfo struct {
	Type          EntityType `json:"type"`
	Confidence    float64    `json:"confidence"`
	LastMentioned time.Time  `json:"last_mentioned"`
	Occurrences   int        `json:"occurrences"`
	Gender        Gender     `json:"gender,omitempty"`
	Plural        bool       `json:"is_plural,omitempty"`
}

// ReferenceRecord stores a resolved pronoun or demonstrative. Entities holds
// one name for a direct match and several for list-style fallbacks.
type ReferenceRecord struct {
	Entities   []string         `json:"entities"`
	Confidence float64          `json:"confidence"`
	Source     ResolutionSource `json:"source"`
	ResolvedAt time.Time        `json:"resolved_at"`
}

// Context is one node in the conversation forest. A session root has level 0
// and no parent; every topic child sits exactly one level below its parent
// and is listed in the parent's Children slice.
//
// EntityOrder preserves insertion order so that recency ties break
// deterministically after a save/load round trip.
type Context struct {
	ID          string                      `json:"id"`
	Name        string                      `json:"name"`
	Type        ContextType                 `json:"type"`
	Level       int                         `json:"level"`
	ParentID    string                      `json:"parent_id,omitempty"`
	Children    []string                    `json:"children,omitempty"`
	Entities    map[string]*EntityInfo      `json:"entities"`
	EntityOrder []string                    `json:"entity_order,omitempty"`
	References  map[string]*ReferenceRecord `json:"references"`
	Topics      []string                    `json:"topics,omitempty"`
	StartTime   time.Time                   `json:"start_time"`
	LastUpdate  time.Time                   `json:"last_update_time"`
	Importance  float64                     `json:"importance"`
}

// EntityMention pairs an entity name with its record for ordered traversal.
type EntityMention struct {
	Name string
	Info *EntityInfo
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONSTRUCTORS
// ═══════════════════════════════════════════════════════════════════════════════

// NewSessionContext creates a level-0 root for a new conversation.
func NewSessionContext(name string, now time.Time) *Context {
	return &Context{
		ID:         uuid.NewString(),
		Name:       name,
		Type:       ContextSession,
		Level:      0,
		Entities:   make(map[string]*EntityInfo),
		References: make(map[string]*ReferenceRecord),
		StartTime:  now,
		LastUpdate: now,
	}
}

// NewTopicContext creates a child one level below parent and links it into
// the parent's child list.
func NewTopicContext(name string, parent *Context, now time.Time) *Context {
	c := &Context{
		ID:         uuid.NewString(),
		Name:       name,
		Type:       ContextTopic,
		Level:      parent.Level + 1,
		ParentID:   parent.ID,
		Entities:   make(map[string]*EntityInfo),
		References: make(map[string]*ReferenceRecord),
		StartTime:  now,
		LastUpdate: now,
	}
	parent.Children = append(parent.Children, c.ID)
	return c
}

// ═══════════════════════════════════════════════════════════════════════════════
// MUTATION
// ═══════════════════════════════════════════════════════════════════════════════

// UpsertEntity merges one extracted entity into the context. A repeat mention
// overwrites type and confidence, bumps the occurrence count, and refreshes
// the mention time; learned gender and plural tags survive the overwrite.
func (c *Context) UpsertEntity(name string, info EntityInfo, now time.Time) {
	if c.Entities == nil {
		c.Entities = make(map[string]*EntityInfo)
	}
	occ := info.Occurrences
	if occ < 1 {
		occ = 1
	}
	if existing, ok := c.Entities[name]; ok {
		existing.Type = info.Type
		existing.Confidence = info.Confidence
		existing.Occurrences += occ
		existing.LastMentioned = now
		if existing.Gender == "" {
			existing.Gender = info.Gender
		}
		existing.Plural = existing.Plural || info.Plural
		return
	}
	c.Entities[name] = &EntityInfo{
		Type:          info.Type,
		Confidence:    info.Confidence,
		LastMentioned: now,
		Occurrences:   occ,
		Gender:        info.Gender,
		Plural:        info.Plural,
	}
	c.EntityOrder = append(c.EntityOrder, name)
}

// RecordReference stores a resolved token, replacing any earlier resolution.
func (c *Context) RecordReference(token string, rec ReferenceRecord) {
	if c.References == nil {
		c.References = make(map[string]*ReferenceRecord)
	}
	copied := rec
	copied.Entities = append([]string(nil), rec.Entities...)
	c.References[token] = &copied
}

// MergeTopics appends topics the context has not seen yet. Comparison is
// case-insensitive so "Basketball" and "basketball" collapse to one entry.
func (c *Context) MergeTopics(topics []string) {
	for _, t := range topics {
		if t == "" || c.HasTopic(t) {
			continue
		}
		c.Topics = append(c.Topics, t)
	}
}

// HasTopic reports whether the context already carries the topic.
func (c *Context) HasTopic(topic string) bool {
	for _, t := range c.Topics {
		if strings.EqualFold(t, topic) {
			return true
		}
	}
	return false
}

// ═══════════════════════════════════════════════════════════════════════════════
// TRAVERSAL
// ═══════════════════════════════════════════════════════════════════════════════

// EntitiesByRecency returns the context's entities ordered by most recent
// mention first. Entities mentioned at the same instant keep their insertion
// order, which makes every downstream recency decision deterministic.
func (c *Context) EntitiesByRecency() []EntityMention {
	mentions := make([]EntityMention, 0, len(c.EntityOrder))
	for _, name := range c.EntityOrder {
		if info, ok := c.Entities[name]; ok {
			mentions = append(mentions, EntityMention{Name: name, Info: info})
		}
	}
	sort.SliceStable(mentions, func(i, j int) bool {
		return mentions[i].Info.LastMentioned.After(mentions[j].Info.LastMentioned)
	})
	return mentions
}

// Clone deep-copies the context so a caller can stage changes and throw them
// away on failure.
func (c *Context) Clone() *Context {
	clone := *c
	clone.Children = append([]string(nil), c.Children...)
	clone.EntityOrder = append([]string(nil), c.EntityOrder...)
	clone.Topics = append([]string(nil), c.Topics...)
	clone.Entities = make(map[string]*EntityInfo, len(c.Entities))
	for name, info := range c.Entities {
		copied := *info
		clone.Entities[name] = &copied
	}
	clone.References = make(map[string]*ReferenceRecord, len(c.References))
	for token, ref := range c.References {
		copied := *ref
		copied.Entities = append([]string(nil), ref.Entities...)
		clone.References[token] = &copied
	}
	return &clone
}
