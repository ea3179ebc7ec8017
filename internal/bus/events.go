// Package bus is the in-process event channel between the context engine
// and its observers. The engine publishes typed lifecycle events; consumers
// subscribe by type or by wildcard and receive them on their own goroutine.
// Publishing is fire-and-forget: a slow or absent consumer never blocks or
// fails message processing.
package bus

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ═══════════════════════════════════════════════════════════════════════════════
// EVENT TYPES
// ═══════════════════════════════════════════════════════════════════════════════

// EventType identifies what happened. The strings are wire-stable: they are
// serialized to observers and must not change meaning between versions.
type EventType string

const (
	EventContextCreated  EventType = "context-created"
	EventContextUpdated  EventType = "context-updated"
	EventContextSwitched EventType = "context-switched"

	// EventWildcard subscribes to every event type.
	EventWildcard EventType = "*"
)

// ═══════════════════════════════════════════════════════════════════════════════
// PAYLOADS
// ═══════════════════════════════════════════════════════════════════════════════

// ContextCreated announces a new context node in the conversation forest.
type ContextCreated struct {
	ContextID   string `json:"context_id"`
	ContextType string `json:"context_type"`
	Name        string `json:"name,omitempty"`
}

// ContextUpdated reports one processed message's effect on a context:
// which entities and resolved tokens were merged, and whether the message
// also moved the active pointer.
type ContextUpdated struct {
	ContextID     string   `json:"context_id"`
	Entities      []string `json:"entities,omitempty"`
	References    []string `json:"references,omitempty"`
	ContextSwitch bool     `json:"context_switch"`
}

// ContextSwitched reports the active pointer moving between contexts.
type ContextSwitched struct {
	PreviousContextID string  `json:"previous_context_id"`
	NewContextID      string  `json:"new_context_id"`
	Reason            string  `json:"reason,omitempty"`
	Confidence        float64 `json:"confidence,omitempty"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// EVENT ENVELOPE
// ═══════════════════════════════════════════════════════════════════════════════

// Event is the envelope delivered to subscribers. Type names the kind and
// exactly one matching payload pointer is set; the others stay nil and are
// omitted from the serialized form.
type Event struct {
	ID        string    `json:"id"`
	Type      EventType `json:"type"`
	Timestamp time.Time `json:"timestamp"`

	ContextCreated  *ContextCreated  `json:"context_created,omitempty"`
	ContextUpdated  *ContextUpdated  `json:"context_updated,omitempty"`
	ContextSwitched *ContextSwitched `json:"context_switched,omitempty"`
}

var eventSeq atomic.Uint64

func newEvent(t EventType) Event {
	return Event{
		ID:        fmt.Sprintf("evt_%d_%d", time.Now().UnixNano(), eventSeq.Add(1)),
		Type:      t,
		Timestamp: time.Now(),
	}
}

// NewContextCreated wraps a creation payload in an event envelope.
func NewContextCreated(p ContextCreated) Event {
	e := newEvent(EventContextCreated)
	e.ContextCreated = &p
	return e
}

// NewContextUpdated wraps an update payload in an event envelope.
func NewContextUpdated(p ContextUpdated) Event {
	e := newEvent(EventContextUpdated)
	e.ContextUpdated = &p
	return e
}

// NewContextSwitched wraps a switch payload in an event envelope.
func NewContextSwitched(p ContextSwitched) Event {
	e := newEvent(EventContextSwitched)
	e.ContextSwitched = &p
	return e
}
