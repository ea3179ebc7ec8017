// Package stats aggregates engine events into session-level counters: how
// many messages were applied, how many contexts were created, how often and
// why the active context moved. The collector rides the event bus, so it
// sees exactly what external observers see and costs message processing
// nothing.
package stats

import (
	"sync"
	"time"

	"github.com/halcyonic/contexture/internal/bus"
)

// SessionStats is a point-in-time summary of engine activity since the
// collector started.
type SessionStats struct {
	StartTime          time.Time      `json:"start_time"`
	UptimeSeconds      float64        `json:"uptime_seconds"`
	MessagesProcessed  int            `json:"messages_processed"`
	ContextsCreated    int            `json:"contexts_created"`
	ContextSwitches    int            `json:"context_switches"`
	SwitchesByReason   map[string]int `json:"switches_by_reason,omitempty"`
	EntitiesObserved   int            `json:"entities_observed"`
	ReferencesResolved int            `json:"references_resolved"`
	EventsDropped      uint64         `json:"events_dropped"`
	LastEvent          string         `json:"last_event,omitempty"`
	LastEventTime      time.Time      `json:"last_event_time"`
}

// Collector subscribes to the event bus and keeps running totals. All
// methods are safe for concurrent use.
type Collector struct {
	bus *bus.Bus

	mu      sync.RWMutex
	session SessionStats
	subs    []bus.SubscriptionID
	stopped bool
}

// NewCollector builds a collector on the given bus. A nil bus yields a
// collector that only reports uptime.
func NewCollector(eventBus *bus.Bus) *Collector {
	return &Collector{
		bus: eventBus,
		session: SessionStats{
			StartTime:        time.Now(),
			SwitchesByReason: make(map[string]int),
		},
	}
}

// Start subscribes to the engine's event types. Starting twice, or after
// Stop, does nothing.
func (c *Collector) Start() {
	if c.bus == nil {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped || len(c.subs) > 0 {
		return
	}

	c.subs = append(c.subs,
		c.bus.Subscribe(bus.EventContextCreated, c.handleEvent),
		c.bus.Subscribe(bus.EventContextUpdated, c.handleEvent),
		c.bus.Subscribe(bus.EventContextSwitched, c.handleEvent),
	)
}

// Stop unsubscribes from the bus. Safe to call more than once; events still
// in flight after Stop are discarded.
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}
	c.stopped = true

	for _, id := range c.subs {
		// Unsubscribe only fails for unknown IDs or a closed bus; either
		// way the subscription is already gone.
		_ = c.bus.Unsubscribe(id)
	}
	c.subs = nil
}

// Snapshot returns a copy of the current totals with uptime and the bus drop
// counter filled in.
func (c *Collector) Snapshot() SessionStats {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := c.session
	out.UptimeSeconds = time.Since(c.session.StartTime).Seconds()
	out.SwitchesByReason = make(map[string]int, len(c.session.SwitchesByReason))
	for reason, n := range c.session.SwitchesByReason {
		out.SwitchesByReason[reason] = n
	}
	if c.bus != nil {
		out.EventsDropped = c.bus.Dropped()
	}
	return out
}

func (c *Collector) handleEvent(event bus.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stopped {
		return
	}

	switch {
	case event.ContextCreated != nil:
		c.session.ContextsCreated++
		c.session.LastEvent = "context created"

	case event.ContextUpdated != nil:
		p := event.ContextUpdated
		c.session.MessagesProcessed++
		c.session.EntitiesObserved += len(p.Entities)
		c.session.ReferencesResolved += len(p.References)
		c.session.LastEvent = "message applied"

	case event.ContextSwitched != nil:
		c.session.ContextSwitches++
		if reason := event.ContextSwitched.Reason; reason != "" {
			c.session.SwitchesByReason[reason]++
		}
		c.session.LastEvent = "context switched"
	}
	c.session.LastEventTime = event.Timestamp
}
