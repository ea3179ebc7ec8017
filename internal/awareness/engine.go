package awareness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/halcyonic/contexture/internal/bus"
)

// ═══════════════════════════════════════════════════════════════════════════════
// ERRORS
// ═══════════════════════════════════════════════════════════════════════════════

var (
	// ErrContextNotFound reports a switch target that exists in neither the
	// live hierarchy nor the scored history.
	ErrContextNotFound = errors.New("context not found")

	// ErrPersistence wraps store failures. When an operation returns an error
	// matching this sentinel, none of its in-memory effects were applied.
	ErrPersistence = errors.New("persistence failure")
)

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE CONFIG
// ═══════════════════════════════════════════════════════════════════════════════

// Config assembles the tunables for one engine instance.
type Config struct {
	// SessionName labels the root context created at startup.
	SessionName string           `json:"session_name"`
	Extraction  ExtractionConfig `json:"extraction"`
	Detection   DetectionConfig  `json:"detection"`
	Retention   RetentionConfig  `json:"retention"`
}

// DefaultConfig returns the settings the engine runs with when the caller
// supplies nothing.
func DefaultConfig() Config {
	return Config{
		SessionName: "Current Session",
		Extraction:  DefaultExtractionConfig(),
		Detection:   DefaultDetectionConfig(),
		Retention:   DefaultRetentionConfig(),
	}
}

func normalizeConfig(cfg Config) Config {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.SessionName) == "" {
		cfg.SessionName = def.SessionName
	}
	if cfg.Retention.HistoryCapacity <= 0 {
		cfg.Retention.HistoryCapacity = def.Retention.HistoryCapacity
	}
	if cfg.Retention.LowImportance <= 0 {
		cfg.Retention.LowImportance = def.Retention.LowImportance
	}
	if cfg.Retention.ReferenceCacheCapacity <= 0 {
		cfg.Retention.ReferenceCacheCapacity = def.Retention.ReferenceCacheCapacity
	}
	return cfg
}

// ═══════════════════════════════════════════════════════════════════════════════
// RESULTS
// ═══════════════════════════════════════════════════════════════════════════════

// SwitchRecord summarizes a context switch triggered by a message.
type SwitchRecord struct {
	PreviousID string       `json:"previous_id"`
	NewID      string       `json:"new_id"`
	CreatedNew bool         `json:"created_new"`
	Confidence float64      `json:"confidence"`
	Reason     SwitchReason `json:"reason"`
}

// MessageResult reports everything one processed message changed: what was
// extracted, how references resolved, and whether the active context moved.
type MessageResult struct {
	ContextID   string                 `json:"context_id"`
	ContextName string                 `json:"context_name"`
	Entities    map[string]*EntityInfo `json:"entities,omitempty"`
	Topics      []string               `json:"topics,omitempty"`
	Resolutions []Resolution           `json:"resolutions,omitempty"`
	Switch      *SwitchRecord          `json:"switch,omitempty"`
	Importance  float64                `json:"importance"`
}

// ═══════════════════════════════════════════════════════════════════════════════
// ENGINE
// ═══════════════════════════════════════════════════════════════════════════════

// Engine tracks one conversation: it owns the context hierarchy, the scored
// history, and the recent-reference cache, and it drives extraction,
// resolution, and switch detection for every message.
//
// Mutating operations stage their changes on clones and write them to the
// store before touching engine state, so a failed persist leaves the graph
// exactly as it was. The engine is not safe for concurrent use; callers
// serialize access (the server does this with a single writer loop).
type Engine struct {
	cfg       Config
	store     Store
	bus       *bus.Bus
	extractor *Extractor
	resolver  *Resolver
	detector  *Detector

	history  *History
	recent   *ReferenceCache
	contexts map[string]*Context
	session  *Context
	active   *Context
}

// NewEngine builds an engine on the given store, restores any prior state,
// and opens a fresh session context. A nil store falls back to an in-memory
// one and a nil bus disables events. Restore failures are logged and the
// engine starts fresh rather than refusing to run.
func NewEngine(store Store, eventBus *bus.Bus, cfg Config) *Engine {
	if store == nil {
		store = NewMemoryStore()
	}
	cfg = normalizeConfig(cfg)

	recent := NewReferenceCache(cfg.Retention.ReferenceCacheCapacity)
	e := &Engine{
		cfg:       cfg,
		store:     store,
		bus:       eventBus,
		extractor: NewExtractor(cfg.Extraction),
		resolver:  NewResolver(recent),
		detector:  NewDetector(cfg.Detection),
		history:   NewHistory(cfg.Retention.HistoryCapacity),
		recent:    recent,
		contexts:  make(map[string]*Context),
	}
	e.restore()

	now := time.Now()
	e.session = NewSessionContext(cfg.SessionName, now)
	e.contexts[e.session.ID] = e.session
	e.active = e.session

	e.publish(bus.NewContextCreated(bus.ContextCreated{
		ContextID:   e.session.ID,
		ContextType: string(e.session.Type),
		Name:        e.session.Name,
	}))
	log.Info().
		Str("session", e.session.ID).
		Int("restored_history", e.history.Len()).
		Int("restored_references", e.recent.Len()).
		Msg("context engine started")
	return e
}

// restore reloads history, hierarchy, and cached references from the store.
// Each load degrades independently: a corrupt or empty collection logs a
// warning and the engine continues without it.
func (e *Engine) restore() {
	ctx := context.Background()

	hist, err := e.store.ListContexts(ctx, CollectionHistory)
	if err != nil {
		log.Warn().Err(err).Msg("history restore failed, starting fresh")
	} else {
		for _, c := range hist {
			e.history.Upsert(c)
		}
	}

	tree, err := e.store.ListContexts(ctx, CollectionHierarchy)
	if err != nil {
		log.Warn().Err(err).Msg("hierarchy restore failed, starting fresh")
	} else {
		for _, c := range tree {
			e.contexts[c.ID] = c
		}
	}
	// History entries are the scored copies; make them canonical where both
	// collections hold the same context.
	for _, c := range e.history.All() {
		if _, ok := e.contexts[c.ID]; ok {
			e.contexts[c.ID] = c
		}
	}

	refs, err := e.store.ListReferences(ctx)
	if err != nil {
		log.Warn().Err(err).Msg("reference restore failed, starting fresh")
	} else if len(refs) > 0 {
		e.recent.Restore(refs)
	}
}

// ActiveContext returns the context messages currently merge into.
func (e *Engine) ActiveContext() *Context { return e.active }

// SessionContext returns the root context opened at startup.
func (e *Engine) SessionContext() *Context { return e.session }

// History exposes the scored history, primarily for inspection surfaces.
func (e *Engine) History() *History { return e.history }

// ContextByID finds a context in the live hierarchy or the history.
func (e *Engine) ContextByID(id string) (*Context, bool) {
	if c, ok := e.contexts[id]; ok {
		return c, true
	}
	if c := e.history.FindByID(id); c != nil {
		return c, true
	}
	return nil, false
}

// ═══════════════════════════════════════════════════════════════════════════════
// MESSAGE PROCESSING
// ═══════════════════════════════════════════════════════════════════════════════

// ProcessMessage runs the full pipeline for one message: extract entities and
// topics, resolve referring tokens, detect a context switch, and persist the
// touched contexts. The update is all-or-nothing; on a store failure the
// returned error matches ErrPersistence and nothing in memory changed.
func (e *Engine) ProcessMessage(ctx context.Context, text string) (*MessageResult, error) {
	if strings.TrimSpace(text) == "" {
		return &MessageResult{
			ContextID:   e.active.ID,
			ContextName: e.active.Name,
			Importance:  e.active.Importance,
		}, nil
	}

	now := time.Now()
	mentions := e.extractor.ExtractEntities(text)
	topics := e.extractor.ExtractTopics(text)

	// Stage every mutation on clones. Nothing below touches engine state
	// until the store writes have all succeeded.
	work := e.active.Clone()
	for _, m := range mentions {
		work.UpsertEntity(m.Name, *m.Info, now)
	}
	resolutions, resolvedTokens, pendingRefs := e.resolveReferences(text, work, now)
	work.LastUpdate = now

	// Detection runs against the pre-message topic set, so drift is measured
	// before this message's topics pollute the overlap.
	det := e.detector.Detect(text, topics, work, e.history)

	var target *Context
	createdNew := false
	switch {
	case !det.Detected:
		work.MergeTopics(topics)
	case det.Target != nil:
		t := det.Target
		if live, ok := e.contexts[t.ID]; ok {
			t = live
		}
		target = t.Clone()
		target.MergeTopics(topics)
		target.LastUpdate = now
	default:
		target = NewTopicContext(det.NewChildName, work, now)
		target.MergeTopics(append([]string{det.NewChildName}, topics...))
		createdNew = true
	}

	scratch := e.history.clone()
	plans := []*persistPlan{stagePersist(scratch, work, now, e.cfg.Retention.LowImportance)}
	if target != nil {
		plans = append(plans, stagePersist(scratch, target, now, e.cfg.Retention.LowImportance))
	}
	if err := e.writePlans(ctx, plans, pendingRefs); err != nil {
		return nil, err
	}
	e.commit(ctx, scratch, work, target, pendingRefs)

	if createdNew {
		e.publish(bus.NewContextCreated(bus.ContextCreated{
			ContextID:   target.ID,
			ContextType: string(target.Type),
			Name:        target.Name,
		}))
	}
	e.publish(bus.NewContextUpdated(bus.ContextUpdated{
		ContextID:     work.ID,
		Entities:      mentionNames(mentions),
		References:    resolvedTokens,
		ContextSwitch: target != nil,
	}))
	if target != nil {
		e.publish(bus.NewContextSwitched(bus.ContextSwitched{
			PreviousContextID: work.ID,
			NewContextID:      target.ID,
			Reason:            string(det.Reason),
			Confidence:        det.Confidence,
		}))
		log.Info().
			Str("from", work.ID).
			Str("to", target.ID).
			Str("reason", string(det.Reason)).
			Float64("confidence", det.Confidence).
			Msg("context switched")
	}

	result := &MessageResult{
		ContextID:   e.active.ID,
		ContextName: e.active.Name,
		Entities:    mentionMap(mentions),
		Topics:      topics,
		Resolutions: resolutions,
		Importance:  work.Importance,
	}
	if target != nil {
		result.Switch = &SwitchRecord{
			PreviousID: work.ID,
			NewID:      target.ID,
			CreatedNew: createdNew,
			Confidence: det.Confidence,
			Reason:     det.Reason,
		}
	}
	log.Debug().
		Str("context", e.active.ID).
		Int("entities", len(mentions)).
		Int("topics", len(topics)).
		Int("references", len(resolvedTokens)).
		Msg("message processed")
	return result, nil
}

// resolveReferences resolves each distinct referring token against the staged
// context, records successful resolutions on it, and collects the cache puts
// to apply at commit time. A gendered pronoun that lands on a single entity
// teaches that entity its gender for later messages.
func (e *Engine) resolveReferences(text string, work *Context, now time.Time) ([]Resolution, []string, []pendingRef) {
	var (
		resolutions []Resolution
		resolved    []string
		pending     []pendingRef
	)
	for _, token := range ReferringTokens(text) {
		res := e.resolver.Resolve(token, work)
		resolutions = append(resolutions, res)
		if !res.Resolved() {
			log.Debug().Str("token", token).Msg("reference unresolved")
			continue
		}
		rec := ReferenceRecord{
			Entities:   res.Entities,
			Confidence: res.Confidence,
			Source:     res.Source,
			ResolvedAt: now,
		}
		work.RecordReference(res.Token, rec)
		resolved = append(resolved, res.Token)
		pending = append(pending, pendingRef{token: res.Token, rec: rec})

		if pc, ok := classOfToken(res.Token); ok && pc.kind == pronounGendered && len(res.Entities) == 1 {
			if info, exists := work.Entities[res.Entities[0]]; exists && info.Gender == "" {
				info.Gender = pc.gender
			}
		}
	}
	return resolutions, resolved, pending
}

// ═══════════════════════════════════════════════════════════════════════════════
// STAGED PERSISTENCE
// ═══════════════════════════════════════════════════════════════════════════════

type pendingRef struct {
	token string
	rec   ReferenceRecord
}

// persistPlan captures the retention outcome for one staged context: whether
// it belongs in history and who its insert evicts.
type persistPlan struct {
	c         *Context
	inHistory bool
	evicted   *Context
}

// stagePersist rescores the context and applies its retention effect to the
// scratch history, returning the plan the durable writes will follow.
func stagePersist(scratch *History, c *Context, now time.Time, lowImportance float64) *persistPlan {
	c.Importance = ScoreContext(c, now)
	plan := &persistPlan{c: c}
	if c.Importance >= lowImportance {
		plan.inHistory = true
		plan.evicted = scratch.Upsert(c)
	}
	return plan
}

// writePlans applies the staged plans and reference records to the store.
// Non-root contexts always land in the hierarchy collection; history writes
// follow the plan. Any failure aborts the whole update.
func (e *Engine) writePlans(ctx context.Context, plans []*persistPlan, refs []pendingRef) error {
	for _, p := range plans {
		if p.c.Level > 0 {
			if err := e.store.PutContext(ctx, CollectionHierarchy, p.c); err != nil {
				return fmt.Errorf("%w: hierarchy write for %s: %w", ErrPersistence, p.c.ID, err)
			}
		}
		if !p.inHistory {
			continue
		}
		selfEvicted := p.evicted != nil && p.evicted.ID == p.c.ID
		if !selfEvicted {
			if err := e.store.PutContext(ctx, CollectionHistory, p.c); err != nil {
				return fmt.Errorf("%w: history write for %s: %w", ErrPersistence, p.c.ID, err)
			}
		}
		if p.evicted != nil && !selfEvicted {
			if err := e.store.DeleteContext(ctx, CollectionHistory, p.evicted.ID); err != nil {
				return fmt.Errorf("%w: history eviction of %s: %w", ErrPersistence, p.evicted.ID, err)
			}
		}
	}
	for _, r := range refs {
		if err := e.store.PutReference(ctx, r.token, r.rec); err != nil {
			return fmt.Errorf("%w: reference write for %q: %w", ErrPersistence, r.token, err)
		}
	}
	return nil
}

// commit swaps the staged state in. Called only after every durable write
// succeeded.
func (e *Engine) commit(ctx context.Context, scratch *History, work, target *Context, refs []pendingRef) {
	e.history = scratch
	e.contexts[work.ID] = work
	if e.session.ID == work.ID {
		e.session = work
	}
	e.active = work
	if target != nil {
		e.contexts[target.ID] = target
		if e.session.ID == target.ID {
			e.session = target
		}
		e.active = target
	}
	for _, r := range refs {
		if stale := e.recent.Put(r.token, r.rec); stale != "" {
			if err := e.store.DeleteReference(ctx, stale); err != nil {
				log.Warn().Err(err).Str("token", stale).Msg("failed to trim evicted reference")
			}
		}
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SWITCHING, RETRIEVAL, SHUTDOWN
// ═══════════════════════════════════════════════════════════════════════════════

// SwitchContext makes the identified context active, persisting the current
// one first. The target may live in the hierarchy, the history, or, for
// contexts from earlier runs, the hierarchy collection on disk.
func (e *Engine) SwitchContext(ctx context.Context, id string) error {
	if id == e.active.ID {
		return nil
	}
	now := time.Now()

	target, ok := e.contexts[id]
	if !ok {
		target = e.history.FindByID(id)
	}
	if target == nil {
		rec, err := e.store.GetContext(ctx, CollectionHierarchy, id)
		switch {
		case errors.Is(err, ErrKeyNotFound):
			return fmt.Errorf("switch to %s: %w", id, ErrContextNotFound)
		case err != nil:
			return fmt.Errorf("%w: hierarchy lookup for %s: %w", ErrPersistence, id, err)
		}
		target = rec
	}

	work := e.active.Clone()
	next := target.Clone()
	next.LastUpdate = now

	scratch := e.history.clone()
	plans := []*persistPlan{
		stagePersist(scratch, work, now, e.cfg.Retention.LowImportance),
		stagePersist(scratch, next, now, e.cfg.Retention.LowImportance),
	}
	if err := e.writePlans(ctx, plans, nil); err != nil {
		return err
	}
	e.commit(ctx, scratch, work, next, nil)

	e.publish(bus.NewContextSwitched(bus.ContextSwitched{
		PreviousContextID: work.ID,
		NewContextID:      next.ID,
		Reason:            "manual",
	}))
	log.Info().Str("from", work.ID).Str("to", next.ID).Msg("manual context switch")
	return nil
}

// RetrieveContext scores the history against the query's topics and returns
// the most relevant contexts, best first.
func (e *Engine) RetrieveContext(query string) []RetrievedContext {
	topics := e.extractor.ExtractTopics(query)
	results := e.history.Retrieve(topics, time.Now(), 0)
	log.Debug().
		Str("query", truncate(query, 48)).
		Int("topics", len(topics)).
		Int("results", len(results)).
		Msg("context retrieval")
	return results
}

// Close persists the active context one final time. The store belongs to the
// caller and stays open.
func (e *Engine) Close(ctx context.Context) error {
	now := time.Now()
	work := e.active.Clone()
	scratch := e.history.clone()
	plan := stagePersist(scratch, work, now, e.cfg.Retention.LowImportance)
	if err := e.writePlans(ctx, []*persistPlan{plan}, nil); err != nil {
		return err
	}
	e.commit(ctx, scratch, work, nil, nil)
	log.Debug().Str("context", work.ID).Msg("context engine closed")
	return nil
}

func (e *Engine) publish(ev bus.Event) {
	if e.bus == nil {
		return
	}
	if err := e.bus.Publish(ev); err != nil {
		log.Warn().Err(err).Str("event", string(ev.Type)).Msg("event publish failed")
	}
}

func mentionNames(mentions []EntityMention) []string {
	if len(mentions) == 0 {
		return nil
	}
	names := make([]string, len(mentions))
	for i, m := range mentions {
		names[i] = m.Name
	}
	return names
}

func mentionMap(mentions []EntityMention) map[string]*EntityInfo {
	if len(mentions) == 0 {
		return nil
	}
	out := make(map[string]*EntityInfo, len(mentions))
	for _, m := range mentions {
		info := *m.Info
		out[m.Name] = &info
	}
	return out
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max] + "..."
}
