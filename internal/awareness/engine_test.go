package awareness

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/halcyonic/contexture/internal/bus"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	return NewEngine(NewMemoryStore(), nil, DefaultConfig())
}

// brittleStore wraps a memory store and fails every write on demand, so
// tests can prove that a failed persist leaves the engine untouched.
type brittleStore struct {
	*MemoryStore
	failWrites bool
}

func (s *brittleStore) PutContext(ctx context.Context, col Collection, rec *Context) error {
	if s.failWrites {
		return errors.New("disk full")
	}
	return s.MemoryStore.PutContext(ctx, col, rec)
}

func (s *brittleStore) PutReference(ctx context.Context, token string, rec ReferenceRecord) error {
	if s.failWrites {
		return errors.New("disk full")
	}
	return s.MemoryStore.PutReference(ctx, token, rec)
}

func TestEngine_StartsWithSessionRoot(t *testing.T) {
	e := newTestEngine(t)

	active := e.ActiveContext()
	require.NotNil(t, active)
	assert.Same(t, e.SessionContext(), active)
	assert.Equal(t, ContextSession, active.Type)
	assert.Equal(t, 0, active.Level)
	assert.Equal(t, "Current Session", active.Name)
	assert.NotEmpty(t, active.ID)

	named := NewEngine(nil, nil, Config{SessionName: "design review"})
	assert.Equal(t, "design review", named.ActiveContext().Name)
}

func TestEngine_ProcessMessage_MergesEntities(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	res, err := e.ProcessMessage(ctx, "My name is Alice.")
	require.NoError(t, err)
	assert.Equal(t, e.ActiveContext().ID, res.ContextID)
	assert.Nil(t, res.Switch)
	require.Contains(t, res.Entities, "Alice")
	assert.Equal(t, EntityNamed, res.Entities["Alice"].Type)

	_, err = e.ProcessMessage(ctx, "Alice is working with Bob in Boston.")
	require.NoError(t, err)

	active := e.ActiveContext()
	require.Contains(t, active.Entities, "Alice")
	assert.Equal(t, 2, active.Entities["Alice"].Occurrences)
	require.Contains(t, active.Entities, "Bob")
	require.Contains(t, active.Entities, "Boston")
	assert.Equal(t, EntityLocation, active.Entities["Boston"].Type)
	assert.Equal(t, []string{"Alice", "Bob", "Boston"}, active.EntityOrder)
}

func TestEngine_ProcessMessage_ResolvesGenderedReference(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.ProcessMessage(ctx, "My name is Alice.")
	require.NoError(t, err)

	// Tag the gender the way a caller with richer knowledge would.
	e.ActiveContext().Entities["Alice"].Gender = GenderFemale

	res, err := e.ProcessMessage(ctx, "She works in Boston.")
	require.NoError(t, err)
	require.Len(t, res.Resolutions, 1)
	r := res.Resolutions[0]
	assert.Equal(t, "she", r.Token)
	assert.Equal(t, []string{"Alice"}, r.Entities)
	assert.InDelta(t, 0.7, r.Confidence, 1e-9)
	assert.Equal(t, SourceGenderMatch, r.Source)

	active := e.ActiveContext()
	require.Contains(t, active.References, "she")
	assert.Equal(t, []string{"Alice"}, active.References["she"].Entities)
	require.Contains(t, active.Entities, "Boston")
	// Resolution never reclassifies the entity itself.
	assert.Equal(t, EntityNamed, active.Entities["Alice"].Type)

	// The stored resolution is reused at a small discount.
	res, err = e.ProcessMessage(ctx, "She is busy.")
	require.NoError(t, err)
	require.Len(t, res.Resolutions, 1)
	assert.Equal(t, SourceCurrentContext, res.Resolutions[0].Source)
	assert.InDelta(t, 0.63, res.Resolutions[0].Confidence, 1e-9)
}

func TestEngine_ProcessMessage_LearnsGenderFromResolution(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.ProcessMessage(ctx, "Bob is presenting today.")
	require.NoError(t, err)
	e.ActiveContext().RecordReference("he", ReferenceRecord{
		Entities:   []string{"Bob"},
		Confidence: 0.7,
		Source:     SourceGenderMatch,
		ResolvedAt: time.Now(),
	})

	_, err = e.ProcessMessage(ctx, "He finished early.")
	require.NoError(t, err)

	assert.Equal(t, GenderMale, e.ActiveContext().Entities["Bob"].Gender)
}

func TestEngine_ExplicitSwitchCreatesChild(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.ActiveContext().MergeTopics([]string{"cooking", "recipes"})
	sessionID := e.ActiveContext().ID

	res, err := e.ProcessMessage(ctx, "Let's talk about basketball strategies")
	require.NoError(t, err)

	require.NotNil(t, res.Switch)
	assert.True(t, res.Switch.CreatedNew)
	assert.Equal(t, ReasonNewTopicCreation, res.Switch.Reason)
	assert.InDelta(t, 0.7, res.Switch.Confidence, 1e-9)
	assert.Equal(t, sessionID, res.Switch.PreviousID)

	child := e.ActiveContext()
	assert.Equal(t, res.Switch.NewID, child.ID)
	assert.Equal(t, res.ContextID, child.ID)
	assert.Equal(t, "basketball", child.Name)
	assert.Equal(t, ContextTopic, child.Type)
	assert.Equal(t, 1, child.Level)
	assert.Equal(t, sessionID, child.ParentID)
	assert.True(t, child.HasTopic("basketball"))

	session := e.SessionContext()
	assert.Contains(t, session.Children, child.ID)
	// The new subject lands in the child, not the context being left.
	assert.False(t, session.HasTopic("basketball"))
}

func TestEngine_ExplicitSwitchResumesKnownContext(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.ActiveContext().MergeTopics([]string{"cooking", "recipes"})
	sessionID := e.ActiveContext().ID

	_, err := e.ProcessMessage(ctx, "Let's talk about basketball strategies")
	require.NoError(t, err)
	require.NotEqual(t, sessionID, e.ActiveContext().ID)

	res, err := e.ProcessMessage(ctx, "Now let's talk about cooking once more")
	require.NoError(t, err)

	require.NotNil(t, res.Switch)
	assert.False(t, res.Switch.CreatedNew)
	assert.Equal(t, ReasonExplicitTopicMention, res.Switch.Reason)
	assert.InDelta(t, 0.8, res.Switch.Confidence, 1e-9)
	assert.Equal(t, sessionID, res.Switch.NewID)
	assert.Equal(t, sessionID, e.ActiveContext().ID)
	assert.Same(t, e.SessionContext(), e.ActiveContext())
}

func TestEngine_DriftSwitch(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.ActiveContext().MergeTopics([]string{"cooking", "recipes"})

	res, err := e.ProcessMessage(ctx, "The database migration needs careful planning because the database schema changed significantly last week.")
	require.NoError(t, err)

	require.NotNil(t, res.Switch)
	assert.True(t, res.Switch.CreatedNew)
	assert.Equal(t, ReasonTopicShiftNew, res.Switch.Reason)
	assert.InDelta(t, 0.5, res.Switch.Confidence, 1e-9)
	assert.Equal(t, "database migration", e.ActiveContext().Name)
}

func TestEngine_ShortMessageNeverDrifts(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()
	e.ActiveContext().MergeTopics([]string{"cooking"})

	res, err := e.ProcessMessage(ctx, "database trouble")
	require.NoError(t, err)
	assert.Nil(t, res.Switch)
	assert.Equal(t, e.SessionContext().ID, res.ContextID)
	// The message's topics still merge into the active context.
	assert.True(t, e.ActiveContext().HasTopic("database trouble"))
}

func TestEngine_PluralListFallback(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.ProcessMessage(ctx, "Alice met Bob.")
	require.NoError(t, err)

	res, err := e.ProcessMessage(ctx, "They are planning something.")
	require.NoError(t, err)
	require.Len(t, res.Resolutions, 1)
	r := res.Resolutions[0]
	require.True(t, r.Resolved())
	assert.Equal(t, []string{"Alice", "Bob"}, r.Entities)
	assert.InDelta(t, 0.5, r.Confidence, 1e-9)
	assert.Equal(t, SourceRecentEntities, r.Source)
}

func TestEngine_PluralFallbackNeedsTwoEntities(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.ProcessMessage(ctx, "Alice arrived.")
	require.NoError(t, err)

	res, err := e.ProcessMessage(ctx, "They are late.")
	require.NoError(t, err)
	require.Len(t, res.Resolutions, 1)
	assert.False(t, res.Resolutions[0].Resolved())
	assert.Empty(t, e.ActiveContext().References)
}

func TestEngine_PersistFailureRollsBack(t *testing.T) {
	store := &brittleStore{MemoryStore: NewMemoryStore()}
	e := NewEngine(store, nil, DefaultConfig())
	ctx := context.Background()

	_, err := e.ProcessMessage(ctx, "Alice met Bob.")
	require.NoError(t, err)

	before := e.ActiveContext()
	entitiesBefore := len(before.Entities)
	historyBefore := e.History().Len()

	store.failWrites = true
	_, err = e.ProcessMessage(ctx, "Let's talk about basketball")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrPersistence)

	// The failed update is discarded wholesale.
	assert.Same(t, before, e.ActiveContext())
	assert.Len(t, before.Entities, entitiesBefore)
	assert.Empty(t, before.Children)
	assert.Equal(t, historyBefore, e.History().Len())

	// Once writes succeed again the same message goes through.
	store.failWrites = false
	res, err := e.ProcessMessage(ctx, "Let's talk about basketball")
	require.NoError(t, err)
	require.NotNil(t, res.Switch)
	assert.Equal(t, "basketball", e.ActiveContext().Name)
}

func TestEngine_SwitchContext_Manual(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.ProcessMessage(ctx, "Let's talk about basketball")
	require.NoError(t, err)
	childID := e.ActiveContext().ID
	sessionID := e.SessionContext().ID
	require.NotEqual(t, childID, sessionID)

	require.NoError(t, e.SwitchContext(ctx, sessionID))
	assert.Equal(t, sessionID, e.ActiveContext().ID)
	assert.Same(t, e.SessionContext(), e.ActiveContext())

	// Re-activating the active context is a no-op.
	require.NoError(t, e.SwitchContext(ctx, sessionID))

	err = e.SwitchContext(ctx, "no-such-context")
	assert.ErrorIs(t, err, ErrContextNotFound)

	require.NoError(t, e.SwitchContext(ctx, childID))
	assert.Equal(t, childID, e.ActiveContext().ID)
}

func TestEngine_NestedSwitchDeepensHierarchy(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.ProcessMessage(ctx, "Let's talk about basketball")
	require.NoError(t, err)
	first := e.ActiveContext()
	assert.Equal(t, 1, first.Level)

	_, err = e.ProcessMessage(ctx, "Let's talk about gardening")
	require.NoError(t, err)
	second := e.ActiveContext()
	assert.Equal(t, 2, second.Level)
	assert.Equal(t, first.ID, second.ParentID)

	parent, ok := e.ContextByID(first.ID)
	require.True(t, ok)
	assert.Contains(t, parent.Children, second.ID)
}

func TestEngine_RetrieveContext(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	_, err := e.ProcessMessage(ctx, "Let's talk about basketball")
	require.NoError(t, err)
	require.NoError(t, e.SwitchContext(ctx, e.SessionContext().ID))

	results := e.RetrieveContext("basketball")
	require.NotEmpty(t, results)
	assert.LessOrEqual(t, len(results), 3)
	assert.Equal(t, "basketball", results[0].Context.Name)

	assert.Empty(t, NewEngine(NewMemoryStore(), nil, DefaultConfig()).RetrieveContext("anything"))
}

func TestEngine_LowImportanceStaysOutOfHistory(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retention.LowImportance = 0.95

	store := NewMemoryStore()
	e := NewEngine(store, nil, cfg)
	ctx := context.Background()

	_, err := e.ProcessMessage(ctx, "hello there friend")
	require.NoError(t, err)

	assert.Equal(t, 0, e.History().Len())
	recs, err := store.ListContexts(ctx, CollectionHistory)
	require.NoError(t, err)
	assert.Empty(t, recs)
}

func TestEngine_ImportancePersistedWithContext(t *testing.T) {
	store := NewMemoryStore()
	e := NewEngine(store, nil, DefaultConfig())
	ctx := context.Background()

	res, err := e.ProcessMessage(ctx, "Alice met Bob in Boston.")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.Importance, 0.5)

	recs, err := store.ListContexts(ctx, CollectionHistory)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.InDelta(t, res.Importance, recs[0].Importance, 1e-9)
}

func TestEngine_EmptyMessage(t *testing.T) {
	e := newTestEngine(t)
	ctx := context.Background()

	before := e.ActiveContext()
	lastUpdate := before.LastUpdate

	res, err := e.ProcessMessage(ctx, "   \n\t")
	require.NoError(t, err)
	assert.Equal(t, before.ID, res.ContextID)
	assert.Nil(t, res.Switch)
	assert.Empty(t, res.Entities)
	assert.Empty(t, res.Topics)
	assert.Empty(t, res.Resolutions)

	assert.Same(t, before, e.ActiveContext())
	assert.True(t, before.LastUpdate.Equal(lastUpdate))
	assert.Equal(t, 0, e.History().Len())
}

func TestEngine_RestoreAcrossRuns(t *testing.T) {
	store := NewMemoryStore()
	cfg := DefaultConfig()
	ctx := context.Background()

	first := NewEngine(store, nil, cfg)
	_, err := first.ProcessMessage(ctx, "My name is Alice.")
	require.NoError(t, err)
	first.ActiveContext().Entities["Alice"].Gender = GenderFemale
	_, err = first.ProcessMessage(ctx, "She is working late.")
	require.NoError(t, err)
	sessionID := first.SessionContext().ID
	require.NoError(t, first.Close(ctx))

	second := NewEngine(store, nil, cfg)

	// A fresh run opens a fresh session but inherits history and references.
	assert.NotEqual(t, sessionID, second.SessionContext().ID)
	restored := second.History().FindByID(sessionID)
	require.NotNil(t, restored)
	assert.Contains(t, restored.Entities, "Alice")

	res, err := second.ProcessMessage(ctx, "She just messaged me.")
	require.NoError(t, err)
	require.Len(t, res.Resolutions, 1)
	assert.Equal(t, SourceRecentReferences, res.Resolutions[0].Source)
	assert.Equal(t, []string{"Alice"}, res.Resolutions[0].Entities)
	assert.InDelta(t, 0.56, res.Resolutions[0].Confidence, 1e-9)
}

func TestEngine_PublishesEvents(t *testing.T) {
	b := bus.NewBus()
	defer b.Close()

	created := make(chan bus.Event, 4)
	updated := make(chan bus.Event, 4)
	switched := make(chan bus.Event, 4)
	b.Subscribe(bus.EventContextCreated, func(ev bus.Event) { created <- ev })
	b.Subscribe(bus.EventContextUpdated, func(ev bus.Event) { updated <- ev })
	b.Subscribe(bus.EventContextSwitched, func(ev bus.Event) { switched <- ev })

	e := NewEngine(NewMemoryStore(), b, DefaultConfig())

	ev := waitEvent(t, created)
	require.NotNil(t, ev.ContextCreated)
	assert.Equal(t, e.SessionContext().ID, ev.ContextCreated.ContextID)
	assert.Equal(t, string(ContextSession), ev.ContextCreated.ContextType)

	_, err := e.ProcessMessage(context.Background(), "Let's talk about basketball")
	require.NoError(t, err)
	childID := e.ActiveContext().ID

	ev = waitEvent(t, created)
	require.NotNil(t, ev.ContextCreated)
	assert.Equal(t, childID, ev.ContextCreated.ContextID)
	assert.Equal(t, string(ContextTopic), ev.ContextCreated.ContextType)

	ev = waitEvent(t, updated)
	require.NotNil(t, ev.ContextUpdated)
	assert.Equal(t, e.SessionContext().ID, ev.ContextUpdated.ContextID)
	assert.True(t, ev.ContextUpdated.ContextSwitch)

	ev = waitEvent(t, switched)
	require.NotNil(t, ev.ContextSwitched)
	assert.Equal(t, e.SessionContext().ID, ev.ContextSwitched.PreviousContextID)
	assert.Equal(t, childID, ev.ContextSwitched.NewContextID)
	assert.Equal(t, string(ReasonNewTopicCreation), ev.ContextSwitched.Reason)
}

func waitEvent(t *testing.T, ch <-chan bus.Event) bus.Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timeout waiting for event")
		return bus.Event{}
	}
}
