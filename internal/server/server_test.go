package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/halcyonic/contexture/internal/awareness"
	"github.com/halcyonic/contexture/internal/bus"
	"github.com/halcyonic/contexture/internal/stats"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// newTestServer returns a started server over a fresh in-memory engine plus
// an httptest host for its handler. Cleanup tears everything down.
func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()

	eventBus := bus.NewBus()
	engine := awareness.NewEngine(awareness.NewMemoryStore(), eventBus, awareness.DefaultConfig())
	srv := New(engine, eventBus, DefaultConfig())
	require.NoError(t, srv.Start())

	host := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		host.Close()
		require.NoError(t, srv.Close())
		require.NoError(t, eventBus.Close())
	})
	return srv, host
}

func postMessage(t *testing.T, host *httptest.Server, text string) *http.Response {
	t.Helper()
	body, err := json.Marshal(MessageRequest{Text: text})
	require.NoError(t, err)
	resp, err := http.Post(host.URL+"/message", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func TestServerProcessesMessage(t *testing.T) {
	_, host := newTestServer(t)

	resp := postMessage(t, host, "Let's talk about the migration plan")
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))

	var result awareness.MessageResult
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	assert.NotEmpty(t, result.ContextID)
	require.NotNil(t, result.Switch, "explicit cue should report a switch")
	assert.Equal(t, awareness.ReasonNewTopicCreation, result.Switch.Reason)
	assert.Equal(t, "migration", result.ContextName)
	assert.Contains(t, result.Topics, "migration plan")
}

func TestServerRejectsBadMessageBodies(t *testing.T) {
	_, host := newTestServer(t)

	resp, err := http.Post(host.URL+"/message", "application/json", bytes.NewReader([]byte("{not json")))
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = postMessage(t, host, "   ")
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerQueryRanksStoredContexts(t *testing.T) {
	_, host := newTestServer(t)

	// Build two topic contexts, then leave them for the session context so
	// both sit in history.
	for _, text := range []string{
		"Let's talk about database indexing",
		"Let's talk about holiday planning",
	} {
		resp := postMessage(t, host, text)
		resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}

	resp, err := http.Get(host.URL + "/query?q=database+indexing")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var out QueryResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, "database indexing", out.Query)
	require.NotEmpty(t, out.Results)
	assert.Contains(t, out.Results[0].Context.Topics, "database")
	assert.Greater(t, out.Results[0].Relevance, 0.0)
}

func TestServerQueryRequiresQ(t *testing.T) {
	_, host := newTestServer(t)

	resp, err := http.Get(host.URL + "/query")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestServerHealthEndpoint(t *testing.T) {
	_, host := newTestServer(t)

	resp, err := http.Get(host.URL + bus.HealthEndpoint)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var health map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&health))
	assert.Equal(t, "ok", health["status"])
	assert.Equal(t, true, health["running"])
}

func TestServerReportsStats(t *testing.T) {
	_, host := newTestServer(t)

	resp := postMessage(t, host, "Let's talk about the quarterly roadmap")
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// Events reach the collector asynchronously, so poll until the totals
	// settle.
	var snap stats.SessionStats
	require.Eventually(t, func() bool {
		resp, err := http.Get(host.URL + "/stats")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var cur stats.SessionStats
		if json.NewDecoder(resp.Body).Decode(&cur) != nil {
			return false
		}
		snap = cur
		return cur.MessagesProcessed == 1 && cur.ContextSwitches == 1
	}, time.Second, 20*time.Millisecond)

	assert.Equal(t, 1, snap.ContextsCreated,
		"the session root predates the collector; only the topic child counts")
	assert.Equal(t, 1, snap.SwitchesByReason[string(awareness.ReasonNewTopicCreation)])
	assert.Positive(t, snap.UptimeSeconds)
}

func TestServerAnswersPreflight(t *testing.T) {
	_, host := newTestServer(t)

	req, err := http.NewRequest(http.MethodOptions, host.URL+"/message", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

// TestServerSerializesConcurrentMessages hammers POST /message from many
// goroutines. Every request must succeed; the engine underneath is
// single-threaded, so any race here would surface as a panic or a dropped
// update under -race.
func TestServerSerializesConcurrentMessages(t *testing.T) {
	srv, host := newTestServer(t)

	const writers = 8
	const perWriter = 5
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter)
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				resp := postMessage(t, host, fmt.Sprintf("writer %d message %d about testing", w, i))
				if resp.StatusCode != http.StatusOK {
					errs <- fmt.Errorf("writer %d got status %d", w, resp.StatusCode)
				}
				resp.Body.Close()
			}
		}(w)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}

	assert.NotNil(t, srv.engine.ActiveContext())
}

func TestServerRejectsSubmitAfterClose(t *testing.T) {
	eventBus := bus.NewBus()
	engine := awareness.NewEngine(awareness.NewMemoryStore(), eventBus, awareness.DefaultConfig())
	srv := New(engine, eventBus, DefaultConfig())
	require.NoError(t, srv.Start())
	require.NoError(t, srv.Close())
	defer eventBus.Close()

	err := srv.submit(context.Background(), func() {})
	assert.ErrorIs(t, err, ErrClosed)
}
