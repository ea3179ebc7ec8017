// Package server hosts one context engine behind a small HTTP surface. The
// engine itself is not safe for concurrent use, so every handler that touches
// it submits work to a single writer goroutine; messages arriving concurrently
// are applied one at a time, in arrival order.
//
// Endpoints: POST /message feeds one chat message to the engine, GET /query
// ranks stored contexts against a query, GET /ws streams engine events over
// WebSocket, GET /stats reports session totals, and GET /healthz reports
// stream health. One server hosts one conversation; hosts serving many
// conversations run one engine and one server per conversation.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/halcyonic/contexture/internal/awareness"
	"github.com/halcyonic/contexture/internal/bus"
	"github.com/halcyonic/contexture/internal/stats"
)

// ErrClosed is returned by requests that arrive while the server is shutting
// down.
var ErrClosed = errors.New("server: closed")

// maxMessageBytes bounds the POST /message request body.
const maxMessageBytes = 1 << 20

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIGURATION
// ═══════════════════════════════════════════════════════════════════════════════

// Config holds the serving options.
type Config struct {
	// Listen is the host:port to bind.
	Listen string
	// ShutdownTimeout bounds graceful shutdown once the run context ends.
	ShutdownTimeout time.Duration
	// TaskBacklog is how many handler requests may queue for the engine
	// before submitters block.
	TaskBacklog int
}

// DefaultConfig returns local-tooling defaults.
func DefaultConfig() Config {
	return Config{
		Listen:          "127.0.0.1:8136",
		ShutdownTimeout: 5 * time.Second,
		TaskBacklog:     32,
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// SERVER
// ═══════════════════════════════════════════════════════════════════════════════

// Server wires an engine, its event bus, and the WebSocket observer into one
// HTTP handler set. The engine and bus belong to the caller; the server
// borrows them and leaves closing them to its owner.
type Server struct {
	cfg       Config
	engine    *awareness.Engine
	observer  *bus.Observer
	collector *stats.Collector

	tasks chan func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	startOnce sync.Once
	closeOnce sync.Once
}

// New builds a server around an engine and the bus it publishes to.
func New(engine *awareness.Engine, eventBus *bus.Bus, cfg Config) *Server {
	def := DefaultConfig()
	if strings.TrimSpace(cfg.Listen) == "" {
		cfg.Listen = def.Listen
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	if cfg.TaskBacklog <= 0 {
		cfg.TaskBacklog = def.TaskBacklog
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:       cfg,
		engine:    engine,
		observer:  bus.NewObserver(eventBus, bus.DefaultObserverConfig()),
		collector: stats.NewCollector(eventBus),
		tasks:     make(chan func(), cfg.TaskBacklog),
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start launches the writer loop and the event observer without binding a
// listener, so tests can drive Handler directly.
func (s *Server) Start() error {
	var err error
	s.startOnce.Do(func() {
		if err = s.observer.Start(); err != nil {
			return
		}
		s.collector.Start()
		s.wg.Add(1)
		go s.runWriterLoop()
	})
	return err
}

// Close stops the writer loop and the observer. Safe to call more than once.
func (s *Server) Close() error {
	var err error
	s.closeOnce.Do(func() {
		s.cancel()
		s.wg.Wait()
		s.collector.Stop()
		err = s.observer.Stop()
	})
	return err
}

// Run serves until ctx is canceled or the listener fails, then shuts down
// gracefully within the configured timeout.
func (s *Server) Run(ctx context.Context) error {
	if err := s.Start(); err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- httpServer.ListenAndServe() }()
	log.Info().Str("listen", s.cfg.Listen).Msg("context server listening")

	select {
	case err := <-errCh:
		s.Close()
		return err
	case <-ctx.Done():
	}

	shutCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	err := httpServer.Shutdown(shutCtx)
	if closeErr := s.Close(); err == nil {
		err = closeErr
	}
	log.Info().Msg("context server stopped")
	return err
}

// runWriterLoop executes submitted engine work one task at a time.
func (s *Server) runWriterLoop() {
	defer s.wg.Done()
	for {
		select {
		case fn := <-s.tasks:
			fn()
		case <-s.ctx.Done():
			return
		}
	}
}

// submit queues fn for the writer loop and waits for it to finish, so the
// caller can read anything fn captured. A request canceled while still
// queued is abandoned without running.
func (s *Server) submit(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	wrapped := func() {
		defer close(done)
		fn()
	}
	select {
	case s.tasks <- wrapped:
	case <-ctx.Done():
		return ctx.Err()
	case <-s.ctx.Done():
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-s.ctx.Done():
		return ErrClosed
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// HTTP SURFACE
// ═══════════════════════════════════════════════════════════════════════════════

// MessageRequest is the POST /message body.
type MessageRequest struct {
	Text string `json:"text"`
}

// QueryResponse is the GET /query result envelope.
type QueryResponse struct {
	Query   string                       `json:"query"`
	Results []awareness.RetrievedContext `json:"results"`
}

// Handler returns the full route set wrapped in a permissive CORS layer for
// local tooling. Start must have been called before serving requests.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/message", methodOnly(http.MethodPost, s.handleMessage))
	mux.HandleFunc("/query", methodOnly(http.MethodGet, s.handleQuery))
	mux.HandleFunc("/stats", methodOnly(http.MethodGet, s.handleStats))
	mux.HandleFunc(bus.WebSocketEndpoint, methodOnly(http.MethodGet, s.observer.HandleWebSocket))
	mux.HandleFunc(bus.HealthEndpoint, methodOnly(http.MethodGet, s.observer.HandleHealth))
	return withCORS(mux)
}

// methodOnly gates a route to one method, with HEAD allowed alongside GET,
// and answers anything else with 405 and an Allow header.
func methodOnly(method string, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != method && !(method == http.MethodGet && r.Method == http.MethodHead) {
			allow := method
			if method == http.MethodGet {
				allow = "GET, HEAD"
			}
			w.Header().Set("Allow", allow)
			http.Error(w, "Method Not Allowed", http.StatusMethodNotAllowed)
			return
		}
		next(w, r)
	}
}

// handleMessage feeds one message through the engine and returns the full
// per-message result.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	body := http.MaxBytesReader(w, r.Body, maxMessageBytes)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		http.Error(w, "invalid JSON body", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		http.Error(w, "text is required", http.StatusBadRequest)
		return
	}

	var (
		result     *awareness.MessageResult
		processErr error
	)
	if err := s.submit(r.Context(), func() {
		result, processErr = s.engine.ProcessMessage(r.Context(), req.Text)
	}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	if processErr != nil {
		log.Error().Err(processErr).Msg("message processing failed")
		http.Error(w, processErr.Error(), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// handleQuery ranks stored contexts against ?q= and returns the top matches.
// Contexts are cloned inside the writer loop so the response never aliases
// live engine state.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	if query == "" {
		http.Error(w, "query parameter q is required", http.StatusBadRequest)
		return
	}

	results := []awareness.RetrievedContext{}
	if err := s.submit(r.Context(), func() {
		for _, rc := range s.engine.RetrieveContext(query) {
			results = append(results, awareness.RetrievedContext{
				Context:   rc.Context.Clone(),
				Relevance: rc.Relevance,
			})
		}
	}); err != nil {
		http.Error(w, err.Error(), http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, http.StatusOK, QueryResponse{Query: query, Results: results})
}

// handleStats returns session totals gathered from the event bus. Snapshots
// never touch the engine, so this skips the writer loop.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.collector.Snapshot())
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

// withCORS allows any local tool to call the API and answers preflights
// before they reach the method-routed mux.
func withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}
