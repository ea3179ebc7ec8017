package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const (
	// WebSocketEndpoint is the path the observer expects to be mounted on.
	WebSocketEndpoint = "/ws"

	// HealthEndpoint is the path for health checks.
	HealthEndpoint = "/healthz"

	// WriteWait is the timeout for writing to a WebSocket.
	WriteWait = 10 * time.Second

	// PongWait is the timeout for pong responses.
	PongWait = 60 * time.Second

	// PingPeriod is how often to send ping frames.
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is the maximum inbound message size allowed.
	MaxMessageSize = 512
)

// Observer streams bus events to WebSocket clients. It subscribes to every
// event and forwards the JSON form to all connected clients; a client that
// cannot keep up is disconnected rather than allowed to stall the stream.
//
// The observer only provides HTTP handlers. Mounting them on a listener is
// the serving layer's job, so one process can host the event stream next to
// its other endpoints.
type Observer struct {
	bus      *Bus
	cfg      ObserverConfig
	upgrader websocket.Upgrader

	// clients is owned exclusively by the manager goroutine; all membership
	// changes and fan-out flow through the channels below.
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	broadcast  chan []byte

	subID SubscriptionID

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	running   bool
	runningMu sync.RWMutex
}

// Client represents a single WebSocket connection.
type Client struct {
	conn *websocket.Conn
	send chan []byte

	replayHistory bool
	historyCount  int
}

// ObserverConfig configures the WebSocket observer.
type ObserverConfig struct {
	// ReplayHistory controls whether new clients receive recent events.
	ReplayHistory bool
	// HistoryCount is how many recent events to replay.
	HistoryCount int
	// SendBuffer is the per-client outbound queue length.
	SendBuffer int
}

// DefaultObserverConfig returns the default observer configuration.
func DefaultObserverConfig() ObserverConfig {
	return ObserverConfig{
		ReplayHistory: true,
		HistoryCount:  100,
		SendBuffer:    256,
	}
}

// NewObserver creates a WebSocket observer attached to the given bus.
func NewObserver(bus *Bus, config ObserverConfig) *Observer {
	ctx, cancel := context.WithCancel(context.Background())

	if config.SendBuffer <= 0 {
		config.SendBuffer = DefaultObserverConfig().SendBuffer
	}

	return &Observer{
		bus: bus,
		cfg: config,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan []byte, config.SendBuffer),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start subscribes to the bus and launches the client manager.
func (o *Observer) Start() error {
	o.runningMu.Lock()
	if o.running {
		o.runningMu.Unlock()
		return fmt.Errorf("observer already running")
	}
	o.running = true
	o.runningMu.Unlock()

	o.subID = o.bus.Subscribe(EventWildcard, o.handleBusEvent)

	o.wg.Add(1)
	go o.runClientManager()

	log.Debug().Msg("event observer started")
	return nil
}

// Stop disconnects all clients and waits for goroutines to exit. Stopping a
// stopped observer is a no-op.
func (o *Observer) Stop() error {
	o.runningMu.Lock()
	if !o.running {
		o.runningMu.Unlock()
		return nil
	}
	o.running = false
	o.runningMu.Unlock()

	if o.subID != "" {
		_ = o.bus.Unsubscribe(o.subID)
	}
	o.cancel()
	o.wg.Wait()

	log.Debug().Msg("event observer stopped")
	return nil
}

// IsRunning reports whether the observer is accepting clients.
func (o *Observer) IsRunning() bool {
	o.runningMu.RLock()
	defer o.runningMu.RUnlock()
	return o.running
}

// runClientManager owns the client set. Registration, disconnection, and
// event fan-out are all serialized here, so no other goroutine ever touches
// a client's send channel lifecycle.
func (o *Observer) runClientManager() {
	defer o.wg.Done()

	for {
		select {
		case client := <-o.register:
			o.clients[client] = true
			log.Debug().Int("clients", len(o.clients)).Msg("observer client connected")

			if client.replayHistory {
				o.replayHistoryToClient(client, client.historyCount)
			}

		case client := <-o.unregister:
			o.dropClient(client)

		case data := <-o.broadcast:
			for client := range o.clients {
				select {
				case client.send <- data:
				default:
					// Client cannot keep up, cut it loose.
					o.dropClient(client)
				}
			}

		case <-o.ctx.Done():
			for client := range o.clients {
				o.dropClient(client)
			}
			return
		}
	}
}

func (o *Observer) dropClient(client *Client) {
	if _, ok := o.clients[client]; !ok {
		return
	}
	delete(o.clients, client)
	close(client.send)
	client.conn.Close()
	log.Debug().Int("clients", len(o.clients)).Msg("observer client disconnected")
}

// replayHistoryToClient queues recent events for a newly connected client.
func (o *Observer) replayHistoryToClient(client *Client, count int) {
	for _, event := range o.bus.GetHistorySlice(count) {
		data, err := json.Marshal(event)
		if err != nil {
			continue
		}
		select {
		case client.send <- data:
		default:
			return
		}
	}
}

// HandleWebSocket upgrades HTTP connections to WebSocket. Query parameters
// replay=false and count=N control history replay for this client.
func (o *Observer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	if !o.IsRunning() {
		http.Error(w, "observer not running", http.StatusServiceUnavailable)
		return
	}

	replay := o.cfg.ReplayHistory && r.URL.Query().Get("replay") != "false"
	count := o.cfg.HistoryCount
	if n := r.URL.Query().Get("count"); n != "" {
		fmt.Sscanf(n, "%d", &count)
	}

	conn, err := o.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{
		conn:          conn,
		send:          make(chan []byte, o.cfg.SendBuffer),
		replayHistory: replay,
		historyCount:  count,
	}

	select {
	case o.register <- client:
	case <-o.ctx.Done():
		conn.Close()
		return
	}

	o.wg.Add(2)
	go o.writePump(client)
	go o.readPump(client)
}

// writePump drains the client's send queue onto the wire and keeps the
// connection alive with pings.
func (o *Observer) writePump(client *Client) {
	defer o.wg.Done()

	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := client.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Fold queued events into the same frame, newline separated.
			n := len(client.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-client.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump consumes inbound frames so pongs are processed, and unregisters
// on any read error. Clients have nothing to say to the observer yet.
func (o *Observer) readPump(client *Client) {
	defer o.wg.Done()
	defer func() {
		select {
		case o.unregister <- client:
		case <-o.ctx.Done():
		}
		client.conn.Close()
	}()

	client.conn.SetReadLimit(MaxMessageSize)
	client.conn.SetReadDeadline(time.Now().Add(PongWait))
	client.conn.SetPongHandler(func(string) error {
		client.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		if _, _, err := client.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
	}
}

// handleBusEvent is called for every event published to the bus. It only
// serializes and forwards into the manager's broadcast queue.
func (o *Observer) handleBusEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Warn().Err(err).Msg("failed to marshal event")
		return
	}

	select {
	case o.broadcast <- data:
	case <-o.ctx.Done():
	}
}

// HandleHealth responds to health check requests with stream statistics.
func (o *Observer) HandleHealth(w http.ResponseWriter, r *http.Request) {
	health := struct {
		Status      string `json:"status"`
		Service     string `json:"service"`
		Running     bool   `json:"running"`
		BusSubs     int    `json:"bus_subscriptions"`
		Dropped     uint64 `json:"dropped_events"`
		HistorySize int    `json:"history_size"`
	}{
		Status:      "ok",
		Service:     "contexture-observer",
		Running:     o.IsRunning(),
		BusSubs:     o.bus.SubscriptionsCount(),
		Dropped:     o.bus.Dropped(),
		HistorySize: len(o.bus.GetHistory()),
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(health)
}
