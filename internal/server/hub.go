package server

import (
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"pingcounter/internal/alert"
	"pingcounter/internal/counter"
	"pingcounter/internal/echo"
)

const (
	wsWriteTimeout = 5 * time.Second
	wsSendBuffer   = 64

	EventProbe = "probe"
	EventAlert = "alert"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		host := strings.ToLower(strings.TrimSpace(r.Host))
		originHost := strings.ToLower(strings.TrimSpace(u.Host))
		return host == originHost
	},
}

// Event is one message of the websocket feed.
type Event struct {
	Type        string    `json:"type"`
	Counter     string    `json:"counter"`
	Address     string    `json:"address"`
	Outcome     string    `json:"outcome,omitempty"`
	Reason      string    `json:"reason,omitempty"`
	RTTMs       *float64  `json:"rtt_ms,omitempty"`
	Failures    int       `json:"failures"`
	AlertActive bool      `json:"alert_active"`
	Time        time.Time `json:"time"`
}

// Hub fans probe and alert events out to websocket subscribers. It
// implements counter.Observer and engine.SinkFactory. Slow subscribers
// miss events rather than stall the event loop.
type Hub struct {
	clock  clockwork.Clock
	logger log.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
	closed  bool
}

type wsClient struct {
	send chan Event
	quit chan struct{}
	once sync.Once
}

func (c *wsClient) stop() {
	c.once.Do(func() { close(c.quit) })
}

// NewHub creates an empty hub.
func NewHub(clock clockwork.Clock, logger log.Logger) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = log.NewNopLogger()
	}
	return &Hub{
		clock:   clock,
		logger:  log.With(logger, "component", "ws"),
		clients: make(map[*wsClient]struct{}),
	}
}

// ObserveProbe publishes a probe event.
func (h *Hub) ObserveProbe(target counter.Target, outcome echo.Outcome, state counter.State) {
	ev := Event{
		Type:        EventProbe,
		Counter:     target.Name,
		Address:     target.Address,
		Outcome:     outcome.Kind.String(),
		Reason:      outcome.Reason,
		Failures:    state.ConsecutiveFailures,
		AlertActive: state.AlertActive,
		Time:        h.clock.Now(),
	}
	if outcome.OK() {
		ms := float64(outcome.RTT.Microseconds()) / 1000
		ev.RTTMs = &ms
	}
	h.Broadcast(ev)
}

// AlertSink returns a sink publishing alert events for target.
func (h *Hub) AlertSink(target counter.Target) alert.Sink {
	return alert.SinkFunc(func(active bool) {
		ev := Event{
			Type:        EventAlert,
			Counter:     target.Name,
			Address:     target.Address,
			AlertActive: active,
			Time:        h.clock.Now(),
		}
		if active {
			ev.Failures = target.Threshold
		}
		h.Broadcast(ev)
	})
}

// Broadcast queues ev for every subscriber without blocking.
func (h *Hub) Broadcast(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		select {
		case c.send <- ev:
		default:
			level.Debug(h.logger).Log("msg", "subscriber too slow, dropping event", "counter", ev.Counter)
		}
	}
}

// Subscribers returns the number of connected subscribers.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every subscriber and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for c := range h.clients {
		c.stop()
		delete(h.clients, c)
	}
}

func (h *Hub) register() (*wsClient, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil, false
	}
	c := &wsClient{send: make(chan Event, wsSendBuffer), quit: make(chan struct{})}
	h.clients[c] = struct{}{}
	return c, true
}

func (h *Hub) unregister(c *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.clients, c)
	c.stop()
}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.serveConnection(conn, r)
}

func (s *Server) serveConnection(conn *websocket.Conn, r *http.Request) {
	defer conn.Close()

	client, ok := s.hub.register()
	if !ok {
		return
	}
	defer s.hub.unregister(client)

	// Greet with the current state so subscribers need not poll the API.
	if snaps, err := s.counters.Snapshot(r.Context()); err == nil {
		views := make([]counterView, 0, len(snaps))
		for _, snap := range snaps {
			views = append(views, newCounterView(snap))
		}
		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		if err := conn.WriteJSON(map[string]any{"type": "snapshot", "counters": views}); err != nil {
			return
		}
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev := <-client.send:
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
			if err := conn.WriteJSON(ev); err != nil {
				return
			}
		case <-done:
			return
		case <-client.quit:
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
				time.Now().Add(wsWriteTimeout))
			return
		}
	}
}
