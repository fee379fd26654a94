package app

import (
	"net/http"
	"sync"

	"github.com/gekko3d/lumen/lumenrt/rt/core"
	"github.com/gekko3d/lumen/lumenrt/rt/illumination"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// TelemetryMessage is the envelope of everything the hub sends.
type TelemetryMessage struct {
	Type   string    `json:"type"` // "hello" or "stats"
	Client string    `json:"client,omitempty"`
	Stats  *Snapshot `json:"stats,omitempty"`
}

// TelemetryCommand is what clients may send back. Debug replaces the render debug switches.
type TelemetryCommand struct {
	Debug *illumination.RenderDebugConfig `json:"debug,omitempty"`
}

type telemetryClient struct {
	conn *websocket.Conn
	mu   sync.Mutex // one writer per connection
}

func (c *telemetryClient) send(msg TelemetryMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(msg)
}

// TelemetryHub serves the /stats websocket: profiler snapshots out, debug switches in.
type TelemetryHub struct {
	upgrader websocket.Upgrader
	log      core.Logger

	mu      sync.RWMutex
	clients map[uuid.UUID]*telemetryClient
	latest  *Snapshot
	debug   *illumination.RenderDebugConfig
}

func NewTelemetryHub(log core.Logger) *TelemetryHub {
	return &TelemetryHub{
		upgrader: websocket.Upgrader{
			// Local tooling connects from arbitrary origins.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log:     core.OrNop(log),
		clients: make(map[uuid.UUID]*telemetryClient),
	}
}

// Handler returns a mux with the hub mounted on /stats.
func (h *TelemetryHub) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/stats", h)
	return mux
}

func (h *TelemetryHub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnf("telemetry: upgrade: %v", err)
		return
	}
	defer conn.Close()

	id := uuid.New()
	client := &telemetryClient{conn: conn}
	h.mu.Lock()
	h.clients[id] = client
	latest := h.latest
	h.mu.Unlock()
	defer func() {
		h.mu.Lock()
		delete(h.clients, id)
		h.mu.Unlock()
		h.log.Debugf("telemetry: client %s left", id)
	}()
	h.log.Debugf("telemetry: client %s joined", id)

	if err := client.send(TelemetryMessage{Type: "hello", Client: id.String(), Stats: latest}); err != nil {
		return
	}

	for {
		var cmd TelemetryCommand
		if err := conn.ReadJSON(&cmd); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warnf("telemetry: client %s: %v", id, err)
			}
			return
		}
		if cmd.Debug != nil {
			h.mu.Lock()
			d := *cmd.Debug
			h.debug = &d
			h.mu.Unlock()
		}
	}
}

// Broadcast sends s to every client and drops the ones that fail.
func (h *TelemetryHub) Broadcast(s Snapshot) {
	h.mu.Lock()
	h.latest = &s
	h.mu.Unlock()

	h.mu.RLock()
	var failed []uuid.UUID
	for id, c := range h.clients {
		if err := c.send(TelemetryMessage{Type: "stats", Stats: &s}); err != nil {
			failed = append(failed, id)
		}
	}
	h.mu.RUnlock()

	if len(failed) == 0 {
		return
	}
	h.mu.Lock()
	for _, id := range failed {
		if c, ok := h.clients[id]; ok {
			c.conn.Close()
			delete(h.clients, id)
		}
	}
	h.mu.Unlock()
}

// TakeDebug returns the last debug switches a client sent, once.
func (h *TelemetryHub) TakeDebug() (illumination.RenderDebugConfig, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.debug == nil {
		return illumination.RenderDebugConfig{}, false
	}
	d := *h.debug
	h.debug = nil
	return d, true
}

func (h *TelemetryHub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *TelemetryHub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for id, c := range h.clients {
		c.conn.Close()
		delete(h.clients, id)
	}
}
