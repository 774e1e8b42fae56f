// Package notify pushes check-in events to instructors over WebSocket and
// queues them while the instructor is offline.
package notify

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/okian/presence/pkg/logger"
	"github.com/okian/presence/pkg/metrics"
)

type client struct {
	instructorID string
	conn         *websocket.Conn
	send         chan []byte
	done         chan struct{}
	once         sync.Once
}

func (c *client) stop() {
	c.once.Do(func() { close(c.done) })
}

// Hub tracks live instructor sockets. An instructor may hold several.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*client]struct{}
	total    int
	closed   bool
	upgrader websocket.Upgrader
	cfg      settings
}

// NewHub creates an empty hub.
func NewHub(opts ...Option) *Hub {
	cfg := defaultSettings()
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Hub{
		clients: make(map[string]map[*client]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			// Instructors connect from the dashboard origin; auth is upstream.
			CheckOrigin: func(*http.Request) bool { return true },
		},
		cfg: cfg,
	}
}

func defaultSettings() settings {
	return settings{
		logger:       logger.Named("notify"),
		writeTimeout: defaultWriteTimeout,
		pingInterval: defaultPingInterval,
		sendBuffer:   defaultSendBuffer,
		now:          time.Now,
		newID:        uuid.NewString,
	}
}

// Attach upgrades the request and registers the socket for instructorID.
// The socket is served in the background until either side closes it.
func (h *Hub) Attach(w http.ResponseWriter, r *http.Request, instructorID string) error {
	if instructorID == "" {
		return ErrMissingInstructor
	}
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	c := &client{
		instructorID: instructorID,
		conn:         conn,
		send:         make(chan []byte, h.cfg.sendBuffer),
		done:         make(chan struct{}),
	}
	if !h.register(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(h.cfg.writeTimeout))
		_ = conn.Close()
		return ErrHubClosed
	}
	h.cfg.logger.Info(r.Context(), "instructor connected", logger.String("instructor_id", instructorID))

	go h.writePump(c)
	go h.readPump(c)
	return nil
}

func (h *Hub) register(c *client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	set, ok := h.clients[c.instructorID]
	if !ok {
		set = make(map[*client]struct{})
		h.clients[c.instructorID] = set
	}
	set[c] = struct{}{}
	h.total++
	metrics.UpdateInstructorConnections(h.total)
	return true
}

func (h *Hub) unregister(c *client) {
	c.stop()
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.clients[c.instructorID]
	if !ok {
		return
	}
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	if len(set) == 0 {
		delete(h.clients, c.instructorID)
	}
	h.total--
	metrics.UpdateInstructorConnections(h.total)
}

// Send queues payload on every socket of instructorID and returns how many
// accepted it. A socket whose buffer is full is dropped.
func (h *Hub) Send(instructorID string, payload []byte) int {
	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients[instructorID]))
	for c := range h.clients[instructorID] {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	sent := 0
	for _, c := range targets {
		select {
		case <-c.done:
		case c.send <- payload:
			sent++
		default:
			h.cfg.logger.Warn(context.Background(), "instructor socket stuck, dropping",
				logger.String("instructor_id", instructorID))
			h.unregister(c)
		}
	}
	return sent
}

// Connected reports whether instructorID has at least one live socket.
func (h *Hub) Connected(instructorID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[instructorID]) > 0
}

// Connections returns the number of live sockets.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

// Close disconnects every socket and refuses new ones.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	var all []*client
	for _, set := range h.clients {
		for c := range set {
			all = append(all, c)
		}
	}
	h.mu.Unlock()
	for _, c := range all {
		h.unregister(c)
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(h.cfg.pingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case <-c.done:
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(h.cfg.writeTimeout))
			return
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(h.cfg.writeTimeout))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				h.unregister(c)
				return
			}
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(h.cfg.writeTimeout)); err != nil {
				h.unregister(c)
				return
			}
		}
	}
}

// readPump drains control frames and notices when the peer goes away.
// Instructors never send application messages.
func (h *Hub) readPump(c *client) {
	defer h.unregister(c)
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.cfg.logger.Debug(context.Background(), "instructor socket closed",
					logger.String("instructor_id", c.instructorID), logger.Error(err))
			}
			return
		}
	}
}
