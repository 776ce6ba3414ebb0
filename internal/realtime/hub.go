// Package realtime keeps the WebSocket connections of this process and
// delivers events to them. Hub only knows local connections; Relay fans
// events out to every instance through RabbitMQ.
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/google/uuid"
)

const writeTimeout = 5 * time.Second

// Event is the frame every client receives.
type Event struct {
	ID     string    `json:"id"`
	Event  string    `json:"event"`
	Data   any       `json:"data"`
	SentAt time.Time `json:"sentAt"`
}

type conn struct {
	net.Conn
	userID string
	mu     sync.Mutex
}

// Write serializes control replies from the read loop with event frames.
func (c *conn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Conn.Write(p)
}

func (c *conn) write(frame []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.SetWriteDeadline(time.Now().Add(writeTimeout))
	return wsutil.WriteServerMessage(c.Conn, ws.OpText, frame)
}

type Hub struct {
	logger *slog.Logger

	mu    sync.RWMutex
	users map[string]map[*conn]struct{}
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{logger: logger, users: make(map[string]map[*conn]struct{})}
}

// ServeWS upgrades the request and keeps the connection registered for
// userID until the client goes away. Inbound data frames are ignored.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, userID string) error {
	raw, _, _, err := ws.UpgradeHTTP(r, w)
	if err != nil {
		return fmt.Errorf("upgrade websocket: %w", err)
	}
	c := &conn{Conn: raw, userID: userID}
	h.register(c)
	h.logger.Debug("websocket connected", "user_id", userID)

	go func() {
		defer h.unregister(c)
		for {
			if _, _, err := wsutil.ReadClientData(struct {
				io.Reader
				io.Writer
			}{c.Conn, c}); err != nil {
				var closed wsutil.ClosedError
				if !errors.As(err, &closed) && !errors.Is(err, net.ErrClosed) {
					h.logger.Debug("websocket read ended", "user_id", userID, "error", err)
				}
				return
			}
		}
	}()
	return nil
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set, ok := h.users[c.userID]
	if !ok {
		set = make(map[*conn]struct{})
		h.users[c.userID] = set
	}
	set[c] = struct{}{}
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	if set, ok := h.users[c.userID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.users, c.userID)
		}
	}
	h.mu.Unlock()
	_ = c.Close()
}

func (h *Hub) Connections(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.users[userID])
}

func (h *Hub) snapshot(userID string) []*conn {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*conn, 0, len(h.users[userID]))
	for c := range h.users[userID] {
		out = append(out, c)
	}
	return out
}

// Push writes the event to every local connection of userID. A connection
// that fails the write is dropped. No connections means nothing to do.
func (h *Hub) Push(_ context.Context, userID, event string, payload any) error {
	conns := h.snapshot(userID)
	if len(conns) == 0 {
		return nil
	}
	frame, err := json.Marshal(Event{
		ID:     uuid.NewString(),
		Event:  event,
		Data:   payload,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode %s event: %w", event, err)
	}

	var errs []error
	for _, c := range conns {
		if err := c.write(frame); err != nil {
			errs = append(errs, err)
			h.unregister(c)
		}
	}
	return errors.Join(errs...)
}

// Close drops every connection.
func (h *Hub) Close() {
	h.mu.Lock()
	users := h.users
	h.users = make(map[string]map[*conn]struct{})
	h.mu.Unlock()
	for _, set := range users {
		for c := range set {
			_ = c.Close()
		}
	}
}
