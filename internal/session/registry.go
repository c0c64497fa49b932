package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nugget/apiconsole/internal/auth"
)

// ErrClosed is returned when writing to a connection that has closed.
var ErrClosed = errors.New("connection closed")

// ErrNotConnected is returned by Push when the user has no bound
// connection, or it is not the one the event was meant for.
var ErrNotConnected = errors.New("user not connected")

// Conn is an authenticated WebSocket connection. Writes are serialized;
// any goroutine may call Send.
type Conn struct {
	id           string
	identity     auth.Identity
	ws           *websocket.Conn
	writeTimeout time.Duration
	logger       *slog.Logger

	writeMu sync.Mutex
	closed  atomic.Bool
}

// ID returns the connection id.
func (c *Conn) ID() string { return c.id }

// Identity returns the user the connection authenticated as.
func (c *Conn) Identity() auth.Identity { return c.identity }

// Send writes one event frame. After the connection closes it returns
// ErrClosed without writing.
func (c *Conn) Send(event string, data any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	payload, err := json.Marshal(outFrame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		return ErrClosed
	}
	if c.writeTimeout > 0 {
		c.ws.SetWriteDeadline(time.Now().Add(c.writeTimeout))
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.logger.Debug("websocket write failed", "conn_id", c.id, "event", event, "error", err)
		return err
	}
	return nil
}

// Close marks the connection closed and closes the socket. Safe to
// call more than once.
func (c *Conn) Close() error {
	if c.closed.Swap(true) {
		return nil
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.ws == nil {
		return nil
	}
	c.ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
		time.Now().Add(time.Second))
	return c.ws.Close()
}

// Registry maps a user id to that user's live connection. A user has at
// most one entry; binding again replaces it.
type Registry struct {
	mu    sync.RWMutex
	conns map[string]*Conn
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{conns: make(map[string]*Conn)}
}

// Bind makes c the connection for userID and returns the one it
// replaced, if any.
func (r *Registry) Bind(userID string, c *Conn) *Conn {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev := r.conns[userID]
	r.conns[userID] = c
	return prev
}

// Unbind removes userID's entry only if it still points at c, so a
// stale connection closing cannot evict its replacement.
func (r *Registry) Unbind(userID string, c *Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conns[userID] != c {
		return false
	}
	delete(r.conns, userID)
	return true
}

// Lookup returns userID's connection.
func (r *Registry) Lookup(userID string) (*Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.conns[userID]
	return c, ok
}

// Len returns the number of bound users.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}

// Push sends an event to userID's bound connection. When from is
// non-nil the event is only delivered if userID is still bound to from;
// a result for a replaced or disconnected connection is discarded with
// ErrNotConnected.
func (r *Registry) Push(userID string, from *Conn, event string, data any) error {
	c, ok := r.Lookup(userID)
	if !ok || (from != nil && c != from) {
		return ErrNotConnected
	}
	return c.Send(event, data)
}
