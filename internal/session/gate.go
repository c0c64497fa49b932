package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nugget/apiconsole/internal/auth"
	"github.com/nugget/apiconsole/internal/command"
	"github.com/nugget/apiconsole/internal/events"
)

// Verifier turns a bearer credential into an identity.
type Verifier interface {
	Verify(token string) (auth.Identity, error)
}

// Executor runs a parsed command for a user.
type Executor interface {
	Execute(ctx context.Context, in command.Intent, userID string) (any, error)
}

// Options tunes the gate. Zero values take defaults.
type Options struct {
	// AuthTimeout bounds the wait for the auth frame.
	AuthTimeout time.Duration
	// WriteTimeout bounds each frame write.
	WriteTimeout time.Duration
	// CommandTimeout bounds a single command's execution.
	CommandTimeout time.Duration
	// CheckOrigin is passed to the upgrader. Nil accepts any origin.
	CheckOrigin func(r *http.Request) bool
}

const (
	defaultAuthTimeout    = 10 * time.Second
	defaultWriteTimeout   = 10 * time.Second
	defaultCommandTimeout = 30 * time.Second
	maxFrameSize          = 64 * 1024
)

// Gate is the WebSocket endpoint. Every connection must authenticate
// with its first frame before any command is accepted.
type Gate struct {
	verifier Verifier
	exec     Executor
	registry *Registry
	bus      *events.Bus
	logger   *slog.Logger
	opts     Options
	upgrader websocket.Upgrader
	now      func() time.Time

	// Commands run on baseCtx, not the request context. Close cancels it.
	baseCtx context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
	live   map[*Conn]struct{}
	wg     sync.WaitGroup
}

// NewGate creates a gate. bus may be nil.
func NewGate(v Verifier, exec Executor, reg *Registry, bus *events.Bus, logger *slog.Logger, opts Options) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = defaultAuthTimeout
	}
	if opts.WriteTimeout <= 0 {
		opts.WriteTimeout = defaultWriteTimeout
	}
	if opts.CommandTimeout <= 0 {
		opts.CommandTimeout = defaultCommandTimeout
	}
	checkOrigin := opts.CheckOrigin
	if checkOrigin == nil {
		checkOrigin = func(*http.Request) bool { return true }
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Gate{
		verifier: v,
		exec:     exec,
		registry: reg,
		bus:      bus,
		logger:   logger,
		opts:     opts,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     checkOrigin,
		},
		now:     time.Now,
		baseCtx: ctx,
		cancel:  cancel,
		live:    make(map[*Conn]struct{}),
	}
}

// ServeHTTP upgrades the request and runs the connection until the
// client goes away.
func (g *Gate) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	}
	g.wg.Add(1)
	g.mu.Unlock()
	defer g.wg.Done()

	ws, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		g.logger.Debug("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	ws.SetReadLimit(maxFrameSize)

	connID := uuid.NewString()
	log := g.logger.With("conn_id", connID)
	log.Debug("websocket connection attempt", "remote", r.RemoteAddr)

	id, err := g.authenticate(ws)
	if err != nil {
		log.Warn("websocket authentication failed", "remote", r.RemoteAddr, "error", err)
		g.reject(ws, connID, err)
		return
	}

	c := &Conn{
		id:           connID,
		identity:     id,
		ws:           ws,
		writeTimeout: g.opts.WriteTimeout,
		logger:       log,
	}
	if !g.track(c) {
		c.Close()
		return
	}
	defer g.untrack(c)

	if prev := g.registry.Bind(id.ID, c); prev != nil {
		log.Info("replacing existing connection", "user_id", id.ID, "previous_conn_id", prev.ID())
	}
	log.Info("websocket authenticated", "user_id", id.ID, "email", id.Email)
	g.bus.Publish(events.Event{
		Source: events.SourceSession,
		Kind:   events.KindConnected,
		Data:   map[string]any{"conn_id": connID, "user_id": id.ID},
	})

	c.Send(EventCommandStatus, CommandStatus{
		Status:  StatusSuccess,
		Message: "Connected as " + id.Email,
	})

	g.readLoop(c)

	c.Close()
	g.registry.Unbind(id.ID, c)
	log.Info("websocket disconnected", "user_id", id.ID, "email", id.Email)
	g.bus.Publish(events.Event{
		Source: events.SourceSession,
		Kind:   events.KindDisconnected,
		Data:   map[string]any{"conn_id": connID, "user_id": id.ID},
	})
}

// authenticate reads the first frame, which must be an auth event with
// a token the verifier accepts.
func (g *Gate) authenticate(ws *websocket.Conn) (auth.Identity, error) {
	ws.SetReadDeadline(g.now().Add(g.opts.AuthTimeout))
	defer ws.SetReadDeadline(time.Time{})

	_, msg, err := ws.ReadMessage()
	if err != nil {
		return auth.Identity{}, fmt.Errorf("read auth frame: %w", err)
	}
	var f Frame
	if err := json.Unmarshal(msg, &f); err != nil {
		return auth.Identity{}, fmt.Errorf("decode auth frame: %w", err)
	}
	if f.Event != EventAuth {
		return auth.Identity{}, fmt.Errorf("expected %s frame, got %q", EventAuth, f.Event)
	}
	var data AuthData
	if err := json.Unmarshal(f.Data, &data); err != nil || data.Token == "" {
		return auth.Identity{}, errors.New("no authentication token provided")
	}
	return g.verifier.Verify(data.Token)
}

func (g *Gate) reject(ws *websocket.Conn, connID string, cause error) {
	payload, _ := json.Marshal(outFrame{
		Event: EventCommandStatus,
		Data:  CommandStatus{Status: StatusError, Error: "Authentication failed"},
	})
	deadline := g.now().Add(g.opts.WriteTimeout)
	ws.SetWriteDeadline(deadline)
	ws.WriteMessage(websocket.TextMessage, payload)
	ws.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "authentication failed"),
		deadline)
	ws.Close()

	g.bus.Publish(events.Event{
		Source: events.SourceSession,
		Kind:   events.KindRejected,
		Data:   map[string]any{"conn_id": connID, "reason": cause.Error()},
	})
}

func (g *Gate) readLoop(c *Conn) {
	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) && !c.closed.Load() {
				c.logger.Debug("websocket read ended", "error", err)
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(msg, &f); err != nil {
			c.logger.Debug("ignoring malformed frame", "error", err)
			continue
		}

		switch f.Event {
		case EventChatCommand:
			var cmd ChatCommand
			if err := json.Unmarshal(f.Data, &cmd); err != nil {
				c.Send(EventCommandStatus, CommandStatus{Status: StatusError, Error: "Invalid command payload"})
				continue
			}
			g.wg.Add(1)
			go func() {
				defer g.wg.Done()
				g.handleCommand(c, cmd.Command)
			}()

		case EventPing:
			c.Send(EventPong, Pong{Message: "Server is responding!", User: c.identity.Email})

		case EventAuth:
			// Rebinding needs a fresh connection.
			c.logger.Debug("ignoring repeated auth frame")

		default:
			c.logger.Debug("unhandled websocket event", "event", f.Event)
		}
	}
}

// handleCommand runs one command and reports its progress. The busy
// indicator is always cleared last, whatever the outcome. Outcomes go
// through the registry, so a connection that has been replaced or
// unbound while the command ran never sees its result.
func (g *Gate) handleCommand(c *Conn, text string) {
	user := c.identity
	c.logger.Info("command received", "user_id", user.ID, "email", user.Email, "command", text)

	c.Send(EventCommandStatus, CommandStatus{Status: StatusProcessing})
	c.Send(EventTypingIndicator, TypingIndicator{IsProcessing: true})
	defer c.Send(EventTypingIndicator, TypingIndicator{IsProcessing: false})

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("command panicked", "command", text, "panic", r)
			g.deliver(c, EventCommandStatus, CommandStatus{Status: StatusError, Error: "Internal server error"})
		}
	}()

	ctx, cancel := context.WithTimeout(g.baseCtx, g.opts.CommandTimeout)
	defer cancel()

	in := command.Parse(text)
	result, err := g.exec.Execute(ctx, in, user.ID)
	if err != nil {
		g.deliver(c, EventCommandStatus, CommandStatus{Status: StatusError, Error: err.Error()})
		return
	}

	g.deliver(c, EventAPIResponse, APIResponse{
		Command:   text,
		Result:    result,
		API:       string(in.API),
		Timestamp: g.now().UnixMilli(),
	})
	g.deliver(c, EventCommandStatus, CommandStatus{Status: StatusSuccess})
}

// deliver pushes a command outcome to c's user if c is still the bound
// connection, and drops it otherwise.
func (g *Gate) deliver(c *Conn, event string, data any) {
	err := g.registry.Push(c.identity.ID, c, event, data)
	if errors.Is(err, ErrNotConnected) {
		c.logger.Debug("discarding result for unbound connection", "event", event, "user_id", c.identity.ID)
	}
}

func (g *Gate) track(c *Conn) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false
	}
	g.live[c] = struct{}{}
	return true
}

func (g *Gate) untrack(c *Conn) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.live, c)
}

// Sessions returns the number of authenticated connections, including
// ones whose binding has been replaced.
func (g *Gate) Sessions() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.live)
}

// BoundUsers returns the number of users with a bound connection.
func (g *Gate) BoundUsers() int {
	return g.registry.Len()
}

// Close refuses new connections, closes live ones, cancels in-flight
// commands, and waits for every connection goroutine to finish.
func (g *Gate) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	conns := make([]*Conn, 0, len(g.live))
	for c := range g.live {
		conns = append(conns, c)
	}
	g.mu.Unlock()

	g.cancel()
	for _, c := range conns {
		c.Close()
	}
	g.wg.Wait()
}
