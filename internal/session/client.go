package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultPath is where the gate is mounted.
const DefaultPath = "/api/v1/ws"

// ErrAuthFailed is returned by Connect when the gate rejects the token.
var ErrAuthFailed = errors.New("authentication failed")

// Client drives the console channel from the other side: it dials,
// authenticates, and sends commands.
type Client struct {
	serverURL string
	token     string
	logger    *slog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex

	frames chan Frame
}

// NewClient creates a client for serverURL. An http(s) URL is mapped to
// ws(s), and an empty path becomes DefaultPath.
func NewClient(serverURL, token string, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		serverURL: serverURL,
		token:     token,
		logger:    logger,
		frames:    make(chan Frame, 64),
	}
}

// Connect dials the gate and authenticates. It returns the gate's
// welcome status.
func (c *Client) Connect(ctx context.Context) (CommandStatus, error) {
	u, err := url.Parse(c.serverURL)
	if err != nil {
		return CommandStatus{}, fmt.Errorf("parse server URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	if u.Path == "" || u.Path == "/" {
		u.Path = DefaultPath
	}

	c.logger.Debug("connecting to console", "url", u.String())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return CommandStatus{}, fmt.Errorf("dial websocket: %w", err)
	}

	if err := conn.WriteJSON(outFrame{Event: EventAuth, Data: AuthData{Token: c.token}}); err != nil {
		conn.Close()
		return CommandStatus{}, fmt.Errorf("send auth: %w", err)
	}

	if deadline, ok := ctx.Deadline(); ok {
		conn.SetReadDeadline(deadline)
	}
	var welcome Frame
	if err := conn.ReadJSON(&welcome); err != nil {
		conn.Close()
		return CommandStatus{}, fmt.Errorf("read auth response: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	if welcome.Event != EventCommandStatus {
		conn.Close()
		return CommandStatus{}, fmt.Errorf("unexpected auth response: %s", welcome.Event)
	}
	var status CommandStatus
	if err := json.Unmarshal(welcome.Data, &status); err != nil {
		conn.Close()
		return CommandStatus{}, fmt.Errorf("decode auth response: %w", err)
	}
	if status.Status != StatusSuccess {
		conn.Close()
		return status, ErrAuthFailed
	}

	c.connMu.Lock()
	c.conn = conn
	c.connMu.Unlock()

	go c.readLoop(conn)
	return status, nil
}

// Frames returns the channel of frames received after the handshake.
// It is closed when the connection ends.
func (c *Client) Frames() <-chan Frame {
	return c.frames
}

// Send sends a chat command.
func (c *Client) Send(text string) error {
	return c.write(outFrame{
		Event: EventChatCommand,
		Data:  ChatCommand{Command: text, Timestamp: time.Now().UnixMilli()},
	})
}

// Ping asks the gate for a pong.
func (c *Client) Ping() error {
	return c.write(outFrame{Event: EventPing, Data: struct{}{}})
}

// Do sends one command and collects every frame up to and including
// the cleared busy indicator. It assumes no other command is in flight.
func (c *Client) Do(ctx context.Context, text string) ([]Frame, error) {
	if err := c.Send(text); err != nil {
		return nil, err
	}
	var got []Frame
	for {
		select {
		case f, ok := <-c.frames:
			if !ok {
				return got, ErrClosed
			}
			got = append(got, f)
			if f.Event == EventTypingIndicator {
				var ti TypingIndicator
				if json.Unmarshal(f.Data, &ti) == nil && !ti.IsProcessing {
					return got, nil
				}
			}
		case <-ctx.Done():
			return got, ctx.Err()
		}
	}
}

// Close closes the connection.
func (c *Client) Close() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	err := c.conn.Close()
	c.conn = nil
	return err
}

func (c *Client) write(v any) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.conn == nil {
		return ErrClosed
	}
	return c.conn.WriteJSON(v)
}

func (c *Client) readLoop(conn *websocket.Conn) {
	defer close(c.frames)
	for {
		var f Frame
		if err := conn.ReadJSON(&f); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Debug("console connection lost", "error", err)
			}
			return
		}
		select {
		case c.frames <- f:
		default:
			c.logger.Warn("frame channel full, dropping frame", "event", f.Event)
		}
	}
}
