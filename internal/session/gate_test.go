package session

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/gorilla/websocket"

	"github.com/nugget/apiconsole/internal/auth"
	"github.com/nugget/apiconsole/internal/command"
	"github.com/nugget/apiconsole/internal/events"
)

type fakeVerifier struct{}

func (fakeVerifier) Verify(token string) (auth.Identity, error) {
	if token == "alice-token" {
		return auth.Identity{ID: "u-alice", Email: "alice@example.com"}, nil
	}
	return auth.Identity{}, errors.New("Invalid token")
}

type execFunc func(ctx context.Context, in command.Intent, userID string) (any, error)

func (f execFunc) Execute(ctx context.Context, in command.Intent, userID string) (any, error) {
	return f(ctx, in, userID)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type harness struct {
	gate     *Gate
	registry *Registry
	bus      *events.Bus
	url      string
}

func startGate(t *testing.T, exec Executor, opts Options) *harness {
	t.Helper()
	h := &harness{registry: NewRegistry(), bus: events.New()}
	h.gate = NewGate(fakeVerifier{}, exec, h.registry, h.bus, quietLogger(), opts)
	srv := httptest.NewServer(h.gate)
	h.url = srv.URL
	t.Cleanup(func() {
		h.gate.Close()
		srv.Close()
	})
	return h
}

func (h *harness) connect(t *testing.T) *Client {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c := NewClient(h.url, "alice-token", quietLogger())
	if _, err := c.Connect(ctx); err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func dialRaw(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	ws, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(url, "http")+DefaultPath, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	t.Cleanup(func() { ws.Close() })
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) Frame {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(2 * time.Second))
	var f Frame
	if err := ws.ReadJSON(&f); err != nil {
		t.Fatalf("read frame: %v", err)
	}
	return f
}

func decode[T any](t *testing.T, f Frame) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(f.Data, &v); err != nil {
		t.Fatalf("decode %s: %v", f.Event, err)
	}
	return v
}

func eventNames(frames []Frame) []string {
	names := make([]string, len(frames))
	for i, f := range frames {
		names[i] = f.Event
	}
	return names
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func nopExec() Executor {
	return execFunc(func(context.Context, command.Intent, string) (any, error) { return "ok", nil })
}

func TestGate_AuthenticatesAndBinds(t *testing.T) {
	h := startGate(t, nopExec(), Options{})
	sub := h.bus.Subscribe(8)
	defer h.bus.Unsubscribe(sub)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	c := NewClient(h.url, "alice-token", quietLogger())
	welcome, err := c.Connect(ctx)
	if err != nil {
		t.Fatalf("Connect() error: %v", err)
	}
	defer c.Close()

	want := CommandStatus{Status: StatusSuccess, Message: "Connected as alice@example.com"}
	if diff := cmp.Diff(want, welcome); diff != "" {
		t.Errorf("welcome mismatch (-want +got):\n%s", diff)
	}
	if _, ok := h.registry.Lookup("u-alice"); !ok {
		t.Error("user not bound after handshake")
	}

	select {
	case e := <-sub:
		if e.Kind != events.KindConnected || e.Data["user_id"] != "u-alice" {
			t.Errorf("event = %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("no connected event")
	}
}

func TestGate_RejectsBadHandshake(t *testing.T) {
	tests := []struct {
		name  string
		first string
	}{
		{"invalid token", `{"event":"auth","data":{"token":"nope"}}`},
		{"missing token", `{"event":"auth","data":{}}`},
		{"command before auth", `{"event":"chatCommand","data":{"command":"get cat fact"}}`},
		{"not json", `hello`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var calls atomic.Int32
			h := startGate(t, execFunc(func(context.Context, command.Intent, string) (any, error) {
				calls.Add(1)
				return nil, nil
			}), Options{})

			ws := dialRaw(t, h.url)
			if err := ws.WriteMessage(websocket.TextMessage, []byte(tt.first)); err != nil {
				t.Fatal(err)
			}

			f := readFrame(t, ws)
			got := decode[CommandStatus](t, f)
			if f.Event != EventCommandStatus || got.Status != StatusError || got.Error != "Authentication failed" {
				t.Errorf("frame = %s %+v", f.Event, got)
			}

			ws.SetReadDeadline(time.Now().Add(2 * time.Second))
			if _, _, err := ws.ReadMessage(); err == nil {
				t.Error("connection still open after rejection")
			}
			if h.registry.Len() != 0 {
				t.Error("rejected connection was bound")
			}
			if calls.Load() != 0 {
				t.Error("command executed on an unauthenticated connection")
			}
		})
	}
}

func TestGate_AuthTimeout(t *testing.T) {
	h := startGate(t, nopExec(), Options{AuthTimeout: 50 * time.Millisecond})
	ws := dialRaw(t, h.url)

	got := decode[CommandStatus](t, readFrame(t, ws))
	if got.Error != "Authentication failed" {
		t.Errorf("status = %+v", got)
	}
}

func TestGate_ClientRejectedToken(t *testing.T) {
	h := startGate(t, nopExec(), Options{})
	c := NewClient(h.url, "wrong", quietLogger())
	status, err := c.Connect(context.Background())
	if !errors.Is(err, ErrAuthFailed) {
		t.Fatalf("Connect() error = %v, want ErrAuthFailed", err)
	}
	if status.Error != "Authentication failed" {
		t.Errorf("status = %+v", status)
	}
}

func TestGate_CommandSuccessSequence(t *testing.T) {
	type call struct {
		in     command.Intent
		userID string
	}
	calls := make(chan call, 1)
	h := startGate(t, execFunc(func(_ context.Context, in command.Intent, userID string) (any, error) {
		calls <- call{in, userID}
		return map[string]string{"location": "Paris"}, nil
	}), Options{})
	c := h.connect(t)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	frames, err := c.Do(ctx, "Weather in Paris")
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}

	wantEvents := []string{
		EventCommandStatus, EventTypingIndicator, EventAPIResponse, EventCommandStatus, EventTypingIndicator,
	}
	if diff := cmp.Diff(wantEvents, eventNames(frames)); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}

	if s := decode[CommandStatus](t, frames[0]); s.Status != StatusProcessing {
		t.Errorf("first status = %+v", s)
	}
	if ti := decode[TypingIndicator](t, frames[1]); !ti.IsProcessing {
		t.Error("busy indicator not raised")
	}

	var resp struct {
		Command   string            `json:"command"`
		Result    map[string]string `json:"result"`
		API       string            `json:"api"`
		Timestamp int64             `json:"timestamp"`
	}
	if err := json.Unmarshal(frames[2].Data, &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Command != "Weather in Paris" || resp.API != "weather" || resp.Result["location"] != "Paris" || resp.Timestamp == 0 {
		t.Errorf("apiResponse = %+v", resp)
	}

	if s := decode[CommandStatus](t, frames[3]); s.Status != StatusSuccess {
		t.Errorf("final status = %+v", s)
	}
	got := <-calls
	if got.in.API != command.APIWeather || got.in.Param(0) != "paris" || got.userID != "u-alice" {
		t.Errorf("executor saw %+v for %q", got.in, got.userID)
	}
}

func TestGate_CommandErrorSequence(t *testing.T) {
	h := startGate(t, execFunc(func(context.Context, command.Intent, string) (any, error) {
		return nil, errors.New("Failed to execute command: Provider call failed: boom")
	}), Options{})
	c := h.connect(t)

	frames, err := c.Do(context.Background(), "get cat fact")
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}

	wantEvents := []string{EventCommandStatus, EventTypingIndicator, EventCommandStatus, EventTypingIndicator}
	if diff := cmp.Diff(wantEvents, eventNames(frames)); diff != "" {
		t.Fatalf("event order mismatch (-want +got):\n%s", diff)
	}
	want := CommandStatus{Status: StatusError, Error: "Failed to execute command: Provider call failed: boom"}
	if diff := cmp.Diff(want, decode[CommandStatus](t, frames[2])); diff != "" {
		t.Errorf("error status mismatch (-want +got):\n%s", diff)
	}
}

func TestGate_CommandPanicStillClearsBusy(t *testing.T) {
	h := startGate(t, execFunc(func(context.Context, command.Intent, string) (any, error) {
		panic("adapter exploded")
	}), Options{})
	c := h.connect(t)

	frames, err := c.Do(context.Background(), "get cat fact")
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	last := frames[len(frames)-1]
	if ti := decode[TypingIndicator](t, last); last.Event != EventTypingIndicator || ti.IsProcessing {
		t.Errorf("last frame = %s %s", last.Event, last.Data)
	}
	if s := decode[CommandStatus](t, frames[len(frames)-2]); s.Error != "Internal server error" {
		t.Errorf("status = %+v", s)
	}
}

func TestGate_Ping(t *testing.T) {
	h := startGate(t, nopExec(), Options{})
	c := h.connect(t)

	if err := c.Ping(); err != nil {
		t.Fatal(err)
	}
	select {
	case f := <-c.Frames():
		want := Pong{Message: "Server is responding!", User: "alice@example.com"}
		if diff := cmp.Diff(want, decode[Pong](t, f)); f.Event != EventPong || diff != "" {
			t.Errorf("pong mismatch (-want +got):\n%s", diff)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no pong")
	}
}

func TestGate_DisconnectUnbinds(t *testing.T) {
	h := startGate(t, nopExec(), Options{})
	sub := h.bus.Subscribe(8)
	defer h.bus.Unsubscribe(sub)

	c := h.connect(t)
	c.Close()

	waitFor(t, func() bool { return h.registry.Len() == 0 && h.gate.Sessions() == 0 })

	for {
		select {
		case e := <-sub:
			if e.Kind == events.KindDisconnected {
				return
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no disconnected event")
		}
	}
}

func TestGate_StaleDisconnectKeepsNewBinding(t *testing.T) {
	h := startGate(t, nopExec(), Options{})

	first := h.connect(t)
	waitFor(t, func() bool { return h.gate.Sessions() == 1 })
	h.connect(t)
	waitFor(t, func() bool { return h.gate.Sessions() == 2 })

	first.Close()
	waitFor(t, func() bool { return h.gate.Sessions() == 1 })

	if _, ok := h.registry.Lookup("u-alice"); !ok {
		t.Error("closing the replaced connection removed the new binding")
	}
}

func TestGate_CloseCancelsInFlight(t *testing.T) {
	started := make(chan struct{})
	var cancelled atomic.Bool
	h := startGate(t, execFunc(func(ctx context.Context, _ command.Intent, _ string) (any, error) {
		close(started)
		<-ctx.Done()
		cancelled.Store(true)
		return nil, ctx.Err()
	}), Options{})
	c := h.connect(t)

	if err := c.Send("get cat fact"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-started:
	case <-time.After(2 * time.Second):
		t.Fatal("command never started")
	}

	done := make(chan struct{})
	go func() {
		h.gate.Close()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Close() did not return")
	}
	if !cancelled.Load() {
		t.Error("in-flight command was not cancelled")
	}
}

func TestGate_ReplacedConnectionLosesResult(t *testing.T) {
	h := startGate(t, nopExec(), Options{})

	first := h.connect(t)
	second := h.connect(t)
	waitFor(t, func() bool { return h.gate.Sessions() == 2 && h.gate.BoundUsers() == 1 })

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	frames, err := first.Do(ctx, "get cat fact")
	if err != nil {
		t.Fatalf("Do() on replaced connection: %v", err)
	}
	wantEvents := []string{EventCommandStatus, EventTypingIndicator, EventTypingIndicator}
	if diff := cmp.Diff(wantEvents, eventNames(frames)); diff != "" {
		t.Errorf("replaced connection events mismatch (-want +got):\n%s", diff)
	}

	frames, err = second.Do(ctx, "get cat fact")
	if err != nil {
		t.Fatalf("Do() on bound connection: %v", err)
	}
	wantEvents = []string{
		EventCommandStatus, EventTypingIndicator, EventAPIResponse, EventCommandStatus, EventTypingIndicator,
	}
	if diff := cmp.Diff(wantEvents, eventNames(frames)); diff != "" {
		t.Errorf("bound connection events mismatch (-want +got):\n%s", diff)
	}
}

// nextResponse reads frames until an apiResponse arrives and returns
// the command it answers.
func nextResponse(t *testing.T, c *Client) string {
	t.Helper()
	for {
		select {
		case f, ok := <-c.Frames():
			if !ok {
				t.Fatal("connection closed")
			}
			if f.Event == EventAPIResponse {
				var resp struct {
					Command string `json:"command"`
				}
				if err := json.Unmarshal(f.Data, &resp); err != nil {
					t.Fatal(err)
				}
				return resp.Command
			}
		case <-time.After(2 * time.Second):
			t.Fatal("no apiResponse")
		}
	}
}

func TestGate_SlowCommandDoesNotBlockLaterOne(t *testing.T) {
	release := make(chan struct{})
	slowStarted := make(chan struct{})
	h := startGate(t, execFunc(func(ctx context.Context, in command.Intent, _ string) (any, error) {
		if in.API != command.APIWeather {
			return "fast", nil
		}
		close(slowStarted)
		select {
		case <-release:
			return "slow", nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}), Options{})
	c := h.connect(t)

	if err := c.Send("weather in paris"); err != nil {
		t.Fatal(err)
	}
	select {
	case <-slowStarted:
	case <-time.After(2 * time.Second):
		t.Fatal("slow command never started")
	}
	if err := c.Send("get cat fact"); err != nil {
		t.Fatal(err)
	}

	if got := nextResponse(t, c); got != "get cat fact" {
		t.Fatalf("first response answered %q, want the later fast command", got)
	}

	close(release)
	if got := nextResponse(t, c); got != "weather in paris" {
		t.Errorf("second response answered %q, want the slow command", got)
	}
}
