package history

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/nugget/apiconsole/internal/events"
)

type fakeAppender struct {
	mu      sync.Mutex
	entries []Entry
	err     error
	block   chan struct{}
}

func (f *fakeAppender) Add(ctx context.Context, userID, query, api string, ts time.Time) (Entry, error) {
	if f.block != nil {
		<-f.block
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return Entry{}, f.err
	}
	e := Entry{UserID: userID, Query: query, API: api, Timestamp: ts.UnixMilli()}
	f.entries = append(f.entries, e)
	return e, nil
}

func (f *fakeAppender) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.entries)
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestRecorder_CloseDrainsQueue(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &fakeAppender{}
	r := NewRecorder(store, 16, nil, quietLogger())
	for range 10 {
		r.Record("u1", "get cat fact", "catfacts", base)
	}
	r.Close()

	if got := store.count(); got != 10 {
		t.Errorf("stored %d entries, want 10", got)
	}
}

func TestRecorder_DropsWhenFull(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := events.New()
	dropped := bus.Subscribe(16)
	defer bus.Unsubscribe(dropped)

	store := &fakeAppender{block: make(chan struct{})}
	r := NewRecorder(store, 1, bus, quietLogger())

	// The worker takes the first entry and blocks in Add; the second
	// fills the queue; the third has nowhere to go.
	r.Record("u1", "a", "bored", base)
	waitFor(t, func() bool { return len(r.queue) == 0 })
	r.Record("u1", "b", "bored", base)
	r.Record("u1", "c", "bored", base)

	select {
	case e := <-dropped:
		if e.Kind != events.KindRecordDropped || e.Data["reason"] != "queue full" {
			t.Errorf("unexpected event %+v", e)
		}
	case <-time.After(time.Second):
		t.Fatal("expected a drop event")
	}

	close(store.block)
	r.Close()

	if got := store.count(); got != 2 {
		t.Errorf("stored %d entries, want 2", got)
	}
}

func TestRecorder_WriteFailureIsSwallowed(t *testing.T) {
	defer goleak.VerifyNone(t)

	bus := events.New()
	dropped := bus.Subscribe(4)
	defer bus.Unsubscribe(dropped)

	r := NewRecorder(&fakeAppender{err: errors.New("database is locked")}, 4, bus, quietLogger())
	r.Record("u1", "weather", "weather", base)
	r.Close()

	select {
	case e := <-dropped:
		if e.Data["reason"] != "database is locked" {
			t.Errorf("reason = %v", e.Data["reason"])
		}
	default:
		t.Fatal("expected a drop event for the failed write")
	}
}

func TestRecorder_RecordAfterClose(t *testing.T) {
	defer goleak.VerifyNone(t)

	store := &fakeAppender{}
	r := NewRecorder(store, 4, nil, quietLogger())
	r.Close()
	r.Close()

	r.Record("u1", "late", "bored", base)
	if got := store.count(); got != 0 {
		t.Errorf("stored %d entries after close, want 0", got)
	}
}

func TestRecorder_WithStore(t *testing.T) {
	store := setupTestStore(t, 0)
	r := NewRecorder(store, 4, nil, quietLogger())
	r.Record("u1", "search github john", "github", base)
	r.Close()

	entries, err := store.List(context.Background(), "u1")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(entries) != 1 || entries[0].Query != "search github john" {
		t.Errorf("List() = %+v", entries)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(time.Millisecond)
	}
}
