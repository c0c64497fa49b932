package history

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nugget/apiconsole/internal/events"
)

// DefaultQueueSize bounds how many pending writes the recorder holds.
const DefaultQueueSize = 256

// writeTimeout bounds a single background insert.
const writeTimeout = 5 * time.Second

// Appender is the write side of the history store.
type Appender interface {
	Add(ctx context.Context, userID, query, api string, ts time.Time) (Entry, error)
}

type pending struct {
	userID string
	query  string
	api    string
	ts     time.Time
}

// Recorder persists entries on a background worker so the dispatch
// path never waits on SQLite. When the queue is full, or a write fails,
// the entry is dropped and logged; callers never see the failure.
type Recorder struct {
	store  Appender
	logger *slog.Logger
	bus    *events.Bus

	mu     sync.RWMutex
	closed bool
	queue  chan pending
	done   chan struct{}
}

// NewRecorder starts the background worker. Call Close to stop it.
func NewRecorder(store Appender, queueSize int, bus *events.Bus, logger *slog.Logger) *Recorder {
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	r := &Recorder{
		store:  store,
		logger: logger,
		bus:    bus,
		queue:  make(chan pending, queueSize),
		done:   make(chan struct{}),
	}
	go r.run()
	return r
}

// Record queues an entry without blocking. It is a no-op after Close.
func (r *Recorder) Record(userID, query, api string, ts time.Time) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		r.drop(pending{userID: userID, api: api}, "recorder closed")
		return
	}

	select {
	case r.queue <- pending{userID: userID, query: query, api: api, ts: ts}:
	default:
		r.drop(pending{userID: userID, api: api}, "queue full")
	}
}

// Close stops accepting entries, writes everything already queued, and
// waits for the worker to exit.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		<-r.done
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	<-r.done
}

func (r *Recorder) run() {
	defer close(r.done)
	for p := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		_, err := r.store.Add(ctx, p.userID, p.query, p.api, p.ts)
		cancel()
		if err != nil {
			r.drop(p, err.Error())
			continue
		}
		r.logger.Debug("history entry recorded", "user_id", p.userID, "api", p.api)
	}
}

func (r *Recorder) drop(p pending, reason string) {
	r.logger.Warn("history entry dropped",
		"user_id", p.userID,
		"api", p.api,
		"reason", reason,
	)
	r.bus.Publish(events.Event{
		Source: events.SourceHistory,
		Kind:   events.KindRecordDropped,
		Data:   map[string]any{"user_id": p.userID, "api": p.api, "reason": reason},
	})
}
