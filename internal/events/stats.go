package events

import (
	"context"
	"sync"
	"time"
)

// APICounts tallies dispatch outcomes for one api tag.
type APICounts struct {
	Success int64 `json:"success"`
	Error   int64 `json:"error"`
}

// Snapshot is a point-in-time copy of the collected counters.
type Snapshot struct {
	Since          time.Time            `json:"since"`
	ActiveSessions int64                `json:"activeSessions"`
	Connections    int64                `json:"connections"`
	Rejected       int64                `json:"rejected"`
	Dispatches     map[string]APICounts `json:"dispatches"`
	HistoryDropped int64                `json:"historyDropped"`

	// Filled from the gate at read time, not from events.
	LiveConnections int `json:"liveConnections"`
	BoundUsers      int `json:"boundUsers"`
}

// Stats folds bus events into counters served by GET /api/v1/stats.
type Stats struct {
	mu   sync.Mutex
	snap Snapshot
}

// NewStats returns an empty collector.
func NewStats() *Stats {
	return &Stats{snap: Snapshot{
		Since:      time.Now(),
		Dispatches: make(map[string]APICounts),
	}}
}

// Run subscribes to bus and applies events until ctx is done.
func (s *Stats) Run(ctx context.Context, bus *Bus) {
	ch := bus.Subscribe(256)
	defer bus.Unsubscribe(ch)

	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			s.Apply(e)
		}
	}
}

// Apply folds a single event into the counters.
func (s *Stats) Apply(e Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch e.Kind {
	case KindDispatchDone:
		api, _ := e.Data["api"].(string)
		c := s.snap.Dispatches[api]
		if ok, _ := e.Data["ok"].(bool); ok {
			c.Success++
		} else {
			c.Error++
		}
		s.snap.Dispatches[api] = c
	case KindConnected:
		s.snap.Connections++
		s.snap.ActiveSessions++
	case KindDisconnected:
		if s.snap.ActiveSessions > 0 {
			s.snap.ActiveSessions--
		}
	case KindRejected:
		s.snap.Rejected++
	case KindRecordDropped:
		s.snap.HistoryDropped++
	}
}

// Snapshot returns a copy of the current counters.
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := s.snap
	out.Dispatches = make(map[string]APICounts, len(s.snap.Dispatches))
	for k, v := range s.snap.Dispatches {
		out.Dispatches[k] = v
	}
	return out
}
