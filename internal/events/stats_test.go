package events

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestStats_Apply(t *testing.T) {
	s := NewStats()

	s.Apply(Event{Kind: KindConnected})
	s.Apply(Event{Kind: KindConnected})
	s.Apply(Event{Kind: KindDisconnected})
	s.Apply(Event{Kind: KindRejected})
	s.Apply(Event{Kind: KindDispatchDone, Data: map[string]any{"api": "weather", "ok": true}})
	s.Apply(Event{Kind: KindDispatchDone, Data: map[string]any{"api": "weather", "ok": false}})
	s.Apply(Event{Kind: KindDispatchDone, Data: map[string]any{"api": "github", "ok": true}})
	s.Apply(Event{Kind: KindRecordDropped})

	want := Snapshot{
		ActiveSessions: 1,
		Connections:    2,
		Rejected:       1,
		HistoryDropped: 1,
		Dispatches: map[string]APICounts{
			"weather": {Success: 1, Error: 1},
			"github":  {Success: 1},
		},
	}
	if diff := cmp.Diff(want, s.Snapshot(), cmpopts.IgnoreFields(Snapshot{}, "Since")); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
}

func TestStats_DisconnectNeverNegative(t *testing.T) {
	s := NewStats()
	s.Apply(Event{Kind: KindDisconnected})
	if got := s.Snapshot().ActiveSessions; got != 0 {
		t.Errorf("ActiveSessions = %d, want 0", got)
	}
}

func TestStats_SnapshotIsCopy(t *testing.T) {
	s := NewStats()
	s.Apply(Event{Kind: KindDispatchDone, Data: map[string]any{"api": "bored", "ok": true}})

	snap := s.Snapshot()
	snap.Dispatches["bored"] = APICounts{Success: 99}

	if got := s.Snapshot().Dispatches["bored"].Success; got != 1 {
		t.Errorf("collector mutated through snapshot: success = %d", got)
	}
}

func TestStats_Run(t *testing.T) {
	bus := New()
	s := NewStats()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx, bus)
		close(done)
	}()

	deadline := time.Now().Add(time.Second)
	for bus.SubscriberCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("collector never subscribed")
		}
		time.Sleep(time.Millisecond)
	}

	bus.Publish(Event{Source: SourceSession, Kind: KindConnected})

	for s.Snapshot().Connections == 0 {
		if time.Now().After(deadline) {
			t.Fatal("event never applied")
		}
		time.Sleep(time.Millisecond)
	}

	cancel()
	<-done
	if got := bus.SubscriberCount(); got != 0 {
		t.Errorf("SubscriberCount() after Run = %d, want 0", got)
	}
}
