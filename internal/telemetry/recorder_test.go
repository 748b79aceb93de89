package telemetry

import (
	"context"
	"sync"
	"testing"
	"time"
)

type captureSink struct {
	mu      sync.Mutex
	batches [][]Event
}

func (s *captureSink) WriteEvents(ctx context.Context, events []Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make([]Event, len(events))
	copy(copied, events)
	s.batches = append(s.batches, copied)
	return nil
}

func (s *captureSink) all() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, batch := range s.batches {
		out = append(out, batch...)
	}
	return out
}

func newTestRecorder(maxQueue int) (*Recorder, *captureSink) {
	sink := &captureSink{}
	cfg := Config{FlushInterval: 0, MaxQueue: maxQueue, FlushTimeout: time.Second}
	return NewRecorder(cfg, "sess_test", sink), sink
}

func TestRecordQueuesUntilFlush(t *testing.T) {
	rec, sink := newTestRecorder(100)

	rec.Record("chunk_state_changed", map[string]interface{}{"chunk": "gallery"})
	rec.Record("quality_tier_changed", nil)

	if rec.QueueLen() != 2 {
		t.Fatalf("expected 2 queued events, got %d", rec.QueueLen())
	}
	if len(sink.all()) != 0 {
		t.Fatalf("expected nothing delivered before flush")
	}

	rec.Flush()
	if rec.QueueLen() != 0 {
		t.Fatalf("expected empty queue after flush")
	}
	events := sink.all()
	if len(events) != 2 {
		t.Fatalf("expected 2 delivered events, got %d", len(events))
	}
	if events[0].SessionID != "sess_test" || events[0].Schema != SchemaVersion {
		t.Fatalf("event missing envelope fields: %+v", events[0])
	}
}

func TestQueueFullTriggersFlush(t *testing.T) {
	rec, sink := newTestRecorder(3)

	rec.Record("a", nil)
	rec.Record("b", nil)
	if len(sink.all()) != 0 {
		t.Fatalf("flush fired before queue was full")
	}
	rec.Record("c", nil)
	if len(sink.all()) != 3 {
		t.Fatalf("expected flush at queue limit, delivered %d", len(sink.all()))
	}
}

func TestTerminalEventFlushesImmediately(t *testing.T) {
	rec, sink := newTestRecorder(100)

	rec.Record("room_dwell", nil)
	rec.Record("context_lost", map[string]interface{}{"reason": "gpu reset"})

	events := sink.all()
	if len(events) != 2 {
		t.Fatalf("expected immediate flush on terminal event, delivered %d", len(events))
	}
	if events[1].Type != "context_lost" {
		t.Fatalf("expected context_lost delivered, got %s", events[1].Type)
	}
}

func TestMilestoneOffsetLookup(t *testing.T) {
	rec, _ := newTestRecorder(100)
	base := time.Now()
	elapsed := time.Duration(0)
	rec.now = func() time.Time { return base.Add(elapsed) }
	rec.sessionStart = base

	elapsed = 1500 * time.Millisecond
	rec.RecordMilestone("first_chunk_loaded", nil)
	elapsed = 4 * time.Second
	rec.RecordMilestone("first_chunk_loaded", nil) // repeat keeps first offset

	offset, ok := rec.MilestoneOffsetMs("first_chunk_loaded")
	if !ok {
		t.Fatalf("expected milestone recorded")
	}
	if offset != 1500 {
		t.Fatalf("expected first-occurrence offset 1500ms, got %d", offset)
	}
	if _, ok := rec.MilestoneOffsetMs("first_room_entered"); ok {
		t.Fatalf("expected missing milestone to miss")
	}
}

func TestCloseFlushesSessionEnd(t *testing.T) {
	rec, sink := newTestRecorder(100)
	rec.Record("room_dwell", nil)
	rec.Close()

	events := sink.all()
	if len(events) != 2 {
		t.Fatalf("expected queued event plus session_end, got %d", len(events))
	}
	last := events[len(events)-1]
	if last.Type != "session_end" || last.Category != CategoryMilestone {
		t.Fatalf("expected trailing session_end milestone, got %+v", last)
	}

	// Records after close are dropped.
	rec.Record("late", nil)
	if rec.QueueLen() != 0 {
		t.Fatalf("expected records after close to be dropped")
	}
}

func TestConcurrentCloseIsSafe(t *testing.T) {
	rec, sink := newTestRecorder(100)
	rec.Start()
	rec.Record("room_dwell", nil)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec.Close()
		}()
	}
	wg.Wait()

	ends := 0
	for _, ev := range sink.all() {
		if ev.Type == "session_end" {
			ends++
		}
	}
	if ends != 1 {
		t.Fatalf("expected exactly one session_end, got %d", ends)
	}
}

func TestIntervalFlushLoopStops(t *testing.T) {
	sink := &captureSink{}
	cfg := Config{FlushInterval: 5 * time.Millisecond, MaxQueue: 100, FlushTimeout: time.Second}
	rec := NewRecorder(cfg, "sess_loop", sink)
	rec.Start()

	rec.Record("tick", nil)
	deadline := time.Now().Add(time.Second)
	for len(sink.all()) == 0 {
		if time.Now().After(deadline) {
			t.Fatalf("interval flush never fired")
		}
		time.Sleep(time.Millisecond)
	}
	rec.Close()
}
