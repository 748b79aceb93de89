package telemetry

import (
	"context"
	"log"
	"sync"
	"time"
)

// Sink receives flushed event batches. The recorder guarantees
// flush-before-close semantics, not delivery; sinks own transport concerns.
type Sink interface {
	WriteEvents(ctx context.Context, events []Event) error
}

// Config tunes the recorder's batching behavior.
type Config struct {
	// FlushInterval is the periodic flush cadence.
	FlushInterval time.Duration
	// MaxQueue flushes as soon as this many events are queued.
	MaxQueue int
	// FlushTimeout bounds a single sink write.
	FlushTimeout time.Duration
}

// DefaultConfig returns the standard batching parameters.
func DefaultConfig() Config {
	return Config{
		FlushInterval: 15 * time.Second,
		MaxQueue:      64,
		FlushTimeout:  5 * time.Second,
	}
}

// Recorder is an append-only event sink for one session. Events are queued
// and flushed in batches: on a fixed interval, when the queue fills, when
// the session ends, and immediately for terminal events.
type Recorder struct {
	mu           sync.Mutex
	cfg          Config
	sessionID    string
	sessionStart time.Time
	queue        []Event
	milestones   map[string]int64
	sink         Sink
	stop         chan struct{}
	wg           sync.WaitGroup
	closed       bool

	now func() time.Time
}

// NewRecorder builds a recorder for sessionID flushing to sink. Call Start
// to begin interval flushing and Close to flush the tail.
func NewRecorder(cfg Config, sessionID string, sink Sink) *Recorder {
	if cfg.MaxQueue <= 0 {
		cfg.MaxQueue = DefaultConfig().MaxQueue
	}
	if cfg.FlushTimeout <= 0 {
		cfg.FlushTimeout = DefaultConfig().FlushTimeout
	}
	now := time.Now
	return &Recorder{
		cfg:          cfg,
		sessionID:    sessionID,
		sessionStart: now(),
		milestones:   make(map[string]int64),
		sink:         sink,
		stop:         make(chan struct{}),
		now:          now,
	}
}

// Start launches the interval flush loop. Safe to skip in tests; Record and
// Flush work without it.
func (r *Recorder) Start() {
	if r.cfg.FlushInterval <= 0 {
		return
	}
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		ticker := time.NewTicker(r.cfg.FlushInterval)
		defer ticker.Stop()
		for {
			select {
			case <-r.stop:
				return
			case <-ticker.C:
				r.Flush()
			}
		}
	}()
}

// SessionID returns the session this recorder belongs to.
func (r *Recorder) SessionID() string {
	return r.sessionID
}

// Record queues an engagement event. Satisfies the Recorder interfaces the
// chunk store, quality controller, and fault engine accept.
func (r *Recorder) Record(eventType string, payload map[string]interface{}) {
	r.record(eventType, CategoryEngagement, payload)
}

// RecordMilestone queues a milestone event timestamped relative to session
// start. Only the first occurrence of each milestone is kept for the
// time-to-X lookup.
func (r *Recorder) RecordMilestone(name string, payload map[string]interface{}) {
	r.mu.Lock()
	offset := r.now().Sub(r.sessionStart).Milliseconds()
	if _, seen := r.milestones[name]; !seen {
		r.milestones[name] = offset
	}
	r.mu.Unlock()

	if payload == nil {
		payload = map[string]interface{}{}
	}
	payload["offset_ms"] = offset
	r.record(name, CategoryMilestone, payload)
}

// RecordPerformance queues a performance event.
func (r *Recorder) RecordPerformance(eventType string, payload map[string]interface{}) {
	r.record(eventType, CategoryPerformance, payload)
}

// MilestoneOffsetMs returns how long after session start the milestone first
// occurred. O(1).
func (r *Recorder) MilestoneOffsetMs(name string) (int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	offset, ok := r.milestones[name]
	return offset, ok
}

func (r *Recorder) record(eventType, category string, payload map[string]interface{}) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.queue = append(r.queue, Event{
		Type:        eventType,
		Category:    category,
		Schema:      SchemaVersion,
		TimestampMs: r.now().UnixMilli(),
		SessionID:   r.sessionID,
		Payload:     payload,
	})
	full := len(r.queue) >= r.cfg.MaxQueue
	terminal := terminalTypes[eventType]
	r.mu.Unlock()

	if full || terminal {
		r.Flush()
	}
}

// Flush drains the queue into the sink. Queued events are gone after flush
// whether or not the sink accepted them; the recorder never redelivers.
func (r *Recorder) Flush() {
	r.mu.Lock()
	if len(r.queue) == 0 {
		r.mu.Unlock()
		return
	}
	batch := r.queue
	r.queue = nil
	r.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.FlushTimeout)
	defer cancel()
	if err := r.sink.WriteEvents(ctx, batch); err != nil {
		log.Printf("[Telemetry] flush of %d events failed: %v", len(batch), err)
	}
}

// QueueLen returns the number of unflushed events.
func (r *Recorder) QueueLen() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.queue)
}

// Close records the session_end terminal event, flushes everything, and
// stops the interval loop. Further Record calls are dropped. Concurrent and
// repeated Close calls are safe; only the first does anything.
func (r *Recorder) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	r.queue = append(r.queue, Event{
		Type:        "session_end",
		Category:    CategoryMilestone,
		Schema:      SchemaVersion,
		TimestampMs: r.now().UnixMilli(),
		SessionID:   r.sessionID,
		Payload: map[string]interface{}{
			"duration_ms": r.now().Sub(r.sessionStart).Milliseconds(),
		},
	})
	r.mu.Unlock()

	close(r.stop)
	r.wg.Wait()
	r.Flush()
}
