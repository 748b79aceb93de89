package chunk

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/treygoff24/scenestream/internal/scenemap"
)

// ErrUnknownChunk is returned when an operation names a chunk id that was
// never registered. This is a caller bug, never retried.
var ErrUnknownChunk = errors.New("unknown chunk id")

// InvalidTransitionError reports an event that is not legal from the chunk's
// current state. Like ErrUnknownChunk it indicates a caller bug.
type InvalidTransitionError struct {
	ID    scenemap.RoomID
	From  State
	Event Event
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid transition for chunk %s: %s on %s", e.ID, e.Event, e.From)
}

// Recorder receives lifecycle telemetry. Satisfied by telemetry.Recorder.
type Recorder interface {
	Record(eventType string, payload map[string]interface{})
}

// Chunk tracks the lifecycle of one streamable room's content.
type Chunk struct {
	ID                  scenemap.RoomID
	State               State
	LoadedAt            time.Time
	LastActiveAt        time.Time
	MemoryEstimateBytes int64
}

// Store owns every chunk's lifecycle state. It enforces the core residency
// invariant: at most one active chunk, at most maxDormant dormant chunks.
// All ids are registered up front; the id set never grows mid-session.
type Store struct {
	mu         sync.Mutex
	chunks     map[scenemap.RoomID]*Chunk
	order      []scenemap.RoomID
	maxDormant int
	resetDelay time.Duration
	scheduler  ResetScheduler
	recorder   Recorder
	resets     map[scenemap.RoomID]CancelFunc
	closed     bool
}

// NewStore builds an empty chunk store. maxDormant bounds the dormant set;
// resetDelay is how long a disposed chunk waits before it may be reloaded.
func NewStore(maxDormant int, resetDelay time.Duration, scheduler ResetScheduler, recorder Recorder) *Store {
	if maxDormant < 0 {
		maxDormant = 0
	}
	return &Store{
		chunks:     make(map[scenemap.RoomID]*Chunk),
		maxDormant: maxDormant,
		resetDelay: resetDelay,
		scheduler:  scheduler,
		recorder:   recorder,
		resets:     make(map[scenemap.RoomID]CancelFunc),
	}
}

// Register adds a chunk id with its memory estimate in state unloaded.
// Registering the same id twice is a caller bug.
func (s *Store) Register(id scenemap.RoomID, memoryEstimateBytes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.chunks[id]; exists {
		return fmt.Errorf("chunk %s already registered", id)
	}
	s.chunks[id] = &Chunk{
		ID:                  id,
		State:               StateUnloaded,
		MemoryEstimateBytes: memoryEstimateBytes,
	}
	s.order = append(s.order, id)
	return nil
}

// Transition applies an external lifecycle event to one chunk and returns
// the resulting state. Late download signals and cancels for a chunk that is
// no longer preloading are accepted and ignored.
func (s *Store) Transition(id scenemap.RoomID, event Event) (State, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.transitionLocked(id, event)
}

func (s *Store) transitionLocked(id scenemap.RoomID, event Event) (State, error) {
	c, ok := s.chunks[id]
	if !ok {
		return StateUnloaded, fmt.Errorf("%w: %s", ErrUnknownChunk, id)
	}

	from := c.State
	switch event {
	case EventProximity:
		if from != StateUnloaded {
			return from, &InvalidTransitionError{ID: id, From: from, Event: event}
		}
		c.State = StatePreloading

	case EventDownloadComplete:
		if from != StatePreloading {
			// Late arrival after a cancel: the viewer moved away while the
			// download was in flight. Ignore it.
			log.Printf("[Chunk] ignoring late download completion for %s (state=%s)", id, from)
			return from, nil
		}
		c.State = StateLoaded
		c.LoadedAt = time.Now()

	case EventDownloadFailed:
		if from != StatePreloading {
			log.Printf("[Chunk] ignoring late download failure for %s (state=%s)", id, from)
			return from, nil
		}
		c.State = StateUnloaded

	case EventCancel:
		if from != StatePreloading {
			// The download outcome landed first, or the cancel was repeated.
			// Nothing is in flight, so there is nothing to cancel.
			log.Printf("[Chunk] ignoring cancel for %s (state=%s)", id, from)
			return from, nil
		}
		c.State = StateUnloaded

	case EventEnter:
		if from != StateLoaded && from != StateDormant {
			return from, &InvalidTransitionError{ID: id, From: from, Event: event}
		}
		c.State = StateActive
		c.LastActiveAt = time.Now()

	case EventDispose:
		if from == StateDisposed {
			// Idempotent: disposing twice is a no-op.
			return from, nil
		}
		if from != StateDormant {
			return from, &InvalidTransitionError{ID: id, From: from, Event: event}
		}
		s.disposeLocked(c)

	case EventTeardownComplete:
		if from != StateDisposed {
			return from, &InvalidTransitionError{ID: id, From: from, Event: event}
		}
		c.State = StateUnloaded
		c.LoadedAt = time.Time{}
		c.LastActiveAt = time.Time{}

	default:
		return from, &InvalidTransitionError{ID: id, From: from, Event: event}
	}

	if c.State != from {
		s.recordLocked("chunk_state_changed", map[string]interface{}{
			"chunk": string(id),
			"from":  from.String(),
			"to":    c.State.String(),
			"event": event.String(),
		})
	}
	return c.State, nil
}

// Activate makes id the active chunk, demoting the previously active chunk
// to dormant and evicting over-limit dormant chunks before returning. The
// full handoff happens under one lock hold, so callers never observe two
// active chunks or an over-limit dormant set.
func (s *Store) Activate(id scenemap.RoomID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.chunks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChunk, id)
	}
	if c.State == StateActive {
		return nil
	}
	if c.State != StateLoaded && c.State != StateDormant {
		return &InvalidTransitionError{ID: id, From: c.State, Event: EventEnter}
	}

	for _, other := range s.chunks {
		if other.State == StateActive {
			other.State = StateDormant
			other.LastActiveAt = time.Now()
			s.recordLocked("chunk_state_changed", map[string]interface{}{
				"chunk": string(other.ID),
				"from":  StateActive.String(),
				"to":    StateDormant.String(),
				"event": "demoted",
			})
		}
	}

	from := c.State
	c.State = StateActive
	c.LastActiveAt = time.Now()
	s.recordLocked("chunk_state_changed", map[string]interface{}{
		"chunk": string(id),
		"from":  from.String(),
		"to":    StateActive.String(),
		"event": EventEnter.String(),
	})

	s.evictLocked()
	return nil
}

// Dispose tears down a dormant chunk. Disposing a chunk that is already
// disposed is a no-op.
func (s *Store) Dispose(id scenemap.RoomID) error {
	_, err := s.Transition(id, EventDispose)
	return err
}

// EvictIfOverLimit disposes the oldest dormant chunks (smallest
// LastActiveAt) until the dormant count is within bound.
func (s *Store) EvictIfOverLimit() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictLocked()
}

func (s *Store) evictLocked() {
	dormant := make([]*Chunk, 0, len(s.chunks))
	for _, c := range s.chunks {
		if c.State == StateDormant {
			dormant = append(dormant, c)
		}
	}
	if len(dormant) <= s.maxDormant {
		return
	}

	sort.Slice(dormant, func(i, j int) bool {
		return dormant[i].LastActiveAt.Before(dormant[j].LastActiveAt)
	})
	for _, c := range dormant[:len(dormant)-s.maxDormant] {
		log.Printf("[Chunk] evicting %s (last active %s)", c.ID, c.LastActiveAt.Format(time.RFC3339))
		s.disposeLocked(c)
		s.recordLocked("chunk_evicted", map[string]interface{}{
			"chunk":          string(c.ID),
			"last_active_at": c.LastActiveAt.UnixMilli(),
		})
	}
}

// disposeLocked moves a chunk to disposed and schedules its reset back to
// unloaded once teardown should have finished.
func (s *Store) disposeLocked(c *Chunk) {
	from := c.State
	c.State = StateDisposed
	s.recordLocked("chunk_state_changed", map[string]interface{}{
		"chunk": string(c.ID),
		"from":  from.String(),
		"to":    StateDisposed.String(),
		"event": EventDispose.String(),
	})

	if cancel, ok := s.resets[c.ID]; ok {
		cancel()
	}
	id := c.ID
	s.resets[id] = s.scheduler.Schedule(s.resetDelay, func() {
		s.completeTeardown(id)
	})
}

func (s *Store) completeTeardown(id scenemap.RoomID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	delete(s.resets, id)
	if _, err := s.transitionLocked(id, EventTeardownComplete); err != nil {
		log.Printf("[Chunk] teardown reset skipped for %s: %v", id, err)
	}
}

// SetMemoryEstimate replaces a chunk's memory estimate once the real payload
// size is known from its manifest.
func (s *Store) SetMemoryEstimate(id scenemap.RoomID, bytes int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownChunk, id)
	}
	c.MemoryEstimateBytes = bytes
	return nil
}

// Get returns a copy of the chunk record for id.
func (s *Store) Get(id scenemap.RoomID) (Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.chunks[id]
	if !ok {
		return Chunk{}, fmt.Errorf("%w: %s", ErrUnknownChunk, id)
	}
	return *c, nil
}

// Active returns the currently active chunk id, if any.
func (s *Store) Active() (scenemap.RoomID, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, c := range s.chunks {
		if c.State == StateActive {
			return c.ID, true
		}
	}
	return "", false
}

// DormantCount returns the number of dormant chunks.
func (s *Store) DormantCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.chunks {
		if c.State == StateDormant {
			n++
		}
	}
	return n
}

// ResidentBytes sums the memory estimates of chunks that hold resources
// (loaded, active, or dormant). Feeds the memory-pressure monitor.
func (s *Store) ResidentBytes() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	var total int64
	for _, c := range s.chunks {
		switch c.State {
		case StateLoaded, StateActive, StateDormant:
			total += c.MemoryEstimateBytes
		}
	}
	return total
}

// Snapshot returns a copy of every chunk record in registration order.
func (s *Store) Snapshot() []Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Chunk, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, *s.chunks[id])
	}
	return out
}

// Close cancels all pending reset tasks. After Close no scheduled callback
// touches the store.
func (s *Store) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, cancel := range s.resets {
		cancel()
		delete(s.resets, id)
	}
}

func (s *Store) recordLocked(eventType string, payload map[string]interface{}) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(eventType, payload)
}
