package chunk

import (
	"sync"
	"time"
)

// CancelFunc cancels a scheduled task. Calling it after the task has fired
// or been cancelled is a no-op. It reports whether the task was stopped
// before firing.
type CancelFunc func() bool

// ResetScheduler schedules the disposed-to-unloaded reset for a chunk. The
// production implementation uses wall-clock timers; tests use ManualScheduler
// so the firing is an observable, deterministic event.
//
// The reset delay stands in for confirmed teardown completion, which the
// platform does not report. A teardown that outruns the delay would race the
// reset; the delay is configurable for that reason (see DESIGN.md).
type ResetScheduler interface {
	Schedule(delay time.Duration, fn func()) CancelFunc
}

// TimerScheduler runs scheduled tasks on real wall-clock timers.
type TimerScheduler struct{}

// NewTimerScheduler returns the production scheduler.
func NewTimerScheduler() *TimerScheduler {
	return &TimerScheduler{}
}

// Schedule runs fn after delay unless cancelled first.
func (s *TimerScheduler) Schedule(delay time.Duration, fn func()) CancelFunc {
	timer := time.AfterFunc(delay, fn)
	return timer.Stop
}

// ManualScheduler queues tasks and fires them only when told to. It never
// consults the clock, so tests drive resets without sleeping.
type ManualScheduler struct {
	mu    sync.Mutex
	next  int
	tasks map[int]func()
}

// NewManualScheduler returns an empty manual scheduler.
func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{tasks: make(map[int]func())}
}

// Schedule queues fn; the delay is recorded nowhere because firing is manual.
func (s *ManualScheduler) Schedule(delay time.Duration, fn func()) CancelFunc {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.next
	s.next++
	s.tasks[id] = fn
	return func() bool {
		s.mu.Lock()
		_, pending := s.tasks[id]
		delete(s.tasks, id)
		s.mu.Unlock()
		return pending
	}
}

// Pending returns the number of queued tasks.
func (s *ManualScheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}

// FireAll runs every queued task in schedule order and clears the queue.
func (s *ManualScheduler) FireAll() {
	s.mu.Lock()
	ids := make([]int, 0, len(s.tasks))
	for id := range s.tasks {
		ids = append(ids, id)
	}
	// map iteration order is random; restore schedule order
	for i := 0; i < len(ids); i++ {
		for j := i + 1; j < len(ids); j++ {
			if ids[j] < ids[i] {
				ids[i], ids[j] = ids[j], ids[i]
			}
		}
	}
	fns := make([]func(), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, s.tasks[id])
		delete(s.tasks, id)
	}
	s.mu.Unlock()

	for _, fn := range fns {
		fn()
	}
}
