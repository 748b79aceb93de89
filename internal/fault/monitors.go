package fault

import (
	"log"
	"sync"
	"time"
)

// MemoryMonitor polls resident memory usage on a fixed interval and reports
// a memory-exhaustion fault whenever usage crosses the configured percentage
// of the budget. It feeds the reactive recovery path proactively, before an
// allocation actually fails.
type MemoryMonitor struct {
	interval      time.Duration
	thresholdPct  int
	budgetBytes   int64
	usage         func() int64
	onFault       func(Fault)
	stop          chan struct{}
	wg            sync.WaitGroup
	startedOrGone bool
	stopped       bool
	mu            sync.Mutex
}

// NewMemoryMonitor builds a monitor. usage returns current resident bytes;
// onFault receives the fault when usage exceeds thresholdPct percent of
// budgetBytes.
func NewMemoryMonitor(interval time.Duration, thresholdPct int, budgetBytes int64, usage func() int64, onFault func(Fault)) *MemoryMonitor {
	if thresholdPct <= 0 {
		thresholdPct = 80
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &MemoryMonitor{
		interval:     interval,
		thresholdPct: thresholdPct,
		budgetBytes:  budgetBytes,
		usage:        usage,
		onFault:      onFault,
		stop:         make(chan struct{}),
	}
}

// Start launches the polling loop. Calling Start twice is a caller bug and
// is ignored after the first call.
func (m *MemoryMonitor) Start() {
	m.mu.Lock()
	if m.startedOrGone {
		m.mu.Unlock()
		return
	}
	m.startedOrGone = true
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.interval)
		defer ticker.Stop()
		for {
			select {
			case <-m.stop:
				return
			case <-ticker.C:
				m.Check()
			}
		}
	}()
}

// Check performs one poll immediately. Exposed so tests and the session core
// can drive the monitor without waiting for the ticker.
func (m *MemoryMonitor) Check() {
	if m.budgetBytes <= 0 {
		return
	}
	used := m.usage()
	if used*100 < m.budgetBytes*int64(m.thresholdPct) {
		return
	}
	log.Printf("[Fault] memory pressure: %d of %d bytes (threshold %d%%)", used, m.budgetBytes, m.thresholdPct)
	m.onFault(Fault{
		Kind:  KindMemoryExhaustion,
		Used:  used,
		Limit: m.budgetBytes,
		Err:   ErrMemoryLimit,
	})
}

// Stop halts polling and waits for the loop to exit. After Stop returns no
// callback fires. Concurrent and repeated Stop calls are safe.
func (m *MemoryMonitor) Stop() {
	m.mu.Lock()
	wasRunning := m.startedOrGone && !m.stopped
	m.startedOrGone = true
	m.stopped = true
	m.mu.Unlock()

	if wasRunning {
		close(m.stop)
	}
	m.wg.Wait()
}

// VisibilityMonitor tracks page visibility transitions. A backgrounded tab
// may silently lose GPU resources, so the first visible signal after a
// hidden one asks the caller to re-validate the rendering context.
type VisibilityMonitor struct {
	mu        sync.Mutex
	wasHidden bool
}

// NewVisibilityMonitor returns a monitor assuming the page starts visible.
func NewVisibilityMonitor() *VisibilityMonitor {
	return &VisibilityMonitor{}
}

// Signal records a visibility change. It returns true when the caller
// should re-validate the rendering context: the page just became visible
// after having been hidden.
func (v *VisibilityMonitor) Signal(visible bool) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if !visible {
		v.wasHidden = true
		return false
	}
	if v.wasHidden {
		v.wasHidden = false
		log.Printf("[Fault] page visible again after hidden; context re-validation requested")
		return true
	}
	return false
}
