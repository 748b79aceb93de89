package telemetry

import (
	"sync"
	"time"
)

// Frame-time bucket boundaries in milliseconds. Five fixed ranges:
// [0,8), [8,16), [16,25), [25,40), [40,inf).
var bucketBoundsMs = [4]float64{8, 16, 25, 40}

// BucketLabels names the five ranges for report payloads.
var BucketLabels = [5]string{"lt_8ms", "8_16ms", "16_25ms", "25_40ms", "gte_40ms"}

// PerfAggregator buckets raw frame-time samples and emits one performance
// report per fixed window. Each report carries the tier that was effective
// when the window opened and the tier at report time, so tier-change impact
// on frame times stays reconstructable afterward.
type PerfAggregator struct {
	mu          sync.Mutex
	recorder    *Recorder
	windowDur   time.Duration
	windowStart time.Time
	tierAtStart string
	counts      [5]int
	total       int

	now func() time.Time
}

// NewPerfAggregator builds an aggregator reporting through recorder every
// windowDur. startTier is the tier effective when sampling begins.
func NewPerfAggregator(recorder *Recorder, windowDur time.Duration, startTier string) *PerfAggregator {
	if windowDur <= 0 {
		windowDur = 5 * time.Second
	}
	now := time.Now
	return &PerfAggregator{
		recorder:    recorder,
		windowDur:   windowDur,
		windowStart: now(),
		tierAtStart: startTier,
		now:         now,
	}
}

// RecordFrame buckets one frame time. currentTier is the tier effective
// right now; when the window has elapsed the pending report is emitted and
// a new window opens at the current tier.
func (p *PerfAggregator) RecordFrame(ms float64, currentTier string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.counts[bucketIndex(ms)]++
	p.total++

	if p.now().Sub(p.windowStart) >= p.windowDur {
		p.emitLocked(currentTier)
	}
}

// FlushWindow emits the pending window early (session teardown).
func (p *PerfAggregator) FlushWindow(currentTier string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.total == 0 {
		return
	}
	p.emitLocked(currentTier)
}

func (p *PerfAggregator) emitLocked(currentTier string) {
	buckets := make(map[string]interface{}, len(BucketLabels))
	for i, label := range BucketLabels {
		buckets[label] = p.counts[i]
	}
	p.recorder.RecordPerformance("frame_time_window", map[string]interface{}{
		"window_ms":            p.now().Sub(p.windowStart).Milliseconds(),
		"samples":              p.total,
		"buckets":              buckets,
		"tier_at_window_start": p.tierAtStart,
		"tier_at_report":       currentTier,
	})

	p.counts = [5]int{}
	p.total = 0
	p.windowStart = p.now()
	p.tierAtStart = currentTier
}

func bucketIndex(ms float64) int {
	for i, bound := range bucketBoundsMs {
		if ms < bound {
			return i
		}
	}
	return len(bucketBoundsMs)
}
