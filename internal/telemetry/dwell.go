package telemetry

import (
	"sync"
	"time"

	"github.com/treygoff24/scenestream/internal/scenemap"
)

// DwellTracker computes per-room dwell time from enter/exit pairs. Input is
// self-healing: an enter for a different room closes out the previous room's
// span even when its exit never arrived.
type DwellTracker struct {
	mu        sync.Mutex
	recorder  *Recorder
	current   scenemap.RoomID
	enteredAt time.Time

	now func() time.Time
}

// NewDwellTracker builds a tracker reporting through recorder.
func NewDwellTracker(recorder *Recorder) *DwellTracker {
	return &DwellTracker{
		recorder: recorder,
		now:      time.Now,
	}
}

// EnterRoom opens a dwell span for room. If another room's span is still
// open, it is closed first — the missing exit is implied by the new enter.
func (d *DwellTracker) EnterRoom(room scenemap.RoomID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current == room {
		return
	}
	if d.current != "" {
		d.emitLocked(true)
	}
	d.current = room
	d.enteredAt = d.now()
}

// ExitRoom closes the dwell span for room. Exits for rooms that are not
// currently open arrive out of order and are ignored.
func (d *DwellTracker) ExitRoom(room scenemap.RoomID) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.current != room {
		return
	}
	d.emitLocked(false)
	d.current = ""
}

// Close flushes an open span at session end.
func (d *DwellTracker) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.current == "" {
		return
	}
	d.emitLocked(false)
	d.current = ""
}

func (d *DwellTracker) emitLocked(healed bool) {
	d.recorder.Record("room_dwell", map[string]interface{}{
		"room":     string(d.current),
		"dwell_ms": d.now().Sub(d.enteredAt).Milliseconds(),
		"healed":   healed,
	})
}
