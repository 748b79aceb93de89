package chunk

// State is the lifecycle state of a single chunk.
type State int

const (
	// StateUnloaded means no resources are resident for the chunk.
	StateUnloaded State = iota
	// StatePreloading means a download is in flight for the chunk.
	StatePreloading
	// StateLoaded means the chunk payload is resident but not visible.
	StateLoaded
	// StateActive means the viewer is inside the chunk. At most one chunk
	// is active at any time.
	StateActive
	// StateDormant means the chunk was recently active and is retained for
	// fast re-entry. At most MaxDormant chunks are dormant at any time.
	StateDormant
	// StateDisposed means the chunk's resources are being torn down. A
	// scheduled reset returns it to StateUnloaded so it can be reloaded.
	StateDisposed
)

// String returns the wire/log name for the state.
func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StatePreloading:
		return "preloading"
	case StateLoaded:
		return "loaded"
	case StateActive:
		return "active"
	case StateDormant:
		return "dormant"
	case StateDisposed:
		return "disposed"
	default:
		return "invalid"
	}
}

// Event is an external trigger driving a chunk through its lifecycle.
type Event int

const (
	// EventProximity starts preloading an unloaded chunk because the viewer
	// is near it.
	EventProximity Event = iota
	// EventDownloadComplete reports that the in-flight download finished.
	// Arriving when the chunk is no longer preloading is a safe no-op: the
	// viewer may have moved away and cancelled before completion landed.
	EventDownloadComplete
	// EventDownloadFailed reports that the in-flight download failed. Like
	// EventDownloadComplete it is a no-op when it arrives late.
	EventDownloadFailed
	// EventCancel abandons an in-flight preload (viewer moved out of range).
	EventCancel
	// EventEnter marks room entry. Prefer Store.Activate, which composes the
	// active/dormant handoff.
	EventEnter
	// EventDispose tears down a dormant chunk.
	EventDispose
	// EventTeardownComplete returns a disposed chunk to unloaded. Fired by
	// the reset scheduler, not by external callers.
	EventTeardownComplete
)

// String returns the wire/log name for the event.
func (e Event) String() string {
	switch e {
	case EventProximity:
		return "proximity"
	case EventDownloadComplete:
		return "download_complete"
	case EventDownloadFailed:
		return "download_failed"
	case EventCancel:
		return "cancel"
	case EventEnter:
		return "enter"
	case EventDispose:
		return "dispose"
	case EventTeardownComplete:
		return "teardown_complete"
	default:
		return "invalid"
	}
}
