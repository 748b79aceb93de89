package persistence

import (
	"context"
	"log"
	"sync"

	"github.com/treygoff24/scenestream/internal/scenemap"
)

// Bridge serializes session snapshots to durable storage and restores them
// at session start. It never surfaces storage failures to callers: a broken
// or full medium degrades to defaults with a log line, and the session
// simply starts fresh.
type Bridge struct {
	mu       sync.Mutex
	store    Store
	key      string
	registry *scenemap.Registry
	last     Snapshot
	hasLast  bool
}

// NewBridge builds a bridge persisting under the given per-viewer key.
func NewBridge(store Store, key string, registry *scenemap.Registry) *Bridge {
	return &Bridge{store: store, key: key, registry: registry}
}

// Restore loads the persisted snapshot once at session start. An explicit
// room hint (the shareable navigational parameter) takes precedence over the
// persisted room when both are present. Absence or corruption of the stored
// snapshot is "no snapshot", never an error.
func (b *Bridge) Restore(ctx context.Context, hint scenemap.RoomID) Snapshot {
	snap := DefaultSnapshot()

	stored, ok, err := b.store.Load(ctx, b.key)
	if err != nil {
		log.Printf("[Persist] restore failed, starting from defaults: %v", err)
	} else if ok {
		snap = stored
		if !b.registry.IsValid(snap.LastRoom) {
			log.Printf("[Persist] persisted room %q unknown, using entry room", snap.LastRoom)
			snap.LastRoom = scenemap.EntryRoom
		}
	}

	if hint != "" {
		if b.registry.IsValid(hint) {
			snap.LastRoom = hint
		} else {
			log.Printf("[Persist] ignoring unknown room hint %q", hint)
		}
	}

	b.mu.Lock()
	b.last = snap
	b.hasLast = true
	b.mu.Unlock()
	return snap
}

// Save persists the snapshot. Called on every externally visible state
// change (settings or room). Failures are logged and swallowed.
func (b *Bridge) Save(ctx context.Context, snap Snapshot) {
	b.mu.Lock()
	b.last = snap
	b.hasLast = true
	b.mu.Unlock()

	if err := b.store.Save(ctx, b.key, snap); err != nil {
		log.Printf("[Persist] save failed (session continues): %v", err)
	}
}

// Last returns the most recent snapshot handled by this bridge, restored or
// saved. The second result is false before the first Restore/Save.
func (b *Bridge) Last() (Snapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.last, b.hasLast
}

// RoomHintParam is the query parameter carrying the shareable room hint.
const RoomHintParam = "room"
