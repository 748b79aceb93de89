package persistence

import (
	"context"
	"errors"
	"testing"

	"github.com/treygoff24/scenestream/internal/quality"
	"github.com/treygoff24/scenestream/internal/scenemap"
)

type failingStore struct{}

func (failingStore) Save(ctx context.Context, key string, snap Snapshot) error {
	return errors.New("disk full")
}

func (failingStore) Load(ctx context.Context, key string) (Snapshot, bool, error) {
	return Snapshot{}, false, errors.New("medium unavailable")
}

func newRegistry(t *testing.T) *scenemap.Registry {
	t.Helper()
	registry, err := scenemap.NewRegistry()
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return registry
}

func TestSnapshotRoundTrip(t *testing.T) {
	store := NewMemoryStore()
	bridge := NewBridge(store, "viewer_1", newRegistry(t))

	written := Snapshot{
		Tier:         quality.TierHigh,
		Selection:    quality.SelectionAuto,
		LastRoom:     scenemap.RoomLibrary,
		LastPosition: [3]float64{1, 2, 3},
		LastRotation: [3]float64{0, 1.5, 0},
	}
	bridge.Save(context.Background(), written)

	restored := NewBridge(store, "viewer_1", newRegistry(t)).Restore(context.Background(), "")
	if restored != written {
		t.Fatalf("round trip mismatch:\nwrote %+v\ngot   %+v", written, restored)
	}
}

func TestHintOverridesPersistedRoom(t *testing.T) {
	store := NewMemoryStore()
	bridge := NewBridge(store, "viewer_1", newRegistry(t))
	bridge.Save(context.Background(), Snapshot{
		Tier:      quality.TierHigh,
		Selection: quality.SelectionAuto,
		LastRoom:  scenemap.RoomLibrary,
	})

	restored := NewBridge(store, "viewer_1", newRegistry(t)).Restore(context.Background(), scenemap.RoomObservatory)
	if restored.LastRoom != scenemap.RoomObservatory {
		t.Fatalf("expected hint to win, got %s", restored.LastRoom)
	}
	if restored.Tier != quality.TierHigh {
		t.Fatalf("hint must only override the room, tier changed to %s", restored.Tier)
	}
}

func TestUnknownHintIgnored(t *testing.T) {
	store := NewMemoryStore()
	bridge := NewBridge(store, "viewer_1", newRegistry(t))
	bridge.Save(context.Background(), Snapshot{
		Tier:      quality.TierLow,
		Selection: quality.SelectionLow,
		LastRoom:  scenemap.RoomGallery,
	})

	restored := NewBridge(store, "viewer_1", newRegistry(t)).Restore(context.Background(), scenemap.RoomID("dungeon"))
	if restored.LastRoom != scenemap.RoomGallery {
		t.Fatalf("expected persisted room kept for unknown hint, got %s", restored.LastRoom)
	}
}

func TestRestoreDegradesSilentlyOnFailure(t *testing.T) {
	bridge := NewBridge(failingStore{}, "viewer_1", newRegistry(t))

	restored := bridge.Restore(context.Background(), "")
	if restored != DefaultSnapshot() {
		t.Fatalf("expected defaults on storage failure, got %+v", restored)
	}
}

func TestSaveDegradesSilentlyOnFailure(t *testing.T) {
	bridge := NewBridge(failingStore{}, "viewer_1", newRegistry(t))

	// Must not panic or surface the error.
	bridge.Save(context.Background(), DefaultSnapshot())

	last, ok := bridge.Last()
	if !ok || last != DefaultSnapshot() {
		t.Fatalf("expected last snapshot tracked despite store failure")
	}
}

func TestRestoreMissingSnapshotUsesDefaults(t *testing.T) {
	bridge := NewBridge(NewMemoryStore(), "viewer_new", newRegistry(t))

	restored := bridge.Restore(context.Background(), "")
	if restored.LastRoom != scenemap.EntryRoom {
		t.Fatalf("expected entry room for fresh viewer, got %s", restored.LastRoom)
	}
	if restored.Selection != quality.SelectionAuto {
		t.Fatalf("expected auto selection by default, got %s", restored.Selection)
	}
}
