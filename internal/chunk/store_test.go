package chunk

import (
	"errors"
	"testing"
	"time"

	"github.com/treygoff24/scenestream/internal/scenemap"
)

type recordedEvent struct {
	eventType string
	payload   map[string]interface{}
}

type captureRecorder struct {
	events []recordedEvent
}

func (r *captureRecorder) Record(eventType string, payload map[string]interface{}) {
	r.events = append(r.events, recordedEvent{eventType: eventType, payload: payload})
}

func newTestStore(maxDormant int) (*Store, *ManualScheduler, *captureRecorder) {
	scheduler := NewManualScheduler()
	recorder := &captureRecorder{}
	store := NewStore(maxDormant, 5*time.Second, scheduler, recorder)
	return store, scheduler, recorder
}

func registerRooms(t *testing.T, store *Store, ids ...scenemap.RoomID) {
	t.Helper()
	for _, id := range ids {
		if err := store.Register(id, 32<<20); err != nil {
			t.Fatalf("register %s: %v", id, err)
		}
	}
}

func loadChunk(t *testing.T, store *Store, id scenemap.RoomID) {
	t.Helper()
	if _, err := store.Transition(id, EventProximity); err != nil {
		t.Fatalf("preload %s: %v", id, err)
	}
	if _, err := store.Transition(id, EventDownloadComplete); err != nil {
		t.Fatalf("complete %s: %v", id, err)
	}
}

func TestTransitionUnknownChunk(t *testing.T) {
	store, _, _ := newTestStore(2)
	_, err := store.Transition(scenemap.RoomLibrary, EventProximity)
	if !errors.Is(err, ErrUnknownChunk) {
		t.Fatalf("expected ErrUnknownChunk, got %v", err)
	}
}

func TestInvalidTransitionReported(t *testing.T) {
	store, _, _ := newTestStore(2)
	registerRooms(t, store, scenemap.RoomLibrary)

	_, err := store.Transition(scenemap.RoomLibrary, EventEnter)
	var invalid *InvalidTransitionError
	if !errors.As(err, &invalid) {
		t.Fatalf("expected InvalidTransitionError, got %v", err)
	}
	if invalid.From != StateUnloaded || invalid.Event != EventEnter {
		t.Fatalf("unexpected error detail: %+v", invalid)
	}
}

func TestLateDownloadSignalsAreNoOps(t *testing.T) {
	store, _, _ := newTestStore(2)
	registerRooms(t, store, scenemap.RoomGallery)

	if _, err := store.Transition(scenemap.RoomGallery, EventProximity); err != nil {
		t.Fatalf("preload: %v", err)
	}
	if _, err := store.Transition(scenemap.RoomGallery, EventCancel); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The download completes after the cancel. Must not error and must not
	// change state.
	state, err := store.Transition(scenemap.RoomGallery, EventDownloadComplete)
	if err != nil {
		t.Fatalf("late completion should be a no-op, got error: %v", err)
	}
	if state != StateUnloaded {
		t.Fatalf("expected unloaded after late completion, got %s", state)
	}

	state, err = store.Transition(scenemap.RoomGallery, EventDownloadFailed)
	if err != nil {
		t.Fatalf("late failure should be a no-op, got error: %v", err)
	}
	if state != StateUnloaded {
		t.Fatalf("expected unloaded after late failure, got %s", state)
	}
}

func TestLateCancelIsNoOp(t *testing.T) {
	store, _, _ := newTestStore(2)
	registerRooms(t, store, scenemap.RoomAtrium, scenemap.RoomGallery)

	// The download completes before the cancel arrives. The loaded chunk
	// stays loaded.
	loadChunk(t, store, scenemap.RoomAtrium)
	state, err := store.Transition(scenemap.RoomAtrium, EventCancel)
	if err != nil {
		t.Fatalf("cancel after completion should be a no-op, got error: %v", err)
	}
	if state != StateLoaded {
		t.Fatalf("expected loaded after late cancel, got %s", state)
	}

	// A repeated cancel is equally harmless.
	if _, err := store.Transition(scenemap.RoomGallery, EventProximity); err != nil {
		t.Fatalf("preload: %v", err)
	}
	if _, err := store.Transition(scenemap.RoomGallery, EventCancel); err != nil {
		t.Fatalf("first cancel: %v", err)
	}
	state, err = store.Transition(scenemap.RoomGallery, EventCancel)
	if err != nil {
		t.Fatalf("second cancel should be a no-op, got error: %v", err)
	}
	if state != StateUnloaded {
		t.Fatalf("expected unloaded after repeated cancel, got %s", state)
	}
}

func TestActivateDemotesPreviousActive(t *testing.T) {
	store, _, _ := newTestStore(2)
	registerRooms(t, store, scenemap.RoomAtrium, scenemap.RoomGallery)
	loadChunk(t, store, scenemap.RoomAtrium)
	loadChunk(t, store, scenemap.RoomGallery)

	if err := store.Activate(scenemap.RoomAtrium); err != nil {
		t.Fatalf("activate atrium: %v", err)
	}
	if err := store.Activate(scenemap.RoomGallery); err != nil {
		t.Fatalf("activate gallery: %v", err)
	}

	active, ok := store.Active()
	if !ok || active != scenemap.RoomGallery {
		t.Fatalf("expected gallery active, got %s (ok=%v)", active, ok)
	}
	atrium, err := store.Get(scenemap.RoomAtrium)
	if err != nil {
		t.Fatalf("get atrium: %v", err)
	}
	if atrium.State != StateDormant {
		t.Fatalf("expected atrium dormant after handoff, got %s", atrium.State)
	}
}

func TestActivateDormantChunkReenters(t *testing.T) {
	store, _, _ := newTestStore(2)
	registerRooms(t, store, scenemap.RoomAtrium, scenemap.RoomGallery)
	loadChunk(t, store, scenemap.RoomAtrium)
	loadChunk(t, store, scenemap.RoomGallery)

	if err := store.Activate(scenemap.RoomAtrium); err != nil {
		t.Fatalf("activate atrium: %v", err)
	}
	if err := store.Activate(scenemap.RoomGallery); err != nil {
		t.Fatalf("activate gallery: %v", err)
	}
	if err := store.Activate(scenemap.RoomAtrium); err != nil {
		t.Fatalf("re-activate dormant atrium: %v", err)
	}

	active, _ := store.Active()
	if active != scenemap.RoomAtrium {
		t.Fatalf("expected atrium active after re-entry, got %s", active)
	}
	if store.DormantCount() != 1 {
		t.Fatalf("expected exactly one dormant chunk, got %d", store.DormantCount())
	}
}

func TestEvictionDisposesOldestDormant(t *testing.T) {
	store, _, _ := newTestStore(2)
	rooms := []scenemap.RoomID{
		scenemap.RoomAtrium,
		scenemap.RoomGallery,
		scenemap.RoomLibrary,
		scenemap.RoomObservatory,
	}
	registerRooms(t, store, rooms...)
	for _, id := range rooms {
		loadChunk(t, store, id)
	}

	// Activate A, B, C, D in order. After D: C,B dormant, A evicted.
	for _, id := range rooms {
		if err := store.Activate(id); err != nil {
			t.Fatalf("activate %s: %v", id, err)
		}
		time.Sleep(time.Millisecond)
	}

	active, _ := store.Active()
	if active != scenemap.RoomObservatory {
		t.Fatalf("expected observatory active, got %s", active)
	}
	if store.DormantCount() != 2 {
		t.Fatalf("expected dormant count 2, got %d", store.DormantCount())
	}

	atrium, _ := store.Get(scenemap.RoomAtrium)
	if atrium.State != StateDisposed {
		t.Fatalf("expected oldest dormant (atrium) disposed, got %s", atrium.State)
	}
	gallery, _ := store.Get(scenemap.RoomGallery)
	library, _ := store.Get(scenemap.RoomLibrary)
	if gallery.State != StateDormant || library.State != StateDormant {
		t.Fatalf("expected gallery and library dormant, got %s and %s", gallery.State, library.State)
	}
}

func TestDisposeIsIdempotent(t *testing.T) {
	store, _, _ := newTestStore(2)
	registerRooms(t, store, scenemap.RoomAtrium, scenemap.RoomGallery)
	loadChunk(t, store, scenemap.RoomAtrium)
	loadChunk(t, store, scenemap.RoomGallery)

	if err := store.Activate(scenemap.RoomAtrium); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := store.Activate(scenemap.RoomGallery); err != nil {
		t.Fatalf("activate: %v", err)
	}

	if err := store.Dispose(scenemap.RoomAtrium); err != nil {
		t.Fatalf("first dispose: %v", err)
	}
	if err := store.Dispose(scenemap.RoomAtrium); err != nil {
		t.Fatalf("second dispose must be a no-op, got %v", err)
	}
}

func TestScheduledResetReturnsChunkToUnloaded(t *testing.T) {
	store, scheduler, _ := newTestStore(2)
	registerRooms(t, store, scenemap.RoomAtrium, scenemap.RoomGallery)
	loadChunk(t, store, scenemap.RoomAtrium)
	loadChunk(t, store, scenemap.RoomGallery)

	if err := store.Activate(scenemap.RoomAtrium); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := store.Activate(scenemap.RoomGallery); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := store.Dispose(scenemap.RoomAtrium); err != nil {
		t.Fatalf("dispose: %v", err)
	}

	if scheduler.Pending() != 1 {
		t.Fatalf("expected one pending reset task, got %d", scheduler.Pending())
	}
	scheduler.FireAll()

	atrium, _ := store.Get(scenemap.RoomAtrium)
	if atrium.State != StateUnloaded {
		t.Fatalf("expected unloaded after reset, got %s", atrium.State)
	}
	if !atrium.LoadedAt.IsZero() || !atrium.LastActiveAt.IsZero() {
		t.Fatalf("expected timestamps cleared after reset")
	}

	// The chunk is reloadable again.
	loadChunk(t, store, scenemap.RoomAtrium)
}

func TestCloseCancelsPendingResets(t *testing.T) {
	store, scheduler, _ := newTestStore(2)
	registerRooms(t, store, scenemap.RoomAtrium, scenemap.RoomGallery)
	loadChunk(t, store, scenemap.RoomAtrium)
	loadChunk(t, store, scenemap.RoomGallery)

	if err := store.Activate(scenemap.RoomAtrium); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := store.Activate(scenemap.RoomGallery); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if err := store.Dispose(scenemap.RoomAtrium); err != nil {
		t.Fatalf("dispose: %v", err)
	}

	store.Close()
	scheduler.FireAll()

	atrium, _ := store.Get(scenemap.RoomAtrium)
	if atrium.State != StateDisposed {
		t.Fatalf("expected state frozen after close, got %s", atrium.State)
	}
}

func TestResidentBytesTracksLoadedChunks(t *testing.T) {
	store, _, _ := newTestStore(2)
	registerRooms(t, store, scenemap.RoomAtrium, scenemap.RoomGallery)

	if store.ResidentBytes() != 0 {
		t.Fatalf("expected zero resident bytes before loading")
	}
	loadChunk(t, store, scenemap.RoomAtrium)
	if store.ResidentBytes() != 32<<20 {
		t.Fatalf("expected 32MiB resident, got %d", store.ResidentBytes())
	}
	loadChunk(t, store, scenemap.RoomGallery)
	if store.ResidentBytes() != 64<<20 {
		t.Fatalf("expected 64MiB resident, got %d", store.ResidentBytes())
	}
}

func TestLifecycleEventsRecorded(t *testing.T) {
	store, _, recorder := newTestStore(2)
	registerRooms(t, store, scenemap.RoomAtrium)
	loadChunk(t, store, scenemap.RoomAtrium)

	found := false
	for _, ev := range recorder.events {
		if ev.eventType == "chunk_state_changed" && ev.payload["to"] == "loaded" {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("expected chunk_state_changed event with to=loaded, got %+v", recorder.events)
	}
}
