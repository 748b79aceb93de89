package scenemap

import (
	"fmt"
)

// RoomID identifies one streamable room of the scene. The set of rooms is
// fixed for the lifetime of a session; chunks are registered against these
// ids at startup and no new ids appear afterwards.
type RoomID string

const (
	RoomAtrium       RoomID = "atrium"
	RoomGallery      RoomID = "gallery"
	RoomLibrary      RoomID = "library"
	RoomObservatory  RoomID = "observatory"
	RoomConservatory RoomID = "conservatory"
	RoomTheater      RoomID = "theater"
)

// FallbackRoom is the known-good area viewers are routed to when recovery
// for another room has been exhausted. The atrium is the entry area and is
// the cheapest room to hold resident.
const FallbackRoom = RoomAtrium

// EntryRoom is where a fresh session starts when no snapshot or hint is
// available.
const EntryRoom = RoomAtrium

// Room describes one streamable area of the scene.
type Room struct {
	ID RoomID

	// DisplayName is the human-readable room name used in telemetry payloads.
	DisplayName string

	// MemoryEstimateBytes is the approximate GPU+CPU footprint of the room's
	// chunk once resident. Used for memory-pressure accounting.
	MemoryEstimateBytes int64

	// Adjacent lists rooms reachable through a door or opening from this
	// room. Adjacency drives proximity preloading: standing in a room makes
	// its neighbors preload candidates.
	Adjacent []RoomID
}

// rooms is the fixed room table. Adjacency must be symmetric; Registry
// verifies that at construction.
var rooms = []Room{
	{
		ID:                  RoomAtrium,
		DisplayName:         "Atrium",
		MemoryEstimateBytes: 24 << 20,
		Adjacent:            []RoomID{RoomGallery, RoomLibrary, RoomTheater},
	},
	{
		ID:                  RoomGallery,
		DisplayName:         "Gallery",
		MemoryEstimateBytes: 48 << 20,
		Adjacent:            []RoomID{RoomAtrium, RoomObservatory},
	},
	{
		ID:                  RoomLibrary,
		DisplayName:         "Library",
		MemoryEstimateBytes: 40 << 20,
		Adjacent:            []RoomID{RoomAtrium, RoomConservatory},
	},
	{
		ID:                  RoomObservatory,
		DisplayName:         "Observatory",
		MemoryEstimateBytes: 64 << 20,
		Adjacent:            []RoomID{RoomGallery},
	},
	{
		ID:                  RoomConservatory,
		DisplayName:         "Conservatory",
		MemoryEstimateBytes: 56 << 20,
		Adjacent:            []RoomID{RoomLibrary},
	},
	{
		ID:                  RoomTheater,
		DisplayName:         "Theater",
		MemoryEstimateBytes: 52 << 20,
		Adjacent:            []RoomID{RoomAtrium},
	},
}

// Registry holds the fixed room set with constant-time lookup by id.
type Registry struct {
	byID  map[RoomID]Room
	order []RoomID
}

// NewRegistry builds the room registry and validates the room table:
// unique ids, symmetric adjacency, and no references to unknown rooms.
func NewRegistry() (*Registry, error) {
	r := &Registry{
		byID:  make(map[RoomID]Room, len(rooms)),
		order: make([]RoomID, 0, len(rooms)),
	}
	for _, room := range rooms {
		if _, exists := r.byID[room.ID]; exists {
			return nil, fmt.Errorf("duplicate room id: %s", room.ID)
		}
		r.byID[room.ID] = room
		r.order = append(r.order, room.ID)
	}
	for _, room := range rooms {
		for _, adj := range room.Adjacent {
			other, ok := r.byID[adj]
			if !ok {
				return nil, fmt.Errorf("room %s lists unknown neighbor %s", room.ID, adj)
			}
			if !containsRoom(other.Adjacent, room.ID) {
				return nil, fmt.Errorf("adjacency not symmetric: %s -> %s", room.ID, adj)
			}
		}
	}
	if _, ok := r.byID[FallbackRoom]; !ok {
		return nil, fmt.Errorf("fallback room %s not in room table", FallbackRoom)
	}
	return r, nil
}

// Lookup returns the room for id. The second result is false for ids that
// are not part of the fixed room set.
func (r *Registry) Lookup(id RoomID) (Room, bool) {
	room, ok := r.byID[id]
	return room, ok
}

// IsValid reports whether id belongs to the fixed room set.
func (r *Registry) IsValid(id RoomID) bool {
	_, ok := r.byID[id]
	return ok
}

// All returns every room id in registration order.
func (r *Registry) All() []RoomID {
	out := make([]RoomID, len(r.order))
	copy(out, r.order)
	return out
}

// Neighbors returns the preload candidates for the given room: the rooms
// adjacent to it in the scene graph.
func (r *Registry) Neighbors(id RoomID) []RoomID {
	room, ok := r.byID[id]
	if !ok {
		return nil
	}
	out := make([]RoomID, len(room.Adjacent))
	copy(out, room.Adjacent)
	return out
}

// MemoryEstimate returns the resident footprint estimate for a room, or 0
// for unknown ids.
func (r *Registry) MemoryEstimate(id RoomID) int64 {
	room, ok := r.byID[id]
	if !ok {
		return 0
	}
	return room.MemoryEstimateBytes
}

func containsRoom(list []RoomID, target RoomID) bool {
	for _, id := range list {
		if id == target {
			return true
		}
	}
	return false
}
