package persistence

import (
	"context"

	"github.com/treygoff24/scenestream/internal/quality"
	"github.com/treygoff24/scenestream/internal/scenemap"
)

// Snapshot is the minimal durable session state: enough to put a returning
// viewer back where they were at the quality they had.
type Snapshot struct {
	Tier         quality.Tier
	Selection    quality.Selection
	Mobile       bool
	LastRoom     scenemap.RoomID
	LastPosition [3]float64
	LastRotation [3]float64
}

// DefaultSnapshot is what a session starts from when nothing was persisted
// or the storage medium is unavailable.
func DefaultSnapshot() Snapshot {
	return Snapshot{
		Tier:      quality.TierMedium,
		Selection: quality.SelectionAuto,
		LastRoom:  scenemap.EntryRoom,
	}
}

// Store persists snapshots keyed by a stable per-viewer key. Implementations
// may fail; the Bridge absorbs those failures.
type Store interface {
	// Save upserts the snapshot for key.
	Save(ctx context.Context, key string, snap Snapshot) error
	// Load returns the snapshot for key. The second result is false when no
	// snapshot exists.
	Load(ctx context.Context, key string) (Snapshot, bool, error)
}
