package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	"github.com/lib/pq"

	"github.com/treygoff24/scenestream/internal/quality"
	"github.com/treygoff24/scenestream/internal/scenemap"
)

// PostgresStore persists snapshots in the session_snapshots table.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a snapshot store backed by db.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Save upserts the snapshot for key.
func (s *PostgresStore) Save(ctx context.Context, key string, snap Snapshot) error {
	query := `
		INSERT INTO session_snapshots
			(session_key, tier, selection, mobile, last_room, last_position, last_rotation, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
		ON CONFLICT (session_key) DO UPDATE SET
			tier = EXCLUDED.tier,
			selection = EXCLUDED.selection,
			mobile = EXCLUDED.mobile,
			last_room = EXCLUDED.last_room,
			last_position = EXCLUDED.last_position,
			last_rotation = EXCLUDED.last_rotation,
			updated_at = NOW()
	`
	_, err := s.db.ExecContext(ctx, query,
		key,
		snap.Tier.String(),
		snap.Selection.String(),
		snap.Mobile,
		string(snap.LastRoom),
		pq.Array(snap.LastPosition[:]),
		pq.Array(snap.LastRotation[:]),
	)
	if err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", key, err)
	}
	return nil
}

// Load returns the snapshot for key, or ok=false when none exists. A row
// with unparseable fields counts as no snapshot.
func (s *PostgresStore) Load(ctx context.Context, key string) (Snapshot, bool, error) {
	query := `
		SELECT tier, selection, mobile, last_room, last_position, last_rotation
		FROM session_snapshots
		WHERE session_key = $1
	`
	var (
		tierName      string
		selectionName string
		mobile        bool
		lastRoom      string
		position      []float64
		rotation      []float64
	)
	err := s.db.QueryRowContext(ctx, query, key).Scan(
		&tierName,
		&selectionName,
		&mobile,
		&lastRoom,
		pq.Array(&position),
		pq.Array(&rotation),
	)
	if err == sql.ErrNoRows {
		return Snapshot{}, false, nil
	}
	if err != nil {
		return Snapshot{}, false, fmt.Errorf("failed to load snapshot for %s: %w", key, err)
	}

	tier, ok := quality.ParseTier(tierName)
	if !ok {
		return Snapshot{}, false, nil
	}
	selection, ok := quality.ParseSelection(selectionName)
	if !ok {
		selection = quality.SelectionAuto
	}

	snap := Snapshot{
		Tier:      tier,
		Selection: selection,
		Mobile:    mobile,
		LastRoom:  scenemap.RoomID(lastRoom),
	}
	copyVector(&snap.LastPosition, position)
	copyVector(&snap.LastRotation, rotation)
	return snap, true, nil
}

func copyVector(dst *[3]float64, src []float64) {
	for i := 0; i < len(dst) && i < len(src); i++ {
		dst[i] = src[i]
	}
}

// MemoryStore keeps snapshots in process memory. Used in tests and when no
// database is configured.
type MemoryStore struct {
	mu    sync.RWMutex
	snaps map[string]Snapshot
}

// NewMemoryStore returns an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{snaps: make(map[string]Snapshot)}
}

// Save stores the snapshot for key.
func (s *MemoryStore) Save(ctx context.Context, key string, snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snaps[key] = snap
	return nil
}

// Load returns the snapshot for key.
func (s *MemoryStore) Load(ctx context.Context, key string) (Snapshot, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.snaps[key]
	return snap, ok, nil
}
