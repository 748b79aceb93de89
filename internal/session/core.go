package session

import (
	"context"
	"fmt"
	"log"
	"sync"

	"github.com/treygoff24/scenestream/internal/assets"
	"github.com/treygoff24/scenestream/internal/chunk"
	"github.com/treygoff24/scenestream/internal/config"
	"github.com/treygoff24/scenestream/internal/fault"
	"github.com/treygoff24/scenestream/internal/persistence"
	"github.com/treygoff24/scenestream/internal/quality"
	"github.com/treygoff24/scenestream/internal/scenemap"
	"github.com/treygoff24/scenestream/internal/telemetry"
)

// ManifestFetcher is the slice of the asset client the core needs.
type ManifestFetcher interface {
	FetchManifest(ctx context.Context, room scenemap.RoomID) (*assets.ChunkManifest, error)
}

// Decision is a recovery decision enriched with what the caller needs to
// execute it: the fallback room for fallback actions and whether the session
// is now flagged reload-required.
type Decision struct {
	fault.Strategy
	FallbackRoom   scenemap.RoomID
	ReloadRequired bool
}

// Core is one viewer's session brain. It is constructed once at session
// start and owns the chunk store, quality controller, fault engine,
// telemetry recorder, and persistence bridge. External callers mutate
// session state only through its methods; the core serializes those
// mutations, so the component invariants hold without further coordination.
type Core struct {
	mu sync.Mutex

	sessionID string
	registry  *scenemap.Registry
	cfg       *config.Config

	chunks   *chunk.Store
	quality  *quality.Controller
	faults   *fault.Engine
	recorder *telemetry.Recorder
	perf     *telemetry.PerfAggregator
	dwell    *telemetry.DwellTracker
	bridge   *persistence.Bridge
	fetcher  ManifestFetcher

	memMonitor *fault.MemoryMonitor
	visibility *fault.VisibilityMonitor

	// attempt counters owned by the core as the executor of recovery
	// actions; the fault engine itself is stateless.
	chunkAttempts map[scenemap.RoomID]int
	kindAttempts  map[fault.Kind]int

	currentRoom    scenemap.RoomID
	position       [3]float64
	rotation       [3]float64
	mobile         bool
	reloadRequired bool
	closed         bool

	wg sync.WaitGroup
}

// Options carries the collaborators a core is built from.
type Options struct {
	SessionID string
	Registry  *scenemap.Registry
	Store     persistence.Store
	Sink      telemetry.Sink
	Fetcher   ManifestFetcher
	Scheduler chunk.ResetScheduler
	Mobile    bool
	RoomHint  scenemap.RoomID
}

// NewCore builds and starts a session core: restores the snapshot (room
// hint wins over the persisted room), registers every room's chunk, and
// starts the telemetry flusher and memory monitor.
func NewCore(cfg *config.Config, opts Options) (*Core, error) {
	if opts.Registry == nil {
		return nil, fmt.Errorf("session requires a room registry")
	}
	if opts.Scheduler == nil {
		opts.Scheduler = chunk.NewTimerScheduler()
	}

	recorder := telemetry.NewRecorder(telemetry.Config{
		FlushInterval: cfg.Telemetry.FlushInterval,
		MaxQueue:      cfg.Telemetry.MaxQueue,
		FlushTimeout:  cfg.Telemetry.FlushTimeout,
	}, opts.SessionID, opts.Sink)

	bridge := persistence.NewBridge(opts.Store, opts.SessionID, opts.Registry)
	snap := bridge.Restore(context.Background(), opts.RoomHint)

	c := &Core{
		sessionID:     opts.SessionID,
		registry:      opts.Registry,
		cfg:           cfg,
		recorder:      recorder,
		bridge:        bridge,
		fetcher:       opts.Fetcher,
		visibility:    fault.NewVisibilityMonitor(),
		chunkAttempts: make(map[scenemap.RoomID]int),
		kindAttempts:  make(map[fault.Kind]int),
		currentRoom:   snap.LastRoom,
		position:      snap.LastPosition,
		rotation:      snap.LastRotation,
		mobile:        opts.Mobile || snap.Mobile,
	}

	c.faults = fault.NewEngine(recorder)
	c.chunks = chunk.NewStore(cfg.Chunk.MaxDormant, cfg.Chunk.ResetDelay, opts.Scheduler, recorder)
	for _, id := range opts.Registry.All() {
		if err := c.chunks.Register(id, opts.Registry.MemoryEstimate(id)); err != nil {
			return nil, fmt.Errorf("failed to register chunk %s: %w", id, err)
		}
	}

	qcfg := quality.Config{
		WindowSize:     cfg.Quality.WindowSize,
		DowngradeP95Ms: cfg.Quality.DowngradeP95Ms,
		UpgradeP95Ms:   cfg.Quality.UpgradeP95Ms,
		CooldownFrames: cfg.Quality.CooldownFrames,
		Mobile:         c.mobile,
	}
	c.quality = quality.NewController(qcfg, snap.Tier, recorder, func(old, new quality.Tier) {
		c.persist()
	})
	if snap.Selection != quality.SelectionAuto {
		c.quality.SetSelection(snap.Selection)
	}

	c.perf = telemetry.NewPerfAggregator(recorder, cfg.Telemetry.PerfWindow, c.quality.EffectiveTier().String())
	c.dwell = telemetry.NewDwellTracker(recorder)

	c.memMonitor = fault.NewMemoryMonitor(
		cfg.Chunk.MemoryPollInterval,
		cfg.Chunk.MemoryThresholdPct,
		cfg.Chunk.MemoryBudgetBytes,
		c.chunks.ResidentBytes,
		func(f fault.Fault) { c.HandleFault(f) },
	)

	recorder.Start()
	c.memMonitor.Start()
	recorder.RecordMilestone("session_start", map[string]interface{}{
		"room":   string(snap.LastRoom),
		"tier":   snap.Tier.String(),
		"mobile": c.mobile,
	})

	log.Printf("[Session] %s started in %s at tier %s", opts.SessionID, snap.LastRoom, snap.Tier)
	return c, nil
}

// SessionID returns this session's identifier.
func (c *Core) SessionID() string {
	return c.sessionID
}

// CurrentRoom returns the room the viewer is in.
func (c *Core) CurrentRoom() scenemap.RoomID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.currentRoom
}

// EffectiveTier returns the resolved quality tier.
func (c *Core) EffectiveTier() quality.Tier {
	return c.quality.EffectiveTier()
}

// Selection returns the viewer's quality selection, which may be auto.
func (c *Core) Selection() quality.Selection {
	return c.quality.SelectionValue()
}

// ReloadRequired reports whether recovery has converged on a reload.
func (c *Core) ReloadRequired() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.reloadRequired
}

// Chunks exposes the chunk store for read-side inspection.
func (c *Core) Chunks() *chunk.Store {
	return c.chunks
}

// Recorder exposes the telemetry recorder.
func (c *Core) Recorder() *telemetry.Recorder {
	return c.recorder
}

// PreloadChunk starts loading a room's chunk because the viewer is near it.
// The manifest fetch runs asynchronously; its completion signal is applied
// whenever it lands, and a signal for a since-cancelled preload is ignored.
func (c *Core) PreloadChunk(ctx context.Context, room scenemap.RoomID) error {
	if _, err := c.chunks.Transition(room, chunk.EventProximity); err != nil {
		return err
	}
	if c.fetcher == nil {
		return nil
	}

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		manifest, err := c.fetcher.FetchManifest(ctx, room)
		if err != nil {
			if _, terr := c.chunks.Transition(room, chunk.EventDownloadFailed); terr != nil {
				log.Printf("[Session] download-failed signal for %s rejected: %v", room, terr)
			}
			c.HandleFault(fault.Classify(err))
			return
		}
		if err := c.chunks.SetMemoryEstimate(room, manifest.PayloadBytes); err != nil {
			log.Printf("[Session] estimate update for %s failed: %v", room, err)
		}
		if _, err := c.chunks.Transition(room, chunk.EventDownloadComplete); err != nil {
			log.Printf("[Session] completion signal for %s rejected: %v", room, err)
			return
		}
		c.mu.Lock()
		c.chunkAttempts[room] = 0
		c.mu.Unlock()
		c.recorder.RecordMilestone("first_chunk_loaded", map[string]interface{}{
			"room": string(room),
		})
	}()
	return nil
}

// CancelPreload abandons an in-flight preload. Safe to race against the
// download outcome and safe to repeat: whichever signal lands second is a
// no-op. Returns the chunk's resulting state.
func (c *Core) CancelPreload(room scenemap.RoomID) (chunk.State, error) {
	return c.chunks.Transition(room, chunk.EventCancel)
}

// ChunkDownloadComplete applies a loader-reported download completion.
func (c *Core) ChunkDownloadComplete(room scenemap.RoomID) error {
	if _, err := c.chunks.Transition(room, chunk.EventDownloadComplete); err != nil {
		return err
	}
	c.mu.Lock()
	c.chunkAttempts[room] = 0
	c.mu.Unlock()
	c.recorder.RecordMilestone("first_chunk_loaded", map[string]interface{}{
		"room": string(room),
	})
	return nil
}

// ChunkDownloadFailed applies a loader-reported download failure and returns
// the recovery decision for it.
func (c *Core) ChunkDownloadFailed(room scenemap.RoomID, cause error) (Decision, error) {
	if _, err := c.chunks.Transition(room, chunk.EventDownloadFailed); err != nil {
		return Decision{}, err
	}
	f := fault.Fault{Kind: fault.KindChunkLoadFailure, Chunk: room, Err: cause}
	return c.HandleFault(f), nil
}

// EnterRoom activates a room's chunk: the previously active chunk goes
// dormant and the dormant set is trimmed before this returns. The dwell
// tracker and snapshot follow the room change.
func (c *Core) EnterRoom(room scenemap.RoomID) error {
	if err := c.chunks.Activate(room); err != nil {
		return err
	}

	c.mu.Lock()
	c.currentRoom = room
	c.mu.Unlock()

	c.dwell.EnterRoom(room)
	c.recorder.RecordMilestone("first_room_entered", map[string]interface{}{
		"room": string(room),
	})
	c.persist()
	return nil
}

// ExitRoom records the viewer leaving a room without entering another
// (session going idle). Dwell accounting closes the span.
func (c *Core) ExitRoom(room scenemap.RoomID) {
	c.dwell.ExitRoom(room)
}

// DisposeChunk tears down a dormant chunk explicitly. Idempotent.
func (c *Core) DisposeChunk(room scenemap.RoomID) error {
	return c.chunks.Dispose(room)
}

// RecordFrame feeds one frame time into the quality controller and the
// performance aggregation. Returns the tier and whether this sample changed
// it.
func (c *Core) RecordFrame(ms float64) (quality.Tier, bool) {
	tier, changed := c.quality.RecordFrameSample(ms)
	c.perf.RecordFrame(ms, tier.String())
	return tier, changed
}

// SetQualitySelection applies an explicit user quality choice and persists
// the settings change.
func (c *Core) SetQualitySelection(sel quality.Selection) {
	c.quality.SetSelection(sel)
	c.persist()
}

// UpdatePose records the viewer's position and rotation for the snapshot.
func (c *Core) UpdatePose(position, rotation [3]float64) {
	c.mu.Lock()
	c.position = position
	c.rotation = rotation
	c.mu.Unlock()
	c.persist()
}

// VisibilityChanged records a tab visibility transition. Returns true when
// the caller should re-validate the rendering context (first visible signal
// after a hidden one).
func (c *Core) VisibilityChanged(visible bool) bool {
	revalidate := c.visibility.Signal(visible)
	c.recorder.Record("visibility_changed", map[string]interface{}{
		"visible":    visible,
		"revalidate": revalidate,
	})
	if !visible {
		// The tab may be killed while hidden; make sure queued events and
		// the open perf window are not lost.
		c.perf.FlushWindow(c.quality.EffectiveTier().String())
		c.recorder.Flush()
	}
	return revalidate
}

// HandleFault classifies one fault occurrence against the caller-owned
// attempt counter, executes the server-side share of the recovery action
// (tier downgrade, reload flag), and returns the decision for the caller to
// execute the rest (retry, fallback navigation, reload).
func (c *Core) HandleFault(f fault.Fault) Decision {
	attempts := c.bumpAttempts(f)

	strategy := c.faults.RecoveryStrategy(f, attempts)
	decision := Decision{Strategy: strategy}

	switch strategy.Action {
	case fault.ActionDowngrade:
		c.quality.Downgrade("memory_pressure")
	case fault.ActionFallback:
		if f.Kind == fault.KindChunkLoadFailure {
			decision.FallbackRoom = scenemap.FallbackRoom
		}
	case fault.ActionReload:
		c.mu.Lock()
		c.reloadRequired = true
		c.mu.Unlock()
		if f.Kind == fault.KindContextLost {
			// Terminal: flushed immediately so it survives the exit.
			c.recorder.Record("context_lost", map[string]interface{}{
				"message": strategy.Message,
			})
		}
	}

	c.mu.Lock()
	decision.ReloadRequired = c.reloadRequired
	c.mu.Unlock()
	return decision
}

// bumpAttempts returns the attempt count before this occurrence and
// increments it. Chunk load failures count per chunk; other kinds per kind.
func (c *Core) bumpAttempts(f fault.Fault) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if f.Kind == fault.KindChunkLoadFailure {
		attempts := c.chunkAttempts[f.Chunk]
		c.chunkAttempts[f.Chunk] = attempts + 1
		return attempts
	}
	attempts := c.kindAttempts[f.Kind]
	c.kindAttempts[f.Kind] = attempts + 1
	return attempts
}

// CheckMemoryPressure polls the memory monitor immediately (on top of its
// fixed interval). Exposed for deterministic testing and forced checks
// after large loads.
func (c *Core) CheckMemoryPressure() {
	c.memMonitor.Check()
}

// persist writes the current snapshot. Failures degrade silently inside the
// bridge.
func (c *Core) persist() {
	c.mu.Lock()
	snap := persistence.Snapshot{
		Tier:         c.quality.EffectiveTier(),
		Selection:    c.quality.SelectionValue(),
		Mobile:       c.mobile,
		LastRoom:     c.currentRoom,
		LastPosition: c.position,
		LastRotation: c.rotation,
	}
	c.mu.Unlock()
	c.bridge.Save(context.Background(), snap)
}

// Close tears the session down deterministically: monitors stop, pending
// spans and windows flush, the final snapshot is written, and the recorder
// flushes its tail (including the session_end terminal event). No timer
// callback runs after Close returns.
func (c *Core) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	c.mu.Unlock()

	c.memMonitor.Stop()
	c.wg.Wait()
	c.chunks.Close()
	c.dwell.Close()
	c.perf.FlushWindow(c.quality.EffectiveTier().String())
	c.persist()
	c.recorder.Close()
	log.Printf("[Session] %s closed", c.sessionID)
}
