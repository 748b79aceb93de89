package quality

import (
	"log"
	"sort"
	"sync"
)

// Tier is a concrete rendering-cost level. Tiers are ordered: each step up
// maps externally to a monotonically more expensive settings bundle.
type Tier int

const (
	TierLow Tier = iota
	TierMedium
	TierHigh
)

// String returns the wire/log name for the tier.
func (t Tier) String() string {
	switch t {
	case TierLow:
		return "low"
	case TierMedium:
		return "medium"
	case TierHigh:
		return "high"
	default:
		return "invalid"
	}
}

// ParseTier maps a wire name back to a tier. The second result is false for
// unknown names.
func ParseTier(name string) (Tier, bool) {
	switch name {
	case "low":
		return TierLow, true
	case "medium":
		return TierMedium, true
	case "high":
		return TierHigh, true
	default:
		return TierLow, false
	}
}

// Selection is the user-facing quality choice. Unlike Tier it may be Auto;
// the controller resolves Auto to a concrete tier, which is the only thing
// ever reported as the effective tier.
type Selection int

const (
	SelectionAuto Selection = iota
	SelectionLow
	SelectionMedium
	SelectionHigh
)

// String returns the wire/log name for the selection.
func (s Selection) String() string {
	switch s {
	case SelectionAuto:
		return "auto"
	case SelectionLow:
		return "low"
	case SelectionMedium:
		return "medium"
	case SelectionHigh:
		return "high"
	default:
		return "invalid"
	}
}

// ParseSelection maps a wire name back to a selection.
func ParseSelection(name string) (Selection, bool) {
	switch name {
	case "auto":
		return SelectionAuto, true
	case "low":
		return SelectionLow, true
	case "medium":
		return SelectionMedium, true
	case "high":
		return SelectionHigh, true
	default:
		return SelectionAuto, false
	}
}

// tier returns the concrete tier for an explicit (non-auto) selection.
func (s Selection) tier() Tier {
	switch s {
	case SelectionLow:
		return TierLow
	case SelectionMedium:
		return TierMedium
	case SelectionHigh:
		return TierHigh
	default:
		return TierMedium
	}
}

// Config holds the tuning thresholds for auto quality resolution.
type Config struct {
	// WindowSize is how many recent frame samples feed the p95 estimate.
	WindowSize int
	// DowngradeP95Ms downgrades one tier when the window p95 exceeds it.
	DowngradeP95Ms float64
	// UpgradeP95Ms upgrades one tier when the window p95 falls below it.
	UpgradeP95Ms float64
	// CooldownFrames suppresses further changes for this many samples after
	// a tier change, preventing oscillation under noisy input.
	CooldownFrames int
	// Mobile disables auto-upgrades entirely (battery and thermal policy).
	Mobile bool
}

// DefaultConfig returns the standard thresholds.
func DefaultConfig() Config {
	return Config{
		WindowSize:     60,
		DowngradeP95Ms: 20,
		UpgradeP95Ms:   12,
		CooldownFrames: 120,
		Mobile:         false,
	}
}

// Recorder receives tier-change telemetry. Satisfied by telemetry.Recorder.
type Recorder interface {
	Record(eventType string, payload map[string]interface{})
}

// TierChangeFunc is invoked after the effective tier changes so the render
// loop can reconfigure its settings bundle.
type TierChangeFunc func(old, new Tier)

// Controller resolves the user's quality selection into an effective tier,
// closing the loop on noisy frame-time samples with hysteresis. It is the
// sole writer of its state.
type Controller struct {
	mu sync.Mutex

	cfg       Config
	selection Selection
	effective Tier

	window   []float64
	next     int
	filled   bool
	cooldown int

	recorder Recorder
	onChange TierChangeFunc
}

// NewController builds a controller starting at the given tier with auto
// tuning enabled.
func NewController(cfg Config, start Tier, recorder Recorder, onChange TierChangeFunc) *Controller {
	if cfg.WindowSize <= 0 {
		cfg.WindowSize = DefaultConfig().WindowSize
	}
	return &Controller{
		cfg:       cfg,
		selection: SelectionAuto,
		effective: start,
		window:    make([]float64, cfg.WindowSize),
		recorder:  recorder,
		onChange:  onChange,
	}
}

// EffectiveTier returns the resolved concrete tier. Never Auto.
func (c *Controller) EffectiveTier() Tier {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.effective
}

// SelectionValue returns the current user-facing selection.
func (c *Controller) SelectionValue() Selection {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection
}

// AutoEnabled reports whether frame samples may move the tier.
func (c *Controller) AutoEnabled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selection == SelectionAuto
}

// SetSelection applies an explicit user choice. A concrete selection pins
// the effective tier and disables auto tuning; re-selecting Auto resumes it
// from the current tier.
func (c *Controller) SetSelection(sel Selection) {
	c.mu.Lock()
	c.selection = sel
	if sel == SelectionAuto {
		// Resume tuning from wherever we are; clear stale samples so old
		// frame times do not trigger an immediate change.
		c.resetWindowLocked()
		c.cooldown = 0
		c.mu.Unlock()
		return
	}
	from, changed := c.changeTierLocked(sel.tier(), "user_selection")
	to := c.effective
	c.mu.Unlock()
	c.notify(from, to, changed)
}

// Downgrade forces the effective tier one step down, regardless of the
// current selection. Used by fault recovery under memory pressure. Returns
// the resulting tier.
func (c *Controller) Downgrade(reason string) Tier {
	c.mu.Lock()
	var from Tier
	changed := false
	if c.effective > TierLow {
		from, changed = c.changeTierLocked(c.effective-1, reason)
	}
	to := c.effective
	c.mu.Unlock()
	c.notify(from, to, changed)
	return to
}

// RecordFrameSample feeds one frame time in milliseconds. It returns the new
// tier and true when this sample caused a change. Deterministic given the
// same sample sequence and starting state.
func (c *Controller) RecordFrameSample(ms float64) (Tier, bool) {
	c.mu.Lock()

	if c.selection != SelectionAuto {
		tier := c.effective
		c.mu.Unlock()
		return tier, false
	}

	c.window[c.next] = ms
	c.next++
	if c.next == len(c.window) {
		c.next = 0
		c.filled = true
	}

	if c.cooldown > 0 {
		c.cooldown--
		tier := c.effective
		c.mu.Unlock()
		return tier, false
	}
	if !c.filled {
		tier := c.effective
		c.mu.Unlock()
		return tier, false
	}

	var from Tier
	changed := false
	p95 := percentile95(c.window)
	switch {
	case p95 > c.cfg.DowngradeP95Ms && c.effective > TierLow:
		from, changed = c.changeTierLocked(c.effective-1, "auto_downgrade")
	case p95 < c.cfg.UpgradeP95Ms && c.effective < TierHigh && !c.cfg.Mobile:
		// Mobile never auto-upgrades.
		from, changed = c.changeTierLocked(c.effective+1, "auto_upgrade")
	}
	to := c.effective
	c.mu.Unlock()
	c.notify(from, to, changed)
	return to, changed
}

// changeTierLocked mutates tier state and reports the transition. The
// onChange callback fires later, outside the lock, via notify.
func (c *Controller) changeTierLocked(to Tier, reason string) (Tier, bool) {
	if to == c.effective {
		return c.effective, false
	}
	from := c.effective
	c.effective = to
	c.cooldown = c.cfg.CooldownFrames
	c.resetWindowLocked()

	log.Printf("[Quality] tier %s -> %s (%s)", from, to, reason)
	if c.recorder != nil {
		c.recorder.Record("quality_tier_changed", map[string]interface{}{
			"from":   from.String(),
			"to":     to.String(),
			"reason": reason,
		})
	}
	return from, true
}

// notify fires the tier-change callback outside the controller lock so the
// callback may read controller state freely.
func (c *Controller) notify(from, to Tier, changed bool) {
	if !changed || c.onChange == nil {
		return
	}
	c.onChange(from, to)
}

func (c *Controller) resetWindowLocked() {
	c.next = 0
	c.filled = false
}

// percentile95 returns the 95th-percentile value of the window, ignoring
// one-off spikes that a mean would overweight.
func percentile95(window []float64) float64 {
	sorted := make([]float64, len(window))
	copy(sorted, window)
	sort.Float64s(sorted)
	idx := (len(sorted) * 95) / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}
