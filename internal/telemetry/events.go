package telemetry

// SchemaVersion tags every event so the analytics pipeline can evolve the
// vocabulary without guessing.
const SchemaVersion = "v1"

// Event categories. Every event type belongs to exactly one.
const (
	CategoryMilestone   = "milestone"
	CategoryEngagement  = "engagement"
	CategoryPerformance = "performance"
)

// Event is one telemetry record. Immutable once queued; the flush that
// delivers it also discards it.
type Event struct {
	Type        string                 `json:"type"`
	Category    string                 `json:"category"`
	Schema      string                 `json:"schema"`
	TimestampMs int64                  `json:"timestamp_ms"`
	SessionID   string                 `json:"session_id"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// terminalTypes flush immediately when recorded: they mark the end of the
// session or of the rendering context, and waiting for the next interval
// risks losing them on exit.
var terminalTypes = map[string]bool{
	"context_lost": true,
	"session_end":  true,
}
