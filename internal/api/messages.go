package api

import "encoding/json"

// Message is the WebSocket envelope. Type selects the handler, ID correlates
// a reply with its request, Data carries the type-specific payload.
type Message struct {
	Type string          `json:"type"`
	ID   string          `json:"id,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

// ErrorMessage is an error reply sent over the WebSocket.
type ErrorMessage struct {
	Type    string `json:"type"`
	ID      string `json:"id,omitempty"`
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// roomPayload names one room. Used by preload, cancel, enter, dispose, and
// exit messages.
type roomPayload struct {
	Room string `json:"room" validate:"required"`
}

// downloadResultPayload reports the outcome of a chunk download the viewer
// ran itself.
type downloadResultPayload struct {
	Room  string `json:"room" validate:"required"`
	Error string `json:"error,omitempty"`
}

// frameSamplePayload carries one frame time measurement.
type frameSamplePayload struct {
	FrameTimeMs float64 `json:"frame_time_ms" validate:"required,gt=0,lte=10000"`
}

// qualitySelectPayload carries an explicit quality choice.
type qualitySelectPayload struct {
	Selection string `json:"selection" validate:"required,oneof=auto low medium high"`
}

// poseUpdatePayload carries the viewer's camera pose.
type poseUpdatePayload struct {
	Position [3]float64 `json:"position"`
	Rotation [3]float64 `json:"rotation"`
}

// visibilityPayload reports a tab visibility change. Visible is a pointer so
// validation can tell an omitted field from an explicit false.
type visibilityPayload struct {
	Visible *bool `json:"visible" validate:"required"`
}

// faultReportPayload reports a renderer-side fault the server cannot observe
// directly.
type faultReportPayload struct {
	Kind    string `json:"kind" validate:"required,oneof=context_lost chunk_load_failure memory_exhaustion shader_compile_failure unknown"`
	Room    string `json:"room,omitempty"`
	Message string `json:"message,omitempty"`
}

// recoveryReply is the server's answer to a fault report: the action the
// viewer should take next.
type recoveryReply struct {
	Action         string `json:"action"`
	Success        bool   `json:"success"`
	Message        string `json:"message,omitempty"`
	FallbackRoom   string `json:"fallback_room,omitempty"`
	ReloadRequired bool   `json:"reload_required"`
}

// tierReply reports the effective tier after a sample or selection.
type tierReply struct {
	Tier    string `json:"tier"`
	Changed bool   `json:"changed"`
}

// chunkStateReply reports one chunk's lifecycle state.
type chunkStateReply struct {
	Room  string `json:"room"`
	State string `json:"state"`
}

// sessionSnapshotReply is pushed once after connect so the viewer can resume
// from its restored room and quality settings.
type sessionSnapshotReply struct {
	SessionID string `json:"session_id"`
	Room      string `json:"room"`
	Tier      string `json:"tier"`
	Selection string `json:"selection"`
}
