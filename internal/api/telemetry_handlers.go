package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/treygoff24/scenestream/internal/auth"
	"github.com/treygoff24/scenestream/internal/telemetry"
)

// ingestWriteTimeout bounds one sink write for an HTTP-delivered batch.
const ingestWriteTimeout = 5 * time.Second

// TelemetryHandlers accepts batched events over HTTP. The live session
// flushes through its WebSocket recorder; this path exists for beacon-style
// delivery when the tab closes before the socket can flush the tail.
type TelemetryHandlers struct {
	sink     telemetry.Sink
	validate *validator.Validate
}

// NewTelemetryHandlers creates the telemetry ingest handlers instance.
func NewTelemetryHandlers(sink telemetry.Sink) *TelemetryHandlers {
	return &TelemetryHandlers{
		sink:     sink,
		validate: validator.New(),
	}
}

// ingestEvent is one client-recorded event. The session id never comes from
// the body; it is taken from the authenticated token.
type ingestEvent struct {
	Type        string                 `json:"type" validate:"required,max=64"`
	Category    string                 `json:"category" validate:"required,oneof=milestone engagement performance"`
	TimestampMs int64                  `json:"timestamp_ms" validate:"required,gt=0"`
	Payload     map[string]interface{} `json:"payload,omitempty"`
}

// ingestRequest is the body of POST /api/v1/telemetry.
type ingestRequest struct {
	Events []ingestEvent `json:"events" validate:"required,min=1,max=256,dive"`
}

// Ingest accepts a batch of events for the authenticated session.
// POST /api/v1/telemetry (session token required)
func (h *TelemetryHandlers) Ingest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "Use POST")
		return
	}
	sessionID, ok := auth.GetSessionID(r)
	if !ok {
		h.sendError(w, http.StatusUnauthorized, "MissingSession", "Session required")
		return
	}

	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.sendError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
		return
	}
	if err := h.validate.Struct(req); err != nil {
		h.sendError(w, http.StatusBadRequest, "ValidationFailed", err.Error())
		return
	}

	events := make([]telemetry.Event, 0, len(req.Events))
	for _, ev := range req.Events {
		events = append(events, telemetry.Event{
			Type:        ev.Type,
			Category:    ev.Category,
			Schema:      telemetry.SchemaVersion,
			TimestampMs: ev.TimestampMs,
			SessionID:   sessionID,
			Payload:     ev.Payload,
		})
	}

	ctx, cancel := context.WithTimeout(r.Context(), ingestWriteTimeout)
	defer cancel()
	if err := h.sink.WriteEvents(ctx, events); err != nil {
		log.Printf("[API] telemetry ingest for %s failed: %v", sessionID, err)
		h.sendError(w, http.StatusBadGateway, "SinkUnavailable", "Failed to store events")
		return
	}

	h.sendJSON(w, http.StatusAccepted, map[string]interface{}{
		"success":  true,
		"accepted": len(events),
	})
}

func (h *TelemetryHandlers) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[API] failed to write response: %v", err)
	}
}

func (h *TelemetryHandlers) sendError(w http.ResponseWriter, status int, code, message string) {
	h.sendJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   code,
		"message": message,
	})
}
