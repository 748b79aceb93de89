package api

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/treygoff24/scenestream/internal/auth"
	"github.com/treygoff24/scenestream/internal/scenemap"
)

// SessionHandlers issues session tokens and serves operational endpoints.
type SessionHandlers struct {
	tokens   *auth.TokenService
	registry *scenemap.Registry
	hub      *Hub
	validate *validator.Validate
	started  time.Time
}

// NewSessionHandlers creates the session handlers instance.
func NewSessionHandlers(tokens *auth.TokenService, registry *scenemap.Registry, hub *Hub) *SessionHandlers {
	return &SessionHandlers{
		tokens:   tokens,
		registry: registry,
		hub:      hub,
		validate: validator.New(),
		started:  time.Now(),
	}
}

// CreateSessionRequest is the body of POST /api/v1/session. Both fields are
// optional: mobile defaults to false, and room names the starting room the
// viewer wants. The room travels in the token claims and is applied at
// connect time unless a ?room= parameter on /ws overrides it.
type CreateSessionRequest struct {
	Mobile bool   `json:"mobile"`
	Room   string `json:"room,omitempty" validate:"omitempty,oneof=atrium gallery library observatory conservatory theater"`
}

// CreateSessionResponse carries the issued token.
type CreateSessionResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"session_id"`
	Token     string `json:"token"`
	ExpiresIn int64  `json:"expires_in"`
}

// CreateSession issues a new anonymous viewer session.
// POST /api/v1/session
func (h *SessionHandlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.sendError(w, http.StatusMethodNotAllowed, "MethodNotAllowed", "Use POST")
		return
	}

	var req CreateSessionRequest
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.sendError(w, http.StatusBadRequest, "InvalidRequest", "Invalid request body")
			return
		}
		if err := h.validate.Struct(req); err != nil {
			h.sendError(w, http.StatusBadRequest, "ValidationFailed", err.Error())
			return
		}
	}

	sessionID, err := auth.NewSessionID()
	if err != nil {
		log.Printf("[API] session id generation failed: %v", err)
		h.sendError(w, http.StatusInternalServerError, "InternalError", "Failed to create session")
		return
	}
	token, err := h.tokens.IssueSessionToken(sessionID, req.Mobile, req.Room)
	if err != nil {
		log.Printf("[API] token issue failed: %v", err)
		h.sendError(w, http.StatusInternalServerError, "InternalError", "Failed to create session")
		return
	}

	log.Printf("[API] session created: %s (mobile=%v)", sessionID, req.Mobile)
	h.sendJSON(w, http.StatusCreated, CreateSessionResponse{
		Success:   true,
		SessionID: sessionID,
		Token:     token,
		ExpiresIn: int64(h.tokens.TokenExpiry().Seconds()),
	})
}

// Health reports service liveness.
// GET /health
func (h *SessionHandlers) Health(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"status":     "ok",
		"service":    "scenestream-server",
		"uptime_s":   int64(time.Since(h.started).Seconds()),
		"rooms":      len(h.registry.All()),
		"sessions":   h.hub.ConnectionCount(),
		"protocol":   ProtocolVersion1,
		"checked_at": time.Now().UTC().Format(time.RFC3339),
	})
}

// Rooms lists the scene's rooms with adjacency for the viewer's preloader.
// GET /api/v1/rooms
func (h *SessionHandlers) Rooms(w http.ResponseWriter, r *http.Request) {
	type roomInfo struct {
		ID          string   `json:"id"`
		DisplayName string   `json:"display_name"`
		Adjacent    []string `json:"adjacent"`
	}
	rooms := make([]roomInfo, 0, len(h.registry.All()))
	for _, id := range h.registry.All() {
		room, _ := h.registry.Lookup(id)
		adjacent := make([]string, 0, len(room.Adjacent))
		for _, adj := range room.Adjacent {
			adjacent = append(adjacent, string(adj))
		}
		rooms = append(rooms, roomInfo{
			ID:          string(room.ID),
			DisplayName: room.DisplayName,
			Adjacent:    adjacent,
		})
	}
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"entry_room": string(scenemap.EntryRoom),
		"rooms":      rooms,
	})
}

// DebugReport summarizes live server state for operators.
// GET /debug/report (operator key required)
func (h *SessionHandlers) DebugReport(w http.ResponseWriter, r *http.Request) {
	h.sendJSON(w, http.StatusOK, map[string]interface{}{
		"success":      true,
		"uptime_s":     int64(time.Since(h.started).Seconds()),
		"connections":  h.hub.ConnectionCount(),
		"session_ids":  h.hub.Sessions(),
		"generated_at": time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *SessionHandlers) sendJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[API] failed to write response: %v", err)
	}
}

func (h *SessionHandlers) sendError(w http.ResponseWriter, status int, code, message string) {
	h.sendJSON(w, status, map[string]interface{}{
		"success": false,
		"error":   code,
		"message": message,
	})
}
