package api

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/websocket"

	"github.com/treygoff24/scenestream/internal/auth"
	"github.com/treygoff24/scenestream/internal/chunk"
	"github.com/treygoff24/scenestream/internal/config"
	"github.com/treygoff24/scenestream/internal/fault"
	"github.com/treygoff24/scenestream/internal/persistence"
	"github.com/treygoff24/scenestream/internal/quality"
	"github.com/treygoff24/scenestream/internal/scenemap"
	"github.com/treygoff24/scenestream/internal/session"
	"github.com/treygoff24/scenestream/internal/telemetry"
)

const (
	// Supported WebSocket protocol versions
	ProtocolVersion1 = "scenestream-v1"

	// Default ping interval (30 seconds)
	defaultPingInterval = 30 * time.Second

	// Pong wait timeout (60 seconds)
	pongWait = 60 * time.Second

	// Write timeout (10 seconds)
	writeTimeout = 10 * time.Second
)

// Connection is one viewer's active WebSocket connection. It owns the
// session core for that viewer; closing the connection closes the session.
type Connection struct {
	conn      *websocket.Conn
	sessionID string
	version   string
	core      *session.Core
	send      chan []byte
	hub       *Hub
}

// Hub manages all active WebSocket connections.
type Hub struct {
	connections map[*Connection]bool
	broadcast   chan []byte
	register    chan *Connection
	unregister  chan *Connection
	mu          sync.RWMutex
}

// NewHub creates a new connection hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*Connection]bool),
		broadcast:   make(chan []byte, 256),
		register:    make(chan *Connection),
		unregister:  make(chan *Connection),
	}
}

// Run starts the hub's main loop.
func (h *Hub) Run() {
	for {
		select {
		case conn := <-h.register:
			h.mu.Lock()
			h.connections[conn] = true
			h.mu.Unlock()
			log.Printf("[WS] connection registered: session=%s version=%s", conn.sessionID, conn.version)

		case conn := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.connections[conn]; ok {
				delete(h.connections, conn)
				close(conn.send)
			}
			h.mu.Unlock()
			log.Printf("[WS] connection unregistered: session=%s", conn.sessionID)

		case message := <-h.broadcast:
			h.mu.RLock()
			for conn := range h.connections {
				select {
				case conn.send <- message:
				default:
					close(conn.send)
					delete(h.connections, conn)
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Broadcast sends a message to every connected viewer. Used for server-wide
// notices such as imminent shutdown.
func (h *Hub) Broadcast(message []byte) {
	h.broadcast <- message
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Sessions returns the session IDs of all active connections.
func (h *Hub) Sessions() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]string, 0, len(h.connections))
	for conn := range h.connections {
		out = append(out, conn.sessionID)
	}
	return out
}

// WebSocketHandlers upgrades viewer connections and routes their messages to
// the per-session core.
type WebSocketHandlers struct {
	hub       *Hub
	config    *config.Config
	tokens    *auth.TokenService
	registry  *scenemap.Registry
	snapshots persistence.Store
	sink      telemetry.Sink
	fetcher   session.ManifestFetcher
	validate  *validator.Validate
	upgrader  websocket.Upgrader
}

// NewWebSocketHandlers creates the WebSocket handlers instance.
func NewWebSocketHandlers(cfg *config.Config, tokens *auth.TokenService, registry *scenemap.Registry, snapshots persistence.Store, sink telemetry.Sink, fetcher session.ManifestFetcher) *WebSocketHandlers {
	allowedOrigins := []string{
		"http://localhost:3000",
		"http://localhost:5173",
		"http://127.0.0.1:3000",
		"http://127.0.0.1:5173",
	}

	return &WebSocketHandlers{
		hub:       NewHub(),
		config:    cfg,
		tokens:    tokens,
		registry:  registry,
		snapshots: snapshots,
		sink:      sink,
		fetcher:   fetcher,
		validate:  validator.New(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				if origin == "" {
					// Non-browser clients (tests, tooling) send no origin.
					return true
				}
				for _, allowed := range allowedOrigins {
					if origin == allowed {
						return true
					}
				}
				return false
			},
		},
	}
}

// Hub returns the connection hub for inspection and broadcast.
func (h *WebSocketHandlers) Hub() *Hub {
	return h.hub
}

// HandleWebSocket handles WebSocket connection upgrades.
func (h *WebSocketHandlers) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	token := extractToken(r)
	if token == "" {
		http.Error(w, "Authentication required", http.StatusUnauthorized)
		return
	}
	claims, err := h.tokens.ValidateSessionToken(token)
	if err != nil {
		log.Printf("[WS] token validation failed: %v", err)
		http.Error(w, "Invalid token", http.StatusUnauthorized)
		return
	}

	selectedVersion := negotiateVersion(r.Header.Get("Sec-WebSocket-Protocol"))
	if selectedVersion == "" {
		http.Error(w, "Unsupported protocol version", http.StatusBadRequest)
		return
	}
	responseHeaders := http.Header{}
	responseHeaders.Set("Sec-WebSocket-Protocol", selectedVersion)

	conn, err := h.upgrader.Upgrade(w, r, responseHeaders)
	if err != nil {
		log.Printf("[WS] upgrade failed: %v", err)
		return
	}

	// The shareable ?room= link wins over the room requested at session
	// creation, which in turn wins over the persisted room.
	roomHint := r.URL.Query().Get(persistence.RoomHintParam)
	if roomHint == "" {
		roomHint = claims.Room
	}

	core, err := session.NewCore(h.config, session.Options{
		SessionID: claims.SessionID,
		Registry:  h.registry,
		Store:     h.snapshots,
		Sink:      h.sink,
		Fetcher:   h.fetcher,
		Mobile:    claims.Mobile,
		RoomHint:  scenemap.RoomID(roomHint),
	})
	if err != nil {
		log.Printf("[WS] session setup failed for %s: %v", claims.SessionID, err)
		_ = conn.Close()
		return
	}

	wsConn := &Connection{
		conn:      conn,
		sessionID: claims.SessionID,
		version:   selectedVersion,
		core:      core,
		send:      make(chan []byte, 256),
		hub:       h.hub,
	}
	h.hub.register <- wsConn

	// Queue the restored snapshot before the pumps start so it is the first
	// frame the viewer reads.
	wsConn.sendJSON("session_snapshot", "", sessionSnapshotReply{
		SessionID: core.SessionID(),
		Room:      string(core.CurrentRoom()),
		Tier:      core.EffectiveTier().String(),
		Selection: core.Selection().String(),
	})

	go wsConn.writePump()
	go wsConn.readPump(h)
}

// extractToken pulls the session token from the query string or the
// Authorization header.
func extractToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	authHeader := r.Header.Get("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}
	return ""
}

// negotiateVersion selects the highest supported protocol version.
func negotiateVersion(requested string) string {
	if requested == "" {
		return ProtocolVersion1
	}

	requestedVersions := strings.Split(requested, ",")
	for i := range requestedVersions {
		requestedVersions[i] = strings.TrimSpace(requestedVersions[i])
	}

	supportedVersions := []string{ProtocolVersion1}
	for _, supported := range supportedVersions {
		for _, req := range requestedVersions {
			if req == supported {
				return supported
			}
		}
	}
	return ""
}

// readPump handles incoming messages from the WebSocket connection.
func (c *Connection) readPump(handlers *WebSocketHandlers) {
	defer func() {
		c.hub.unregister <- c
		c.core.Close()
		if err := c.conn.Close(); err != nil {
			log.Printf("[WS] failed to close connection: %v", err)
		}
	}()

	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		log.Printf("[WS] failed to set read deadline: %v", err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, messageBytes, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] read error: %v", err)
			}
			break
		}

		var msg Message
		if err := json.Unmarshal(messageBytes, &msg); err != nil {
			c.sendError("", "Invalid message format", "InvalidMessageFormat")
			continue
		}
		handlers.handleMessage(c, &msg)
	}
}

// writePump handles outgoing messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(defaultPingInterval)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil {
			log.Printf("[WS] failed to close connection: %v", err)
		}
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Printf("[WS] failed to set write deadline: %v", err)
				return
			}
			if !ok {
				if err := c.conn.WriteMessage(websocket.CloseMessage, []byte{}); err != nil {
					log.Printf("[WS] failed to write close message: %v", err)
				}
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
				log.Printf("[WS] failed to set write deadline for ping: %v", err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendJSON marshals and queues a reply. Drops the message when the send
// buffer is full rather than blocking the handler.
func (c *Connection) sendJSON(msgType, id string, data interface{}) {
	var raw json.RawMessage
	if data != nil {
		encoded, err := json.Marshal(data)
		if err != nil {
			log.Printf("[WS] failed to marshal %s reply: %v", msgType, err)
			return
		}
		raw = encoded
	}
	messageBytes, err := json.Marshal(Message{Type: msgType, ID: id, Data: raw})
	if err != nil {
		log.Printf("[WS] failed to marshal %s envelope: %v", msgType, err)
		return
	}
	select {
	case c.send <- messageBytes:
	default:
		log.Printf("[WS] dropping %s reply: send buffer full", msgType)
	}
}

// sendError sends an error message to the client.
func (c *Connection) sendError(id, errorMsg, code string) {
	messageBytes, err := json.Marshal(ErrorMessage{
		Type:    "error",
		ID:      id,
		Error:   errorMsg,
		Message: errorMsg,
		Code:    code,
	})
	if err != nil {
		log.Printf("[WS] failed to marshal error message: %v", err)
		return
	}
	select {
	case c.send <- messageBytes:
	default:
		log.Printf("[WS] dropping error message: send buffer full")
	}
}

// handleMessage routes messages to the per-session core.
func (h *WebSocketHandlers) handleMessage(conn *Connection, msg *Message) {
	switch msg.Type {
	case "ping":
		conn.sendJSON("pong", msg.ID, nil)
	case "chunk_preload":
		h.handleChunkPreload(conn, msg)
	case "chunk_cancel":
		h.handleChunkCancel(conn, msg)
	case "chunk_download_complete":
		h.handleDownloadComplete(conn, msg)
	case "chunk_download_failed":
		h.handleDownloadFailed(conn, msg)
	case "chunk_enter":
		h.handleChunkEnter(conn, msg)
	case "chunk_dispose":
		h.handleChunkDispose(conn, msg)
	case "room_exit":
		h.handleRoomExit(conn, msg)
	case "frame_sample":
		h.handleFrameSample(conn, msg)
	case "quality_select":
		h.handleQualitySelect(conn, msg)
	case "pose_update":
		h.handlePoseUpdate(conn, msg)
	case "visibility":
		h.handleVisibility(conn, msg)
	case "fault_report":
		h.handleFaultReport(conn, msg)
	default:
		conn.sendError(msg.ID, "Unknown message type", "UnknownMessageType")
	}
}

// decodePayload unmarshals and validates a message payload. A false return
// means an error reply has already been sent.
func (h *WebSocketHandlers) decodePayload(conn *Connection, msg *Message, out interface{}) bool {
	if err := json.Unmarshal(msg.Data, out); err != nil {
		conn.sendError(msg.ID, "Invalid payload", "InvalidPayload")
		return false
	}
	if err := h.validate.Struct(out); err != nil {
		conn.sendError(msg.ID, "Payload validation failed: "+err.Error(), "ValidationFailed")
		return false
	}
	return true
}

// resolveRoom validates a room name against the scene map. A false return
// means an error reply has already been sent.
func (h *WebSocketHandlers) resolveRoom(conn *Connection, msg *Message, name string) (scenemap.RoomID, bool) {
	room := scenemap.RoomID(name)
	if !h.registry.IsValid(room) {
		conn.sendError(msg.ID, "Unknown room: "+name, "UnknownRoom")
		return "", false
	}
	return room, true
}

func (h *WebSocketHandlers) handleChunkPreload(conn *Connection, msg *Message) {
	var payload roomPayload
	if !h.decodePayload(conn, msg, &payload) {
		return
	}
	room, ok := h.resolveRoom(conn, msg, payload.Room)
	if !ok {
		return
	}
	if err := conn.core.PreloadChunk(context.Background(), room); err != nil {
		conn.sendError(msg.ID, err.Error(), "InvalidTransition")
		return
	}
	conn.sendJSON("chunk_preloading", msg.ID, chunkStateReply{Room: payload.Room, State: chunk.StatePreloading.String()})
}

func (h *WebSocketHandlers) handleChunkCancel(conn *Connection, msg *Message) {
	var payload roomPayload
	if !h.decodePayload(conn, msg, &payload) {
		return
	}
	room, ok := h.resolveRoom(conn, msg, payload.Room)
	if !ok {
		return
	}
	state, err := conn.core.CancelPreload(room)
	if err != nil {
		conn.sendError(msg.ID, err.Error(), "InvalidTransition")
		return
	}
	conn.sendJSON("chunk_cancelled", msg.ID, chunkStateReply{Room: payload.Room, State: state.String()})
}

func (h *WebSocketHandlers) handleDownloadComplete(conn *Connection, msg *Message) {
	var payload downloadResultPayload
	if !h.decodePayload(conn, msg, &payload) {
		return
	}
	room, ok := h.resolveRoom(conn, msg, payload.Room)
	if !ok {
		return
	}
	if err := conn.core.ChunkDownloadComplete(room); err != nil {
		conn.sendError(msg.ID, err.Error(), "InvalidTransition")
		return
	}
	conn.sendJSON("chunk_loaded", msg.ID, chunkStateReply{Room: payload.Room, State: chunk.StateLoaded.String()})
}

func (h *WebSocketHandlers) handleDownloadFailed(conn *Connection, msg *Message) {
	var payload downloadResultPayload
	if !h.decodePayload(conn, msg, &payload) {
		return
	}
	room, ok := h.resolveRoom(conn, msg, payload.Room)
	if !ok {
		return
	}
	decision, err := conn.core.ChunkDownloadFailed(room, errors.New(payload.Error))
	if err != nil {
		conn.sendError(msg.ID, err.Error(), "InvalidTransition")
		return
	}
	conn.sendJSON("recovery", msg.ID, recoveryFromDecision(decision))
}

func (h *WebSocketHandlers) handleChunkEnter(conn *Connection, msg *Message) {
	var payload roomPayload
	if !h.decodePayload(conn, msg, &payload) {
		return
	}
	room, ok := h.resolveRoom(conn, msg, payload.Room)
	if !ok {
		return
	}
	if err := conn.core.EnterRoom(room); err != nil {
		conn.sendError(msg.ID, err.Error(), "InvalidTransition")
		return
	}
	conn.sendJSON("room_entered", msg.ID, chunkStateReply{Room: payload.Room, State: chunk.StateActive.String()})
}

func (h *WebSocketHandlers) handleChunkDispose(conn *Connection, msg *Message) {
	var payload roomPayload
	if !h.decodePayload(conn, msg, &payload) {
		return
	}
	room, ok := h.resolveRoom(conn, msg, payload.Room)
	if !ok {
		return
	}
	if err := conn.core.DisposeChunk(room); err != nil {
		conn.sendError(msg.ID, err.Error(), "InvalidTransition")
		return
	}
	conn.sendJSON("chunk_disposed", msg.ID, chunkStateReply{Room: payload.Room, State: chunk.StateDisposed.String()})
}

func (h *WebSocketHandlers) handleRoomExit(conn *Connection, msg *Message) {
	var payload roomPayload
	if !h.decodePayload(conn, msg, &payload) {
		return
	}
	room, ok := h.resolveRoom(conn, msg, payload.Room)
	if !ok {
		return
	}
	conn.core.ExitRoom(room)
	conn.sendJSON("room_exited", msg.ID, nil)
}

func (h *WebSocketHandlers) handleFrameSample(conn *Connection, msg *Message) {
	var payload frameSamplePayload
	if !h.decodePayload(conn, msg, &payload) {
		return
	}
	tier, changed := conn.core.RecordFrame(payload.FrameTimeMs)
	if changed {
		// Unsolicited notification so the renderer reconfigures promptly;
		// steady-state samples get no reply.
		conn.sendJSON("tier_changed", msg.ID, tierReply{Tier: tier.String(), Changed: true})
	}
}

func (h *WebSocketHandlers) handleQualitySelect(conn *Connection, msg *Message) {
	var payload qualitySelectPayload
	if !h.decodePayload(conn, msg, &payload) {
		return
	}
	sel, ok := quality.ParseSelection(payload.Selection)
	if !ok {
		conn.sendError(msg.ID, "Unknown quality selection", "InvalidSelection")
		return
	}
	conn.core.SetQualitySelection(sel)
	conn.sendJSON("quality_applied", msg.ID, tierReply{Tier: conn.core.EffectiveTier().String()})
}

func (h *WebSocketHandlers) handlePoseUpdate(conn *Connection, msg *Message) {
	var payload poseUpdatePayload
	if !h.decodePayload(conn, msg, &payload) {
		return
	}
	conn.core.UpdatePose(payload.Position, payload.Rotation)
}

func (h *WebSocketHandlers) handleVisibility(conn *Connection, msg *Message) {
	var payload visibilityPayload
	if !h.decodePayload(conn, msg, &payload) {
		return
	}
	revalidate := conn.core.VisibilityChanged(*payload.Visible)
	if revalidate {
		conn.sendJSON("revalidate_context", msg.ID, nil)
	}
}

func (h *WebSocketHandlers) handleFaultReport(conn *Connection, msg *Message) {
	var payload faultReportPayload
	if !h.decodePayload(conn, msg, &payload) {
		return
	}

	f := fault.Fault{Kind: faultKindFromWire(payload.Kind)}
	if payload.Room != "" {
		room, ok := h.resolveRoom(conn, msg, payload.Room)
		if !ok {
			return
		}
		f.Chunk = room
	}
	if payload.Message != "" {
		f.Err = errors.New(payload.Message)
	}

	decision := conn.core.HandleFault(f)
	conn.sendJSON("recovery", msg.ID, recoveryFromDecision(decision))
}

func faultKindFromWire(kind string) fault.Kind {
	switch kind {
	case "context_lost":
		return fault.KindContextLost
	case "chunk_load_failure":
		return fault.KindChunkLoadFailure
	case "memory_exhaustion":
		return fault.KindMemoryExhaustion
	case "shader_compile_failure":
		return fault.KindShaderCompileFailure
	default:
		return fault.KindUnknown
	}
}

func recoveryFromDecision(d session.Decision) recoveryReply {
	return recoveryReply{
		Action:         d.Action.String(),
		Success:        d.Success,
		Message:        d.Message,
		FallbackRoom:   string(d.FallbackRoom),
		ReloadRequired: d.ReloadRequired,
	}
}
