package api

import (
	"net/http"

	"github.com/treygoff24/scenestream/internal/auth"
	"github.com/treygoff24/scenestream/internal/config"
	"github.com/treygoff24/scenestream/internal/persistence"
	"github.com/treygoff24/scenestream/internal/scenemap"
	"github.com/treygoff24/scenestream/internal/session"
	"github.com/treygoff24/scenestream/internal/telemetry"
)

// RouterDeps carries the collaborators the HTTP surface is built from.
type RouterDeps struct {
	Config    *config.Config
	Tokens    *auth.TokenService
	Registry  *scenemap.Registry
	Snapshots persistence.Store
	Sink      telemetry.Sink
	Fetcher   session.ManifestFetcher
}

// SetupRoutes registers all HTTP and WebSocket routes and starts the
// connection hub. The returned handlers expose the hub for shutdown
// broadcasts.
func SetupRoutes(mux *http.ServeMux, deps RouterDeps) *WebSocketHandlers {
	wsHandlers := NewWebSocketHandlers(deps.Config, deps.Tokens, deps.Registry, deps.Snapshots, deps.Sink, deps.Fetcher)
	go wsHandlers.hub.Run()

	sessionHandlers := NewSessionHandlers(deps.Tokens, deps.Registry, wsHandlers.hub)
	telemetryHandlers := NewTelemetryHandlers(deps.Sink)
	operatorGate := auth.NewOperatorGate(deps.Config.Auth.OperatorKeyHash)

	sessionRateLimit := RateLimitMiddleware(deps.Config.RateLimit.SessionLimit, deps.Config.RateLimit.SessionWindow)
	readRateLimit := RateLimitMiddleware(deps.Config.RateLimit.IngestLimit, deps.Config.RateLimit.IngestWindow)
	// Ingest is keyed per session so one chatty viewer cannot starve the
	// others behind a shared NAT address.
	ingestRateLimit := SessionRateLimitMiddleware(deps.Config.RateLimit.IngestLimit, deps.Config.RateLimit.IngestWindow)

	mux.HandleFunc("/health", sessionHandlers.Health)
	mux.Handle("/api/v1/session", CORSMiddleware(sessionRateLimit(http.HandlerFunc(sessionHandlers.CreateSession))))
	mux.Handle("/api/v1/rooms", CORSMiddleware(readRateLimit(http.HandlerFunc(sessionHandlers.Rooms))))
	mux.Handle("/api/v1/telemetry", CORSMiddleware(deps.Tokens.SessionMiddleware(ingestRateLimit(http.HandlerFunc(telemetryHandlers.Ingest)))))
	mux.HandleFunc("/ws", wsHandlers.HandleWebSocket)
	mux.Handle("/debug/report", operatorGate.RequireOperator(http.HandlerFunc(sessionHandlers.DebugReport)))

	return wsHandlers
}
