package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/treygoff24/scenestream/internal/api"
	"github.com/treygoff24/scenestream/internal/assets"
	"github.com/treygoff24/scenestream/internal/auth"
	"github.com/treygoff24/scenestream/internal/config"
	"github.com/treygoff24/scenestream/internal/persistence"
	"github.com/treygoff24/scenestream/internal/scenemap"
	"github.com/treygoff24/scenestream/internal/telemetry"
)

// main starts the SceneStream session server: it loads configuration,
// connects the snapshot and telemetry stores, registers the HTTP and
// WebSocket routes, and runs until interrupted.
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	registry, err := scenemap.NewRegistry()
	if err != nil {
		log.Fatalf("Invalid room table: %v", err)
	}

	var (
		snapshots persistence.Store
		sink      telemetry.Sink
	)
	if cfg.Database.Enabled {
		db, err := sql.Open("postgres", cfg.Database.DatabaseURL())
		if err != nil {
			log.Fatalf("Failed to open database: %v", err)
		}
		db.SetMaxOpenConns(cfg.Database.MaxConnections)
		db.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
		if err := db.Ping(); err != nil {
			log.Fatalf("Failed to reach database: %v", err)
		}
		defer func() {
			if err := db.Close(); err != nil {
				log.Printf("Failed to close database: %v", err)
			}
		}()
		snapshots = persistence.NewPostgresStore(db)
		sink = telemetry.NewPostgresSink(db)
		log.Printf("[Server] database connected: %s:%d/%s", cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	} else {
		snapshots = persistence.NewMemoryStore()
		sink = telemetry.NewLogSink()
		log.Printf("[Server] database disabled; snapshots in memory, telemetry to log")
	}

	assetClient := assets.NewClient(cfg)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := assetClient.HealthCheck(ctx); err != nil {
		log.Printf("[Server] asset service not reachable yet: %v", err)
	}
	cancel()

	mux := http.NewServeMux()
	wsHandlers := api.SetupRoutes(mux, api.RouterDeps{
		Config:    cfg,
		Tokens:    auth.NewTokenService(cfg),
		Registry:  registry,
		Snapshots: snapshots,
		Sink:      sink,
		Fetcher:   assetClient,
	})

	server := &http.Server{
		Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
		Handler:      mux,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		log.Printf("[Server] scenestream server listening on %s (env=%s)", server.Addr, cfg.Server.Environment)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Printf("[Server] shutdown signal received")

	// Tell connected viewers to wrap up before the listener goes away.
	if notice, err := json.Marshal(api.Message{Type: "server_shutdown"}); err == nil {
		wsHandlers.Hub().Broadcast(notice)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[Server] graceful shutdown failed: %v", err)
	}
	log.Printf("[Server] stopped")
}
