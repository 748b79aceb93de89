package telemetry

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
)

// LogSink writes events to the process log. Used in development and as the
// fallback when no database is configured.
type LogSink struct{}

// NewLogSink returns a sink printing one line per event.
func NewLogSink() *LogSink {
	return &LogSink{}
}

// WriteEvents logs each event.
func (s *LogSink) WriteEvents(ctx context.Context, events []Event) error {
	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			payload = []byte("{}")
		}
		log.Printf("[Telemetry] %s/%s session=%s ts=%d payload=%s",
			ev.Category, ev.Type, ev.SessionID, ev.TimestampMs, payload)
	}
	return nil
}

// PostgresSink persists events for the analytics pipeline.
type PostgresSink struct {
	db *sql.DB
}

// NewPostgresSink returns a sink writing to the telemetry_events table.
func NewPostgresSink(db *sql.DB) *PostgresSink {
	return &PostgresSink{db: db}
}

// WriteEvents inserts the batch in one transaction. Delivery is
// best-effort: a failed batch is reported to the caller and dropped.
func (s *PostgresSink) WriteEvents(ctx context.Context, events []Event) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin telemetry transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			log.Printf("[Telemetry] rollback failed: %v", rbErr)
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO telemetry_events (session_id, event_type, category, schema_version, timestamp_ms, payload)
		VALUES ($1, $2, $3, $4, $5, $6)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare telemetry insert: %w", err)
	}
	defer stmt.Close()

	for _, ev := range events {
		payload, err := json.Marshal(ev.Payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload for %s: %w", ev.Type, err)
		}
		if _, err := stmt.ExecContext(ctx, ev.SessionID, ev.Type, ev.Category, ev.Schema, ev.TimestampMs, payload); err != nil {
			return fmt.Errorf("failed to insert telemetry event %s: %w", ev.Type, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit telemetry batch: %w", err)
	}
	return nil
}
