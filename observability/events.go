package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hazyhaar/mockinterview/idgen"
)

// BusinessEvent is a domain event, such as an interview starting or ending.
type BusinessEvent struct {
	EventType   string // e.g. "interview"
	ServiceName string
	EntityType  string // e.g. "session"
	EntityID    string
	Action      string // e.g. "started", "finished"
	Details     any    // marshalled to JSON when not nil
	Success     bool
	CreatedAt   time.Time
}

// EventLogger writes business events.
type EventLogger struct {
	db     *sql.DB
	logger *slog.Logger
	newID  idgen.Generator
}

// NewEventLogger creates a logger on a database holding Schema.
func NewEventLogger(db *sql.DB, logger *slog.Logger) *EventLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &EventLogger{
		db:     db,
		logger: logger,
		newID:  idgen.Prefixed("evt_", idgen.Default),
	}
}

// LogEvent records event. Failures are logged and swallowed so the event
// store never blocks the caller's operation.
func (l *EventLogger) LogEvent(ctx context.Context, event BusinessEvent) {
	var details sql.NullString
	if event.Details != nil {
		if b, err := json.Marshal(event.Details); err == nil {
			details = sql.NullString{String: string(b), Valid: true}
		}
	}
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO business_event_logs (
			event_id, event_type, service_name, entity_type, entity_id,
			action, details, success, created_at
		) VALUES (?,?,?,?,?,?,?,?,?)`,
		l.newID(), event.EventType, event.ServiceName, event.EntityType, event.EntityID,
		event.Action, details, event.Success, time.Now().Unix())
	if err != nil {
		l.logger.Error("observability event log failed", "error", err, "event_type", event.EventType)
	}
}

// EntityEvents returns the events recorded for an entity, oldest first.
// Details are returned as raw JSON.
func (l *EventLogger) EntityEvents(ctx context.Context, entityID string) ([]BusinessEvent, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT event_type, service_name, entity_type, entity_id, action, details, success, created_at
		FROM business_event_logs WHERE entity_id = ?
		ORDER BY created_at, event_id`, entityID)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var out []BusinessEvent
	for rows.Next() {
		var e BusinessEvent
		var entityType, id, details sql.NullString
		var ts int64
		if err := rows.Scan(&e.EventType, &e.ServiceName, &entityType, &id, &e.Action, &details, &e.Success, &ts); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		e.EntityType, e.EntityID = entityType.String, id.String
		if details.Valid {
			e.Details = json.RawMessage(details.String)
		}
		e.CreatedAt = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// RetentionConfig is the retention per table in days. Zero keeps rows
// forever.
type RetentionConfig struct {
	IngestDays  int `yaml:"ingest_days"`
	EventDays   int `yaml:"event_days"`
	MetricsDays int `yaml:"metrics_days"`
}

// Cleanup deletes rows older than the configured retention.
func Cleanup(ctx context.Context, db *sql.DB, cfg RetentionConfig) error {
	targets := []struct {
		query string
		days  int
	}{
		{"DELETE FROM ingest_events WHERE timestamp < ?", cfg.IngestDays},
		{"DELETE FROM business_event_logs WHERE created_at < ?", cfg.EventDays},
		{"DELETE FROM metrics_timeseries WHERE timestamp < ?", cfg.MetricsDays},
	}
	now := time.Now()
	for _, t := range targets {
		if t.days <= 0 {
			continue
		}
		cutoff := now.AddDate(0, 0, -t.days).Unix()
		if _, err := db.ExecContext(ctx, t.query, cutoff); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
	}
	return nil
}

// StartRetention runs Cleanup every interval until ctx is done.
func StartRetention(ctx context.Context, db *sql.DB, cfg RetentionConfig, interval time.Duration, logger *slog.Logger) {
	go func() {
		tick := time.NewTicker(interval)
		defer tick.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-tick.C:
				if err := Cleanup(ctx, db, cfg); err != nil {
					logger.Warn("observability retention failed", "error", err)
				}
			}
		}
	}()
}
