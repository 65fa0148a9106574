package shield

import (
	"context"
	"database/sql"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

const defaultMaintenanceMessage = "The service is under maintenance. Please try again shortly."

// MaintenanceMode answers 503 while the maintenance flag in the database is
// set. The flag lives in the single row of the maintenance table (see
// Schema) and is cached in memory; a missing table means maintenance is off.
type MaintenanceMode struct {
	db      *sql.DB
	logger  *slog.Logger
	active  atomic.Bool
	message atomic.Value // string
	exclude []string
}

// NewMaintenanceMode creates the checker and loads the flag once. Paths
// with one of excludePrefixes are never blocked.
func NewMaintenanceMode(db *sql.DB, logger *slog.Logger, excludePrefixes ...string) *MaintenanceMode {
	if logger == nil {
		logger = slog.Default()
	}
	m := &MaintenanceMode{db: db, logger: logger, exclude: excludePrefixes}
	m.message.Store(defaultMaintenanceMessage)
	m.Reload(context.Background())
	return m
}

// Active reports whether maintenance mode is on.
func (m *MaintenanceMode) Active() bool { return m.active.Load() }

// Message returns the current maintenance message.
func (m *MaintenanceMode) Message() string {
	s, _ := m.message.Load().(string)
	return s
}

// Set turns maintenance on or off and stores msg when it is not empty.
func (m *MaintenanceMode) Set(ctx context.Context, on bool, msg string) error {
	active := 0
	if on {
		active = 1
	}
	q := `UPDATE maintenance SET active = ? WHERE id = 1`
	args := []any{active}
	if msg != "" {
		q = `UPDATE maintenance SET active = ?, message = ? WHERE id = 1`
		args = append(args, msg)
	}
	if _, err := m.db.ExecContext(ctx, q, args...); err != nil {
		return err
	}
	m.Reload(ctx)
	return nil
}

// StartReloader re-reads the flag every interval until done is closed.
func (m *MaintenanceMode) StartReloader(done <-chan struct{}, interval time.Duration) {
	tick := time.NewTicker(interval)
	go func() {
		defer tick.Stop()
		for {
			select {
			case <-done:
				return
			case <-tick.C:
				m.Reload(context.Background())
			}
		}
	}()
}

// Reload reads the flag from the database.
func (m *MaintenanceMode) Reload(ctx context.Context) {
	var active int
	var message string
	err := m.db.QueryRowContext(ctx, `SELECT active, message FROM maintenance WHERE id = 1`).Scan(&active, &message)
	if err != nil {
		if m.active.Load() {
			m.logger.Info("maintenance: flag cleared (table missing or empty)")
		}
		m.active.Store(false)
		return
	}

	was := m.active.Swap(active == 1)
	if message != "" {
		m.message.Store(message)
	}
	switch {
	case active == 1 && !was:
		m.logger.Warn("maintenance: mode enabled", "message", message)
	case active != 1 && was:
		m.logger.Info("maintenance: mode disabled")
	}
}

// Middleware blocks every non-excluded request with a 503 JSON error and
// Retry-After while maintenance is on.
func (m *MaintenanceMode) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.active.Load() {
			next.ServeHTTP(w, r)
			return
		}
		for _, prefix := range m.exclude {
			if strings.HasPrefix(r.URL.Path, prefix) {
				next.ServeHTTP(w, r)
				return
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Retry-After", "300")
		w.WriteHeader(http.StatusServiceUnavailable)
		json.NewEncoder(w).Encode(map[string]string{"error": m.Message()})
	})
}
