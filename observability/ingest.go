package observability

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/crypto/blake2b"

	"github.com/hazyhaar/mockinterview/docpipe"
	"github.com/hazyhaar/mockinterview/idgen"
	"github.com/hazyhaar/mockinterview/kit"
)

// IngestEvent records one résumé parse.
type IngestEvent struct {
	EventID     string
	Timestamp   time.Time
	Filename    string
	SizeBytes   int64
	Fingerprint string // hex BLAKE2b-256 of the file content
	Strategy    string // winning strategy, "validation" or "none"
	Success     bool
	Error       string // user-facing message
	DurationMs  int64
	TextChars   int
	Transport   string // "http", "mcp"
	RequestID   string
	TraceID     string
	RemoteAddr  string
}

// IngestFilter selects events for Query. Zero fields do not filter.
type IngestFilter struct {
	Since       time.Time
	Strategy    string
	Fingerprint string
	Success     *bool
	Limit       int // default 100
}

// StrategyStats aggregates events per strategy.
type StrategyStats struct {
	Strategy      string  `json:"strategy"`
	Attempts      int     `json:"attempts"`
	Successes     int     `json:"successes"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

// Fingerprint is the hex BLAKE2b-256 digest of data. Identical uploads map
// to the same fingerprint without the log ever holding their content.
func Fingerprint(data []byte) string {
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// IngestLog persists ingest events in batches from a background goroutine.
type IngestLog struct {
	db       *sql.DB
	logger   *slog.Logger
	newID    idgen.Generator
	interval time.Duration
	ch       chan *IngestEvent
	stop     chan struct{}
	done     chan struct{}
	once     sync.Once
}

// IngestOption configures an IngestLog.
type IngestOption func(*IngestLog)

// WithIngestIDGenerator sets the generator for event IDs.
func WithIngestIDGenerator(gen idgen.Generator) IngestOption {
	return func(l *IngestLog) { l.newID = gen }
}

// WithIngestLogger sets the logger for persistence failures.
func WithIngestLogger(logger *slog.Logger) IngestOption {
	return func(l *IngestLog) { l.logger = logger }
}

// WithFlushInterval sets how often buffered events are written. Default: 5s.
func WithFlushInterval(d time.Duration) IngestOption {
	return func(l *IngestLog) { l.interval = d }
}

// NewIngestLog starts the flush goroutine. Recommended bufferSize: 1000.
func NewIngestLog(db *sql.DB, bufferSize int, opts ...IngestOption) *IngestLog {
	l := &IngestLog{
		db:       db,
		logger:   slog.Default(),
		newID:    idgen.Prefixed("evt_", idgen.Default),
		interval: 5 * time.Second,
		ch:       make(chan *IngestEvent, bufferSize),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	for _, o := range opts {
		o(l)
	}
	go l.flushLoop()
	return l
}

// Log writes e synchronously.
func (l *IngestLog) Log(ctx context.Context, e *IngestEvent) error {
	l.fillDefaults(e)
	return l.insert(ctx, e)
}

// Record queues e. When the buffer is full it is written synchronously so
// no event is lost.
func (l *IngestLog) Record(e *IngestEvent) {
	l.fillDefaults(e)
	select {
	case l.ch <- e:
	default:
		l.logger.Warn("observability ingest buffer full, sync fallback", "strategy", e.Strategy)
		if err := l.insert(context.Background(), e); err != nil {
			l.logger.Error("observability ingest: sync fallback failed", "error", err)
		}
	}
}

// ParseHook returns a function suitable for docpipe.Config.OnResult. It
// records one event per parse and, when mm is not nil, the parse duration.
func (l *IngestLog) ParseHook(mm *MetricsManager) func(context.Context, docpipe.Document, docpipe.ParseResult) {
	return func(ctx context.Context, doc docpipe.Document, res docpipe.ParseResult) {
		e := &IngestEvent{
			Filename:    doc.Filename,
			SizeBytes:   int64(len(doc.Content)),
			Fingerprint: Fingerprint(doc.Content),
			Strategy:    res.Strategy,
			Success:     res.Success,
			Error:       res.Error,
			DurationMs:  res.ProcessingTime.Milliseconds(),
			TextChars:   len([]rune(res.Text)),
			Transport:   kit.GetTransport(ctx),
			RequestID:   kit.GetRequestID(ctx),
			TraceID:     kit.GetTraceID(ctx),
			RemoteAddr:  kit.GetRemoteAddr(ctx),
		}
		l.Record(e)
		if mm != nil {
			mm.Record(&Metric{
				Name:  MetricParseDurationMs,
				Value: float64(e.DurationMs),
				Unit:  "milliseconds",
				Labels: map[string]string{
					"strategy": res.Strategy,
					"success":  fmt.Sprint(res.Success),
				},
			})
		}
	}
}

// Query returns events matching f, newest first.
func (l *IngestLog) Query(ctx context.Context, f IngestFilter) ([]IngestEvent, error) {
	q := `SELECT event_id, timestamp, filename, size_bytes, fingerprint, strategy,
		success, error_message, duration_ms, text_chars, transport, request_id,
		trace_id, remote_addr
		FROM ingest_events WHERE 1=1`
	var args []any
	if !f.Since.IsZero() {
		q += " AND timestamp >= ?"
		args = append(args, f.Since.Unix())
	}
	if f.Strategy != "" {
		q += " AND strategy = ?"
		args = append(args, f.Strategy)
	}
	if f.Fingerprint != "" {
		q += " AND fingerprint = ?"
		args = append(args, f.Fingerprint)
	}
	if f.Success != nil {
		q += " AND success = ?"
		args = append(args, *f.Success)
	}
	limit := 100
	if f.Limit > 0 {
		limit = f.Limit
	}
	q += " ORDER BY timestamp DESC, event_id DESC LIMIT ?"
	args = append(args, limit)

	rows, err := l.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query ingest events: %w", err)
	}
	defer rows.Close()

	var out []IngestEvent
	for rows.Next() {
		var e IngestEvent
		var ts int64
		if err := rows.Scan(&e.EventID, &ts, &e.Filename, &e.SizeBytes, &e.Fingerprint, &e.Strategy,
			&e.Success, &e.Error, &e.DurationMs, &e.TextChars, &e.Transport, &e.RequestID,
			&e.TraceID, &e.RemoteAddr); err != nil {
			return nil, fmt.Errorf("scan ingest event: %w", err)
		}
		e.Timestamp = time.Unix(ts, 0)
		out = append(out, e)
	}
	return out, rows.Err()
}

// Stats aggregates events since the given time per strategy, most used
// first.
func (l *IngestLog) Stats(ctx context.Context, since time.Time) ([]StrategyStats, error) {
	rows, err := l.db.QueryContext(ctx, `
		SELECT strategy, COUNT(*), SUM(success), AVG(duration_ms)
		FROM ingest_events WHERE timestamp >= ?
		GROUP BY strategy ORDER BY COUNT(*) DESC, strategy`, since.Unix())
	if err != nil {
		return nil, fmt.Errorf("ingest stats: %w", err)
	}
	defer rows.Close()

	var out []StrategyStats
	for rows.Next() {
		var s StrategyStats
		if err := rows.Scan(&s.Strategy, &s.Attempts, &s.Successes, &s.AvgDurationMs); err != nil {
			return nil, fmt.Errorf("scan ingest stats: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Close drains the buffer and stops the flush goroutine. Later calls are
// no-ops.
func (l *IngestLog) Close() error {
	l.once.Do(func() { close(l.stop) })
	<-l.done
	return nil
}

func (l *IngestLog) fillDefaults(e *IngestEvent) {
	if e.EventID == "" {
		e.EventID = l.newID()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}
}

const insertIngest = `INSERT INTO ingest_events
	(event_id, timestamp, filename, size_bytes, fingerprint, strategy,
	 success, error_message, duration_ms, text_chars, transport, request_id,
	 trace_id, remote_addr)
	VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`

func ingestArgs(e *IngestEvent) []any {
	return []any{
		e.EventID, e.Timestamp.Unix(), e.Filename, e.SizeBytes, e.Fingerprint, e.Strategy,
		e.Success, e.Error, e.DurationMs, e.TextChars, e.Transport, e.RequestID,
		e.TraceID, e.RemoteAddr,
	}
}

func (l *IngestLog) insert(ctx context.Context, e *IngestEvent) error {
	_, err := l.db.ExecContext(ctx, insertIngest, ingestArgs(e)...)
	return err
}

func (l *IngestLog) flushLoop() {
	defer close(l.done)
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()
	batch := make([]*IngestEvent, 0, 100)

	flush := func() {
		if len(batch) == 0 {
			return
		}
		defer func() { batch = batch[:0] }()
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		tx, err := l.db.BeginTx(ctx, nil)
		if err != nil {
			l.logger.Error("observability ingest: begin tx", "error", err)
			return
		}
		stmt, err := tx.PrepareContext(ctx, insertIngest)
		if err != nil {
			tx.Rollback()
			l.logger.Error("observability ingest: prepare", "error", err)
			return
		}
		defer stmt.Close()

		for _, e := range batch {
			if _, err := stmt.ExecContext(ctx, ingestArgs(e)...); err != nil {
				l.logger.Error("observability ingest: insert", "error", err, "event_id", e.EventID)
			}
		}
		if err := tx.Commit(); err != nil {
			l.logger.Error("observability ingest: commit", "error", err)
		}
	}

	for {
		select {
		case <-l.stop:
			for {
				select {
				case e := <-l.ch:
					batch = append(batch, e)
				default:
					flush()
					return
				}
			}
		case e := <-l.ch:
			batch = append(batch, e)
			if len(batch) >= 100 {
				flush()
			}
		case <-ticker.C:
			flush()
		}
	}
}
