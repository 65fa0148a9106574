package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/mockinterview/dbopen"
	"github.com/hazyhaar/mockinterview/docpipe"
	"github.com/hazyhaar/mockinterview/interview"
	"github.com/hazyhaar/mockinterview/observability"
	"github.com/hazyhaar/mockinterview/shield"
)

const version = "0.1.0"

// app owns every long-lived component of the service.
type app struct {
	cfg    *Config
	logger *slog.Logger

	db      *sql.DB
	ingest  *observability.IngestLog
	metrics *observability.MetricsManager
	maint   *shield.MaintenanceMode
	limiter *shield.RateLimiter
	pipe    *docpipe.Pipeline
	remote  *docpipe.RemoteStrategy
	model   *interview.OpenAIClient
	svc     *interview.Service

	router chi.Router
}

func newApp(cfg *Config, logger *slog.Logger) (*app, error) {
	db, err := dbopen.Open(cfg.DBPath,
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(interview.Schema),
		dbopen.WithSchema(observability.Schema),
		dbopen.WithSchema(shield.Schema),
	)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	a := &app{cfg: cfg, logger: logger, db: db}

	a.metrics = observability.NewMetricsManager(db, 100, 5*time.Second, logger)
	a.ingest = observability.NewIngestLog(db, 256, observability.WithIngestLogger(logger))
	events := observability.NewEventLogger(db, logger)

	pcfg := cfg.Upload.Config
	pcfg.Logger = logger
	pcfg.OnResult = a.ingest.ParseHook(a.metrics)

	strategies, err := a.buildStrategies()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.pipe = docpipe.New(pcfg, strategies...)

	mcfg := cfg.LLM
	mcfg.Logger = logger
	a.model, err = interview.NewOpenAIClient(mcfg)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("llm client: %w", err)
	}
	a.svc = interview.NewService(interview.NewStore(db), a.model, interview.ServiceConfig{
		MaxQuestions: cfg.Interview.MaxQuestions,
		Events:       events,
		Metrics:      a.metrics,
		Logger:       logger,
	})

	a.maint = shield.NewMaintenanceMode(db, logger, "/healthz")
	a.limiter = shield.NewRateLimiter(shield.RateLimitConfig{
		PerMinute: cfg.Upload.RatePerMinute,
		Burst:     cfg.Upload.Burst,
	}, logger)

	a.router = a.routes()
	return a, nil
}

func (a *app) buildStrategies() ([]docpipe.Strategy, error) {
	sc := a.cfg.Strategies
	var out []docpipe.Strategy
	if sc.Local.Enabled {
		lc := sc.Local.LocalConfig
		lc.Logger = a.logger
		out = append(out, docpipe.NewLocalStrategy(lc))
	}
	if sc.Remote.Enabled {
		rc := sc.Remote.RemoteConfig
		rc.Logger = a.logger
		remote, err := docpipe.NewRemoteStrategy(rc)
		if err != nil {
			return nil, fmt.Errorf("remote strategy: %w", err)
		}
		a.remote = remote
		out = append(out, remote)
	}
	if sc.PlainText.Enabled {
		pc := sc.PlainText.PlainTextConfig
		pc.Logger = a.logger
		out = append(out, docpipe.NewPlainTextStrategy(pc))
	}
	return out, nil
}

func (a *app) routes() chi.Router {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(a.logger, a.maint) {
		r.Use(mw)
	}

	r.Get("/healthz", a.handleHealth)

	r.Group(func(r chi.Router) {
		r.Use(shield.MaxJSONBody(shield.DefaultJSONBody))
		r.Use(a.limiter.Middleware)
		a.pipe.RegisterHTTP(r)
		a.svc.RegisterHTTP(r)
		r.Get("/api/stats/ingest", a.handleIngestStats)
	})

	if a.cfg.MCP {
		srv := mcp.NewServer(&mcp.Implementation{Name: "mockinterview", Version: version}, nil)
		a.pipe.RegisterMCP(srv)
		handler := mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return srv }, nil)

		// Base64 inflates a document by 4/3; leave room for the envelope.
		limit := a.pipe.MaxFileSize()*4/3 + shield.DefaultJSONBody
		r.With(shield.MaxJSONBody(limit)).Handle("/mcp", handler)
	}
	return r
}

func (a *app) handleHealth(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	body := map[string]any{
		"status":     "ok",
		"strategies": a.pipe.HasAvailableStrategies(r.Context()),
		"version":    version,
	}
	if err := a.db.PingContext(r.Context()); err != nil {
		status = http.StatusServiceUnavailable
		body["status"] = "db unavailable"
	}
	writeJSON(w, status, body)
}

// handleIngestStats reports per-strategy outcomes. ?hours= bounds the
// window (default 24).
func (a *app) handleIngestStats(w http.ResponseWriter, r *http.Request) {
	hours := 24
	if v := strings.TrimSpace(r.URL.Query().Get("hours")); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "hours must be a positive integer"})
			return
		}
		hours = n
	}
	stats, err := a.ingest.Stats(r.Context(), time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		shield.GetLogger(r.Context()).ErrorContext(r.Context(), "ingest stats", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "internal error"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"hours": hours, "strategies": stats})
}

// start launches the background loops. They stop when ctx is done.
func (a *app) start(ctx context.Context) {
	a.maint.StartReloader(ctx.Done(), 30*time.Second)
	a.limiter.StartGC(ctx.Done(), 10*time.Minute)
	observability.StartRetention(ctx, a.db, a.cfg.Retention, 6*time.Hour, a.logger)
}

// Close flushes the async writers and releases every resource. Safe on a
// partially built app.
func (a *app) Close() {
	if a.ingest != nil {
		a.ingest.Close()
	}
	if a.metrics != nil {
		a.metrics.Close()
	}
	if a.remote != nil {
		a.remote.Close()
	}
	if a.model != nil {
		a.model.Close()
	}
	if a.db != nil {
		a.db.Close()
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
