// Command docworker serves PDF page extraction for the remote strategy of
// mockinterview.
package main

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/net/netutil"

	"github.com/hazyhaar/mockinterview/docpipe"
	"github.com/hazyhaar/mockinterview/shield"
)

func main() {
	port := env("PORT", "8090")
	maxMB := envInt("MAX_FILE_MB", 10)
	maxConns := envInt("MAX_CONNS", 16)

	logger := newLogger(env("LOG_LEVEL", "info"))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	r := newRouter(int64(maxMB)<<20, logger)

	ln, err := net.Listen("tcp", ":"+port)
	if err != nil {
		logger.Error("listen", "port", port, "error", err)
		os.Exit(1)
	}
	// PDF decoding is CPU and memory heavy; cap concurrent connections.
	ln = netutil.LimitListener(ln, maxConns)

	srv := &http.Server{
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      120 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		logger.Info("docworker starting", "port", port, "max_file_mb", maxMB, "max_conns", maxConns)
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown", "error", err)
	}
}

func newRouter(maxBody int64, logger *slog.Logger) chi.Router {
	r := chi.NewRouter()
	for _, mw := range shield.DefaultStack(logger, nil) {
		r.Use(mw)
	}
	docpipe.NewWorker(maxBody, logger).Routes(r)
	return r
}

func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return fallback
	}
	return n
}
