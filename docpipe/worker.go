package docpipe

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/mockinterview/horosafe"
)

// WorkerPage is one page of a WorkerResponse. Page numbers start at 1.
// Error is set instead of Text when the page could not be decoded.
type WorkerPage struct {
	Page  int    `json:"page"`
	Text  string `json:"text,omitempty"`
	Error string `json:"error,omitempty"`
}

// WorkerResponse is the body returned by POST /extract.
type WorkerResponse struct {
	PageCount int          `json:"page_count"`
	Pages     []WorkerPage `json:"pages"`
	NeedsOCR  bool         `json:"needs_ocr"`
}

// ExtractPages decodes every page of a PDF with pdfcpu. Page failures are
// recorded on the page and do not fail the call; only an unreadable
// document does.
func ExtractPages(ctx context.Context, data []byte) (WorkerResponse, error) {
	src, err := openPDFCPU(data)
	if err != nil {
		return WorkerResponse{}, err
	}
	defer src.Close()

	resp := WorkerResponse{PageCount: src.PageCount()}
	var all strings.Builder
	for pageNr := 1; pageNr <= resp.PageCount; pageNr++ {
		if err := ctx.Err(); err != nil {
			return WorkerResponse{}, err
		}
		text, err := safePageText(ctx, src, pageNr)
		pg := WorkerPage{Page: pageNr}
		switch {
		case err == nil:
			pg.Text = strings.TrimSpace(text)
			all.WriteString(pg.Text)
		case !errors.Is(err, ErrEmptyPage):
			pg.Error = err.Error()
		}
		resp.Pages = append(resp.Pages, pg)
	}

	q := measureQuality(all.String(), resp.PageCount, src.HasImages())
	resp.NeedsOCR = q.NeedsOCR()
	return resp, nil
}

// Worker serves ExtractPages over HTTP for RemoteStrategy.
type Worker struct {
	MaxBody int64
	Logger  *slog.Logger
}

// NewWorker creates a Worker. A non-positive maxBody uses DefaultMaxFileSize.
func NewWorker(maxBody int64, logger *slog.Logger) *Worker {
	if maxBody <= 0 {
		maxBody = DefaultMaxFileSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Worker{MaxBody: maxBody, Logger: logger}
}

// Routes mounts the worker endpoints:
//
//	POST /extract   raw PDF body -> WorkerResponse
//	HEAD /extract   availability check
//	GET  /extract   availability check
//	GET  /healthz
func (wk *Worker) Routes(r chi.Router) {
	r.Post("/extract", wk.handleExtract)
	r.Head("/extract", wk.handleAvailability)
	r.Get("/extract", wk.handleAvailability)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
}

func (wk *Worker) handleAvailability(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Allow", "POST, HEAD, GET")
	w.WriteHeader(http.StatusNoContent)
}

func (wk *Worker) handleExtract(w http.ResponseWriter, r *http.Request) {
	data, err := horosafe.LimitedReadAll(r.Body, wk.MaxBody)
	if errors.Is(err, horosafe.ErrTooLarge) {
		writeError(w, http.StatusRequestEntityTooLarge, "document too large")
		return
	}
	if err != nil {
		writeError(w, http.StatusBadRequest, "failed to read body")
		return
	}
	if len(data) == 0 {
		writeError(w, http.StatusBadRequest, "empty body")
		return
	}

	resp, err := ExtractPages(r.Context(), data)
	if err != nil {
		wk.Logger.WarnContext(r.Context(), "worker extract failed", "size", len(data), "error", err)
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}

	wk.Logger.DebugContext(r.Context(), "worker extract done",
		"size", len(data), "pages", resp.PageCount, "needs_ocr", resp.NeedsOCR)
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
