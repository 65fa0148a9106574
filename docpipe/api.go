package docpipe

import (
	"encoding/json"
	"errors"
	"fmt"
	"mime"
	"net/http"
	"strings"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/mockinterview/horosafe"
)

// ContentTypeNDJSON selects the streaming variant of POST /api/resume/parse.
const ContentTypeNDJSON = "application/x-ndjson"

// multipartSlack is the allowance for multipart framing on top of the file.
const multipartSlack = 1 << 20

// RegisterHTTP mounts the résumé routes:
//
//	POST /api/resume/parse       multipart field "file" -> ParseResult
//	GET  /api/resume/strategies  -> []StrategyInfo
func (p *Pipeline) RegisterHTTP(r chi.Router) {
	r.Post("/api/resume/parse", p.handleParse)
	r.Get("/api/resume/strategies", p.handleStrategies)
}

func (p *Pipeline) handleStrategies(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, p.StrategyInfo(r.Context()))
}

func (p *Pipeline) handleParse(w http.ResponseWriter, r *http.Request) {
	maxSize := p.MaxFileSize()
	if r.ContentLength > maxSize+multipartSlack {
		writeTooLarge(w, maxSize)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxSize+multipartSlack)

	doc, err := readUpload(r, maxSize)
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) || errors.Is(err, horosafe.ErrTooLarge) {
			writeTooLarge(w, maxSize)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if wantsNDJSON(r) {
		p.streamParse(w, r, doc)
		return
	}

	res := p.ParseFile(r.Context(), doc, nil)
	status := http.StatusOK
	if !res.Success && res.Strategy == StrategyValidation {
		status = http.StatusUnprocessableEntity
	}
	writeJSON(w, status, res)
}

func writeTooLarge(w http.ResponseWriter, maxSize int64) {
	writeJSON(w, http.StatusRequestEntityTooLarge, ParseResult{
		Strategy: StrategyValidation,
		Error:    fmt.Sprintf("file exceeds the %s limit", formatMB(maxSize)),
	})
}

// readUpload pulls the "file" part out of a multipart request. The file is
// read up to maxSize+1 bytes so the validator sees an oversized file as such.
func readUpload(r *http.Request, maxSize int64) (Document, error) {
	f, fh, err := r.FormFile("file")
	if err != nil {
		var mbe *http.MaxBytesError
		if errors.As(err, &mbe) {
			return Document{}, err
		}
		return Document{}, fmt.Errorf("missing multipart field \"file\"")
	}
	defer f.Close()

	data, err := horosafe.LimitedReadAll(f, maxSize+1)
	if err != nil {
		return Document{}, err
	}

	mediaType := fh.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = mt
	}
	return Document{
		Content:   data,
		MediaType: mediaType,
		Filename:  horosafe.CleanFilename(fh.Filename),
	}, nil
}

func wantsNDJSON(r *http.Request) bool {
	for _, part := range strings.Split(r.Header.Get("Accept"), ",") {
		if mt, _, err := mime.ParseMediaType(strings.TrimSpace(part)); err == nil && mt == ContentTypeNDJSON {
			return true
		}
	}
	return false
}

// ndjsonStream writes one JSON value per line and flushes. Writes after
// finish are dropped.
type ndjsonStream struct {
	mu    sync.Mutex
	w     http.ResponseWriter
	enc   *json.Encoder
	flush func()
	done  bool
}

func newNDJSONStream(w http.ResponseWriter) *ndjsonStream {
	s := &ndjsonStream{w: w, enc: json.NewEncoder(w), flush: func() {}}
	if f, ok := w.(http.Flusher); ok {
		s.flush = f.Flush
	}
	return s
}

func (s *ndjsonStream) write(v any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.done {
		return
	}
	if err := s.enc.Encode(v); err != nil {
		s.done = true
		return
	}
	s.flush()
}

func (s *ndjsonStream) finish(v any) {
	s.write(v)
	s.mu.Lock()
	s.done = true
	s.mu.Unlock()
}

func (p *Pipeline) streamParse(w http.ResponseWriter, r *http.Request, doc Document) {
	w.Header().Set("Content-Type", ContentTypeNDJSON)
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	stream := newNDJSONStream(w)
	res := p.ParseFile(r.Context(), doc, func(ev ProgressEvent) {
		stream.write(ev)
	})
	stream.finish(struct {
		Result ParseResult `json:"result"`
	}{res})
}
