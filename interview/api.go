package interview

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/mockinterview/idgen"
	"github.com/hazyhaar/mockinterview/kit"
	"github.com/hazyhaar/mockinterview/shield"
)

// MsgModelUnavailable is shown when the chat model cannot answer.
const MsgModelUnavailable = "The interviewer is unavailable right now. Please try again in a moment."

type startRequest struct {
	JobTitle       string `json:"job_title"`
	Company        string `json:"company"`
	JobDescription string `json:"job_description"`
	ResumeText     string `json:"resume_text"`
}

type startResponse struct {
	ID       string `json:"id"`
	Question string `json:"question"`
}

type answerRequest struct {
	Answer string `json:"answer"`
}

type sessionResponse struct {
	Session    *Session `json:"session"`
	Transcript []Turn   `json:"transcript"`
}

// RegisterHTTP mounts the interview routes:
//
//	POST /api/sessions                {job_title, company, job_description, resume_text} -> {id, question}
//	GET  /api/sessions/{id}           -> {session, transcript}
//	POST /api/sessions/{id}/answers   {answer} -> Reply
func (s *Service) RegisterHTTP(r chi.Router) {
	r.Post("/api/sessions", s.handleStart)
	r.Get("/api/sessions/{id}", s.handleGet)
	r.Post("/api/sessions/{id}/answers", s.handleAnswer)
}

func (s *Service) handleStart(w http.ResponseWriter, r *http.Request) {
	var req startRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	id, question, err := s.Start(r.Context(), Session{
		JobTitle:       req.JobTitle,
		Company:        req.Company,
		JobDescription: req.JobDescription,
		ResumeText:     req.ResumeText,
	})
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, startResponse{ID: id, Question: question})
}

func (s *Service) handleGet(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	sess, err := s.store.Get(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	turns, err := s.store.Transcript(r.Context(), id)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	if turns == nil {
		turns = []Turn{}
	}
	writeJSON(w, http.StatusOK, sessionResponse{Session: sess, Transcript: turns})
}

func (s *Service) handleAnswer(w http.ResponseWriter, r *http.Request) {
	id, ok := sessionID(w, r)
	if !ok {
		return
	}
	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	reply, err := s.Answer(kit.WithSessionID(r.Context(), id), id, req.Answer)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

func sessionID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id, err := idgen.Parse(SessionPrefix, chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "session not found")
		return "", false
	}
	return id, true
}

func (s *Service) fail(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, ErrFinished):
		writeError(w, http.StatusConflict, "this interview is already finished")
	case errors.Is(err, ErrNoAPIKey):
		writeError(w, http.StatusServiceUnavailable, MsgModelUnavailable)
	default:
		shield.GetLogger(r.Context()).ErrorContext(r.Context(), "interview request failed", "error", err)
		writeError(w, http.StatusBadGateway, MsgModelUnavailable)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
