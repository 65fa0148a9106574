package interview

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/hazyhaar/mockinterview/observability"
)

// Interview limits.
const (
	DefaultMaxQuestions = 6
	MaxResumeChars      = 12000
)

// ErrInvalidInput is returned for a session without résumé text or job
// title, or an empty answer.
var ErrInvalidInput = errors.New("interview: invalid input")

const interviewerPrompt = `You are an experienced hiring manager running a mock job interview.
Ask exactly one question at a time. Ground questions in the candidate's résumé and the target role.
Mix behavioural and technical questions and follow up on vague answers.
Reply with the question only, without numbering or preamble.`

const evaluatorPrompt = `You are an experienced hiring manager reviewing a finished mock interview.
Write a concise evaluation for the candidate: overall impression, strengths, areas to improve
with concrete suggestions, and a score from 1 to 10. Address the candidate directly.`

// ServiceConfig configures Service.
type ServiceConfig struct {
	// MaxQuestions asked before the evaluation (default: 6).
	MaxQuestions int

	// Events and Metrics are optional.
	Events  *observability.EventLogger
	Metrics *observability.MetricsManager

	Logger *slog.Logger
}

// Reply is the outcome of an answer: the next question, or the evaluation
// when Done.
type Reply struct {
	Question   string `json:"question,omitempty"`
	Evaluation string `json:"evaluation,omitempty"`
	Done       bool   `json:"done"`
}

// Service drives interviews between the store and a chat model.
type Service struct {
	store *Store
	model ChatModel
	cfg   ServiceConfig
}

// NewService creates a Service.
func NewService(store *Store, model ChatModel, cfg ServiceConfig) *Service {
	if cfg.MaxQuestions <= 0 {
		cfg.MaxQuestions = DefaultMaxQuestions
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Service{store: store, model: model, cfg: cfg}
}

// Store returns the session store.
func (s *Service) Store() *Store { return s.store }

// Start creates a session and asks the first question. The session is
// stored before the model is called, so a model failure leaves an active
// session without turns.
func (s *Service) Start(ctx context.Context, in Session) (id, question string, err error) {
	in.JobTitle = strings.TrimSpace(in.JobTitle)
	in.ResumeText = strings.TrimSpace(in.ResumeText)
	if in.JobTitle == "" || in.ResumeText == "" {
		return "", "", fmt.Errorf("%w: job title and résumé text are required", ErrInvalidInput)
	}

	id, err = s.store.Create(ctx, in)
	if err != nil {
		return "", "", err
	}
	in.ID = id
	s.event(ctx, id, "started", map[string]any{"job_title": in.JobTitle, "company": in.Company}, true)

	question, err = s.ask(ctx, interviewerPrompt, s.questionPrompt(&in, nil, 1))
	if err != nil {
		return id, "", err
	}
	if _, err := s.store.AppendTurn(ctx, id, Turn{Role: RoleInterviewer, Content: question}); err != nil {
		return id, "", err
	}
	return id, question, nil
}

// Answer records the candidate's answer and returns the next question, or
// the evaluation once MaxQuestions have been answered. The answer is stored
// together with the model's reply, so a model failure leaves the transcript
// untouched and the caller may resend the same answer.
func (s *Service) Answer(ctx context.Context, id, answer string) (Reply, error) {
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return Reply{}, fmt.Errorf("%w: answer is empty", ErrInvalidInput)
	}
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	if sess.Status != StatusActive {
		return Reply{}, ErrFinished
	}
	turns, err := s.store.Transcript(ctx, id)
	if err != nil {
		return Reply{}, err
	}
	pending := Turn{Role: RoleCandidate, Content: answer}
	turns = append(turns, pending)

	asked := countRole(turns, RoleInterviewer)
	if asked >= s.cfg.MaxQuestions {
		evaluation, err := s.ask(ctx, evaluatorPrompt, s.evaluationPrompt(sess, turns))
		if err != nil {
			return Reply{}, err
		}
		if err := s.store.Finish(ctx, id, evaluation, pending); err != nil {
			return Reply{}, err
		}
		s.event(ctx, id, "finished", map[string]any{"questions": asked}, true)
		return Reply{Evaluation: evaluation, Done: true}, nil
	}

	question, err := s.ask(ctx, interviewerPrompt, s.questionPrompt(sess, turns, asked+1))
	if err != nil {
		return Reply{}, err
	}
	if _, err := s.store.AppendTurns(ctx, id, pending, Turn{Role: RoleInterviewer, Content: question}); err != nil {
		return Reply{}, err
	}
	return Reply{Question: question}, nil
}

func (s *Service) ask(ctx context.Context, system, user string) (string, error) {
	start := time.Now()
	reply, err := s.model.Ask(ctx, system, user)
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.Observe(observability.MetricModelDurationMs, time.Since(start),
			map[string]string{"success": fmt.Sprint(err == nil)})
	}
	if err != nil {
		s.cfg.Logger.WarnContext(ctx, "chat model failed", "duration_ms", time.Since(start).Milliseconds(), "error", err)
		return "", err
	}
	return reply, nil
}

func (s *Service) event(ctx context.Context, id, action string, details any, ok bool) {
	if s.cfg.Events == nil {
		return
	}
	s.cfg.Events.LogEvent(ctx, observability.BusinessEvent{
		EventType:   "interview",
		ServiceName: "mockinterview",
		EntityType:  "session",
		EntityID:    id,
		Action:      action,
		Details:     details,
		Success:     ok,
	})
}

func (s *Service) questionPrompt(sess *Session, turns []Turn, n int) string {
	var b strings.Builder
	writeContext(&b, sess)
	if len(turns) > 0 {
		b.WriteString("\nInterview so far:\n")
		writeTranscript(&b, turns)
	}
	fmt.Fprintf(&b, "\nAsk question %d of %d.", n, s.cfg.MaxQuestions)
	return b.String()
}

func (s *Service) evaluationPrompt(sess *Session, turns []Turn) string {
	var b strings.Builder
	writeContext(&b, sess)
	b.WriteString("\nFull interview transcript:\n")
	writeTranscript(&b, turns)
	return b.String()
}

func writeContext(b *strings.Builder, sess *Session) {
	fmt.Fprintf(b, "Target role: %s\n", sess.JobTitle)
	if sess.Company != "" {
		fmt.Fprintf(b, "Company: %s\n", sess.Company)
	}
	if sess.JobDescription != "" {
		fmt.Fprintf(b, "Job description:\n%s\n", sess.JobDescription)
	}
	fmt.Fprintf(b, "\nCandidate résumé:\n%s\n", truncateRunes(sess.ResumeText, MaxResumeChars))
}

func writeTranscript(b *strings.Builder, turns []Turn) {
	for _, t := range turns {
		label := "Candidate"
		if t.Role == RoleInterviewer {
			label = "Interviewer"
		}
		fmt.Fprintf(b, "%s: %s\n", label, t.Content)
	}
}

func countRole(turns []Turn, role string) int {
	n := 0
	for _, t := range turns {
		if t.Role == role {
			n++
		}
	}
	return n
}

// truncateRunes cuts s to at most n characters without splitting a rune.
func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
