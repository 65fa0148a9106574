package docpipe

import (
	"encoding/json"
	"time"
)

// Document is one uploaded file. It is immutable for the duration of an
// ingestion attempt.
type Document struct {
	Content   []byte `json:"-"`
	MediaType string `json:"media_type"`
	Filename  string `json:"filename"`
}

// Size returns the byte length of the content.
func (d Document) Size() int64 { return int64(len(d.Content)) }

// ValidationResult is the outcome of the pre-flight checks. Errors block
// extraction; warnings are informational. IsValid is false iff Errors is
// non-empty.
type ValidationResult struct {
	IsValid  bool     `json:"is_valid"`
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
	FileSize int64    `json:"file_size"`
	FileType string   `json:"file_type"`
}

// Stage is the coarse state of an ingestion attempt.
type Stage string

const (
	StageValidation Stage = "validation"
	StageParsing    Stage = "parsing"
	StageExtraction Stage = "extraction"
	StageComplete   Stage = "complete"
	StageError      Stage = "error"
)

// ProgressEvent describes where an attempt currently is. Progress is a
// percentage; CurrentPage, TotalPages and EstimatedRemaining are zero when
// unknown.
type ProgressEvent struct {
	Stage              Stage         `json:"stage"`
	Progress           int           `json:"progress"`
	Message            string        `json:"message"`
	CurrentPage        int           `json:"current_page,omitempty"`
	TotalPages         int           `json:"total_pages,omitempty"`
	EstimatedRemaining time.Duration `json:"estimated_remaining_ms,omitempty"`
}

// MarshalJSON renders EstimatedRemaining in milliseconds.
func (e ProgressEvent) MarshalJSON() ([]byte, error) {
	type alias ProgressEvent
	return json.Marshal(struct {
		alias
		EstimatedRemaining int64 `json:"estimated_remaining_ms,omitempty"`
	}{alias: alias(e), EstimatedRemaining: e.EstimatedRemaining.Milliseconds()})
}

// ProgressFunc receives progress events synchronously. A nil ProgressFunc
// is valid and discards everything.
type ProgressFunc func(ProgressEvent)

func (f ProgressFunc) emit(ev ProgressEvent) {
	if f != nil {
		f(ev)
	}
}

// ParseResult is the uniform outcome of Pipeline.ParseFile. On success Text
// is non-blank and Strategy names the strategy that produced it. On failure
// Error is a single user-facing sentence and Strategy names the strategy
// whose failure is reported ("validation" or "none" when no strategy ran).
type ParseResult struct {
	Success        bool          `json:"success"`
	Text           string        `json:"text,omitempty"`
	Strategy       string        `json:"strategy"`
	Error          string        `json:"error,omitempty"`
	ProcessingTime time.Duration `json:"processing_time_ms"`
}

// MarshalJSON renders ProcessingTime in milliseconds.
func (r ParseResult) MarshalJSON() ([]byte, error) {
	type alias ParseResult
	return json.Marshal(struct {
		alias
		ProcessingTime int64 `json:"processing_time_ms"`
	}{alias: alias(r), ProcessingTime: r.ProcessingTime.Milliseconds()})
}

// UnmarshalJSON reads ProcessingTime from milliseconds.
func (r *ParseResult) UnmarshalJSON(data []byte) error {
	type alias ParseResult
	aux := struct {
		*alias
		ProcessingTime int64 `json:"processing_time_ms"`
	}{alias: (*alias)(r)}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	r.ProcessingTime = time.Duration(aux.ProcessingTime) * time.Millisecond
	return nil
}

// StrategyInfo describes a registered strategy and its current availability.
type StrategyInfo struct {
	Name      string `json:"name"`
	Priority  int    `json:"priority"`
	Available bool   `json:"available"`
}

// Names reported in ParseResult.Strategy when no extraction strategy ran.
const (
	StrategyValidation = "validation"
	StrategyNone       = "none"
)
