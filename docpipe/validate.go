package docpipe

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
)

// Validator runs the pre-flight checks on an upload. Every rule is
// evaluated so the user sees all problems at once.
type Validator struct {
	mu          sync.RWMutex
	maxFileSize int64
	acceptedExt string
	acceptedMT  string
}

// NewValidator creates a Validator from cfg, filling defaults.
func NewValidator(cfg Config) *Validator {
	cfg.defaults()
	return &Validator{
		maxFileSize: cfg.MaxFileSize,
		acceptedExt: strings.ToLower(cfg.AcceptedExtension),
		acceptedMT:  cfg.AcceptedType,
	}
}

// MaxFileSize returns the current size ceiling in bytes.
func (v *Validator) MaxFileSize() int64 {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.maxFileSize
}

// SetMaxFileSize changes the size ceiling. Non-positive values are ignored.
func (v *Validator) SetMaxFileSize(n int64) {
	if n <= 0 {
		return
	}
	v.mu.Lock()
	v.maxFileSize = n
	v.mu.Unlock()
}

// Validate checks doc against the accepted type, extension and size rules.
func (v *Validator) Validate(doc Document) ValidationResult {
	v.mu.RLock()
	maxSize, ext, mt := v.maxFileSize, v.acceptedExt, v.acceptedMT
	v.mu.RUnlock()

	size := doc.Size()
	res := ValidationResult{
		Errors:   []string{},
		Warnings: []string{},
		FileSize: size,
		FileType: doc.MediaType,
	}

	if doc.MediaType != mt {
		res.Errors = append(res.Errors,
			fmt.Sprintf("invalid file type %q: only %s is accepted", doc.MediaType, mt))
	}
	if !strings.HasSuffix(strings.ToLower(doc.Filename), ext) {
		res.Errors = append(res.Errors,
			fmt.Sprintf("invalid file extension: file name must end with %s", ext))
	}
	if size == 0 {
		res.Errors = append(res.Errors, "file cannot be empty")
	}
	if size > maxSize {
		res.Errors = append(res.Errors,
			fmt.Sprintf("file exceeds the %s limit", formatMB(maxSize)))
	} else if size > maxSize/2 {
		res.Warnings = append(res.Warnings,
			fmt.Sprintf("large file (%s) may take longer to process", formatMB(size)))
	}

	res.IsValid = len(res.Errors) == 0
	return res
}

// formatMB renders n bytes in MiB with at most one decimal ("10MB", "5.5MB").
func formatMB(n int64) string {
	mb := math.Round(float64(n)/(1<<20)*10) / 10
	return strconv.FormatFloat(mb, 'f', -1, 64) + "MB"
}
