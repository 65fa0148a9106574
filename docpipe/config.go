package docpipe

import (
	"context"
	"log/slog"
)

// Default upload constraints.
const (
	DefaultMaxFileSize       int64 = 10 << 20
	DefaultAcceptedType            = "application/pdf"
	DefaultAcceptedExtension       = ".pdf"
)

// Config configures the pipeline.
type Config struct {
	// MaxFileSize is the largest accepted upload in bytes (default: 10 MiB).
	MaxFileSize int64 `json:"max_file_size" yaml:"max_file_size"`

	// AcceptedType is the only media type accepted (default: application/pdf).
	AcceptedType string `json:"accepted_type" yaml:"accepted_type"`

	// AcceptedExtension is the required file name suffix, compared
	// case-insensitively (default: .pdf).
	AcceptedExtension string `json:"accepted_extension" yaml:"accepted_extension"`

	// Logger for debug/error messages.
	Logger *slog.Logger `json:"-" yaml:"-"`

	// OnResult, when set, is called once per ParseFile with the final result.
	OnResult func(ctx context.Context, doc Document, res ParseResult) `json:"-" yaml:"-"`
}

func (c *Config) defaults() {
	if c.MaxFileSize <= 0 {
		c.MaxFileSize = DefaultMaxFileSize
	}
	if c.AcceptedType == "" {
		c.AcceptedType = DefaultAcceptedType
	}
	if c.AcceptedExtension == "" {
		c.AcceptedExtension = DefaultAcceptedExtension
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}
