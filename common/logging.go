// Package common holds logger construction and build metadata shared by the
// binaries and packages of this module.
package common

import (
	"io"
	"log/slog"
	"os"
)

// PackageName is attached to every log record as the "package" attribute.
const PackageName = "principality"

// Version is overwritten at build time with -ldflags "-X .../common.Version=...".
var Version = "dev"

// LoggingOpts configures SetupLogger.
type LoggingOpts struct {
	Debug   bool
	JSON    bool
	Service string
	Version string

	// Output defaults to os.Stderr.
	Output io.Writer
}

// SetupLogger builds a text or JSON slog logger tagged with service and version.
func SetupLogger(opts *LoggingOpts) *slog.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	level := slog.LevelInfo
	if opts.Debug {
		level = slog.LevelDebug
	}
	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if opts.JSON {
		handler = slog.NewJSONHandler(out, handlerOpts)
	} else {
		handler = slog.NewTextHandler(out, handlerOpts)
	}

	logger := slog.New(handler).With("package", PackageName)
	if opts.Service != "" {
		logger = logger.With("service", opts.Service)
	}
	if opts.Version != "" {
		logger = logger.With("version", opts.Version)
	}
	return logger
}

// DiscardLogger returns a logger that drops every record.
func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
