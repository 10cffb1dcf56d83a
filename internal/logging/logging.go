// ============================================================================
// Logging - slog setup shared by every package
// ============================================================================
//
// Package: internal/logging
// File: logging.go
// Purpose: Pick the slog handler once at startup and give packages a logger
//          that follows it
//
// Packages declare their logger at init time:
//
//   var log = logging.Component("batch")
//
// Setup runs later (after config is loaded), so Component loggers resolve
// slog.Default() on every record instead of capturing it.
//
// Format:
//   auto -> text on a terminal, JSON otherwise (pipes, CI, log shippers)
//   text -> slog.TextHandler
//   json -> slog.JSONHandler
//
// ============================================================================

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/mattn/go-isatty"
)

// ParseLevel converts debug|info|warn|error to a slog.Level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
}

// NewHandler builds the handler for format writing to w.
func NewHandler(w io.Writer, level slog.Level, format string) (slog.Handler, error) {
	opts := &slog.HandlerOptions{Level: level}

	switch format {
	case "text":
		return slog.NewTextHandler(w, opts), nil
	case "json":
		return slog.NewJSONHandler(w, opts), nil
	case "", "auto":
		if isTerminal(w) {
			return slog.NewTextHandler(w, opts), nil
		}
		return slog.NewJSONHandler(w, opts), nil
	}
	return nil, fmt.Errorf("unknown log format %q", format)
}

// Setup installs the process-wide default logger.
func Setup(w io.Writer, level, format string) error {
	lvl, err := ParseLevel(level)
	if err != nil {
		return err
	}
	h, err := NewHandler(w, lvl, format)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(h))
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Component returns a logger tagged with component=name.
func Component(name string) *slog.Logger {
	return slog.New(deferred{}).With("component", name)
}

// deferred forwards to whatever slog.Default() is at the time of the call.
// apply replays With/WithGroup onto that handler.
type deferred struct {
	apply func(slog.Handler) slog.Handler
}

func (d deferred) target() slog.Handler {
	h := slog.Default().Handler()
	if d.apply != nil {
		h = d.apply(h)
	}
	return h
}

func (d deferred) Enabled(ctx context.Context, level slog.Level) bool {
	return d.target().Enabled(ctx, level)
}

func (d deferred) Handle(ctx context.Context, r slog.Record) error {
	return d.target().Handle(ctx, r)
}

func (d deferred) WithAttrs(attrs []slog.Attr) slog.Handler {
	prev := d.apply
	return deferred{apply: func(h slog.Handler) slog.Handler {
		if prev != nil {
			h = prev(h)
		}
		return h.WithAttrs(attrs)
	}}
}

func (d deferred) WithGroup(name string) slog.Handler {
	prev := d.apply
	return deferred{apply: func(h slog.Handler) slog.Handler {
		if prev != nil {
			h = prev(h)
		}
		return h.WithGroup(name)
	}}
}
