package linker

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync/atomic"

	"github.com/fatih/color"
	slogmulti "github.com/samber/slog-multi"
)

// Diagnostics is the sink for all linker messages. Warnings and errors are
// counted so the pipeline can report how troubled a link was; messages
// logged here never terminate the run, only returned fatal errors do.
//
// The zero value discards everything, which keeps library use quiet.
type Diagnostics struct {
	logger   *slog.Logger
	warnings atomic.Int64
	errors   atomic.Int64
}

// NewDiagnostics builds a sink writing human readable messages to console.
// When logFile is non-nil, a JSON copy of every record is fanned out to it.
func NewDiagnostics(console io.Writer, logFile io.Writer, debug bool) *Diagnostics {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	handlers := []slog.Handler{newConsoleHandler(console, level)}
	if logFile != nil {
		handlers = append(handlers, slog.NewJSONHandler(logFile, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return &Diagnostics{logger: slog.New(slogmulti.Fanout(handlers...))}
}

func (d *Diagnostics) log(level slog.Level, format string, args ...any) {
	if d == nil || d.logger == nil {
		return
	}
	d.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (d *Diagnostics) Debugf(format string, args ...any) {
	d.log(slog.LevelDebug, format, args...)
}

func (d *Diagnostics) Infof(format string, args ...any) {
	d.log(slog.LevelInfo, format, args...)
}

func (d *Diagnostics) Warnf(format string, args ...any) {
	if d != nil {
		d.warnings.Add(1)
	}
	d.log(slog.LevelWarn, format, args...)
}

func (d *Diagnostics) Errorf(format string, args ...any) {
	if d != nil {
		d.errors.Add(1)
	}
	d.log(slog.LevelError, format, args...)
}

func (d *Diagnostics) Warnings() int64 {
	if d == nil {
		return 0
	}
	return d.warnings.Load()
}

func (d *Diagnostics) Errors() int64 {
	if d == nil {
		return 0
	}
	return d.errors.Load()
}

// consoleHandler prints one line per record, prefixed by severity. Severity
// prefixes are colored when the destination supports it.
type consoleHandler struct {
	out   io.Writer
	level slog.Level
	attrs string
}

func newConsoleHandler(out io.Writer, level slog.Level) *consoleHandler {
	return &consoleHandler{out: out, level: level}
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

var (
	warnColor  = color.New(color.FgYellow)
	errorColor = color.New(color.FgRed, color.Bold)
	debugColor = color.New(color.FgCyan)
)

func (h *consoleHandler) Handle(_ context.Context, record slog.Record) error {
	prefix := ""
	switch {
	case record.Level >= slog.LevelError:
		prefix = errorColor.Sprint("Error: ")
	case record.Level >= slog.LevelWarn:
		prefix = warnColor.Sprint("Warning: ")
	case record.Level < slog.LevelInfo:
		prefix = debugColor.Sprint("Debug: ")
	}
	_, err := fmt.Fprintf(h.out, "%s%s%s\n", prefix, record.Message, h.attrs)
	return err
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := *h
	for _, attr := range attrs {
		clone.attrs += fmt.Sprintf(" %s=%v", attr.Key, attr.Value)
	}
	return &clone
}

func (h *consoleHandler) WithGroup(string) slog.Handler {
	return h
}
