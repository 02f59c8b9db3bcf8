// Package logging builds the process-wide slog handler.
package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Output formats.
const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
	// FormatAuto picks pretty output on a terminal and JSON otherwise.
	FormatAuto = "auto"
)

// Options configures the handler.
type Options struct {
	Format string
	Level  string
}

// New returns a logger writing to w.
func New(w io.Writer, opts Options) *slog.Logger {
	return slog.New(NewHandler(w, opts))
}

// NewHandler returns a JSON or colorized handler for w.
//
//	15:04:05.000 INF starting server address=:8080
func NewHandler(w io.Writer, opts Options) slog.Handler {
	level := ParseLevel(opts.Level)

	if usePretty(w, opts.Format) {
		return tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly + ".000",
			NoColor:    !isTerminal(w),
		})
	}
	return slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
}

// ParseLevel maps debug, info, warn and error to slog levels. Anything else
// is info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func usePretty(w io.Writer, format string) bool {
	switch strings.ToLower(format) {
	case FormatPretty:
		return true
	case FormatJSON:
		return false
	default:
		return isTerminal(w)
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
