// Package logging configures the process-wide slog logger: colorized
// tint output on a terminal, JSON lines otherwise.
package logging

import (
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Setup installs the default slog logger writing to stderr and returns
// it. verbose lowers the level to debug.
func Setup(verbose bool) *slog.Logger {
	return SetupWriter(os.Stderr, verbose, isTerminal(os.Stderr))
}

// SetupWriter is the testable core of Setup.
func SetupWriter(w io.Writer, verbose, pretty bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}

	var handler slog.Handler
	if pretty {
		handler = tint.NewHandler(w, &tint.Options{
			Level:      level,
			TimeFormat: time.TimeOnly,
		})
	} else {
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
