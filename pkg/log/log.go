// Package log configures the process logger shared by the siteflow binaries.
package log

import (
	"io"
	"log/slog"
	"os"
)

// Setup installs a text logger on stderr as the default. Every record carries
// the service name so api and dispatcher output can be told apart.
func Setup(logLevel, service string) {
	slog.SetDefault(New(os.Stderr, logLevel).With("service", service))
}

// New returns a text logger writing to w. Level names follow slog ("debug",
// "warn", "info+2"); unknown names fall back to info.
func New(w io.Writer, logLevel string) *slog.Logger {
	var level slog.Level

	if err := level.UnmarshalText([]byte(logLevel)); err != nil {
		level = slog.LevelInfo
	}

	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
