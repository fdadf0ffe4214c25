// Package logging constructs the process-wide structured logger.
package logging

import (
	"log/slog"
	"os"
)

// New returns a JSON logger on stdout filtered to the given level. Components
// derive their own loggers from it with With.
func New(level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
