// Package logging installs the JSON slog handler shared by all three
// cmd/ entrypoints; the --debug flag controls verbosity.
package logging

import (
	"log/slog"
	"os"
)

// Setup installs a JSON slog handler writing to stderr as the default
// logger and returns it. debug raises the level to Debug; otherwise Info.
func Setup(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}
