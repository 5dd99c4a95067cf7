package logging

import (
	"log/slog"
	"os"
	"strings"
)

// New builds the JSON logger every service uses. LOG_LEVEL=debug enables
// debug output; anything else runs at info.
func New(service string) *slog.Logger {
	level := slog.LevelInfo
	if strings.EqualFold(os.Getenv("LOG_LEVEL"), "debug") {
		level = slog.LevelDebug
	}
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h).With("service", service)
}
