package logging

import (
	"io"
	"log/slog"
	"os"
)

// New initializes a new slog logger and sets it as the default.
// It reads the LOG_FORMAT environment variable to determine the output format.
// Defaults to "text"; can be set to "json" for machine consumption.
func New(w io.Writer) {
	if w == nil {
		w = os.Stderr
	}

	var handler slog.Handler
	switch os.Getenv("LOG_FORMAT") {
	case "json":
		handler = slog.NewJSONHandler(w, &slog.HandlerOptions{
			Level: level(),
		})
	default:
		handler = slog.NewTextHandler(w, &slog.HandlerOptions{
			Level: level(),
		})
	}

	slog.SetDefault(slog.New(handler))
}

// level reads LOG_LEVEL; an interactive chat client should stay quiet unless
// asked, so the default is warn rather than debug.
func level() slog.Level {
	switch os.Getenv("LOG_LEVEL") {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "error":
		return slog.LevelError
	default:
		return slog.LevelWarn
	}
}
