package config

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// ConfigureLogger installs the default slog logger described by l.
//
// Level "none" discards all output. An empty Output writes to stderr;
// otherwise the file is created (truncated) and returned so the caller
// can close it on shutdown.
func (l LoggingConfig) ConfigureLogger() (*os.File, error) {
	opts := slog.HandlerOptions{}
	switch strings.ToLower(l.Level) {
	case "none":
		slog.SetDefault(slog.New(slog.NewTextHandler(io.Discard, nil)))
		return nil, nil
	case "error":
		opts.Level = slog.LevelError
	case "warn":
		opts.Level = slog.LevelWarn
	case "debug":
		opts.Level = slog.LevelDebug
	default:
		opts.Level = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	var file *os.File
	if l.Output != "" {
		f, err := os.OpenFile(l.Output, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
		if err != nil {
			return nil, err
		}
		file = f
		out = f
	}

	var h slog.Handler
	if strings.ToLower(l.Format) == "json" {
		h = slog.NewJSONHandler(out, &opts)
	} else {
		h = slog.NewTextHandler(out, &opts)
	}
	slog.SetDefault(slog.New(h))
	return file, nil
}
