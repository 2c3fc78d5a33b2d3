package logger

import (
	"bytes"
	"context"
	"io"
	"log"
	"log/slog"
)

// New returns a stdlib logger that forwards to base at level, tagged with component.
// It is meant for APIs that only accept *log.Logger, such as http.Server.ErrorLog.
func New(base *slog.Logger, component string, level slog.Level) *log.Logger {
	return slog.NewLogLogger(base.With("component", component).Handler(), level)
}

// Writer adapts base into an io.Writer that emits one record per written line.
func Writer(base *slog.Logger, component string, level slog.Level) io.Writer {
	return &lineWriter{logger: base.With("component", component), level: level}
}

type lineWriter struct {
	logger *slog.Logger
	level  slog.Level
}

func (w *lineWriter) Write(p []byte) (int, error) {
	for _, line := range bytes.Split(bytes.TrimRight(p, "\n"), []byte("\n")) {
		if len(line) == 0 {
			continue
		}
		w.logger.Log(context.Background(), w.level, string(line))
	}
	return len(p), nil
}
