// Package observability configures Parrot's structured logging.
//
// Setup installs a global slog logger that redacts the configured secrets
// from every attribute. WithTrace attaches the trace ID of the Matrix event
// being handled.
package observability

import (
	"context"
	"io"
	"log/slog"
	"os"

	"github.com/bdobrica/Parrot/common/redact"
	"github.com/bdobrica/Parrot/common/trace"
)

// Setup configures the global slog logger on stdout. level is "debug",
// "info", "warn" or "error" (anything else means info); format is "json" or
// "text". secrets are redacted from every log attribute.
func Setup(level, format string, secrets ...string) {
	slog.SetDefault(New(os.Stdout, level, format, secrets...))
}

// New builds a logger writing to w with the same options as Setup.
func New(w io.Writer, level, format string, secrets ...string) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:       parseLevel(level),
		ReplaceAttr: redact.New(secrets...).ReplaceAttr,
	}
	var handler slog.Handler
	if format == "json" {
		handler = slog.NewJSONHandler(w, opts)
	} else {
		handler = slog.NewTextHandler(w, opts)
	}
	return slog.New(handler)
}

func parseLevel(level string) slog.Level {
	switch level {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// WithTrace returns a child logger that always includes the trace_id from ctx.
func WithTrace(ctx context.Context) *slog.Logger {
	id := trace.FromContext(ctx)
	if id == "" {
		return slog.Default()
	}
	return slog.With("trace_id", id)
}
