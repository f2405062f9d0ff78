package observability

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.opentelemetry.io/otel/trace"
)

// sensitiveKeys are attribute keys whose values never reach the log output.
// Keys are compared lower-cased with underscores removed.
var sensitiveKeys = map[string]bool{
	"apikey":     true,
	"secret":     true,
	"secretkey":  true,
	"password":   true,
	"token":      true,
	"credential": true,
	"authtoken":  true,
}

const redacted = "[REDACTED]"

// ParseLevel converts a level name into a slog.Level. Unknown names map to
// info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// NewHandler creates a JSON or text handler writing to w. Sensitive attributes
// are redacted.
func NewHandler(w io.Writer, cfg LoggingConfig) slog.Handler {
	opts := &slog.HandlerOptions{
		Level:       ParseLevel(cfg.Level),
		ReplaceAttr: redactAttr,
	}
	if strings.EqualFold(cfg.Format, "text") {
		return slog.NewTextHandler(w, opts)
	}
	return slog.NewJSONHandler(w, opts)
}

// NewLogger builds the process logger from cfg. The returned closer releases
// the output file, if any.
func NewLogger(cfg LoggingConfig) (*slog.Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = io.NopCloser(nil)
	)
	switch cfg.Output {
	case "", "stderr":
	case "stdout":
		w = os.Stdout
	default:
		f, err := os.OpenFile(cfg.Output, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open log file: %w", err)
		}
		w, closer = f, f
	}
	return slog.New(NewHandler(w, cfg)), closer, nil
}

// MissionLogger returns logger annotated with the mission id and, when ctx
// carries a recording span, its trace and span ids.
func MissionLogger(ctx context.Context, logger *slog.Logger, missionID string) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("mission_id", missionID))

	sc := trace.SpanFromContext(ctx).SpanContext()
	if sc.IsValid() {
		logger = logger.With(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return logger
}

func redactAttr(_ []string, a slog.Attr) slog.Attr {
	key := strings.ToLower(strings.ReplaceAll(a.Key, "_", ""))
	if sensitiveKeys[key] {
		return slog.String(a.Key, redacted)
	}
	return a
}
