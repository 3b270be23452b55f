package observability

import (
	"context"
	"log/slog"
	"os"
	"strings"

	"github.com/mikev9/text-processing/internal/config"
)

// limitHandler caps the rendered message length of every record, appending
// "…" when truncated. Attribute values are left alone; only the message is
// clipped, matching the record cap the services have always used.
type limitHandler struct {
	slog.Handler
	maxLen int
}

func (h limitHandler) Handle(ctx context.Context, r slog.Record) error {
	if h.maxLen > 0 && len(r.Message) > h.maxLen {
		clipped := slog.NewRecord(r.Time, r.Level, r.Message[:h.maxLen]+"…", r.PC)
		r.Attrs(func(a slog.Attr) bool {
			clipped.AddAttrs(a)
			return true
		})
		return h.Handler.Handle(ctx, clipped)
	}
	return h.Handler.Handle(ctx, r)
}

func (h limitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return limitHandler{Handler: h.Handler.WithAttrs(attrs), maxLen: h.maxLen}
}

func (h limitHandler) WithGroup(name string) slog.Handler {
	return limitHandler{Handler: h.Handler.WithGroup(name), maxLen: h.maxLen}
}

// ParseLevel maps a textual log level to a slog.Level, defaulting to info.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
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

// SetupLogger configures a length-capped slog logger with service fields.
// LOG_FMT selects the handler flavor: "text" for the console form, anything
// else for JSON.
func SetupLogger(cfg config.Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.LogLevel)}
	var h slog.Handler
	if strings.EqualFold(cfg.LogFmt, "text") {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	h = limitHandler{Handler: h, maxLen: cfg.LogRecordMaxLen}
	return slog.New(h).With(slog.String("service", cfg.AppName))
}
