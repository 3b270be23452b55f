package postgres

import (
	"context"
	"log/slog"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/tracelog"
)

// slogTraceLogger adapts slog to the pgx tracelog interface so query echo can
// be turned on with DB_ENGINE_ECHO.
type slogTraceLogger struct{}

func (slogTraceLogger) Log(ctx context.Context, level tracelog.LogLevel, msg string, data map[string]any) {
	attrs := make([]any, 0, len(data))
	for k, v := range data {
		attrs = append(attrs, slog.Any(k, v))
	}
	switch level {
	case tracelog.LogLevelError:
		slog.ErrorContext(ctx, msg, attrs...)
	case tracelog.LogLevelWarn:
		slog.WarnContext(ctx, msg, attrs...)
	default:
		slog.DebugContext(ctx, msg, attrs...)
	}
}

// NewPool creates a pgx connection pool from the provided DSN. When echo is
// true every statement is logged at debug level in place of the OpenTelemetry
// tracer; otherwise queries are traced.
func NewPool(ctx context.Context, dsn string, echo bool) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.MaxConns = 10
	cfg.MaxConnIdleTime = 5 * time.Minute

	if echo {
		cfg.ConnConfig.Tracer = &tracelog.TraceLog{
			Logger:   slogTraceLogger{},
			LogLevel: tracelog.LogLevelDebug,
		}
	} else {
		cfg.ConnConfig.Tracer = otelpgx.NewTracer(
			otelpgx.WithTrimSQLInSpanName(),
		)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, err
	}

	if err := otelpgx.RecordStats(pool); err != nil {
		slog.Warn("failed to record pgx stats", slog.Any("error", err))
	}

	return pool, nil
}
