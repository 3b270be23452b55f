package postgres

import (
	"context"
	"fmt"
)

// schema is the single tasks table. Enum values are enforced in code; the
// columns stay stock portable SQL.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tasks (
		task_id UUID PRIMARY KEY,
		original_text TEXT,
		processed_text TEXT,
		word_count INTEGER,
		language TEXT,
		status TEXT NOT NULL DEFAULT 'pending',
		type TEXT,
		cause TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		updated_at TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_created_at ON tasks (created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_tasks_updated_at ON tasks (updated_at)`,
}

// EnsureSchema applies the schema statements. All statements are idempotent,
// so both services can run this at startup.
func EnsureSchema(ctx context.Context, pool PgxPool) error {
	for _, q := range schema {
		if _, err := pool.Exec(ctx, q); err != nil {
			return fmt.Errorf("op=schema.ensure: %w", err)
		}
	}
	return nil
}
