// Package postgres provides the PostgreSQL task store.
//
// It implements the domain.TaskRepository port with a minimal pgx pool,
// idempotent create semantics, and partial-update upserts keyed by task_id.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/mikev9/text-processing/internal/domain"
)

// PgxPool is a minimal subset of pgxpool used by the repo for easy testing.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// uniqueViolation is the PostgreSQL error code for duplicate primary keys.
const uniqueViolation = "23505"

// TaskRepo persists and loads task rows using a minimal pgx pool.
type TaskRepo struct{ Pool PgxPool }

// NewTaskRepo constructs a TaskRepo with the given pool.
func NewTaskRepo(p PgxPool) *TaskRepo { return &TaskRepo{Pool: p} }

// patchColumns flattens the set fields of a patch into parallel column and
// value slices. The fixed field set keeps the SQL free of reflection.
func patchColumns(p domain.TaskPatch) ([]string, []any) {
	var cols []string
	var vals []any
	add := func(col string, v any) {
		cols = append(cols, col)
		vals = append(vals, v)
	}
	if p.OriginalText != nil {
		add("original_text", *p.OriginalText)
	}
	if p.ProcessedText != nil {
		add("processed_text", *p.ProcessedText)
	}
	if p.WordCount != nil {
		add("word_count", *p.WordCount)
	}
	if p.Language != nil {
		add("language", *p.Language)
	}
	if p.Status != nil {
		add("status", string(*p.Status))
	}
	if p.Type != nil {
		add("type", string(*p.Type))
	}
	if p.Cause != nil {
		add("cause", *p.Cause)
	}
	return cols, vals
}

// Create inserts a new row; domain.ErrAlreadyExists when the id is taken.
func (r *TaskRepo) Create(ctx domain.Context, id uuid.UUID, p domain.TaskPatch) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Create")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "INSERT"),
		attribute.String("db.sql.table", "tasks"),
	)
	cols, vals := patchColumns(p)
	now := time.Now().UTC()
	cols = append([]string{"task_id"}, cols...)
	vals = append([]any{id}, vals...)
	cols = append(cols, "created_at", "updated_at")
	vals = append(vals, now, now)

	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	q := fmt.Sprintf(`INSERT INTO tasks (%s) VALUES (%s)`, strings.Join(cols, ", "), strings.Join(ph, ", "))
	if _, err := r.Pool.Exec(ctx, q, vals...); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return fmt.Errorf("op=task.create: %w", domain.ErrAlreadyExists)
		}
		return fmt.Errorf("op=task.create: %w", err)
	}
	return nil
}

// Upsert inserts the row or merges the supplied fields into the existing one.
// Columns absent from the patch are left untouched on update; updated_at is
// stamped on every path.
func (r *TaskRepo) Upsert(ctx domain.Context, id uuid.UUID, p domain.TaskPatch) error {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "UPSERT"),
		attribute.String("db.sql.table", "tasks"),
	)
	cols, vals := patchColumns(p)
	now := time.Now().UTC()
	cols = append([]string{"task_id"}, cols...)
	vals = append([]any{id}, vals...)
	cols = append(cols, "created_at", "updated_at")
	vals = append(vals, now, now)

	ph := make([]string, len(cols))
	for i := range cols {
		ph[i] = fmt.Sprintf("$%d", i+1)
	}
	set := make([]string, 0, len(cols)-2)
	for _, c := range cols[1 : len(cols)-2] {
		set = append(set, fmt.Sprintf("%s=EXCLUDED.%s", c, c))
	}
	set = append(set, "updated_at=EXCLUDED.updated_at")
	q := fmt.Sprintf(
		`INSERT INTO tasks (%s) VALUES (%s) ON CONFLICT (task_id) DO UPDATE SET %s`,
		strings.Join(cols, ", "), strings.Join(ph, ", "), strings.Join(set, ", "),
	)
	if _, err := r.Pool.Exec(ctx, q, vals...); err != nil {
		return fmt.Errorf("op=task.upsert: %w", err)
	}
	return nil
}

// Exists reports whether a row with the given id is present.
func (r *TaskRepo) Exists(ctx domain.Context, id uuid.UUID) (bool, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Exists")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "tasks"),
	)
	q := `SELECT 1 FROM tasks WHERE task_id=$1`
	var one int
	if err := r.Pool.QueryRow(ctx, q, id).Scan(&one); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("op=task.exists: %w", err)
	}
	return true, nil
}

// Get loads a task by id; domain.ErrNotFound when absent.
func (r *TaskRepo) Get(ctx domain.Context, id uuid.UUID) (domain.Task, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Get")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "SELECT"),
		attribute.String("db.sql.table", "tasks"),
	)
	q := `SELECT task_id, original_text, processed_text, word_count, language, status, type, cause, created_at, updated_at FROM tasks WHERE task_id=$1`
	row := r.Pool.QueryRow(ctx, q, id)
	var t domain.Task
	var status string
	var typ *string
	if err := row.Scan(&t.ID, &t.OriginalText, &t.ProcessedText, &t.WordCount, &t.Language, &status, &typ, &t.Cause, &t.CreatedAt, &t.UpdatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.Task{}, fmt.Errorf("op=task.get: %w", domain.ErrNotFound)
		}
		return domain.Task{}, fmt.Errorf("op=task.get: %w", err)
	}
	t.Status = domain.TaskStatus(status)
	if typ != nil {
		tt := domain.TextType(*typ)
		t.Type = &tt
	}
	return t, nil
}

// Count returns the total number of task rows.
func (r *TaskRepo) Count(ctx domain.Context) (int64, error) {
	tracer := otel.Tracer("repo.tasks")
	ctx, span := tracer.Start(ctx, "tasks.Count")
	defer span.End()
	span.SetAttributes(
		attribute.String("db.system", "postgresql"),
		attribute.String("db.operation", "COUNT"),
		attribute.String("db.sql.table", "tasks"),
	)
	var count int64
	if err := r.Pool.QueryRow(ctx, `SELECT COUNT(*) FROM tasks`).Scan(&count); err != nil {
		return 0, fmt.Errorf("op=task.count: %w", err)
	}
	return count, nil
}
