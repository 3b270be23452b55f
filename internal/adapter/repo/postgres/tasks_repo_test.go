package postgres_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/require"

	"github.com/mikev9/text-processing/internal/adapter/repo/postgres"
	"github.com/mikev9/text-processing/internal/domain"
)

type fakeRow struct {
	err  error
	scan func(dest ...any) error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if r.scan != nil {
		return r.scan(dest...)
	}
	return nil
}

type fakePool struct {
	execSQL  []string
	execArgs [][]any
	execErr  error
	row      fakeRow
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execSQL = append(p.execSQL, sql)
	p.execArgs = append(p.execArgs, args)
	return pgconn.NewCommandTag("INSERT 0 1"), p.execErr
}

func (p *fakePool) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return p.row
}

func (p *fakePool) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func strPtr(s string) *string { return &s }

func TestCreateMapsUniqueViolation(t *testing.T) {
	pool := &fakePool{execErr: &pgconn.PgError{Code: "23505"}}
	repo := postgres.NewTaskRepo(pool)

	status := domain.TaskPending
	err := repo.Create(context.Background(), uuid.New(), domain.TaskPatch{Status: &status})
	require.ErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestCreatePropagatesOtherErrors(t *testing.T) {
	pool := &fakePool{execErr: errors.New("connection reset")}
	repo := postgres.NewTaskRepo(pool)

	err := repo.Create(context.Background(), uuid.New(), domain.TaskPatch{})
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrAlreadyExists)
}

func TestUpsertWritesOnlySetColumns(t *testing.T) {
	pool := &fakePool{}
	repo := postgres.NewTaskRepo(pool)

	status := domain.TaskFailedFinal
	err := repo.Upsert(context.Background(), uuid.New(), domain.TaskPatch{
		Status: &status,
		Cause:  strPtr("Invalid JSON"),
	})
	require.NoError(t, err)
	require.Len(t, pool.execSQL, 1)

	sql := pool.execSQL[0]
	require.Contains(t, sql, "ON CONFLICT (task_id) DO UPDATE SET")
	require.Contains(t, sql, "status=EXCLUDED.status")
	require.Contains(t, sql, "cause=EXCLUDED.cause")
	require.Contains(t, sql, "updated_at=EXCLUDED.updated_at")
	// Unset columns stay out of the merge so existing values survive.
	require.NotContains(t, sql, "original_text")
	require.NotContains(t, sql, "word_count")
	require.NotContains(t, sql, "language")

	// id + status + cause + created_at + updated_at
	require.Len(t, pool.execArgs[0], 5)
}

func TestUpsertFullPatch(t *testing.T) {
	pool := &fakePool{}
	repo := postgres.NewTaskRepo(pool)

	status := domain.TaskCompleted
	typ := domain.TextTypeChatItem
	wc := 2
	err := repo.Upsert(context.Background(), uuid.New(), domain.TaskPatch{
		OriginalText:  strPtr("Hello world"),
		ProcessedText: strPtr("Hello world"),
		WordCount:     &wc,
		Language:      strPtr("en"),
		Status:        &status,
		Type:          &typ,
	})
	require.NoError(t, err)
	sql := pool.execSQL[0]
	for _, col := range []string{"original_text", "processed_text", "word_count", "language", "status", "type"} {
		require.Contains(t, sql, col+"=EXCLUDED."+col)
	}
	require.NotContains(t, sql, "cause=EXCLUDED.cause")
}

func TestExists(t *testing.T) {
	pool := &fakePool{row: fakeRow{scan: func(dest ...any) error {
		*(dest[0].(*int)) = 1
		return nil
	}}}
	repo := postgres.NewTaskRepo(pool)

	ok, err := repo.Exists(context.Background(), uuid.New())
	require.NoError(t, err)
	require.True(t, ok)

	pool.row = fakeRow{err: pgx.ErrNoRows}
	ok, err = repo.Exists(context.Background(), uuid.New())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestGetNotFound(t *testing.T) {
	pool := &fakePool{row: fakeRow{err: pgx.ErrNoRows}}
	repo := postgres.NewTaskRepo(pool)

	_, err := repo.Get(context.Background(), uuid.New())
	require.ErrorIs(t, err, domain.ErrNotFound)
}
