// Package usecase contains application business logic services.
package usecase

import (
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"

	"github.com/mikev9/text-processing/internal/domain"
	obsctx "github.com/mikev9/text-processing/internal/observability"
)

// ProcessTextService accepts text submissions: it persists a pending row and
// publishes the task message, keeping duplicate submissions idempotent.
type ProcessTextService struct {
	Tasks    domain.TaskRepository
	Producer domain.Producer
}

// NewProcessTextService constructs a ProcessTextService with its dependencies.
func NewProcessTextService(t domain.TaskRepository, p domain.Producer) ProcessTextService {
	return ProcessTextService{Tasks: t, Producer: p}
}

// Submit enqueues a task. It returns the task id and whether a new row was
// created; created=false means the id already existed: either it was found
// before publishing and nothing was published, or the create lost a race to
// another submission after this call had published. The message is published
// before the row is persisted, so the upsert path stays the source of truth if
// the persist fails mid-way.
func (s ProcessTextService) Submit(ctx domain.Context, id uuid.UUID, text string, typ domain.TextType) (uuid.UUID, bool, error) {
	tr := otel.Tracer("usecase.process")
	ctx, span := tr.Start(ctx, "ProcessTextService.Submit")
	defer span.End()

	lg := obsctx.LoggerFromContext(ctx)

	exists, err := s.Tasks.Exists(ctx, id)
	if err != nil {
		return uuid.Nil, false, err
	}
	if exists {
		lg.Warn("task already exists", slog.String("task_id", domain.HexID(id)))
		return id, false, nil
	}

	dto := domain.TaskDTO{OriginalText: text, Type: typ}
	if err := dto.Validate(); err != nil {
		return uuid.Nil, false, err
	}

	if _, err := s.Producer.Send(ctx, dto, domain.HexID(id)); err != nil {
		lg.Error("task publish failed", slog.String("task_id", domain.HexID(id)), slog.Any("error", err))
		return uuid.Nil, false, err
	}

	status := domain.TaskPending
	if err := s.Tasks.Create(ctx, id, domain.TaskPatch{Status: &status, Type: &typ}); err != nil {
		if isAlreadyExists(err) {
			lg.Warn("task already exists", slog.String("task_id", domain.HexID(id)))
			return id, false, nil
		}
		return uuid.Nil, false, err
	}

	lg.Info("task enqueued", slog.String("task_id", domain.HexID(id)), slog.String("type", string(typ)))
	return id, true, nil
}

// Healthz reports whether the store is reachable by counting task rows. The
// /readyz endpoint does not call it; it pings the pool directly.
func (s ProcessTextService) Healthz(ctx domain.Context) error {
	_, err := s.Tasks.Count(ctx)
	return err
}

func isAlreadyExists(err error) bool { return errors.Is(err, domain.ErrAlreadyExists) }
