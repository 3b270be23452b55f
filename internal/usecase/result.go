package usecase

import (
	"log/slog"

	"github.com/google/uuid"

	"github.com/mikev9/text-processing/internal/domain"
	obsctx "github.com/mikev9/text-processing/internal/observability"
)

// ResultService provides read access to task rows for the polling endpoint.
type ResultService struct {
	Tasks domain.TaskRepository
}

// NewResultService constructs a ResultService with the given repository.
func NewResultService(t domain.TaskRepository) ResultService {
	return ResultService{Tasks: t}
}

// Fetch returns the full task row; domain.ErrNotFound when absent.
func (s ResultService) Fetch(ctx domain.Context, id uuid.UUID) (domain.Task, error) {
	task, err := s.Tasks.Get(ctx, id)
	if err != nil {
		obsctx.LoggerFromContext(ctx).Warn("task lookup failed",
			slog.String("task_id", domain.HexID(id)), slog.Any("error", err))
		return domain.Task{}, err
	}
	return task, nil
}
