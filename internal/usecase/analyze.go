package usecase

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/mikev9/text-processing/internal/domain"
	"github.com/mikev9/text-processing/pkg/textx"
)

// AnalyzeService is the worker routine: it parses the message payload, runs
// the text analytics, and upserts the outcome. It holds no per-message state
// and is safe to run from any pool worker.
type AnalyzeService struct {
	Tasks domain.TaskRepository
	Log   *slog.Logger
}

// NewAnalyzeService constructs an AnalyzeService with its dependencies.
func NewAnalyzeService(t domain.TaskRepository, log *slog.Logger) AnalyzeService {
	if log == nil {
		log = slog.Default()
	}
	return AnalyzeService{Tasks: t, Log: log}
}

// Process handles one delivery. Errors wrapping domain.ErrDeterministic mark
// input that will fail identically on every retry; any other error is
// transient and the delivery is expected to be redelivered.
func (s AnalyzeService) Process(ctx domain.Context, taskID string, body []byte) error {
	s.Log.Debug("received task", slog.String("task_id", taskID), slog.Int("pid", os.Getpid()))

	id, err := domain.ParseTaskID(taskID)
	if err != nil {
		// No valid key, so nothing is written to the database.
		return fmt.Errorf("op=analyze.task_id: %w: task_id must be a UUID string", domain.ErrDeterministic)
	}

	var dto domain.TaskDTO
	if err := json.Unmarshal(body, &dto); err != nil {
		// A syntax error means the body is not JSON at all; anything else
		// (wrong shapes, unknown enum values) is a schema failure.
		cause := "Invalid task DTO"
		var syn *json.SyntaxError
		if errors.As(err, &syn) {
			cause = "Invalid JSON"
		}
		if verr := s.failFinal(ctx, id, cause, nil, nil); verr != nil {
			return verr
		}
		return fmt.Errorf("op=analyze.decode: %w: %v", domain.ErrDeterministic, err)
	}
	if err := dto.Validate(); err != nil {
		if verr := s.failFinal(ctx, id, "Invalid task DTO", nil, nil); verr != nil {
			return verr
		}
		return fmt.Errorf("op=analyze.validate: %w: %v", domain.ErrDeterministic, err)
	}

	wordCount := textx.CountWords(dto.OriginalText)
	language, err := textx.DetectLanguage(dto.OriginalText)
	if err != nil {
		if errors.Is(err, textx.ErrLangDetect) {
			if verr := s.failFinal(ctx, id, "lang detect error", &dto.OriginalText, &dto.Type); verr != nil {
				return verr
			}
			return fmt.Errorf("op=analyze.language: %w: %v", domain.ErrDeterministic, err)
		}
		s.failTransient(ctx, id, err, dto)
		return fmt.Errorf("op=analyze.language: %w", err)
	}
	processed := textx.CleanText(dto.OriginalText)

	status := domain.TaskCompleted
	patch := domain.TaskPatch{
		OriginalText:  &dto.OriginalText,
		ProcessedText: &processed,
		WordCount:     &wordCount,
		Language:      &language,
		Status:        &status,
		Type:          &dto.Type,
	}
	if err := s.Tasks.Upsert(ctx, id, patch); err != nil {
		s.failTransient(ctx, id, err, dto)
		return fmt.Errorf("op=analyze.complete: %w", err)
	}

	s.Log.Debug("task completed",
		slog.String("task_id", taskID),
		slog.Int("word_count", wordCount),
		slog.String("language", language))
	return nil
}

// failFinal records a terminal failure. A store error here is transient and
// takes precedence, so the message is retried instead of dropped.
func (s AnalyzeService) failFinal(ctx domain.Context, id uuid.UUID, cause string, text *string, typ *domain.TextType) error {
	status := domain.TaskFailedFinal
	patch := domain.TaskPatch{Status: &status, Cause: &cause, OriginalText: text, Type: typ}
	if err := s.Tasks.Upsert(ctx, id, patch); err != nil {
		return fmt.Errorf("op=analyze.fail_final: %w", err)
	}
	return nil
}

// failTransient best-effort records a transient failure before the error is
// re-raised for redelivery.
func (s AnalyzeService) failTransient(ctx domain.Context, id uuid.UUID, cause error, dto domain.TaskDTO) {
	status := domain.TaskFailed
	msg := cause.Error()
	if len(msg) > 200 {
		msg = msg[:200]
	}
	patch := domain.TaskPatch{
		Status:       &status,
		Cause:        &msg,
		OriginalText: &dto.OriginalText,
		Type:         &dto.Type,
	}
	if err := s.Tasks.Upsert(ctx, id, patch); err != nil {
		s.Log.Error("failed to record transient failure",
			slog.String("task_id", domain.HexID(id)), slog.Any("error", err))
	}
}
