package usecase_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/mikev9/text-processing/internal/domain"
	"github.com/mikev9/text-processing/internal/usecase"
)

const analyzeTaskID = "8c8b4e0834ac41f98cad44b9f938180a"

func TestProcessInvalidTaskIDNoDBWrite(t *testing.T) {
	repo := &fakeTaskRepo{}
	svc := usecase.NewAnalyzeService(repo, nil)

	err := svc.Process(context.Background(), "definitely-not-a-uuid-string-here", []byte(`{}`))
	require.ErrorIs(t, err, domain.ErrDeterministic)
	require.Empty(t, repo.upserts, "no valid key, so nothing may be written")
}

func TestProcessInvalidJSON(t *testing.T) {
	repo := &fakeTaskRepo{}
	svc := usecase.NewAnalyzeService(repo, nil)

	err := svc.Process(context.Background(), analyzeTaskID, []byte(`not-json`))
	require.ErrorIs(t, err, domain.ErrDeterministic)

	require.Len(t, repo.upserts, 1)
	patch := repo.upserts[0].patch
	require.Equal(t, domain.TaskFailedFinal, *patch.Status)
	require.Equal(t, "Invalid JSON", *patch.Cause)
	require.Nil(t, patch.OriginalText)
}

func TestProcessInvalidDTO(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown type", `{"original_text":"hello","type":"poem"}`},
		{"blank text", `{"original_text":"   ","type":"chat_item"}`},
		{"wrong shape", `["not","an","object"]`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			repo := &fakeTaskRepo{}
			svc := usecase.NewAnalyzeService(repo, nil)

			err := svc.Process(context.Background(), analyzeTaskID, []byte(tc.body))
			require.ErrorIs(t, err, domain.ErrDeterministic)
			require.Len(t, repo.upserts, 1)
			patch := repo.upserts[0].patch
			require.Equal(t, domain.TaskFailedFinal, *patch.Status)
			require.Equal(t, "Invalid task DTO", *patch.Cause)
		})
	}
}

func TestProcessCompletesTask(t *testing.T) {
	repo := &fakeTaskRepo{}
	svc := usecase.NewAnalyzeService(repo, nil)

	err := svc.Process(context.Background(), analyzeTaskID, []byte(`{"original_text":"Hello world","type":"chat_item"}`))
	require.NoError(t, err)

	require.Len(t, repo.upserts, 1)
	call := repo.upserts[0]
	require.Equal(t, uuid.MustParse("8c8b4e08-34ac-41f9-8cad-44b9f938180a"), call.id)

	patch := call.patch
	require.Equal(t, domain.TaskCompleted, *patch.Status)
	require.Equal(t, "Hello world", *patch.OriginalText)
	require.Equal(t, "Hello world", *patch.ProcessedText)
	require.Equal(t, 2, *patch.WordCount)
	require.Equal(t, "en", *patch.Language)
	require.Equal(t, domain.TextTypeChatItem, *patch.Type)
}

func TestProcessCleansDisallowedCharacters(t *testing.T) {
	repo := &fakeTaskRepo{}
	svc := usecase.NewAnalyzeService(repo, nil)

	err := svc.Process(context.Background(), analyzeTaskID,
		[]byte(`{"original_text":"Hello!/// Are we still meeting for lunch tomorrow at 12 pm?","type":"chat_item"}`))
	require.NoError(t, err)
	require.Len(t, repo.upserts, 1)
	require.Equal(t, "Hello! Are we still meeting for lunch tomorrow at 12 pm?", *repo.upserts[0].patch.ProcessedText)
}

func TestProcessStoreFailureIsTransient(t *testing.T) {
	repo := &fakeTaskRepo{upsertErr: errors.New("connection refused")}
	svc := usecase.NewAnalyzeService(repo, nil)

	err := svc.Process(context.Background(), analyzeTaskID, []byte(`{"original_text":"Hello world","type":"chat_item"}`))
	require.Error(t, err)
	require.NotErrorIs(t, err, domain.ErrDeterministic, "store failures must be retried")

	// The completed write failed, then the transient-failure record was
	// attempted best-effort.
	require.Len(t, repo.upserts, 2)
	require.Equal(t, domain.TaskCompleted, *repo.upserts[0].patch.Status)
	require.Equal(t, domain.TaskFailed, *repo.upserts[1].patch.Status)
}
