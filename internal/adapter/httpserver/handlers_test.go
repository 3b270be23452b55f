package httpserver_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	httpserver "github.com/mikev9/text-processing/internal/adapter/httpserver"
	"github.com/mikev9/text-processing/internal/config"
	"github.com/mikev9/text-processing/internal/domain"
	"github.com/mikev9/text-processing/internal/usecase"
)

type stubRepo struct {
	existsVal bool
	task      domain.Task
	getErr    error
	createErr error
	created   int
}

func (s *stubRepo) Create(_ domain.Context, _ uuid.UUID, _ domain.TaskPatch) error {
	s.created++
	return s.createErr
}
func (s *stubRepo) Upsert(_ domain.Context, _ uuid.UUID, _ domain.TaskPatch) error { return nil }
func (s *stubRepo) Exists(_ domain.Context, _ uuid.UUID) (bool, error)             { return s.existsVal, nil }
func (s *stubRepo) Get(_ domain.Context, _ uuid.UUID) (domain.Task, error) {
	return s.task, s.getErr
}
func (s *stubRepo) Count(_ domain.Context) (int64, error) { return 0, nil }

type stubProducer struct {
	sendErr error
	sent    int
}

func (s *stubProducer) Send(_ domain.Context, _ any, taskID string) (string, error) {
	if s.sendErr != nil {
		return "", s.sendErr
	}
	s.sent++
	return taskID, nil
}

func testConfig() config.Config {
	return config.Config{ArticleMaxLength: 1_000_000, DisableAuth: true}
}

func newTestRouter(repo *stubRepo, prod *stubProducer) http.Handler {
	cfg := testConfig()
	srv := httpserver.NewServer(cfg,
		usecase.NewProcessTextService(repo, prod),
		usecase.NewResultService(repo),
		func(context.Context) error { return nil },
	)
	r := chi.NewRouter()
	r.Post("/process-text", srv.ProcessTextHandler())
	r.Get("/results/{task_id}", srv.ResultHandler())
	return r
}

func postJSON(t *testing.T, h http.Handler, body string) *httptest.ResponseRecorder {
	t.Helper()
	r := httptest.NewRequest(http.MethodPost, "/process-text", strings.NewReader(body))
	r.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	return w
}

func TestProcessTextCreated(t *testing.T) {
	repo := &stubRepo{}
	prod := &stubProducer{}
	h := newTestRouter(repo, prod)

	w := postJSON(t, h, `{"text":"Hello world","type":"chat_item"}`)
	require.Equal(t, http.StatusCreated, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Regexp(t, `^[0-9a-f]{32}$`, resp["task_id"])
	require.Equal(t, 1, prod.sent)
	require.Equal(t, 1, repo.created)
}

func TestProcessTextExistingTaskReturns200(t *testing.T) {
	repo := &stubRepo{existsVal: true}
	prod := &stubProducer{}
	h := newTestRouter(repo, prod)

	w := postJSON(t, h, `{"task_id":"8c8b4e08-34ac-41f9-8cad-44b9f938180a","text":"Hola mundo","type":"chat_item"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.Equal(t, "8c8b4e0834ac41f98cad44b9f938180a", resp["task_id"])
	require.Zero(t, prod.sent)
	require.Zero(t, repo.created)
}

func TestProcessTextValidation(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"whitespace only text", `{"text":"   ","type":"chat_item"}`},
		{"missing text", `{"type":"chat_item"}`},
		{"missing type", `{"text":"hello"}`},
		{"unknown type", `{"text":"hello","type":"poem"}`},
		{"unknown field", `{"text":"hello","type":"chat_item","extra":1}`},
		{"bad task_id", `{"task_id":"nope","text":"hello","type":"chat_item"}`},
		{"chat_item too long", `{"text":"` + strings.Repeat("a", 301) + `","type":"chat_item"}`},
		{"summary too long", `{"text":"` + strings.Repeat("a", 3001) + `","type":"summary"}`},
		{"article too short", `{"text":"hello","type":"article"}`},
		{"not json", `not-json`},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestRouter(&stubRepo{}, &stubProducer{})
			w := postJSON(t, h, tc.body)
			require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		})
	}
}

func TestProcessTextArticleTooLong(t *testing.T) {
	h := newTestRouter(&stubRepo{}, &stubProducer{})
	body := `{"text":"` + strings.Repeat("a", 1_000_001) + `","type":"article"}`
	w := postJSON(t, h, body)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestProcessTextArticleAccepted(t *testing.T) {
	repo := &stubRepo{}
	prod := &stubProducer{}
	h := newTestRouter(repo, prod)
	body := `{"text":"` + strings.Repeat("a", 300_000) + `","type":"article"}`
	w := postJSON(t, h, body)
	require.Equal(t, http.StatusCreated, w.Code)
}

func TestProcessTextPublishFailure(t *testing.T) {
	repo := &stubRepo{}
	prod := &stubProducer{sendErr: domain.ErrPublish}
	h := newTestRouter(repo, prod)

	w := postJSON(t, h, `{"text":"hello","type":"chat_item"}`)
	require.Equal(t, http.StatusBadGateway, w.Code)
	require.Zero(t, repo.created)
}

func TestResultFound(t *testing.T) {
	id := uuid.MustParse("8c8b4e08-34ac-41f9-8cad-44b9f938180a")
	wc := 2
	lang := "en"
	repo := &stubRepo{task: domain.Task{ID: id, Status: domain.TaskCompleted, WordCount: &wc, Language: &lang}}
	h := newTestRouter(repo, &stubProducer{})

	r := httptest.NewRequest(http.MethodGet, "/results/8c8b4e0834ac41f98cad44b9f938180a", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusOK, w.Code)

	var m map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &m))
	require.Equal(t, "8c8b4e0834ac41f98cad44b9f938180a", m["task_id"])
	require.Equal(t, "completed", m["status"])
	require.Equal(t, float64(2), m["word_count"])
}

func TestResultNotFound(t *testing.T) {
	repo := &stubRepo{getErr: domain.ErrNotFound}
	h := newTestRouter(repo, &stubProducer{})

	r := httptest.NewRequest(http.MethodGet, "/results/"+domain.HexID(uuid.New()), nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusNotFound, w.Code)
}

func TestResultInvalidID(t *testing.T) {
	h := newTestRouter(&stubRepo{}, &stubProducer{})

	r := httptest.NewRequest(http.MethodGet, "/results/not-a-uuid", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, r)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
}
