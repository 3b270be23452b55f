package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"

	"github.com/mikev9/text-processing/internal/config"
	"github.com/mikev9/text-processing/internal/domain"
	"github.com/mikev9/text-processing/internal/usecase"
)

// Server aggregates handler dependencies.
type Server struct {
	Cfg     config.Config
	Process usecase.ProcessTextService
	Results usecase.ResultService
	DBCheck func(ctx context.Context) error
}

// NewServer constructs an HTTP server with all handlers wired.
func NewServer(cfg config.Config, process usecase.ProcessTextService, results usecase.ResultService, dbCheck func(context.Context) error) *Server {
	return &Server{Cfg: cfg, Process: process, Results: results, DBCheck: dbCheck}
}

var (
	vldOnce sync.Once
	vld     *validator.Validate
)

func getValidator() *validator.Validate {
	vldOnce.Do(func() { vld = validator.New() })
	return vld
}

type processTextRequest struct {
	TaskID string          `json:"task_id" validate:"omitempty"`
	Type   domain.TextType `json:"type" validate:"required"`
	Text   string          `json:"text" validate:"required"`
}

type processTextResponse struct {
	TaskID string `json:"task_id"`
}

// Per-type length bounds; the article ceiling comes from config.
const (
	chatItemMaxLen = 300
	summaryMaxLen  = 3_000
	articleMinLen  = 300_000
)

func validateTextLength(typ domain.TextType, text string, articleMax int) error {
	n := utf8.RuneCountInString(text)
	switch typ {
	case domain.TextTypeChatItem:
		if n > chatItemMaxLen {
			return fmt.Errorf("%w: for \"chat_item\", the text must be at most %d characters long", domain.ErrInvalidArgument, chatItemMaxLen)
		}
	case domain.TextTypeSummary:
		if n > summaryMaxLen {
			return fmt.Errorf("%w: for \"summary\", the text must be at most %d characters long", domain.ErrInvalidArgument, summaryMaxLen)
		}
	case domain.TextTypeArticle:
		if n < articleMinLen || n > articleMax {
			return fmt.Errorf("%w: for \"article\", the text length must be at least %d characters but not exceed %d", domain.ErrInvalidArgument, articleMinLen, articleMax)
		}
	}
	return nil
}

// ProcessTextHandler accepts a text submission and returns its task id:
// 201 for a new task, 200 when the id already existed.
func (s *Server) ProcessTextHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		maxBody := int64(s.Cfg.ArticleMaxLength) + 64*1024
		r.Body = http.MaxBytesReader(w, r.Body, maxBody)

		var req processTextRequest
		dec := json.NewDecoder(r.Body)
		dec.DisallowUnknownFields()
		if err := dec.Decode(&req); err != nil {
			writeError(w, r, fmt.Errorf("%w: invalid json: %v", domain.ErrInvalidArgument, err), nil)
			return
		}
		if err := getValidator().Struct(req); err != nil {
			verrs := map[string]string{}
			if ve, ok := err.(validator.ValidationErrors); ok {
				for _, fe := range ve {
					verrs[strings.ToLower(fe.Field())] = fe.Tag()
				}
			}
			writeError(w, r, fmt.Errorf("%w: validation failed", domain.ErrInvalidArgument), verrs)
			return
		}
		if strings.TrimSpace(req.Text) == "" {
			writeError(w, r, fmt.Errorf("%w: the text must contain at least one non-whitespace character", domain.ErrInvalidArgument), nil)
			return
		}
		if err := validateTextLength(req.Type, req.Text, s.Cfg.ArticleMaxLength); err != nil {
			writeError(w, r, err, nil)
			return
		}

		var id uuid.UUID
		if req.TaskID != "" {
			var err error
			if id, err = domain.ParseTaskID(req.TaskID); err != nil {
				writeError(w, r, err, map[string]string{"field": "task_id"})
				return
			}
		} else {
			id = uuid.New()
		}

		id, created, err := s.Process.Submit(r.Context(), id, req.Text, req.Type)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		status := http.StatusCreated
		if !created {
			status = http.StatusOK
		}
		writeJSON(w, status, processTextResponse{TaskID: domain.HexID(id)})
	}
}

// ResultHandler serves the polling endpoint with the full task row.
func (s *Server) ResultHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := domain.ParseTaskID(chi.URLParam(r, "task_id"))
		if err != nil {
			writeError(w, r, err, map[string]string{"field": "task_id"})
			return
		}
		task, err := s.Results.Fetch(r.Context(), id)
		if err != nil {
			writeError(w, r, err, nil)
			return
		}
		writeJSON(w, http.StatusOK, task)
	}
}

// HealthzHandler reports process liveness.
func (s *Server) HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

// ReadyzHandler reports readiness of the store dependency.
func (s *Server) ReadyzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.DBCheck != nil {
			if err := s.DBCheck(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
