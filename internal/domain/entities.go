// Package domain defines core entities, ports, and domain-specific errors.
package domain

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Error taxonomy (sentinels)
var (
	ErrInvalidArgument = errors.New("invalid argument")
	ErrNotFound        = errors.New("not found")
	ErrAlreadyExists   = errors.New("already exists")
	ErrPublish         = errors.New("publish failed")
	ErrDeterministic   = errors.New("deterministic failure")
	ErrUnauthorized    = errors.New("unauthorized")
	ErrInternal        = errors.New("internal error")
)

// TaskStatus captures the lifecycle state of a task.
type TaskStatus string

// Task status values.
const (
	// TaskPending is the status set by the ingress before the worker runs.
	TaskPending TaskStatus = "pending"
	// TaskCompleted is the status when analysis finished successfully.
	TaskCompleted TaskStatus = "completed"
	// TaskFailed is a transient failure; the broker holds the message for redelivery.
	TaskFailed TaskStatus = "failed"
	// TaskFailedFinal is terminal: reprocessing would produce the same result.
	TaskFailedFinal TaskStatus = "failed_final"
)

// Valid reports whether s is a known status value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskCompleted, TaskFailed, TaskFailedFinal:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown status values on deserialization.
func (s *TaskStatus) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	st := TaskStatus(v)
	if !st.Valid() {
		return fmt.Errorf("%w: unknown task status %q", ErrInvalidArgument, v)
	}
	*s = st
	return nil
}

// TextType enumerates the kinds of text the pipeline accepts.
type TextType string

// Text type values.
const (
	TextTypeChatItem TextType = "chat_item"
	TextTypeSummary  TextType = "summary"
	TextTypeArticle  TextType = "article"
)

// Valid reports whether t is a known text type.
func (t TextType) Valid() bool {
	switch t {
	case TextTypeChatItem, TextTypeSummary, TextTypeArticle:
		return true
	}
	return false
}

// UnmarshalJSON rejects unknown type values on deserialization.
func (t *TextType) UnmarshalJSON(b []byte) error {
	var v string
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	tt := TextType(v)
	if !tt.Valid() {
		return fmt.Errorf("%w: unknown text type %q", ErrInvalidArgument, v)
	}
	*t = tt
	return nil
}

// TaskDTO is the message payload carried on the broker.
type TaskDTO struct {
	OriginalText string   `json:"original_text"`
	Type         TextType `json:"type"`
}

// Validate enforces the payload contract: non-blank text and a known type.
func (d TaskDTO) Validate() error {
	if strings.TrimSpace(d.OriginalText) == "" {
		return fmt.Errorf("%w: original_text must contain at least one non-whitespace character", ErrInvalidArgument)
	}
	if !d.Type.Valid() {
		return fmt.Errorf("%w: unknown text type %q", ErrInvalidArgument, d.Type)
	}
	return nil
}

// Task is the durable unit of work tracked in the store.
type Task struct {
	ID            uuid.UUID
	OriginalText  *string
	ProcessedText *string
	WordCount     *int
	Language      *string
	Status        TaskStatus
	Type          *TextType
	Cause         *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// MarshalJSON emits the task row with the id in 32-char lowercase hex form.
func (t Task) MarshalJSON() ([]byte, error) {
	return json.Marshal(struct {
		TaskID        string     `json:"task_id"`
		OriginalText  *string    `json:"original_text"`
		ProcessedText *string    `json:"processed_text"`
		WordCount     *int       `json:"word_count"`
		Language      *string    `json:"language"`
		Status        TaskStatus `json:"status"`
		Type          *TextType  `json:"type"`
		Cause         *string    `json:"cause"`
		CreatedAt     time.Time  `json:"created_at"`
		UpdatedAt     time.Time  `json:"updated_at"`
	}{
		TaskID:        HexID(t.ID),
		OriginalText:  t.OriginalText,
		ProcessedText: t.ProcessedText,
		WordCount:     t.WordCount,
		Language:      t.Language,
		Status:        t.Status,
		Type:          t.Type,
		Cause:         t.Cause,
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	})
}

// TaskPatch is a partial update: a nil field leaves the column untouched on
// conflict, a set field is written. The fixed field set replaces the dynamic
// per-call dictionaries of older designs.
type TaskPatch struct {
	OriginalText  *string
	ProcessedText *string
	WordCount     *int
	Language      *string
	Status        *TaskStatus
	Type          *TextType
	Cause         *string
}

// ParseTaskID accepts a task id in 32-char hex or 8-4-4-4-12 canonical form.
func ParseTaskID(s string) (uuid.UUID, error) {
	if len(s) != 32 && len(s) != 36 {
		return uuid.Nil, fmt.Errorf("%w: task id must be a UUID in hex or canonical form", ErrInvalidArgument)
	}
	id, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %v", ErrInvalidArgument, err)
	}
	return id, nil
}

// HexID renders a UUID as 32 lowercase hex characters, the wire form used in
// message ids and JSON responses.
func HexID(id uuid.UUID) string {
	return hex.EncodeToString(id[:])
}

// Repositories (ports)

// TaskRepository persists task rows keyed by UUID.
type TaskRepository interface {
	// Create inserts a new row; ErrAlreadyExists when the primary key is taken.
	Create(ctx Context, id uuid.UUID, p TaskPatch) error
	// Upsert inserts or merges the supplied fields, stamping updated_at.
	Upsert(ctx Context, id uuid.UUID, p TaskPatch) error
	// Exists reports whether a row with the given id is present.
	Exists(ctx Context, id uuid.UUID) (bool, error)
	// Get loads a full row; ErrNotFound when absent.
	Get(ctx Context, id uuid.UUID) (Task, error)
	// Count returns the total number of rows.
	Count(ctx Context) (int64, error)
}

// Producer (port)

// Producer publishes confirmed, persistent task messages to the broker.
type Producer interface {
	// Send serializes data as JSON and publishes it under the given task id.
	// An empty id mints a fresh UUIDv4; a UUID in hex or canonical form is
	// normalized to hex; any other non-empty string is used as-is. Returns
	// the final message id, or ErrPublish when the broker did not accept.
	Send(ctx Context, data any, taskID string) (string, error)
}

// Context is a type alias to stdlib context.Context for convenience across layers.
type Context = context.Context
