package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"time"
)

// EphemeralStore is the fast-store slice of the fact store adapter that
// status records live in.
type EphemeralStore interface {
	EphemeralGet(ctx context.Context, key string) (string, bool, error)
	EphemeralSet(ctx context.Context, key, value string, ttl time.Duration) error
}

// StatusStore keeps task status records in the ephemeral store. Records
// stay live while a task runs and expire a configurable time after the
// task reaches a terminal state; the document row remains the durable
// trace afterwards.
type StatusStore struct {
	ephemeral   EphemeralStore
	terminalTTL time.Duration
}

// Status is the queryable view of a task: everything except the stage
// artifacts, which never leave the pipeline.
type Status struct {
	TaskID        string    `json:"task_id"`
	OwnerID       uint      `json:"owner_id"`
	DocumentID    uint      `json:"document_id,omitempty"`
	FileName      string    `json:"file_name"`
	State         State     `json:"state"`
	Progress      int       `json:"progress"`
	FailedStage   string    `json:"failed_stage,omitempty"`
	Error         string    `json:"error,omitempty"`
	Committed     Committed `json:"committed"`
	EntitySummary []string  `json:"entity_summary,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	FinishedAt    time.Time `json:"finished_at,omitempty"`
}

func NewStatusStore(ephemeral EphemeralStore, terminalTTL time.Duration) *StatusStore {
	if terminalTTL <= 0 {
		terminalTTL = 24 * time.Hour
	}
	return &StatusStore{ephemeral: ephemeral, terminalTTL: terminalTTL}
}

func (s *StatusStore) Save(ctx context.Context, task *Task) error {
	status := Status{
		TaskID:        task.ID,
		OwnerID:       task.OwnerID,
		DocumentID:    task.DocumentID,
		FileName:      task.FileName,
		State:         task.State,
		Progress:      task.Progress,
		FailedStage:   task.FailedStage,
		Error:         task.Error,
		Committed:     task.Committed,
		EntitySummary: task.EntitySummary(),
		CreatedAt:     task.CreatedAt,
		UpdatedAt:     task.UpdatedAt,
		FinishedAt:    task.FinishedAt,
	}
	payload, err := json.Marshal(status)
	if err != nil {
		return fmt.Errorf("marshal task status failed: %w", err)
	}

	ttl := time.Duration(0)
	if task.State.Terminal() {
		ttl = s.terminalTTL
	}
	if err := s.ephemeral.EphemeralSet(ctx, s.key(task.ID), string(payload), ttl); err != nil {
		return fmt.Errorf("save task status failed: %w", err)
	}
	return nil
}

// Get returns nil when no record exists (expired or unknown id).
func (s *StatusStore) Get(ctx context.Context, taskID string) (*Status, error) {
	raw, found, err := s.ephemeral.EphemeralGet(ctx, s.key(taskID))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	var status Status
	if err := json.Unmarshal([]byte(raw), &status); err != nil {
		return nil, fmt.Errorf("unmarshal task status failed: %w", err)
	}
	return &status, nil
}

func (s *StatusStore) key(taskID string) string {
	return "ingest:task:" + taskID
}
