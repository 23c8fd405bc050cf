package tasks

import (
	"time"

	"github.com/dvloznov/statement-analyzer/internal/domain"
)

// Status represents the lifecycle state of a task. The string values are
// part of the wire contract with polling clients.
type Status string

const (
	// StatusQueued indicates the task is waiting to be processed.
	StatusQueued Status = "queued"
	// StatusInProgress indicates the pipeline is running the task.
	StatusInProgress Status = "in_progress"
	// StatusDone indicates the task completed and carries a result.
	StatusDone Status = "done"
	// StatusFailed indicates the task failed and carries an error summary.
	StatusFailed Status = "failed"
)

// Terminal reports whether no further transitions are permitted from s.
func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusFailed
}

// Task is one end-to-end processing run for a single submitted statement.
// The store owns the only copy of truth; callers always receive copies.
type Task struct {
	ID        string                 `json:"task_id"`
	Status    Status                 `json:"status"`
	Message   string                 `json:"message,omitempty"`
	Error     string                 `json:"error,omitempty"`
	Result    *domain.AnalysisResult `json:"result,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
	ExpiresAt time.Time              `json:"expires_at"`
}
