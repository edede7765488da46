// -----------------------------------------------------------------------
// Task - in-memory node for one download job or one of its stage tasks
// -----------------------------------------------------------------------

package models

import (
	"time"
)

// TaskStatus represents the state of a download task
type TaskStatus string

const (
	TaskStatusPending    TaskStatus = "pending"
	TaskStatusRunning    TaskStatus = "running"
	TaskStatusCancelling TaskStatus = "cancelling"
	TaskStatusCancelled  TaskStatus = "cancelled"
	TaskStatusCompleted  TaskStatus = "completed"
	TaskStatusFailed     TaskStatus = "failed"
)

// IsTerminal returns true for statuses that no transition leaves
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Task represents one node in the download registry: a job (ParentID nil)
// or a stage task belonging to a job (ParentID set).
//
// Status is authoritative only while the node has no children. Once stage
// children exist, the parent's status is always derived from them by the
// registry's aggregation pass and must never be written directly.
type Task struct {
	ID       string     `json:"id"`
	ParentID *string    `json:"parent_id,omitempty"`
	Status   TaskStatus `json:"status"`
	Error    string     `json:"error,omitempty"`

	// Opaque metadata, carried for the UI and history
	URL        string `json:"url,omitempty"`
	Title      string `json:"title,omitempty"`
	Filename   string `json:"filename,omitempty"`
	OutputPath string `json:"output_path,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// NewTask creates a new root job task
func NewTask(id string) *Task {
	return &Task{
		ID:        id,
		Status:    TaskStatusPending,
		CreatedAt: time.Now(),
	}
}

// NewStageTask creates a stage child for a job
func NewStageTask(id, parentID string) *Task {
	return &Task{
		ID:        id,
		ParentID:  &parentID,
		Status:    TaskStatusPending,
		CreatedAt: time.Now(),
	}
}

// IsChild returns true if this task belongs to a parent job
func (t *Task) IsChild() bool {
	return t.ParentID != nil
}

// GetParentID returns the parent ID or empty string for root jobs
func (t *Task) GetParentID() string {
	if t.ParentID == nil {
		return ""
	}
	return *t.ParentID
}

// IsTerminal returns true if the task is in a terminal state
func (t *Task) IsTerminal() bool {
	return t.Status.IsTerminal()
}

// Clone returns a copy of the task (registry reads hand out copies so
// callers can never mutate registry state directly)
func (t *Task) Clone() *Task {
	clone := *t
	if t.ParentID != nil {
		parentID := *t.ParentID
		clone.ParentID = &parentID
	}
	return &clone
}

// DeriveStatus computes a parent's status from its children's statuses by
// strict precedence: failed > cancelling > running > completed (requires
// unanimity) > cancelled > pending. A failure anywhere dominates; an
// in-flight cancel masks a stray late running report; full completion
// requires every child to have finished.
func DeriveStatus(children []TaskStatus) TaskStatus {
	if len(children) == 0 {
		return TaskStatusPending
	}

	completed := 0
	anyCancelling := false
	anyRunning := false
	anyCancelled := false

	for _, status := range children {
		switch status {
		case TaskStatusFailed:
			return TaskStatusFailed
		case TaskStatusCancelling:
			anyCancelling = true
		case TaskStatusRunning:
			anyRunning = true
		case TaskStatusCancelled:
			anyCancelled = true
		case TaskStatusCompleted:
			completed++
		}
	}

	switch {
	case anyCancelling:
		return TaskStatusCancelling
	case anyRunning:
		return TaskStatusRunning
	case completed == len(children):
		return TaskStatusCompleted
	case anyCancelled:
		return TaskStatusCancelled
	default:
		return TaskStatusPending
	}
}
