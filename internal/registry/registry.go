// -----------------------------------------------------------------------
// Registry - single source of truth for in-flight download task state
// -----------------------------------------------------------------------

package registry

import (
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/models"
)

// Registry is the in-memory table of task nodes: download jobs and their
// stage children, keyed by ID with an explicit ParentID foreign key.
//
// Every mutation entry point runs to completion under one mutex and ends
// with an aggregation pass, so readers always observe parent statuses
// consistent with their children regardless of the order asynchronous
// events arrive in. No caller mutates task fields directly; reads hand
// out clones.
type Registry struct {
	mu     sync.Mutex
	tasks  map[string]*models.Task
	logger arbor.ILogger
}

// New creates an empty registry
func New(logger arbor.ILogger) *Registry {
	return &Registry{
		tasks:  make(map[string]*models.Task),
		logger: logger,
	}
}

// Enqueue inserts a task keyed by ID. Idempotent: an existing ID is left
// untouched. A stage child whose parent job is not yet registered creates
// the parent implicitly, so callers may enqueue children in any order.
func (r *Registry) Enqueue(task *models.Task) {
	if task == nil || task.ID == "" {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[task.ID]; exists {
		return
	}

	insert := task.Clone()
	if insert.Status == "" {
		insert.Status = models.TaskStatusPending
	}
	r.tasks[insert.ID] = insert

	if parentID := insert.GetParentID(); parentID != "" {
		if _, ok := r.tasks[parentID]; !ok {
			r.tasks[parentID] = models.NewTask(parentID)
		}
	}

	r.aggregate()
}

// Dequeue removes the task and every stage child referencing it.
// An absent ID is a silent no-op.
func (r *Registry) Dequeue(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tasks[id]; !exists {
		return
	}

	delete(r.tasks, id)
	for childID, task := range r.tasks {
		if task.GetParentID() == id {
			delete(r.tasks, childID)
		}
	}

	r.aggregate()
}

// UpdateStatus sets status and error message on the target node, then
// re-aggregates. Late events for tasks already dequeued are tolerated as
// silent no-ops; if the target has children its own write is immediately
// superseded by the derived status.
func (r *Registry) UpdateStatus(id string, status models.TaskStatus, errorMsg string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[id]
	if !exists {
		r.logger.Debug().
			Str("task_id", id).
			Str("status", string(status)).
			Msg("Status update for unknown task ignored")
		return
	}

	task.Status = status
	if errorMsg != "" {
		task.Error = errorMsg
	}

	r.aggregate()
}

// UpdateFields merges opaque metadata onto a task. Status is never
// touched here.
func (r *Registry) UpdateFields(id string, fields models.Task) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[id]
	if !exists {
		return
	}

	if fields.URL != "" {
		task.URL = fields.URL
	}
	if fields.Title != "" {
		task.Title = fields.Title
	}
	if fields.Filename != "" {
		task.Filename = fields.Filename
	}
	if fields.OutputPath != "" {
		task.OutputPath = fields.OutputPath
	}

	r.aggregate()
}

// ClearAll empties the registry
func (r *Registry) ClearAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.tasks = make(map[string]*models.Task)
}

// aggregate is the pure derivation pass re-run after every mutation.
// Caller must hold r.mu.
//
// For every job node: a job with stage children takes the status derived
// from them by strict precedence; a job with zero children is removed,
// unless it is cancelling - a cancel-in-flight job survives the gap
// between its last child being dequeued and a resubmission enqueueing
// new ones.
func (r *Registry) aggregate() {
	childStatuses := make(map[string][]models.TaskStatus)
	for _, task := range r.tasks {
		if parentID := task.GetParentID(); parentID != "" {
			childStatuses[parentID] = append(childStatuses[parentID], task.Status)
		}
	}

	for id, task := range r.tasks {
		if task.IsChild() {
			continue
		}

		statuses, hasChildren := childStatuses[id]
		if !hasChildren {
			if task.Status != models.TaskStatusCancelling {
				delete(r.tasks, id)
			}
			continue
		}

		task.Status = models.DeriveStatus(statuses)
	}
}

// Get returns a copy of the task with the given ID
func (r *Registry) Get(id string) (*models.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	task, exists := r.tasks[id]
	if !exists {
		return nil, false
	}
	return task.Clone(), true
}

// Jobs returns copies of all root job tasks, newest first
func (r *Registry) Jobs() []*models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	jobs := make([]*models.Task, 0)
	for _, task := range r.tasks {
		if !task.IsChild() {
			jobs = append(jobs, task.Clone())
		}
	}
	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// Children returns copies of the stage children of a job
func (r *Registry) Children(parentID string) []*models.Task {
	r.mu.Lock()
	defer r.mu.Unlock()

	children := make([]*models.Task, 0)
	for _, task := range r.tasks {
		if task.GetParentID() == parentID {
			children = append(children, task.Clone())
		}
	}
	sort.Slice(children, func(i, j int) bool {
		return children[i].ID < children[j].ID
	})
	return children
}

// Count returns the number of registered tasks
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.tasks)
}
