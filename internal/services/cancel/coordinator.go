// -----------------------------------------------------------------------
// Cancellation Coordinator - optimistic-then-confirmed cancellation
// -----------------------------------------------------------------------

package cancel

import (
	"context"
	"errors"
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/interfaces"
	"github.com/ternarybob/fetchd/internal/models"
	"github.com/ternarybob/fetchd/internal/registry"
)

var (
	// ErrNotFound - a single-target cancel named an absent job
	ErrNotFound = errors.New("download not found")

	// ErrNotCancellable - the target is already in a terminal state
	ErrNotCancellable = errors.New("download not cancellable")
)

// Coordinator issues cancellation against the external engine. The state
// transition to cancelling happens synchronously, before the engine is
// invoked, so readers reflect the cancellation intent immediately; the
// authoritative terminal status arrives later via the event bridge.
type Coordinator struct {
	registry *registry.Registry
	engine   interfaces.DownloadEngine
	logger   arbor.ILogger
}

// NewCoordinator creates a cancellation coordinator
func NewCoordinator(reg *registry.Registry, engine interfaces.DownloadEngine, logger arbor.ILogger) *Coordinator {
	return &Coordinator{
		registry: reg,
		engine:   engine,
		logger:   logger,
	}
}

// CancelOne cancels a single download job.
//
// Absent IDs fail with ErrNotFound and terminal jobs with
// ErrNotCancellable; a job already cancelling is a tolerated re-entrant
// no-op. Otherwise the job and its stage children are marked cancelling
// before the engine call, so the transition is visible even while the
// engine is still stopping the download. An engine "not found" answer is
// logged and swallowed: the job may have completed between the optimistic
// transition and the backend call, and its terminal status is still
// expected through the event bridge.
func (c *Coordinator) CancelOne(ctx context.Context, id string) error {
	task, exists := c.registry.Get(id)
	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if task.IsTerminal() {
		return fmt.Errorf("%w: %s is %s", ErrNotCancellable, id, task.Status)
	}

	if task.Status == models.TaskStatusCancelling {
		c.logger.Debug().Str("download_id", id).Msg("Cancel requested for already-cancelling download")
		return nil
	}

	c.markCancelling(task)

	if found := c.engine.CancelOne(ctx, id); !found {
		// Not surfaced: the download may have finished after the optimistic
		// transition, and the bridge will deliver the terminal status.
		c.logger.Warn().
			Str("download_id", id).
			Msg("Engine reported no such download on cancel")
	}

	return nil
}

// CancelAll cancels every pending or running download job. All eligible
// jobs are marked cancelling synchronously, the engine's bulk primitive
// is invoked once, and the count of jobs targeted is returned -
// confirmations arrive per job, asynchronously. An empty eligible set is
// a zero-count success.
func (c *Coordinator) CancelAll(ctx context.Context) int {
	eligible := make([]*models.Task, 0)
	for _, job := range c.registry.Jobs() {
		if job.Status == models.TaskStatusPending || job.Status == models.TaskStatusRunning {
			eligible = append(eligible, job)
		}
	}

	if len(eligible) == 0 {
		return 0
	}

	for _, job := range eligible {
		c.markCancelling(job)
	}

	stopped := c.engine.CancelAll(ctx)

	c.logger.Info().
		Int("targeted", len(eligible)).
		Int("engine_stopped", stopped).
		Msg("Bulk cancellation issued")

	return len(eligible)
}

// markCancelling transitions a job and its non-terminal stage children to
// cancelling. Children carry the transition: the parent's own status is
// derived from them, and the cancelling precedence masks any stray late
// running report.
func (c *Coordinator) markCancelling(job *models.Task) {
	children := c.registry.Children(job.ID)
	if len(children) == 0 {
		c.registry.UpdateStatus(job.ID, models.TaskStatusCancelling, "")
		return
	}

	for _, child := range children {
		if !child.IsTerminal() {
			c.registry.UpdateStatus(child.ID, models.TaskStatusCancelling, "")
		}
	}
}
