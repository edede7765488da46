package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/models"
)

func newTestRegistry() *Registry {
	return New(arbor.NewLogger())
}

func enqueueStages(reg *Registry, jobID string, stages ...models.Stage) {
	for _, stage := range stages {
		reg.Enqueue(models.NewStageTask(models.StageTaskID(jobID, stage), jobID))
	}
}

func TestEnqueueIdempotent(t *testing.T) {
	reg := newTestRegistry()

	task := models.NewStageTask("dl_1:audio", "dl_1")
	task.Title = "first"
	reg.Enqueue(task)
	countAfterFirst := reg.Count()

	dup := models.NewStageTask("dl_1:audio", "dl_1")
	dup.Title = "second"
	reg.Enqueue(dup)

	assert.Equal(t, countAfterFirst, reg.Count())
	stored, ok := reg.Get("dl_1:audio")
	require.True(t, ok)
	assert.Equal(t, "first", stored.Title, "second enqueue must not overwrite the first")
}

func TestEnqueueCreatesImplicitParent(t *testing.T) {
	reg := newTestRegistry()

	enqueueStages(reg, "dl_1", models.StageAudio)

	parent, ok := reg.Get("dl_1")
	require.True(t, ok, "enqueueing a stage child must register its parent job")
	assert.Equal(t, models.TaskStatusPending, parent.Status)
}

// Parent status follows children through the whole lifecycle: pending
// until a stage starts, running while any stage runs, completed only
// when every stage completed.
func TestParentStatusLifecycle(t *testing.T) {
	reg := newTestRegistry()
	enqueueStages(reg, "dl_1", models.StageAudio, models.StageVideo)

	parent, _ := reg.Get("dl_1")
	assert.Equal(t, models.TaskStatusPending, parent.Status)

	reg.UpdateStatus("dl_1:audio", models.TaskStatusRunning, "")
	parent, _ = reg.Get("dl_1")
	assert.Equal(t, models.TaskStatusRunning, parent.Status)

	reg.UpdateStatus("dl_1:audio", models.TaskStatusCompleted, "")
	reg.UpdateStatus("dl_1:video", models.TaskStatusCompleted, "")
	parent, _ = reg.Get("dl_1")
	assert.Equal(t, models.TaskStatusCompleted, parent.Status)
}

func TestErrorDominance(t *testing.T) {
	reg := newTestRegistry()
	enqueueStages(reg, "dl_1", models.StageAudio, models.StageVideo, models.StageMerge)

	reg.UpdateStatus("dl_1:audio", models.TaskStatusCompleted, "")
	reg.UpdateStatus("dl_1:video", models.TaskStatusFailed, "network reset")
	reg.UpdateStatus("dl_1:merge", models.TaskStatusRunning, "")

	parent, ok := reg.Get("dl_1")
	require.True(t, ok)
	assert.Equal(t, models.TaskStatusFailed, parent.Status,
		"any failed child must dominate the parent status")
}

func TestCompletionRequiresUnanimity(t *testing.T) {
	reg := newTestRegistry()
	enqueueStages(reg, "dl_1", models.StageAudio, models.StageVideo)

	reg.UpdateStatus("dl_1:audio", models.TaskStatusCompleted, "")

	parent, _ := reg.Get("dl_1")
	assert.NotEqual(t, models.TaskStatusCompleted, parent.Status)

	reg.UpdateStatus("dl_1:video", models.TaskStatusCompleted, "")
	parent, _ = reg.Get("dl_1")
	assert.Equal(t, models.TaskStatusCompleted, parent.Status)
}

func TestGarbageCollectionOnLastChildRemoved(t *testing.T) {
	reg := newTestRegistry()
	enqueueStages(reg, "dl_1", models.StageAudio, models.StageVideo)

	reg.Dequeue("dl_1:audio")
	_, ok := reg.Get("dl_1")
	assert.True(t, ok, "parent survives while a child remains")

	reg.Dequeue("dl_1:video")
	_, ok = reg.Get("dl_1")
	assert.False(t, ok, "removing the last child removes a non-cancelling parent")
}

func TestCancellingParentSurvivesChildlessGap(t *testing.T) {
	reg := newTestRegistry()
	enqueueStages(reg, "dl_1", models.StageAudio)

	reg.UpdateStatus("dl_1:audio", models.TaskStatusCancelling, "")
	reg.Dequeue("dl_1:audio")

	parent, ok := reg.Get("dl_1")
	require.True(t, ok, "cancelling parent must survive the gap before resubmission")
	assert.Equal(t, models.TaskStatusCancelling, parent.Status)

	// Resubmission attaches fresh children and the parent rejoins the
	// derived lifecycle
	enqueueStages(reg, "dl_1", models.StageAudio, models.StageVideo)
	parent, _ = reg.Get("dl_1")
	assert.Equal(t, models.TaskStatusPending, parent.Status)
}

func TestDequeueCascadesToChildren(t *testing.T) {
	reg := newTestRegistry()
	enqueueStages(reg, "dl_1", models.StageAudio, models.StageVideo, models.StageMerge)
	enqueueStages(reg, "dl_2", models.StageVideo)

	reg.Dequeue("dl_1")

	assert.Equal(t, 2, reg.Count(), "only dl_2 and its child should remain")
	_, ok := reg.Get("dl_1:audio")
	assert.False(t, ok)
	_, ok = reg.Get("dl_2:video")
	assert.True(t, ok)
}

func TestDequeueAbsentIsNoOp(t *testing.T) {
	reg := newTestRegistry()
	enqueueStages(reg, "dl_1", models.StageAudio)

	before := reg.Count()
	reg.Dequeue("ghost")
	assert.Equal(t, before, reg.Count())
}

func TestUpdateStatusUnknownTaskIgnored(t *testing.T) {
	reg := newTestRegistry()
	enqueueStages(reg, "dl_1", models.StageAudio)

	before := reg.Count()
	reg.UpdateStatus("ghost", models.TaskStatusRunning, "")
	assert.Equal(t, before, reg.Count())
}

func TestUpdateFieldsMergesMetadataOnly(t *testing.T) {
	reg := newTestRegistry()
	enqueueStages(reg, "dl_1", models.StageAudio)
	reg.UpdateStatus("dl_1:audio", models.TaskStatusRunning, "")

	reg.UpdateFields("dl_1", models.Task{
		Title:      "My Video",
		Filename:   "my-video.mp4",
		OutputPath: "/downloads/my-video.mp4",
	})

	parent, ok := reg.Get("dl_1")
	require.True(t, ok)
	assert.Equal(t, "My Video", parent.Title)
	assert.Equal(t, "my-video.mp4", parent.Filename)
	assert.Equal(t, models.TaskStatusRunning, parent.Status,
		"UpdateFields must never change status")
}

func TestClearAll(t *testing.T) {
	reg := newTestRegistry()
	enqueueStages(reg, "dl_1", models.StageAudio, models.StageVideo)
	enqueueStages(reg, "dl_2", models.StageVideo)

	reg.ClearAll()
	assert.Equal(t, 0, reg.Count())
	assert.Empty(t, reg.Jobs())
}

func TestJobsExcludesChildren(t *testing.T) {
	reg := newTestRegistry()
	enqueueStages(reg, "dl_1", models.StageAudio, models.StageVideo)
	enqueueStages(reg, "dl_2", models.StageVideo)

	jobs := reg.Jobs()
	require.Len(t, jobs, 2)
	for _, job := range jobs {
		assert.False(t, job.IsChild())
	}
}

func TestChildrenSelector(t *testing.T) {
	reg := newTestRegistry()
	enqueueStages(reg, "dl_1", models.StageVideo, models.StageAudio)

	children := reg.Children("dl_1")
	require.Len(t, children, 2)
	assert.Equal(t, "dl_1:audio", children[0].ID)
	assert.Equal(t, "dl_1:video", children[1].ID)
}

// A terminal child status is stable: re-applying either of two racing
// terminal transitions in any order converges on the same result.
func TestTerminalStatusRaceInvariance(t *testing.T) {
	apply := func(reg *Registry, order []models.TaskStatus) models.TaskStatus {
		for _, status := range order {
			reg.UpdateStatus("dl_1:video", status, "")
		}
		child, ok := reg.Get("dl_1:video")
		require.True(t, ok)
		return child.Status
	}

	regA := newTestRegistry()
	enqueueStages(regA, "dl_1", models.StageVideo)
	finalA := apply(regA, []models.TaskStatus{models.TaskStatusCompleted, models.TaskStatusCompleted})

	regB := newTestRegistry()
	enqueueStages(regB, "dl_1", models.StageVideo)
	finalB := apply(regB, []models.TaskStatus{models.TaskStatusCompleted})

	assert.Equal(t, finalA, finalB, "re-applying a terminal transition must be a no-op")
}
