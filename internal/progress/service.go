// -----------------------------------------------------------------------
// Progress - per-stage progress samples and the job completion ratio
// -----------------------------------------------------------------------

package progress

import (
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/models"
	"github.com/ternarybob/fetchd/internal/registry"
)

// Service holds the progress sample table, keyed by the derived internal
// ID (at most one sample per key, last write wins), and projects the
// samples of a job into a single 0..1 completion ratio.
type Service struct {
	mu       sync.Mutex
	samples  map[string]*models.ProgressSample
	registry *registry.Registry
	logger   arbor.ILogger
}

// NewService creates an empty progress table bound to the task registry
func NewService(reg *registry.Registry, logger arbor.ILogger) *Service {
	return &Service{
		samples:  make(map[string]*models.ProgressSample),
		registry: reg,
		logger:   logger,
	}
}

// Ingest upserts a sample under its internal ID. Samples are never
// rejected for missing metrics; the aggregator's fallback chain tolerates
// partial reports. As a side effect the owning job's stage task is driven
// to running, or to completed for a final sample - a no-op when the stage
// task has already been dequeued.
func (s *Service) Ingest(sample *models.ProgressSample) {
	if sample == nil || sample.DownloadID == "" {
		return
	}

	stored := *sample

	s.mu.Lock()
	mergeKey := models.StageTaskID(sample.DownloadID, models.StageMerge)
	_, mergeExists := s.samples[mergeKey]
	internalID := sample.InternalID(mergeExists)
	s.samples[internalID] = &stored
	s.mu.Unlock()

	switch sample.Stage {
	case models.StageAudio, models.StageVideo, models.StageMerge:
		if sample.IsComplete {
			s.registry.UpdateStatus(internalID, models.TaskStatusCompleted, "")
		} else {
			s.registry.UpdateStatus(internalID, models.TaskStatusRunning, "")
		}
	case models.StageComplete:
		// A completion sample lands on the merge slot when one exists, so
		// this drives the merge stage task to completed.
		s.registry.UpdateStatus(internalID, models.TaskStatusCompleted, "")
	}
}

// ClearAll empties the progress table
func (s *Service) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples = make(map[string]*models.ProgressSample)
}

// ParentProgress computes the completion ratio for a job from all samples
// belonging to it, via strict fallback:
//
//  1. byte-weighted: sum(downloaded)/sum(filesize) over samples reporting
//     a filesize, so a large stream dominates a small one
//  2. mean of reported percentages / 100
//  3. mean of fixed stage weights, before any real measurement exists
//  4. zero
//
// The result is always clamped to [0,1].
func (s *Service) ParentProgress(parentID string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	var sizeSum, downloadedSum float64
	var pctSum float64
	pctCount := 0
	var stageSum float64
	stageCount := 0

	for _, sample := range s.samples {
		if sample.ParentID() != parentID {
			continue
		}

		if sample.Filesize > 0 {
			sizeSum += sample.Filesize
			downloadedSum += sample.Downloaded
		}
		if sample.Percentage > 0 {
			pctSum += sample.Percentage
			pctCount++
		}
		if sample.Stage != "" {
			stageSum += models.StageWeights[sample.Stage]
			stageCount++
		}
	}

	var ratio float64
	switch {
	case sizeSum > 0:
		ratio = downloadedSum / sizeSum
	case pctCount > 0:
		ratio = (pctSum / float64(pctCount)) / 100
	case stageCount > 0:
		ratio = stageSum / float64(stageCount)
	}

	return clamp01(ratio)
}

// Samples returns copies of all samples belonging to a job, ordered by key
func (s *Service) Samples(parentID string) []*models.ProgressSample {
	s.mu.Lock()
	defer s.mu.Unlock()

	type keyed struct {
		key    string
		sample models.ProgressSample
	}
	entries := make([]keyed, 0)
	for key, sample := range s.samples {
		if sample.ParentID() == parentID {
			entries = append(entries, keyed{key: key, sample: *sample})
		}
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].key < entries[j].key
	})

	result := make([]*models.ProgressSample, 0, len(entries))
	for i := range entries {
		result = append(result, &entries[i].sample)
	}
	return result
}

// Sample returns the sample stored under the given internal ID
func (s *Service) Sample(internalID string) (*models.ProgressSample, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sample, exists := s.samples[internalID]
	if !exists {
		return nil, false
	}
	copied := *sample
	return &copied, true
}

// Count returns the number of stored samples
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.samples)
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
