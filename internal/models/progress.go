// -----------------------------------------------------------------------
// Progress Sample - one reported measurement for a job or one of its stages
// -----------------------------------------------------------------------

package models

// Stage identifies which phase of a download a progress sample belongs to
type Stage string

const (
	StageAudio    Stage = "audio"
	StageVideo    Stage = "video"
	StageMerge    Stage = "merge"
	StageComplete Stage = "complete"
)

// StageWeights are the fixed completion weights used by the progress
// aggregator before any real measurement exists for a job.
var StageWeights = map[Stage]float64{
	StageAudio: 0.33,
	StageVideo: 0.33,
	StageMerge: 0.34,
}

// ProgressSample is one progress report for a download or one of its
// stages. Metrics are best-effort: different stages begin reporting at
// different granularities at different times, so any numeric field may be
// zero. Samples are never rejected for missing metrics; the aggregator's
// fallback chain absorbs them.
type ProgressSample struct {
	DownloadID   string  `json:"download_id"`
	Stage        Stage   `json:"stage,omitempty"`
	Filesize     float64 `json:"filesize"`
	Downloaded   float64 `json:"downloaded"`
	TransferRate float64 `json:"transfer_rate"`
	Percentage   float64 `json:"percentage"`
	ElapsedTime  float64 `json:"elapsed_time"`
	DeltaTime    float64 `json:"delta_time"`
	IsComplete   bool    `json:"is_complete"`
}

// StageTaskID returns the registry node ID for a staged sample:
// "<downloadID>:<stage>". Samples without a stage address the job itself.
func StageTaskID(downloadID string, stage Stage) string {
	if stage == "" {
		return downloadID
	}
	return downloadID + ":" + string(stage)
}

// InternalID computes the composite key a sample is stored under.
// mergeExists reports whether a "<downloadID>:merge" entry is already
// present: a complete-staged sample reuses that key so completion
// overwrites the merge slot instead of creating a sibling entry.
func (p *ProgressSample) InternalID(mergeExists bool) string {
	if p.Stage == StageComplete && mergeExists {
		return StageTaskID(p.DownloadID, StageMerge)
	}
	return StageTaskID(p.DownloadID, p.Stage)
}

// ParentID returns the owning job's ID
func (p *ProgressSample) ParentID() string {
	return p.DownloadID
}
