package models

import "time"

// HistoryEntry records one finished download for the history page
type HistoryEntry struct {
	ID         string    `json:"id" badgerhold:"key"`
	DownloadID string    `json:"download_id"`
	URL        string    `json:"url"`
	Title      string    `json:"title,omitempty"`
	Filename   string    `json:"filename,omitempty"`
	OutputPath string    `json:"output_path,omitempty"`
	Status     string    `json:"status"`
	FinishedAt time.Time `json:"finished_at"`
}
