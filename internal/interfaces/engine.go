package interfaces

import "context"

// DownloadRequest describes one download job handed to the engine.
type DownloadRequest struct {
	ID         string   // registry job ID, also the engine's download ID
	URL        string   // source URL
	OutputPath string   // target file path
	Args       []string // extra downloader arguments (from preset resolution)
}

// DownloadEngine is the external fetch/merge execution collaborator.
// The orchestration core only ever issues cancellations against it; the
// authoritative terminal status for a job always arrives asynchronously
// through the event bus (progress, completion, cancellation-confirmed).
type DownloadEngine interface {
	// Start begins executing a download job. Progress and completion are
	// reported via events, never through the return value.
	Start(ctx context.Context, req DownloadRequest) error

	// CancelOne requests cancellation of a single download.
	// Returns false if the engine has no such download in flight.
	CancelOne(ctx context.Context, id string) bool

	// CancelAll cancels every in-flight download and returns the count stopped.
	CancelAll(ctx context.Context) int
}
