package interfaces

import (
	"context"

	"github.com/ternarybob/fetchd/internal/models"
)

// HistoryStorage - interface for download history persistence
type HistoryStorage interface {
	// Entry operations
	StoreEntry(ctx context.Context, entry *models.HistoryEntry) error
	GetEntry(ctx context.Context, id string) (*models.HistoryEntry, error)
	ListEntries(ctx context.Context, opts *HistoryListOptions) ([]*models.HistoryEntry, error)
	DeleteEntry(ctx context.Context, id string) error
	CountEntries(ctx context.Context) (int, error)

	// Bulk operations
	DeleteOlderThan(ctx context.Context, days int) (int, error)
	ClearAll(ctx context.Context) error
}

// HistoryListOptions controls history queries
type HistoryListOptions struct {
	Limit  int
	Offset int
}
