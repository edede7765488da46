package badger

import (
	"context"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/interfaces"
	"github.com/ternarybob/fetchd/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// HistoryStorage implements the HistoryStorage interface for Badger
type HistoryStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewHistoryStorage creates a new HistoryStorage instance
func NewHistoryStorage(db *BadgerDB, logger arbor.ILogger) interfaces.HistoryStorage {
	return &HistoryStorage{
		db:     db,
		logger: logger,
	}
}

func (s *HistoryStorage) StoreEntry(ctx context.Context, entry *models.HistoryEntry) error {
	if entry.ID == "" {
		return fmt.Errorf("history entry ID is required")
	}
	if entry.FinishedAt.IsZero() {
		entry.FinishedAt = time.Now()
	}

	if err := s.db.Store().Upsert(entry.ID, entry); err != nil {
		return fmt.Errorf("failed to store history entry: %w", err)
	}
	return nil
}

func (s *HistoryStorage) GetEntry(ctx context.Context, id string) (*models.HistoryEntry, error) {
	var entry models.HistoryEntry
	if err := s.db.Store().Get(id, &entry); err != nil {
		if err == badgerhold.ErrNotFound {
			return nil, fmt.Errorf("history entry not found: %s", id)
		}
		return nil, fmt.Errorf("failed to get history entry: %w", err)
	}
	return &entry, nil
}

// ListEntries returns history entries newest first
func (s *HistoryStorage) ListEntries(ctx context.Context, opts *interfaces.HistoryListOptions) ([]*models.HistoryEntry, error) {
	query := badgerhold.Where("ID").Ne("").SortBy("FinishedAt").Reverse()

	if opts != nil {
		if opts.Limit > 0 {
			query = query.Limit(opts.Limit)
		}
		if opts.Offset > 0 {
			query = query.Skip(opts.Offset)
		}
	}

	var entries []models.HistoryEntry
	if err := s.db.Store().Find(&entries, query); err != nil {
		return nil, fmt.Errorf("failed to list history entries: %w", err)
	}

	result := make([]*models.HistoryEntry, len(entries))
	for i := range entries {
		result[i] = &entries[i]
	}
	return result, nil
}

func (s *HistoryStorage) DeleteEntry(ctx context.Context, id string) error {
	if err := s.db.Store().Delete(id, &models.HistoryEntry{}); err != nil {
		if err == badgerhold.ErrNotFound {
			return fmt.Errorf("history entry not found: %s", id)
		}
		return fmt.Errorf("failed to delete history entry: %w", err)
	}
	return nil
}

func (s *HistoryStorage) CountEntries(ctx context.Context) (int, error) {
	count, err := s.db.Store().Count(&models.HistoryEntry{}, badgerhold.Where("ID").Ne(""))
	if err != nil {
		return 0, fmt.Errorf("failed to count history entries: %w", err)
	}
	return int(count), nil
}

// DeleteOlderThan removes entries that finished more than the given number
// of days ago and returns how many were removed.
func (s *HistoryStorage) DeleteOlderThan(ctx context.Context, days int) (int, error) {
	if days <= 0 {
		return 0, nil
	}

	cutoff := time.Now().AddDate(0, 0, -days)
	query := badgerhold.Where("FinishedAt").Lt(cutoff)

	count, err := s.db.Store().Count(&models.HistoryEntry{}, query)
	if err != nil {
		return 0, fmt.Errorf("failed to count expired history entries: %w", err)
	}
	if count == 0 {
		return 0, nil
	}

	if err := s.db.Store().DeleteMatching(&models.HistoryEntry{}, query); err != nil {
		return 0, fmt.Errorf("failed to delete expired history entries: %w", err)
	}

	s.logger.Debug().
		Int("deleted", int(count)).
		Str("cutoff", cutoff.Format(time.RFC3339)).
		Msg("Expired history entries removed")

	return int(count), nil
}

func (s *HistoryStorage) ClearAll(ctx context.Context) error {
	if err := s.db.Store().DeleteMatching(&models.HistoryEntry{}, badgerhold.Where("ID").Ne("")); err != nil {
		return fmt.Errorf("failed to clear history: %w", err)
	}
	return nil
}
