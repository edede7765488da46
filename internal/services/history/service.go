// -----------------------------------------------------------------------
// History Service - download history queries and retention cleanup
// -----------------------------------------------------------------------

package history

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/common"
	"github.com/ternarybob/fetchd/internal/interfaces"
	"github.com/ternarybob/fetchd/internal/models"
)

// Service fronts the history store for the API handlers and runs the
// scheduled retention cleanup. Writes arrive through the event bridge;
// this service only reads, deletes, and prunes.
type Service struct {
	storage interfaces.HistoryStorage
	config  *common.HistoryConfig
	cron    *cron.Cron
	logger  arbor.ILogger

	mu      sync.Mutex
	running bool
}

// NewService creates a history service
func NewService(storage interfaces.HistoryStorage, config *common.HistoryConfig, logger arbor.ILogger) *Service {
	return &Service{
		storage: storage,
		config:  config,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start schedules the retention cleanup. A zero retention or empty
// schedule disables it.
func (s *Service) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("history service already running")
	}

	if s.config.RetentionDays <= 0 || s.config.CleanupSchedule == "" {
		s.logger.Info().Msg("History retention cleanup disabled")
		s.running = true
		return nil
	}

	if _, err := s.cron.AddFunc(s.config.CleanupSchedule, s.runCleanup); err != nil {
		return fmt.Errorf("failed to schedule history cleanup: %w", err)
	}

	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("schedule", s.config.CleanupSchedule).
		Int("retention_days", s.config.RetentionDays).
		Msg("History retention cleanup scheduled")

	return nil
}

// Stop halts the cleanup scheduler
func (s *Service) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return
	}

	ctx := s.cron.Stop()
	<-ctx.Done()
	s.running = false
}

func (s *Service) runCleanup() {
	deleted, err := s.storage.DeleteOlderThan(context.Background(), s.config.RetentionDays)
	if err != nil {
		s.logger.Error().Err(err).Msg("History retention cleanup failed")
		return
	}

	if deleted > 0 {
		s.logger.Info().
			Int("deleted", deleted).
			Int("retention_days", s.config.RetentionDays).
			Msg("History retention cleanup completed")
	}
}

// List returns history entries newest first
func (s *Service) List(ctx context.Context, limit, offset int) ([]*models.HistoryEntry, error) {
	return s.storage.ListEntries(ctx, &interfaces.HistoryListOptions{
		Limit:  limit,
		Offset: offset,
	})
}

// Get returns a single history entry
func (s *Service) Get(ctx context.Context, id string) (*models.HistoryEntry, error) {
	return s.storage.GetEntry(ctx, id)
}

// Delete removes a single history entry
func (s *Service) Delete(ctx context.Context, id string) error {
	return s.storage.DeleteEntry(ctx, id)
}

// Count returns the number of stored entries
func (s *Service) Count(ctx context.Context) (int, error) {
	return s.storage.CountEntries(ctx)
}

// ClearAll removes every history entry
func (s *Service) ClearAll(ctx context.Context) error {
	return s.storage.ClearAll(ctx)
}
