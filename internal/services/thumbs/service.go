// -----------------------------------------------------------------------
// Thumbnail Service - fetch-and-cache proxy for video thumbnails
// -----------------------------------------------------------------------

package thumbs

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/common"
)

// maxThumbnailBytes bounds a single cached image
const maxThumbnailBytes = 5 << 20

// Thumbnail is a fetched image with its content type
type Thumbnail struct {
	Data        []byte
	ContentType string
	FetchedAt   time.Time
}

type cacheEntry struct {
	thumb     *Thumbnail
	expiresAt time.Time
}

// Service fetches remote thumbnails once and serves them from an
// in-memory TTL cache, so the UI never hammers the upstream image host.
type Service struct {
	client *http.Client
	ttl    time.Duration
	max    int
	logger arbor.ILogger

	mu    sync.Mutex
	cache map[string]*cacheEntry
}

// NewService creates a thumbnail service from config
func NewService(config *common.ThumbnailConfig, logger arbor.ILogger) (*Service, error) {
	ttl, err := time.ParseDuration(config.TTL)
	if err != nil {
		return nil, fmt.Errorf("invalid thumbnail ttl %q: %w", config.TTL, err)
	}
	timeout, err := time.ParseDuration(config.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid thumbnail request_timeout %q: %w", config.RequestTimeout, err)
	}

	maxEntries := config.MaxEntries
	if maxEntries < 1 {
		maxEntries = 256
	}

	return &Service{
		client: &http.Client{Timeout: timeout},
		ttl:    ttl,
		max:    maxEntries,
		logger: logger,
		cache:  make(map[string]*cacheEntry),
	}, nil
}

// Get returns the thumbnail for a URL, fetching it on a cache miss or
// after the cached copy expires.
func (s *Service) Get(ctx context.Context, url string) (*Thumbnail, error) {
	if url == "" {
		return nil, fmt.Errorf("thumbnail url is required")
	}

	if thumb, ok := s.lookup(url); ok {
		return thumb, nil
	}

	thumb, err := s.fetch(ctx, url)
	if err != nil {
		return nil, err
	}

	s.store(url, thumb)
	return thumb, nil
}

func (s *Service) lookup(url string) (*Thumbnail, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, ok := s.cache[url]
	if !ok {
		return nil, false
	}
	if time.Now().After(entry.expiresAt) {
		delete(s.cache, url)
		return nil, false
	}
	return entry.thumb, true
}

func (s *Service) store(url string, thumb *Thumbnail) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.cache) >= s.max {
		s.evictOldestLocked()
	}

	s.cache[url] = &cacheEntry{
		thumb:     thumb,
		expiresAt: time.Now().Add(s.ttl),
	}
}

// evictOldestLocked drops the entry closest to expiry. Caller holds mu.
func (s *Service) evictOldestLocked() {
	var oldestURL string
	var oldestExpiry time.Time
	for url, entry := range s.cache {
		if oldestURL == "" || entry.expiresAt.Before(oldestExpiry) {
			oldestURL = url
			oldestExpiry = entry.expiresAt
		}
	}
	if oldestURL != "" {
		delete(s.cache, oldestURL)
	}
}

func (s *Service) fetch(ctx context.Context, url string) (*Thumbnail, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid thumbnail url %s: %w", url, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch thumbnail %s: %w", url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("thumbnail fetch %s returned status %d", url, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxThumbnailBytes+1))
	if err != nil {
		return nil, fmt.Errorf("failed to read thumbnail %s: %w", url, err)
	}
	if len(data) > maxThumbnailBytes {
		return nil, fmt.Errorf("thumbnail %s exceeds %d bytes", url, maxThumbnailBytes)
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = http.DetectContentType(data)
	}

	s.logger.Debug().
		Str("url", url).
		Int("bytes", len(data)).
		Msg("Thumbnail fetched")

	return &Thumbnail{
		Data:        data,
		ContentType: contentType,
		FetchedAt:   time.Now(),
	}, nil
}

// Count returns the number of cached thumbnails
func (s *Service) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cache)
}

// ClearAll empties the cache
func (s *Service) ClearAll() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache = make(map[string]*cacheEntry)
}
