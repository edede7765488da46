// -----------------------------------------------------------------------
// Download Engine - drives the external downloader process per job
// -----------------------------------------------------------------------

package engine

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/common"
	"github.com/ternarybob/fetchd/internal/interfaces"
	"github.com/ternarybob/fetchd/internal/models"
)

// progressTemplate makes the downloader print one JSON object per
// progress line so parsing needs no regex over human-readable output.
const progressTemplate = `download:{"downloaded":%(progress.downloaded_bytes)j,"total":%(progress.total_bytes_estimate)j,"speed":%(progress.speed)j,"percent":%(progress._percent)j,"elapsed":%(progress.elapsed)j}`

// download tracks one in-flight process
type download struct {
	id        string
	cancel    context.CancelFunc
	cancelled bool
}

// Service runs the external downloader (yt-dlp by default), one process
// per job, bounded by max_concurrent. All outcomes are reported through
// the event bus: progress samples while running, then exactly one of
// cancelled, failed, or a final complete sample plus a history entry.
type Service struct {
	config *common.EngineConfig
	events interfaces.EventService
	logger arbor.ILogger

	window time.Duration
	slots  chan struct{}

	mu     sync.Mutex
	active map[string]*download
}

// NewService creates a download engine from config
func NewService(config *common.EngineConfig, events interfaces.EventService, logger arbor.ILogger) (*Service, error) {
	window, err := time.ParseDuration(config.ProgressWindow)
	if err != nil {
		return nil, fmt.Errorf("invalid engine progress_window %q: %w", config.ProgressWindow, err)
	}

	maxConcurrent := config.MaxConcurrent
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}

	return &Service{
		config: config,
		events: events,
		logger: logger,
		window: window,
		slots:  make(chan struct{}, maxConcurrent),
		active: make(map[string]*download),
	}, nil
}

// Start launches a download. The call returns once the job is accepted;
// execution happens on its own goroutine with its own context so the
// download outlives the HTTP request that submitted it.
func (s *Service) Start(ctx context.Context, req interfaces.DownloadRequest) error {
	if req.ID == "" || req.URL == "" {
		return fmt.Errorf("download id and url are required")
	}

	runCtx, cancel := context.WithCancel(context.Background())

	s.mu.Lock()
	if _, exists := s.active[req.ID]; exists {
		s.mu.Unlock()
		cancel()
		return fmt.Errorf("download already in flight: %s", req.ID)
	}
	d := &download{id: req.ID, cancel: cancel}
	s.active[req.ID] = d
	s.mu.Unlock()

	go s.run(runCtx, req, d)

	s.logger.Info().
		Str("download_id", req.ID).
		Str("url", req.URL).
		Msg("Download accepted")

	return nil
}

// CancelOne stops a single in-flight download. Returns false when the
// engine has no such download.
func (s *Service) CancelOne(ctx context.Context, id string) bool {
	s.mu.Lock()
	d, exists := s.active[id]
	if exists {
		d.cancelled = true
	}
	s.mu.Unlock()

	if !exists {
		return false
	}

	d.cancel()
	return true
}

// CancelAll stops every in-flight download and returns the count stopped
func (s *Service) CancelAll(ctx context.Context) int {
	s.mu.Lock()
	targets := make([]*download, 0, len(s.active))
	for _, d := range s.active {
		d.cancelled = true
		targets = append(targets, d)
	}
	s.mu.Unlock()

	for _, d := range targets {
		d.cancel()
	}
	return len(targets)
}

// ActiveCount returns the number of in-flight downloads
func (s *Service) ActiveCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.active)
}

func (s *Service) run(ctx context.Context, req interfaces.DownloadRequest, d *download) {
	defer func() {
		s.mu.Lock()
		delete(s.active, req.ID)
		s.mu.Unlock()
	}()

	// Wait for a concurrency slot; a cancel while queued still resolves
	// through the normal confirmation path.
	select {
	case s.slots <- struct{}{}:
		defer func() { <-s.slots }()
	case <-ctx.Done():
		s.publishCancelled(req.ID)
		return
	}

	err := s.execute(ctx, req)

	if s.wasCancelled(d) {
		s.publishCancelled(req.ID)
		s.publishHistory(req, "cancelled")
		return
	}

	if err != nil {
		s.logger.Warn().
			Err(err).
			Str("download_id", req.ID).
			Msg("Download failed")
		s.publishFailed(req.ID, err)
		s.publishHistory(req, "failed")
		return
	}

	s.events.PublishSync(context.Background(), interfaces.Event{
		Type: interfaces.EventDownloadProgress,
		Payload: &models.ProgressSample{
			DownloadID: req.ID,
			Stage:      models.StageComplete,
			Percentage: 100,
			IsComplete: true,
		},
	})
	s.publishHistory(req, "completed")

	s.logger.Info().
		Str("download_id", req.ID).
		Msg("Download completed")
}

func (s *Service) wasCancelled(d *download) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return d.cancelled
}

func (s *Service) execute(ctx context.Context, req interfaces.DownloadRequest) error {
	outputPath := req.OutputPath
	if outputPath == "" {
		outputPath = filepath.Join(s.config.OutputDir, "%(title)s.%(ext)s")
	}

	args := []string{
		"--newline",
		"--no-colors",
		"--progress-template", progressTemplate,
		"-o", outputPath,
	}
	if s.config.CookiesFromDir != "" {
		args = append(args, "--cookies", filepath.Join(s.config.CookiesFromDir, "cookies.txt"))
	}
	args = append(args, req.Args...)
	args = append(args, req.URL)

	cmd := exec.CommandContext(ctx, s.config.Command, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to open downloader stdout: %w", err)
	}
	cmd.Stderr = cmd.Stdout

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start downloader: %w", err)
	}

	s.consumeOutput(req.ID, stdout)

	if err := cmd.Wait(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("downloader exited: %w", err)
	}
	return nil
}

// progressLine is one JSON progress record from the downloader
type progressLine struct {
	Downloaded float64 `json:"downloaded"`
	Total      float64 `json:"total"`
	Speed      float64 `json:"speed"`
	Percent    float64 `json:"percent"`
	Elapsed    float64 `json:"elapsed"`
}

// consumeOutput reads downloader output and publishes throttled progress
// samples. The first media stream is treated as the video stage, the
// second as audio; a merger line switches to the merge stage.
func (s *Service) consumeOutput(downloadID string, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	stage := models.StageVideo
	destinations := 0
	var lastEmit time.Time
	var lastElapsed float64

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		switch {
		case strings.Contains(line, "[Merger]"):
			stage = models.StageMerge
			lastEmit = time.Time{}
			continue
		case strings.Contains(line, "Destination:"):
			destinations++
			if destinations == 2 {
				stage = models.StageAudio
			}
			lastEmit = time.Time{}
			continue
		}

		if !strings.HasPrefix(line, "{") {
			continue
		}

		var p progressLine
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			continue
		}

		final := p.Percent >= 100
		if !final && time.Since(lastEmit) < s.window {
			continue
		}

		sample := &models.ProgressSample{
			DownloadID:   downloadID,
			Stage:        stage,
			Filesize:     p.Total,
			Downloaded:   p.Downloaded,
			TransferRate: p.Speed,
			Percentage:   p.Percent,
			ElapsedTime:  p.Elapsed,
			DeltaTime:    p.Elapsed - lastElapsed,
			IsComplete:   final,
		}
		lastEmit = time.Now()
		lastElapsed = p.Elapsed

		s.events.PublishSync(context.Background(), interfaces.Event{
			Type:    interfaces.EventDownloadProgress,
			Payload: sample,
		})
	}
}

func (s *Service) publishCancelled(downloadID string) {
	s.events.PublishSync(context.Background(), interfaces.Event{
		Type:    interfaces.EventDownloadCancelled,
		Payload: map[string]interface{}{"download_id": downloadID},
	})
}

func (s *Service) publishFailed(downloadID string, err error) {
	s.events.PublishSync(context.Background(), interfaces.Event{
		Type: interfaces.EventDownloadFailed,
		Payload: map[string]interface{}{
			"download_id": downloadID,
			"error":       err.Error(),
		},
	})
}

func (s *Service) publishHistory(req interfaces.DownloadRequest, status string) {
	s.events.PublishSync(context.Background(), interfaces.Event{
		Type: interfaces.EventHistoryAdded,
		Payload: &models.HistoryEntry{
			ID:         common.NewHistoryID(),
			DownloadID: req.ID,
			URL:        req.URL,
			OutputPath: req.OutputPath,
			Status:     status,
			FinishedAt: time.Now(),
		},
	})
}
