package app

import (
	"fmt"

	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/fetchd/internal/bridge"
	"github.com/ternarybob/fetchd/internal/common"
	"github.com/ternarybob/fetchd/internal/engine"
	"github.com/ternarybob/fetchd/internal/handlers"
	"github.com/ternarybob/fetchd/internal/interfaces"
	"github.com/ternarybob/fetchd/internal/progress"
	"github.com/ternarybob/fetchd/internal/registry"
	"github.com/ternarybob/fetchd/internal/services/cancel"
	"github.com/ternarybob/fetchd/internal/services/events"
	"github.com/ternarybob/fetchd/internal/services/history"
	"github.com/ternarybob/fetchd/internal/services/presets"
	"github.com/ternarybob/fetchd/internal/services/thumbs"
	"github.com/ternarybob/fetchd/internal/storage/badger"
)

// App holds all application components and dependencies
type App struct {
	Config *common.Config
	Logger arbor.ILogger

	// Storage
	DB             *badger.BadgerDB
	HistoryStorage interfaces.HistoryStorage

	// Core download state
	EventService interfaces.EventService
	Registry     *registry.Registry
	Progress     *progress.Service
	Engine       *engine.Service
	Coordinator  *cancel.Coordinator
	Bridge       *bridge.Bridge

	// Supporting services
	HistoryService *history.Service
	PresetService  *presets.Service
	ThumbService   *thumbs.Service

	// HTTP handlers
	APIHandler      *handlers.APIHandler
	DownloadHandler *handlers.DownloadHandler
	HistoryHandler  *handlers.HistoryHandler
	PresetHandler   *handlers.PresetHandler
	ThumbHandler    *handlers.ThumbHandler
	WSHandler       *handlers.WebSocketHandler

	wsWriter *handlers.WebSocketWriter
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	// Storage first - history persistence backs both the bridge and the API
	db, err := badger.NewBadgerDB(logger, &cfg.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	app.DB = db
	app.HistoryStorage = badger.NewHistoryStorage(db, logger)

	// Event bus before anything that publishes or subscribes
	app.EventService = events.NewService(logger)

	// Registry and progress table hold all live download state
	app.Registry = registry.New(logger)
	app.Progress = progress.NewService(app.Registry, logger)

	// Downloader engine publishes progress and outcome events
	app.Engine, err = engine.NewService(&cfg.Engine, app.EventService, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize download engine: %w", err)
	}

	app.Coordinator = cancel.NewCoordinator(app.Registry, app.Engine, logger)

	// Bridge routes engine events into the registry and history store.
	// Started before the engine can emit anything.
	app.Bridge = bridge.New(app.EventService, app.Registry, app.Progress, app.HistoryStorage, logger)
	if err := app.Bridge.Start(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start event bridge: %w", err)
	}

	app.HistoryService = history.NewService(app.HistoryStorage, &cfg.History, logger)
	if err := app.HistoryService.Start(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to start history service: %w", err)
	}

	app.PresetService, err = presets.NewService(cfg.Presets.Path, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to load presets: %w", err)
	}

	app.ThumbService, err = thumbs.NewService(&cfg.Thumbnails, logger)
	if err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize thumbnail service: %w", err)
	}

	if err := app.initHandlers(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize handlers: %w", err)
	}

	logger.Info().
		Str("engine", cfg.Engine.Command).
		Int("max_concurrent", cfg.Engine.MaxConcurrent).
		Msg("Application initialization complete")

	return app, nil
}

// initHandlers wires the HTTP and WebSocket surface
func (a *App) initHandlers() error {
	a.APIHandler = handlers.NewAPIHandler()
	a.DownloadHandler = handlers.NewDownloadHandler(
		a.Registry,
		a.Progress,
		a.Coordinator,
		a.Engine,
		a.PresetService,
		&a.Config.Engine,
		a.Logger,
	)
	a.HistoryHandler = handlers.NewHistoryHandler(a.HistoryService, a.Logger)
	a.PresetHandler = handlers.NewPresetHandler(a.PresetService, a.Logger)
	a.ThumbHandler = handlers.NewThumbHandler(a.ThumbService, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(
		a.EventService,
		a.Registry,
		a.Progress,
		a.Logger,
		&a.Config.WebSocket,
	)

	// Stream server logs to connected UI clients
	wsWriter, err := handlers.NewWebSocketWriter(a.WSHandler, arbormodels.WriterConfiguration{
		TimeFormat: "15:04:05",
	}, &a.Config.WebSocket)
	if err != nil {
		return fmt.Errorf("failed to create WebSocket log writer: %w", err)
	}
	a.wsWriter = wsWriter

	return nil
}

// LogWriter exposes the WebSocket log writer so callers can route log
// output through it.
func (a *App) LogWriter() *handlers.WebSocketWriter {
	return a.wsWriter
}

// Close shuts down components in reverse dependency order
func (a *App) Close() error {
	if a.wsWriter != nil {
		if err := a.wsWriter.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close WebSocket log writer")
		}
		a.wsWriter = nil
	}

	if a.WSHandler != nil {
		a.WSHandler.Close()
	}

	if a.HistoryService != nil {
		a.HistoryService.Stop()
	}

	if a.Bridge != nil {
		a.Bridge.Stop()
	}

	if a.ThumbService != nil {
		a.ThumbService.ClearAll()
	}

	if a.EventService != nil {
		if err := a.EventService.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close event service")
		}
	}

	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
