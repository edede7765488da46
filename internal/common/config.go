package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/robfig/cron/v3"
)

// Config represents the application configuration
type Config struct {
	Environment string          `toml:"environment"` // "development" or "production"
	Server      ServerConfig    `toml:"server"`
	Storage     StorageConfig   `toml:"storage"`
	Logging     LoggingConfig   `toml:"logging"`
	Engine      EngineConfig    `toml:"engine"`
	History     HistoryConfig   `toml:"history"`
	Presets     PresetsConfig   `toml:"presets"`
	Thumbnails  ThumbnailConfig `toml:"thumbnails"`
	WebSocket   WebSocketConfig `toml:"websocket"`
}

type ServerConfig struct {
	Port int    `toml:"port"`
	Host string `toml:"host"`
}

type StorageConfig struct {
	Badger BadgerConfig `toml:"badger"`
}

// BadgerConfig represents BadgerDB-specific configuration
type BadgerConfig struct {
	Path           string `toml:"path"`             // Database directory path
	ResetOnStartup bool   `toml:"reset_on_startup"` // Delete database on startup for clean test runs
}

type LoggingConfig struct {
	Level  string   `toml:"level"`  // "debug", "info", "warn", "error"
	Output []string `toml:"output"` // "stdout", "file"
}

// EngineConfig configures the external downloader process
type EngineConfig struct {
	Command        string `toml:"command"`          // Downloader binary (default: yt-dlp)
	OutputDir      string `toml:"output_dir"`       // Default download directory
	MaxConcurrent  int    `toml:"max_concurrent"`   // Max simultaneous downloads
	ProgressWindow string `toml:"progress_window"`  // Min interval between progress events, e.g. "500ms"
	CookiesFromDir string `toml:"cookies_from_dir"` // Optional cookies file directory
}

// HistoryConfig configures download history retention
type HistoryConfig struct {
	RetentionDays   int    `toml:"retention_days"`   // Delete entries older than N days (0 = keep forever)
	CleanupSchedule string `toml:"cleanup_schedule"` // Cron schedule for retention cleanup
}

// PresetsConfig locates the download preset definitions
type PresetsConfig struct {
	Path string `toml:"path"` // Presets YAML file path
}

// ThumbnailConfig configures the thumbnail fetch-and-cache service
type ThumbnailConfig struct {
	TTL            string `toml:"ttl"`             // Cache entry lifetime, e.g. "1h"
	MaxEntries     int    `toml:"max_entries"`     // Eviction bound for the in-memory cache
	RequestTimeout string `toml:"request_timeout"` // HTTP fetch timeout
}

// WebSocketConfig configures the UI push channel
type WebSocketConfig struct {
	ThrottleInterval string   `toml:"throttle_interval"` // Min interval between progress pushes, e.g. "250ms"
	MinLogLevel      string   `toml:"min_log_level"`     // Minimum level for streamed logs
	ExcludePatterns  []string `toml:"exclude_patterns"`  // Log messages never streamed to clients
}

// NewDefaultConfig returns the built-in defaults
func NewDefaultConfig() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Port: 8115,
			Host: "localhost",
		},
		Storage: StorageConfig{
			Badger: BadgerConfig{
				Path: "./data/fetchd",
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Output: []string{"stdout"},
		},
		Engine: EngineConfig{
			Command:        "yt-dlp",
			OutputDir:      "./downloads",
			MaxConcurrent:  3,
			ProgressWindow: "500ms",
		},
		History: HistoryConfig{
			RetentionDays:   90,
			CleanupSchedule: "0 3 * * *",
		},
		Presets: PresetsConfig{
			Path: "./presets.yaml",
		},
		Thumbnails: ThumbnailConfig{
			TTL:            "1h",
			MaxEntries:     256,
			RequestTimeout: "10s",
		},
		WebSocket: WebSocketConfig{
			ThrottleInterval: "250ms",
			MinLogLevel:      "info",
		},
	}
}

// LoadFromFiles loads configuration with priority: defaults -> file1 -> file2 -> ... -> env.
// Later files override earlier files; environment variables override all files.
func LoadFromFiles(paths ...string) (*Config, error) {
	config := NewDefaultConfig()

	for i, path := range paths {
		if path == "" {
			continue
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}

		if err := toml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s (file %d of %d): %w", path, i+1, len(paths), err)
		}
	}

	applyEnvOverrides(config)

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// applyEnvOverrides applies environment variable overrides to config
func applyEnvOverrides(config *Config) {
	if env := os.Getenv("FETCHD_ENV"); env != "" {
		config.Environment = env
	} else if env := os.Getenv("GO_ENV"); env != "" {
		config.Environment = env
	}

	if port := os.Getenv("FETCHD_SERVER_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Server.Port = p
		}
	}
	if host := os.Getenv("FETCHD_SERVER_HOST"); host != "" {
		config.Server.Host = host
	}

	if badgerPath := os.Getenv("FETCHD_BADGER_PATH"); badgerPath != "" {
		config.Storage.Badger.Path = badgerPath
	}

	if level := os.Getenv("FETCHD_LOG_LEVEL"); level != "" {
		config.Logging.Level = level
	}
	if output := os.Getenv("FETCHD_LOG_OUTPUT"); output != "" {
		outputs := []string{}
		for _, o := range strings.Split(output, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				outputs = append(outputs, trimmed)
			}
		}
		if len(outputs) > 0 {
			config.Logging.Output = outputs
		}
	}

	if command := os.Getenv("FETCHD_ENGINE_COMMAND"); command != "" {
		config.Engine.Command = command
	}
	if outputDir := os.Getenv("FETCHD_ENGINE_OUTPUT_DIR"); outputDir != "" {
		config.Engine.OutputDir = outputDir
	}
	if maxConcurrent := os.Getenv("FETCHD_ENGINE_MAX_CONCURRENT"); maxConcurrent != "" {
		if mc, err := strconv.Atoi(maxConcurrent); err == nil {
			config.Engine.MaxConcurrent = mc
		}
	}

	if retention := os.Getenv("FETCHD_HISTORY_RETENTION_DAYS"); retention != "" {
		if days, err := strconv.Atoi(retention); err == nil {
			config.History.RetentionDays = days
		}
	}

	if presetsPath := os.Getenv("FETCHD_PRESETS_PATH"); presetsPath != "" {
		config.Presets.Path = presetsPath
	}
}

// ApplyFlagOverrides applies command-line flag overrides (highest priority)
func ApplyFlagOverrides(config *Config, port int, host string) {
	if port > 0 {
		config.Server.Port = port
	}
	if host != "" {
		config.Server.Host = host
	}
}

// Validate checks configuration invariants that would otherwise surface as
// confusing runtime failures.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Engine.MaxConcurrent < 1 {
		return fmt.Errorf("engine max_concurrent must be at least 1, got %d", c.Engine.MaxConcurrent)
	}
	if c.History.CleanupSchedule != "" {
		if err := ValidateSchedule(c.History.CleanupSchedule); err != nil {
			return fmt.Errorf("invalid history cleanup_schedule: %w", err)
		}
	}
	return nil
}

// ValidateSchedule validates a cron schedule expression
func ValidateSchedule(schedule string) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	if _, err := parser.Parse(schedule); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", schedule, err)
	}
	return nil
}

// IsProduction returns true when running in production mode
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}
