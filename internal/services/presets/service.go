// -----------------------------------------------------------------------
// Presets Service - named download configurations from YAML
// -----------------------------------------------------------------------

package presets

import (
	"fmt"
	"os"
	"sort"
	"sync"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/fetchd/internal/models"
	"gopkg.in/yaml.v3"
)

// presetsFile is the on-disk shape of the presets YAML
type presetsFile struct {
	Presets []models.Preset `yaml:"presets"`
}

// Service loads download presets from a YAML file and serves them by
// name. A missing file is not an error; the built-in default preset is
// always available.
type Service struct {
	path   string
	logger arbor.ILogger

	mu      sync.RWMutex
	presets map[string]models.Preset
}

// DefaultPresetName is served when a request names no preset
const DefaultPresetName = "default"

// NewService creates a presets service and performs the initial load
func NewService(path string, logger arbor.ILogger) (*Service, error) {
	s := &Service{
		path:    path,
		logger:  logger,
		presets: make(map[string]models.Preset),
	}

	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload re-reads the presets file. The built-in default is restored
// first so a preset file can override it but never remove it.
func (s *Service) Reload() error {
	presets := map[string]models.Preset{
		DefaultPresetName: {
			Name:        DefaultPresetName,
			Description: "Best audio and video, merged",
		},
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			s.logger.Debug().Str("path", s.path).Msg("No presets file, using built-in default")
			s.swap(presets)
			return nil
		}
		return fmt.Errorf("failed to read presets file %s: %w", s.path, err)
	}

	var file presetsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("failed to parse presets file %s: %w", s.path, err)
	}

	for _, preset := range file.Presets {
		if preset.Name == "" {
			s.logger.Warn().Str("path", s.path).Msg("Skipping preset without a name")
			continue
		}
		presets[preset.Name] = preset
	}

	s.swap(presets)

	s.logger.Info().
		Str("path", s.path).
		Int("count", len(presets)).
		Msg("Download presets loaded")

	return nil
}

func (s *Service) swap(presets map[string]models.Preset) {
	s.mu.Lock()
	s.presets = presets
	s.mu.Unlock()
}

// Get returns a preset by name; an empty name yields the default preset
func (s *Service) Get(name string) (models.Preset, bool) {
	if name == "" {
		name = DefaultPresetName
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	preset, ok := s.presets[name]
	return preset, ok
}

// List returns all presets sorted by name
func (s *Service) List() []models.Preset {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]models.Preset, 0, len(s.presets))
	for _, preset := range s.presets {
		result = append(result, preset)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Name < result[j].Name
	})
	return result
}
