package handlers

import (
	"testing"

	plog "github.com/phuslu/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/arbor/levels"
	arbormodels "github.com/ternarybob/arbor/models"

	"github.com/ternarybob/fetchd/internal/common"
)

func TestNewWebSocketWriterUsesConfigLevel(t *testing.T) {
	handler := NewWebSocketHandler(nil, nil, nil, arbor.NewLogger(), nil)

	w, err := NewWebSocketWriter(handler, arbormodels.WriterConfiguration{
		TimeFormat: "15:04:05",
	}, &common.WebSocketConfig{
		MinLogLevel:     "warn",
		ExcludePatterns: []string{"noise"},
	})
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, levels.WarnLevel, w.minLevel)
	assert.Equal(t, []string{"noise"}, w.excludePatterns)
}

func TestNewWebSocketWriterDefaults(t *testing.T) {
	handler := NewWebSocketHandler(nil, nil, nil, arbor.NewLogger(), nil)

	w, err := NewWebSocketWriter(handler, arbormodels.WriterConfiguration{
		TimeFormat: "15:04:05",
	}, nil)
	require.NoError(t, err)
	defer w.Close()

	assert.Equal(t, levels.InfoLevel, w.minLevel)
	assert.Equal(t, defaultExcludePatterns, w.excludePatterns)
}

func TestWithLevelOverridesMinimum(t *testing.T) {
	handler := NewWebSocketHandler(nil, nil, nil, arbor.NewLogger(), nil)

	w, err := NewWebSocketWriter(handler, arbormodels.WriterConfiguration{
		TimeFormat: "15:04:05",
	}, nil)
	require.NoError(t, err)
	defer w.Close()

	w.WithLevel(plog.ErrorLevel)
	assert.Equal(t, levels.ErrorLevel, w.minLevel)
}

func TestParseLogLevel(t *testing.T) {
	assert.Equal(t, levels.ErrorLevel, parseLogLevel("error"))
	assert.Equal(t, levels.WarnLevel, parseLogLevel("warning"))
	assert.Equal(t, levels.DebugLevel, parseLogLevel("debug"))
	assert.Equal(t, levels.InfoLevel, parseLogLevel("unknown"))
}

func TestMapLevel(t *testing.T) {
	assert.Equal(t, "error", mapLevel(levels.ErrorLevel))
	assert.Equal(t, "warn", mapLevel(levels.WarnLevel))
	assert.Equal(t, "info", mapLevel(levels.InfoLevel))
	assert.Equal(t, "debug", mapLevel(levels.DebugLevel))
}
