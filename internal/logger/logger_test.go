package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestNew_BuildsWithServiceIdentity(t *testing.T) {
	log, err := New(Options{
		Level:       "debug",
		ServiceName: "studiobook",
		Version:     "0.1.0",
	})
	require.NoError(t, err)
	defer func() { _ = log.Sync() }()

	assert.True(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_DefaultsEmptyLevelToInfo(t *testing.T) {
	log, err := New(Options{Development: true})
	require.NoError(t, err)
	defer func() { _ = log.Sync() }()

	assert.True(t, log.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, log.Core().Enabled(zapcore.DebugLevel))
}

func TestNew_RejectsInvalidLevel(t *testing.T) {
	_, err := New(Options{Level: "shouting"})
	require.Error(t, err)
}
