package shared

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zapcore.DebugLevel, parseLevel("DEBUG"))
	assert.Equal(t, zapcore.WarnLevel, parseLevel(" warn "))
	assert.Equal(t, zapcore.InfoLevel, parseLevel("loud"))
	assert.Equal(t, zapcore.InfoLevel, parseLevel(""))
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("error", "stderr")
	require.NoError(t, err)
	assert.False(t, logger.Core().Enabled(zapcore.WarnLevel))
	assert.True(t, logger.Core().Enabled(zapcore.ErrorLevel))
}
