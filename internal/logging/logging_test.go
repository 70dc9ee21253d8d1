package logging

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
)

func TestLevels(t *testing.T) {
	verbose, err := New(true, false, false)
	require.NoError(t, err)
	assert.True(t, verbose.Core().Enabled(zapcore.DebugLevel))

	quiet, err := New(false, true, true)
	require.NoError(t, err)
	assert.False(t, quiet.Core().Enabled(zapcore.InfoLevel))
	assert.True(t, quiet.Core().Enabled(zapcore.WarnLevel))

	normal, err := New(false, false, true)
	require.NoError(t, err)
	assert.True(t, normal.Core().Enabled(zapcore.InfoLevel))
	assert.False(t, normal.Core().Enabled(zapcore.DebugLevel))
}
