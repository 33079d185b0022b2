package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap/zapcore"
)

func zapLevel(t *testing.T, s string) zapcore.Level {
	t.Helper()
	l, err := zapcore.ParseLevel(s)
	assert.NoError(t, err)
	return l
}

func TestNew_BuildsBothFormats(t *testing.T) {
	for _, format := range []string{"json", "console"} {
		log, err := New("debug", format)
		assert.NoError(t, err)
		assert.NotNil(t, log)
		assert.True(t, log.Core().Enabled(zapLevel(t, "debug")))
	}
}

func TestNew_EmptyLevelDefaultsToInfo(t *testing.T) {
	log, err := New("", "json")
	assert.NoError(t, err)
	assert.True(t, log.Core().Enabled(zapLevel(t, "info")))
	assert.False(t, log.Core().Enabled(zapLevel(t, "debug")))
}

func TestNew_RejectsUnknownLevel(t *testing.T) {
	_, err := New("loud", "json")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "invalid log level")
}
