package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetLevelFromEnv(t *testing.T) {
	tests := []struct {
		name          string
		envValue      string
		expectedLevel LogLevel
	}{
		{
			name:          "trace level",
			envValue:      "trace",
			expectedLevel: LevelTrace,
		},
		{
			name:          "debug level",
			envValue:      "debug",
			expectedLevel: LevelDebug,
		},
		{
			name:          "info level",
			envValue:      "info",
			expectedLevel: LevelInfo,
		},
		{
			name:          "warning alias",
			envValue:      "warning",
			expectedLevel: LevelWarn,
		},
		{
			name:          "error level",
			envValue:      "error",
			expectedLevel: LevelError,
		},
		{
			name:          "off",
			envValue:      "off",
			expectedLevel: LevelNone,
		},
		{
			name:          "mixed case debug",
			envValue:      " DeBuG ",
			expectedLevel: LevelDebug,
		},
		{
			name:          "empty string",
			envValue:      "",
			expectedLevel: LevelWarn,
		},
		{
			name:          "invalid value",
			envValue:      "invalid",
			expectedLevel: LevelWarn,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(EnvLogLevel, tt.envValue)
			assert.Equal(t, tt.expectedLevel, GetLevelFromEnv())
		})
	}
}

func TestParseLevel(t *testing.T) {
	level, ok := ParseLevel("info")
	assert.True(t, ok)
	assert.Equal(t, LevelInfo, level)

	_, ok = ParseLevel("loud")
	assert.False(t, ok)
}

func TestLogLevelString(t *testing.T) {
	for _, l := range []LogLevel{LevelTrace, LevelDebug, LevelInfo, LevelWarn, LevelError, LevelNone} {
		parsed, ok := ParseLevel(l.String())
		assert.True(t, ok, l.String())
		assert.Equal(t, l, parsed)
	}
	assert.Equal(t, "unknown", LogLevel(99).String())
}
