package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConsoleLoggerLevelFilter(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriterLogger(&buf, LevelWarn)

	log.Debug("hidden")
	log.Info("hidden too")
	log.Warn("shown %d", 1)
	log.Error("shown %d", 2)

	out := ansiColorStripper.ReplaceAllString(buf.String(), "")
	assert.NotContains(t, out, "hidden")
	assert.Contains(t, out, "[WARN]")
	assert.Contains(t, out, "shown 1")
	assert.Contains(t, out, "[ERROR]")
	assert.Contains(t, out, "shown 2")
}

func TestConsoleLoggerPrefixAndMetadata(t *testing.T) {
	var buf bytes.Buffer
	log := NewWriterLogger(&buf, LevelTrace).
		WithPrefix("[cache]").
		WithPrefix("[cache]").
		With(map[string]interface{}{"key": "cfg"})

	log.Info("stored")

	out := ansiColorStripper.ReplaceAllString(buf.String(), "")
	assert.Equal(t, 1, strings.Count(out, "[cache]"), "duplicate prefixes are collapsed")
	assert.Contains(t, out, "[cache] stored")
	assert.Contains(t, out, `{"key":"cfg"}`)
}

func TestConsoleLoggerSink(t *testing.T) {
	var console, sink bytes.Buffer
	log := NewWriterLogger(&console, LevelError)
	log.SetSink(&sink, LevelDebug)

	log.Debug("to sink only")

	assert.Empty(t, console.String())
	assert.Contains(t, sink.String(), "to sink only")
	assert.NotContains(t, sink.String(), "\x1b[")
}

func TestConsoleLoggerStack(t *testing.T) {
	var buf bytes.Buffer
	next := NewTestLogger()
	log := NewWriterLogger(&buf, LevelInfo).Stack(next)

	log.Info("both")

	assert.Contains(t, buf.String(), "both")
	assert.True(t, next.Has("INFO", "both"))
}
