package logger

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewTestLogger(t *testing.T) {
	logger := NewTestLogger()

	assert.NotNil(t, logger)
	assert.Len(t, logger.Logs(), 0)
	assert.Nil(t, logger.metadata)
	assert.Nil(t, logger.child)
}

func TestTestLoggerMethods(t *testing.T) {
	logger := NewTestLogger()

	logger.Trace("Trace message %d", 1)
	logger.Debug("Debug message %d", 2)
	logger.Info("Info message %d", 3)
	logger.Warn("Warn message %d", 4)
	logger.Error("Error message %d", 5)

	logs := logger.Logs()
	assert.Len(t, logs, 5)

	assert.Equal(t, "TRACE", logs[0].Severity)
	assert.Equal(t, "Trace message %d", logs[0].Message)
	assert.Equal(t, []interface{}{1}, logs[0].Arguments)
	assert.Equal(t, "Trace message 1", logs[0].Text())

	assert.Equal(t, "DEBUG", logs[1].Severity)
	assert.Equal(t, "INFO", logs[2].Severity)
	assert.Equal(t, "WARNING", logs[3].Severity)
	assert.Equal(t, "ERROR", logs[4].Severity)
	assert.True(t, logger.Has("ERROR", "message 5"))
	assert.False(t, logger.Has("ERROR", "message 4"))
}

func TestTestLoggerWith(t *testing.T) {
	logger := NewTestLogger()

	metadata := map[string]interface{}{
		"key1": "value1",
		"key2": 42,
	}

	testLogger, ok := logger.With(metadata).(*TestLogger)
	assert.True(t, ok)
	assert.Equal(t, metadata, testLogger.metadata)

	testLogger2, ok := testLogger.With(map[string]interface{}{"key3": true}).(*TestLogger)
	assert.True(t, ok)
	assert.Equal(t, "value1", testLogger2.metadata["key1"])
	assert.Equal(t, 42, testLogger2.metadata["key2"])
	assert.Equal(t, true, testLogger2.metadata["key3"])
	assert.NotContains(t, testLogger.metadata, "key3")
}

func TestTestLoggerChildrenShareRecord(t *testing.T) {
	logger := NewTestLogger()
	child := logger.WithPrefix("[cache]").With(map[string]interface{}{"k": "v"})

	child.Warn("disk write failed")

	logs := logger.Logs()
	assert.Len(t, logs, 1)
	assert.Equal(t, "[cache] disk write failed", logs[0].Message)
}

func TestTestLoggerWithContext(t *testing.T) {
	logger := NewTestLogger()
	assert.Equal(t, logger, logger.WithContext(context.Background()))
}

func TestTestLoggerStack(t *testing.T) {
	logger1 := NewTestLogger()
	logger2 := NewTestLogger()

	stacked := logger1.Stack(logger2)
	stacked.Info("hello")

	assert.Len(t, logger1.Logs(), 1)
	assert.Len(t, logger2.Logs(), 1)
}

func TestTestLoggerConcurrent(t *testing.T) {
	logger := NewTestLogger()
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			logger.Debug("tick")
		}()
	}
	wg.Wait()
	assert.Len(t, logger.Logs(), 10)
}
