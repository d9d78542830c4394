package logger

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Gopher0727/ChatEngine/config"
)

func newFileLogger(t *testing.T, level string) (*Logger, string) {
	t.Helper()
	logFile := filepath.Join(t.TempDir(), "test.log")
	l, err := NewLogger(&config.LoggingConfig{
		Level:    level,
		Format:   "json",
		Output:   "file",
		FilePath: logFile,
	})
	require.NoError(t, err)
	return l, logFile
}

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	content, err := os.ReadFile(path)
	require.NoError(t, err)

	var entries []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(content))
	for scanner.Scan() {
		var entry map[string]any
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &entry))
		entries = append(entries, entry)
	}
	return entries
}

func TestNewLogger(t *testing.T) {
	t.Run("console format to stdout", func(t *testing.T) {
		l, err := NewLogger(&config.LoggingConfig{Level: "debug", Format: "text", Output: "stdout"})
		require.NoError(t, err)
		require.NotNil(t, l)
		l.Debug("console message")
	})

	t.Run("json file output", func(t *testing.T) {
		l, logFile := newFileLogger(t, "info")
		l.Info("conversation created",
			zap.Uint("conversation_id", 7),
			zap.String("type", "GROUP"),
		)
		require.NoError(t, l.Close())

		entries := readEntries(t, logFile)
		require.Len(t, entries, 1)
		assert.Equal(t, "info", entries[0]["level"])
		assert.Equal(t, "conversation created", entries[0]["message"])
		assert.Equal(t, float64(7), entries[0]["conversation_id"])
		assert.Equal(t, "GROUP", entries[0]["type"])
		assert.NotEmpty(t, entries[0]["timestamp"])
	})

	t.Run("unwritable file path", func(t *testing.T) {
		_, err := NewLogger(&config.LoggingConfig{
			Output:   "file",
			FilePath: filepath.Join(t.TempDir(), "missing", "dir", "x.log"),
		})
		assert.Error(t, err)
	})
}

func TestLogLevels(t *testing.T) {
	l, logFile := newFileLogger(t, "warn")

	l.Debug("debug message")
	l.Info("info message")
	l.Warn("warn message")
	l.Error("error message")
	require.NoError(t, l.Close())

	var messages []string
	for _, e := range readEntries(t, logFile) {
		messages = append(messages, e["message"].(string))
	}
	assert.Equal(t, []string{"warn message", "error message"}, messages)
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"fatal", zapcore.FatalLevel},
		{"invalid", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, parseLogLevel(tt.input))
		})
	}
}

func TestTraceIDInLogs(t *testing.T) {
	l, logFile := newFileLogger(t, "info")

	ctx := WithTraceID(context.Background(), "trace-abc-123")
	l.InfoContext(ctx, "with trace")
	l.InfoContext(context.Background(), "without trace")
	l.WithFields(zap.String("component", "hub")).WarnContext(ctx, "with fields")
	require.NoError(t, l.Close())

	entries := readEntries(t, logFile)
	require.Len(t, entries, 3)
	assert.Equal(t, "trace-abc-123", entries[0]["trace_id"])
	assert.NotContains(t, entries[1], "trace_id")
	assert.Equal(t, "trace-abc-123", entries[2]["trace_id"])
	assert.Equal(t, "hub", entries[2]["component"])
}

func TestGinMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)

	core, logs := observer.New(zapcore.InfoLevel)
	l := Wrap(zap.New(core))

	r := gin.New()
	r.Use(GinMiddleware(l))
	r.GET("/conversations/:id", func(c *gin.Context) {
		assert.NotEmpty(t, GetTraceID(c.Request.Context()))
		c.Set("user_id", uint(3))
		c.Status(http.StatusOK)
	})
	r.GET("/missing", func(c *gin.Context) {
		c.Status(http.StatusNotFound)
	})

	t.Run("propagates incoming request id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/conversations/1", nil)
		req.Header.Set(RequestIDHeader, "req-42")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		assert.Equal(t, "req-42", w.Header().Get(RequestIDHeader))
		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		fields := entries[0].ContextMap()
		assert.Equal(t, "req-42", fields["trace_id"])
		assert.Equal(t, "/conversations/:id", fields["path"])
		assert.Equal(t, int64(http.StatusOK), fields["status"])
		assert.Equal(t, uint64(3), fields["user_id"])
	})

	t.Run("generates request id and logs client errors as warn", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/missing", nil))

		assert.Len(t, w.Header().Get(RequestIDHeader), 36)
		entries := logs.TakeAll()
		require.Len(t, entries, 1)
		assert.Equal(t, zapcore.WarnLevel, entries[0].Level)
	})
}

func TestNopLogger(t *testing.T) {
	l := NewNopLogger()
	l.ErrorContext(context.Background(), "dropped")
	assert.NoError(t, l.Close())
}
