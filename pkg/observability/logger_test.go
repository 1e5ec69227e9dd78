package observability

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portalfs/pkg/contextkeys"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		var entry map[string]interface{}
		require.NoError(t, json.Unmarshal([]byte(line), &entry))
		out = append(out, entry)
	}
	return out
}

func TestParseLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"debug":   DebugLevel,
		"DEBUG":   DebugLevel,
		"info":    InfoLevel,
		"warn":    WarnLevel,
		"warning": WarnLevel,
		"error":   ErrorLevel,
		"bogus":   InfoLevel,
		"":        InfoLevel,
	}
	for in, want := range tests {
		assert.Equal(t, want, ParseLevel(in), in)
	}
	assert.Equal(t, "WARN", WarnLevel.String())
}

func TestLogger_Fields(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	logger.WithField("node_id", 42).WithFields(map[string]interface{}{"scope": "PROJECT:1"}).Infof("moved %d nodes", 3)

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "moved 3 nodes", lines[0]["msg"])
	assert.Equal(t, float64(42), lines[0]["node_id"])
	assert.Equal(t, "PROJECT:1", lines[0]["scope"])
}

func TestLogger_SetLevelAppliesToDerivedLoggers(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)
	child := logger.WithField("component", "api")

	child.Debug("hidden")
	assert.Empty(t, buf.String())
	assert.False(t, child.Enabled(DebugLevel))

	logger.SetLevel(DebugLevel)
	child.Debug("shown")
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "shown", lines[0]["msg"])
}

func TestLogger_WithErrorNil(t *testing.T) {
	logger := NewLogger(InfoLevel, &bytes.Buffer{})
	assert.Same(t, logger, logger.WithError(nil))
}

func TestFromContext(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	ctx := WithLogger(context.Background(), logger)
	ctx = contextkeys.WithRequestID(ctx, "req-1")
	ctx = contextkeys.WithUserID(ctx, "alice")

	FromContext(ctx).Info("hello")

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "req-1", lines[0]["request_id"])
	assert.Equal(t, "alice", lines[0]["user_id"])
}

func TestLoggingMiddleware(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(DebugLevel, &buf)

	var sawLogger bool
	handler := LoggingMiddleware(logger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sawLogger = GetLogger(r.Context()) == logger
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte("boom"))
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/projects/1/tree", nil)
	req = req.WithContext(contextkeys.WithRequestID(req.Context(), "req-9"))
	handler.ServeHTTP(httptest.NewRecorder(), req)

	assert.True(t, sawLogger)
	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "ERROR", lines[0]["level"])
	assert.Equal(t, float64(500), lines[0]["status"])
	assert.Equal(t, float64(4), lines[0]["bytes"])
	assert.Equal(t, "req-9", lines[0]["request_id"])
}

func TestRecoverPanic(t *testing.T) {
	var buf bytes.Buffer
	logger := NewLogger(InfoLevel, &buf)

	func() {
		defer RecoverPanic(logger, "test")
		panic("boom")
	}()

	lines := decodeLines(t, &buf)
	require.Len(t, lines, 1)
	assert.Equal(t, "boom", lines[0]["panic"])
	assert.Equal(t, "test", lines[0]["component"])
	assert.Equal(t, "Recovered from panic", lines[0]["msg"])
}
