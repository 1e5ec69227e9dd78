package observability

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShutdownManager_HooksRunInReverse(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second, &http.Server{})

	var order []string
	sm.OnShutdown("db", func(ctx context.Context) error {
		order = append(order, "db")
		return nil
	})
	sm.OnShutdown("otel", func(ctx context.Context) error {
		order = append(order, "otel")
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, sm.Wait(ctx))
	assert.Equal(t, []string{"otel", "db"}, order)
}

func TestShutdownManager_JoinsErrors(t *testing.T) {
	flush := errors.New("flush failed")
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), time.Second)
	sm.OnShutdown("otel", func(ctx context.Context) error { return flush })
	sm.OnShutdown("cache", func(ctx context.Context) error { return nil })

	err := sm.Shutdown()
	assert.ErrorIs(t, err, flush)
	assert.ErrorContains(t, err, "otel: flush failed")
}

func TestShutdownManager_Timeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), 20*time.Millisecond)
	sm.OnShutdown("slow", func(ctx context.Context) error {
		time.Sleep(200 * time.Millisecond)
		return nil
	})

	assert.ErrorIs(t, sm.Shutdown(), ErrShutdownTimeout)
}

func TestNewShutdownManager_DefaultTimeout(t *testing.T) {
	sm := NewShutdownManager(NewLogger(InfoLevel, &bytes.Buffer{}), 0)
	assert.Equal(t, DefaultShutdownTimeout, sm.timeout)
}
