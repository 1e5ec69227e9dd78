package app

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portalfs/pkg/config"
	"github.com/platinummonkey/portalfs/pkg/middleware"
	"github.com/platinummonkey/portalfs/pkg/observability"
	"github.com/platinummonkey/portalfs/pkg/storage"
)

func TestNewObjectStore_Filesystem(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.FilesystemRoot = t.TempDir()

	store, err := NewObjectStore(context.Background(), cfg, observability.NewMetrics(prometheus.NewRegistry()))
	require.NoError(t, err)

	info, err := store.Put(context.Background(), "a/b.txt", strings.NewReader("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, int64(5), info.Size)

	_, ok := store.(storage.HealthChecker)
	assert.True(t, ok)
	_, ok = store.(storage.URLSigner)
	assert.False(t, ok, "the filesystem backend cannot sign URLs")
}

func TestNewObjectStore_UnknownBackend(t *testing.T) {
	cfg := storage.DefaultConfig()
	cfg.Backend = "ftp"

	_, err := NewObjectStore(context.Background(), cfg, observability.NewMetrics(prometheus.NewRegistry()))
	assert.ErrorContains(t, err, "unknown storage backend")
}

func TestShareLinkRateLimit(t *testing.T) {
	limits := ShareLinkRateLimit(config.ShareLinksConfig{RequestsPerMinute: 30, Burst: 5})
	assert.Equal(t, 30, limits.RequestsPerWindow)
	assert.Equal(t, 5, limits.BurstSize)
	assert.Equal(t, middleware.DefaultShareLinkRateLimitConfig().WindowDuration, limits.WindowDuration)
}

func TestShareLinkLimiter_InProcessWithoutRedis(t *testing.T) {
	a := &App{Config: config.Default()}

	limiter := a.ShareLinkLimiter()
	_, ok := limiter.(*middleware.RateLimiter)
	assert.True(t, ok)
	assert.Equal(t, a.Config.ShareLinks.RequestsPerMinute, limiter.Config().RequestsPerWindow)
}

func TestNewJobLogger(t *testing.T) {
	assert.Equal(t, logrus.DebugLevel, NewJobLogger("debug").GetLevel())
	assert.Equal(t, logrus.InfoLevel, NewJobLogger("bogus").GetLevel())
}

func TestMigrations_Order(t *testing.T) {
	var names []string
	for _, set := range Migrations() {
		names = append(names, set.Name)
		assert.NotEmpty(t, set.Migrations, set.Name)
	}
	assert.Len(t, names, 6)
}

func TestClose_Empty(t *testing.T) {
	assert.NoError(t, (&App{}).Close())
}
