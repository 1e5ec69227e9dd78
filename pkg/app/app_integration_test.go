//go:build integration

package app

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/platinummonkey/portalfs/pkg/config"
	"github.com/platinummonkey/portalfs/pkg/jobs"
	"github.com/platinummonkey/portalfs/pkg/nodes"
	"github.com/platinummonkey/portalfs/pkg/observability"
	"github.com/platinummonkey/portalfs/pkg/permissions"
	"github.com/platinummonkey/portalfs/pkg/sharelinks"
	pgstore "github.com/platinummonkey/portalfs/pkg/storage/postgres"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// setupApp starts PostgreSQL and assembles an App against it
func setupApp(t *testing.T) (*App, func()) {
	t.Helper()
	ctx := context.Background()

	postgresContainer, err := postgres.Run(ctx, "postgres:15-alpine",
		postgres.WithDatabase("portalfs_test"),
		postgres.WithUsername("test"),
		postgres.WithPassword("test"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err, "Failed to start PostgreSQL container")

	connStr, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Storage.PostgresURL = connStr
	cfg.Storage.FilesystemRoot = t.TempDir()
	cfg.Jobs.PollInterval = 50 * time.Millisecond

	a, err := New(ctx, cfg, observability.NewLogger(observability.ErrorLevel, io.Discard))
	require.NoError(t, err)

	return a, func() {
		a.Close()
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := postgresContainer.Terminate(cleanupCtx); err != nil {
			t.Logf("Warning: Failed to terminate container: %v", err)
		}
	}
}

func TestApp_Integration(t *testing.T) {
	a, cleanup := setupApp(t)
	defer cleanup()

	ctx := context.Background()
	svc := a.Services
	scope := vfs.ProjectScope(1)

	t.Run("migrations are idempotent", func(t *testing.T) {
		require.NoError(t, pgstore.RunMigrations(ctx, a.DB, Migrations()...))
	})

	docs, err := svc.Nodes.CreateFolder(ctx, nodes.CreateFolderRequest{Scope: scope, Name: "docs", Actor: "alice"})
	require.NoError(t, err)
	guides, err := svc.Nodes.CreateFolder(ctx, nodes.CreateFolderRequest{Scope: scope, ParentID: &docs.ID, Name: "guides", Actor: "alice"})
	require.NoError(t, err)
	file, err := svc.Nodes.CreateFile(ctx, nodes.CreateFileRequest{
		Scope:    scope,
		ParentID: &guides.ID,
		Name:     "intro.md",
		MimeType: "text/markdown",
		Content:  strings.NewReader("# Intro"),
		Actor:    "alice",
	})
	require.NoError(t, err)

	t.Run("paths resolve", func(t *testing.T) {
		got, err := svc.Nodes.ResolveByPath(ctx, scope, "/docs/guides/intro.md")
		require.NoError(t, err)
		assert.Equal(t, file.ID, got.ID)
	})

	t.Run("inherited grants", func(t *testing.T) {
		_, err := svc.Permissions.Grant(ctx, permissions.GrantRequest{
			NodeID:      docs.ID,
			UserID:      "bob",
			Level:       permissions.LevelWrite,
			Inheritable: true,
			Actor:       "alice",
		})
		require.NoError(t, err)

		level, err := svc.Resolver.EffectivePermission(ctx, file.ID, "bob", nil)
		require.NoError(t, err)
		assert.Equal(t, permissions.LevelWrite, level)
	})

	t.Run("share links", func(t *testing.T) {
		link, err := svc.ShareLinks.Issue(ctx, file.ID, "alice", sharelinks.Options{})
		require.NoError(t, err)

		got, err := svc.ShareLinks.Get(ctx, link.Token)
		require.NoError(t, err)
		assert.True(t, got.IsActive)
	})

	t.Run("copy job", func(t *testing.T) {
		runCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go svc.Jobs.Run(runCtx)

		job, err := svc.Jobs.Submit(ctx, jobs.SubmitRequest{
			UserID:    "alice",
			Operation: jobs.OperationCopy,
			NodeIDs:   []int64{file.ID},
			Target:    &jobs.Target{Scope: scope, ParentID: &docs.ID},
		})
		require.NoError(t, err)

		require.Eventually(t, func() bool {
			got, err := svc.Jobs.Get(ctx, job.ID)
			return err == nil && got.Status.IsTerminal()
		}, 30*time.Second, 100*time.Millisecond)

		got, err := svc.Jobs.Get(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, jobs.StatusCompleted, got.Status, got.ErrorMessage)

		copied, err := svc.Nodes.ResolveByPath(ctx, scope, "/docs/intro.md")
		require.NoError(t, err)
		assert.NotEqual(t, file.ID, copied.ID)
	})

	t.Run("soft delete", func(t *testing.T) {
		deleted, err := svc.Nodes.SoftDelete(ctx, guides.ID, "alice")
		require.NoError(t, err)
		assert.Equal(t, 2, deleted)

		_, err = svc.Nodes.ResolveByPath(ctx, scope, "/docs/guides/intro.md")
		assert.ErrorIs(t, err, vfs.ErrNotFound)
	})
}
