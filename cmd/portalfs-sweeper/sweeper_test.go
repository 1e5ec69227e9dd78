package main

import (
	"context"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portalfs/pkg/clipboard"
	"github.com/platinummonkey/portalfs/pkg/jobs"
	"github.com/platinummonkey/portalfs/pkg/nodes"
	"github.com/platinummonkey/portalfs/pkg/sharelinks"
	"github.com/platinummonkey/portalfs/pkg/storage"
	"github.com/platinummonkey/portalfs/pkg/testutil"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

func newTestSweeper(t *testing.T) (*sweeper, *testutil.StubClock) {
	t.Helper()
	db := testutil.OpenSQLite(t, testutil.NodesSchema, testutil.ShareLinksSchema, testutil.JobsSchema)
	objects, err := storage.NewFileSystemStore(t.TempDir())
	require.NoError(t, err)

	clock := testutil.FixedClock()
	nodeService := nodes.NewService(db, objects, nodes.WithClock(clock), nodes.WithIDGenerator(&testutil.StubIDGenerator{}))

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return &sweeper{
		clipboard:     clipboard.NewService(clipboard.NewMemoryStore(clock), clipboard.WithClock(clock)),
		links:         sharelinks.NewService(db, nodeService, sharelinks.WithClock(clock)),
		jobs:          jobs.NewEngine(db, jobs.WithClock(clock), jobs.WithLogger(logger)),
		nodes:         nodeService,
		clock:         clock,
		logger:        logger,
		jobRetention:  24 * time.Hour,
		jobStaleAfter: time.Hour,
		keepVersions:  1,
	}, clock
}

func TestSweeper_ExpireClipboards(t *testing.T) {
	s, clock := newTestSweeper(t)
	ctx := context.Background()

	_, err := s.clipboard.Stage(ctx, clipboard.StageRequest{
		UserID:    "alice",
		Operation: clipboard.OperationCut,
		NodeIDs:   []int64{1},
		Source:    vfs.ProjectScope(1),
	})
	require.NoError(t, err)

	require.NoError(t, s.expireClipboards(ctx))
	_, err = s.clipboard.GetActive(ctx, "alice")
	require.NoError(t, err, "entry is still fresh")

	clock.Advance(clipboard.DefaultTTL)
	require.NoError(t, s.expireClipboards(ctx))
	_, err = s.clipboard.GetActive(ctx, "alice")
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestSweeper_DeactivateShareLinks(t *testing.T) {
	s, clock := newTestSweeper(t)
	ctx := context.Background()

	file, err := s.nodes.CreateFile(ctx, nodes.CreateFileRequest{
		Scope:    vfs.ProjectScope(1),
		Name:     "guide.md",
		MimeType: "text/markdown",
		Content:  strings.NewReader("guide"),
		Actor:    "alice",
	})
	require.NoError(t, err)

	expiresAt := clock.Now().Add(time.Hour)
	expiring, err := s.links.Issue(ctx, file.ID, "alice", sharelinks.Options{ExpiresAt: &expiresAt})
	require.NoError(t, err)
	open, err := s.links.Issue(ctx, file.ID, "alice", sharelinks.Options{})
	require.NoError(t, err)

	clock.Advance(2 * time.Hour)
	require.NoError(t, s.deactivateShareLinks(ctx))

	got, err := s.links.Get(ctx, expiring.Token)
	require.NoError(t, err)
	assert.False(t, got.IsActive)
	require.NotNil(t, got.DeactivatedAt)

	got, err = s.links.Get(ctx, open.Token)
	require.NoError(t, err)
	assert.True(t, got.IsActive)
}

func TestSweeper_CleanupJobs(t *testing.T) {
	s, clock := newTestSweeper(t)
	ctx := context.Background()

	job, err := s.jobs.Submit(ctx, jobs.SubmitRequest{UserID: "alice", Operation: jobs.OperationCompress, NodeIDs: []int64{1}})
	require.NoError(t, err)
	require.NoError(t, s.jobs.Start(ctx, job.ID))

	clock.Advance(2 * time.Hour)
	require.NoError(t, s.cleanupJobs(ctx))

	got, err := s.jobs.Get(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, jobs.StatusFailed, got.Status, "orphaned jobs are failed")
	failed, err := s.jobs.CountByStatus(ctx, jobs.StatusFailed)
	require.NoError(t, err)
	assert.Equal(t, 1, failed)

	clock.Advance(25 * time.Hour)
	require.NoError(t, s.cleanupJobs(ctx))

	_, err = s.jobs.Get(ctx, job.ID)
	assert.ErrorIs(t, err, vfs.ErrNotFound, "old finished jobs are purged")
}

func TestSweeper_PruneVersions(t *testing.T) {
	s, _ := newTestSweeper(t)
	ctx := context.Background()

	file, err := s.nodes.CreateFile(ctx, nodes.CreateFileRequest{
		Scope:    vfs.ProjectScope(1),
		Name:     "notes.txt",
		MimeType: "text/plain",
		Content:  strings.NewReader("v1"),
		Actor:    "alice",
	})
	require.NoError(t, err)
	for _, content := range []string{"v2", "v3", "v4"} {
		_, err := s.nodes.ReplaceContent(ctx, file.ID, strings.NewReader(content), "text/plain", "alice")
		require.NoError(t, err)
	}

	require.NoError(t, s.pruneVersions(ctx))

	versions, err := s.nodes.ListVersions(ctx, file.ID)
	require.NoError(t, err)
	assert.Len(t, versions, 2, "the current version and one obsolete version remain")
}

func TestSweeper_RunAll(t *testing.T) {
	s, _ := newTestSweeper(t)
	assert.NoError(t, s.runAll(context.Background()))
	assert.Len(t, s.tasks(), 4)
}
