package tags

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portalfs/pkg/testutil"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

func setupTestService(t *testing.T) (*Service, *testutil.StubClock) {
	t.Helper()
	db := testutil.OpenSQLite(t, testutil.TagsSchema)
	clock := testutil.FixedClock()
	return NewService(db, clock), clock
}

func TestService_Tags(t *testing.T) {
	svc, _ := setupTestService(t)
	ctx := context.Background()

	api, err := svc.CreateTag(ctx, CreateTagRequest{Name: " api ", Description: "API specs", Color: "#FF8800", Actor: "alice"})
	require.NoError(t, err)
	assert.Equal(t, "api", api.Name)
	assert.Equal(t, "#ff8800", api.Color)

	_, err = svc.CreateTag(ctx, CreateTagRequest{Name: "api", Actor: "bob"})
	assert.ErrorIs(t, err, vfs.ErrConflict)

	_, err = svc.CreateTag(ctx, CreateTagRequest{Name: "bad", Color: "orange"})
	assert.ErrorIs(t, err, vfs.ErrInvalidArgument)

	draft, err := svc.CreateTag(ctx, CreateTagRequest{Name: "draft", Actor: "alice"})
	require.NoError(t, err)

	list, err := svc.ListTags(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "api", list[0].Name)
	assert.Equal(t, "API specs", list[0].Description)
	assert.Equal(t, "", list[1].Color)

	got, err := svc.GetTag(ctx, draft.ID)
	require.NoError(t, err)
	assert.Equal(t, "draft", got.Name)
	_, err = svc.GetTag(ctx, 999)
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}

func TestService_NodeTagging(t *testing.T) {
	svc, clock := setupTestService(t)
	ctx := context.Background()

	api, err := svc.CreateTag(ctx, CreateTagRequest{Name: "api", Actor: "alice"})
	require.NoError(t, err)
	draft, err := svc.CreateTag(ctx, CreateTagRequest{Name: "draft", Actor: "alice"})
	require.NoError(t, err)

	require.NoError(t, svc.TagNode(ctx, 10, api.ID, "alice"))
	require.NoError(t, svc.TagNode(ctx, 10, api.ID, "alice"))
	require.NoError(t, svc.TagNode(ctx, 10, draft.ID, "alice"))
	clock.Advance(time.Minute)
	require.NoError(t, svc.TagNode(ctx, 11, api.ID, "bob"))
	assert.ErrorIs(t, svc.TagNode(ctx, 10, 999, "alice"), vfs.ErrNotFound)

	onNode, err := svc.TagsForNode(ctx, 10)
	require.NoError(t, err)
	require.Len(t, onNode, 2)
	assert.Equal(t, "api", onNode[0].Name)
	assert.Equal(t, "draft", onNode[1].Name)

	tagged, err := svc.NodesWithTag(ctx, api.ID)
	require.NoError(t, err)
	assert.Equal(t, []int64{10, 11}, tagged)

	require.NoError(t, svc.UntagNode(ctx, 10, draft.ID))
	assert.ErrorIs(t, svc.UntagNode(ctx, 10, draft.ID), vfs.ErrNotFound)

	require.NoError(t, svc.DeleteTag(ctx, api.ID))
	assert.ErrorIs(t, svc.DeleteTag(ctx, api.ID), vfs.ErrNotFound)
	onNode, err = svc.TagsForNode(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, onNode)
}

func TestService_Favorites(t *testing.T) {
	svc, clock := setupTestService(t)
	ctx := context.Background()

	first, err := svc.AddFavorite(ctx, "alice", 1, "Payments API")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.AddFavorite(ctx, "alice", 2, "")
	require.NoError(t, err)
	clock.Advance(time.Minute)
	_, err = svc.AddFavorite(ctx, "bob", 1, "payments")
	require.NoError(t, err)

	again, err := svc.AddFavorite(ctx, "alice", 1, "Payments v2")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "Payments v2", again.Label)

	list, err := svc.ListFavorites(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, int64(2), list[0].NodeID)
	assert.Equal(t, int64(1), list[1].NodeID)

	found, err := svc.SearchFavorites(ctx, "alice", "PAYMENTS")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, int64(1), found[0].NodeID)

	count, err := svc.CountFavoritesOfNode(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	_, err = svc.UpdateLabel(ctx, "alice", 2, "Docs")
	require.NoError(t, err)
	_, err = svc.UpdateLabel(ctx, "carol", 2, "Docs")
	assert.ErrorIs(t, err, vfs.ErrNotFound)

	on, err := svc.ToggleFavorite(ctx, "alice", 2)
	require.NoError(t, err)
	assert.False(t, on)
	on, err = svc.ToggleFavorite(ctx, "alice", 3)
	require.NoError(t, err)
	assert.True(t, on)

	is, err := svc.IsFavorite(ctx, "alice", 3)
	require.NoError(t, err)
	assert.True(t, is)

	require.NoError(t, svc.RemoveFavorite(ctx, "alice", 3))
	assert.ErrorIs(t, svc.RemoveFavorite(ctx, "alice", 3), vfs.ErrNotFound)

	_, err = svc.AddFavorite(ctx, "", 1, "")
	assert.ErrorIs(t, err, vfs.ErrInvalidArgument)
}
