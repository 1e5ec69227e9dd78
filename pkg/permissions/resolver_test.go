package permissions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portalfs/pkg/nodes"
	"github.com/platinummonkey/portalfs/pkg/storage"
	"github.com/platinummonkey/portalfs/pkg/testutil"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// parentMap is an AncestorSource over a static child -> parent table
type parentMap struct {
	parents map[int64]int64
	calls   int
}

func (p *parentMap) AncestorIDs(ctx context.Context, id int64) ([]int64, error) {
	p.calls++
	chain := []int64{id}
	for {
		parent, ok := p.parents[id]
		if !ok {
			return chain, nil
		}
		chain = append(chain, parent)
		id = parent
	}
}

// countingGrants wraps a GrantSource and counts lookups
type countingGrants struct {
	next  GrantSource
	calls int
}

func (c *countingGrants) ListGrants(ctx context.Context, nodeID int64) ([]*Grant, error) {
	c.calls++
	return c.next.ListGrants(ctx, nodeID)
}

// tree: 1 -> 2 -> 3 -> 4
func setupResolver(t *testing.T) (*Service, *Resolver) {
	t.Helper()
	svc := setupTestService(t)
	tree := &parentMap{parents: map[int64]int64{2: 1, 3: 2, 4: 3}}
	return svc, NewResolver(svc, tree, nil)
}

func grant(t *testing.T, svc *Service, req GrantRequest) {
	t.Helper()
	req.Actor = "root"
	_, err := svc.Grant(context.Background(), req)
	require.NoError(t, err)
}

func effective(t *testing.T, r *Resolver, node int64, user string, teams ...string) Level {
	t.Helper()
	level, err := r.EffectivePermission(context.Background(), node, user, teams)
	require.NoError(t, err)
	return level
}

func TestResolver_NoGrantsIsNone(t *testing.T) {
	_, r := setupResolver(t)
	assert.Equal(t, LevelNone, effective(t, r, 4, "alice"))
}

func TestResolver_InheritsFromNearestAncestor(t *testing.T) {
	svc, r := setupResolver(t)
	grant(t, svc, GrantRequest{NodeID: 1, UserID: "alice", Level: LevelAdmin, Inheritable: true})
	grant(t, svc, GrantRequest{NodeID: 2, UserID: "alice", Level: LevelRead, Inheritable: true})

	// the closer READ wins over the higher ADMIN at the root
	assert.Equal(t, LevelRead, effective(t, r, 4, "alice"))
	assert.Equal(t, LevelAdmin, effective(t, r, 1, "alice"))
}

func TestResolver_NonInheritableGrantsStayOnTheirNode(t *testing.T) {
	svc, r := setupResolver(t)
	grant(t, svc, GrantRequest{NodeID: 1, UserID: "alice", Level: LevelRead, Inheritable: true})
	grant(t, svc, GrantRequest{NodeID: 2, UserID: "alice", Level: LevelAdmin, Inheritable: false})

	assert.Equal(t, LevelAdmin, effective(t, r, 2, "alice"))
	// node 2's grant does not flow down, so node 3 falls through to the root
	assert.Equal(t, LevelRead, effective(t, r, 3, "alice"))
}

func TestResolver_DirectNonInheritableIsAuthoritative(t *testing.T) {
	svc, r := setupResolver(t)
	grant(t, svc, GrantRequest{NodeID: 3, UserID: "alice", Level: LevelAdmin, Inheritable: true})
	grant(t, svc, GrantRequest{NodeID: 4, UserID: "alice", Level: LevelRead, Inheritable: false})

	assert.Equal(t, LevelRead, effective(t, r, 4, "alice"))
}

func TestResolver_MaxOfUserAndTeamGrants(t *testing.T) {
	svc, r := setupResolver(t)
	grant(t, svc, GrantRequest{NodeID: 2, UserID: "bob", Level: LevelRead, Inheritable: true})
	grant(t, svc, GrantRequest{NodeID: 2, TeamID: "devs", Level: LevelWrite, Inheritable: true})
	grant(t, svc, GrantRequest{NodeID: 2, TeamID: "ops", Level: LevelAdmin, Inheritable: true})

	assert.Equal(t, LevelWrite, effective(t, r, 3, "bob", "devs"))
	assert.Equal(t, LevelAdmin, effective(t, r, 3, "bob", "devs", "ops"))
	assert.Equal(t, LevelRead, effective(t, r, 3, "bob"))
	assert.Equal(t, LevelNone, effective(t, r, 3, "carol"))
	assert.Equal(t, LevelWrite, effective(t, r, 3, "carol", "devs"))
}

func TestResolver_RequireUsesDirectory(t *testing.T) {
	db := testutil.OpenSQLite(t, testutil.PermissionsSchema)
	svc := NewService(db)
	ctx := context.Background()

	_, err := svc.CreateTeam(ctx, "writers", "Writers")
	require.NoError(t, err)
	require.NoError(t, svc.AddMember(ctx, "writers", "bob"))
	grant(t, svc, GrantRequest{NodeID: 1, TeamID: "writers", Level: LevelWrite, Inheritable: true})

	r := NewResolver(svc, &parentMap{parents: map[int64]int64{2: 1}}, NewSQLDirectory(db))

	require.NoError(t, r.Require(ctx, 2, "bob", LevelRead))
	require.NoError(t, r.Require(ctx, 2, "bob", LevelWrite))
	assert.ErrorIs(t, r.Require(ctx, 2, "bob", LevelAdmin), vfs.ErrPermissionDenied)
	assert.ErrorIs(t, r.Require(ctx, 2, "eve", LevelRead), vfs.ErrPermissionDenied)
}

func TestSession_Memoizes(t *testing.T) {
	svc := setupTestService(t)
	tree := &parentMap{parents: map[int64]int64{2: 1, 3: 2, 4: 3}}
	grants := &countingGrants{next: svc}
	r := NewResolver(grants, tree, nil)
	grant(t, svc, GrantRequest{NodeID: 1, UserID: "alice", Level: LevelWrite, Inheritable: true})

	ctx := context.Background()
	session := r.Session("alice", nil)
	for _, id := range []int64{4, 3, 2, 4} {
		level, err := session.Effective(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, LevelWrite, level)
	}
	assert.Equal(t, 1, tree.calls)
	assert.Equal(t, 4, grants.calls)
	assert.Equal(t, "alice", session.UserID())
}

func TestResolver_NodeTreeScenario(t *testing.T) {
	db := testutil.OpenSQLite(t, testutil.NodesSchema, testutil.PermissionsSchema)
	objects, err := storage.NewFileSystemStore(t.TempDir())
	require.NoError(t, err)
	tree := nodes.NewService(db, objects)
	svc := NewService(db)
	ctx := context.Background()
	scope := vfs.ProjectScope(1)

	docs, err := tree.CreateFolder(ctx, nodes.CreateFolderRequest{Scope: scope, Name: "docs", Actor: "alice"})
	require.NoError(t, err)
	readme, err := tree.CreateFolder(ctx, nodes.CreateFolderRequest{Scope: scope, ParentID: &docs.ID, Name: "readme.md", Actor: "alice"})
	require.NoError(t, err)

	_, err = svc.CreateTeam(ctx, "T", "Team T")
	require.NoError(t, err)
	require.NoError(t, svc.AddMember(ctx, "T", "B"))

	g, err := svc.Grant(ctx, GrantRequest{NodeID: docs.ID, TeamID: "T", Level: LevelWrite, Inheritable: true, Actor: "A"})
	require.NoError(t, err)

	r := NewResolver(svc, tree, NewSQLDirectory(db))
	session, err := r.ForUser(ctx, "B")
	require.NoError(t, err)
	level, err := session.Effective(ctx, readme.ID)
	require.NoError(t, err)
	assert.Equal(t, LevelWrite, level)

	require.NoError(t, svc.Revoke(ctx, g.ID))
	session, err = r.ForUser(ctx, "B")
	require.NoError(t, err)
	level, err = session.Effective(ctx, readme.ID)
	require.NoError(t, err)
	assert.Equal(t, LevelNone, level)

	_, err = r.EffectivePermission(ctx, 9999, "B", nil)
	assert.ErrorIs(t, err, vfs.ErrNotFound)
}
