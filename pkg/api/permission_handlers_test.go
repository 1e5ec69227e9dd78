package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portalfs/pkg/permissions"
)

func TestPermissionHandlers_GrantRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")
	env.grant(t, root.ID, "bob", permissions.LevelWrite)

	body := map[string]interface{}{"user_id": "carol", "level": "READ", "inheritable": true}
	rec := env.do(t, http.MethodPost, "/nodes/"+itoa(root.ID)+"/grants", "bob", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPost, "/nodes/"+itoa(root.ID)+"/grants", "alice", body)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/nodes/"+itoa(root.ID), "carol", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestPermissionHandlers_InvalidGrants(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")

	tests := []struct {
		name string
		body map[string]interface{}
	}{
		{"unknown level", map[string]interface{}{"user_id": "bob", "level": "OWNER"}},
		{"no subject", map[string]interface{}{"level": "READ"}},
		{"both subjects", map[string]interface{}{"user_id": "bob", "team_id": "docs", "level": "READ"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/nodes/"+itoa(root.ID)+"/grants", "alice", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
		})
	}
}

func TestPermissionHandlers_InheritanceAndRevoke(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")
	guides := env.createFolder(t, "alice", root.ID, "guides")

	rec := env.do(t, http.MethodPost, "/nodes/"+itoa(root.ID)+"/grants", "alice", map[string]interface{}{
		"user_id": "bob", "level": "READ", "inheritable": false,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var grant permissions.Grant
	decode(t, rec, &grant)

	rec = env.do(t, http.MethodGet, "/nodes/"+itoa(root.ID), "bob", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/nodes/"+itoa(guides.ID), "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code, "non-inheritable grants stop at their node")

	rec = env.do(t, http.MethodDelete, "/nodes/"+itoa(guides.ID)+"/grants/"+itoa(grant.ID), "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "grant belongs to another node")

	rec = env.do(t, http.MethodDelete, "/nodes/"+itoa(root.ID)+"/grants/"+itoa(grant.ID), "alice", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/nodes/"+itoa(root.ID), "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/nodes/"+itoa(root.ID)+"/grants", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	grants := listOf[permissions.Grant](t, rec)
	require.Len(t, grants, 1)
	require.NotNil(t, grants[0].UserID)
	assert.Equal(t, "alice", *grants[0].UserID)
}

func TestPermissionHandlers_EffectivePermissionOfOthers(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")
	env.grant(t, root.ID, "bob", permissions.LevelRead)

	rec := env.do(t, http.MethodGet, "/nodes/"+itoa(root.ID)+"/permission", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var perm permissionResponse
	decode(t, rec, &perm)
	assert.Equal(t, permissions.LevelRead, perm.Level)

	rec = env.do(t, http.MethodGet, "/nodes/"+itoa(root.ID)+"/permission?user=alice", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/nodes/"+itoa(root.ID)+"/permission?user=bob", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &perm)
	assert.Equal(t, "bob", perm.UserID)
	assert.Equal(t, permissions.LevelRead, perm.Level)

	rec = env.do(t, http.MethodGet, "/nodes/"+itoa(root.ID)+"/permission?user=carol", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &perm)
	assert.Equal(t, permissions.LevelNone, perm.Level)
}

func TestPermissionHandlers_TeamGrants(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")

	rec := env.do(t, http.MethodPost, "/teams", "alice", map[string]string{"id": "writers", "name": "Writers"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodPost, "/teams/writers/members", "bob", map[string]string{"user_id": "bob"})
	assert.Equal(t, http.StatusForbidden, rec.Code, "only members manage a team")

	rec = env.do(t, http.MethodPost, "/teams/writers/members", "alice", map[string]string{"user_id": "bob"})
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodPost, "/nodes/"+itoa(root.ID)+"/grants", "alice", map[string]interface{}{
		"team_id": "writers", "level": "WRITE", "inheritable": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = env.do(t, http.MethodGet, "/nodes/"+itoa(root.ID)+"/permission", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var perm permissionResponse
	decode(t, rec, &perm)
	assert.Equal(t, permissions.LevelWrite, perm.Level)

	rec = env.do(t, http.MethodGet, "/teams/writers/members", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.ElementsMatch(t, []string{"alice", "bob"}, listOf[string](t, rec))

	rec = env.do(t, http.MethodDelete, "/teams/writers/members/bob", "alice", nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = env.do(t, http.MethodGet, "/nodes/"+itoa(root.ID), "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestPermissionHandlers_UnknownTeam(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(t, http.MethodGet, "/teams/ghosts", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = env.do(t, http.MethodGet, "/teams/ghosts/members", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
