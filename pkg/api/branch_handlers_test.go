package api

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

type testBranch struct {
	ID             int64     `json:"id"`
	RepositoryID   int64     `json:"repository_id"`
	Name           string    `json:"name"`
	IsPrincipal    bool      `json:"is_principal"`
	IsProtected    bool      `json:"is_protected"`
	LastCommitHash string    `json:"last_commit_hash"`
	ShortHash      string    `json:"short_hash"`
	MessageSummary string    `json:"message_summary"`
	Scope          vfs.Scope `json:"scope"`
}

func initRepo(t *testing.T, env *testEnv, repo string) testBranch {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/repositories/"+repo+"/init", "alice", map[string]string{})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var b testBranch
	decode(t, rec, &b)
	return b
}

func createBranch(t *testing.T, env *testEnv, repo, name string) testBranch {
	t.Helper()
	rec := env.do(t, http.MethodPost, "/repositories/"+repo+"/branches", "alice", map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var b testBranch
	decode(t, rec, &b)
	return b
}

func TestBranchHandlers_InitRepository(t *testing.T) {
	env := newTestEnv(t)
	main := initRepo(t, env, "7")

	assert.Equal(t, "main", main.Name)
	assert.True(t, main.IsPrincipal)
	assert.Equal(t, vfs.ContainerRepository, main.Scope.ContainerType)
	assert.Equal(t, int64(7), main.Scope.ContainerID)
	require.NotNil(t, main.Scope.BranchID)
	assert.Equal(t, main.ID, *main.Scope.BranchID)

	rec := env.do(t, http.MethodPost, "/repositories/7/init", "alice", map[string]string{})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestBranchHandlers_SwitchPrincipal(t *testing.T) {
	env := newTestEnv(t)
	main := initRepo(t, env, "7")
	dev := createBranch(t, env, "7", "develop")
	assert.False(t, dev.IsPrincipal)

	rec := env.do(t, http.MethodPost, "/repositories/7/branches/"+itoa(dev.ID)+"/principal", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/repositories/7/branches/principal", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var principal testBranch
	decode(t, rec, &principal)
	assert.Equal(t, dev.ID, principal.ID)

	rec = env.do(t, http.MethodGet, "/repositories/7/branches", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	count := 0
	for _, b := range listOf[testBranch](t, rec) {
		if b.IsPrincipal {
			count++
		}
	}
	assert.Equal(t, 1, count)

	// the former principal can now be deleted
	rec = env.do(t, http.MethodDelete, "/repositories/7/branches/"+itoa(main.ID), "alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBranchHandlers_DeleteRules(t *testing.T) {
	env := newTestEnv(t)
	main := initRepo(t, env, "7")
	feature := createBranch(t, env, "7", "feature")

	rec := env.do(t, http.MethodDelete, "/repositories/7/branches/"+itoa(main.ID), "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPost, "/repositories/7/branches/"+itoa(feature.ID)+"/protect", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var protected testBranch
	decode(t, rec, &protected)
	assert.True(t, protected.IsProtected)

	rec = env.do(t, http.MethodDelete, "/repositories/7/branches/"+itoa(feature.ID), "alice", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodDelete, "/repositories/7/branches/"+itoa(feature.ID)+"/protect", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodDelete, "/repositories/7/branches/"+itoa(feature.ID), "alice", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestBranchHandlers_BranchOfOtherRepository(t *testing.T) {
	env := newTestEnv(t)
	main := initRepo(t, env, "7")
	initRepo(t, env, "8")

	rec := env.do(t, http.MethodGet, "/repositories/8/branches/"+itoa(main.ID), "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestBranchHandlers_RenameAndResolve(t *testing.T) {
	env := newTestEnv(t)
	initRepo(t, env, "7")
	feature := createBranch(t, env, "7", "feature")

	rec := env.do(t, http.MethodPatch, "/repositories/7/branches/"+itoa(feature.ID), "alice", map[string]string{"name": "main"})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPatch, "/repositories/7/branches/"+itoa(feature.ID), "alice", map[string]string{"name": "feature-x"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/repositories/7/branches/resolve?name=feature-x", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resolved testBranch
	decode(t, rec, &resolved)
	assert.Equal(t, feature.ID, resolved.ID)

	rec = env.do(t, http.MethodGet, "/repositories/7/branches/resolve", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	decode(t, rec, &resolved)
	assert.Equal(t, "main", resolved.Name)

	rec = env.do(t, http.MethodGet, "/repositories/7/branches?q=feat", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, listOf[testBranch](t, rec), 1)
}

func TestBranchHandlers_RecordCommit(t *testing.T) {
	env := newTestEnv(t)
	main := initRepo(t, env, "7")

	rec := env.do(t, http.MethodPost, "/repositories/7/branches/"+itoa(main.ID)+"/commits", "alice", map[string]string{
		"hash":    "0123456789abcdef",
		"message": "Add getting started guide\n\nLonger body",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var b testBranch
	decode(t, rec, &b)
	assert.Equal(t, "0123456789abcdef", b.LastCommitHash)
	assert.Equal(t, "0123456", b.ShortHash)
	assert.Equal(t, "Add getting started guide", b.MessageSummary)
}
