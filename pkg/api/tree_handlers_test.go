package api

import (
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portalfs/pkg/middleware"
	"github.com/platinummonkey/portalfs/pkg/nodes"
	"github.com/platinummonkey/portalfs/pkg/permissions"
)

func TestTreeHandlers_CreateRootGrantsAdmin(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")

	assert.Equal(t, "/docs", root.Path)
	assert.Equal(t, "alice", root.CreatedBy)

	rec := env.do(t, http.MethodGet, "/nodes/"+itoa(root.ID)+"/permission", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var perm permissionResponse
	decode(t, rec, &perm)
	assert.Equal(t, permissions.LevelAdmin, perm.Level)
}

func TestTreeHandlers_CreateFolderNeedsWriteOnParent(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")

	rec := env.do(t, http.MethodPost, "/nodes/folders", "bob", map[string]interface{}{
		"scope":     root.Scope,
		"parent_id": root.ID,
		"name":      "guides",
	})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	env.grant(t, root.ID, "bob", permissions.LevelWrite)
	child := env.createFolder(t, "bob", root.ID, "guides")
	assert.Equal(t, "/docs/guides", child.Path)
}

func TestTreeHandlers_ListRootsFiltersUnreadable(t *testing.T) {
	env := newTestEnv(t)
	env.createRoot(t, "alice", "alice-docs")
	env.createRoot(t, "bob", "bob-docs")

	rec := env.do(t, http.MethodGet, "/scopes/projects/1/roots", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	roots := listOf[nodes.Node](t, rec)
	require.Len(t, roots, 1)
	assert.Equal(t, "alice-docs", roots[0].Name)
}

func TestTreeHandlers_ChildrenAndAncestors(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")
	guides := env.createFolder(t, "alice", root.ID, "guides")
	file := env.createFile(t, "alice", guides.ID, "intro.md", "# Intro")

	rec := env.do(t, http.MethodGet, "/nodes/"+itoa(root.ID)+"/children", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	children := listOf[nodes.Node](t, rec)
	require.Len(t, children, 1)
	assert.Equal(t, guides.ID, children[0].ID)

	rec = env.do(t, http.MethodGet, "/nodes/"+itoa(file.ID)+"/ancestors", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	chain := listOf[nodes.Node](t, rec)
	require.Len(t, chain, 3)
	assert.Equal(t, root.ID, chain[0].ID)
	assert.Equal(t, file.ID, chain[2].ID)
}

func TestTreeHandlers_ResolvePath(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")
	file := env.createFile(t, "alice", root.ID, "readme.md", "hello")

	rec := env.do(t, http.MethodGet, "/scopes/projects/1/resolve?path=/docs/readme.md", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var node nodes.Node
	decode(t, rec, &node)
	assert.Equal(t, file.ID, node.ID)

	rec = env.do(t, http.MethodGet, "/scopes/projects/1/resolve?path=/docs/readme.md", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/scopes/projects/1/resolve?path=/docs/missing.md", "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTreeHandlers_RenameAndMove(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")
	guides := env.createFolder(t, "alice", root.ID, "guides")
	archive := env.createFolder(t, "alice", root.ID, "archive")
	file := env.createFile(t, "alice", guides.ID, "intro.md", "# Intro")

	rec := env.do(t, http.MethodPatch, "/nodes/"+itoa(file.ID), "alice", map[string]interface{}{
		"name":      "overview.md",
		"parent_id": archive.ID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var moved nodes.Node
	decode(t, rec, &moved)
	assert.Equal(t, "/docs/archive/overview.md", moved.Path)
	require.NotNil(t, moved.ParentID)
	assert.Equal(t, archive.ID, *moved.ParentID)

	rec = env.do(t, http.MethodPatch, "/nodes/"+itoa(file.ID), "alice", map[string]interface{}{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestTreeHandlers_RenameAndMoveConflictChangesNothing(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")
	a := env.createFolder(t, "alice", root.ID, "a")
	b := env.createFolder(t, "alice", root.ID, "b")
	x := env.createFile(t, "alice", a.ID, "x.txt", "x")
	env.createFile(t, "alice", b.ID, "y.txt", "y")

	rec := env.do(t, http.MethodPatch, "/nodes/"+itoa(x.ID), "alice", map[string]interface{}{
		"name":      "y.txt",
		"parent_id": b.ID,
	})
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())

	rec = env.do(t, http.MethodGet, "/nodes/"+itoa(x.ID), "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var got nodes.Node
	decode(t, rec, &got)
	assert.Equal(t, "/docs/a/x.txt", got.Path)
	assert.Equal(t, "x.txt", got.Name)
}

func TestTreeHandlers_MoveToRootNeedsAdmin(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")
	guides := env.createFolder(t, "alice", root.ID, "guides")
	env.grant(t, root.ID, "bob", permissions.LevelWrite)

	body := map[string]interface{}{"parent_id": nil}
	rec := env.do(t, http.MethodPatch, "/nodes/"+itoa(guides.ID), "bob", body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPatch, "/nodes/"+itoa(guides.ID), "alice", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var moved nodes.Node
	decode(t, rec, &moved)
	assert.True(t, moved.IsRoot())
	assert.Equal(t, "/guides", moved.Path)
}

func TestTreeHandlers_DeleteAndTrash(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")
	guides := env.createFolder(t, "alice", root.ID, "guides")
	env.createFile(t, "alice", guides.ID, "intro.md", "# Intro")
	env.grant(t, root.ID, "bob", permissions.LevelWrite)

	rec := env.do(t, http.MethodDelete, "/nodes/"+itoa(guides.ID), "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var deleted map[string]int
	decode(t, rec, &deleted)
	assert.Equal(t, 2, deleted["deleted"])

	rec = env.do(t, http.MethodGet, "/nodes/"+itoa(guides.ID), "alice", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// bob deleted both; alice only sees what sat under a still writable folder
	for user, want := range map[string]int{"bob": 2, "alice": 1, "carol": 0} {
		rec = env.do(t, http.MethodGet, "/scopes/projects/1/trash", user, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Len(t, listOf[nodes.Node](t, rec), want, user)
	}
}

func TestTreeHandlers_TotalSize(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")
	env.createFile(t, "alice", root.ID, "a.txt", "12345")
	env.createFile(t, "alice", root.ID, "b.txt", "123")

	size := func(user string) int64 {
		rec := env.do(t, http.MethodGet, "/scopes/projects/1/size", user, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		var resp struct {
			TotalSize int64 `json:"total_size"`
		}
		decode(t, rec, &resp)
		return resp.TotalSize
	}

	assert.Equal(t, int64(8), size("alice"))

	rec := env.do(t, http.MethodGet, "/scopes/projects/1/size", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	env.grant(t, root.ID, "bob", permissions.LevelRead)
	assert.Equal(t, int64(8), size("bob"))

	// a second root bob cannot read hides the total again
	env.createRoot(t, "alice", "private")
	rec = env.do(t, http.MethodGet, "/scopes/projects/1/size", "bob", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/scopes/projects/2/size", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code, "empty scope")
}

func TestTreeHandlers_UploadFile(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")

	var body bytes.Buffer
	form := multipart.NewWriter(&body)
	require.NoError(t, form.WriteField("container_type", "projects"))
	require.NoError(t, form.WriteField("container_id", "1"))
	require.NoError(t, form.WriteField("parent_id", itoa(root.ID)))
	require.NoError(t, form.WriteField("mime_type", "text/markdown"))
	part, err := form.CreateFormFile("file", "readme.md")
	require.NoError(t, err)
	_, err = part.Write([]byte("# Readme"))
	require.NoError(t, err)
	require.NoError(t, form.Close())

	req := httptest.NewRequest(http.MethodPost, APIPrefix+"/nodes/files", &body)
	req.Header.Set("Content-Type", form.FormDataContentType())
	req.Header.Set(middleware.DefaultUserHeader, "alice")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	var file nodes.Node
	decode(t, rec, &file)
	assert.Equal(t, "readme.md", file.Name)
	assert.Equal(t, "text/markdown", file.MimeType)
	assert.Equal(t, int64(8), file.Size)
	assert.Equal(t, "/docs/readme.md", file.Path)
}

func TestTreeHandlers_ContentAndVersions(t *testing.T) {
	env := newTestEnv(t)
	root := env.createRoot(t, "alice", "docs")
	file := env.createFile(t, "alice", root.ID, "notes.txt", "first")

	rec := env.do(t, http.MethodGet, "/nodes/"+itoa(file.ID)+"/content", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "first", rec.Body.String())
	assert.Equal(t, "text/plain", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "inline")

	req := httptest.NewRequest(http.MethodPut, APIPrefix+"/nodes/"+itoa(file.ID)+"/content", strings.NewReader("second version"))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set(middleware.DefaultUserHeader, "alice")
	rec = httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var updated nodes.Node
	decode(t, rec, &updated)
	assert.Equal(t, int64(len("second version")), updated.Size)

	rec = env.do(t, http.MethodGet, "/nodes/"+itoa(file.ID)+"/content", "alice", nil)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, "second version", string(body))

	rec = env.do(t, http.MethodGet, "/nodes/"+itoa(file.ID)+"/versions", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var versions struct {
		Count int `json:"count"`
	}
	decode(t, rec, &versions)
	assert.Equal(t, 2, versions.Count)
}

func TestTreeHandlers_ContentTooLarge(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.MaxUploadBytes = 4 })
	root := env.createRoot(t, "alice", "docs")
	file := env.createFile(t, "alice", root.ID, "notes.txt", "abc")

	req := httptest.NewRequest(http.MethodPut, APIPrefix+"/nodes/"+itoa(file.ID)+"/content", strings.NewReader("far too long"))
	req.Header.Set(middleware.DefaultUserHeader, "alice")
	rec := httptest.NewRecorder()
	env.server.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}
