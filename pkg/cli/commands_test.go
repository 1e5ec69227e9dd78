package cli

import (
	"encoding/json"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portalfs/pkg/httputil"
	"github.com/platinummonkey/portalfs/pkg/jobs"
	"github.com/platinummonkey/portalfs/pkg/nodes"
	"github.com/platinummonkey/portalfs/pkg/permissions"
	"github.com/platinummonkey/portalfs/pkg/sharelinks"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

func connArgs(serverURL string, args ...string) []string {
	return append([]string{"-server", serverURL, "-user", "alice"}, args...)
}

func requireUser(t *testing.T, r *http.Request) {
	t.Helper()
	assert.Equal(t, "alice", r.Header.Get("X-User-ID"))
}

func TestLs_Roots(t *testing.T) {
	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/scopes/project/12/roots", func(w http.ResponseWriter, r *http.Request) {
			requireUser(t, r)
			httputil.WriteSuccess(w, httputil.ListResponse{
				Items: []nodes.Node{
					{ID: 1, Kind: nodes.KindFolder, Name: "docs", Path: "/docs"},
					{ID: 2, Kind: nodes.KindFile, Name: "README.md", Path: "/README.md", Size: 42},
				},
				Count: 2,
			})
		}).Methods("GET")
	})

	output, err := captureStdout(t, func() error {
		return runLs(connArgs(srv.URL, "-scope", "project:12"))
	})
	require.NoError(t, err)
	assert.Contains(t, output, "/docs")
	assert.Contains(t, output, "/README.md")
	assert.Contains(t, output, "42")
}

func TestLs_TrashOfBranch(t *testing.T) {
	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/scopes/repository/3/trash", func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "7", r.URL.Query().Get("branch"))
			httputil.WriteSuccess(w, httputil.ListResponse{
				Items: []nodes.Node{{ID: 9, Kind: nodes.KindFile, Path: "/old.txt", IsDeleted: true}},
				Count: 1,
			})
		}).Methods("GET")
	})

	output, err := captureStdout(t, func() error {
		return runLs(connArgs(srv.URL, "-scope", "repository:3@7", "-trash"))
	})
	require.NoError(t, err)
	assert.Contains(t, output, "/old.txt")
}

func TestLs_Children(t *testing.T) {
	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/nodes/4/children", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteSuccess(w, httputil.ListResponse{
				Items: []nodes.Node{{ID: 5, Kind: nodes.KindFile, Path: "/docs/a.md"}},
				Count: 1,
			})
		}).Methods("GET")
	})

	output, err := captureStdout(t, func() error {
		return runLs(connArgs(srv.URL, "-parent", "4"))
	})
	require.NoError(t, err)
	assert.Contains(t, output, "/docs/a.md")

	err = runLs(connArgs(srv.URL, "-parent", "4", "-trash"))
	assert.ErrorContains(t, err, "trash lists a whole scope")
}

func TestMkdir(t *testing.T) {
	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/nodes/folders", func(w http.ResponseWriter, r *http.Request) {
			requireUser(t, r)
			var req nodes.CreateFolderRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, vfs.ProjectScope(12), req.Scope)
			require.NotNil(t, req.ParentID)
			assert.Equal(t, int64(40), *req.ParentID)
			assert.Equal(t, "guides", req.Name)

			httputil.WriteCreated(w, nodes.Node{ID: 41, Kind: nodes.KindFolder, Name: req.Name, Path: "/docs/guides"})
		}).Methods("POST")
	})

	output, err := captureStdout(t, func() error {
		return runMkdir(connArgs(srv.URL, "-scope", "project:12", "-parent", "40", "-name", "guides"))
	})
	require.NoError(t, err)
	assert.Contains(t, output, "/docs/guides")

	err = runMkdir(connArgs(srv.URL, "-scope", "project:12"))
	assert.ErrorContains(t, err, "name is required")
}

func TestRm(t *testing.T) {
	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/nodes/41", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteSuccess(w, map[string]int{"deleted": 3})
		}).Methods("DELETE")
		r.HandleFunc("/nodes/42", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteErrorMessage(w, http.StatusNotFound, "node 42 not found")
		}).Methods("DELETE")
	})

	output, err := captureStdout(t, func() error {
		return runRm(connArgs(srv.URL, "-node", "41"))
	})
	require.NoError(t, err)
	assert.Contains(t, output, "Deleted 3 node(s)")

	err = runRm(connArgs(srv.URL, "-node", "42"))
	assert.ErrorContains(t, err, "node 42 not found")
}

func TestUpload_NewFile(t *testing.T) {
	local := filepath.Join(t.TempDir(), "openapi.json")
	require.NoError(t, os.WriteFile(local, []byte(`{"openapi":"3.1.0"}`), 0644))

	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/nodes/files", func(w http.ResponseWriter, r *http.Request) {
			requireUser(t, r)
			require.NoError(t, r.ParseMultipartForm(1<<20))
			assert.Equal(t, "REPOSITORY", r.FormValue("container_type"))
			assert.Equal(t, "3", r.FormValue("container_id"))
			assert.Equal(t, "7", r.FormValue("branch_id"))
			assert.Equal(t, "40", r.FormValue("parent_id"))
			assert.Equal(t, "spec.json", r.FormValue("name"))
			assert.Equal(t, "application/json", r.FormValue("mime_type"))

			file, header, err := r.FormFile("file")
			require.NoError(t, err)
			defer file.Close()
			content, _ := io.ReadAll(file)
			assert.Equal(t, "openapi.json", header.Filename)
			assert.Equal(t, `{"openapi":"3.1.0"}`, string(content))

			httputil.WriteCreated(w, nodes.Node{ID: 50, Kind: nodes.KindFile, Path: "/api/spec.json", Size: int64(len(content))})
		}).Methods("POST")
	})

	output, err := captureStdout(t, func() error {
		return runUpload(connArgs(srv.URL,
			"-scope", "repository:3@7",
			"-parent", "40",
			"-name", "spec.json",
			"-file", local,
		))
	})
	require.NoError(t, err)
	assert.Contains(t, output, "/api/spec.json")
}

func TestUpload_ReplaceContent(t *testing.T) {
	local := filepath.Join(t.TempDir(), "notes.json")
	require.NoError(t, os.WriteFile(local, []byte(`{"v":2}`), 0644))

	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/nodes/42/content", func(w http.ResponseWriter, r *http.Request) {
			body, _ := io.ReadAll(r.Body)
			assert.Equal(t, `{"v":2}`, string(body))
			assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
			httputil.WriteSuccess(w, nodes.Node{ID: 42, Kind: nodes.KindFile, Path: "/notes.json", Size: int64(len(body))})
		}).Methods("PUT")
	})

	output, err := captureStdout(t, func() error {
		return runUpload(connArgs(srv.URL, "-replace", "42", "-file", local))
	})
	require.NoError(t, err)
	assert.Contains(t, output, "/notes.json")
}

func TestDownload_ToFile(t *testing.T) {
	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/nodes/42/content", func(w http.ResponseWriter, r *http.Request) {
			requireUser(t, r)
			w.Header().Set("Content-Type", "text/plain")
			w.Write([]byte("hello portal"))
		}).Methods("GET")
	})

	out := filepath.Join(t.TempDir(), "hello.txt")
	require.NoError(t, runDownload(connArgs(srv.URL, "-node", "42", "-out", out)))

	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "hello portal", string(content))

	assert.ErrorContains(t, runDownload(connArgs(srv.URL)), "node is required")
}

func TestShare_Issue(t *testing.T) {
	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/nodes/42/share-links", func(w http.ResponseWriter, r *http.Request) {
			var req issueRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))

			require.NotNil(t, req.ExpiresAt)
			assert.WithinDuration(t, time.Now().Add(72*time.Hour), *req.ExpiresAt, time.Minute)
			require.NotNil(t, req.MaxDownloads)
			assert.Equal(t, 10, *req.MaxDownloads)
			assert.Equal(t, "hunter2", req.Password)
			require.NotNil(t, req.AllowDownload)
			assert.False(t, *req.AllowDownload)
			assert.Nil(t, req.AllowPreview)

			httputil.WriteCreated(w, sharelinks.Link{
				Token:        "abc123",
				NodeID:       42,
				IsActive:     true,
				MaxDownloads: req.MaxDownloads,
				ExpiresAt:    req.ExpiresAt,
			})
		}).Methods("POST")
	})

	output, err := captureStdout(t, func() error {
		return runShare(connArgs(srv.URL,
			"-node", "42",
			"-expires", "72h",
			"-max-downloads", "10",
			"-password", "hunter2",
			"-no-download",
		))
	})
	require.NoError(t, err)
	assert.Contains(t, output, "abc123")
	assert.Contains(t, output, "downloads=0/10")
}

func TestShare_ListAndDeactivate(t *testing.T) {
	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/share-links", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteSuccess(w, httputil.ListResponse{
				Items: []sharelinks.Link{{Token: "t1", NodeID: 1, IsActive: true}, {Token: "t2", NodeID: 2}},
				Count: 2,
			})
		}).Methods("GET")
		r.HandleFunc("/share-links/t1", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteSuccess(w, sharelinks.Link{Token: "t1", NodeID: 1})
		}).Methods("DELETE")
	})

	output, err := captureStdout(t, func() error {
		return runShare(connArgs(srv.URL, "-list"))
	})
	require.NoError(t, err)
	assert.Contains(t, output, "t1  node=1  active")
	assert.Contains(t, output, "t2  node=2  inactive")

	output, err = captureStdout(t, func() error {
		return runShare(connArgs(srv.URL, "-deactivate", "t1"))
	})
	require.NoError(t, err)
	assert.Contains(t, output, "t1  node=1  inactive")
}

func TestGrant(t *testing.T) {
	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/nodes/40/grants", func(w http.ResponseWriter, r *http.Request) {
			var req grantRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, "docs", req.TeamID)
			assert.Empty(t, req.UserID)
			assert.Equal(t, "WRITE", req.Level)
			assert.True(t, req.Inheritable)

			team := req.TeamID
			httputil.WriteCreated(w, permissions.Grant{ID: 8, NodeID: 40, TeamID: &team, Level: permissions.LevelWrite, Inheritable: true})
		}).Methods("POST")
	})

	output, err := captureStdout(t, func() error {
		return runGrant(connArgs(srv.URL, "-node", "40", "-to-team", "docs", "-level", "write"))
	})
	require.NoError(t, err)
	assert.Contains(t, output, "team:docs")
	assert.Contains(t, output, "subtree")

	err = runGrant(connArgs(srv.URL, "-node", "40", "-to-team", "docs", "-to-user", "bob"))
	assert.ErrorContains(t, err, "exactly one of")

	err = runGrant(connArgs(srv.URL, "-node", "40", "-to-user", "bob", "-level", "owner"))
	assert.ErrorIs(t, err, vfs.ErrInvalidArgument)
}

func TestSubmit_BulkUploadStagesFiles(t *testing.T) {
	dir := t.TempDir()
	first := filepath.Join(dir, "a.json")
	second := filepath.Join(dir, "b.json")
	require.NoError(t, os.WriteFile(first, []byte(`{"a":1}`), 0644))
	require.NoError(t, os.WriteFile(second, []byte(`{"b":2}`), 0644))

	staged := 0
	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/uploads", func(w http.ResponseWriter, r *http.Request) {
			staged++
			body, _ := io.ReadAll(r.Body)
			httputil.WriteCreated(w, map[string]interface{}{
				"item": jobs.UploadItem{
					Key:      jobs.UploadKeyPrefix + r.Header.Get("X-File-Name"),
					Name:     r.Header.Get("X-File-Name"),
					MimeType: r.Header.Get("Content-Type"),
				},
				"size": len(body),
			})
		}).Methods("POST")
		r.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
			var req jobs.SubmitRequest
			require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
			assert.Equal(t, jobs.OperationBulkUpload, req.Operation)
			require.Len(t, req.Items, 2)
			assert.Equal(t, "uploads/a.json", req.Items[0].Key)
			assert.Equal(t, "b.json", req.Items[1].Name)
			require.NotNil(t, req.Target)
			assert.Equal(t, vfs.ProjectScope(12), req.Target.Scope)
			require.NotNil(t, req.Target.ParentID)
			assert.Equal(t, int64(40), *req.Target.ParentID)

			httputil.WriteAccepted(w, jobs.Job{ID: 7, Operation: req.Operation, Status: jobs.StatusPending, TotalFiles: 2})
		}).Methods("POST")
	})

	output, err := captureStdout(t, func() error {
		return runSubmit(connArgs(srv.URL,
			"-op", "bulk_upload",
			"-files", first+","+second,
			"-target-scope", "project:12",
			"-target-parent", "40",
		))
	})
	require.NoError(t, err)
	assert.Equal(t, 2, staged)
	assert.Contains(t, output, "BULK_UPLOAD")
	assert.Contains(t, output, "PENDING")

	err = runSubmit(connArgs(srv.URL, "-op", "shred", "-nodes", "1"))
	assert.ErrorIs(t, err, vfs.ErrInvalidArgument)
}

func TestJobs_WaitUntilFinished(t *testing.T) {
	polls := 0
	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/jobs/7", func(w http.ResponseWriter, r *http.Request) {
			polls++
			job := jobs.Job{ID: 7, Operation: jobs.OperationCompress, Status: jobs.StatusProcessing, ProgressPercent: 50}
			if polls >= 3 {
				job.Status = jobs.StatusCompleted
				job.ProgressPercent = 100
				job.Result = "https://objects.example/archive.zip"
			}
			httputil.WriteSuccess(w, job)
		}).Methods("GET")
	})

	output, err := captureStdout(t, func() error {
		return runJobs(connArgs(srv.URL, "-id", "7", "-wait", "-interval", "1ms"))
	})
	require.NoError(t, err)
	assert.Equal(t, 3, polls)
	assert.Contains(t, output, "COMPLETED")
	assert.Contains(t, output, "result: https://objects.example/archive.zip")
}

func TestJobs_CancelConflict(t *testing.T) {
	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/jobs/7/cancel", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteErrorMessage(w, http.StatusConflict, "job 7 is already COMPLETED")
		}).Methods("POST")
	})

	err := runJobs(connArgs(srv.URL, "-id", "7", "-cancel"))
	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)

	assert.ErrorContains(t, runJobs(connArgs(srv.URL, "-cancel")), "id is required")
}
