package cli

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/portalfs/pkg/httputil"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// newFakeServer serves register's routes under the API prefix
func newFakeServer(t *testing.T, register func(r *mux.Router)) *httptest.Server {
	t.Helper()
	router := mux.NewRouter()
	register(router.PathPrefix(apiPrefix).Subrouter())
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func TestParseScope(t *testing.T) {
	branch := int64(7)

	tests := []struct {
		name    string
		input   string
		want    vfs.Scope
		wantErr bool
	}{
		{name: "project", input: "project:12", want: vfs.ProjectScope(12)},
		{name: "uppercase", input: "PROJECT:3", want: vfs.ProjectScope(3)},
		{name: "repository branch", input: "repository:3@7", want: vfs.Scope{ContainerType: vfs.ContainerRepository, ContainerID: 3, BranchID: &branch}},
		{name: "repository without branch", input: "repository:3", wantErr: true},
		{name: "project with branch", input: "project:3@1", wantErr: true},
		{name: "missing separator", input: "project", wantErr: true},
		{name: "unknown type", input: "team:1", wantErr: true},
		{name: "bad id", input: "project:abc", wantErr: true},
		{name: "bad branch", input: "repository:1@x", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseScope(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestScopePath(t *testing.T) {
	assert.Equal(t, "/scopes/project/12/roots", scopePath(vfs.ProjectScope(12), "roots"))
	assert.Equal(t, "/scopes/repository/3/trash?branch=7", scopePath(vfs.RepositoryScope(3, 7), "trash"))
}

func TestParseIDs(t *testing.T) {
	ids, err := parseIDs("1, 2,,3")
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, ids)

	ids, err = parseIDs("")
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = parseIDs("1,two")
	assert.Error(t, err)
}

func TestClientFromFlags_RequiresIdentity(t *testing.T) {
	t.Setenv("PORTALFS_USER", "")
	t.Setenv("PORTALFS_TOKEN_URL", "")
	t.Setenv("PORTALFS_CLIENT_ID", "")

	cmd := newLsCommand()
	require.NoError(t, cmd.Flags.Parse(nil))

	_, err := clientFromFlags(context.Background(), cmd.Flags)
	assert.ErrorContains(t, err, "user or token-url is required")

	require.NoError(t, cmd.Flags.Parse([]string{"-token-url", "http://idp.example/token"}))
	_, err = clientFromFlags(context.Background(), cmd.Flags)
	assert.ErrorContains(t, err, "client-id is required")
}

func TestClient_ErrorBody(t *testing.T) {
	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/nodes/5", func(w http.ResponseWriter, r *http.Request) {
			httputil.WriteForbidden(w, "permission denied")
		})
		r.HandleFunc("/nodes/6", func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		})
	})

	client := &apiClient{baseURL: srv.URL + apiPrefix, user: "alice", httpClient: srv.Client()}

	err := client.getJSON(context.Background(), "/nodes/5", nil)
	var apiErr *apiError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusForbidden, apiErr.Status)
	assert.Equal(t, "permission denied", apiErr.Message)

	err = client.getJSON(context.Background(), "/nodes/6", nil)
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusText(http.StatusBadGateway), apiErr.Message, "falls back to the status text")
}

func TestClient_ClientCredentials(t *testing.T) {
	t.Setenv(ClientSecretEnvVar, "s3cret")

	tokenRequests := 0
	srv := newFakeServer(t, func(r *mux.Router) {
		r.HandleFunc("/jobs", func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Authorization") != "Bearer tok-1" {
				httputil.WriteUnauthorized(w, "missing token")
				return
			}
			assert.Empty(t, r.Header.Get("X-User-ID"))
			httputil.WriteSuccess(w, httputil.ListResponse{Items: []interface{}{}, Count: 0})
		})
	})
	tokenServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenRequests++
		id, secret, ok := r.BasicAuth()
		if !ok {
			require.NoError(t, r.ParseForm())
			id, secret = r.PostForm.Get("client_id"), r.PostForm.Get("client_secret")
		}
		if id != "portal-admin" || secret != "s3cret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		httputil.WriteSuccess(w, map[string]interface{}{
			"access_token": "tok-1",
			"token_type":   "bearer",
			"expires_in":   3600,
		})
	}))
	defer tokenServer.Close()

	output, err := captureStdout(t, func() error {
		return runJobs([]string{
			"-server", srv.URL,
			"-user", "",
			"-token-url", tokenServer.URL,
			"-client-id", "portal-admin",
		})
	})
	require.NoError(t, err)
	assert.Empty(t, output)
	assert.Equal(t, 1, tokenRequests)
}
