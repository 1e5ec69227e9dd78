package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"golang.org/x/oauth2/clientcredentials"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

const (
	defaultServer = "http://localhost:8080"
	apiPrefix     = "/api/v1"

	// ClientSecretEnvVar supplies the OAuth2 client secret so it stays off the command line
	ClientSecretEnvVar = "PORTALFS_CLIENT_SECRET"
)

// addClientFlags registers the connection flags every API command shares
func addClientFlags(fs *flag.FlagSet) {
	fs.String("server", envOr("PORTALFS_SERVER", defaultServer), "portalfs server URL")
	fs.String("user", os.Getenv("PORTALFS_USER"), "User id sent in the X-User-ID header")
	fs.String("token-url", os.Getenv("PORTALFS_TOKEN_URL"), "OAuth2 token endpoint for client credentials")
	fs.String("client-id", os.Getenv("PORTALFS_CLIENT_ID"), "OAuth2 client id")
	fs.Duration("timeout", 30*time.Second, "Request timeout")
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// apiClient talks to the portalfs HTTP API
type apiClient struct {
	baseURL    string
	user       string
	httpClient *http.Client
}

// clientFromFlags builds a client from parsed connection flags. With a token
// URL the client fetches bearer tokens through the client credentials grant;
// otherwise it identifies itself with the user header.
func clientFromFlags(ctx context.Context, fs *flag.FlagSet) (*apiClient, error) {
	server := fs.Lookup("server").Value.String()
	user := fs.Lookup("user").Value.String()
	tokenURL := fs.Lookup("token-url").Value.String()
	timeout, err := time.ParseDuration(fs.Lookup("timeout").Value.String())
	if err != nil {
		return nil, fmt.Errorf("invalid timeout: %w", err)
	}

	httpClient := &http.Client{Timeout: timeout}
	if tokenURL != "" {
		clientID := fs.Lookup("client-id").Value.String()
		if clientID == "" {
			return nil, fmt.Errorf("client-id is required with token-url")
		}
		creds := &clientcredentials.Config{
			ClientID:     clientID,
			ClientSecret: os.Getenv(ClientSecretEnvVar),
			TokenURL:     tokenURL,
			Scopes:       []string{"openid"},
		}
		httpClient = creds.Client(ctx)
		httpClient.Timeout = timeout
	} else if user == "" {
		return nil, fmt.Errorf("user or token-url is required")
	}

	return &apiClient{
		baseURL:    strings.TrimRight(server, "/") + apiPrefix,
		user:       user,
		httpClient: httpClient,
	}, nil
}

// apiError is the error body the server writes
type apiError struct {
	Status  int
	Message string `json:"error"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *apiClient) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if c.user != "" {
		req.Header.Set("X-User-ID", c.user)
	}
	return req, nil
}

func (c *apiClient) do(ctx context.Context, method, path string, body io.Reader, contentType string) (*http.Response, error) {
	req, err := c.newRequest(ctx, method, path, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return c.send(req)
}

// send executes req and turns error statuses into *apiError
func (c *apiClient) send(req *http.Request) (*http.Response, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s failed: %w", req.Method, req.URL.Path, err)
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		apiErr := &apiError{Status: resp.StatusCode}
		if err := json.NewDecoder(resp.Body).Decode(apiErr); err != nil || apiErr.Message == "" {
			apiErr.Message = http.StatusText(resp.StatusCode)
		}
		return nil, apiErr
	}
	return resp, nil
}

// sendJSON sends in as the request body (when non-nil) and decodes the
// response into out (when non-nil)
func (c *apiClient) sendJSON(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	contentType := ""
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	resp, err := c.do(ctx, method, path, body, contentType)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func (c *apiClient) getJSON(ctx context.Context, path string, out interface{}) error {
	return c.sendJSON(ctx, http.MethodGet, path, nil, out)
}

// listResponse mirrors the server's list envelope
type listResponse[T any] struct {
	Items []T `json:"items"`
	Count int `json:"count"`
}

// parseScope reads "project:ID" or "repository:ID@BRANCH"
func parseScope(s string) (vfs.Scope, error) {
	kind, rest, ok := strings.Cut(s, ":")
	if !ok {
		return vfs.Scope{}, fmt.Errorf("scope must look like project:ID or repository:ID@BRANCH, got %q", s)
	}
	containerType, err := vfs.ParseContainerType(kind)
	if err != nil {
		return vfs.Scope{}, err
	}

	idPart, branchPart, hasBranch := strings.Cut(rest, "@")
	id, err := strconv.ParseInt(idPart, 10, 64)
	if err != nil {
		return vfs.Scope{}, fmt.Errorf("invalid container id %q", idPart)
	}
	scope := vfs.Scope{ContainerType: containerType, ContainerID: id}
	if hasBranch {
		branchID, err := strconv.ParseInt(branchPart, 10, 64)
		if err != nil {
			return vfs.Scope{}, fmt.Errorf("invalid branch id %q", branchPart)
		}
		scope.BranchID = &branchID
	}
	return scope, scope.Validate()
}

// scopePath returns the /scopes/{type}/{id} prefix and the branch query
func scopePath(scope vfs.Scope, suffix string) string {
	path := fmt.Sprintf("/scopes/%s/%d/%s", strings.ToLower(string(scope.ContainerType)), scope.ContainerID, suffix)
	if scope.BranchID != nil {
		path += "?" + url.Values{"branch": {strconv.FormatInt(*scope.BranchID, 10)}}.Encode()
	}
	return path
}

// parseIDs reads a comma separated list of node ids
func parseIDs(s string) ([]int64, error) {
	var ids []int64
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid node id %q", part)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// optionalID returns nil for zero, which the flags use for "not set"
func optionalID(id int64) *int64 {
	if id == 0 {
		return nil
	}
	return &id
}

func int64Flag(fs *flag.FlagSet, name string) (int64, error) {
	v, err := strconv.ParseInt(fs.Lookup(name).Value.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return v, nil
}
