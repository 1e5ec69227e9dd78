package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/portalfs/pkg/httputil"
	"github.com/platinummonkey/portalfs/pkg/nodes"
	"github.com/platinummonkey/portalfs/pkg/observability"
	"github.com/platinummonkey/portalfs/pkg/permissions"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// multipartMemory is how much of a multipart upload is buffered in memory before spilling to disk
const multipartMemory = 32 << 20

// TreeHandlers handles node tree browsing and mutation
type TreeHandlers struct {
	nodes          *nodes.Service
	grants         *permissions.Service
	authz          *authorizer
	maxUploadBytes int64
}

// NewTreeHandlers creates a new TreeHandlers
func NewTreeHandlers(nodeService *nodes.Service, grants *permissions.Service, authz *authorizer, maxUploadBytes int64) *TreeHandlers {
	return &TreeHandlers{
		nodes:          nodeService,
		grants:         grants,
		authz:          authz,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes registers tree routes
func (h *TreeHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/scopes/{type}/{id:[0-9]+}/roots", h.ListRoots).Methods("GET")
	router.HandleFunc("/scopes/{type}/{id:[0-9]+}/trash", h.ListTrash).Methods("GET")
	router.HandleFunc("/scopes/{type}/{id:[0-9]+}/size", h.TotalSize).Methods("GET")
	router.HandleFunc("/scopes/{type}/{id:[0-9]+}/resolve", h.ResolvePath).Methods("GET")

	router.HandleFunc("/nodes/folders", h.CreateFolder).Methods("POST")
	router.HandleFunc("/nodes/files", h.CreateFile).Methods("POST")

	router.HandleFunc("/nodes/{id:[0-9]+}", h.GetNode).Methods("GET")
	router.HandleFunc("/nodes/{id:[0-9]+}", h.UpdateNode).Methods("PATCH")
	router.HandleFunc("/nodes/{id:[0-9]+}", h.DeleteNode).Methods("DELETE")
	router.HandleFunc("/nodes/{id:[0-9]+}/children", h.ListChildren).Methods("GET")
	router.HandleFunc("/nodes/{id:[0-9]+}/ancestors", h.ListAncestors).Methods("GET")
	router.HandleFunc("/nodes/{id:[0-9]+}/content", h.GetContent).Methods("GET")
	router.HandleFunc("/nodes/{id:[0-9]+}/content", h.ReplaceContent).Methods("PUT")
	router.HandleFunc("/nodes/{id:[0-9]+}/versions", h.ListVersions).Methods("GET")
}

// ListRoots handles GET /scopes/{type}/{id}/roots.
// Roots the caller cannot read are left out.
func (h *TreeHandlers) ListRoots(w http.ResponseWriter, r *http.Request) {
	scope, ok := httputil.ParseScopeOrError(w, r)
	if !ok {
		return
	}

	roots, err := h.nodes.ListRoots(r.Context(), scope)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	h.writeReadable(w, r, roots)
}

// ListTrash handles GET /scopes/{type}/{id}/trash. The caller sees what they
// deleted and what was deleted under folders they can write to.
func (h *TreeHandlers) ListTrash(w http.ResponseWriter, r *http.Request) {
	scope, ok := httputil.ParseScopeOrError(w, r)
	if !ok {
		return
	}

	trash, err := h.nodes.ListTrash(r.Context(), scope)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	session, err := h.authz.session(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	caller := callerID(r)
	visible := make([]*nodes.Node, 0, len(trash))
	for _, n := range trash {
		if n.UpdatedBy == caller {
			visible = append(visible, n)
			continue
		}
		if n.ParentID == nil {
			continue
		}
		level, err := session.Effective(r.Context(), *n.ParentID)
		if errors.Is(err, vfs.ErrNotFound) {
			continue
		}
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		if level.Satisfies(permissions.LevelWrite) {
			visible = append(visible, n)
		}
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: visible, Count: len(visible)})
}

// TotalSize handles GET /scopes/{type}/{id}/size. The caller needs READ on
// every root of the scope.
func (h *TreeHandlers) TotalSize(w http.ResponseWriter, r *http.Request) {
	scope, ok := httputil.ParseScopeOrError(w, r)
	if !ok {
		return
	}

	roots, err := h.nodes.ListRoots(r.Context(), scope)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	ids := make([]int64, len(roots))
	for i, root := range roots {
		ids[i] = root.ID
	}
	if _, ok := h.authz.require(w, r, permissions.LevelRead, ids...); !ok {
		return
	}

	size, err := h.nodes.TotalSize(r.Context(), scope)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"scope":      scope,
		"total_size": size,
	})
}

// ResolvePath handles GET /scopes/{type}/{id}/resolve?path=/docs/readme.md
func (h *TreeHandlers) ResolvePath(w http.ResponseWriter, r *http.Request) {
	scope, ok := httputil.ParseScopeOrError(w, r)
	if !ok {
		return
	}

	node, err := h.nodes.ResolveByPath(r.Context(), scope, r.URL.Query().Get("path"))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelRead, node.ID); !ok {
		return
	}
	httputil.WriteSuccess(w, node)
}

// CreateFolder handles POST /nodes/folders
func (h *TreeHandlers) CreateFolder(w http.ResponseWriter, r *http.Request) {
	var req nodes.CreateFolderRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Actor = callerID(r)

	if req.ParentID != nil {
		if _, ok := h.authz.require(w, r, permissions.LevelWrite, *req.ParentID); !ok {
			return
		}
	}

	node, err := h.nodes.CreateFolder(r.Context(), req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if !h.grantCreator(w, r, node) {
		return
	}
	httputil.WriteCreated(w, node)
}

// CreateFile handles POST /nodes/files as a multipart form with fields
// container_type, container_id, branch_id, parent_id, name and a "file" part
func (h *TreeHandlers) CreateFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		httputil.WriteBadRequest(w, fmt.Sprintf("invalid multipart form: %v", err))
		return
	}
	defer r.MultipartForm.RemoveAll()

	scope, err := scopeFromForm(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	parentID, err := optionalInt64(r.FormValue("parent_id"))
	if err != nil {
		httputil.WriteBadRequest(w, "invalid parent_id")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		httputil.WriteBadRequest(w, "file part is required")
		return
	}
	defer file.Close()

	name := r.FormValue("name")
	if name == "" {
		name = header.Filename
	}
	mimeType := r.FormValue("mime_type")
	if mimeType == "" {
		mimeType = header.Header.Get("Content-Type")
	}

	if parentID != nil {
		if _, ok := h.authz.require(w, r, permissions.LevelWrite, *parentID); !ok {
			return
		}
	}

	node, err := h.nodes.CreateFile(r.Context(), nodes.CreateFileRequest{
		Scope:    scope,
		ParentID: parentID,
		Name:     name,
		MimeType: mimeType,
		Content:  file,
		Actor:    callerID(r),
	})
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if !h.grantCreator(w, r, node) {
		return
	}
	httputil.WriteCreated(w, node)
}

// grantCreator makes the creator of a root node its administrator. Nodes
// below a root inherit from their ancestors instead.
func (h *TreeHandlers) grantCreator(w http.ResponseWriter, r *http.Request, node *nodes.Node) bool {
	if !node.IsRoot() {
		return true
	}

	_, err := h.grants.Grant(r.Context(), permissions.GrantRequest{
		NodeID:      node.ID,
		UserID:      node.CreatedBy,
		Level:       permissions.LevelAdmin,
		Inheritable: true,
		Actor:       node.CreatedBy,
	})
	if err == nil {
		return true
	}

	// an unreachable root is worse than no root
	ctx := context.WithoutCancel(r.Context())
	if _, delErr := h.nodes.SoftDelete(ctx, node.ID, node.CreatedBy); delErr != nil {
		observability.FromContext(ctx).WithError(delErr).Errorf("Failed to roll back root node %d", node.ID)
	}
	httputil.WriteServiceError(w, err)
	return false
}

// GetNode handles GET /nodes/{id}
func (h *TreeHandlers) GetNode(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelRead, id); !ok {
		return
	}

	node, err := h.nodes.Get(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, node)
}

// updateNodeRequest renames and/or moves a node. A parent_id that is present
// but null moves the node to the root of its scope.
type updateNodeRequest struct {
	Name     *string         `json:"name,omitempty"`
	ParentID json.RawMessage `json:"parent_id,omitempty"`
}

func (req updateNodeRequest) destination() (move bool, parentID *int64, err error) {
	if len(req.ParentID) == 0 {
		return false, nil, nil
	}
	if string(req.ParentID) == "null" {
		return true, nil, nil
	}
	var id int64
	if err := json.Unmarshal(req.ParentID, &id); err != nil {
		return false, nil, fmt.Errorf("%w: parent_id must be an integer or null", vfs.ErrInvalidArgument)
	}
	return true, &id, nil
}

// UpdateNode handles PATCH /nodes/{id}
func (h *TreeHandlers) UpdateNode(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req updateNodeRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	move, parentID, err := req.destination()
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if req.Name == nil && !move {
		httputil.WriteBadRequest(w, "name or parent_id is required")
		return
	}

	session, ok := h.authz.require(w, r, permissions.LevelWrite, id)
	if !ok {
		return
	}
	if move {
		// a node moved to the root keeps only its direct grants
		target, required := id, permissions.LevelAdmin
		if parentID != nil {
			target, required = *parentID, permissions.LevelWrite
		}
		if err := session.Require(r.Context(), target, required); err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
	}

	actor := callerID(r)
	var node *nodes.Node
	switch {
	case req.Name != nil && move:
		node, err = h.nodes.Relocate(r.Context(), id, *req.Name, parentID, actor)
	case move:
		node, err = h.nodes.Move(r.Context(), id, parentID, actor)
	default:
		node, err = h.nodes.Rename(r.Context(), id, *req.Name, actor)
	}
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, node)
}

// DeleteNode handles DELETE /nodes/{id}. The whole subtree goes to the trash.
func (h *TreeHandlers) DeleteNode(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelWrite, id); !ok {
		return
	}

	deleted, err := h.nodes.SoftDelete(r.Context(), id, callerID(r))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]int{"deleted": deleted})
}

// ListChildren handles GET /nodes/{id}/children
func (h *TreeHandlers) ListChildren(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelRead, id); !ok {
		return
	}

	children, err := h.nodes.ListChildren(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	h.writeReadable(w, r, children)
}

// ListAncestors handles GET /nodes/{id}/ancestors, root first, for breadcrumbs
func (h *TreeHandlers) ListAncestors(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelRead, id); !ok {
		return
	}

	chain, err := h.nodes.Ancestors(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: chain, Count: len(chain)})
}

// GetContent handles GET /nodes/{id}/content
func (h *TreeHandlers) GetContent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelRead, id); !ok {
		return
	}

	content, node, err := h.nodes.OpenContent(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	defer content.Close()

	writeContent(w, r, node, content, "inline")
}

// ReplaceContent handles PUT /nodes/{id}/content with the new bytes as the body
func (h *TreeHandlers) ReplaceContent(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelWrite, id); !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	node, err := h.nodes.ReplaceContent(r.Context(), id, r.Body, r.Header.Get("Content-Type"), callerID(r))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "content too large")
			return
		}
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, node)
}

// ListVersions handles GET /nodes/{id}/versions
func (h *TreeHandlers) ListVersions(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelRead, id); !ok {
		return
	}

	versions, err := h.nodes.ListVersions(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: versions, Count: len(versions)})
}

func (h *TreeHandlers) writeReadable(w http.ResponseWriter, r *http.Request, list []*nodes.Node) {
	session, err := h.authz.session(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	visible, err := readable(r.Context(), session, list)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: visible, Count: len(visible)})
}

// writeContent streams file bytes with headers describing the node
func writeContent(w http.ResponseWriter, r *http.Request, node *nodes.Node, content io.Reader, disposition string) {
	mimeType := node.MimeType
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", mimeType)
	w.Header().Set("Content-Length", strconv.FormatInt(node.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("%s; filename=%q", disposition, node.Name))
	if node.Checksum != "" {
		w.Header().Set("ETag", strconv.Quote(node.Checksum))
	}
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, content); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warnf("Content of node %d truncated", node.ID)
	}
}

func scopeFromForm(r *http.Request) (vfs.Scope, error) {
	containerType, err := vfs.ParseContainerType(r.FormValue("container_type"))
	if err != nil {
		return vfs.Scope{}, err
	}
	containerID, err := strconv.ParseInt(r.FormValue("container_id"), 10, 64)
	if err != nil {
		return vfs.Scope{}, fmt.Errorf("%w: invalid container_id", vfs.ErrInvalidArgument)
	}
	branchID, err := optionalInt64(r.FormValue("branch_id"))
	if err != nil {
		return vfs.Scope{}, fmt.Errorf("%w: invalid branch_id", vfs.ErrInvalidArgument)
	}

	scope := vfs.Scope{ContainerType: containerType, ContainerID: containerID, BranchID: branchID}
	return scope, scope.Validate()
}

func optionalInt64(s string) (*int64, error) {
	if s == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil, err
	}
	return &v, nil
}
