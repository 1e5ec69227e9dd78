package api

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/portalfs/pkg/branches"
	"github.com/platinummonkey/portalfs/pkg/httputil"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// BranchHandlers handles branch registry requests
type BranchHandlers struct {
	registry *branches.Registry
}

// NewBranchHandlers creates a new BranchHandlers
func NewBranchHandlers(registry *branches.Registry) *BranchHandlers {
	return &BranchHandlers{registry: registry}
}

// RegisterRoutes registers branch routes
func (h *BranchHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/repositories/{repo:[0-9]+}/init", h.InitRepository).Methods("POST")

	router.HandleFunc("/repositories/{repo:[0-9]+}/branches", h.ListBranches).Methods("GET")
	router.HandleFunc("/repositories/{repo:[0-9]+}/branches", h.CreateBranch).Methods("POST")
	router.HandleFunc("/repositories/{repo:[0-9]+}/branches/principal", h.GetPrincipal).Methods("GET")
	router.HandleFunc("/repositories/{repo:[0-9]+}/branches/resolve", h.ResolveBranch).Methods("GET")

	router.HandleFunc("/repositories/{repo:[0-9]+}/branches/{branch:[0-9]+}", h.GetBranch).Methods("GET")
	router.HandleFunc("/repositories/{repo:[0-9]+}/branches/{branch:[0-9]+}", h.RenameBranch).Methods("PATCH")
	router.HandleFunc("/repositories/{repo:[0-9]+}/branches/{branch:[0-9]+}", h.DeleteBranch).Methods("DELETE")
	router.HandleFunc("/repositories/{repo:[0-9]+}/branches/{branch:[0-9]+}/principal", h.SetPrincipal).Methods("POST")
	router.HandleFunc("/repositories/{repo:[0-9]+}/branches/{branch:[0-9]+}/protect", h.Protect).Methods("POST")
	router.HandleFunc("/repositories/{repo:[0-9]+}/branches/{branch:[0-9]+}/protect", h.Unprotect).Methods("DELETE")
	router.HandleFunc("/repositories/{repo:[0-9]+}/branches/{branch:[0-9]+}/commits", h.RecordCommit).Methods("POST")
}

// branchResponse adds display helpers to a branch
type branchResponse struct {
	*branches.Branch
	ShortHash      string    `json:"short_hash,omitempty"`
	MessageSummary string    `json:"message_summary,omitempty"`
	Scope          vfs.Scope `json:"scope"`
}

func newBranchResponse(b *branches.Branch) branchResponse {
	return branchResponse{
		Branch:         b,
		ShortHash:      b.ShortHash(),
		MessageSummary: b.MessageSummary(),
		Scope:          b.Scope(),
	}
}

func writeBranches(w http.ResponseWriter, list []*branches.Branch) {
	items := make([]branchResponse, len(list))
	for i, b := range list {
		items[i] = newBranchResponse(b)
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: items, Count: len(items)})
}

// branchInRepo loads the {branch} of the {repo} in the path
func (h *BranchHandlers) branchInRepo(w http.ResponseWriter, r *http.Request) (*branches.Branch, bool) {
	repo, ok := httputil.ParsePathInt64OrError(w, r, "repo")
	if !ok {
		return nil, false
	}
	id, ok := httputil.ParsePathInt64OrError(w, r, "branch")
	if !ok {
		return nil, false
	}

	b, err := h.registry.Get(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return nil, false
	}
	if b.RepositoryID != repo {
		httputil.WriteServiceError(w, fmt.Errorf("%w: branch %d in repository %d", vfs.ErrNotFound, id, repo))
		return nil, false
	}
	return b, true
}

// InitRepository handles POST /repositories/{repo}/init
func (h *BranchHandlers) InitRepository(w http.ResponseWriter, r *http.Request) {
	repo, ok := httputil.ParsePathInt64OrError(w, r, "repo")
	if !ok {
		return
	}

	var req struct {
		Principal string `json:"principal"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Principal == "" {
		req.Principal = "main"
	}

	b, err := h.registry.InitRepository(r.Context(), repo, req.Principal, callerID(r))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, newBranchResponse(b))
}

// ListBranches handles GET /repositories/{repo}/branches.
// ?q= filters by name fragment and ?protected=true lists protected branches.
func (h *BranchHandlers) ListBranches(w http.ResponseWriter, r *http.Request) {
	repo, ok := httputil.ParsePathInt64OrError(w, r, "repo")
	if !ok {
		return
	}
	protected, err := httputil.ParseQueryBool(r, "protected", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	var list []*branches.Branch
	switch q := r.URL.Query().Get("q"); {
	case protected:
		list, err = h.registry.ListProtected(r.Context(), repo)
	case q != "":
		list, err = h.registry.Search(r.Context(), repo, q)
	default:
		list, err = h.registry.List(r.Context(), repo)
	}
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	writeBranches(w, list)
}

// CreateBranch handles POST /repositories/{repo}/branches
func (h *BranchHandlers) CreateBranch(w http.ResponseWriter, r *http.Request) {
	repo, ok := httputil.ParsePathInt64OrError(w, r, "repo")
	if !ok {
		return
	}

	var req branches.CreateRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.RepositoryID = repo
	req.Actor = callerID(r)

	b, err := h.registry.CreateBranch(r.Context(), req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, newBranchResponse(b))
}

// GetPrincipal handles GET /repositories/{repo}/branches/principal
func (h *BranchHandlers) GetPrincipal(w http.ResponseWriter, r *http.Request) {
	repo, ok := httputil.ParsePathInt64OrError(w, r, "repo")
	if !ok {
		return
	}

	b, err := h.registry.Principal(r.Context(), repo)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, newBranchResponse(b))
}

// ResolveBranch handles GET /repositories/{repo}/branches/resolve?name=.
// An empty name resolves to the principal branch.
func (h *BranchHandlers) ResolveBranch(w http.ResponseWriter, r *http.Request) {
	repo, ok := httputil.ParsePathInt64OrError(w, r, "repo")
	if !ok {
		return
	}

	b, err := h.registry.ResolveOrPrincipal(r.Context(), repo, r.URL.Query().Get("name"))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, newBranchResponse(b))
}

// GetBranch handles GET /repositories/{repo}/branches/{branch}
func (h *BranchHandlers) GetBranch(w http.ResponseWriter, r *http.Request) {
	b, ok := h.branchInRepo(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, newBranchResponse(b))
}

// RenameBranch handles PATCH /repositories/{repo}/branches/{branch}
func (h *BranchHandlers) RenameBranch(w http.ResponseWriter, r *http.Request) {
	b, ok := h.branchInRepo(w, r)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.Name, "name") {
		return
	}

	renamed, err := h.registry.Rename(r.Context(), b.ID, req.Name)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, newBranchResponse(renamed))
}

// DeleteBranch handles DELETE /repositories/{repo}/branches/{branch}
func (h *BranchHandlers) DeleteBranch(w http.ResponseWriter, r *http.Request) {
	b, ok := h.branchInRepo(w, r)
	if !ok {
		return
	}

	if err := h.registry.Delete(r.Context(), b.ID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// SetPrincipal handles POST /repositories/{repo}/branches/{branch}/principal
func (h *BranchHandlers) SetPrincipal(w http.ResponseWriter, r *http.Request) {
	b, ok := h.branchInRepo(w, r)
	if !ok {
		return
	}

	principal, err := h.registry.SetPrincipal(r.Context(), b.RepositoryID, b.ID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, newBranchResponse(principal))
}

// Protect handles POST /repositories/{repo}/branches/{branch}/protect
func (h *BranchHandlers) Protect(w http.ResponseWriter, r *http.Request) {
	h.setProtected(w, r, true)
}

// Unprotect handles DELETE /repositories/{repo}/branches/{branch}/protect
func (h *BranchHandlers) Unprotect(w http.ResponseWriter, r *http.Request) {
	h.setProtected(w, r, false)
}

func (h *BranchHandlers) setProtected(w http.ResponseWriter, r *http.Request, protected bool) {
	b, ok := h.branchInRepo(w, r)
	if !ok {
		return
	}

	var err error
	if protected {
		b, err = h.registry.Protect(r.Context(), b.ID)
	} else {
		b, err = h.registry.Unprotect(r.Context(), b.ID)
	}
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, newBranchResponse(b))
}

// RecordCommit handles POST /repositories/{repo}/branches/{branch}/commits
func (h *BranchHandlers) RecordCommit(w http.ResponseWriter, r *http.Request) {
	b, ok := h.branchInRepo(w, r)
	if !ok {
		return
	}

	var commit branches.Commit
	if !httputil.ParseJSONOrError(w, r, &commit) {
		return
	}
	if commit.Author == "" {
		commit.Author = callerID(r)
	}

	updated, err := h.registry.RecordCommit(r.Context(), b.ID, commit)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, newBranchResponse(updated))
}
