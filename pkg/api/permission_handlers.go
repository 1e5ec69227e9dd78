package api

import (
	"fmt"
	"net/http"
	"slices"
	"strings"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/portalfs/pkg/httputil"
	"github.com/platinummonkey/portalfs/pkg/permissions"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// PermissionHandlers handles grants, effective permission queries and teams
type PermissionHandlers struct {
	service  *permissions.Service
	resolver *permissions.Resolver
	authz    *authorizer
}

// NewPermissionHandlers creates a new PermissionHandlers
func NewPermissionHandlers(service *permissions.Service, resolver *permissions.Resolver, authz *authorizer) *PermissionHandlers {
	return &PermissionHandlers{service: service, resolver: resolver, authz: authz}
}

// RegisterRoutes registers permission routes
func (h *PermissionHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/nodes/{id:[0-9]+}/grants", h.ListGrants).Methods("GET")
	router.HandleFunc("/nodes/{id:[0-9]+}/grants", h.CreateGrant).Methods("POST")
	router.HandleFunc("/nodes/{id:[0-9]+}/grants/{grant:[0-9]+}", h.RevokeGrant).Methods("DELETE")
	router.HandleFunc("/nodes/{id:[0-9]+}/permission", h.EffectivePermission).Methods("GET")

	router.HandleFunc("/teams", h.CreateTeam).Methods("POST")
	router.HandleFunc("/teams/{team}", h.GetTeam).Methods("GET")
	router.HandleFunc("/teams/{team}/members", h.ListMembers).Methods("GET")
	router.HandleFunc("/teams/{team}/members", h.AddMember).Methods("POST")
	router.HandleFunc("/teams/{team}/members/{user}", h.RemoveMember).Methods("DELETE")
}

// ListGrants handles GET /nodes/{id}/grants
func (h *PermissionHandlers) ListGrants(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelAdmin, id); !ok {
		return
	}

	grants, err := h.service.ListGrants(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: grants, Count: len(grants)})
}

type createGrantRequest struct {
	UserID      string `json:"user_id,omitempty"`
	TeamID      string `json:"team_id,omitempty"`
	Level       string `json:"level"`
	Inheritable bool   `json:"inheritable"`
}

// CreateGrant handles POST /nodes/{id}/grants. Granting the same subject
// again replaces its level.
func (h *PermissionHandlers) CreateGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req createGrantRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	level, err := permissions.ParseLevel(req.Level)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	if _, ok := h.authz.require(w, r, permissions.LevelAdmin, id); !ok {
		return
	}

	grant, err := h.service.Grant(r.Context(), permissions.GrantRequest{
		NodeID:      id,
		UserID:      req.UserID,
		TeamID:      req.TeamID,
		Level:       level,
		Inheritable: req.Inheritable,
		Actor:       callerID(r),
	})
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, grant)
}

// RevokeGrant handles DELETE /nodes/{id}/grants/{grant}
func (h *PermissionHandlers) RevokeGrant(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	grantID, ok := httputil.ParsePathInt64OrError(w, r, "grant")
	if !ok {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelAdmin, id); !ok {
		return
	}

	grant, err := h.service.GetGrant(r.Context(), grantID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if grant.NodeID != id {
		httputil.WriteServiceError(w, fmt.Errorf("%w: grant %d on node %d", vfs.ErrNotFound, grantID, id))
		return
	}

	if err := h.service.Revoke(r.Context(), grantID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

type permissionResponse struct {
	NodeID int64             `json:"node_id"`
	UserID string            `json:"user_id"`
	Level  permissions.Level `json:"level"`
}

// EffectivePermission handles GET /nodes/{id}/permission. Without query
// parameters it reports the caller's own level. ?user= and ?teams=a,b
// evaluate someone else and need ADMIN on the node.
func (h *PermissionHandlers) EffectivePermission(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	query := r.URL.Query()
	subject := query.Get("user")
	if subject == "" || subject == callerID(r) {
		session, err := h.authz.session(r)
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		level, err := session.Effective(r.Context(), id)
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		httputil.WriteSuccess(w, permissionResponse{NodeID: id, UserID: session.UserID(), Level: level})
		return
	}

	if _, ok := h.authz.require(w, r, permissions.LevelAdmin, id); !ok {
		return
	}

	var level permissions.Level
	var err error
	if teams := query.Get("teams"); teams != "" {
		level, err = h.resolver.EffectivePermission(r.Context(), id, subject, strings.Split(teams, ","))
	} else {
		var session *permissions.Session
		if session, err = h.resolver.ForUser(r.Context(), subject); err == nil {
			level, err = session.Effective(r.Context(), id)
		}
	}
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, permissionResponse{NodeID: id, UserID: subject, Level: level})
}

// CreateTeam handles POST /teams. The caller becomes the first member.
func (h *PermissionHandlers) CreateTeam(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	team, err := h.service.CreateTeam(r.Context(), req.ID, req.Name)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if err := h.service.AddMember(r.Context(), team.ID, callerID(r)); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, team)
}

// GetTeam handles GET /teams/{team}
func (h *PermissionHandlers) GetTeam(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathStringOrError(w, r, "team")
	if !ok {
		return
	}

	team, err := h.service.GetTeam(r.Context(), teamID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, team)
}

// requireMember loads the team's members and fails unless the caller is one of them
func (h *PermissionHandlers) requireMember(w http.ResponseWriter, r *http.Request, teamID string) ([]string, bool) {
	if _, err := h.service.GetTeam(r.Context(), teamID); err != nil {
		httputil.WriteServiceError(w, err)
		return nil, false
	}
	members, err := h.service.ListMembers(r.Context(), teamID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return nil, false
	}
	if !slices.Contains(members, callerID(r)) {
		httputil.WriteServiceError(w, fmt.Errorf("%w: not a member of team %q", vfs.ErrPermissionDenied, teamID))
		return nil, false
	}
	return members, true
}

// ListMembers handles GET /teams/{team}/members
func (h *PermissionHandlers) ListMembers(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathStringOrError(w, r, "team")
	if !ok {
		return
	}
	members, ok := h.requireMember(w, r, teamID)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: members, Count: len(members)})
}

// AddMember handles POST /teams/{team}/members
func (h *PermissionHandlers) AddMember(w http.ResponseWriter, r *http.Request) {
	teamID, ok := httputil.ParsePathStringOrError(w, r, "team")
	if !ok {
		return
	}

	var req struct {
		UserID string `json:"user_id"`
	}
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if !httputil.RequireNonEmpty(w, req.UserID, "user_id") {
		return
	}
	if _, ok := h.requireMember(w, r, teamID); !ok {
		return
	}

	if err := h.service.AddMember(r.Context(), teamID, req.UserID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// RemoveMember handles DELETE /teams/{team}/members/{user}
func (h *PermissionHandlers) RemoveMember(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	teamID, userID := vars["team"], vars["user"]
	if _, ok := h.requireMember(w, r, teamID); !ok {
		return
	}

	if err := h.service.RemoveMember(r.Context(), teamID, userID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}
