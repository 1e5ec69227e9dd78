package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/portalfs/pkg/httputil"
	"github.com/platinummonkey/portalfs/pkg/permissions"
	"github.com/platinummonkey/portalfs/pkg/tags"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// TagHandlers handles tags, node tagging and favorites
type TagHandlers struct {
	tags  *tags.Service
	authz *authorizer
}

// NewTagHandlers creates a new TagHandlers
func NewTagHandlers(tagService *tags.Service, authz *authorizer) *TagHandlers {
	return &TagHandlers{tags: tagService, authz: authz}
}

// RegisterRoutes registers tag and favorite routes
func (h *TagHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/tags", h.ListTags).Methods("GET")
	router.HandleFunc("/tags", h.CreateTag).Methods("POST")
	router.HandleFunc("/tags/{tag:[0-9]+}", h.GetTag).Methods("GET")
	router.HandleFunc("/tags/{tag:[0-9]+}", h.DeleteTag).Methods("DELETE")
	router.HandleFunc("/tags/{tag:[0-9]+}/nodes", h.NodesWithTag).Methods("GET")

	router.HandleFunc("/nodes/{id:[0-9]+}/tags", h.TagsForNode).Methods("GET")
	router.HandleFunc("/nodes/{id:[0-9]+}/tags/{tag:[0-9]+}", h.TagNode).Methods("PUT")
	router.HandleFunc("/nodes/{id:[0-9]+}/tags/{tag:[0-9]+}", h.UntagNode).Methods("DELETE")
	router.HandleFunc("/nodes/{id:[0-9]+}/favorites/count", h.CountFavorites).Methods("GET")

	router.HandleFunc("/favorites", h.ListFavorites).Methods("GET")
	router.HandleFunc("/favorites/{id:[0-9]+}", h.AddFavorite).Methods("PUT")
	router.HandleFunc("/favorites/{id:[0-9]+}", h.UpdateLabel).Methods("PATCH")
	router.HandleFunc("/favorites/{id:[0-9]+}", h.RemoveFavorite).Methods("DELETE")
	router.HandleFunc("/favorites/{id:[0-9]+}/toggle", h.ToggleFavorite).Methods("POST")
}

// ListTags handles GET /tags. ?name= looks up a single tag.
func (h *TagHandlers) ListTags(w http.ResponseWriter, r *http.Request) {
	if name := r.URL.Query().Get("name"); name != "" {
		tag, err := h.tags.GetTagByName(r.Context(), name)
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		httputil.WriteSuccess(w, httputil.ListResponse{Items: []*tags.Tag{tag}, Count: 1})
		return
	}

	list, err := h.tags.ListTags(r.Context())
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: list, Count: len(list)})
}

// CreateTag handles POST /tags
func (h *TagHandlers) CreateTag(w http.ResponseWriter, r *http.Request) {
	var req tags.CreateTagRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.Actor = callerID(r)

	tag, err := h.tags.CreateTag(r.Context(), req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, tag)
}

// GetTag handles GET /tags/{tag}
func (h *TagHandlers) GetTag(w http.ResponseWriter, r *http.Request) {
	tagID, ok := httputil.ParsePathInt64OrError(w, r, "tag")
	if !ok {
		return
	}

	tag, err := h.tags.GetTag(r.Context(), tagID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, tag)
}

// DeleteTag handles DELETE /tags/{tag}. Only the tag's creator may delete it.
func (h *TagHandlers) DeleteTag(w http.ResponseWriter, r *http.Request) {
	tagID, ok := httputil.ParsePathInt64OrError(w, r, "tag")
	if !ok {
		return
	}

	tag, err := h.tags.GetTag(r.Context(), tagID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if tag.CreatedBy != callerID(r) {
		httputil.WriteServiceError(w, fmt.Errorf("%w: tag %d belongs to %q", vfs.ErrPermissionDenied, tagID, tag.CreatedBy))
		return
	}

	if err := h.tags.DeleteTag(r.Context(), tagID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// NodesWithTag handles GET /tags/{tag}/nodes, listing node ids the caller can read
func (h *TagHandlers) NodesWithTag(w http.ResponseWriter, r *http.Request) {
	tagID, ok := httputil.ParsePathInt64OrError(w, r, "tag")
	if !ok {
		return
	}
	if _, err := h.tags.GetTag(r.Context(), tagID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	ids, err := h.tags.NodesWithTag(r.Context(), tagID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	session, err := h.authz.session(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	visible := make([]int64, 0, len(ids))
	for _, id := range ids {
		level, err := session.Effective(r.Context(), id)
		if errors.Is(err, vfs.ErrNotFound) {
			continue
		}
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		if level.Satisfies(permissions.LevelRead) {
			visible = append(visible, id)
		}
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: visible, Count: len(visible)})
}

// TagsForNode handles GET /nodes/{id}/tags
func (h *TagHandlers) TagsForNode(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelRead, id); !ok {
		return
	}

	list, err := h.tags.TagsForNode(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: list, Count: len(list)})
}

// TagNode handles PUT /nodes/{id}/tags/{tag}
func (h *TagHandlers) TagNode(w http.ResponseWriter, r *http.Request) {
	id, tagID, ok := h.nodeAndTag(w, r)
	if !ok {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelWrite, id); !ok {
		return
	}

	if err := h.tags.TagNode(r.Context(), id, tagID, callerID(r)); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// UntagNode handles DELETE /nodes/{id}/tags/{tag}
func (h *TagHandlers) UntagNode(w http.ResponseWriter, r *http.Request) {
	id, tagID, ok := h.nodeAndTag(w, r)
	if !ok {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelWrite, id); !ok {
		return
	}

	if err := h.tags.UntagNode(r.Context(), id, tagID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

func (h *TagHandlers) nodeAndTag(w http.ResponseWriter, r *http.Request) (int64, int64, bool) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return 0, 0, false
	}
	tagID, ok := httputil.ParsePathInt64OrError(w, r, "tag")
	if !ok {
		return 0, 0, false
	}
	return id, tagID, true
}

// CountFavorites handles GET /nodes/{id}/favorites/count
func (h *TagHandlers) CountFavorites(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelRead, id); !ok {
		return
	}

	count, err := h.tags.CountFavoritesOfNode(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"node_id": id, "count": count})
}

// ListFavorites handles GET /favorites. ?q= searches labels.
func (h *TagHandlers) ListFavorites(w http.ResponseWriter, r *http.Request) {
	var list []*tags.Favorite
	var err error
	if q := r.URL.Query().Get("q"); q != "" {
		list, err = h.tags.SearchFavorites(r.Context(), callerID(r), q)
	} else {
		list, err = h.tags.ListFavorites(r.Context(), callerID(r))
	}
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: list, Count: len(list)})
}

type favoriteRequest struct {
	Label string `json:"label"`
}

// AddFavorite handles PUT /favorites/{id}
func (h *TagHandlers) AddFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req favoriteRequest
	if r.ContentLength != 0 && !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelRead, id); !ok {
		return
	}

	favorite, err := h.tags.AddFavorite(r.Context(), callerID(r), id, req.Label)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, favorite)
}

// UpdateLabel handles PATCH /favorites/{id}
func (h *TagHandlers) UpdateLabel(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req favoriteRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	favorite, err := h.tags.UpdateLabel(r.Context(), callerID(r), id, req.Label)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, favorite)
}

// RemoveFavorite handles DELETE /favorites/{id}
func (h *TagHandlers) RemoveFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	if err := h.tags.RemoveFavorite(r.Context(), callerID(r), id); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ToggleFavorite handles POST /favorites/{id}/toggle
func (h *TagHandlers) ToggleFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelRead, id); !ok {
		return
	}

	favorite, err := h.tags.ToggleFavorite(r.Context(), callerID(r), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"node_id": id, "favorite": favorite})
}
