package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"golang.org/x/crypto/bcrypt"

	"github.com/platinummonkey/portalfs/pkg/httputil"
	"github.com/platinummonkey/portalfs/pkg/nodes"
	"github.com/platinummonkey/portalfs/pkg/permissions"
	"github.com/platinummonkey/portalfs/pkg/sharelinks"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// SharePasswordHeader carries the password of a protected share link
const SharePasswordHeader = "X-Share-Password"

// ShareLinkHandlers manages share links on behalf of authenticated users
type ShareLinkHandlers struct {
	links        *sharelinks.Service
	authz        *authorizer
	passwordCost int
}

// NewShareLinkHandlers creates a new ShareLinkHandlers. A zero passwordCost uses bcrypt's default.
func NewShareLinkHandlers(links *sharelinks.Service, authz *authorizer, passwordCost int) *ShareLinkHandlers {
	if passwordCost == 0 {
		passwordCost = bcrypt.DefaultCost
	}
	return &ShareLinkHandlers{links: links, authz: authz, passwordCost: passwordCost}
}

// RegisterRoutes registers share link management routes
func (h *ShareLinkHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/nodes/{id:[0-9]+}/share-links", h.IssueLink).Methods("POST")
	router.HandleFunc("/nodes/{id:[0-9]+}/share-links", h.ListNodeLinks).Methods("GET")

	router.HandleFunc("/share-links", h.ListMyLinks).Methods("GET")
	router.HandleFunc("/share-links/{token}", h.GetLink).Methods("GET")
	router.HandleFunc("/share-links/{token}", h.UpdateLink).Methods("PATCH")
	router.HandleFunc("/share-links/{token}", h.DeactivateLink).Methods("DELETE")
	router.HandleFunc("/share-links/{token}/activate", h.ActivateLink).Methods("POST")
}

// linkResponse adds computed fields to a link
type linkResponse struct {
	*sharelinks.Link
	RequiresPassword   bool `json:"requires_password"`
	RemainingDownloads int  `json:"remaining_downloads"`
}

func newLinkResponse(l *sharelinks.Link) linkResponse {
	return linkResponse{Link: l, RequiresPassword: l.RequiresPassword(), RemainingDownloads: l.RemainingDownloads()}
}

func writeLinks(w http.ResponseWriter, list []*sharelinks.Link) {
	items := make([]linkResponse, len(list))
	for i, l := range list {
		items[i] = newLinkResponse(l)
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: items, Count: len(items)})
}

type issueLinkRequest struct {
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Password      string     `json:"password,omitempty"`
	MaxDownloads  *int       `json:"max_downloads,omitempty"`
	AllowDownload *bool      `json:"allow_download,omitempty"`
	AllowPreview  *bool      `json:"allow_preview,omitempty"`
}

func (h *ShareLinkHandlers) hashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.passwordCost)
	if err == bcrypt.ErrPasswordTooLong {
		return "", fmt.Errorf("%w: password is too long", vfs.ErrInvalidArgument)
	}
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

// IssueLink handles POST /nodes/{id}/share-links
func (h *ShareLinkHandlers) IssueLink(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}

	var req issueLinkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelAdmin, id); !ok {
		return
	}

	opts := sharelinks.Options{
		ExpiresAt:     req.ExpiresAt,
		MaxDownloads:  req.MaxDownloads,
		AllowDownload: req.AllowDownload,
		AllowPreview:  req.AllowPreview,
	}
	if req.Password != "" {
		hash, err := h.hashPassword(req.Password)
		if err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		opts.PasswordHash = hash
	}

	link, err := h.links.Issue(r.Context(), id, callerID(r), opts)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteCreated(w, newLinkResponse(link))
}

// ListNodeLinks handles GET /nodes/{id}/share-links
func (h *ShareLinkHandlers) ListNodeLinks(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return
	}
	if _, ok := h.authz.require(w, r, permissions.LevelAdmin, id); !ok {
		return
	}

	list, err := h.links.ListByNode(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	writeLinks(w, list)
}

// ListMyLinks handles GET /share-links
func (h *ShareLinkHandlers) ListMyLinks(w http.ResponseWriter, r *http.Request) {
	list, err := h.links.ListByCreator(r.Context(), callerID(r))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	writeLinks(w, list)
}

// managedLink loads the {token} link. Its creator and the node's
// administrators may manage it.
func (h *ShareLinkHandlers) managedLink(w http.ResponseWriter, r *http.Request) (*sharelinks.Link, bool) {
	token, ok := httputil.ParsePathStringOrError(w, r, "token")
	if !ok {
		return nil, false
	}

	link, err := h.links.Get(r.Context(), token)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return nil, false
	}
	if link.CreatedBy == callerID(r) {
		return link, true
	}
	if _, ok := h.authz.require(w, r, permissions.LevelAdmin, link.NodeID); !ok {
		return nil, false
	}
	return link, true
}

// GetLink handles GET /share-links/{token}
func (h *ShareLinkHandlers) GetLink(w http.ResponseWriter, r *http.Request) {
	link, ok := h.managedLink(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, newLinkResponse(link))
}

type updateLinkRequest struct {
	sharelinks.UpdateOptions

	// Password replaces the password; an empty string removes it. Absent leaves it unchanged.
	Password *string `json:"password,omitempty"`
}

// UpdateLink handles PATCH /share-links/{token}
func (h *ShareLinkHandlers) UpdateLink(w http.ResponseWriter, r *http.Request) {
	link, ok := h.managedLink(w, r)
	if !ok {
		return
	}

	var req updateLinkRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	updated, err := h.links.Update(r.Context(), link.Token, req.UpdateOptions)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	if req.Password != nil {
		hash := ""
		if *req.Password != "" {
			if hash, err = h.hashPassword(*req.Password); err != nil {
				httputil.WriteServiceError(w, err)
				return
			}
		}
		if err := h.links.SetPasswordHash(r.Context(), link.Token, hash); err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		updated.PasswordHash = hash
	}
	httputil.WriteSuccess(w, newLinkResponse(updated))
}

// DeactivateLink handles DELETE /share-links/{token}. ?purge=true removes
// the link instead of deactivating it.
func (h *ShareLinkHandlers) DeactivateLink(w http.ResponseWriter, r *http.Request) {
	link, ok := h.managedLink(w, r)
	if !ok {
		return
	}
	purge, err := httputil.ParseQueryBool(r, "purge", false)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	if purge {
		if err := h.links.Delete(r.Context(), link.Token); err != nil {
			httputil.WriteServiceError(w, err)
			return
		}
		httputil.WriteNoContent(w)
		return
	}

	deactivated, err := h.links.Deactivate(r.Context(), link.Token)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, newLinkResponse(deactivated))
}

// ActivateLink handles POST /share-links/{token}/activate
func (h *ShareLinkHandlers) ActivateLink(w http.ResponseWriter, r *http.Request) {
	link, ok := h.managedLink(w, r)
	if !ok {
		return
	}

	activated, err := h.links.Activate(r.Context(), link.Token)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, newLinkResponse(activated))
}

// PublicShareHandlers serves share links to anonymous callers
type PublicShareHandlers struct {
	links *sharelinks.Service
	nodes *nodes.Service
}

// NewPublicShareHandlers creates a new PublicShareHandlers
func NewPublicShareHandlers(links *sharelinks.Service, nodeService *nodes.Service) *PublicShareHandlers {
	return &PublicShareHandlers{links: links, nodes: nodeService}
}

// RegisterRoutes registers the public routes on a router mounted at /s
func (h *PublicShareHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/{token}", h.Resolve).Methods("GET")
	router.HandleFunc("/{token}/preview", h.Preview).Methods("GET")
	router.HandleFunc("/{token}/download", h.Download).Methods("GET")
}

// publicLinkResponse is what an anonymous caller learns about a link
type publicLinkResponse struct {
	Name               string     `json:"name"`
	Kind               nodes.Kind `json:"kind"`
	Size               int64      `json:"size"`
	MimeType           string     `json:"mime_type,omitempty"`
	CanDownload        bool       `json:"can_download"`
	CanPreview         bool       `json:"can_preview"`
	ExpiresAt          *time.Time `json:"expires_at,omitempty"`
	RemainingDownloads int        `json:"remaining_downloads"`
}

// resolve verifies the password, if any, and resolves the token
func (h *PublicShareHandlers) resolve(w http.ResponseWriter, r *http.Request) (*sharelinks.Access, bool) {
	token := mux.Vars(r)["token"]

	link, err := h.links.Get(r.Context(), token)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return nil, false
	}

	verified := false
	if link.RequiresPassword() {
		password := r.Header.Get(SharePasswordHeader)
		if password == "" {
			httputil.WriteUnauthorized(w, "share link requires a password")
			return nil, false
		}
		verified = bcrypt.CompareHashAndPassword([]byte(link.PasswordHash), []byte(password)) == nil
	}

	access, err := h.links.Resolve(r.Context(), token, verified)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return nil, false
	}
	return access, true
}

// Resolve handles GET /s/{token}
func (h *PublicShareHandlers) Resolve(w http.ResponseWriter, r *http.Request) {
	access, ok := h.resolve(w, r)
	if !ok {
		return
	}

	httputil.WriteSuccess(w, publicLinkResponse{
		Name:               access.Node.Name,
		Kind:               access.Node.Kind,
		Size:               access.Node.Size,
		MimeType:           access.Node.MimeType,
		CanDownload:        access.CanDownload,
		CanPreview:         access.CanPreview,
		ExpiresAt:          access.Link.ExpiresAt,
		RemainingDownloads: access.Link.RemainingDownloads(),
	})
}

// Preview handles GET /s/{token}/preview. Previews do not count as downloads.
func (h *PublicShareHandlers) Preview(w http.ResponseWriter, r *http.Request) {
	access, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if !access.CanPreview {
		httputil.WriteForbidden(w, "share link does not allow previews")
		return
	}

	content, node, err := h.nodes.OpenContent(r.Context(), access.Node.ID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	defer content.Close()

	writeContent(w, r, node, content, "inline")
}

// Download handles GET /s/{token}/download. The download is counted before
// any bytes are sent, so a capped link never serves more than its cap.
func (h *PublicShareHandlers) Download(w http.ResponseWriter, r *http.Request) {
	access, ok := h.resolve(w, r)
	if !ok {
		return
	}
	if !access.CanDownload {
		httputil.WriteForbidden(w, "share link does not allow downloads")
		return
	}

	content, node, err := h.nodes.OpenContent(r.Context(), access.Node.ID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	defer content.Close()

	if _, err := h.links.RecordDownload(r.Context(), access.Link.Token); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	writeContent(w, r, node, content, "attachment")
}
