package api

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/portalfs/pkg/clipboard"
	"github.com/platinummonkey/portalfs/pkg/httputil"
	"github.com/platinummonkey/portalfs/pkg/jobs"
	"github.com/platinummonkey/portalfs/pkg/observability"
	"github.com/platinummonkey/portalfs/pkg/permissions"
)

// ClipboardHandlers handles the caller's clipboard
type ClipboardHandlers struct {
	clipboard *clipboard.Service
	jobs      *jobs.Engine
	authz     *authorizer
}

// NewClipboardHandlers creates a new ClipboardHandlers
func NewClipboardHandlers(clipboardService *clipboard.Service, engine *jobs.Engine, authz *authorizer) *ClipboardHandlers {
	return &ClipboardHandlers{clipboard: clipboardService, jobs: engine, authz: authz}
}

// RegisterRoutes registers clipboard routes
func (h *ClipboardHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/clipboard", h.GetClipboard).Methods("GET")
	router.HandleFunc("/clipboard", h.Stage).Methods("PUT")
	router.HandleFunc("/clipboard", h.Clear).Methods("DELETE")
	router.HandleFunc("/clipboard/paste", h.Paste).Methods("POST")
}

// GetClipboard handles GET /clipboard
func (h *ClipboardHandlers) GetClipboard(w http.ResponseWriter, r *http.Request) {
	entry, err := h.clipboard.GetActive(r.Context(), callerID(r))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, entry)
}

// Stage handles PUT /clipboard, replacing any staged selection. Cutting
// needs WRITE on every node, copying needs READ.
func (h *ClipboardHandlers) Stage(w http.ResponseWriter, r *http.Request) {
	var req clipboard.StageRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	req.UserID = callerID(r)
	op, err := clipboard.ParseOperation(string(req.Operation))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	req.Operation = op

	level := permissions.LevelRead
	if op == clipboard.OperationCut {
		level = permissions.LevelWrite
	}
	if _, ok := h.authz.require(w, r, level, req.NodeIDs...); !ok {
		return
	}

	entry, err := h.clipboard.Stage(r.Context(), req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, entry)
}

// Clear handles DELETE /clipboard
func (h *ClipboardHandlers) Clear(w http.ResponseWriter, r *http.Request) {
	if err := h.clipboard.Clear(r.Context(), callerID(r)); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// Paste handles POST /clipboard/paste. The staged selection becomes a COPY
// or MOVE job into the target; a pasted cut is consumed.
func (h *ClipboardHandlers) Paste(w http.ResponseWriter, r *http.Request) {
	var target jobs.Target
	if !httputil.ParseJSONOrError(w, r, &target) {
		return
	}

	caller := callerID(r)
	entry, err := h.clipboard.GetActive(r.Context(), caller)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	req := jobs.SubmitRequest{
		UserID:    caller,
		Operation: jobs.OperationCopy,
		NodeIDs:   entry.NodeIDs,
		Target:    &target,
	}
	if entry.Operation == clipboard.OperationCut {
		req.Operation = jobs.OperationMove
	}
	if !h.authz.authorizeJob(w, r, req) {
		return
	}

	job, err := h.jobs.Submit(r.Context(), req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if _, err := h.clipboard.MarkConsumed(r.Context(), caller); err != nil {
		observability.FromContext(r.Context()).WithError(err).Warnf("Clipboard not consumed after job %d", job.ID)
	}
	httputil.WriteAccepted(w, job)
}
