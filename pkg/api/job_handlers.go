package api

import (
	"errors"
	"fmt"
	"net/http"
	"path"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/portalfs/pkg/httputil"
	"github.com/platinummonkey/portalfs/pkg/jobs"
	"github.com/platinummonkey/portalfs/pkg/permissions"
	"github.com/platinummonkey/portalfs/pkg/storage"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// FileNameHeader names a staged upload
const FileNameHeader = "X-File-Name"

// JobHandlers handles bulk jobs and staged uploads
type JobHandlers struct {
	engine         *jobs.Engine
	objects        storage.ObjectStore
	authz          *authorizer
	ids            vfs.IDGenerator
	maxUploadBytes int64
}

// NewJobHandlers creates a new JobHandlers
func NewJobHandlers(engine *jobs.Engine, objects storage.ObjectStore, authz *authorizer, ids vfs.IDGenerator, maxUploadBytes int64) *JobHandlers {
	return &JobHandlers{
		engine:         engine,
		objects:        objects,
		authz:          authz,
		ids:            ids,
		maxUploadBytes: maxUploadBytes,
	}
}

// RegisterRoutes registers job routes
func (h *JobHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/jobs", h.SubmitJob).Methods("POST")
	router.HandleFunc("/jobs", h.ListJobs).Methods("GET")
	router.HandleFunc("/jobs/{id:[0-9]+}", h.GetJob).Methods("GET")
	router.HandleFunc("/jobs/{id:[0-9]+}/cancel", h.CancelJob).Methods("POST")
	router.HandleFunc("/jobs/{id:[0-9]+}/resubmit", h.ResubmitJob).Methods("POST")

	router.HandleFunc("/uploads", h.StageUpload).Methods("POST")
}

// authorizeJob checks what a job will do on the caller's behalf:
// reading sources for COPY, COMPRESS and BULK_DOWNLOAD, writing them for
// MOVE and DELETE_BULK, and writing the target folder for anything that
// places nodes. Jobs cannot create roots, so a target needs a parent.
func (a *authorizer) authorizeJob(w http.ResponseWriter, r *http.Request, req jobs.SubmitRequest) bool {
	sourceLevel := permissions.LevelRead
	switch req.Operation {
	case jobs.OperationMove, jobs.OperationDeleteBulk:
		sourceLevel = permissions.LevelWrite
	}

	session, ok := a.require(w, r, sourceLevel, req.NodeIDs...)
	if !ok {
		return false
	}

	switch req.Operation {
	case jobs.OperationMove, jobs.OperationCopy, jobs.OperationBulkUpload:
		if req.Target == nil || req.Target.ParentID == nil {
			httputil.WriteServiceError(w, fmt.Errorf("%w: %s requires target.parent_id", vfs.ErrInvalidArgument, req.Operation))
			return false
		}
		if err := session.Require(r.Context(), *req.Target.ParentID, permissions.LevelWrite); err != nil {
			httputil.WriteServiceError(w, err)
			return false
		}
	}
	return true
}

// SubmitJob handles POST /jobs
func (h *JobHandlers) SubmitJob(w http.ResponseWriter, r *http.Request) {
	var req jobs.SubmitRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	op, err := jobs.ParseOperation(string(req.Operation))
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	req.Operation = op
	req.UserID = callerID(r)

	if err := req.Validate(); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	if !h.authz.authorizeJob(w, r, req) {
		return
	}

	job, err := h.engine.Submit(r.Context(), req)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteAccepted(w, job)
}

// ListJobs handles GET /jobs, the caller's jobs newest first
func (h *JobHandlers) ListJobs(w http.ResponseWriter, r *http.Request) {
	limit, err := httputil.ParseQueryInt(r, "limit", 0)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}

	list, err := h.engine.ListByUser(r.Context(), callerID(r), limit)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, httputil.ListResponse{Items: list, Count: len(list)})
}

// ownJob loads a job submitted by the caller. Other users' jobs are reported as missing.
func (h *JobHandlers) ownJob(w http.ResponseWriter, r *http.Request) (*jobs.Job, bool) {
	id, ok := httputil.ParsePathInt64OrError(w, r, "id")
	if !ok {
		return nil, false
	}

	job, err := h.engine.Get(r.Context(), id)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return nil, false
	}
	if job.UserID != callerID(r) {
		httputil.WriteServiceError(w, fmt.Errorf("%w: job %d", vfs.ErrNotFound, id))
		return nil, false
	}
	return job, true
}

// GetJob handles GET /jobs/{id}
func (h *JobHandlers) GetJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownJob(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, job)
}

// CancelJob handles POST /jobs/{id}/cancel
func (h *JobHandlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownJob(w, r)
	if !ok {
		return
	}

	if err := h.engine.Cancel(r.Context(), job.ID); err != nil {
		httputil.WriteServiceError(w, err)
		return
	}

	cancelled, err := h.engine.Get(r.Context(), job.ID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteSuccess(w, cancelled)
}

// ResubmitJob handles POST /jobs/{id}/resubmit. Permissions are checked
// again since they may have changed since the first attempt.
func (h *JobHandlers) ResubmitJob(w http.ResponseWriter, r *http.Request) {
	job, ok := h.ownJob(w, r)
	if !ok {
		return
	}

	req := jobs.SubmitRequest{
		UserID:    job.UserID,
		Operation: job.Operation,
		NodeIDs:   job.NodeIDs,
		Items:     job.Items,
		Target:    job.Target,
	}
	if !h.authz.authorizeJob(w, r, req) {
		return
	}

	resubmitted, err := h.engine.Resubmit(r.Context(), job.ID)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return
	}
	httputil.WriteAccepted(w, resubmitted)
}

// StageUpload handles POST /uploads. The body is stored under a fresh
// key in the caller's uploads/ area; only the caller's BULK_UPLOAD jobs
// can adopt it.
func (h *JobHandlers) StageUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)

	mimeType := r.Header.Get("Content-Type")
	info, err := h.objects.Put(r.Context(), jobs.UploadKey(callerID(r), h.ids.New()), r.Body, mimeType)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			httputil.WriteErrorMessage(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		httputil.WriteServiceError(w, err)
		return
	}

	name := path.Base(r.Header.Get(FileNameHeader))
	if name == "." || name == "/" {
		name = ""
	}
	httputil.WriteCreated(w, map[string]interface{}{
		"item":     jobs.UploadItem{Key: info.Key, Name: name, MimeType: mimeType},
		"size":     info.Size,
		"checksum": info.Checksum,
	})
}
