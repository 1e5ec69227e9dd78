package httputil

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// ErrorResponse is the body of every error reply
type ErrorResponse struct {
	Error     string `json:"error"`
	RequestID string `json:"request_id,omitempty"`
}

// ListResponse wraps list results with their count
type ListResponse struct {
	Items interface{} `json:"items"`
	Count int         `json:"count"`
}

// errorStatuses is checked in order; the first sentinel err wraps wins
var errorStatuses = []struct {
	sentinel error
	status   int
}{
	{vfs.ErrNotFound, http.StatusNotFound},
	{vfs.ErrConflict, http.StatusConflict},
	{vfs.ErrInvalidState, http.StatusConflict},
	{vfs.ErrPermissionDenied, http.StatusForbidden},
	{vfs.ErrExpired, http.StatusGone},
	{vfs.ErrLimitExceeded, http.StatusTooManyRequests},
	{vfs.ErrInvalidArgument, http.StatusBadRequest},
}

// StatusForError maps the vfs error taxonomy to an HTTP status, 500 when
// err wraps none of it
func StatusForError(err error) int {
	for _, m := range errorStatuses {
		if errors.Is(err, m.sentinel) {
			return m.status
		}
	}
	return http.StatusInternalServerError
}

// WriteJSON encodes data with the given status
func WriteJSON(w http.ResponseWriter, status int, data interface{}) error {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	return json.NewEncoder(w).Encode(data)
}

// WriteErrorMessage writes {"error": message}, echoing the response's request id
func WriteErrorMessage(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, ErrorResponse{Error: message, RequestID: w.Header().Get(RequestIDHeader)})
}

// WriteError writes err's text with the given status
func WriteError(w http.ResponseWriter, status int, err error) {
	WriteErrorMessage(w, status, err.Error())
}

// WriteServiceError writes err with the status its taxonomy maps to.
// Unclassified errors become a generic 500 so internals do not leak.
func WriteServiceError(w http.ResponseWriter, err error) {
	status := StatusForError(err)
	if status == http.StatusInternalServerError {
		WriteErrorMessage(w, status, http.StatusText(status))
		return
	}
	WriteError(w, status, err)
}

func WriteBadRequest(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusBadRequest, message)
}

func WriteUnauthorized(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusUnauthorized, message)
}

func WriteForbidden(w http.ResponseWriter, message string) {
	WriteErrorMessage(w, http.StatusForbidden, message)
}

// WriteSuccess writes data with 200
func WriteSuccess(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusOK, data)
}

// WriteCreated writes data with 201
func WriteCreated(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusCreated, data)
}

// WriteAccepted writes data with 202, for work that continues in the background
func WriteAccepted(w http.ResponseWriter, data interface{}) error {
	return WriteJSON(w, http.StatusAccepted, data)
}

// WriteNoContent writes an empty 204
func WriteNoContent(w http.ResponseWriter) {
	w.WriteHeader(http.StatusNoContent)
}
