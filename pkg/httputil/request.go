package httputil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"

	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// ParseJSON decodes the request body into dest
func ParseJSON(r *http.Request, dest interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(dest); err != nil {
		return fmt.Errorf("%w: invalid JSON: %v", vfs.ErrInvalidArgument, err)
	}
	return nil
}

// ParseJSONOrError is ParseJSON that answers 400 itself. It reports whether
// the handler may continue.
func ParseJSONOrError(w http.ResponseWriter, r *http.Request, dest interface{}) bool {
	if err := ParseJSON(r, dest); err != nil {
		WriteBadRequest(w, err.Error())
		return false
	}
	return true
}

// ParsePathInt64 reads the path variable key as an int64
func ParsePathInt64(r *http.Request, key string) (int64, error) {
	raw, ok := mux.Vars(r)[key]
	if !ok || raw == "" {
		return 0, fmt.Errorf("%w: missing path parameter %s", vfs.ErrInvalidArgument, key)
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s is not an integer: %q", vfs.ErrInvalidArgument, key, raw)
	}
	return id, nil
}

func ParsePathInt64OrError(w http.ResponseWriter, r *http.Request, key string) (int64, bool) {
	id, err := ParsePathInt64(r, key)
	if err != nil {
		WriteBadRequest(w, err.Error())
		return 0, false
	}
	return id, true
}

func ParsePathStringOrError(w http.ResponseWriter, r *http.Request, key string) (string, bool) {
	value := mux.Vars(r)[key]
	if value == "" {
		WriteBadRequest(w, "missing path parameter "+key)
		return "", false
	}
	return value, true
}

// queryValue parses the query parameter key, returning ok=false when absent
func queryValue[T any](r *http.Request, key string, parse func(string) (T, error)) (value T, ok bool, err error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return value, false, nil
	}
	value, err = parse(raw)
	if err != nil {
		return value, false, fmt.Errorf("%w: invalid value for query param %s: %q", vfs.ErrInvalidArgument, key, raw)
	}
	return value, true, nil
}

func parseInt64(s string) (int64, error) { return strconv.ParseInt(s, 10, 64) }

// ParseQueryInt reads an integer query parameter, defaultVal when absent
func ParseQueryInt(r *http.Request, key string, defaultVal int) (int, error) {
	v, ok, err := queryValue(r, key, strconv.Atoi)
	if err != nil || !ok {
		return defaultVal, err
	}
	return v, nil
}

// ParseQueryInt64Ptr reads an optional int64 query parameter; nil when absent
func ParseQueryInt64Ptr(r *http.Request, key string) (*int64, error) {
	v, ok, err := queryValue(r, key, parseInt64)
	if err != nil || !ok {
		return nil, err
	}
	return &v, nil
}

// ParseQueryBool reads a boolean query parameter, defaultVal when absent
func ParseQueryBool(r *http.Request, key string, defaultVal bool) (bool, error) {
	v, ok, err := queryValue(r, key, strconv.ParseBool)
	if err != nil || !ok {
		return defaultVal, err
	}
	return v, nil
}

// ParseScope reads a tree scope from the {type} and {id} path variables and
// the branch query parameter.
func ParseScope(r *http.Request) (vfs.Scope, error) {
	containerType, err := vfs.ParseContainerType(mux.Vars(r)["type"])
	if err != nil {
		return vfs.Scope{}, err
	}
	id, err := ParsePathInt64(r, "id")
	if err != nil {
		return vfs.Scope{}, err
	}
	branchID, err := ParseQueryInt64Ptr(r, "branch")
	if err != nil {
		return vfs.Scope{}, err
	}

	scope := vfs.Scope{ContainerType: containerType, ContainerID: id, BranchID: branchID}
	if err := scope.Validate(); err != nil {
		return vfs.Scope{}, err
	}
	return scope, nil
}

// ParseScopeOrError is ParseScope that writes the error response itself
func ParseScopeOrError(w http.ResponseWriter, r *http.Request) (vfs.Scope, bool) {
	scope, err := ParseScope(r)
	if err != nil {
		WriteServiceError(w, err)
		return vfs.Scope{}, false
	}
	return scope, true
}

// RequireNonEmpty answers 400 when value is empty
func RequireNonEmpty(w http.ResponseWriter, value, fieldName string) bool {
	if value != "" {
		return true
	}
	WriteBadRequest(w, fieldName+" is required")
	return false
}
