// Package vfs holds the vocabulary shared by every part of the portal filesystem.
//
// # Overview
//
// Nodes, branches, grants, clipboard entries, share links and bulk jobs all
// live in their own packages. They agree on three things defined here:
//
//   - Scope: the (container, branch) pair that owns a node tree
//   - the error taxonomy returned by every service
//   - Clock and IDGenerator, injected so expiry logic can be tested
//
// # Errors
//
// Services wrap one of the sentinel errors with context:
//
//	return nil, fmt.Errorf("%w: node %d", vfs.ErrNotFound, id)
//
// Callers branch with errors.Is:
//
//	if errors.Is(err, vfs.ErrConflict) {
//		httputil.WriteConflict(w, err.Error())
//	}
//
// Anything that does not wrap a sentinel is an infrastructure failure.
//
// # Scopes
//
// Projects own a single tree. Repositories own one tree per branch:
//
//	scope := vfs.RepositoryScope(42, branchID)
//	if err := scope.Validate(); err != nil {
//		return err
//	}
package vfs
