package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/platinummonkey/portalfs/pkg/contextkeys"
	"github.com/platinummonkey/portalfs/pkg/httputil"
	"github.com/platinummonkey/portalfs/pkg/nodes"
	"github.com/platinummonkey/portalfs/pkg/permissions"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// authorizer evaluates the caller's effective permissions. A fresh session
// is used per request so revocations take effect on the next call.
type authorizer struct {
	resolver *permissions.Resolver
}

func newAuthorizer(resolver *permissions.Resolver) *authorizer {
	return &authorizer{resolver: resolver}
}

func callerID(r *http.Request) string {
	return contextkeys.GetUserID(r.Context())
}

// session prefers teams carried by the caller's token over the team directory
func (a *authorizer) session(r *http.Request) (*permissions.Session, error) {
	ctx := r.Context()
	userID := contextkeys.GetUserID(ctx)
	if teams, ok := contextkeys.GetTeamIDs(ctx); ok {
		return a.resolver.Session(userID, teams), nil
	}
	return a.resolver.ForUser(ctx, userID)
}

// require writes an error response and returns false unless the caller
// holds at least level on every node
func (a *authorizer) require(w http.ResponseWriter, r *http.Request, level permissions.Level, nodeIDs ...int64) (*permissions.Session, bool) {
	session, err := a.session(r)
	if err != nil {
		httputil.WriteServiceError(w, err)
		return nil, false
	}
	for _, id := range nodeIDs {
		if err := session.Require(r.Context(), id, level); err != nil {
			httputil.WriteServiceError(w, err)
			return nil, false
		}
	}
	return session, true
}

// readable drops the nodes the session cannot read
func readable(ctx context.Context, session *permissions.Session, list []*nodes.Node) ([]*nodes.Node, error) {
	visible := make([]*nodes.Node, 0, len(list))
	for _, n := range list {
		level, err := session.Effective(ctx, n.ID)
		if errors.Is(err, vfs.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if level.Satisfies(permissions.LevelRead) {
			visible = append(visible, n)
		}
	}
	return visible, nil
}
