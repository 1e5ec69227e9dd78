// Package permissions resolves what a user may do on a node.
//
// # Overview
//
// A grant binds either a user or a team to a node at READ, WRITE or ADMIN.
// Each subject holds at most one grant per node; granting again replaces the
// level and the inheritable flag.
//
//	svc := permissions.NewService(db)
//	svc.Grant(ctx, permissions.GrantRequest{
//		NodeID:      docs.ID,
//		TeamID:      "writers",
//		Level:       permissions.LevelWrite,
//		Inheritable: true,
//		Actor:       "alice",
//	})
//
// # Resolution
//
// The resolver walks from the node to its root:
//
//  1. Grants on the node itself decide when there are any, inheritable or not.
//  2. Above the node only inheritable grants count.
//  3. The nearest level holding an applicable grant wins, taking the highest
//     of the user's own grant and the grants of the user's teams.
//  4. No grant anywhere yields NONE.
//
// ADMIN implies WRITE and WRITE implies READ:
//
//	resolver := permissions.NewResolver(svc, nodeService, directory)
//	if err := resolver.Require(ctx, nodeID, userID, permissions.LevelWrite); err != nil {
//		return err // wraps vfs.ErrPermissionDenied
//	}
//
// # Sessions
//
// A Session memoizes ancestor chains and per-node grants, so a handler that
// checks many nodes reads each grant list once. Sessions are discarded at the
// end of the request and never see stale grants across requests.
//
// # Team Directory
//
// SQLDirectory reads team_members. CachedDirectory keeps lookups in an
// expiring LRU and collapses concurrent misses with singleflight. Pass it to
// NewService with WithDirectoryCache so membership changes evict the user.
package permissions
