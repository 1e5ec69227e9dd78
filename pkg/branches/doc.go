// Package branches tracks the named trees of each repository.
//
// # Overview
//
// Every repository owns one node tree per branch. Exactly one branch per
// repository is the principal branch, which clients fall back to when no
// branch is named:
//
//	registry := branches.NewRegistry(db, nil)
//	main, err := registry.InitRepository(ctx, repoID, "main", "alice")
//	dev, err := registry.CreateBranch(ctx, branches.CreateRequest{
//		RepositoryID: repoID,
//		Name:         "develop",
//		Actor:        "alice",
//	})
//
// # Principal Branch
//
// SetPrincipal clears the old principal and sets the new one inside a single
// transaction. A partial unique index on (repository_id) WHERE is_principal
// backs the invariant at the database level. The principal branch cannot be
// deleted (vfs.ErrConflict) and protected branches cannot be deleted until
// they are unprotected (vfs.ErrInvalidState).
//
// # Commit Metadata
//
// RecordCommit stores the last commit shown next to a branch. ShortHash and
// MessageSummary format it for listings.
package branches
