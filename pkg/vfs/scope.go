package vfs

import (
	"fmt"
	"strconv"
)

// ContainerType identifies what owns a node tree
type ContainerType string

const (
	ContainerProject    ContainerType = "PROJECT"
	ContainerRepository ContainerType = "REPOSITORY"
)

// ParseContainerType accepts the canonical names and their lowercase forms
func ParseContainerType(s string) (ContainerType, error) {
	switch s {
	case "PROJECT", "project", "projects":
		return ContainerProject, nil
	case "REPOSITORY", "repository", "repositories":
		return ContainerRepository, nil
	}
	return "", fmt.Errorf("%w: unknown container type %q", ErrInvalidArgument, s)
}

// Scope is the (container, branch) pair that owns one node tree.
// BranchID is nil for projects and set for repositories.
type Scope struct {
	ContainerType ContainerType `json:"container_type"`
	ContainerID   int64         `json:"container_id"`
	BranchID      *int64        `json:"branch_id,omitempty"`
}

// ProjectScope returns the scope of a project tree
func ProjectScope(projectID int64) Scope {
	return Scope{ContainerType: ContainerProject, ContainerID: projectID}
}

// RepositoryScope returns the scope of one branch of a repository
func RepositoryScope(repositoryID, branchID int64) Scope {
	return Scope{ContainerType: ContainerRepository, ContainerID: repositoryID, BranchID: &branchID}
}

// Validate checks the container/branch combination
func (s Scope) Validate() error {
	if s.ContainerID <= 0 {
		return fmt.Errorf("%w: container id must be positive", ErrInvalidArgument)
	}
	switch s.ContainerType {
	case ContainerProject:
		if s.BranchID != nil {
			return fmt.Errorf("%w: projects do not have branches", ErrInvalidArgument)
		}
	case ContainerRepository:
		if s.BranchID == nil {
			return fmt.Errorf("%w: repository scope requires a branch", ErrInvalidArgument)
		}
	default:
		return fmt.Errorf("%w: unknown container type %q", ErrInvalidArgument, s.ContainerType)
	}
	return nil
}

// BranchKey returns the branch id, or 0 for branchless scopes.
// Stores compare against COALESCE(branch_id, 0).
func (s Scope) BranchKey() int64 {
	if s.BranchID == nil {
		return 0
	}
	return *s.BranchID
}

// Key returns a stable string used for lock names and cache keys
func (s Scope) Key() string {
	key := string(s.ContainerType) + ":" + strconv.FormatInt(s.ContainerID, 10)
	if s.BranchID != nil {
		key += ":" + strconv.FormatInt(*s.BranchID, 10)
	}
	return key
}

// Same reports whether two scopes address the same tree
func (s Scope) Same(other Scope) bool {
	return s.ContainerType == other.ContainerType &&
		s.ContainerID == other.ContainerID &&
		s.BranchKey() == other.BranchKey()
}

func (s Scope) String() string {
	return s.Key()
}
