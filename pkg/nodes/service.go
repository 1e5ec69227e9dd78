package nodes

import (
	"context"
	"database/sql"
	"fmt"
	"io"

	"github.com/platinummonkey/portalfs/pkg/storage"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// Service owns the node trees of every scope
type Service struct {
	store   *Store
	objects storage.ObjectStore
	locker  Locker
	clock   vfs.Clock
	ids     vfs.IDGenerator
}

// Option customizes a Service
type Option func(*Service)

// WithLocker replaces the default in-process tree lock
func WithLocker(l Locker) Option {
	return func(s *Service) { s.locker = l }
}

// WithClock replaces the wall clock
func WithClock(c vfs.Clock) Option {
	return func(s *Service) { s.clock = vfs.UTC(c) }
}

// WithIDGenerator replaces the generator used for object keys
func WithIDGenerator(g vfs.IDGenerator) Option {
	return func(s *Service) { s.ids = g }
}

// NewService creates a node service
func NewService(db *sql.DB, objects storage.ObjectStore, opts ...Option) *Service {
	s := &Service{
		store:   NewStore(db),
		objects: objects,
		locker:  NewLocalLocker(),
		clock:   vfs.RealClock{},
		ids:     vfs.UUIDGenerator{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Objects returns the object store file content lives in
func (s *Service) Objects() storage.ObjectStore {
	return s.objects
}

// NewObjectKey returns a fresh key for content stored on behalf of a node
func (s *Service) NewObjectKey() string {
	return "nodes/" + s.ids.New()
}

// withTree runs fn in a transaction while holding the scope's tree lock
func (s *Service) withTree(ctx context.Context, scope vfs.Scope, fn func(tx *sql.Tx) error) error {
	unlock, err := s.locker.Lock(ctx, scope.Key())
	if err != nil {
		return err
	}
	defer unlock()

	tx, err := s.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to start transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// placeUnder validates the destination folder and returns the path a child named name would get
func placeUnder(ctx context.Context, q querier, scope vfs.Scope, parentID *int64, name string, excludeID int64) (string, error) {
	parentPath := ""
	if parentID != nil {
		parent, err := getNode(ctx, q, *parentID, false)
		if err != nil {
			return "", err
		}
		if !parent.IsFolder() {
			return "", fmt.Errorf("%w: parent %d is a file", vfs.ErrInvalidArgument, parent.ID)
		}
		if !parent.Scope.Same(scope) {
			return "", fmt.Errorf("%w: parent %d belongs to %s, not %s", vfs.ErrInvalidArgument, parent.ID, parent.Scope, scope)
		}
		parentPath = parent.Path
	}

	exists, err := siblingExists(ctx, q, scope, parentID, name, excludeID)
	if err != nil {
		return "", err
	}
	path := ChildPath(parentPath, name)
	if exists {
		return "", fmt.Errorf("%w: %s already exists", vfs.ErrConflict, path)
	}
	return path, nil
}

// CreateFolder creates an empty folder
func (s *Service) CreateFolder(ctx context.Context, req CreateFolderRequest) (*Node, error) {
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateName(req.Name); err != nil {
		return nil, err
	}

	now := s.clock.Now()
	node := &Node{
		Scope:     req.Scope,
		ParentID:  req.ParentID,
		Name:      req.Name,
		Kind:      KindFolder,
		CreatedBy: req.Actor,
		UpdatedBy: req.Actor,
		CreatedAt: now,
		UpdatedAt: now,
	}

	err := s.withTree(ctx, req.Scope, func(tx *sql.Tx) error {
		path, err := placeUnder(ctx, tx, req.Scope, req.ParentID, req.Name, 0)
		if err != nil {
			return err
		}
		node.Path = path
		return insertNode(ctx, tx, node)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// CreateFile stores content and creates a file node with version 1
func (s *Service) CreateFile(ctx context.Context, req CreateFileRequest) (*Node, error) {
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateName(req.Name); err != nil {
		return nil, err
	}
	if req.Content == nil {
		return nil, fmt.Errorf("%w: content is required", vfs.ErrInvalidArgument)
	}

	info, err := s.objects.Put(ctx, s.NewObjectKey(), req.Content, req.MimeType)
	if err != nil {
		return nil, fmt.Errorf("failed to store content: %w", err)
	}

	node, err := s.Adopt(ctx, AdoptRequest{
		Scope:    req.Scope,
		ParentID: req.ParentID,
		Name:     req.Name,
		MimeType: req.MimeType,
		Object:   info,
		Actor:    req.Actor,
	})
	if err != nil {
		// the object is unreachable without its node
		s.objects.Delete(context.WithoutCancel(ctx), info.Key)
		return nil, err
	}
	return node, nil
}

// Adopt creates a file node for content already in object storage.
// Bulk uploads and copies use it so bytes are written once.
func (s *Service) Adopt(ctx context.Context, req AdoptRequest) (*Node, error) {
	if err := req.Scope.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateName(req.Name); err != nil {
		return nil, err
	}
	if req.Object.Key == "" {
		return nil, fmt.Errorf("%w: storage key is required", vfs.ErrInvalidArgument)
	}

	now := s.clock.Now()
	node := &Node{
		Scope:      req.Scope,
		ParentID:   req.ParentID,
		Name:       req.Name,
		Kind:       KindFile,
		Size:       req.Object.Size,
		MimeType:   req.MimeType,
		StorageKey: req.Object.Key,
		Checksum:   req.Object.Checksum,
		CreatedBy:  req.Actor,
		UpdatedBy:  req.Actor,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	err := s.withTree(ctx, req.Scope, func(tx *sql.Tx) error {
		path, err := placeUnder(ctx, tx, req.Scope, req.ParentID, req.Name, 0)
		if err != nil {
			return err
		}
		node.Path = path
		if err := insertNode(ctx, tx, node); err != nil {
			return err
		}
		return insertVersion(ctx, tx, &FileVersion{
			NodeID:     node.ID,
			Version:    1,
			StorageKey: node.StorageKey,
			Size:       node.Size,
			Checksum:   node.Checksum,
			MimeType:   node.MimeType,
			IsCurrent:  true,
			CreatedBy:  req.Actor,
			CreatedAt:  now,
		})
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// Rename changes a node's name and rewrites the paths of its subtree
func (s *Service) Rename(ctx context.Context, id int64, newName, actor string) (*Node, error) {
	if err := ValidateName(newName); err != nil {
		return nil, err
	}
	return s.relocate(ctx, id, placement{name: &newName}, actor)
}

// Move re-parents a node within its own scope. A nil parent moves it to the root.
func (s *Service) Move(ctx context.Context, id int64, newParentID *int64, actor string) (*Node, error) {
	return s.relocate(ctx, id, placement{move: true, parentID: newParentID}, actor)
}

// Relocate renames and re-parents a node in one step. Every check runs
// against the final name and parent before anything is written.
func (s *Service) Relocate(ctx context.Context, id int64, newName string, newParentID *int64, actor string) (*Node, error) {
	if err := ValidateName(newName); err != nil {
		return nil, err
	}
	return s.relocate(ctx, id, placement{name: &newName, move: true, parentID: newParentID}, actor)
}

// placement is the requested name and parent; nil name keeps the current
// one and move=false keeps the current parent
type placement struct {
	name     *string
	move     bool
	parentID *int64
}

func (s *Service) relocate(ctx context.Context, id int64, to placement, actor string) (*Node, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var node *Node
	err = s.withTree(ctx, current.Scope, func(tx *sql.Tx) error {
		node, err = getNode(ctx, tx, id, false)
		if err != nil {
			return err
		}

		name, parentID := node.Name, node.ParentID
		if to.name != nil {
			name = *to.name
		}
		if to.move {
			parentID = to.parentID
		}
		reparent := !sameParent(node.ParentID, parentID)
		if name == node.Name && !reparent {
			return nil
		}

		if reparent && parentID != nil {
			if err := checkDestination(ctx, tx, node, *parentID); err != nil {
				return err
			}
		}

		path, err := placeUnder(ctx, tx, node.Scope, parentID, name, node.ID)
		if err != nil {
			return err
		}
		node.Name = name
		node.ParentID = parentID
		node.Path = path
		node.UpdatedBy = actor
		node.UpdatedAt = s.clock.Now()
		if err := updatePlacement(ctx, tx, node); err != nil {
			return err
		}
		return rewriteDescendantPaths(ctx, tx, node)
	})
	if err != nil {
		return nil, err
	}
	return node, nil
}

// checkDestination rejects parents in another scope and parents inside node's own subtree
func checkDestination(ctx context.Context, q querier, node *Node, parentID int64) error {
	dest, err := getNode(ctx, q, parentID, false)
	if err != nil {
		return err
	}
	if !dest.Scope.Same(node.Scope) {
		return fmt.Errorf("%w: moving between %s and %s requires a bulk job", vfs.ErrInvalidArgument, node.Scope, dest.Scope)
	}
	chain, err := ancestors(ctx, q, dest.ID)
	if err != nil {
		return err
	}
	for _, a := range chain {
		if a.ID == node.ID {
			return fmt.Errorf("%w: cannot move %s under itself", vfs.ErrInvalidArgument, node.Path)
		}
	}
	return nil
}

func sameParent(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// SoftDelete marks a node and every active descendant deleted.
// It returns the number of nodes affected.
func (s *Service) SoftDelete(ctx context.Context, id int64, actor string) (int, error) {
	current, err := s.Get(ctx, id)
	if err != nil {
		return 0, err
	}

	var affected int
	err = s.withTree(ctx, current.Scope, func(tx *sql.Tx) error {
		node, err := getNode(ctx, tx, id, false)
		if err != nil {
			return err
		}
		subtree, err := collectSubtree(ctx, tx, node)
		if err != nil {
			return err
		}

		now := s.clock.Now()
		for _, n := range subtree {
			if err := markDeleted(ctx, tx, n.ID, actor, now); err != nil {
				return err
			}
		}
		affected = len(subtree)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// Get returns an active node
func (s *Service) Get(ctx context.Context, id int64) (*Node, error) {
	return getNode(ctx, s.store.db, id, false)
}

// ListChildren returns the active children of a folder, folders first then by name
func (s *Service) ListChildren(ctx context.Context, parentID int64) ([]*Node, error) {
	parent, err := s.Get(ctx, parentID)
	if err != nil {
		return nil, err
	}
	if !parent.IsFolder() {
		return []*Node{}, nil
	}
	return listChildren(ctx, s.store.db, parentID)
}

// ListRoots returns the active top-level nodes of a scope
func (s *Service) ListRoots(ctx context.Context, scope vfs.Scope) ([]*Node, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return listRoots(ctx, s.store.db, scope)
}

// ResolveByPath finds the active node at path, e.g. "/docs/readme.md"
func (s *Service) ResolveByPath(ctx context.Context, scope vfs.Scope, path string) (*Node, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	normalized, err := NormalizePath(path)
	if err != nil {
		return nil, err
	}
	return getByPath(ctx, s.store.db, scope, normalized)
}

// TotalSize sums the sizes of active files in a scope
func (s *Service) TotalSize(ctx context.Context, scope vfs.Scope) (int64, error) {
	if err := scope.Validate(); err != nil {
		return 0, err
	}
	return totalSize(ctx, s.store.db, scope)
}

// ListTrash returns soft-deleted nodes of a scope, most recently deleted first
func (s *Service) ListTrash(ctx context.Context, scope vfs.Scope) ([]*Node, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}
	return listTrash(ctx, s.store.db, scope)
}

// Ancestors returns the node and its parents up to the root, node first
func (s *Service) Ancestors(ctx context.Context, id int64) ([]*Node, error) {
	return ancestors(ctx, s.store.db, id)
}

// AncestorIDs is Ancestors reduced to ids
func (s *Service) AncestorIDs(ctx context.Context, id int64) ([]int64, error) {
	chain, err := s.Ancestors(ctx, id)
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(chain))
	for i, n := range chain {
		ids[i] = n.ID
	}
	return ids, nil
}

// Walk visits the node and its active descendants in pre-order
func (s *Service) Walk(ctx context.Context, id int64, fn func(*Node) error) error {
	root, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	subtree, err := collectSubtree(ctx, s.store.db, root)
	if err != nil {
		return err
	}
	for _, n := range subtree {
		if err := fn(n); err != nil {
			return err
		}
	}
	return nil
}

// NameAvailable reports whether name is free under parentID in scope
func (s *Service) NameAvailable(ctx context.Context, scope vfs.Scope, parentID *int64, name string) (bool, error) {
	exists, err := siblingExists(ctx, s.store.db, scope, parentID, name, 0)
	if err != nil {
		return false, err
	}
	return !exists, nil
}

// OpenContent opens the current content of a file node. Callers close the reader.
func (s *Service) OpenContent(ctx context.Context, id int64) (io.ReadCloser, *Node, error) {
	node, err := s.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if node.IsFolder() {
		return nil, nil, fmt.Errorf("%w: node %d is a folder", vfs.ErrInvalidArgument, id)
	}
	rc, err := s.objects.Get(ctx, node.StorageKey)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open content of node %d: %w", id, err)
	}
	return rc, node, nil
}
