package jobs

import (
	"context"
	"errors"
	"fmt"
	"path"
	"strings"

	"github.com/platinummonkey/portalfs/pkg/nodes"
	"github.com/platinummonkey/portalfs/pkg/storage"
	"github.com/platinummonkey/portalfs/pkg/vfs"
)

// maxCopySuffix bounds the search for a free " (copy N)" name
const maxCopySuffix = 1000

// Tree is the node store surface the file executors work against
type Tree interface {
	Get(ctx context.Context, id int64) (*nodes.Node, error)
	ListChildren(ctx context.Context, parentID int64) ([]*nodes.Node, error)
	Walk(ctx context.Context, id int64, fn func(*nodes.Node) error) error
	AncestorIDs(ctx context.Context, id int64) ([]int64, error)
	NameAvailable(ctx context.Context, scope vfs.Scope, parentID *int64, name string) (bool, error)
	CreateFolder(ctx context.Context, req nodes.CreateFolderRequest) (*nodes.Node, error)
	Adopt(ctx context.Context, req nodes.AdoptRequest) (*nodes.Node, error)
	Move(ctx context.Context, id int64, newParentID *int64, actor string) (*nodes.Node, error)
	SoftDelete(ctx context.Context, id int64, actor string) (int, error)
	Objects() storage.ObjectStore
	NewObjectKey() string
}

// FileOperations implements the executors for every operation on a node tree
type FileOperations struct {
	tree    Tree
	objects storage.ObjectStore
	archive ArchiveOptions
}

// NewFileOperations creates executors working on tree and its object store
func NewFileOperations(tree Tree, archive ArchiveOptions) *FileOperations {
	if archive.URLTTL <= 0 {
		archive.URLTTL = DefaultArchiveURLTTL
	}
	return &FileOperations{tree: tree, objects: tree.Objects(), archive: archive}
}

// WithFileOperations registers the file executors for all operations
func WithFileOperations(ops *FileOperations) Option {
	return func(e *Engine) {
		e.executors[OperationDeleteBulk] = ExecutorFunc(ops.DeleteBulk)
		e.executors[OperationMove] = ExecutorFunc(ops.Move)
		e.executors[OperationCopy] = ExecutorFunc(ops.Copy)
		e.executors[OperationBulkUpload] = ExecutorFunc(ops.BulkUpload)
		e.executors[OperationCompress] = ExecutorFunc(ops.Compress)
		e.executors[OperationBulkDownload] = ExecutorFunc(ops.BulkDownload)
	}
}

// DeleteBulk soft deletes every selected node with its descendants
func (o *FileOperations) DeleteBulk(ctx context.Context, job *Job, p *Progress) (string, error) {
	if err := p.SetTotal(ctx, len(job.NodeIDs)); err != nil {
		return "", err
	}

	deleted := 0
	for _, id := range job.NodeIDs {
		if err := p.Checkpoint(ctx); err != nil {
			return "", err
		}
		n, err := o.tree.SoftDelete(ctx, id, job.UserID)
		if err != nil {
			return "", fmt.Errorf("failed to delete node %d: %w", id, err)
		}
		deleted += n
		if err := p.Advance(ctx, 1); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("deleted %d nodes", deleted), nil
}

// Move re-parents the selected nodes. Nodes from another scope are copied to
// the target and then soft deleted at the source.
func (o *FileOperations) Move(ctx context.Context, job *Job, p *Progress) (string, error) {
	if err := o.checkTarget(ctx, job.Target); err != nil {
		return "", err
	}
	if err := p.SetTotal(ctx, len(job.NodeIDs)); err != nil {
		return "", err
	}

	for _, id := range job.NodeIDs {
		if err := p.Checkpoint(ctx); err != nil {
			return "", err
		}
		node, err := o.tree.Get(ctx, id)
		if err != nil {
			return "", err
		}

		if node.Scope.Same(job.Target.Scope) {
			if _, err := o.tree.Move(ctx, id, job.Target.ParentID, job.UserID); err != nil {
				return "", fmt.Errorf("failed to move node %d: %w", id, err)
			}
		} else {
			free, err := o.tree.NameAvailable(ctx, job.Target.Scope, job.Target.ParentID, node.Name)
			if err != nil {
				return "", err
			}
			if !free {
				return "", fmt.Errorf("%w: %q already exists in the target folder", vfs.ErrConflict, node.Name)
			}
			if _, err := o.copyNode(ctx, node, job.Target.Scope, job.Target.ParentID, node.Name, job.UserID, p, false); err != nil {
				return "", err
			}
			if _, err := o.tree.SoftDelete(ctx, id, job.UserID); err != nil {
				return "", fmt.Errorf("failed to remove moved node %d: %w", id, err)
			}
		}

		if err := p.Advance(ctx, 1); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("moved %d nodes", len(job.NodeIDs)), nil
}

// Copy duplicates the selected subtrees under the target. Colliding names get a copy suffix.
func (o *FileOperations) Copy(ctx context.Context, job *Job, p *Progress) (string, error) {
	if err := o.checkTarget(ctx, job.Target); err != nil {
		return "", err
	}

	var targetChain []int64
	if job.Target.ParentID != nil {
		chain, err := o.tree.AncestorIDs(ctx, *job.Target.ParentID)
		if err != nil {
			return "", err
		}
		targetChain = chain
	}

	roots := make([]*nodes.Node, 0, len(job.NodeIDs))
	for _, id := range job.NodeIDs {
		node, err := o.tree.Get(ctx, id)
		if err != nil {
			return "", err
		}
		for _, ancestor := range targetChain {
			if ancestor == node.ID {
				return "", fmt.Errorf("%w: cannot copy node %d into itself", vfs.ErrInvalidArgument, node.ID)
			}
		}
		roots = append(roots, node)
	}

	total, err := o.countFiles(ctx, roots)
	if err != nil {
		return "", err
	}
	if err := p.SetTotal(ctx, total); err != nil {
		return "", err
	}

	copied := 0
	for _, node := range roots {
		name, err := o.uniqueName(ctx, job.Target.Scope, job.Target.ParentID, node)
		if err != nil {
			return "", err
		}
		n, err := o.copyNode(ctx, node, job.Target.Scope, job.Target.ParentID, name, job.UserID, p, true)
		if err != nil {
			return "", err
		}
		copied += n
	}
	return fmt.Sprintf("copied %d files", copied), nil
}

// BulkUpload turns staged uploads into file nodes under the target
func (o *FileOperations) BulkUpload(ctx context.Context, job *Job, p *Progress) (string, error) {
	if err := o.checkTarget(ctx, job.Target); err != nil {
		return "", err
	}
	if err := p.SetTotal(ctx, len(job.Items)); err != nil {
		return "", err
	}

	for _, item := range job.Items {
		if err := p.Checkpoint(ctx); err != nil {
			return "", err
		}

		key := o.tree.NewObjectKey()
		info, err := o.objects.Copy(ctx, item.Key, key)
		if err != nil {
			if errors.Is(err, storage.ErrObjectNotFound) {
				return "", fmt.Errorf("%w: staged upload %s", vfs.ErrNotFound, item.Key)
			}
			return "", fmt.Errorf("failed to copy staged upload %s: %w", item.Key, err)
		}

		_, err = o.tree.Adopt(ctx, nodes.AdoptRequest{
			Scope:    job.Target.Scope,
			ParentID: job.Target.ParentID,
			Name:     item.Name,
			MimeType: item.MimeType,
			Object:   info,
			Actor:    job.UserID,
		})
		if err != nil {
			o.objects.Delete(ctx, key)
			return "", fmt.Errorf("failed to add %s: %w", item.Name, err)
		}
		if err := o.objects.Delete(ctx, item.Key); err != nil {
			return "", fmt.Errorf("failed to remove staged upload %s: %w", item.Key, err)
		}

		if err := p.Advance(ctx, 1); err != nil {
			return "", err
		}
	}
	return fmt.Sprintf("uploaded %d files", len(job.Items)), nil
}

// checkTarget verifies the target parent is an active folder of the target scope
func (o *FileOperations) checkTarget(ctx context.Context, target *Target) error {
	if target == nil {
		return fmt.Errorf("%w: target is required", vfs.ErrInvalidArgument)
	}
	if target.ParentID == nil {
		return nil
	}
	parent, err := o.tree.Get(ctx, *target.ParentID)
	if err != nil {
		return err
	}
	if !parent.IsFolder() {
		return fmt.Errorf("%w: target %d is not a folder", vfs.ErrInvalidArgument, parent.ID)
	}
	if !parent.Scope.Same(target.Scope) {
		return fmt.Errorf("%w: target %d is not in %s", vfs.ErrInvalidArgument, parent.ID, target.Scope)
	}
	return nil
}

// countFiles returns the number of files in the given subtrees
func (o *FileOperations) countFiles(ctx context.Context, roots []*nodes.Node) (int, error) {
	total := 0
	for _, root := range roots {
		err := o.tree.Walk(ctx, root.ID, func(n *nodes.Node) error {
			if !n.IsFolder() {
				total++
			}
			return nil
		})
		if err != nil {
			return 0, err
		}
	}
	return total, nil
}

// copyNode recreates node and its descendants under parentID in scope and
// returns the number of files copied. When advance is set every file counts as progress.
func (o *FileOperations) copyNode(ctx context.Context, node *nodes.Node, scope vfs.Scope, parentID *int64, name, actor string, p *Progress, advance bool) (int, error) {
	if err := p.Checkpoint(ctx); err != nil {
		return 0, err
	}

	if !node.IsFolder() {
		key := o.tree.NewObjectKey()
		info, err := o.objects.Copy(ctx, node.StorageKey, key)
		if err != nil {
			return 0, fmt.Errorf("failed to copy content of node %d: %w", node.ID, err)
		}
		_, err = o.tree.Adopt(ctx, nodes.AdoptRequest{
			Scope:    scope,
			ParentID: parentID,
			Name:     name,
			MimeType: node.MimeType,
			Object:   info,
			Actor:    actor,
		})
		if err != nil {
			o.objects.Delete(ctx, key)
			return 0, fmt.Errorf("failed to copy node %d: %w", node.ID, err)
		}
		if advance {
			if err := p.Advance(ctx, 1); err != nil {
				return 1, err
			}
		}
		return 1, nil
	}

	folder, err := o.tree.CreateFolder(ctx, nodes.CreateFolderRequest{
		Scope:    scope,
		ParentID: parentID,
		Name:     name,
		Actor:    actor,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to copy folder %d: %w", node.ID, err)
	}

	children, err := o.tree.ListChildren(ctx, node.ID)
	if err != nil {
		return 0, err
	}
	copied := 0
	for _, child := range children {
		n, err := o.copyNode(ctx, child, scope, &folder.ID, child.Name, actor, p, advance)
		copied += n
		if err != nil {
			return copied, err
		}
	}
	return copied, nil
}

// uniqueName returns node's name, or the first free " (copy)" / " (copy N)"
// variant of it. For files the suffix goes before the extension.
func (o *FileOperations) uniqueName(ctx context.Context, scope vfs.Scope, parentID *int64, node *nodes.Node) (string, error) {
	free, err := o.tree.NameAvailable(ctx, scope, parentID, node.Name)
	if err != nil {
		return "", err
	}
	if free {
		return node.Name, nil
	}

	for i := 1; i <= maxCopySuffix; i++ {
		candidate := CopyName(node.Name, i, !node.IsFolder())
		free, err := o.tree.NameAvailable(ctx, scope, parentID, candidate)
		if err != nil {
			return "", err
		}
		if free {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("%w: no free name for a copy of %q", vfs.ErrConflict, node.Name)
}

// CopyName returns the n-th copy name of name: "a (copy).txt", "a (copy 2).txt", ...
func CopyName(name string, n int, isFile bool) string {
	suffix := " (copy)"
	if n > 1 {
		suffix = fmt.Sprintf(" (copy %d)", n)
	}

	ext := ""
	if isFile {
		ext = path.Ext(name)
		if ext == name || strings.TrimSuffix(name, ext) == "" {
			ext = ""
		}
	}
	return strings.TrimSuffix(name, ext) + suffix + ext
}
