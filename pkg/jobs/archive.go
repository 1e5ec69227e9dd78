package jobs

import (
	"archive/zip"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/platinummonkey/portalfs/pkg/nodes"
	"github.com/platinummonkey/portalfs/pkg/storage"
)

// DefaultArchiveURLTTL is how long a BULK_DOWNLOAD link stays valid
const DefaultArchiveURLTTL = time.Hour

// ArchiveOptions configures COMPRESS and BULK_DOWNLOAD results
type ArchiveOptions struct {
	// URLTTL is the lifetime of presigned download URLs
	URLTTL time.Duration
}

// ArchiveKey returns the object key of a job's archive
func ArchiveKey(jobID int64) string {
	return fmt.Sprintf("jobs/%d/archive.zip", jobID)
}

// Compress zips the selected subtrees into object storage and returns the archive key
func (o *FileOperations) Compress(ctx context.Context, job *Job, p *Progress) (string, error) {
	info, err := o.writeArchive(ctx, job, p)
	if err != nil {
		return "", err
	}
	return info.Key, nil
}

// BulkDownload builds the same archive as Compress and returns a presigned URL
// when the backend can sign one, the archive key otherwise.
func (o *FileOperations) BulkDownload(ctx context.Context, job *Job, p *Progress) (string, error) {
	info, err := o.writeArchive(ctx, job, p)
	if err != nil {
		return "", err
	}

	signer, ok := o.objects.(storage.URLSigner)
	if !ok {
		return info.Key, nil
	}
	url, err := signer.PresignGet(ctx, info.Key, o.archive.URLTTL)
	if err != nil {
		return "", fmt.Errorf("failed to sign archive url: %w", err)
	}
	return url, nil
}

type archiveEntry struct {
	node *nodes.Node
	name string
}

// collectEntries lists every node of the selected subtrees with its path inside the archive
func (o *FileOperations) collectEntries(ctx context.Context, ids []int64) ([]archiveEntry, int, error) {
	var entries []archiveEntry
	files := 0
	seen := make(map[string]bool)

	for _, id := range ids {
		root, err := o.tree.Get(ctx, id)
		if err != nil {
			return nil, 0, err
		}
		base := path.Dir(root.Path)
		top := archiveName(seen, strings.TrimPrefix(strings.TrimPrefix(root.Path, base), "/"), !root.IsFolder())

		err = o.tree.Walk(ctx, id, func(n *nodes.Node) error {
			rel := strings.TrimPrefix(strings.TrimPrefix(n.Path, root.Path), "/")
			name := top
			if rel != "" {
				name = top + "/" + rel
			}
			if n.IsFolder() {
				name += "/"
			} else {
				files++
			}
			entries = append(entries, archiveEntry{node: n, name: name})
			return nil
		})
		if err != nil {
			return nil, 0, err
		}
	}
	return entries, files, nil
}

// archiveName makes top-level names unique inside one archive
func archiveName(seen map[string]bool, name string, isFile bool) string {
	candidate := name
	for i := 2; seen[candidate]; i++ {
		ext := ""
		if isFile {
			ext = path.Ext(name)
		}
		candidate = fmt.Sprintf("%s (%d)%s", strings.TrimSuffix(name, ext), i, ext)
	}
	seen[candidate] = true
	return candidate
}

// writeArchive streams a zip of the job's nodes into object storage
func (o *FileOperations) writeArchive(ctx context.Context, job *Job, p *Progress) (storage.ObjectInfo, error) {
	entries, files, err := o.collectEntries(ctx, job.NodeIDs)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if err := p.SetTotal(ctx, files); err != nil {
		return storage.ObjectInfo{}, err
	}

	pr, pw := io.Pipe()
	done := make(chan error, 1)
	go func() {
		err := o.zipEntries(ctx, pw, entries, p)
		pw.CloseWithError(err)
		done <- err
	}()

	info, putErr := o.objects.Put(ctx, ArchiveKey(job.ID), pr, "application/zip")
	pr.Close()
	if err := <-done; err != nil {
		o.objects.Delete(context.WithoutCancel(ctx), ArchiveKey(job.ID))
		return storage.ObjectInfo{}, err
	}
	if putErr != nil {
		return storage.ObjectInfo{}, fmt.Errorf("failed to store archive: %w", putErr)
	}
	return info, nil
}

func (o *FileOperations) zipEntries(ctx context.Context, w io.Writer, entries []archiveEntry, p *Progress) error {
	zw := zip.NewWriter(w)
	for _, entry := range entries {
		header := &zip.FileHeader{
			Name:     entry.name,
			Modified: entry.node.UpdatedAt,
		}
		if entry.node.IsFolder() {
			if _, err := zw.CreateHeader(header); err != nil {
				return fmt.Errorf("failed to add folder %s: %w", entry.name, err)
			}
			continue
		}

		if err := p.Checkpoint(ctx); err != nil {
			return err
		}
		header.Method = zip.Deflate
		fw, err := zw.CreateHeader(header)
		if err != nil {
			return fmt.Errorf("failed to add %s: %w", entry.name, err)
		}
		rc, err := o.objects.Get(ctx, entry.node.StorageKey)
		if err != nil {
			return fmt.Errorf("failed to read node %d: %w", entry.node.ID, err)
		}
		_, err = io.Copy(fw, rc)
		rc.Close()
		if err != nil {
			return fmt.Errorf("failed to compress node %d: %w", entry.node.ID, err)
		}
		if err := p.Advance(ctx, 1); err != nil {
			return err
		}
	}
	return zw.Close()
}
