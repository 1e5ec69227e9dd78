package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/platinummonkey/portalfs/pkg/nodes"
)

func newUploadCommand() *Command {
	cmd := &Command{
		Name:        "upload",
		Description: "Upload a local file as a new file node or a new version",
		Flags:       flag.NewFlagSet("upload", flag.ExitOnError),
		Run:         runUpload,
	}

	addClientFlags(cmd.Flags)
	cmd.Flags.String("file", "", "Local file to upload")
	cmd.Flags.String("scope", "", "Tree scope (project:ID or repository:ID@BRANCH)")
	cmd.Flags.Int64("parent", 0, "Parent folder id; omit to create a root file")
	cmd.Flags.String("name", "", "Node name (defaults to the local file name)")
	cmd.Flags.Int64("replace", 0, "Upload a new version of this file node instead")

	return cmd
}

func runUpload(args []string) error {
	cmd := newUploadCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	localPath := cmd.Flags.Lookup("file").Value.String()
	if localPath == "" {
		return fmt.Errorf("file is required")
	}
	replace, err := int64Flag(cmd.Flags, "replace")
	if err != nil {
		return err
	}

	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	mimeType := mime.TypeByExtension(filepath.Ext(localPath))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}

	ctx := context.Background()
	client, err := clientFromFlags(ctx, cmd.Flags)
	if err != nil {
		return err
	}

	var resp *http.Response
	if replace != 0 {
		resp, err = client.do(ctx, http.MethodPut, fmt.Sprintf("/nodes/%d/content", replace), f, mimeType)
	} else {
		resp, err = uploadNew(ctx, client, cmd.Flags, f, filepath.Base(localPath), mimeType)
	}
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var node nodes.Node
	if err := json.NewDecoder(resp.Body).Decode(&node); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	printNode(&node)
	return nil
}

// uploadNew streams the multipart form the file creation endpoint expects
func uploadNew(ctx context.Context, client *apiClient, fs *flag.FlagSet, content io.Reader, filename, mimeType string) (*http.Response, error) {
	scope, err := parseScope(fs.Lookup("scope").Value.String())
	if err != nil {
		return nil, err
	}
	parent, err := int64Flag(fs, "parent")
	if err != nil {
		return nil, err
	}
	name := fs.Lookup("name").Value.String()
	if name == "" {
		name = filename
	}

	fields := map[string]string{
		"container_type": string(scope.ContainerType),
		"container_id":   strconv.FormatInt(scope.ContainerID, 10),
		"name":           name,
		"mime_type":      mimeType,
	}
	if scope.BranchID != nil {
		fields["branch_id"] = strconv.FormatInt(*scope.BranchID, 10)
	}
	if parent != 0 {
		fields["parent_id"] = strconv.FormatInt(parent, 10)
	}

	pr, pw := io.Pipe()
	form := multipart.NewWriter(pw)
	go func() {
		pw.CloseWithError(writeUploadForm(form, fields, content, filename))
	}()

	resp, err := client.do(ctx, http.MethodPost, "/nodes/files", pr, form.FormDataContentType())
	pr.Close()
	return resp, err
}

func writeUploadForm(form *multipart.Writer, fields map[string]string, content io.Reader, filename string) error {
	for key, value := range fields {
		if err := form.WriteField(key, value); err != nil {
			return err
		}
	}
	part, err := form.CreateFormFile("file", filename)
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, content); err != nil {
		return err
	}
	return form.Close()
}

func newDownloadCommand() *Command {
	cmd := &Command{
		Name:        "download",
		Description: "Download the content of a file node",
		Flags:       flag.NewFlagSet("download", flag.ExitOnError),
		Run:         runDownload,
	}

	addClientFlags(cmd.Flags)
	cmd.Flags.Int64("node", 0, "File node id")
	cmd.Flags.String("out", "-", "Output path, - for stdout")

	return cmd
}

func runDownload(args []string) error {
	cmd := newDownloadCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	id, err := int64Flag(cmd.Flags, "node")
	if err != nil {
		return err
	}
	if id == 0 {
		return fmt.Errorf("node is required")
	}
	out := cmd.Flags.Lookup("out").Value.String()

	ctx := context.Background()
	client, err := clientFromFlags(ctx, cmd.Flags)
	if err != nil {
		return err
	}

	resp, err := client.do(ctx, http.MethodGet, fmt.Sprintf("/nodes/%d/content", id), nil, "")
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if out == "-" {
		_, err = io.Copy(os.Stdout, resp.Body)
		return err
	}

	f, err := os.Create(out)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", out, err)
	}
	n, err := io.Copy(f, resp.Body)
	if closeErr := f.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return fmt.Errorf("failed to write %s: %w", out, err)
	}
	fmt.Fprintf(os.Stderr, "Wrote %d bytes to %s\n", n, out)
	return nil
}
