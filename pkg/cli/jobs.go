package cli

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/platinummonkey/portalfs/pkg/jobs"
)

func newJobsCommand() *Command {
	cmd := &Command{
		Name:        "jobs",
		Description: "List, inspect, cancel or resubmit bulk jobs",
		Flags:       flag.NewFlagSet("jobs", flag.ExitOnError),
		Run:         runJobs,
	}

	addClientFlags(cmd.Flags)
	cmd.Flags.Int64("id", 0, "Job id to show")
	cmd.Flags.Bool("cancel", false, "Cancel the job given by -id")
	cmd.Flags.Bool("resubmit", false, "Resubmit the failed or cancelled job given by -id")
	cmd.Flags.Bool("wait", false, "Poll the job given by -id until it finishes")
	cmd.Flags.Duration("interval", 2*time.Second, "Polling interval for -wait")
	cmd.Flags.Int("limit", 20, "Number of jobs to list")

	return cmd
}

func runJobs(args []string) error {
	cmd := newJobsCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	id, err := int64Flag(cmd.Flags, "id")
	if err != nil {
		return err
	}
	cancel := cmd.Flags.Lookup("cancel").Value.String() == "true"
	resubmit := cmd.Flags.Lookup("resubmit").Value.String() == "true"
	wait := cmd.Flags.Lookup("wait").Value.String() == "true"
	if id == 0 && (cancel || resubmit || wait) {
		return fmt.Errorf("id is required")
	}

	ctx := context.Background()
	client, err := clientFromFlags(ctx, cmd.Flags)
	if err != nil {
		return err
	}

	if id == 0 {
		var list listResponse[jobs.Job]
		path := "/jobs?limit=" + cmd.Flags.Lookup("limit").Value.String()
		if err := client.getJSON(ctx, path, &list); err != nil {
			return err
		}
		for _, job := range list.Items {
			printJob(&job)
		}
		return nil
	}

	var job jobs.Job
	switch {
	case cancel:
		err = client.sendJSON(ctx, http.MethodPost, fmt.Sprintf("/jobs/%d/cancel", id), nil, &job)
	case resubmit:
		err = client.sendJSON(ctx, http.MethodPost, fmt.Sprintf("/jobs/%d/resubmit", id), nil, &job)
	case wait:
		interval, perr := time.ParseDuration(cmd.Flags.Lookup("interval").Value.String())
		if perr != nil {
			return fmt.Errorf("invalid interval: %w", perr)
		}
		err = waitForJob(ctx, client, id, interval, &job)
	default:
		err = client.getJSON(ctx, fmt.Sprintf("/jobs/%d", id), &job)
	}
	if err != nil {
		return err
	}
	printJob(&job)
	if job.Result != "" {
		fmt.Printf("  result: %s\n", job.Result)
	}
	if job.ErrorMessage != "" {
		fmt.Printf("  error: %s\n", job.ErrorMessage)
	}
	return nil
}

func waitForJob(ctx context.Context, client *apiClient, id int64, interval time.Duration, job *jobs.Job) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := client.getJSON(ctx, fmt.Sprintf("/jobs/%d", id), job); err != nil {
			return err
		}
		if job.Status.IsTerminal() {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func printJob(job *jobs.Job) {
	fmt.Printf("%-6d %-14s %-10s %3d%%  %d/%d files\n",
		job.ID, job.Operation, job.Status, job.ProgressPercent, job.ProcessedFiles, job.TotalFiles)
}

func newSubmitCommand() *Command {
	cmd := &Command{
		Name:        "submit",
		Description: "Submit a bulk job",
		Flags:       flag.NewFlagSet("submit", flag.ExitOnError),
		Run:         runSubmit,
	}

	addClientFlags(cmd.Flags)
	cmd.Flags.String("op", "", "COMPRESS, BULK_DOWNLOAD, MOVE, COPY, DELETE_BULK or BULK_UPLOAD")
	cmd.Flags.String("nodes", "", "Comma separated source node ids")
	cmd.Flags.String("files", "", "Comma separated local files to stage for BULK_UPLOAD")
	cmd.Flags.String("target-scope", "", "Destination scope for MOVE, COPY and BULK_UPLOAD")
	cmd.Flags.Int64("target-parent", 0, "Destination folder id")

	return cmd
}

func runSubmit(args []string) error {
	cmd := newSubmitCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	op, err := jobs.ParseOperation(cmd.Flags.Lookup("op").Value.String())
	if err != nil {
		return err
	}
	nodeIDs, err := parseIDs(cmd.Flags.Lookup("nodes").Value.String())
	if err != nil {
		return err
	}
	req := jobs.SubmitRequest{Operation: op, NodeIDs: nodeIDs}

	if targetScope := cmd.Flags.Lookup("target-scope").Value.String(); targetScope != "" {
		scope, err := parseScope(targetScope)
		if err != nil {
			return err
		}
		parent, err := int64Flag(cmd.Flags, "target-parent")
		if err != nil {
			return err
		}
		req.Target = &jobs.Target{Scope: scope, ParentID: optionalID(parent)}
	}

	ctx := context.Background()
	client, err := clientFromFlags(ctx, cmd.Flags)
	if err != nil {
		return err
	}

	if files := cmd.Flags.Lookup("files").Value.String(); files != "" {
		for _, localPath := range strings.Split(files, ",") {
			item, err := stageUpload(ctx, client, strings.TrimSpace(localPath))
			if err != nil {
				return err
			}
			req.Items = append(req.Items, item)
		}
	}

	var job jobs.Job
	if err := client.sendJSON(ctx, http.MethodPost, "/jobs", req, &job); err != nil {
		return err
	}
	printJob(&job)
	return nil
}

// stageUpload sends one local file to the upload staging area
func stageUpload(ctx context.Context, client *apiClient, localPath string) (jobs.UploadItem, error) {
	f, err := os.Open(localPath)
	if err != nil {
		return jobs.UploadItem{}, fmt.Errorf("failed to open %s: %w", localPath, err)
	}
	defer f.Close()

	req, err := client.newRequest(ctx, http.MethodPost, "/uploads", f)
	if err != nil {
		return jobs.UploadItem{}, err
	}
	mimeType := mime.TypeByExtension(filepath.Ext(localPath))
	if mimeType == "" {
		mimeType = "application/octet-stream"
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("X-File-Name", filepath.Base(localPath))

	resp, err := client.send(req)
	if err != nil {
		return jobs.UploadItem{}, fmt.Errorf("failed to stage %s: %w", localPath, err)
	}
	defer resp.Body.Close()

	var staged struct {
		Item jobs.UploadItem `json:"item"`
		Size int64           `json:"size"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&staged); err != nil {
		return jobs.UploadItem{}, fmt.Errorf("failed to decode staged upload: %w", err)
	}
	fmt.Fprintf(os.Stderr, "Staged %s (%d bytes)\n", localPath, staged.Size)
	return staged.Item, nil
}
