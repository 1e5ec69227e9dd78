package cli

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/platinummonkey/portalfs/pkg/sharelinks"
)

func newShareCommand() *Command {
	cmd := &Command{
		Name:        "share",
		Description: "Issue, list or deactivate public share links",
		Flags:       flag.NewFlagSet("share", flag.ExitOnError),
		Run:         runShare,
	}

	addClientFlags(cmd.Flags)
	cmd.Flags.Int64("node", 0, "Node to share")
	cmd.Flags.Duration("expires", 0, "Link lifetime; 0 never expires")
	cmd.Flags.Int("max-downloads", 0, "Download cap; 0 is unlimited")
	cmd.Flags.String("password", "", "Password visitors must send")
	cmd.Flags.Bool("no-download", false, "Disallow downloads")
	cmd.Flags.Bool("no-preview", false, "Disallow previews")
	cmd.Flags.Bool("list", false, "List the links of -node, or your own links without it")
	cmd.Flags.String("deactivate", "", "Token of a link to deactivate")

	return cmd
}

func runShare(args []string) error {
	cmd := newShareCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	id, err := int64Flag(cmd.Flags, "node")
	if err != nil {
		return err
	}
	list := cmd.Flags.Lookup("list").Value.String() == "true"
	deactivate := cmd.Flags.Lookup("deactivate").Value.String()

	ctx := context.Background()
	client, err := clientFromFlags(ctx, cmd.Flags)
	if err != nil {
		return err
	}

	switch {
	case deactivate != "":
		var link sharelinks.Link
		if err := client.sendJSON(ctx, http.MethodDelete, "/share-links/"+url.PathEscape(deactivate), nil, &link); err != nil {
			return err
		}
		printLink(&link)
		return nil

	case list:
		path := "/share-links"
		if id != 0 {
			path = fmt.Sprintf("/nodes/%d/share-links", id)
		}
		var links listResponse[sharelinks.Link]
		if err := client.getJSON(ctx, path, &links); err != nil {
			return err
		}
		for _, link := range links.Items {
			printLink(&link)
		}
		return nil
	}

	if id == 0 {
		return fmt.Errorf("node is required")
	}
	req, err := issueRequestFromFlags(cmd.Flags)
	if err != nil {
		return err
	}

	var link sharelinks.Link
	if err := client.sendJSON(ctx, http.MethodPost, fmt.Sprintf("/nodes/%d/share-links", id), req, &link); err != nil {
		return err
	}
	printLink(&link)
	return nil
}

// issueRequest matches the body of the share link creation endpoint
type issueRequest struct {
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
	Password      string     `json:"password,omitempty"`
	MaxDownloads  *int       `json:"max_downloads,omitempty"`
	AllowDownload *bool      `json:"allow_download,omitempty"`
	AllowPreview  *bool      `json:"allow_preview,omitempty"`
}

func issueRequestFromFlags(fs *flag.FlagSet) (issueRequest, error) {
	req := issueRequest{Password: fs.Lookup("password").Value.String()}

	expires, err := time.ParseDuration(fs.Lookup("expires").Value.String())
	if err != nil {
		return req, fmt.Errorf("invalid expires: %w", err)
	}
	if expires < 0 {
		return req, fmt.Errorf("expires must not be negative")
	}
	if expires > 0 {
		at := time.Now().Add(expires).UTC()
		req.ExpiresAt = &at
	}

	var maxDownloads int
	if _, err := fmt.Sscan(fs.Lookup("max-downloads").Value.String(), &maxDownloads); err != nil {
		return req, fmt.Errorf("invalid max-downloads: %w", err)
	}
	if maxDownloads > 0 {
		req.MaxDownloads = &maxDownloads
	}

	if fs.Lookup("no-download").Value.String() == "true" {
		no := false
		req.AllowDownload = &no
	}
	if fs.Lookup("no-preview").Value.String() == "true" {
		no := false
		req.AllowPreview = &no
	}
	return req, nil
}

func printLink(link *sharelinks.Link) {
	state := "active"
	if !link.IsActive {
		state = "inactive"
	}
	limit := "unlimited"
	if link.MaxDownloads != nil {
		limit = fmt.Sprintf("%d/%d", link.DownloadCount, *link.MaxDownloads)
	}
	expires := "never"
	if link.ExpiresAt != nil {
		expires = link.ExpiresAt.Format(time.RFC3339)
	}
	fmt.Printf("%s  node=%d  %s  downloads=%s  expires=%s\n", link.Token, link.NodeID, state, limit, expires)
}
