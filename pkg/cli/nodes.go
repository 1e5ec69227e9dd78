package cli

import (
	"context"
	"flag"
	"fmt"
	"net/http"

	"github.com/platinummonkey/portalfs/pkg/nodes"
)

func newLsCommand() *Command {
	cmd := &Command{
		Name:        "ls",
		Description: "List roots, folder contents or trash",
		Flags:       flag.NewFlagSet("ls", flag.ExitOnError),
		Run:         runLs,
	}

	addClientFlags(cmd.Flags)
	cmd.Flags.String("scope", "", "Tree scope (project:ID or repository:ID@BRANCH)")
	cmd.Flags.Int64("parent", 0, "Folder id to list instead of the scope roots")
	cmd.Flags.Bool("trash", false, "List soft-deleted nodes of the scope")

	return cmd
}

func runLs(args []string) error {
	cmd := newLsCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	parent, err := int64Flag(cmd.Flags, "parent")
	if err != nil {
		return err
	}
	trash := cmd.Flags.Lookup("trash").Value.String() == "true"

	var path string
	if parent != 0 {
		if trash {
			return fmt.Errorf("trash lists a whole scope, not a folder")
		}
		path = fmt.Sprintf("/nodes/%d/children", parent)
	} else {
		scope, err := parseScope(cmd.Flags.Lookup("scope").Value.String())
		if err != nil {
			return err
		}
		suffix := "roots"
		if trash {
			suffix = "trash"
		}
		path = scopePath(scope, suffix)
	}

	ctx := context.Background()
	client, err := clientFromFlags(ctx, cmd.Flags)
	if err != nil {
		return err
	}

	var list listResponse[nodes.Node]
	if err := client.getJSON(ctx, path, &list); err != nil {
		return err
	}
	for _, n := range list.Items {
		printNode(&n)
	}
	return nil
}

func printNode(n *nodes.Node) {
	fmt.Printf("%-8d %-6s %10d  %s\n", n.ID, n.Kind, n.Size, n.Path)
}

func newMkdirCommand() *Command {
	cmd := &Command{
		Name:        "mkdir",
		Description: "Create a folder",
		Flags:       flag.NewFlagSet("mkdir", flag.ExitOnError),
		Run:         runMkdir,
	}

	addClientFlags(cmd.Flags)
	cmd.Flags.String("scope", "", "Tree scope (project:ID or repository:ID@BRANCH)")
	cmd.Flags.Int64("parent", 0, "Parent folder id; omit to create a root")
	cmd.Flags.String("name", "", "Folder name")

	return cmd
}

func runMkdir(args []string) error {
	cmd := newMkdirCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	name := cmd.Flags.Lookup("name").Value.String()
	if name == "" {
		return fmt.Errorf("name is required")
	}
	scope, err := parseScope(cmd.Flags.Lookup("scope").Value.String())
	if err != nil {
		return err
	}
	parent, err := int64Flag(cmd.Flags, "parent")
	if err != nil {
		return err
	}

	ctx := context.Background()
	client, err := clientFromFlags(ctx, cmd.Flags)
	if err != nil {
		return err
	}

	var created nodes.Node
	req := nodes.CreateFolderRequest{Scope: scope, ParentID: optionalID(parent), Name: name}
	if err := client.sendJSON(ctx, http.MethodPost, "/nodes/folders", req, &created); err != nil {
		return err
	}
	printNode(&created)
	return nil
}

func newRmCommand() *Command {
	cmd := &Command{
		Name:        "rm",
		Description: "Move a node and its subtree to the trash",
		Flags:       flag.NewFlagSet("rm", flag.ExitOnError),
		Run:         runRm,
	}

	addClientFlags(cmd.Flags)
	cmd.Flags.Int64("node", 0, "Node id")

	return cmd
}

func runRm(args []string) error {
	cmd := newRmCommand()
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

	ctx := context.Background()
	client, err := clientFromFlags(ctx, cmd.Flags)
	if err != nil {
		return err
	}

	var result struct {
		Deleted int `json:"deleted"`
	}
	if err := client.sendJSON(ctx, http.MethodDelete, fmt.Sprintf("/nodes/%d", id), nil, &result); err != nil {
		return err
	}
	fmt.Printf("Deleted %d node(s)\n", result.Deleted)
	return nil
}
