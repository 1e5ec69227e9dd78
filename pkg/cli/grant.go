package cli

import (
	"context"
	"flag"
	"fmt"
	"net/http"

	"github.com/platinummonkey/portalfs/pkg/permissions"
)

func newGrantCommand() *Command {
	cmd := &Command{
		Name:        "grant",
		Description: "Grant a user or team access to a node, or list grants",
		Flags:       flag.NewFlagSet("grant", flag.ExitOnError),
		Run:         runGrant,
	}

	addClientFlags(cmd.Flags)
	cmd.Flags.Int64("node", 0, "Node id")
	cmd.Flags.String("to-user", "", "User receiving the grant")
	cmd.Flags.String("to-team", "", "Team receiving the grant")
	cmd.Flags.String("level", "READ", "READ, WRITE or ADMIN")
	cmd.Flags.Bool("inheritable", true, "Apply the grant to descendants")
	cmd.Flags.Bool("list", false, "List the grants on the node")

	return cmd
}

type grantRequest struct {
	UserID      string `json:"user_id,omitempty"`
	TeamID      string `json:"team_id,omitempty"`
	Level       string `json:"level"`
	Inheritable bool   `json:"inheritable"`
}

func runGrant(args []string) error {
	cmd := newGrantCommand()
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
	path := fmt.Sprintf("/nodes/%d/grants", id)

	if cmd.Flags.Lookup("list").Value.String() == "true" {
		var grants listResponse[permissions.Grant]
		if err := client.getJSON(ctx, path, &grants); err != nil {
			return err
		}
		for _, g := range grants.Items {
			printGrant(&g)
		}
		return nil
	}

	req := grantRequest{
		UserID:      cmd.Flags.Lookup("to-user").Value.String(),
		TeamID:      cmd.Flags.Lookup("to-team").Value.String(),
		Inheritable: cmd.Flags.Lookup("inheritable").Value.String() == "true",
	}
	if (req.UserID == "") == (req.TeamID == "") {
		return fmt.Errorf("exactly one of to-user and to-team is required")
	}
	level, err := permissions.ParseLevel(cmd.Flags.Lookup("level").Value.String())
	if err != nil {
		return err
	}
	req.Level = string(level)

	var grant permissions.Grant
	if err := client.sendJSON(ctx, http.MethodPost, path, req, &grant); err != nil {
		return err
	}
	printGrant(&grant)
	return nil
}

func printGrant(g *permissions.Grant) {
	subject := ""
	if g.UserID != nil {
		subject = "user:" + *g.UserID
	} else if g.TeamID != nil {
		subject = "team:" + *g.TeamID
	}
	scope := "node"
	if g.Inheritable {
		scope = "subtree"
	}
	fmt.Printf("%-6d %-24s %-6s %s\n", g.ID, subject, g.Level, scope)
}
