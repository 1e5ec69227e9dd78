// Command portalfs-cli administers portalfs file trees over the HTTP API.
package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/platinummonkey/portalfs/pkg/cli"
)

// version is set at build time with -ldflags "-X main.version=..."
var version = "dev"

func main() {
	root := cli.NewRootCommand()
	root.Version = version

	err := root.Execute()
	switch {
	case err == nil:
	case errors.Is(err, cli.ErrUnknownCommand):
		fmt.Fprintf(os.Stderr, "%s: %v\nRun '%s -h' for usage.\n", root.Name, err, root.Name)
		os.Exit(2)
	default:
		fmt.Fprintf(os.Stderr, "%s: %v\n", root.Name, err)
		os.Exit(1)
	}
}
