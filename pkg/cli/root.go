package cli

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"sort"
	"strings"
)

// ErrUnknownCommand is returned for a first argument that names no subcommand
var ErrUnknownCommand = errors.New("unknown command")

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Version     string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "portalfs",
		Description: "portalfs - developer portal file tree administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("portalfs", flag.ExitOnError),
	}

	root.Subcommands["ls"] = newLsCommand()
	root.Subcommands["mkdir"] = newMkdirCommand()
	root.Subcommands["rm"] = newRmCommand()
	root.Subcommands["upload"] = newUploadCommand()
	root.Subcommands["download"] = newDownloadCommand()
	root.Subcommands["share"] = newShareCommand()
	root.Subcommands["grant"] = newGrantCommand()
	root.Subcommands["jobs"] = newJobsCommand()
	root.Subcommands["submit"] = newSubmitCommand()

	return root
}

// Execute runs the command with the process arguments
func (c *Command) Execute() error {
	return c.ExecuteArgs(os.Args[1:])
}

// ExecuteArgs dispatches args to the matching subcommand
func (c *Command) ExecuteArgs(args []string) error {
	if len(args) == 0 {
		return c.usage()
	}

	switch strings.ToLower(args[0]) {
	case "-h", "--help", "help":
		return c.usage()
	case "version", "-version", "--version":
		fmt.Printf("%s %s\n", c.Name, c.version())
		return nil
	}

	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("%w: %s", ErrUnknownCommand, args[0])
}

func (c *Command) version() string {
	if c.Version == "" {
		return "dev"
	}
	return c.Version
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Printf("Usage: %s <command> [args]\n\n", c.Name)
	fmt.Printf("Commands:\n")

	names := make([]string, 0, len(c.Subcommands))
	for name := range c.Subcommands {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fmt.Printf("  %-15s %s\n", name, c.Subcommands[name].Description)
	}
	fmt.Printf("\nRun '%s <command> -h' for the flags of a command, '%s version' for the build.\n", c.Name, c.Name)
	return nil
}
