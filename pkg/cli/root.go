package cli

import (
	"database/sql"
	"flag"
	"fmt"
	"os"

	_ "github.com/lib/pq"
)

// Command represents a CLI command
type Command struct {
	Name        string
	Description string
	Run         func(args []string) error
	Subcommands map[string]*Command
	Flags       *flag.FlagSet
}

// NewRootCommand creates the root command
func NewRootCommand() *Command {
	root := &Command{
		Name:        "oidcbridge",
		Description: "OpenID Connect identity bridge administration",
		Subcommands: make(map[string]*Command),
		Flags:       flag.NewFlagSet("oidcbridge", flag.ExitOnError),
	}

	// Add subcommands
	root.Subcommands["link-group"] = newLinkGroupCommand()
	root.Subcommands["unlink-group"] = newUnlinkGroupCommand()
	root.Subcommands["list-groups"] = newListGroupsCommand()
	root.Subcommands["prune-identities"] = newPruneIdentitiesCommand()

	return root
}

// Execute runs the command
func (c *Command) Execute() error {
	args := os.Args[1:]
	if len(args) == 0 {
		return c.usage()
	}

	// Check for help flag
	if args[0] == "-h" || args[0] == "--help" {
		return c.usage()
	}

	// Check for subcommand
	if subcmd, ok := c.Subcommands[args[0]]; ok {
		return subcmd.Run(args[1:])
	}

	return fmt.Errorf("unknown command: %s", args[0])
}

// usage prints the command usage
func (c *Command) usage() error {
	fmt.Printf("Usage: %s <command> [args]\n\n", c.Name)
	fmt.Printf("Commands:\n")
	for name, cmd := range c.Subcommands {
		fmt.Printf("  %-18s %s\n", name, cmd.Description)
	}
	return nil
}

// openDatabase opens the bridge database from the --postgres-url flag,
// falling back to OIDCBRIDGE_POSTGRES_URL.
func openDatabase(url string) (*sql.DB, error) {
	if url == "" {
		url = os.Getenv("OIDCBRIDGE_POSTGRES_URL")
	}
	if url == "" {
		return nil, fmt.Errorf("postgres URL is required (--postgres-url or OIDCBRIDGE_POSTGRES_URL)")
	}
	db, err := sql.Open("postgres", url)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return db, nil
}
