package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"

	"github.com/oidcbridge/oidcbridge/pkg/directory"
	"github.com/oidcbridge/oidcbridge/pkg/directory/postgres"
	"github.com/oidcbridge/oidcbridge/pkg/store"
)

func newLinkGroupCommand() *Command {
	cmd := &Command{
		Name:        "link-group",
		Description: "Link an external group UUID to a local group",
		Flags:       flag.NewFlagSet("link-group", flag.ExitOnError),
		Run:         runLinkGroup,
	}

	cmd.Flags.String("external-uuid", "", "External group UUID from the entitlement claim")
	cmd.Flags.String("group", "", "Local group ID")
	cmd.Flags.Bool("create-missing", false, "Create the local group when it does not exist")
	cmd.Flags.String("postgres-url", "", "Bridge database URL")

	return cmd
}

func newUnlinkGroupCommand() *Command {
	cmd := &Command{
		Name:        "unlink-group",
		Description: "Remove the mapping for an external group UUID",
		Flags:       flag.NewFlagSet("unlink-group", flag.ExitOnError),
		Run:         runUnlinkGroup,
	}

	cmd.Flags.String("external-uuid", "", "External group UUID from the entitlement claim")
	cmd.Flags.String("postgres-url", "", "Bridge database URL")

	return cmd
}

func newListGroupsCommand() *Command {
	cmd := &Command{
		Name:        "list-groups",
		Description: "List configured group mappings",
		Flags:       flag.NewFlagSet("list-groups", flag.ExitOnError),
		Run:         runListGroups,
	}

	cmd.Flags.String("postgres-url", "", "Bridge database URL")

	return cmd
}

// linkGroup creates the mapping, optionally creating the local group
// first.
func linkGroup(ctx context.Context, groups directory.Groups, mappings *store.GroupMappings,
	externalUUID, groupID string, createMissing bool) error {
	if externalUUID == "" || groupID == "" {
		return fmt.Errorf("external-uuid and group are required")
	}
	if _, err := uuid.Parse(externalUUID); err != nil {
		return fmt.Errorf("external-uuid is not a valid UUID: %w", err)
	}

	exists, err := groups.Exists(ctx, groupID)
	if err != nil {
		return fmt.Errorf("failed to check group %s: %w", groupID, err)
	}
	if !exists {
		if !createMissing {
			return fmt.Errorf("group %s does not exist (use --create-missing to create it)", groupID)
		}
		if _, err := groups.Create(ctx, groupID); err != nil {
			return fmt.Errorf("failed to create group %s: %w", groupID, err)
		}
	}

	return mappings.Add(ctx, externalUUID, groupID)
}

// unlinkGroup removes the mapping and reports whether one existed.
func unlinkGroup(ctx context.Context, mappings *store.GroupMappings, externalUUID string) (bool, error) {
	if externalUUID == "" {
		return false, fmt.Errorf("external-uuid is required")
	}
	return mappings.Remove(ctx, externalUUID)
}

// listGroups writes the mapping table as aligned text.
func listGroups(ctx context.Context, mappings *store.GroupMappings, w io.Writer) error {
	all, err := mappings.List(ctx)
	if err != nil {
		return err
	}
	if len(all) == 0 {
		fmt.Fprintln(w, "no group mappings configured")
		return nil
	}
	fmt.Fprintf(w, "%-40s %s\n", "EXTERNAL UUID", "LOCAL GROUP")
	for _, m := range all {
		fmt.Fprintf(w, "%-40s %s\n", m.ExternalUUID, m.LocalGroupID)
	}
	return nil
}

func runLinkGroup(args []string) error {
	cmd := newLinkGroupCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	db, err := openDatabase(cmd.Flags.Lookup("postgres-url").Value.String())
	if err != nil {
		return err
	}
	defer db.Close()

	externalUUID := cmd.Flags.Lookup("external-uuid").Value.String()
	groupID := cmd.Flags.Lookup("group").Value.String()
	createMissing := cmd.Flags.Lookup("create-missing").Value.String() == "true"

	ctx := context.Background()
	if err := linkGroup(ctx, postgres.NewGroups(db), store.NewGroupMappings(db, nil),
		externalUUID, groupID, createMissing); err != nil {
		return err
	}

	fmt.Printf("Linked external group %s to local group %s\n", externalUUID, groupID)
	return nil
}

func runUnlinkGroup(args []string) error {
	cmd := newUnlinkGroupCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	db, err := openDatabase(cmd.Flags.Lookup("postgres-url").Value.String())
	if err != nil {
		return err
	}
	defer db.Close()

	externalUUID := cmd.Flags.Lookup("external-uuid").Value.String()
	removed, err := unlinkGroup(context.Background(), store.NewGroupMappings(db, nil), externalUUID)
	if err != nil {
		return err
	}
	if !removed {
		fmt.Printf("No mapping found for external group %s\n", externalUUID)
		return nil
	}

	fmt.Printf("Unlinked external group %s\n", externalUUID)
	return nil
}

func runListGroups(args []string) error {
	cmd := newListGroupsCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	db, err := openDatabase(cmd.Flags.Lookup("postgres-url").Value.String())
	if err != nil {
		return err
	}
	defer db.Close()

	return listGroups(context.Background(), store.NewGroupMappings(db, nil), os.Stdout)
}
