package cli

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/oidcbridge/oidcbridge/pkg/store"
)

func newPruneIdentitiesCommand() *Command {
	cmd := &Command{
		Name:        "prune-identities",
		Description: "List or remove identity mappings unseen past the retention window",
		Flags:       flag.NewFlagSet("prune-identities", flag.ExitOnError),
		Run:         runPruneIdentities,
	}

	cmd.Flags.Duration("retention", 365*24*time.Hour, "How long a mapping may go unseen")
	cmd.Flags.Bool("delete", false, "Remove the expired mappings instead of listing them")
	cmd.Flags.String("postgres-url", "", "Bridge database URL")

	return cmd
}

// pruneIdentities reports accounts whose mappings are all past the
// retention threshold, deleting their mappings when delete is set.
func pruneIdentities(ctx context.Context, identities *store.IdentityMappings,
	threshold time.Time, delete bool, w io.Writer) error {
	expired, err := identities.FindExpired(ctx, threshold)
	if err != nil {
		return err
	}
	if len(expired) == 0 {
		fmt.Fprintln(w, "no expired identity mappings")
		return nil
	}

	for _, accountID := range expired {
		if !delete {
			fmt.Fprintln(w, accountID)
			continue
		}
		removed, err := identities.Remove(ctx, accountID)
		if err != nil {
			return fmt.Errorf("failed to prune mappings for account %s: %w", accountID, err)
		}
		fmt.Fprintf(w, "%s: removed %d mapping(s)\n", accountID, removed)
	}
	return nil
}

func runPruneIdentities(args []string) error {
	cmd := newPruneIdentitiesCommand()
	if err := cmd.Flags.Parse(args); err != nil {
		return err
	}

	db, err := openDatabase(cmd.Flags.Lookup("postgres-url").Value.String())
	if err != nil {
		return err
	}
	defer db.Close()

	retention, err := time.ParseDuration(cmd.Flags.Lookup("retention").Value.String())
	if err != nil {
		return fmt.Errorf("invalid retention: %w", err)
	}
	deleteExpired := cmd.Flags.Lookup("delete").Value.String() == "true"

	return pruneIdentities(context.Background(), store.NewIdentityMappings(db, nil),
		time.Now().Add(-retention), deleteExpired, os.Stdout)
}
