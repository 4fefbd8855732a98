package auth

import (
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/storefront/pkg/sdk"
)

var statusWait time.Duration

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Display authentication status and role",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p := provider(ctx)

		store, err := p.CredentialStore()
		if err != nil {
			return err
		}
		creds, err := store.LoadCredentials()
		if errors.Is(err, sdk.ErrNotLoggedIn) {
			pterm.Info.Println("Not logged in")
			return nil
		}
		if err != nil {
			return err
		}

		resolver, err := p.Resolver(ctx)
		if err != nil {
			return err
		}
		snap, err := resolver.Snapshot(ctx, statusWait)
		if err != nil {
			return fmt.Errorf("failed to read session: %w", err)
		}

		pterm.DefaultSection.Println("Authentication Status")
		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintf(w, "STATE\t%s\n", snap.State)
		if snap.Principal != nil {
			fmt.Fprintf(w, "PRINCIPAL\t%s\n", snap.Principal.Key())
			if snap.Principal.DisplayName != "" {
				fmt.Fprintf(w, "NAME\t%s\n", snap.Principal.DisplayName)
			}
		}
		if creds.PrincipalID != "" {
			fmt.Fprintf(w, "PRINCIPAL ID\t%s\n", creds.PrincipalID)
		}
		fmt.Fprintf(w, "TOKEN EXPIRES\t%s\n", creds.ExpiresAt.Format(time.RFC1123))
		if snap.State == sdk.SessionActive {
			fmt.Fprintf(w, "ROLE\t%s\n", snap.Role)
		}
		w.Flush()

		if snap.State == sdk.SessionResolving {
			pterm.Warning.Println("Role is still being resolved; run `storectl role get` to wait for it.")
		}
		return nil
	},
}

func init() {
	statusCmd.Flags().DurationVar(&statusWait, "wait", 5*time.Second, "How long to wait for role resolution")
}
