package role

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/storefront/cmd/storectl/internal/config"
	"github.com/terraconstructs/storefront/pkg/sdk"
)

var (
	refresh    bool
	jsonOutput bool
)

var getCmd = &cobra.Command{
	Use:   "get",
	Short: "Resolve the current principal's role",
	Long: `Resolves the role of the logged-in principal: a cached role is used while it
is fresh, allow-listed addresses are admins, and everyone else is looked up at
the backend. --refresh discards the cached role first.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		p := config.MustFromContext(ctx).ClientProvider

		resolver, err := p.Resolver(ctx)
		if err != nil {
			return err
		}
		session, err := p.Session(ctx)
		if err != nil {
			return err
		}

		if refresh {
			if err := resolver.Invalidate(ctx); err != nil {
				return fmt.Errorf("failed to clear cached role: %w", err)
			}
		}

		principal, err := session.Principal(ctx)
		if err != nil {
			return err
		}
		role, err := resolver.Resolve(ctx)
		if err != nil {
			return fmt.Errorf("failed to resolve role: %w", err)
		}

		if jsonOutput {
			out := struct {
				Principal string   `json:"principal,omitempty"`
				Role      sdk.Role `json:"role"`
			}{Role: role}
			if principal != nil {
				out.Principal = principal.Key()
			}
			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			return enc.Encode(out)
		}

		if principal == nil {
			pterm.Info.Printf("Not logged in; role is %s\n", role)
			return nil
		}
		pterm.Info.Printf("%s has role %s\n", principal.Key(), role)
		return nil
	},
}

func init() {
	getCmd.Flags().BoolVar(&refresh, "refresh", false, "Discard the cached role and resolve it again")
	getCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the result as JSON")
}
