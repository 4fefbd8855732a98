package auth

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/storefront/cmd/storectl/internal/config"
	"github.com/terraconstructs/storefront/pkg/sdk"
)

var (
	clientID     string
	clientSecret string
	noBrowser    bool
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in to the storefront",
	Long: `Signs in with the OIDC device authorization flow.

Two methods are supported:
1. Interactive Login (default): Initiates a device authorization flow for human users.
2. Service Account Login: Uses a client ID and secret for non-interactive authentication.
   Use the --client-id and --client-secret flags, or STOREFRONT_CLIENT_SECRET.

Any roles cached for a previous session are discarded.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		cfg := config.MustFromContext(ctx)
		settings := cfg.Settings

		store, err := cfg.ClientProvider.CredentialStore()
		if err != nil {
			return err
		}
		sess, err := session(ctx)
		if err != nil {
			return err
		}

		var (
			creds *sdk.Credentials
			who   string
		)
		saID, saSecret := clientID, clientSecret
		if saSecret == "" && settings.ClientSecret != "" {
			saSecret = settings.ClientSecret
			if saID == "" {
				saID = settings.ClientID
			}
		}

		if saID != "" && saSecret != "" {
			pterm.Info.Println("Authenticating as service account...")
			creds, err = sdk.LoginWithServiceAccount(ctx, settings.IssuerURL(), saID, saSecret)
			if err != nil {
				return err
			}
			who = creds.PrincipalID
		} else {
			login := sdk.DeviceLogin{
				Issuer:      settings.IssuerURL(),
				ClientID:    settings.ClientID,
				Out:         os.Stdout,
				OpenBrowser: !noBrowser,
			}
			var meta *sdk.LoginSuccessMetadata
			meta, creds, err = login.Login(ctx)
			if err != nil {
				return err
			}
			if meta.Principal != nil {
				who = meta.Principal.Key()
			}
		}

		if _, err := sdk.PurgeRoleEntries(ctx, sess.Cache()); err != nil {
			pterm.Warning.Printf("Failed to clear cached roles: %v\n", err)
		}
		if err := store.SaveCredentials(creds); err != nil {
			return fmt.Errorf("failed to save credentials: %w", err)
		}

		pterm.Success.Println("Login successful!")
		if who != "" {
			pterm.Info.Printf("Authenticated as: %s\n", who)
		}
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&clientID, "client-id", "", "Client ID for service account authentication")
	loginCmd.Flags().StringVar(&clientSecret, "client-secret", "", "Client secret for service account authentication")
	loginCmd.Flags().BoolVar(&noBrowser, "no-browser", false, "Do not try to open the verification URL in a browser")
}
