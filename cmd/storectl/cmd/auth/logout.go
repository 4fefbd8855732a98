package auth

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Sign out and revoke the session",
	Long: `Revokes the session at the identity provider, deletes the stored credentials
and clears every cached role.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		sess, err := session(cmd.Context())
		if err != nil {
			return err
		}

		if err := sess.Logout(cmd.Context()); err != nil {
			return err
		}

		pterm.Success.Println("Logged out successfully")
		return nil
	},
}
