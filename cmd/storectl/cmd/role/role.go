package role

import (
	"github.com/spf13/cobra"
)

// RoleCmd is the parent command for role operations
var RoleCmd = &cobra.Command{
	Use:   "role",
	Short: "Inspect the role the backend grants the current principal",
}

func init() {
	RoleCmd.AddCommand(getCmd)
}
