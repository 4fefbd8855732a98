package auth

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/terraconstructs/storefront/cmd/storectl/internal/client"
	"github.com/terraconstructs/storefront/cmd/storectl/internal/config"
	"github.com/terraconstructs/storefront/pkg/sdk"
)

// AuthCmd is the parent command for auth operations
var AuthCmd = &cobra.Command{
	Use:   "auth",
	Short: "Manage authentication",
	Long:  `Commands for managing authentication and login status.`,
}

func init() {
	AuthCmd.AddCommand(loginCmd)
	AuthCmd.AddCommand(logoutCmd)
	AuthCmd.AddCommand(statusCmd)
	AuthCmd.AddCommand(tokenCmd)
}

func provider(ctx context.Context) *client.Provider {
	return config.MustFromContext(ctx).ClientProvider
}

func session(ctx context.Context) (*sdk.Session, error) {
	s, err := provider(ctx).Session(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to open session: %w", err)
	}
	return s, nil
}
