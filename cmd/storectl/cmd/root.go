package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/terraconstructs/storefront/cmd/storectl/cmd/auth"
	"github.com/terraconstructs/storefront/cmd/storectl/cmd/role"
	"github.com/terraconstructs/storefront/cmd/storectl/internal/client"
	"github.com/terraconstructs/storefront/cmd/storectl/internal/config"
)

var (
	cfgFile string
	v       = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "storectl",
	Short: "Storefront session CLI",
	Long: `storectl signs operators into the storefront, reports the role the backend
grants them and can run a local back-office gateway that carries the session's
credentials to the backend.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		settings, err := config.Load(v, cfgFile)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %w", err)
		}

		logger := logrus.StandardLogger()
		logger.SetOutput(os.Stderr)
		if settings.Debug {
			logger.SetLevel(logrus.DebugLevel)
		}
		if path := config.ConfigPath(v); path != "" {
			logger.WithField("config", path).Debug("loaded configuration")
		}

		opts := settings.ClientOptions()
		opts.Logger = logger
		cmd.SetContext(config.InjectConfig(cmd.Context(), &config.GlobalConfig{
			Settings:       settings,
			ClientProvider: client.NewProvider(opts),
		}))
		return nil
	},
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if cfg, ok := config.FromContext(cmd.Context()); ok {
			return cfg.ClientProvider.Close()
		}
		return nil
	},
}

// Execute runs the root command
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}

func init() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "Config file (default ~/.storefront/config.yaml)")
	flags.String("server", "http://localhost:8080", "Storefront backend URL (env: STOREFRONT_SERVER)")
	flags.String("issuer", "", "OIDC issuer URL, defaults to the server URL (env: STOREFRONT_ISSUER)")
	flags.String("state-dir", "", "Directory for credentials and the session cache (env: STOREFRONT_STATE_DIR)")
	flags.Bool("debug", false, "Enable debug logging (env: STOREFRONT_DEBUG)")

	_ = v.BindPFlag("server", flags.Lookup("server"))
	_ = v.BindPFlag("issuer", flags.Lookup("issuer"))
	_ = v.BindPFlag("state_dir", flags.Lookup("state-dir"))
	_ = v.BindPFlag("debug", flags.Lookup("debug"))

	rootCmd.AddCommand(auth.AuthCmd)
	rootCmd.AddCommand(role.RoleCmd)
	rootCmd.AddCommand(serveCmd)
}
