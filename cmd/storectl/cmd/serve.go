package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/terraconstructs/storefront/cmd/storectl/internal/config"
	"github.com/terraconstructs/storefront/cmd/storectl/internal/gateway"
	"github.com/terraconstructs/storefront/pkg/sdk"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the local back-office gateway",
	Long: `Starts an HTTP gateway in front of the storefront backend. Requests under
/api are proxied with the session's credential; /account, /moderation and /admin
are only served to principals whose role admits them.

The gateway acts as the logged-in operator: every caller that can reach the
listen address has its /api requests sent with the operator's credential.
Keep it on a loopback address (the default 127.0.0.1:8787) unless every
client on the network is trusted.

Send SIGHUP to drop cached roles so they are resolved again on the next request.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.MustFromContext(cmd.Context())
		settings := cfg.Settings
		provider := cfg.ClientProvider
		logger := logrus.StandardLogger()

		upstream, err := url.Parse(settings.Server)
		if err != nil {
			return fmt.Errorf("invalid server URL: %w", err)
		}

		// In the gateway the redirect to login is written by the proxy's
		// error handler, so navigation only needs recording.
		provider.SetNavigator(sdk.NavigatorFunc(func(context.Context) {
			logger.Warn("session ended; waiting for a new login")
		}))

		session, err := provider.Session(cmd.Context())
		if err != nil {
			return err
		}
		httpClient, err := provider.HTTPClient(cmd.Context())
		if err != nil {
			return err
		}
		resolver, err := provider.Resolver(cmd.Context())
		if err != nil {
			return err
		}

		r := gateway.NewRouter(gateway.Options{
			Upstream:       upstream,
			Transport:      httpClient.Transport,
			Session:        session,
			Resolver:       resolver,
			LoginPath:      settings.LoginPath,
			LoadingWait:    settings.Gateway.LoadingWait,
			AllowedOrigins: settings.Gateway.AllowedOrigins,
			Logger:         logger,
		})

		srv := &http.Server{
			Addr:              settings.Gateway.Addr,
			Handler:           r,
			ReadHeaderTimeout: 10 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		if !gateway.IsLoopbackAddr(settings.Gateway.Addr) {
			logger.WithField("addr", settings.Gateway.Addr).
				Warn("gateway is reachable beyond loopback; remote callers will use this session's credential")
		}

		serverErrors := make(chan error, 1)
		go func() {
			logger.WithFields(logrus.Fields{
				"addr":     settings.Gateway.Addr,
				"upstream": upstream.Redacted(),
			}).Info("starting gateway")
			serverErrors <- srv.ListenAndServe()
		}()

		cacheRefresh := make(chan os.Signal, 1)
		signal.Notify(cacheRefresh, syscall.SIGHUP)
		defer signal.Stop(cacheRefresh)

		for {
			select {
			case err := <-serverErrors:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("server error: %w", err)

			case sig := <-cacheRefresh:
				removed, err := sdk.PurgeRoleEntries(cmd.Context(), session.Cache())
				if err != nil {
					logger.WithError(err).Error("role cache purge failed")
					continue
				}
				logger.WithFields(logrus.Fields{"signal": sig.String(), "removed": removed}).Info("purged role cache")

			case <-cmd.Context().Done():
				logger.Info("shutting down gateway")

				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if err := srv.Shutdown(ctx); err != nil {
					srv.Close()
					return fmt.Errorf("graceful shutdown failed: %w", err)
				}
				return nil
			}
		}
	},
}

func init() {
	serveCmd.Flags().String("addr", "", "Gateway listen address (env: STOREFRONT_GATEWAY_ADDR)")
	_ = v.BindPFlag("gateway.addr", serveCmd.Flags().Lookup("addr"))
}
