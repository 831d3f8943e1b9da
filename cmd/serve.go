// cmd/serve.go
package cmd

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/xkilldash9x/webtrail/internal/config"
	"github.com/xkilldash9x/webtrail/internal/observability"
	"github.com/xkilldash9x/webtrail/internal/server"
)

// newServeCmd creates and configures the `serve` command.
func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Runs the collector that authenticates agents and stores uploaded trails",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			return viper.BindPFlag("server.addr", cmd.Flags().Lookup("addr"))
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.NewConfigFromViper(viper.GetViper())
			if err != nil {
				return err
			}
			if cfg.Server.DatabaseURL == "" {
				return fmt.Errorf("server.database_url is required (or set WEBTRAIL_DATABASE_URL)")
			}
			if cfg.Server.JWTSecret == "" {
				return fmt.Errorf("server.jwt_secret is required (or set WEBTRAIL_JWT_SECRET)")
			}

			logger := observability.GetLogger()
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			pool, err := pgxpool.New(ctx, cfg.Server.DatabaseURL)
			if err != nil {
				return fmt.Errorf("connecting to database: %w", err)
			}
			defer pool.Close()

			st, err := server.NewStore(ctx, pool, logger)
			if err != nil {
				return err
			}
			tokens := server.NewTokenIssuer(cfg.Server.JWTSecret,
				cfg.Server.AccessTokenTTL, cfg.Server.RefreshTokenTTL, nil)

			logger.Info("Collector listening", zap.String("addr", cfg.Server.Addr))
			return server.New(cfg.Server, st, tokens, logger).Run(ctx)
		},
	}

	serveCmd.Flags().String("addr", "", "listen address (default from config)")
	return serveCmd
}
