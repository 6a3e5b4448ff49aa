// Command meterhub runs the marketplace trust layer: the service registry,
// the payment gateway in front of metered calls, and the operator API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sudo-init-do/meterhub/internal/config"
	"github.com/sudo-init-do/meterhub/internal/db"
	"github.com/sudo-init-do/meterhub/internal/logging"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "meterhub",
		Short:         "Pay-per-call marketplace gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			path, err := cmd.Flags().GetString("config")
			if err != nil {
				return err
			}
			if path != "" {
				return os.Setenv("CONFIG_PATH", path)
			}
			return nil
		},
	}
	root.PersistentFlags().StringP("config", "c", "", "Path to configuration file (YAML)")

	root.AddCommand(&cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx)
		},
	})
	root.AddCommand(&cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return migrate(cmd.Context())
		},
	})
	return root
}

func serve(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log)

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer a.close()
	return a.run(ctx)
}

func migrate(ctx context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	log := logging.New(cfg.Log)

	adapter, err := db.Open(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer adapter.Close()

	if err := adapter.Initialize(ctx); err != nil {
		return err
	}
	log.Info().Str("backend", string(adapter.Backend())).Msg("migrations applied")
	return nil
}
