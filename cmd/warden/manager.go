package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stakeops/warden/pkg/config"
	"github.com/stakeops/warden/pkg/log"
	"github.com/stakeops/warden/pkg/manager"
	"github.com/stakeops/warden/pkg/metrics"
)

// shutdownGrace bounds how long a terminating manager waits for
// in-flight API requests to drain.
const shutdownGrace = 30 * time.Second

var managerCmd = &cobra.Command{
	Use:   "manager",
	Short: "Run the fleet manager",
	Long: `Run the Warden manager: health monitoring, scheduled and manual
maintenance operations, alerting, and the operator API.

The configuration directory must contain main.toml, one <host>.toml
per agent host, and secrets.toml with the referenced API keys.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configDir, _ := cmd.Flags().GetString("config-dir")

		cfg, err := config.Load(configDir)
		if err != nil {
			return fmt.Errorf("loading configuration from %s: %w", configDir, err)
		}
		log.Init(log.Config{
			Level:      log.Level(cfg.Manager.LogLevel),
			JSONOutput: cfg.Manager.LogJSON,
		})
		metrics.SetVersion(Version)

		m, err := manager.New(cfg)
		if err != nil {
			return fmt.Errorf("assembling manager: %w", err)
		}

		errCh := make(chan error, 1)
		go func() { errCh <- m.Start() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			// The listener died on its own; tear down what started.
			ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			m.Stop(ctx)
			return err
		case sig := <-sigCh:
			log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
		}

		ctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := m.Stop(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		return <-errCh
	},
}

func init() {
	managerCmd.Flags().String("config-dir", "/etc/warden",
		"Directory containing main.toml, per-host files, and secrets.toml")
}
