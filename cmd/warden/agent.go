package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/stakeops/warden/pkg/agent"
	"github.com/stakeops/warden/pkg/api"
	"github.com/stakeops/warden/pkg/config"
	"github.com/stakeops/warden/pkg/log"
)

var agentCmd = &cobra.Command{
	Use:   "agent",
	Short: "Run the host agent",
	Long: `Run the Warden agent on a node host.

The agent executes privileged local operations (service control,
pruning, snapshots, state sync) on demand from the manager. It keeps
no persistent state; every operation arrives fully parameterized.

The bearer token clients must present comes from --api-key or, when
unset, the AGENT_API_KEY environment variable. Prefer the environment
variable: flags are visible in the process list.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		host, _ := cmd.Flags().GetString("host")
		port, _ := cmd.Flags().GetInt("port")
		apiKey, _ := cmd.Flags().GetString("api-key")
		logLevel, _ := cmd.Flags().GetString("log-level")
		logJSON, _ := cmd.Flags().GetBool("log-json")

		log.Init(log.Config{
			Level:      log.Level(logLevel),
			JSONOutput: logJSON,
		})

		a := agent.NewAgent(nil)
		a.Start()

		srv := api.NewServer(&api.Config{
			Host:   host,
			Port:   port,
			APIKey: apiKey,
			Agent:  a,
		})

		errCh := make(chan error, 1)
		go func() { errCh <- srv.Start() }()

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case err := <-errCh:
			a.Stop()
			return err
		case sig := <-sigCh:
			log.Logger.Info().Str("signal", sig.String()).Msg("shutting down")
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Stop(ctx); err != nil {
			return fmt.Errorf("shutdown: %w", err)
		}
		a.Stop()
		return <-errCh
	},
}

func init() {
	agentCmd.Flags().String("host", "0.0.0.0", "Bind address")
	agentCmd.Flags().Int("port", config.DefaultAgentPort, "Bind port")
	agentCmd.Flags().String("api-key", "", "Bearer token (prefer AGENT_API_KEY)")
	agentCmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	agentCmd.Flags().Bool("log-json", false, "Emit JSON logs instead of console output")
}
