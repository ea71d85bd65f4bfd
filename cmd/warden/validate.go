package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/stakeops/warden/pkg/config"
	"github.com/stakeops/warden/pkg/scheduler"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration directory",
	Long: `Load and check the full configuration without starting anything.

Beyond the structural checks a starting manager performs, validate
parses every cron expression (including those on disabled nodes) and
verifies that every API key reference resolves against secrets.toml.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		configDir, _ := cmd.Flags().GetString("config-dir")

		cfg, err := config.Load(configDir)
		if err != nil {
			return fmt.Errorf("loading configuration from %s: %w", configDir, err)
		}

		problems := 0
		complain := func(format string, a ...any) {
			fmt.Printf("  ✗ "+format+"\n", a...)
			problems++
		}

		for _, node := range cfg.AllNodes() {
			if node.PruningSchedule != "" {
				if err := scheduler.ParseSchedule(node.PruningSchedule); err != nil {
					complain("node %s: pruning schedule %q: %v", node.Name, node.PruningSchedule, err)
				}
			}
			if node.SnapshotSchedule != "" {
				if err := scheduler.ParseSchedule(node.SnapshotSchedule); err != nil {
					complain("node %s: snapshot schedule %q: %v", node.Name, node.SnapshotSchedule, err)
				}
			}
		}
		for _, hermes := range cfg.AllHermes() {
			if hermes.RestartSchedule != "" {
				if err := scheduler.ParseSchedule(hermes.RestartSchedule); err != nil {
					complain("hermes %s: restart schedule %q: %v", hermes.Name, hermes.RestartSchedule, err)
				}
			}
		}

		hosts := make([]string, 0, len(cfg.Hosts))
		for host := range cfg.Hosts {
			hosts = append(hosts, host)
		}
		sort.Strings(hosts)
		for _, host := range hosts {
			if _, err := cfg.APIKey(cfg.Hosts[host].Server.APIKeyRef); err != nil {
				complain("host %s: %v", host, err)
			}
		}
		if _, err := cfg.ManagerAPIKey(); err != nil {
			complain("manager: %v", err)
		}

		fmt.Printf("%d host(s), %d node(s) (%d enabled), %d hermes, %d etl\n",
			len(cfg.Hosts), len(cfg.AllNodes()), len(cfg.EnabledNodes()),
			len(cfg.AllHermes()), len(cfg.AllETL()))

		if problems > 0 {
			return fmt.Errorf("%d problem(s) found", problems)
		}
		fmt.Println("✓ Configuration OK")
		return nil
	},
}

func init() {
	validateCmd.Flags().String("config-dir", "/etc/warden",
		"Directory containing main.toml, per-host files, and secrets.toml")
}
