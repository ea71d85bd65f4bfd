package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "Warden - control plane for blockchain node fleets",
	Long: `Warden operates a fleet of blockchain nodes across many hosts.

One manager process polls node health, fires scheduled maintenance,
drives multi-step operations (pruning, snapshots, state sync), and
keeps an audit trail. A stateless agent on each host executes the
privileged local steps behind an authenticated HTTP API.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Warden version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(managerCmd)
	rootCmd.AddCommand(agentCmd)
	rootCmd.AddCommand(validateCmd)
}
