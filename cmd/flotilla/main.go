package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/tidemark/flotilla/pkg/log"
	"github.com/tidemark/flotilla/pkg/metrics"
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
	Use:   "flotilla",
	Short: "Flotilla - build cluster control plane",
	Long: `Flotilla is the control plane core for a build cluster: it tracks job
lifecycles, stores job artifacts under strict size bounds, enforces
per-entity quotas, fails regions over when their health degrades, and
puts idle worker nodes to sleep to save cost.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: true})
		metrics.SetVersion(Version)
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Flotilla version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))
	rootCmd.PersistentFlags().String("log-level", "info", "log level (trace|debug|info|warn|error)")

	rootCmd.AddCommand(daemonCmd)
}
