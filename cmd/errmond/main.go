// Errmond watches production error logs, deduplicates failures into
// patterns, and proposes code fixes for the remediable ones.
//
// Usage:
//
//	# Start the daemon with defaults
//	errmond serve
//
//	# Point at a config file
//	errmond serve --config /etc/errmond/config.yaml
//
//	# Configure via environment
//	SERVER_PORT=9090 LOKI_URL=http://loki:3100 errmond serve
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "errmond",
	Short: "Autonomous error monitoring and remediation daemon",
	Long: `errmond tails a log aggregator for error-level events, classifies and
deduplicates them into patterns, and generates reviewable code fixes for
the patterns it knows how to remediate.`,
	Version: version,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the errmond daemon",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context(), configPath)
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("errmond\n")
		fmt.Printf("Version:    %s\n", version)
		fmt.Printf("Commit:     %s\n", gitCommit)
		fmt.Printf("Build Date: %s\n", buildDate)
	},
}

func init() {
	serveCmd.Flags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
