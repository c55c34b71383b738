package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath   string
	logLevel     string
	jsonOutput   bool
	providerName string
	dbPath       string
	metricsAddr  string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "mason",
		Short: "StackMason - CloudFormation stack build orchestrator",
		Long: `StackMason builds sets of CloudFormation stacks from a declarative
YAML configuration.

Features:
  - Dependency-ordered parallel stack launches
  - Launch-time lookups (stack outputs, files, environment)
  - Locked/forced and enabled/disabled stack gates
  - Pre/post build hooks (command and Starlark)
  - Rego policy gate over the planned stack set
  - SQLite run history`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	// Persistent flags available to all commands
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "stacks.yaml", "stack config file path")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&providerName, "provider", "cloudformation", "stack provider (cloudformation, memory)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "mason.db", "run history database path (empty disables history)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address")

	// Add subcommands
	rootCmd.AddCommand(newBuildCommand())
	rootCmd.AddCommand(newInfoCommand())
	rootCmd.AddCommand(newGraphCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newVersionCommand(version, commit, buildDate))

	return rootCmd
}
