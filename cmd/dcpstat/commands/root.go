// Package commands provides the CLI commands for dcpstat.
package commands

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sst/opencode-dynamic-context-pruning/internal/logging"
	"github.com/sst/opencode-dynamic-context-pruning/internal/persist"
	"github.com/spf13/cobra"
)

// Version is set at build time.
var Version = "0.1.0"

var (
	printLogs bool
	logLevel  string
)

var rootCmd = &cobra.Command{
	Use:     "dcpstat",
	Short:   "Inspect persisted dynamic context pruning session state",
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logCfg := logging.DefaultConfig()
		logCfg.Pretty = printLogs
		if printLogs {
			logCfg.Level = logging.ParseLevel(logLevel)
		} else {
			logCfg.Level = logging.FatalLevel
		}
		logging.Init(logCfg)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report <storage-dir>",
	Short: "Print aggregate pruning stats across every persisted session",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store := persist.NewStore(args[0])
		agg, err := store.AggregateStats(context.Background())
		if err != nil {
			return fmt.Errorf("aggregate stats: %w", err)
		}

		out, err := json.MarshalIndent(agg, "", "  ")
		if err != nil {
			return fmt.Errorf("marshal stats: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&printLogs, "print-logs", false, "Print logs to stderr")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "Log level when --print-logs is set (debug|info|warn|error)")
	rootCmd.AddCommand(reportCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
