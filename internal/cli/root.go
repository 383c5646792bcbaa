// Package cli wires the anydown commands: pull (the default), login,
// status, and logout.
package cli

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	verbose bool
	rootCmd *cobra.Command
)

func init() {
	rootCmd = &cobra.Command{
		Use:   "anydown",
		Short: "anydown - pull your Any.do tasks to local files",
		Long: `anydown signs in to Any.do, syncs your tasks, and exports them as raw
JSON plus a readable markdown digest. Runs are incremental: unchanged data
is detected and skipped.`,
		RunE:          runPull, // Default action is pull
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	// Global flags
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose output")
	registerPullFlags(rootCmd)
}

// Execute runs the root command
func Execute(version string) error {
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(pullCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.Version = version
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return err
	}
	return nil
}

// newLogger builds the CLI logger. Verbose runs get debug-level output on
// stderr; normal runs only surface warnings so command output stays clean.
func newLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}
