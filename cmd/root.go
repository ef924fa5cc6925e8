package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/kebairia/cbak/internal/logger"
)

// timePrecision rounds durations in command output.
const timePrecision = 10 * time.Millisecond

var (
	// configFile is the path to the YAML configuration, shared by all
	// subcommands.
	configFile string
	verbose    bool

	rootCmd = &cobra.Command{
		Use:   "cbak",
		Short: "Back up directories to cloud or local storage",
		Long: `cbak archives a directory tree, optionally encrypts it, and stores it on a
configured backend: local disk, S3-compatible object storage, Yandex Disk, or
Google Drive. Old backups are pruned by a count-based retention policy.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

// Execute runs the root command. Any error surfaced by a subcommand
// terminates the process with a nonzero exit code.
func Execute() {
	log, err := logger.Init(verbose)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Cleanup()

	if err := rootCmd.Execute(); err != nil {
		log.Error("command failed", "error", err.Error())
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		logger.Cleanup()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().
		StringVarP(&configFile, "config", "c", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().
		BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")

	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(restoreCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(cleanupCmd)
	rootCmd.AddCommand(validateCmd)
}
