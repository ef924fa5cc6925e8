package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/cbak/internal/operations"
)

var restoreOverwrite bool

var restoreCmd = &cobra.Command{
	Use:   "restore <backup-id> <target>",
	Short: "Restore a backup into a directory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := operations.NewManager(configFile)
		if err != nil {
			return err
		}

		result, err := manager.RestoreBackup(args[0], args[1], restoreOverwrite)
		if err != nil {
			return err
		}

		fmt.Printf("Restore finished: %s\n", result.BackupID)
		fmt.Printf("  Target:   %s\n", result.Target)
		fmt.Printf("  Files:    %d\n", result.FileCount)
		fmt.Printf("  Duration: %s\n", result.Duration.Round(timePrecision))
		return nil
	},
}

func init() {
	restoreCmd.Flags().
		BoolVar(&restoreOverwrite, "overwrite", false, "restore into a non-empty target directory")
}
