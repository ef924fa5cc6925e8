package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kebairia/cbak/internal/operations"
)

var cleanupDryRun bool

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Prune old backups per the retention policy",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := operations.NewManager(configFile)
		if err != nil {
			return err
		}

		result, err := manager.CleanupOldBackups(cleanupDryRun)
		if err != nil {
			return err
		}

		if cleanupDryRun {
			fmt.Printf("Dry run: %d of %d backups would be deleted, keeping %d.\n",
				len(result.ToDelete), result.TotalBackups, result.WillKeep)
			for _, record := range result.ToDelete {
				fmt.Printf("  would delete %s (%s)\n", record.ID, humanize.Bytes(uint64(record.Size)))
			}
			return nil
		}

		fmt.Printf("Deleted %d of %d backups, freed %s.\n",
			result.DeletedCount, result.TotalBackups, humanize.Bytes(uint64(result.FreedSpace)))
		return nil
	},
}

func init() {
	cleanupCmd.Flags().
		BoolVar(&cleanupDryRun, "dry-run", false, "show deletion candidates without deleting")
}
