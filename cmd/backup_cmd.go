package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kebairia/cbak/internal/operations"
)

var (
	backupDescription string
	backupName        string
)

var backupCmd = &cobra.Command{
	Use:   "backup <source>",
	Short: "Create a backup of a directory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := operations.NewManager(configFile)
		if err != nil {
			return err
		}
		if backupName != "" {
			manager.SetBackupName(backupName)
		}

		result, err := manager.CreateBackup(args[0], backupDescription)
		if err != nil {
			return err
		}

		fmt.Printf("Backup created: %s\n", result.BackupID)
		fmt.Printf("  Files:       %d\n", result.FileCount)
		fmt.Printf("  Source size: %s\n", humanize.Bytes(uint64(result.TotalSize)))
		fmt.Printf("  Archive:     %s (%.1f%% of source)\n",
			humanize.Bytes(uint64(result.ArchiveSize)), result.CompressionRatio)
		fmt.Printf("  Encrypted:   %v\n", result.Encrypted)
		fmt.Printf("  Location:    %s\n", result.Location)
		fmt.Printf("  Duration:    %s\n", result.Duration.Round(timePrecision))
		return nil
	},
}

func init() {
	backupCmd.Flags().
		StringVarP(&backupDescription, "description", "d", "", "description stored in the backup metadata")
	backupCmd.Flags().
		StringVarP(&backupName, "name", "n", "", "override the configured backup name")
}
