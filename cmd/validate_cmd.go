package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kebairia/cbak/internal/operations"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration and probe the storage backend",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := operations.NewManager(configFile)
		if err != nil {
			return err
		}

		cfg := manager.Config()
		fmt.Printf("Configuration OK: %s\n", configFile)
		fmt.Printf("  Backup name: %s\n", cfg.Backup.Name)
		fmt.Printf("  Storage:     %s\n", cfg.Storage.Type)
		fmt.Printf("  Encryption:  %v", cfg.Encryption.Enabled)
		if cfg.Encryption.Enabled {
			fmt.Printf(" (%s)", cfg.Encryption.Algorithm)
		}
		fmt.Println()
		fmt.Printf("  Retention:   keep last %d\n", cfg.Retention.KeepLast)
		if cfg.Retention.KeepDaily > 0 || cfg.Retention.KeepWeekly > 0 || cfg.Retention.KeepMonthly > 0 {
			fmt.Println("  Warning: keep_daily/keep_weekly/keep_monthly are accepted but not enforced yet")
		}

		if err := manager.TestConnection(); err != nil {
			return err
		}
		fmt.Println("Storage connection OK.")
		return nil
	},
}
