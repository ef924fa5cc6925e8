package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/kebairia/cbak/internal/operations"
)

var listLimit int

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups stored on the backend, newest first",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		manager, err := operations.NewManager(configFile)
		if err != nil {
			return err
		}

		records, err := manager.ListBackups(listLimit)
		if err != nil {
			return err
		}
		if len(records) == 0 {
			fmt.Println("No backups found.")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSIZE\tCREATED\tDESCRIPTION")
		for _, record := range records {
			description := ""
			if record.Metadata != nil {
				description = record.Metadata.Description
			}
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
				record.ID,
				humanize.Bytes(uint64(record.Size)),
				record.CreatedAt.Format(time.RFC3339),
				description,
			)
		}
		return w.Flush()
	},
}

func init() {
	listCmd.Flags().
		IntVarP(&listLimit, "limit", "l", 0, "show at most this many backups (0 = all)")
}
