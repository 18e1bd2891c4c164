package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fred-ingest/internal/app"
)

var (
	showTable string
	showLimit int
)

var showCmd = &cobra.Command{
	Use:   "show",
	Short: "Display the most recently loaded rows",
	RunE: func(cmd *cobra.Command, args []string) error {
		if showLimit <= 0 {
			return fmt.Errorf("--limit must be greater than zero")
		}

		opts := app.ShowOptions{
			Table: showTable,
			Limit: showLimit,
		}

		return getApp().Show(cmd.Context(), opts)
	},
}

func init() {
	showCmd.Flags().StringVar(&showTable, "table", "latest", "Table: info, latest, first, all or a table name")
	showCmd.Flags().IntVar(&showLimit, "limit", 20, "Number of rows to display")
}
