package cli

import (
	"github.com/spf13/cobra"

	"fred-ingest/internal/app"
)

var (
	exportTable   string
	exportCSVPath string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a stored table as CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Export(cmd.Context(), app.ExportOptions{
			Table:   exportTable,
			CSVPath: exportCSVPath,
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&exportTable, "table", "latest", "Table: info, latest, first, all or a table name")
	exportCmd.Flags().StringVar(&exportCSVPath, "csv", "", "Path to write CSV data (stdout when empty)")
}
