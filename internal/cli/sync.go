package cli

import (
	"github.com/spf13/cobra"

	"fred-ingest/internal/app"
)

var (
	syncSeries   []string
	syncModes    []string
	syncSkipInfo bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass and load new rows",
	Long:  "Fetch series info and observations and insert the rows not stored yet.\n" +
		"Without --series the configured series, search and categories are used.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Sync(cmd.Context(), app.SyncOptions{
			Series:   syncSeries,
			Modes:    syncModes,
			SkipInfo: syncSkipInfo,
		})
	},
}

func init() {
	syncCmd.Flags().StringSliceVar(&syncSeries, "series", nil, "Series ids to sync (comma separated or repeated)")
	syncCmd.Flags().StringSliceVar(&syncModes, "mode", nil, "Revision modes: latest, first, all (defaults to config)")
	syncCmd.Flags().BoolVar(&syncSkipInfo, "skip-info", false, "Do not load series info")
}
