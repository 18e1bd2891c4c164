package cli

import (
	"strings"

	"github.com/spf13/cobra"

	"fred-ingest/internal/app"
)

var (
	searchFilters []string
	searchIDsOnly bool
)

var searchCmd = &cobra.Command{
	Use:     "search <text>",
	Short:   "Search series by text and attribute filters",
	Example: "  fredsync search \"unemployment rate\" --filter frequency=monthly --filter popularity=60",
	Args:    cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Search(cmd.Context(), app.SearchOptions{
			Text:    strings.Join(args, " "),
			Filters: searchFilters,
			IDsOnly: searchIDsOnly,
		})
	},
}

func init() {
	searchCmd.Flags().StringArrayVar(&searchFilters, "filter", nil, "attribute=value filter, applied in order (repeatable)")
	searchCmd.Flags().BoolVar(&searchIDsOnly, "ids", false, "Print only series ids")
}
