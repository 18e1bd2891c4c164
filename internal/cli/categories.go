package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fred-ingest/internal/app"
)

var (
	categoriesFrom   int
	categoriesTo     int
	categoriesSeries bool
)

var categoriesCmd = &cobra.Command{
	Use:   "categories",
	Short: "List categories in an id range",
	RunE: func(cmd *cobra.Command, args []string) error {
		to := categoriesTo
		if !cmd.Flags().Changed("to") {
			to = categoriesFrom
		}
		if to < categoriesFrom {
			return fmt.Errorf("--to must not be below --from")
		}
		return getApp().Categories(cmd.Context(), app.CategoriesOptions{
			From:       categoriesFrom,
			To:         to,
			WithSeries: categoriesSeries,
		})
	},
}

func init() {
	categoriesCmd.Flags().IntVar(&categoriesFrom, "from", 0, "First category id")
	categoriesCmd.Flags().IntVar(&categoriesTo, "to", 0, "Last category id (defaults to --from)")
	categoriesCmd.Flags().BoolVar(&categoriesSeries, "series", false, "Also list the series ids of every category")
}
