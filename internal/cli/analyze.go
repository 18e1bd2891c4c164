package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"fred-ingest/internal/app"
)

var (
	analyzeSeries   []string
	analyzeQuestion string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Ask the LLM a question about the latest observations of some series",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(analyzeSeries) == 0 {
			return fmt.Errorf("--series must be provided")
		}
		return getApp().Analyze(cmd.Context(), app.AnalyzeOptions{
			Series:   analyzeSeries,
			Question: analyzeQuestion,
		})
	},
}

func init() {
	analyzeCmd.Flags().StringSliceVar(&analyzeSeries, "series", nil, "Series ids to include")
	analyzeCmd.Flags().StringVarP(&analyzeQuestion, "question", "q", "", "Question to ask about the data")
}
