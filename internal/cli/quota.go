package cli

import (
	"github.com/spf13/cobra"
)

var quotaCmd = &cobra.Command{
	Use:   "quota",
	Short: "Show the rate limit reported by the API",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().Quota(cmd.Context())
	},
}
