package cli

import (
	"errors"

	"github.com/spf13/cobra"

	"fred-ingest/internal/app"
)

var (
	simulateSeries  []string
	simulateFailing []string
	simulatePoints  int
	simulateNotify  bool
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "用合成数据跑一次同步（不访问 FRED），可选发送通知",
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(simulateSeries) == 0 {
			return errors.New("--series 必须提供")
		}

		return getApp().Simulate(cmd.Context(), app.SimulateOptions{
			Series:  simulateSeries,
			Failing: simulateFailing,
			Points:  simulatePoints,
			Notify:  simulateNotify,
		})
	},
}

func init() {
	simulateCmd.Flags().StringSliceVar(&simulateSeries, "series", []string{"SIM1", "SIM2"}, "合成 series id")
	simulateCmd.Flags().StringSliceVar(&simulateFailing, "fail", nil, "模拟失败的 series id")
	simulateCmd.Flags().IntVar(&simulatePoints, "points", 12, "每个 series 的月度数据点数量")
	simulateCmd.Flags().BoolVar(&simulateNotify, "notify", false, "通过已配置的告警通道发送结果")
}
