package cli

import (
	"errors"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"
)

var (
	simulateAsset string
	simulateFrom  float64
	simulateTo    float64
)

var simulateCmd = &cobra.Command{
	Use:   "simulate-alert",
	Short: "用两次合成价格模拟一次告警并投递",
	RunE: func(cmd *cobra.Command, args []string) error {
		if simulateAsset == "" {
			return errors.New("--asset 必须指定")
		}
		if simulateFrom <= 0 || simulateTo <= 0 {
			return errors.New("--from 与 --to 必须大于 0")
		}

		from := decimal.NewFromFloat(simulateFrom)
		to := decimal.NewFromFloat(simulateTo)
		return getApp().SimulateAlert(cmd.Context(), simulateAsset, from, to)
	},
}

func init() {
	simulateCmd.Flags().StringVar(&simulateAsset, "asset", "", "资产 id 或代码")
	simulateCmd.Flags().Float64Var(&simulateFrom, "from", 0, "第一次观测价格 (USD)")
	simulateCmd.Flags().Float64Var(&simulateTo, "to", 0, "第二次观测价格 (USD)")
}
