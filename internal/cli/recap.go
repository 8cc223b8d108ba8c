package cli

import (
	"github.com/spf13/cobra"
)

var recapCmd = &cobra.Command{
	Use:   "recap",
	Short: "Build today's OHLC recap and send it now",
	RunE: func(cmd *cobra.Command, args []string) error {
		return getApp().SendRecap(cmd.Context())
	},
}
