package cli

import (
	"os"

	"github.com/shayne-snap/kvgauge/internal/display"

	"github.com/spf13/cobra"
)

var devicesCmd = &cobra.Command{
	Use:   "devices",
	Short: "Show the device table a run would use",
	Long:  "Resolves --devices (or detects CPU devices) and prints the resulting worker table.",
	RunE: func(cmd *cobra.Command, args []string) error {
		configs, err := resolveDevices()
		if err != nil {
			return err
		}
		display.Devices(os.Stdout, configs, globalJSON)
		return nil
	},
}
