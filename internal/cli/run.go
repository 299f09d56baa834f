package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/shayne-snap/kvgauge/internal/experiment"
	"github.com/shayne-snap/kvgauge/internal/tui"

	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run [experiment]",
	Short: "Run a quantization sweep",
	Long:  "Runs the named sweep over the question battery. Cached evaluations are served without model work.",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := "uniform"
		if len(args) == 1 {
			name = args[0]
		}
		return runExperiment(name, false)
	},
}

func init() {
	runCmd.Long += " Experiments: " + experimentNamesText() + "."
}

func runExperiment(name string, openTUI bool) error {
	exp, err := experiment.New(name, experiment.Options{
		ModelName: globalModel,
		Out:       os.Stdout,
		JSON:      globalJSON,
	})
	if err != nil {
		return err
	}
	runner, store, err := buildRunner()
	if err != nil {
		return err
	}
	defer store.Close()

	results, err := runner.Run(context.Background(), exp)
	if err != nil {
		return fmt.Errorf("run %s: %w", name, err)
	}
	if openTUI {
		return tui.Run(results)
	}
	return nil
}
