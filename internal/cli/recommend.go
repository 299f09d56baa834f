package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/shayne-snap/kvgauge/internal/display"
	"github.com/shayne-snap/kvgauge/internal/experiment"
	"github.com/shayne-snap/kvgauge/internal/report"

	"github.com/spf13/cobra"
)

var (
	recommendMaxDrop    float64
	recommendExperiment string
)

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Recommend the cheapest configuration within an accuracy budget",
	Long: "Runs a sweep (served from cache when possible) and picks the configuration with " +
		"the smallest compressed cache whose accuracy stays within --max-drop of the baseline.",
	RunE: runRecommend,
}

func init() {
	recommendCmd.Flags().Float64Var(&recommendMaxDrop, "max-drop", 0.05, "Maximum allowed accuracy drop from baseline (fraction)")
	recommendCmd.Flags().StringVar(&recommendExperiment, "experiment", "uniform", "Sweep to recommend from: "+experimentNamesText())
}

func runRecommend(cmd *cobra.Command, args []string) error {
	if recommendMaxDrop < 0 || recommendMaxDrop > 1 {
		return fmt.Errorf("recommend: --max-drop %v out of range [0, 1]", recommendMaxDrop)
	}
	exp, err := experiment.New(recommendExperiment, experiment.Options{
		ModelName: globalModel,
		Out:       io.Discard,
		JSON:      false,
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
		return fmt.Errorf("recommend: %w", err)
	}
	pick, err := report.Recommend(results, recommendMaxDrop)
	if err != nil {
		pick = nil
	}
	display.Recommendation(os.Stdout, results, pick, recommendMaxDrop, globalJSON)
	return nil
}
