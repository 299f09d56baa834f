// Package cli wires the kvgauge commands: sweeps, device and question
// inspection, cache maintenance, and the recommendation report.
package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/shayne-snap/kvgauge/internal/experiment"
	"github.com/shayne-snap/kvgauge/internal/logutil"

	"github.com/spf13/cobra"
)

// Version is set by main from ldflags or "dev". Used by --version.
var Version string

var (
	globalModel     string
	globalDevices   string
	globalWorkers   uint
	globalQuestions uint
	globalCache     string
	globalDType     string
	globalJSON      bool
	globalCLI       bool
	globalVerbose   bool
	showVersion     bool
)

var rootCmd = &cobra.Command{
	Use:   "kvgauge",
	Short: "Measure how KV-cache quantization affects answer quality",
	Long: "kvgauge sweeps key/value cache quantization configurations over a fixed " +
		"question battery, caches every evaluation by content fingerprint, and reports " +
		"which configuration keeps answer quality at the smallest cache footprint. " +
		"Runs fan out across a fixed device table; repeated runs are served from cache.",
	RunE: runDefault,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if showVersion {
			if Version == "" {
				Version = "dev"
			}
			fmt.Println(Version)
			os.Exit(0)
		}
		logutil.InitLogger(globalVerbose)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&globalModel, "model", "m", "reference-4l", "Model identifier to evaluate")
	rootCmd.PersistentFlags().StringVar(&globalDevices, "devices", "", "Device table, e.g. cuda:0=16,cuda:1=16 (default: detected CPU devices)")
	rootCmd.PersistentFlags().UintVar(&globalWorkers, "workers", 2, "Worker count when --devices is not given")
	rootCmd.PersistentFlags().UintVarP(&globalQuestions, "questions", "n", 0, "Limit the question battery (0 = full set)")
	rootCmd.PersistentFlags().StringVar(&globalCache, "cache", "", "Result cache file (default: user cache dir)")
	rootCmd.PersistentFlags().StringVar(&globalDType, "dtype", "f16", "Baseline cache dtype: f32, f16, or bf16")
	rootCmd.PersistentFlags().BoolVar(&globalJSON, "json", false, "Output results as JSON")
	rootCmd.PersistentFlags().BoolVar(&globalCLI, "cli", false, "Use classic CLI table output instead of TUI (when no subcommand)")
	rootCmd.PersistentFlags().BoolVar(&globalVerbose, "verbose", false, "Enable debug logging (per-evaluation timing)")
	rootCmd.PersistentFlags().BoolVarP(&showVersion, "version", "v", false, "Print version and exit")

	rootCmd.AddCommand(runCmd, devicesCmd, questionsCmd, cacheCmd, recommendCmd, updateQuestionsCmd)
}

// Execute runs the root command. Returns error for exit code handling.
func Execute() error {
	return rootCmd.Execute()
}

// runDefault runs the uniform sweep and opens the TUI over its results
// (table output with --cli).
func runDefault(cmd *cobra.Command, args []string) error {
	return runExperiment("uniform", !globalCLI && !globalJSON)
}

func experimentNamesText() string {
	return strings.Join(experiment.Names(), ", ")
}
