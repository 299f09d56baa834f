package cli

import (
	"os"

	"github.com/shayne-snap/kvgauge/internal/display"

	"github.com/spf13/cobra"
)

var questionsCmd = &cobra.Command{
	Use:   "questions",
	Short: "Show the question battery",
	Long:  "Loads the question battery (embedded set plus any user-cache overlay) and prints it with its set digest.",
	RunE: func(cmd *cobra.Command, args []string) error {
		questions, err := loadQuestions()
		if err != nil {
			return err
		}
		display.Questions(os.Stdout, questions, globalJSON)
		return nil
	},
}
