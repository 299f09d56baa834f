package cli

import (
	"context"
	"fmt"

	"github.com/shayne-snap/kvgauge/internal/fetch"
	"github.com/shayne-snap/kvgauge/internal/question"

	"github.com/spf13/cobra"
)

// DefaultQuestionsURL is the URL for update-questions (canonical set: data/questions.json).
const DefaultQuestionsURL = "https://raw.githubusercontent.com/shayne-snap/kvgauge/main/data/questions.json"

var updateQuestionsURL string

var updateQuestionsCmd = &cobra.Command{
	Use:   "update-questions",
	Short: "Download the latest question set and save to user cache",
	Long: "Fetches the curated question set and writes it to the user cache, where it overlays " +
		"the embedded set by id. A new set changes the set digest, so prior cached results stop matching.",
	RunE: runUpdateQuestions,
}

func init() {
	updateQuestionsCmd.Flags().StringVar(&updateQuestionsURL, "url", DefaultQuestionsURL, "Question set URL")
}

func runUpdateQuestions(cmd *cobra.Command, args []string) error {
	body, err := fetch.FetchQuestionSet(context.Background(), updateQuestionsURL)
	if err != nil {
		return fmt.Errorf("update-questions: %w", err)
	}
	if err := question.Validate(body); err != nil {
		return fmt.Errorf("could not update questions: invalid set from server: %w", err)
	}
	if err := question.WriteCacheFile(body); err != nil {
		return fmt.Errorf("could not write cache: %w", err)
	}
	fmt.Println("Updated question set in user cache.")
	return nil
}
