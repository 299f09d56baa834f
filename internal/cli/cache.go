package cli

import (
	"fmt"
	"os"

	"github.com/shayne-snap/kvgauge/internal/display"

	"github.com/spf13/cobra"
)

var (
	cacheClear  bool
	cacheDelete string
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect or prune the result cache",
	Long:  "Lists stored evaluation fingerprints. --delete removes one entry; --clear removes all of them.",
	RunE:  runCache,
}

func init() {
	cacheCmd.Flags().BoolVar(&cacheClear, "clear", false, "Remove every cached result")
	cacheCmd.Flags().StringVar(&cacheDelete, "delete", "", "Remove one fingerprint")
}

func runCache(cmd *cobra.Command, args []string) error {
	store, err := openStore()
	if err != nil {
		return err
	}
	defer store.Close()

	if cacheClear {
		if err := store.Clear(); err != nil {
			return err
		}
		fmt.Println("Result cache cleared.")
		return nil
	}
	if cacheDelete != "" {
		if err := store.Delete(cacheDelete); err != nil {
			return err
		}
		fmt.Printf("Removed %s.\n", cacheDelete)
		return nil
	}
	keys, err := store.Keys()
	if err != nil {
		return err
	}
	display.CacheEntries(os.Stdout, keys, globalJSON)
	return nil
}
