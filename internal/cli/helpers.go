package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/shayne-snap/kvgauge/internal/device"
	"github.com/shayne-snap/kvgauge/internal/experiment"
	"github.com/shayne-snap/kvgauge/internal/model"
	"github.com/shayne-snap/kvgauge/internal/question"
	"github.com/shayne-snap/kvgauge/internal/quant"
	"github.com/shayne-snap/kvgauge/internal/resultcache"
)

// defaultCachePath returns the result cache file location
// (XDG-style: cache dir/kvgauge/results.db).
func defaultCachePath() (string, error) {
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "kvgauge", "results.db"), nil
}

// resolveDevices builds the device table from --devices, falling back to
// detected CPU devices split across --workers.
func resolveDevices() ([]device.Config, error) {
	if globalDevices != "" {
		return device.ParseSpec(globalDevices)
	}
	return device.Detect(int(globalWorkers))
}

// openStore opens the result cache at --cache (or the default location).
func openStore() (*resultcache.Store, error) {
	path := globalCache
	if path == "" {
		var err error
		path, err = defaultCachePath()
		if err != nil {
			return nil, fmt.Errorf("cache path: %w", err)
		}
	}
	return resultcache.Open(path)
}

// loadQuestions loads the tokenized question battery for the chosen model.
func loadQuestions() ([]question.Question, error) {
	tok := model.NewTokenizer(globalModel)
	return question.Load(tok, int(globalQuestions))
}

// buildRunner assembles the shared per-run resources. Caller closes the
// returned store.
func buildRunner() (*experiment.Runner, *resultcache.Store, error) {
	devices, err := resolveDevices()
	if err != nil {
		return nil, nil, err
	}
	dtype, err := quant.ParseDType(globalDType)
	if err != nil {
		return nil, nil, err
	}
	questions, err := loadQuestions()
	if err != nil {
		return nil, nil, err
	}
	store, err := openStore()
	if err != nil {
		return nil, nil, err
	}
	runner := &experiment.Runner{
		Devices:   devices,
		Provider:  model.NewReferenceProvider(),
		Store:     store,
		Questions: questions,
		DType:     dtype,
		Verbose:   globalVerbose,
	}
	return runner, store, nil
}
