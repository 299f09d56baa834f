package cli

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultCachePath(t *testing.T) {
	path, err := defaultCachePath()
	if err != nil {
		t.Fatalf("defaultCachePath: %v", err)
	}
	if filepath.Base(path) != "results.db" {
		t.Errorf("path = %q, want results.db file", path)
	}
	if !strings.Contains(path, "kvgauge") {
		t.Errorf("path = %q, want kvgauge dir", path)
	}
}

func TestResolveDevicesFromSpec(t *testing.T) {
	old := globalDevices
	globalDevices = "cuda:0=16,cuda:1=8"
	defer func() { globalDevices = old }()

	configs, err := resolveDevices()
	if err != nil {
		t.Fatalf("resolveDevices: %v", err)
	}
	if len(configs) != 2 || configs[0].ID != "cuda:0" || configs[1].MemoryGB != 8 {
		t.Errorf("configs = %+v", configs)
	}
}

func TestResolveDevicesDetects(t *testing.T) {
	oldSpec, oldWorkers := globalDevices, globalWorkers
	globalDevices = ""
	globalWorkers = 2
	defer func() { globalDevices, globalWorkers = oldSpec, oldWorkers }()

	configs, err := resolveDevices()
	if err != nil {
		t.Fatalf("resolveDevices: %v", err)
	}
	if len(configs) != 2 {
		t.Errorf("len = %d, want 2", len(configs))
	}
}

func TestBuildRunner(t *testing.T) {
	oldCache, oldDevices := globalCache, globalDevices
	globalCache = filepath.Join(t.TempDir(), "results.db")
	globalDevices = "cpu:0=4"
	defer func() { globalCache, globalDevices = oldCache, oldDevices }()

	runner, store, err := buildRunner()
	if err != nil {
		t.Fatalf("buildRunner: %v", err)
	}
	defer store.Close()
	if len(runner.Devices) != 1 {
		t.Errorf("devices = %+v", runner.Devices)
	}
	if len(runner.Questions) == 0 {
		t.Error("runner should carry the question battery")
	}
	if runner.Provider == nil || runner.Store == nil {
		t.Error("runner missing provider or store")
	}
}
