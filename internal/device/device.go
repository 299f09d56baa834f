// Package device resolves the device configuration table: the fixed, read-only
// list of (device id, memory budget) pairs whose length sets the worker-pool
// size for one run.
package device

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/mem"
)

// Config is one compute device a worker binds to for its lifetime.
type Config struct {
	ID       string  `json:"id"`
	MemoryGB float64 `json:"memory_gb"`
}

const gb = 1024 * 1024 * 1024

// ParseSpec parses a device table spec like "cuda:0=16,cuda:1=16" or
// "cpu:0=8". Every entry needs an explicit memory budget.
func ParseSpec(spec string) ([]Config, error) {
	parts := strings.Split(spec, ",")
	configs := make([]Config, 0, len(parts))
	seen := make(map[string]bool, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		id, memStr, ok := strings.Cut(p, "=")
		if !ok {
			return nil, fmt.Errorf("device: entry %q missing memory budget (want id=GB)", p)
		}
		id = strings.TrimSpace(id)
		if id == "" {
			return nil, fmt.Errorf("device: empty device id in %q", p)
		}
		if seen[id] {
			return nil, fmt.Errorf("device: duplicate device id %q", id)
		}
		seen[id] = true
		memGB, err := strconv.ParseFloat(strings.TrimSpace(memStr), 64)
		if err != nil || memGB <= 0 {
			return nil, fmt.Errorf("device: invalid memory budget %q for %s", memStr, id)
		}
		configs = append(configs, Config{ID: id, MemoryGB: memGB})
	}
	if len(configs) == 0 {
		return nil, fmt.Errorf("device: empty device spec")
	}
	return configs, nil
}

// Detect builds a CPU-only device table with workers entries, splitting the
// host's available memory evenly between them.
func Detect(workers int) ([]Config, error) {
	if workers < 1 {
		workers = 1
	}
	v, err := mem.VirtualMemory()
	if err != nil {
		return nil, fmt.Errorf("device: mem: %w", err)
	}
	availGB := float64(v.Available) / float64(gb)
	if v.Available == 0 && v.Total > 0 {
		availGB = float64(v.Total) / float64(gb) * 0.8
	}
	per := availGB / float64(workers)
	configs := make([]Config, workers)
	for i := range configs {
		configs[i] = Config{ID: fmt.Sprintf("cpu:%d", i), MemoryGB: per}
	}
	return configs, nil
}
