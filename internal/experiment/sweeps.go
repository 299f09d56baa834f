package experiment

import (
	"fmt"
	"io"
	"sort"

	"github.com/shayne-snap/kvgauge/internal/display"
	"github.com/shayne-snap/kvgauge/internal/eval"
	"github.com/shayne-snap/kvgauge/internal/quant"
)

// Options carries the startup parameters shared by every built-in experiment.
type Options struct {
	ModelName string
	Out       io.Writer
	JSON      bool
}

// New returns the named built-in experiment. Names lists the valid names.
func New(name string, opts Options) (Experiment, error) {
	if opts.ModelName == "" {
		return nil, fmt.Errorf("experiment: empty model name")
	}
	switch name {
	case "baseline":
		return &baselineSweep{opts: opts}, nil
	case "uniform":
		return &uniformSweep{opts: opts}, nil
	case "adaptive":
		return &adaptiveSweep{opts: opts}, nil
	case "levels":
		return &levelSweep{opts: opts}, nil
	default:
		return nil, fmt.Errorf("experiment: unknown experiment %q (have %v)", name, Names())
	}
}

// Names returns the built-in experiment names in a stable order.
func Names() []string {
	names := []string{"baseline", "uniform", "adaptive", "levels"}
	sort.Strings(names)
	return names
}

// zipPairs matches key and value config lists index-wise.
func zipPairs(keys, values []quant.Config) ([]Pair, error) {
	if len(keys) != len(values) {
		return nil, fmt.Errorf("experiment: %d key configs vs %d value configs", len(keys), len(values))
	}
	pairs := make([]Pair, 0, len(keys))
	for i := range keys {
		p, err := NewPair(keys[i], values[i])
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

// baselineSweep runs the single no-quantization pair, establishing reference
// accuracy for the model and question set.
type baselineSweep struct {
	opts Options
}

func (s *baselineSweep) Name() string      { return "baseline" }
func (s *baselineSweep) ModelName() string { return s.opts.ModelName }

func (s *baselineSweep) QuantizerPairs() ([]Pair, error) {
	p, err := NewPair(
		quant.Config{Cache: quant.KeyCache, Level: quant.LevelNone},
		quant.Config{Cache: quant.ValueCache, Level: quant.LevelNone},
	)
	if err != nil {
		return nil, err
	}
	return []Pair{p}, nil
}

func (s *baselineSweep) ProcessResult(results []*eval.EvaluationResult) error {
	display.Results(s.opts.Out, results, s.opts.JSON)
	return nil
}

// uniformSweep grids fixed bit-widths and outlier trimming across granularity
// levels, always leading with the no-quantization reference pair.
type uniformSweep struct {
	opts Options
}

func (s *uniformSweep) Name() string      { return "uniform" }
func (s *uniformSweep) ModelName() string { return s.opts.ModelName }

func (s *uniformSweep) QuantizerPairs() ([]Pair, error) {
	grid := map[string][]any{
		"level":          {quant.LevelToken, quant.LevelHead, quant.LevelLayer},
		"n_bits_uniform": {2, 3, 4, 6, 8},
		"outliers_ratio": {0.0, 0.01},
	}
	keys, err := quant.CrossProduct(quant.KeyCache, grid)
	if err != nil {
		return nil, err
	}
	values, err := quant.CrossProduct(quant.ValueCache, grid)
	if err != nil {
		return nil, err
	}
	ref, err := NewPair(
		quant.Config{Cache: quant.KeyCache, Level: quant.LevelNone},
		quant.Config{Cache: quant.ValueCache, Level: quant.LevelNone},
	)
	if err != nil {
		return nil, err
	}
	pairs, err := zipPairs(keys, values)
	if err != nil {
		return nil, err
	}
	return append([]Pair{ref}, pairs...), nil
}

func (s *uniformSweep) ProcessResult(results []*eval.EvaluationResult) error {
	display.Results(s.opts.Out, results, s.opts.JSON)
	return nil
}

// adaptiveSweep varies the target quantization error for attention-weighted
// bit search, with the bit range and scale clamp held fixed.
type adaptiveSweep struct {
	opts Options
}

func (s *adaptiveSweep) Name() string      { return "adaptive" }
func (s *adaptiveSweep) ModelName() string { return s.opts.ModelName }

func (s *adaptiveSweep) QuantizerPairs() ([]Pair, error) {
	grid := map[string][]any{
		"level":                     {quant.LevelToken},
		"use_attentions":            {true},
		"last_n_attentions":         {4},
		"target_quantization_error": {1e-4, 1e-3, 1e-2, 1e-1},
		"n_bits_min":                {1, 2},
		"n_bits_max":                {8},
		"max_q_value":               {3.0},
	}
	keys, err := quant.CrossProduct(quant.KeyCache, grid)
	if err != nil {
		return nil, err
	}
	values, err := quant.CrossProduct(quant.ValueCache, grid)
	if err != nil {
		return nil, err
	}
	ref, err := NewPair(
		quant.Config{Cache: quant.KeyCache, Level: quant.LevelNone},
		quant.Config{Cache: quant.ValueCache, Level: quant.LevelNone},
	)
	if err != nil {
		return nil, err
	}
	pairs, err := zipPairs(keys, values)
	if err != nil {
		return nil, err
	}
	return append([]Pair{ref}, pairs...), nil
}

func (s *adaptiveSweep) ProcessResult(results []*eval.EvaluationResult) error {
	display.Results(s.opts.Out, results, s.opts.JSON)
	return nil
}

// levelSweep compares granularity levels head to head at one fixed width.
type levelSweep struct {
	opts Options
}

func (s *levelSweep) Name() string      { return "levels" }
func (s *levelSweep) ModelName() string { return s.opts.ModelName }

func (s *levelSweep) QuantizerPairs() ([]Pair, error) {
	levels := []quant.Level{quant.LevelNone, quant.LevelToken, quant.LevelHead, quant.LevelLayer}
	pairs := make([]Pair, 0, len(levels))
	for _, l := range levels {
		key := quant.Config{Cache: quant.KeyCache, Level: l}
		value := quant.Config{Cache: quant.ValueCache, Level: l}
		if l != quant.LevelNone {
			key.NBitsUniform = 4
			value.NBitsUniform = 4
		}
		p, err := NewPair(key, value)
		if err != nil {
			return nil, err
		}
		pairs = append(pairs, p)
	}
	return pairs, nil
}

func (s *levelSweep) ProcessResult(results []*eval.EvaluationResult) error {
	display.Results(s.opts.Out, results, s.opts.JSON)
	return nil
}
