// Package quant implements lossy quantization of transformer key/value cache
// tensors: uniform fixed-bit schemes and attention-weighted adaptive bit
// allocation, at token, head, or layer granularity.
package quant

import (
	"encoding/json"
	"fmt"
	"sort"
)

// CacheKind is which attention cache a quantizer applies to (key or value).
type CacheKind int

const (
	KeyCache CacheKind = iota
	ValueCache
)

func (c CacheKind) String() string {
	switch c {
	case KeyCache:
		return "key"
	case ValueCache:
		return "value"
	default:
		return "key"
	}
}

// MarshalJSON encodes the kind as its string name so fingerprints stay
// readable and stable.
func (c CacheKind) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON decodes "key" or "value".
func (c *CacheKind) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "key":
		*c = KeyCache
	case "value":
		*c = ValueCache
	default:
		return fmt.Errorf("quant: unknown cache kind %q", s)
	}
	return nil
}

// Level is the granularity over which one scale/zero-point (or bit budget) is
// computed: per token row, per head, per layer, or disabled entirely.
type Level int

const (
	LevelNone Level = iota
	LevelToken
	LevelHead
	LevelLayer
)

func (l Level) String() string {
	switch l {
	case LevelNone:
		return "no-quantization"
	case LevelToken:
		return "token"
	case LevelHead:
		return "head"
	case LevelLayer:
		return "layer"
	default:
		return "no-quantization"
	}
}

// MarshalJSON encodes the level as its string name.
func (l Level) MarshalJSON() ([]byte, error) {
	return json.Marshal(l.String())
}

// UnmarshalJSON decodes a level name.
func (l *Level) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	switch s {
	case "no-quantization":
		*l = LevelNone
	case "token":
		*l = LevelToken
	case "head":
		*l = LevelHead
	case "layer":
		*l = LevelLayer
	default:
		return fmt.Errorf("quant: unknown level %q", s)
	}
	return nil
}

// Config describes one compression policy instance. Two configs with equal
// field values serialize to identical canonical JSON and therefore hash equal;
// evaluation caching depends on that.
type Config struct {
	Cache         CacheKind `json:"cache"`
	Level         Level     `json:"level"`
	Symmetric     bool      `json:"symmetric,omitempty"`
	OutliersRatio float64   `json:"outliers_ratio,omitempty"`

	// Fixed-width mode.
	NBitsUniform int `json:"n_bits_uniform,omitempty"`

	// Adaptive (attention-weighted) mode.
	UseAttentions       bool    `json:"use_attentions,omitempty"`
	LastNAttentions     int     `json:"last_n_attentions,omitempty"`
	TargetQuantError    float64 `json:"target_quantization_error,omitempty"`
	NBitsMin            int     `json:"n_bits_min,omitempty"`
	NBitsMax            int     `json:"n_bits_max,omitempty"`
	MaxQuantizedValue   float64 `json:"max_q_value,omitempty"`
}

// Validate checks the config for contradictory or out-of-range options.
// Invalid combinations are programmer errors and fail here, before any model
// work begins.
func (c Config) Validate() error {
	if c.Level == LevelNone {
		if c.NBitsUniform != 0 || c.UseAttentions || c.LastNAttentions != 0 ||
			c.TargetQuantError != 0 || c.NBitsMin != 0 || c.NBitsMax != 0 ||
			c.Symmetric || c.OutliersRatio != 0 || c.MaxQuantizedValue != 0 {
			return fmt.Errorf("quant: level %q admits no other options", c.Level)
		}
		return nil
	}
	if c.OutliersRatio < 0 || c.OutliersRatio >= 0.5 {
		return fmt.Errorf("quant: outliers_ratio %v out of range [0, 0.5)", c.OutliersRatio)
	}
	if c.UseAttentions {
		if c.NBitsUniform != 0 {
			return fmt.Errorf("quant: n_bits_uniform conflicts with use_attentions")
		}
		if c.LastNAttentions <= 0 {
			return fmt.Errorf("quant: last_n_attentions must be positive, got %d", c.LastNAttentions)
		}
		if c.TargetQuantError <= 0 {
			return fmt.Errorf("quant: target_quantization_error must be positive, got %v", c.TargetQuantError)
		}
		if c.NBitsMin < 1 || c.NBitsMax > 8 || c.NBitsMin > c.NBitsMax {
			return fmt.Errorf("quant: bit range [%d, %d] invalid (want 1 <= min <= max <= 8)", c.NBitsMin, c.NBitsMax)
		}
		if c.MaxQuantizedValue < 0 {
			return fmt.Errorf("quant: max_q_value must be non-negative, got %v", c.MaxQuantizedValue)
		}
		return nil
	}
	if c.LastNAttentions != 0 || c.TargetQuantError != 0 || c.NBitsMin != 0 ||
		c.NBitsMax != 0 || c.MaxQuantizedValue != 0 {
		return fmt.Errorf("quant: adaptive options require use_attentions")
	}
	if c.NBitsUniform < 1 || c.NBitsUniform > 8 {
		return fmt.Errorf("quant: n_bits_uniform %d out of range [1, 8]", c.NBitsUniform)
	}
	return nil
}

// Canonical returns the canonical JSON serialization of the config. Equal
// configs produce byte-identical output; fingerprints are built from this.
func (c Config) Canonical() []byte {
	b, err := json.Marshal(c)
	if err != nil {
		// Config contains only plain fields; Marshal cannot fail.
		panic(err)
	}
	return b
}

// Label returns a short human-readable description for tables and logs,
// e.g. "key/token u4 out=0.01" or "value/head adaptive[1-8] target=100".
func (c Config) Label() string {
	if c.Level == LevelNone {
		return c.Cache.String() + "/none"
	}
	s := fmt.Sprintf("%s/%s", c.Cache, c.Level)
	if c.UseAttentions {
		s += fmt.Sprintf(" adaptive[%d-%d] target=%g", c.NBitsMin, c.NBitsMax, c.TargetQuantError)
	} else {
		s += fmt.Sprintf(" u%d", c.NBitsUniform)
	}
	if c.Symmetric {
		s += " sym"
	}
	if c.OutliersRatio > 0 {
		s += fmt.Sprintf(" out=%g", c.OutliersRatio)
	}
	return s
}

// CrossProduct expands a field-wise option grid into concrete configs, in a
// deterministic order. Each map entry lists the candidate values for one
// field; the result is the cartesian product. Unknown keys are rejected.
func CrossProduct(cache CacheKind, grid map[string][]any) ([]Config, error) {
	keys := make([]string, 0, len(grid))
	for k := range grid {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	configs := []Config{{Cache: cache}}
	for _, k := range keys {
		values := grid[k]
		if len(values) == 0 {
			return nil, fmt.Errorf("quant: empty option list for %q", k)
		}
		next := make([]Config, 0, len(configs)*len(values))
		for _, c := range configs {
			for _, v := range values {
				cc := c
				if err := applyOption(&cc, k, v); err != nil {
					return nil, err
				}
				next = append(next, cc)
			}
		}
		configs = next
	}
	for _, c := range configs {
		if err := c.Validate(); err != nil {
			return nil, err
		}
	}
	return configs, nil
}

func applyOption(c *Config, key string, v any) error {
	switch key {
	case "level":
		l, ok := v.(Level)
		if !ok {
			return fmt.Errorf("quant: level option must be a Level, got %T", v)
		}
		c.Level = l
	case "symmetric":
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("quant: symmetric option must be a bool, got %T", v)
		}
		c.Symmetric = b
	case "outliers_ratio":
		f, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("quant: outliers_ratio option must be numeric, got %T", v)
		}
		c.OutliersRatio = f
	case "n_bits_uniform":
		n, ok := v.(int)
		if !ok {
			return fmt.Errorf("quant: n_bits_uniform option must be an int, got %T", v)
		}
		c.NBitsUniform = n
	case "use_attentions":
		b, ok := v.(bool)
		if !ok {
			return fmt.Errorf("quant: use_attentions option must be a bool, got %T", v)
		}
		c.UseAttentions = b
	case "last_n_attentions":
		n, ok := v.(int)
		if !ok {
			return fmt.Errorf("quant: last_n_attentions option must be an int, got %T", v)
		}
		c.LastNAttentions = n
	case "target_quantization_error":
		f, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("quant: target_quantization_error option must be numeric, got %T", v)
		}
		c.TargetQuantError = f
	case "n_bits_min":
		n, ok := v.(int)
		if !ok {
			return fmt.Errorf("quant: n_bits_min option must be an int, got %T", v)
		}
		c.NBitsMin = n
	case "n_bits_max":
		n, ok := v.(int)
		if !ok {
			return fmt.Errorf("quant: n_bits_max option must be an int, got %T", v)
		}
		c.NBitsMax = n
	case "max_q_value":
		f, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("quant: max_q_value option must be numeric, got %T", v)
		}
		c.MaxQuantizedValue = f
	default:
		return fmt.Errorf("quant: unknown config option %q", key)
	}
	return nil
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	default:
		return 0, false
	}
}
