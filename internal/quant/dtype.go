package quant

import "fmt"

// DType is the numeric element type the model runs in. It only affects
// simulated memory accounting; quantizer arithmetic is always float64.
type DType int

const (
	F32 DType = iota
	F16
	BF16
)

func (d DType) String() string {
	switch d {
	case F32:
		return "f32"
	case F16:
		return "f16"
	case BF16:
		return "bf16"
	default:
		return "f32"
	}
}

// BitsPerElement returns the uncompressed storage cost of one cache element.
func (d DType) BitsPerElement() int {
	switch d {
	case F32:
		return 32
	case F16, BF16:
		return 16
	default:
		return 32
	}
}

// ParseDType parses a dtype name (f32, f16, bf16).
func ParseDType(s string) (DType, error) {
	switch s {
	case "f32", "float32":
		return F32, nil
	case "f16", "float16":
		return F16, nil
	case "bf16", "bfloat16":
		return BF16, nil
	default:
		return F32, fmt.Errorf("quant: unknown dtype %q", s)
	}
}
