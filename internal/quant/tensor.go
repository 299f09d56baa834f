package quant

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
)

// Tensor is one layer's key or value cache: Heads x Tokens x HeadDim values
// stored head-major. All quantizer arithmetic runs on this layout.
type Tensor struct {
	Heads   int
	Tokens  int
	HeadDim int
	Data    []float64
}

// NewTensor allocates a zeroed tensor with the given shape.
func NewTensor(heads, tokens, headDim int) *Tensor {
	return &Tensor{
		Heads:   heads,
		Tokens:  tokens,
		HeadDim: headDim,
		Data:    make([]float64, heads*tokens*headDim),
	}
}

// At returns the element for (head, token, dim).
func (t *Tensor) At(head, token, dim int) float64 {
	return t.Data[(head*t.Tokens+token)*t.HeadDim+dim]
}

// Set writes the element for (head, token, dim).
func (t *Tensor) Set(head, token, dim int, v float64) {
	t.Data[(head*t.Tokens+token)*t.HeadDim+dim] = v
}

// Len returns the element count.
func (t *Tensor) Len() int {
	return len(t.Data)
}

// Clone returns a deep copy.
func (t *Tensor) Clone() *Tensor {
	out := &Tensor{Heads: t.Heads, Tokens: t.Tokens, HeadDim: t.HeadDim}
	out.Data = append([]float64(nil), t.Data...)
	return out
}

// Equal reports whether both tensors have the same shape and elements.
func (t *Tensor) Equal(o *Tensor) bool {
	if t.Heads != o.Heads || t.Tokens != o.Tokens || t.HeadDim != o.HeadDim {
		return false
	}
	return floats.Equal(t.Data, o.Data)
}

// MaxAbsDiff returns the largest element-wise absolute difference. Shapes
// must match.
func (t *Tensor) MaxAbsDiff(o *Tensor) (float64, error) {
	if t.Heads != o.Heads || t.Tokens != o.Tokens || t.HeadDim != o.HeadDim {
		return 0, fmt.Errorf("quant: shape mismatch %dx%dx%d vs %dx%dx%d",
			t.Heads, t.Tokens, t.HeadDim, o.Heads, o.Tokens, o.HeadDim)
	}
	var max float64
	for i, v := range t.Data {
		if d := math.Abs(v - o.Data[i]); d > max {
			max = d
		}
	}
	return max, nil
}

// SumSquaredDiff returns the element-wise sum of squared differences. Shapes
// must match.
func (t *Tensor) SumSquaredDiff(o *Tensor) (float64, error) {
	if len(t.Data) != len(o.Data) {
		return 0, fmt.Errorf("quant: size mismatch %d vs %d", len(t.Data), len(o.Data))
	}
	var sum float64
	for i, v := range t.Data {
		d := v - o.Data[i]
		sum += d * d
	}
	return sum, nil
}

// group is one quantization unit: the contiguous-by-construction set of
// element indices that share a single scale/zero-point/bit-width.
type group struct {
	head    int // -1 when the group spans all heads
	token   int // -1 when the group spans all tokens
	indices []int
}

// groupsFor partitions the tensor's element indices by level. LevelNone has
// no groups (identity passthrough is handled by the caller).
func (t *Tensor) groupsFor(level Level) []group {
	switch level {
	case LevelToken:
		out := make([]group, 0, t.Heads*t.Tokens)
		for h := 0; h < t.Heads; h++ {
			for tok := 0; tok < t.Tokens; tok++ {
				base := (h*t.Tokens + tok) * t.HeadDim
				idx := make([]int, t.HeadDim)
				for d := 0; d < t.HeadDim; d++ {
					idx[d] = base + d
				}
				out = append(out, group{head: h, token: tok, indices: idx})
			}
		}
		return out
	case LevelHead:
		out := make([]group, 0, t.Heads)
		per := t.Tokens * t.HeadDim
		for h := 0; h < t.Heads; h++ {
			idx := make([]int, per)
			for i := 0; i < per; i++ {
				idx[i] = h*per + i
			}
			out = append(out, group{head: h, token: -1, indices: idx})
		}
		return out
	case LevelLayer:
		idx := make([]int, len(t.Data))
		for i := range idx {
			idx[i] = i
		}
		return []group{{head: -1, token: -1, indices: idx}}
	default:
		return nil
	}
}
