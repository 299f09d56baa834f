package quant

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/stat"
)

// GroupParams holds the reconstruction parameters for one quantization group.
type GroupParams struct {
	Scale float64
	Zero  float64 // range minimum (asymmetric) or unused (symmetric)
	Bits  int
}

// Quantized is the reduced-precision representation of one cache tensor.
// Codes holds one byte per element (bit-widths never exceed 8); Groups holds
// the per-group parameters needed to reconstruct. For LevelNone the original
// values are carried through untouched in Raw.
type Quantized struct {
	Heads   int
	Tokens  int
	HeadDim int
	Level   Level
	Codes   []uint8
	Groups  []GroupParams
	Raw     []float64
}

// CompressedBits returns the payload size of the representation in bits,
// excluding per-group parameters.
func (z *Quantized) CompressedBits() int64 {
	if z.Level == LevelNone {
		return int64(len(z.Raw)) * 64
	}
	var total int64
	elems := int64(z.Heads * z.Tokens * z.HeadDim)
	if len(z.Groups) == 0 || elems == 0 {
		return 0
	}
	per := elems / int64(len(z.Groups))
	for _, g := range z.Groups {
		total += int64(g.Bits) * per
	}
	return total
}

// AvgBits returns the mean bit-width across groups (the uniform width for
// fixed-bit configs, the searched widths for adaptive ones).
func (z *Quantized) AvgBits() float64 {
	if z.Level == LevelNone || len(z.Groups) == 0 {
		return 0
	}
	var sum int
	for _, g := range z.Groups {
		sum += g.Bits
	}
	return float64(sum) / float64(len(z.Groups))
}

// Quantizer maps cache tensors to and from a reduced-precision representation
// under one Config. Constructed unbound at orchestration time; the owning
// worker binds device and dtype exactly once before first use. Not safe for
// concurrent use, and never shared between workers.
type Quantizer struct {
	cfg    Config
	dtype  DType
	device string
	bound  bool
}

// New validates cfg and returns an unbound quantizer.
func New(cfg Config) (*Quantizer, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Quantizer{cfg: cfg}, nil
}

// Config returns the quantizer's immutable configuration.
func (q *Quantizer) Config() Config {
	return q.cfg
}

// Device returns the bound device identifier, or "" before binding.
func (q *Quantizer) Device() string {
	return q.device
}

// DType returns the bound numeric dtype (meaningful only after binding).
func (q *Quantizer) DType() DType {
	return q.dtype
}

// BindDevice binds the quantizer to a device and dtype. Binding happens once,
// inside the worker the evaluation was scheduled on; rebinding is a bug.
func (q *Quantizer) BindDevice(device string, dtype DType) error {
	if q.bound {
		return fmt.Errorf("quant: quantizer already bound to %s", q.device)
	}
	if device == "" {
		return fmt.Errorf("quant: empty device")
	}
	q.device = device
	q.dtype = dtype
	q.bound = true
	return nil
}

// Quantize converts t to its reduced-precision representation. attn supplies
// the attention-importance signal for adaptive configs and is ignored
// otherwise; nil is allowed (uniform importance).
func (q *Quantizer) Quantize(t *Tensor, attn *AttentionWindow) (*Quantized, error) {
	if !q.bound {
		return nil, fmt.Errorf("quant: quantizer not bound to a device")
	}
	z := &Quantized{Heads: t.Heads, Tokens: t.Tokens, HeadDim: t.HeadDim, Level: q.cfg.Level}
	if q.cfg.Level == LevelNone {
		z.Raw = append([]float64(nil), t.Data...)
		return z, nil
	}

	groups := t.groupsFor(q.cfg.Level)
	z.Codes = make([]uint8, len(t.Data))
	z.Groups = make([]GroupParams, 0, len(groups))
	for _, g := range groups {
		lo, hi := q.rangeOf(t, g)
		bits := q.cfg.NBitsUniform
		if q.cfg.UseAttentions {
			bits = q.searchBits(t, g, lo, hi, attn)
		}
		params := q.deriveParams(lo, hi, bits)
		q.encodeGroup(t, g, params, z.Codes)
		z.Groups = append(z.Groups, params)
	}
	return z, nil
}

// Dequantize reconstructs a tensor from its reduced-precision representation.
// Lossy by design except at LevelNone, where the round trip is exact.
func (q *Quantizer) Dequantize(z *Quantized) (*Tensor, error) {
	if !q.bound {
		return nil, fmt.Errorf("quant: quantizer not bound to a device")
	}
	if z.Level != q.cfg.Level {
		return nil, fmt.Errorf("quant: representation level %s does not match config level %s", z.Level, q.cfg.Level)
	}
	t := NewTensor(z.Heads, z.Tokens, z.HeadDim)
	if z.Level == LevelNone {
		copy(t.Data, z.Raw)
		return t, nil
	}

	groups := t.groupsFor(z.Level)
	if len(groups) != len(z.Groups) {
		return nil, fmt.Errorf("quant: %d groups in representation, want %d", len(z.Groups), len(groups))
	}
	for gi, g := range groups {
		params := z.Groups[gi]
		for _, i := range g.indices {
			t.Data[i] = decode(z.Codes[i], params, q.cfg.Symmetric)
		}
	}
	return t, nil
}

// rangeOf computes the value range of a group, excluding the configured
// outlier fraction from each tail.
func (q *Quantizer) rangeOf(t *Tensor, g group) (lo, hi float64) {
	vals := make([]float64, len(g.indices))
	for i, idx := range g.indices {
		vals[i] = t.Data[idx]
	}
	sort.Float64s(vals)
	if r := q.cfg.OutliersRatio; r > 0 && len(vals) > 2 {
		lo = stat.Quantile(r, stat.Empirical, vals, nil)
		hi = stat.Quantile(1-r, stat.Empirical, vals, nil)
	} else {
		lo = vals[0]
		hi = vals[len(vals)-1]
	}
	return lo, hi
}

// deriveParams turns a range and bit-width into scale/zero parameters.
// Adaptive configs clamp the scale at MaxQuantizedValue to bound pathological
// ranges.
func (q *Quantizer) deriveParams(lo, hi float64, bits int) GroupParams {
	levels := float64(int(1)<<bits) - 1
	var scale, zero float64
	if q.cfg.Symmetric {
		maxAbs := math.Max(math.Abs(lo), math.Abs(hi))
		half := float64(int(1)<<(bits-1)) - 1
		if half < 1 {
			half = 1
		}
		scale = maxAbs / half
	} else {
		scale = (hi - lo) / levels
		zero = lo
	}
	if scale <= 0 || math.IsNaN(scale) {
		scale = 1 // degenerate flat group; codes collapse to zero
	}
	if q.cfg.UseAttentions && q.cfg.MaxQuantizedValue > 0 && scale > q.cfg.MaxQuantizedValue {
		scale = q.cfg.MaxQuantizedValue
	}
	return GroupParams{Scale: scale, Zero: zero, Bits: bits}
}

func (q *Quantizer) encodeGroup(t *Tensor, g group, p GroupParams, codes []uint8) {
	maxCode := int(1)<<p.Bits - 1
	if q.cfg.Symmetric {
		half := int(1)<<(p.Bits-1) - 1
		if half < 1 {
			half = 1
		}
		for _, i := range g.indices {
			c := int(math.Round(t.Data[i]/p.Scale)) + half
			codes[i] = uint8(clampInt(c, 0, 2*half))
		}
		return
	}
	for _, i := range g.indices {
		c := int(math.Round((t.Data[i] - p.Zero) / p.Scale))
		codes[i] = uint8(clampInt(c, 0, maxCode))
	}
}

func decode(code uint8, p GroupParams, symmetric bool) float64 {
	if symmetric {
		half := int(1)<<(p.Bits-1) - 1
		if half < 1 {
			half = 1
		}
		return float64(int(code)-half) * p.Scale
	}
	return p.Zero + float64(code)*p.Scale
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
