package quant

import (
	"math"
	"testing"
)

func adaptiveConfig(minBits, maxBits int, target float64) Config {
	return Config{
		Cache:            KeyCache,
		Level:            LevelToken,
		UseAttentions:    true,
		LastNAttentions:  3,
		TargetQuantError: target,
		NBitsMin:         minBits,
		NBitsMax:         maxBits,
	}
}

func flatWindow(heads, tokens int, weight float64) *AttentionWindow {
	w := NewAttentionWindow(3)
	rows := make([][]float64, heads)
	for h := range rows {
		rows[h] = make([]float64, tokens)
		for t := range rows[h] {
			rows[h][t] = weight
		}
	}
	w.Record(AttentionSnapshot{Weights: rows})
	return w
}

func TestSearchBits_PicksMinimumSatisfying(t *testing.T) {
	in := NewTensor(1, 1, 16)
	fillTensor(in, 42)
	attn := flatWindow(1, 1, 1.0)

	g := in.groupsFor(LevelToken)[0]
	q := boundQuantizer(t, adaptiveConfig(1, 8, 1))
	lo, hi := q.rangeOf(in, g)

	got := q.searchBits(in, g, lo, hi, attn)
	// Recompute the expected minimum width from the exported error model.
	want := 8
	for b := 1; b <= 8; b++ {
		if PredictedError(1.0, hi-lo, len(g.indices), b) <= 1 {
			want = b
			break
		}
	}
	if got != want {
		t.Errorf("searchBits = %d, want %d", got, want)
	}
	// Every smaller width must violate the budget, every width from the
	// chosen one on must satisfy it (monotone error model).
	for b := q.cfg.NBitsMin; b < got; b++ {
		if PredictedError(1.0, hi-lo, len(g.indices), b) <= 1 {
			t.Errorf("width %d below chosen %d already satisfies the budget", b, got)
		}
	}
	for b := got; b <= q.cfg.NBitsMax; b++ {
		if PredictedError(1.0, hi-lo, len(g.indices), b) > 1 {
			t.Errorf("width %d above chosen %d violates the budget", b, got)
		}
	}
}

func TestSearchBits_SaturatesAtMax(t *testing.T) {
	in := NewTensor(1, 1, 16)
	fillTensor(in, 42)
	attn := flatWindow(1, 1, 1.0)
	g := in.groupsFor(LevelToken)[0]

	q := boundQuantizer(t, adaptiveConfig(1, 4, 1e-30)) // unsatisfiable budget
	lo, hi := q.rangeOf(in, g)
	if got := q.searchBits(in, g, lo, hi, attn); got != 4 {
		t.Errorf("searchBits = %d, want saturation at max 4", got)
	}
}

func TestSearchBits_LooseBudgetPicksMin(t *testing.T) {
	in := NewTensor(1, 1, 16)
	fillTensor(in, 42)
	attn := flatWindow(1, 1, 1.0)
	g := in.groupsFor(LevelToken)[0]

	q := boundQuantizer(t, adaptiveConfig(2, 8, 1e9))
	lo, hi := q.rangeOf(in, g)
	if got := q.searchBits(in, g, lo, hi, attn); got != 2 {
		t.Errorf("searchBits = %d, want minimum 2 under loose budget", got)
	}
}

func TestSearchBits_ImportanceRaisesWidth(t *testing.T) {
	in := NewTensor(1, 1, 16)
	fillTensor(in, 42)
	g := in.groupsFor(LevelToken)[0]
	q := boundQuantizer(t, adaptiveConfig(1, 8, 0.05))
	lo, hi := q.rangeOf(in, g)

	cold := q.searchBits(in, g, lo, hi, flatWindow(1, 1, 0.01))
	hot := q.searchBits(in, g, lo, hi, flatWindow(1, 1, 100))
	if hot < cold {
		t.Errorf("hot group got %d bits, cold group %d; importance should not lower width", hot, cold)
	}
	if hot == cold {
		t.Errorf("importance 0.01 vs 100 chose the same width %d; budget 0.05 should separate them", hot)
	}
}

func TestPredictedError_MonotoneInBits(t *testing.T) {
	prev := math.Inf(1)
	for b := 1; b <= 8; b++ {
		e := PredictedError(2.5, 1.7, 64, b)
		if e >= prev {
			t.Fatalf("predicted error not strictly decreasing at %d bits: %v >= %v", b, e, prev)
		}
		prev = e
	}
}

func TestAttentionWindow_KeepsLastN(t *testing.T) {
	w := NewAttentionWindow(2)
	for i := 1; i <= 4; i++ {
		w.Record(AttentionSnapshot{Weights: [][]float64{{float64(i)}}})
	}
	if w.Len() != 2 {
		t.Fatalf("Len = %d, want 2", w.Len())
	}
	g := group{head: 0, token: 0}
	// Snapshots 3 and 4 remain; mean weight for token 0 is 3.5.
	if imp := w.importance(g, 1, 2); imp != 3.5 {
		t.Errorf("importance = %v, want 3.5", imp)
	}
}

func TestAttentionWindow_EmptyDefaultsToUniform(t *testing.T) {
	w := NewAttentionWindow(5)
	g := group{head: 0, token: 0}
	if imp := w.importance(g, 4, 5); imp != 1 {
		t.Errorf("importance = %v, want 1 for empty window", imp)
	}
	var nilWindow *AttentionWindow
	if imp := nilWindow.importance(g, 4, 5); imp != 1 {
		t.Errorf("importance = %v, want 1 for nil window", imp)
	}
}

func TestQuantize_AdaptiveScaleClamped(t *testing.T) {
	cfg := adaptiveConfig(1, 2, 1e-30) // force few bits, huge step
	cfg.MaxQuantizedValue = 0.5
	q := boundQuantizer(t, cfg)
	in := NewTensor(1, 1, 8)
	for i := range in.Data {
		in.Data[i] = float64(i) * 100 // pathological range
	}
	z, err := q.Quantize(in, flatWindow(1, 1, 1))
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	for _, g := range z.Groups {
		if g.Scale > 0.5 {
			t.Errorf("scale %v exceeds max_q_value clamp 0.5", g.Scale)
		}
	}
}

func TestQuantize_AdaptiveBitsWithinRange(t *testing.T) {
	q := boundQuantizer(t, adaptiveConfig(2, 6, 0.01))
	in := NewTensor(2, 4, 8)
	fillTensor(in, 77)
	z, err := q.Quantize(in, flatWindow(2, 4, 1))
	if err != nil {
		t.Fatalf("Quantize: %v", err)
	}
	for i, g := range z.Groups {
		if g.Bits < 2 || g.Bits > 6 {
			t.Errorf("group %d width %d outside [2, 6]", i, g.Bits)
		}
	}
	if avg := z.AvgBits(); avg < 2 || avg > 6 {
		t.Errorf("AvgBits = %v outside [2, 6]", avg)
	}
}
