package quant

import "math"

// AttentionSnapshot is one recorded attention-weight distribution: weights[h][t]
// is how much head h attended to cached token t on one generation step.
type AttentionSnapshot struct {
	Weights [][]float64
}

// AttentionWindow keeps the most recent attention snapshots as the importance
// signal for adaptive bit allocation. The window is owned by one evaluation
// and is not safe for concurrent use.
type AttentionWindow struct {
	capacity  int
	snapshots []AttentionSnapshot
}

// NewAttentionWindow returns a window keeping at most capacity snapshots.
func NewAttentionWindow(capacity int) *AttentionWindow {
	if capacity < 1 {
		capacity = 1
	}
	return &AttentionWindow{capacity: capacity}
}

// Record appends a snapshot, evicting the oldest once the window is full.
func (w *AttentionWindow) Record(s AttentionSnapshot) {
	w.snapshots = append(w.snapshots, s)
	if len(w.snapshots) > w.capacity {
		w.snapshots = w.snapshots[len(w.snapshots)-w.capacity:]
	}
}

// Len returns the number of held snapshots.
func (w *AttentionWindow) Len() int {
	return len(w.snapshots)
}

// Reset drops all snapshots (called between questions).
func (w *AttentionWindow) Reset() {
	w.snapshots = w.snapshots[:0]
}

// importance returns the mean attention weight over the group's (head, token)
// members across the last n snapshots. Without snapshots every group is
// equally important (weight 1).
func (w *AttentionWindow) importance(g group, tokens int, lastN int) float64 {
	if w == nil || len(w.snapshots) == 0 {
		return 1
	}
	snaps := w.snapshots
	if lastN > 0 && len(snaps) > lastN {
		snaps = snaps[len(snaps)-lastN:]
	}
	var sum float64
	var count int
	for _, s := range snaps {
		for h, row := range s.Weights {
			if g.head >= 0 && h != g.head {
				continue
			}
			if g.token >= 0 {
				if g.token < len(row) {
					sum += row[g.token]
					count++
				}
				continue
			}
			for t := 0; t < len(row) && t < tokens; t++ {
				sum += row[t]
				count++
			}
		}
	}
	if count == 0 {
		return 1
	}
	return sum / float64(count)
}

// searchBits finds the smallest bit-width in [NBitsMin, NBitsMax] whose
// predicted quantization error stays under the configured target; when no
// width in range satisfies the target, the search saturates at NBitsMax.
//
// Predicted error for b bits is modeled as the attention importance times the
// squared half-step of the quantization grid, summed over the group:
//
//	importance * (range / (2^b - 1) / 2)^2 * groupSize
//
// which is strictly decreasing in b, so the first satisfying width is the
// minimum one.
func (q *Quantizer) searchBits(t *Tensor, g group, lo, hi float64, attn *AttentionWindow) int {
	imp := attn.importance(g, t.Tokens, q.cfg.LastNAttentions)
	r := hi - lo
	if q.cfg.Symmetric {
		r = 2 * math.Max(math.Abs(lo), math.Abs(hi))
	}
	n := float64(len(g.indices))
	for bits := q.cfg.NBitsMin; bits <= q.cfg.NBitsMax; bits++ {
		levels := float64(int(1)<<bits) - 1
		step := r / levels
		pred := imp * (step / 2) * (step / 2) * n
		if pred <= q.cfg.TargetQuantError {
			return bits
		}
	}
	return q.cfg.NBitsMax
}

// PredictedError exposes the adaptive error model for one hypothetical group
// range and bit-width (used by reports and tests).
func PredictedError(importance, rangeWidth float64, groupSize, bits int) float64 {
	levels := float64(int(1)<<bits) - 1
	step := rangeWidth / levels
	return importance * (step / 2) * (step / 2) * float64(groupSize)
}
