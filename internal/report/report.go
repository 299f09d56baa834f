// Package report ranks and summarizes sweep results: which quantizer pair
// holds answer quality at the smallest cache footprint.
package report

import (
	"fmt"
	"sort"

	"github.com/shayne-snap/kvgauge/internal/eval"
	"github.com/shayne-snap/kvgauge/internal/quant"
)

// PairLabel returns a short label for a result's quantizer pair.
func PairLabel(r *eval.EvaluationResult) string {
	return r.KeyQuantizer.Label() + " | " + r.ValueQuantizer.Label()
}

// Rank sorts results best-first: accuracy descending, then compressed cache
// size ascending, then label for a stable order. The input is not modified.
func Rank(results []*eval.EvaluationResult) []*eval.EvaluationResult {
	out := make([]*eval.EvaluationResult, len(results))
	copy(out, results)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Accuracy != out[j].Accuracy {
			return out[i].Accuracy > out[j].Accuracy
		}
		if out[i].CacheBits != out[j].CacheBits {
			return out[i].CacheBits < out[j].CacheBits
		}
		return PairLabel(out[i]) < PairLabel(out[j])
	})
	return out
}

// BaselineAccuracy returns the accuracy of the no-quantization pair when the
// sweep contains one, otherwise the best accuracy observed.
func BaselineAccuracy(results []*eval.EvaluationResult) float64 {
	best := 0.0
	for _, r := range results {
		if r.KeyQuantizer.Level == quant.LevelNone && r.ValueQuantizer.Level == quant.LevelNone {
			return r.Accuracy
		}
		if r.Accuracy > best {
			best = r.Accuracy
		}
	}
	return best
}

// Recommend picks the cheapest configuration (smallest compressed cache)
// whose accuracy stays within maxAccuracyDrop of the baseline. Returns an
// error when no configuration qualifies.
func Recommend(results []*eval.EvaluationResult, maxAccuracyDrop float64) (*eval.EvaluationResult, error) {
	if len(results) == 0 {
		return nil, fmt.Errorf("report: no results to recommend from")
	}
	floor := BaselineAccuracy(results) - maxAccuracyDrop
	var pick *eval.EvaluationResult
	for _, r := range results {
		if r.Accuracy < floor {
			continue
		}
		if pick == nil || r.CacheBits < pick.CacheBits ||
			(r.CacheBits == pick.CacheBits && r.Accuracy > pick.Accuracy) {
			pick = r
		}
	}
	if pick == nil {
		return nil, fmt.Errorf("report: no configuration within accuracy drop %.3f", maxAccuracyDrop)
	}
	return pick, nil
}
