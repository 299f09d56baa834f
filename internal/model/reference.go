package model

import (
	"context"
	"fmt"
	"hash/fnv"
	"sync/atomic"

	"github.com/shayne-snap/kvgauge/internal/device"
	"github.com/shayne-snap/kvgauge/internal/quant"
	"github.com/shayne-snap/kvgauge/internal/question"
)

// Reference model geometry. Small on purpose: the harness measures cache
// compression behavior, not model capability.
const (
	refLayers      = 4
	refHeads       = 4
	refHeadDim     = 16
	refDecodeSteps = 4
	refMaxTokens   = 16
	refWindowCap   = 8

	// Memory a replica claims on its device. Budgets below this trigger a
	// CPU-offload placement warning.
	refFootprintGB = 0.5

	// Base relative reconstruction error a question tolerates before the
	// model's answer flips. Scaled per question so sweep accuracy degrades
	// gradually with quantization severity.
	refBaseTolerance = 1e-4
)

// ReferenceProvider loads deterministic in-process model replicas. It also
// counts Answer invocations across all replicas, which the end-to-end tests
// use to prove the cache's no-compute path.
type ReferenceProvider struct {
	invocations atomic.Int64
}

// NewReferenceProvider returns an empty provider.
func NewReferenceProvider() *ReferenceProvider {
	return &ReferenceProvider{}
}

// Load returns a replica bound to dev. Loading is cheap here; real providers
// amortize this cost via the per-worker handle registry.
func (p *ReferenceProvider) Load(ctx context.Context, name string, dev device.Config, dtype quant.DType) (Model, []string, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	if name == "" {
		return nil, nil, fmt.Errorf("model: empty model name")
	}
	var warnings []string
	if dev.MemoryGB < refFootprintGB {
		warnings = append(warnings, fmt.Sprintf(
			"model %s does not fit %.1f GB on %s: CPU offloading enabled", name, dev.MemoryGB, dev.ID))
	}
	return &referenceModel{name: name, device: dev.ID, provider: p}, warnings, nil
}

// Invocations returns how many Answer calls all loaded replicas served.
func (p *ReferenceProvider) Invocations() int64 {
	return p.invocations.Load()
}

// referenceModel deterministically derives KV tensors and attention weights
// from the question tokens, runs them through the installed cache processor,
// and flips its answer once the accumulated reconstruction error crosses the
// question's tolerance. Identical inputs always produce identical answers.
type referenceModel struct {
	name     string
	device   string
	provider *ReferenceProvider
}

func (m *referenceModel) Name() string { return m.name }

func (m *referenceModel) Params() int64 {
	return refLayers * refHeads * refHeadDim * refHeadDim * 4
}

func (m *referenceModel) Answer(ctx context.Context, q question.Question, kv KVProcessor) (int, error) {
	m.provider.invocations.Add(1)
	tokens := q.Tokens
	if len(tokens) > refMaxTokens {
		tokens = tokens[:refMaxTokens]
	}
	if len(tokens) == 0 {
		return 0, fmt.Errorf("model: question %q has no tokens", q.ID)
	}

	attn := quant.NewAttentionWindow(refWindowCap)
	var errSum, refSum float64
	for step := 0; step < refDecodeSteps; step++ {
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		attn.Record(m.attentionFor(tokens, step))
		for layer := 0; layer < refLayers; layer++ {
			k := m.cacheTensor(tokens, layer, step, 0x4b)
			v := m.cacheTensor(tokens, layer, step, 0x56)

			rk, err := kv.ProcessKey(layer, k, attn)
			if err != nil {
				return 0, fmt.Errorf("model: key cache layer %d: %w", layer, err)
			}
			rv, err := kv.ProcessValue(layer, v, attn)
			if err != nil {
				return 0, fmt.Errorf("model: value cache layer %d: %w", layer, err)
			}

			d, err := k.SumSquaredDiff(rk)
			if err != nil {
				return 0, err
			}
			errSum += d
			d, err = v.SumSquaredDiff(rv)
			if err != nil {
				return 0, err
			}
			errSum += d
			refSum += sumSquares(k) + sumSquares(v)
		}
	}

	rel := 0.0
	if refSum > 0 {
		rel = errSum / refSum
	}
	if rel <= m.tolerance(q.ID) {
		return q.Answer, nil
	}
	// Degraded cache: deterministic wrong answer for this question.
	offset := 1 + int(hashString(q.ID)%uint64(q.Choices-1))
	return (q.Answer + offset) % q.Choices, nil
}

// tolerance scales the base error budget per question so a sweep degrades
// question by question rather than all at once.
func (m *referenceModel) tolerance(id string) float64 {
	return refBaseTolerance * float64(1+hashString(id)%64)
}

// cacheTensor derives one layer's K or V cache deterministically from the
// prompt tokens, values in [-1, 1).
func (m *referenceModel) cacheTensor(tokens []int, layer, step int, salt uint64) *quant.Tensor {
	t := quant.NewTensor(refHeads, len(tokens), refHeadDim)
	s := seedFor(tokens, uint64(layer)<<16|uint64(step)<<8|salt)
	for i := range t.Data {
		s = s*6364136223846793005 + 1442695040888963407
		t.Data[i] = float64(int64(s>>11))/float64(1<<52) - 1
	}
	return t
}

// attentionFor derives per-head attention weights over the cached tokens,
// normalized to sum to 1 per head.
func (m *referenceModel) attentionFor(tokens []int, step int) quant.AttentionSnapshot {
	rows := make([][]float64, refHeads)
	s := seedFor(tokens, uint64(step)<<32|0xa7)
	for h := range rows {
		rows[h] = make([]float64, len(tokens))
		var sum float64
		for t := range rows[h] {
			s = s*6364136223846793005 + 1442695040888963407
			w := float64(s>>40) + 1
			rows[h][t] = w
			sum += w
		}
		for t := range rows[h] {
			rows[h][t] /= sum
		}
	}
	return quant.AttentionSnapshot{Weights: rows}
}

func seedFor(tokens []int, salt uint64) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	for _, t := range tokens {
		putUint64(&buf, uint64(t))
		h.Write(buf[:])
	}
	putUint64(&buf, salt)
	h.Write(buf[:])
	return h.Sum64()
}

func hashString(s string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(s))
	return h.Sum64()
}

func putUint64(buf *[8]byte, v uint64) {
	for i := 0; i < 8; i++ {
		buf[i] = byte(v >> (8 * i))
	}
}

func sumSquares(t *quant.Tensor) float64 {
	var sum float64
	for _, v := range t.Data {
		sum += v * v
	}
	return sum
}
