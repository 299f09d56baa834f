// Package eval drives a model through the question battery under one
// (key-quantizer, value-quantizer) pair, scores the outcome, and serves
// repeated configurations from the shared result cache by content
// fingerprint.
package eval

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/shayne-snap/kvgauge/internal/logutil"
	"github.com/shayne-snap/kvgauge/internal/model"
	"github.com/shayne-snap/kvgauge/internal/quant"
	"github.com/shayne-snap/kvgauge/internal/question"
	"github.com/shayne-snap/kvgauge/internal/resultcache"
)

// Version is the algorithm version baked into every fingerprint. Bump it on
// any semantic change to quantization or scoring; that invalidates all cached
// results at once.
const Version = "3"

// EvaluationResult is the immutable outcome of running one quantizer pair
// over the full question set. Every field is deterministic for a fixed
// fingerprint; wall-clock timing is logged, never stored, so repeated
// evaluations marshal byte-identically.
type EvaluationResult struct {
	Version        string       `json:"version"`
	Model          string       `json:"model"`
	QuestionSet    string       `json:"question_set"`
	KeyQuantizer   quant.Config `json:"key_quantizer"`
	ValueQuantizer quant.Config `json:"value_quantizer"`

	Questions int     `json:"questions"`
	Correct   int     `json:"correct"`
	Accuracy  float64 `json:"accuracy"`

	// Mean squared reconstruction error per cache element.
	KeyError   float64 `json:"key_error"`
	ValueError float64 `json:"value_error"`

	// Mean searched/configured bit-widths and the resulting footprint.
	KeyAvgBits    float64 `json:"key_avg_bits"`
	ValueAvgBits  float64 `json:"value_avg_bits"`
	CacheBits     int64   `json:"cache_bits"`
	BaselineBits  int64   `json:"baseline_bits"`
	ModelParams   int64   `json:"model_params"`
}

// CompressionRatio returns baseline/compressed cache size (1.0 when nothing
// was compressed).
func (r *EvaluationResult) CompressionRatio() float64 {
	if r.CacheBits <= 0 {
		return 1
	}
	return float64(r.BaselineBits) / float64(r.CacheBits)
}

// Marshal returns the canonical JSON encoding used as the cache payload.
func (r *EvaluationResult) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal decodes a cache payload.
func Unmarshal(payload []byte) (*EvaluationResult, error) {
	var r EvaluationResult
	if err := json.Unmarshal(payload, &r); err != nil {
		return nil, fmt.Errorf("eval: bad cached result: %w", err)
	}
	return &r, nil
}

// Evaluator runs one quantizer pair over the question set. It installs itself
// as the model's KV processor: every cache write is quantized and the model
// continues with the lossy reconstruction. One evaluator serves one
// evaluation on one worker; it is not safe for concurrent use.
type Evaluator struct {
	device    string
	version   string
	modelName string
	questions []question.Question
	keyQ      *quant.Quantizer
	valueQ    *quant.Quantizer
	verbose   bool

	stats kvStats
}

// kvStats accumulates per-evaluation cache metrics.
type kvStats struct {
	keyErrSum, valueErrSum     float64
	keyElems, valueElems       int64
	keyBitsSum, valueBitsSum   float64
	keyGroups, valueGroups     int64
	cacheBits, baselineBits    int64
}

// NewEvaluator builds an evaluator. The quantizers may still be unbound when
// only fingerprinting or cache probing is needed; binding must have happened
// before CachedEvaluate runs a model.
func NewEvaluator(device, version, modelName string, questions []question.Question,
	keyQ, valueQ *quant.Quantizer, verbose bool) *Evaluator {
	return &Evaluator{
		device:    device,
		version:   version,
		modelName: modelName,
		questions: questions,
		keyQ:      keyQ,
		valueQ:    valueQ,
		verbose:   verbose,
	}
}

// Fingerprint returns the deterministic digest identifying this evaluation:
// algorithm version, model, question-set identity, and both quantizer
// configs. Identical fingerprints must yield identical results.
func (e *Evaluator) Fingerprint() string {
	payload := struct {
		Version        string       `json:"version"`
		Model          string       `json:"model"`
		QuestionSet    string       `json:"question_set"`
		KeyQuantizer   quant.Config `json:"key_quantizer"`
		ValueQuantizer quant.Config `json:"value_quantizer"`
	}{
		Version:        e.version,
		Model:          e.modelName,
		QuestionSet:    question.SetDigest(e.questions),
		KeyQuantizer:   e.keyQ.Config(),
		ValueQuantizer: e.valueQ.Config(),
	}
	b, err := json.Marshal(payload)
	if err != nil {
		panic(err) // plain fields; cannot fail
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// IsResultCached returns the stored result for this evaluation's fingerprint
// if present.
func (e *Evaluator) IsResultCached(store *resultcache.Store) (*EvaluationResult, bool, error) {
	payload, ok, err := store.Get(e.Fingerprint())
	if err != nil || !ok {
		return nil, false, err
	}
	r, err := Unmarshal(payload)
	if err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// CachedEvaluate returns the cached result when present (no model work at
// all); otherwise it runs the full question set, persists the result, and
// returns it. progress, when non-nil, is called after each question.
func (e *Evaluator) CachedEvaluate(ctx context.Context, m model.Model, store *resultcache.Store,
	progress func(done, total int)) (*EvaluationResult, error) {
	fp := e.Fingerprint()
	if payload, ok, err := store.Get(fp); err != nil {
		return nil, err
	} else if ok {
		return Unmarshal(payload)
	}

	log := logutil.GetLogger()
	e.stats = kvStats{}
	start := time.Now()
	correct := 0
	for i, q := range e.questions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		got, err := m.Answer(ctx, q, e)
		if err != nil {
			return nil, fmt.Errorf("eval: question %s: %w", q.ID, err)
		}
		if got == q.Answer {
			correct++
		}
		if progress != nil {
			progress(i+1, len(e.questions))
		}
	}

	r := e.buildResult(m, correct)
	if e.verbose {
		log.Debug("evaluation finished",
			zap.String("key", e.keyQ.Config().Label()),
			zap.String("value", e.valueQ.Config().Label()),
			zap.Float64("accuracy", r.Accuracy),
			zap.Float64("compression", r.CompressionRatio()),
			zap.Duration("elapsed", time.Since(start)),
			zap.String("device", e.device))
	}

	payload, err := r.Marshal()
	if err != nil {
		return nil, fmt.Errorf("eval: %w", err)
	}
	if err := store.Put(fp, payload); err != nil {
		// A mismatch means another worker computed a different result for
		// the same fingerprint: a determinism fault, not a race to tolerate.
		return nil, err
	}
	return r, nil
}

func (e *Evaluator) buildResult(m model.Model, correct int) *EvaluationResult {
	s := &e.stats
	r := &EvaluationResult{
		Version:        e.version,
		Model:          e.modelName,
		QuestionSet:    question.SetDigest(e.questions),
		KeyQuantizer:   e.keyQ.Config(),
		ValueQuantizer: e.valueQ.Config(),
		Questions:      len(e.questions),
		Correct:        correct,
		CacheBits:      s.cacheBits,
		BaselineBits:   s.baselineBits,
		ModelParams:    m.Params(),
	}
	if r.Questions > 0 {
		r.Accuracy = float64(correct) / float64(r.Questions)
	}
	if s.keyElems > 0 {
		r.KeyError = s.keyErrSum / float64(s.keyElems)
	}
	if s.valueElems > 0 {
		r.ValueError = s.valueErrSum / float64(s.valueElems)
	}
	if s.keyGroups > 0 {
		r.KeyAvgBits = s.keyBitsSum / float64(s.keyGroups)
	}
	if s.valueGroups > 0 {
		r.ValueAvgBits = s.valueBitsSum / float64(s.valueGroups)
	}
	return r
}

// ProcessKey implements model.KVProcessor for the key cache.
func (e *Evaluator) ProcessKey(layer int, k *quant.Tensor, attn *quant.AttentionWindow) (*quant.Tensor, error) {
	return e.process(e.keyQ, k, attn, true)
}

// ProcessValue implements model.KVProcessor for the value cache.
func (e *Evaluator) ProcessValue(layer int, v *quant.Tensor, attn *quant.AttentionWindow) (*quant.Tensor, error) {
	return e.process(e.valueQ, v, attn, false)
}

func (e *Evaluator) process(q *quant.Quantizer, t *quant.Tensor, attn *quant.AttentionWindow, isKey bool) (*quant.Tensor, error) {
	z, err := q.Quantize(t, attn)
	if err != nil {
		return nil, err
	}
	rec, err := q.Dequantize(z)
	if err != nil {
		return nil, err
	}
	errSum, err := t.SumSquaredDiff(rec)
	if err != nil {
		return nil, err
	}

	s := &e.stats
	elems := int64(t.Len())
	baseline := elems * int64(q.DType().BitsPerElement())
	compressed := z.CompressedBits()
	if q.Config().Level == quant.LevelNone {
		compressed = baseline
	}
	s.cacheBits += compressed
	s.baselineBits += baseline
	if isKey {
		s.keyErrSum += errSum
		s.keyElems += elems
		s.keyBitsSum += z.AvgBits() * float64(len(z.Groups))
		s.keyGroups += int64(len(z.Groups))
	} else {
		s.valueErrSum += errSum
		s.valueElems += elems
		s.valueBitsSum += z.AvgBits() * float64(len(z.Groups))
		s.valueGroups += int64(len(z.Groups))
	}
	return rec, nil
}
