package eval

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"

	"github.com/shayne-snap/kvgauge/internal/device"
	"github.com/shayne-snap/kvgauge/internal/model"
	"github.com/shayne-snap/kvgauge/internal/quant"
	"github.com/shayne-snap/kvgauge/internal/question"
	"github.com/shayne-snap/kvgauge/internal/resultcache"
)

func testQuestions(t *testing.T, n int) []question.Question {
	t.Helper()
	tok := model.NewTokenizer("test-model")
	questions, err := question.Load(tok, n)
	if err != nil {
		t.Fatalf("Load questions: %v", err)
	}
	return questions
}

func testStore(t *testing.T) *resultcache.Store {
	t.Helper()
	s, err := resultcache.Open(filepath.Join(t.TempDir(), "results.db"))
	if err != nil {
		t.Fatalf("Open store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func quantizerPair(t *testing.T, keyCfg, valueCfg quant.Config, bind bool) (*quant.Quantizer, *quant.Quantizer) {
	t.Helper()
	kq, err := quant.New(keyCfg)
	if err != nil {
		t.Fatalf("key quantizer: %v", err)
	}
	vq, err := quant.New(valueCfg)
	if err != nil {
		t.Fatalf("value quantizer: %v", err)
	}
	if bind {
		if err := kq.BindDevice("cpu:0", quant.F16); err != nil {
			t.Fatalf("bind key: %v", err)
		}
		if err := vq.BindDevice("cpu:0", quant.F16); err != nil {
			t.Fatalf("bind value: %v", err)
		}
	}
	return kq, vq
}

func uniformPair(t *testing.T, bits int, bind bool) (*quant.Quantizer, *quant.Quantizer) {
	return quantizerPair(t,
		quant.Config{Cache: quant.KeyCache, Level: quant.LevelToken, NBitsUniform: bits},
		quant.Config{Cache: quant.ValueCache, Level: quant.LevelToken, NBitsUniform: bits},
		bind)
}

func loadModel(t *testing.T, p *model.ReferenceProvider) model.Model {
	t.Helper()
	m, _, err := p.Load(context.Background(), "test-model", device.Config{ID: "cpu:0", MemoryGB: 8}, quant.F16)
	if err != nil {
		t.Fatalf("Load model: %v", err)
	}
	return m
}

func TestFingerprintDeterministic(t *testing.T) {
	questions := testQuestions(t, 4)
	kq1, vq1 := uniformPair(t, 4, false)
	kq2, vq2 := uniformPair(t, 4, false)
	a := NewEvaluator("cpu:0", Version, "test-model", questions, kq1, vq1, false)
	b := NewEvaluator("cuda:1", Version, "test-model", questions, kq2, vq2, true)
	if a.Fingerprint() != b.Fingerprint() {
		t.Error("fingerprint must not depend on device or verbosity")
	}
}

func TestFingerprintSensitivity(t *testing.T) {
	questions := testQuestions(t, 4)
	kq, vq := uniformPair(t, 4, false)
	base := NewEvaluator("cpu:0", Version, "test-model", questions, kq, vq, false).Fingerprint()

	kq2, vq2 := uniformPair(t, 8, false)
	if got := NewEvaluator("cpu:0", Version, "test-model", questions, kq2, vq2, false).Fingerprint(); got == base {
		t.Error("changing quantizer config should change the fingerprint")
	}
	kq3, vq3 := uniformPair(t, 4, false)
	if got := NewEvaluator("cpu:0", Version, "other-model", questions, kq3, vq3, false).Fingerprint(); got == base {
		t.Error("changing model should change the fingerprint")
	}
	kq4, vq4 := uniformPair(t, 4, false)
	if got := NewEvaluator("cpu:0", "999", "test-model", questions, kq4, vq4, false).Fingerprint(); got == base {
		t.Error("changing version should change the fingerprint")
	}
	kq5, vq5 := uniformPair(t, 4, false)
	if got := NewEvaluator("cpu:0", Version, "test-model", questions[:3], kq5, vq5, false).Fingerprint(); got == base {
		t.Error("changing the question set should change the fingerprint")
	}
}

func TestCachedEvaluateStoresResult(t *testing.T) {
	questions := testQuestions(t, 4)
	store := testStore(t)
	provider := model.NewReferenceProvider()
	m := loadModel(t, provider)
	kq, vq := uniformPair(t, 8, true)
	ev := NewEvaluator("cpu:0", Version, "test-model", questions, kq, vq, false)

	if _, ok, err := ev.IsResultCached(store); err != nil || ok {
		t.Fatalf("fresh store: cached=%v err=%v", ok, err)
	}
	res, err := ev.CachedEvaluate(context.Background(), m, store, nil)
	if err != nil {
		t.Fatalf("CachedEvaluate: %v", err)
	}
	if res.Questions != 4 {
		t.Errorf("Questions = %d, want 4", res.Questions)
	}
	if res.Accuracy < 0 || res.Accuracy > 1 {
		t.Errorf("Accuracy = %v", res.Accuracy)
	}
	if res.CacheBits <= 0 || res.BaselineBits <= 0 {
		t.Errorf("cache accounting missing: %d/%d", res.CacheBits, res.BaselineBits)
	}
	if res.CacheBits >= res.BaselineBits {
		t.Errorf("8-bit cache of f16 baseline should compress: %d vs %d", res.CacheBits, res.BaselineBits)
	}
	if cached, ok, err := ev.IsResultCached(store); err != nil || !ok {
		t.Fatalf("after evaluate: cached=%v err=%v", ok, err)
	} else if cached.Accuracy != res.Accuracy {
		t.Error("cached result differs from returned result")
	}
}

func TestCachedEvaluateServesFromCache(t *testing.T) {
	questions := testQuestions(t, 4)
	store := testStore(t)
	provider := model.NewReferenceProvider()
	m := loadModel(t, provider)
	kq, vq := uniformPair(t, 8, true)
	ev := NewEvaluator("cpu:0", Version, "test-model", questions, kq, vq, false)

	first, err := ev.CachedEvaluate(context.Background(), m, store, nil)
	if err != nil {
		t.Fatalf("first CachedEvaluate: %v", err)
	}
	before := provider.Invocations()

	kq2, vq2 := uniformPair(t, 8, true)
	ev2 := NewEvaluator("cpu:1", Version, "test-model", questions, kq2, vq2, false)
	second, err := ev2.CachedEvaluate(context.Background(), m, store, nil)
	if err != nil {
		t.Fatalf("second CachedEvaluate: %v", err)
	}
	if provider.Invocations() != before {
		t.Errorf("cache hit ran the model: %d extra invocations", provider.Invocations()-before)
	}
	a, _ := first.Marshal()
	b, _ := second.Marshal()
	if !bytes.Equal(a, b) {
		t.Error("cached result should marshal byte-identically to the original")
	}
}

func TestCachedEvaluateProgress(t *testing.T) {
	questions := testQuestions(t, 3)
	store := testStore(t)
	m := loadModel(t, model.NewReferenceProvider())
	kq, vq := uniformPair(t, 8, true)
	ev := NewEvaluator("cpu:0", Version, "test-model", questions, kq, vq, false)

	var calls []int
	_, err := ev.CachedEvaluate(context.Background(), m, store, func(done, total int) {
		if total != 3 {
			t.Errorf("total = %d, want 3", total)
		}
		calls = append(calls, done)
	})
	if err != nil {
		t.Fatalf("CachedEvaluate: %v", err)
	}
	if len(calls) != 3 || calls[0] != 1 || calls[2] != 3 {
		t.Errorf("progress calls = %v", calls)
	}
}

func TestCachedEvaluateContextCancel(t *testing.T) {
	questions := testQuestions(t, 4)
	store := testStore(t)
	m := loadModel(t, model.NewReferenceProvider())
	kq, vq := uniformPair(t, 8, true)
	ev := NewEvaluator("cpu:0", Version, "test-model", questions, kq, vq, false)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := ev.CachedEvaluate(ctx, m, store, nil); err == nil {
		t.Error("canceled context should abort the evaluation")
	}
}

func TestNoQuantizationDoesNotCompress(t *testing.T) {
	questions := testQuestions(t, 2)
	store := testStore(t)
	m := loadModel(t, model.NewReferenceProvider())
	kq, vq := quantizerPair(t,
		quant.Config{Cache: quant.KeyCache, Level: quant.LevelNone},
		quant.Config{Cache: quant.ValueCache, Level: quant.LevelNone},
		true)
	ev := NewEvaluator("cpu:0", Version, "test-model", questions, kq, vq, false)

	res, err := ev.CachedEvaluate(context.Background(), m, store, nil)
	if err != nil {
		t.Fatalf("CachedEvaluate: %v", err)
	}
	if res.CacheBits != res.BaselineBits {
		t.Errorf("no-quantization pair: CacheBits %d != BaselineBits %d", res.CacheBits, res.BaselineBits)
	}
	if res.CompressionRatio() != 1 {
		t.Errorf("CompressionRatio = %v, want 1", res.CompressionRatio())
	}
	if res.KeyError != 0 || res.ValueError != 0 {
		t.Errorf("lossless pair should report zero error: %v/%v", res.KeyError, res.ValueError)
	}
	if res.Accuracy != 1 {
		t.Errorf("lossless pair accuracy = %v, want 1", res.Accuracy)
	}
}

func TestMarshalRoundTrip(t *testing.T) {
	r := &EvaluationResult{
		Version:        Version,
		Model:          "m",
		QuestionSet:    "qs",
		KeyQuantizer:   quant.Config{Cache: quant.KeyCache, Level: quant.LevelToken, NBitsUniform: 4},
		ValueQuantizer: quant.Config{Cache: quant.ValueCache, Level: quant.LevelNone},
		Questions:      10,
		Correct:        7,
		Accuracy:       0.7,
		CacheBits:      1000,
		BaselineBits:   4000,
	}
	payload, err := r.Marshal()
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	back, err := Unmarshal(payload)
	if err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if back.KeyQuantizer.NBitsUniform != 4 || back.ValueQuantizer.Level != quant.LevelNone {
		t.Errorf("configs did not survive the round trip: %+v", back)
	}
	if back.CompressionRatio() != 4 {
		t.Errorf("CompressionRatio = %v, want 4", back.CompressionRatio())
	}
}
