package display

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"

	"github.com/shayne-snap/kvgauge/internal/device"
	"github.com/shayne-snap/kvgauge/internal/eval"
	"github.com/shayne-snap/kvgauge/internal/quant"
	"github.com/shayne-snap/kvgauge/internal/question"
)

func baselineResult() *eval.EvaluationResult {
	return &eval.EvaluationResult{
		Version:        eval.Version,
		Model:          "test-model",
		QuestionSet:    "abc123",
		KeyQuantizer:   quant.Config{Cache: quant.KeyCache, Level: quant.LevelNone},
		ValueQuantizer: quant.Config{Cache: quant.ValueCache, Level: quant.LevelNone},
		Questions:      10,
		Correct:        9,
		Accuracy:       0.9,
		CacheBits:      16000,
		BaselineBits:   16000,
	}
}

func quantizedResult(bits int, accuracy float64) *eval.EvaluationResult {
	return &eval.EvaluationResult{
		Version:        eval.Version,
		Model:          "test-model",
		QuestionSet:    "abc123",
		KeyQuantizer:   quant.Config{Cache: quant.KeyCache, Level: quant.LevelToken, NBitsUniform: bits},
		ValueQuantizer: quant.Config{Cache: quant.ValueCache, Level: quant.LevelToken, NBitsUniform: bits},
		Questions:      10,
		Correct:        int(accuracy * 10),
		Accuracy:       accuracy,
		KeyError:       1e-4,
		ValueError:     2e-4,
		KeyAvgBits:     float64(bits),
		ValueAvgBits:   float64(bits),
		CacheBits:      int64(bits) * 1000,
		BaselineBits:   16000,
	}
}

func TestDevices_Table(t *testing.T) {
	configs := []device.Config{
		{ID: "cuda:0", MemoryGB: 16},
		{ID: "cuda:1", MemoryGB: 16},
	}
	var buf bytes.Buffer
	Devices(&buf, configs, false)
	s := buf.String()
	if !strings.Contains(s, "Device Table") {
		t.Error("output should contain 'Device Table'")
	}
	if !strings.Contains(s, "Workers: 2") {
		t.Errorf("expected 'Workers: 2', got: %s", s)
	}
	if !strings.Contains(s, "cuda:0") || !strings.Contains(s, "cuda:1") {
		t.Error("output should contain device ids")
	}
}

func TestDevices_JSON(t *testing.T) {
	configs := []device.Config{{ID: "cpu:0", MemoryGB: 8}}
	var buf bytes.Buffer
	Devices(&buf, configs, true)
	var out struct {
		Devices []map[string]interface{} `json:"devices"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(out.Devices) != 1 {
		t.Fatalf("len(devices) = %d, want 1", len(out.Devices))
	}
	if out.Devices[0]["id"] != "cpu:0" {
		t.Errorf("devices[0].id = %v", out.Devices[0]["id"])
	}
}

func TestQuestions_Table(t *testing.T) {
	questions := []question.Question{
		{ID: "q-1", Prompt: "What is 2+2?", Tokens: []int{1, 2, 3}, Answer: 0, Choices: 4},
	}
	var buf bytes.Buffer
	Questions(&buf, questions, false)
	s := buf.String()
	if !strings.Contains(s, "Question Battery") {
		t.Error("output should contain 'Question Battery'")
	}
	if !strings.Contains(s, "q-1") {
		t.Error("output should contain question id")
	}
	if !strings.Contains(s, "Total questions: 1") {
		t.Errorf("expected total count, got: %s", s)
	}
}

func TestResults_Empty(t *testing.T) {
	var buf bytes.Buffer
	Results(&buf, nil, false)
	if !strings.Contains(buf.String(), "No results") {
		t.Errorf("expected empty message, got: %s", buf.String())
	}
}

func TestResults_Table(t *testing.T) {
	results := []*eval.EvaluationResult{baselineResult(), quantizedResult(4, 0.8)}
	var buf bytes.Buffer
	Results(&buf, results, false)
	s := buf.String()
	if !strings.Contains(s, "Evaluation Results") {
		t.Error("output should contain section title")
	}
	if !strings.Contains(s, "test-model") {
		t.Error("output should contain model name")
	}
	if !strings.Contains(s, "90.0%") || !strings.Contains(s, "80.0%") {
		t.Errorf("output should contain accuracies: %s", s)
	}
	if !strings.Contains(s, "4.00x") {
		t.Errorf("output should contain compression ratio: %s", s)
	}
}

func TestResults_JSON(t *testing.T) {
	results := []*eval.EvaluationResult{quantizedResult(4, 0.8)}
	var buf bytes.Buffer
	Results(&buf, results, true)
	var out struct {
		Results []map[string]interface{} `json:"results"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(out.Results) != 1 {
		t.Fatalf("len(results) = %d, want 1", len(out.Results))
	}
	r := out.Results[0]
	if _, ok := r["accuracy"]; !ok {
		t.Error("result entry should have accuracy")
	}
	if _, ok := r["compression"]; !ok {
		t.Error("result entry should have compression")
	}
	if _, ok := r["key_quantizer"]; !ok {
		t.Error("result entry should have key_quantizer")
	}
}

func TestRecommendation_Table(t *testing.T) {
	results := []*eval.EvaluationResult{baselineResult(), quantizedResult(4, 0.9)}
	var buf bytes.Buffer
	Recommendation(&buf, results, results[1], 0.05, false)
	s := buf.String()
	if !strings.Contains(s, "Recommended") {
		t.Error("output should contain recommendation block")
	}
	if !strings.Contains(s, "u4") {
		t.Errorf("output should contain picked config label: %s", s)
	}
}

func TestRecommendation_NoPick(t *testing.T) {
	results := []*eval.EvaluationResult{baselineResult()}
	var buf bytes.Buffer
	Recommendation(&buf, results, nil, 0.01, false)
	if !strings.Contains(buf.String(), "No configuration") {
		t.Errorf("expected no-pick message, got: %s", buf.String())
	}
}

func TestRecommendation_JSON(t *testing.T) {
	results := []*eval.EvaluationResult{baselineResult(), quantizedResult(4, 0.9)}
	var buf bytes.Buffer
	Recommendation(&buf, results, results[1], 0.05, true)
	var out struct {
		Ranked      []map[string]interface{} `json:"ranked"`
		Recommended map[string]interface{}   `json:"recommended"`
	}
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if len(out.Ranked) != 2 {
		t.Fatalf("len(ranked) = %d, want 2", len(out.Ranked))
	}
	if out.Recommended == nil {
		t.Error("recommended should be present")
	}
}

func TestCacheEntries(t *testing.T) {
	var buf bytes.Buffer
	CacheEntries(&buf, []string{"aaa", "bbb"}, false)
	s := buf.String()
	if !strings.Contains(s, "Entries: 2") {
		t.Errorf("expected entry count, got: %s", s)
	}
	if !strings.Contains(s, "aaa") || !strings.Contains(s, "bbb") {
		t.Error("output should list fingerprints")
	}
}
