// Package display handles CLI table and JSON output for devices, questions,
// and sweep results.
package display

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/olekukonko/tablewriter"

	"github.com/shayne-snap/kvgauge/internal/device"
	"github.com/shayne-snap/kvgauge/internal/eval"
	"github.com/shayne-snap/kvgauge/internal/question"
	"github.com/shayne-snap/kvgauge/internal/report"
)

// Devices prints the resolved device table to out (table or JSON).
func Devices(out io.Writer, configs []device.Config, useJSON bool) {
	if useJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]interface{}{"devices": configs})
		return
	}
	fmt.Fprintln(out, "\n=== Device Table ===")
	fmt.Fprintf(out, "Workers: %d\n\n", len(configs))
	tbl := tablewriter.NewWriter(out)
	tbl.Header("Worker", "Device", "Memory Budget")
	for i, d := range configs {
		tbl.Append([]string{fmt.Sprintf("#%d", i+1), d.ID, fmt.Sprintf("%.1f GB", d.MemoryGB)})
	}
	_ = tbl.Render()
}

// Questions prints the loaded question battery to out (table or JSON).
func Questions(out io.Writer, questions []question.Question, useJSON bool) {
	if useJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]interface{}{
			"question_set": question.SetDigest(questions),
			"questions":    questions,
		})
		return
	}
	fmt.Fprintln(out, "\n=== Question Battery ===")
	fmt.Fprintf(out, "Total questions: %d (set %s)\n\n", len(questions), shortDigest(question.SetDigest(questions)))
	tbl := tablewriter.NewWriter(out)
	tbl.Header("ID", "Tokens", "Choices", "Prompt")
	for _, q := range questions {
		tbl.Append([]string{q.ID, fmt.Sprintf("%d", len(q.Tokens)), fmt.Sprintf("%d", q.Choices), truncate(q.Prompt, 60)})
	}
	_ = tbl.Render()
}

// Results prints a sweep's ordered result list to out (table or JSON).
func Results(out io.Writer, results []*eval.EvaluationResult, useJSON bool) {
	if useJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]interface{}{"results": resultsToJSON(results)})
		return
	}
	if len(results) == 0 {
		fmt.Fprintln(out, "\nNo results.")
		return
	}
	fmt.Fprintln(out, "\n=== Evaluation Results ===")
	fmt.Fprintf(out, "Model: %s   Questions: %d   Evaluations: %d\n\n",
		results[0].Model, results[0].Questions, len(results))
	tbl := tablewriter.NewWriter(out)
	tbl.Header("Key Quantizer", "Value Quantizer", "Accuracy", "Key Bits", "Val Bits", "Key Err", "Val Err", "Compression")
	for _, r := range results {
		tbl.Append([]string{
			r.KeyQuantizer.Label(),
			r.ValueQuantizer.Label(),
			fmt.Sprintf("%.1f%%", r.Accuracy*100),
			avgBits(r.KeyAvgBits),
			avgBits(r.ValueAvgBits),
			fmt.Sprintf("%.2e", r.KeyError),
			fmt.Sprintf("%.2e", r.ValueError),
			fmt.Sprintf("%.2fx", r.CompressionRatio()),
		})
	}
	_ = tbl.Render()
}

// Recommendation prints the ranked list and the picked configuration.
func Recommendation(out io.Writer, results []*eval.EvaluationResult, pick *eval.EvaluationResult, maxDrop float64, useJSON bool) {
	if useJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		payload := map[string]interface{}{
			"max_accuracy_drop": maxDrop,
			"ranked":            resultsToJSON(report.Rank(results)),
		}
		if pick != nil {
			payload["recommended"] = resultToJSON(pick)
		}
		_ = enc.Encode(payload)
		return
	}
	Results(out, report.Rank(results), false)
	if pick == nil {
		fmt.Fprintf(out, "\nNo configuration stays within %.1f%% accuracy drop.\n", maxDrop*100)
		return
	}
	fmt.Fprintf(out, "\nRecommended (max accuracy drop %.1f%%):\n", maxDrop*100)
	fmt.Fprintf(out, "  %s\n", report.PairLabel(pick))
	fmt.Fprintf(out, "  Accuracy: %.1f%%   Compression: %.2fx   Key/Val bits: %s/%s\n",
		pick.Accuracy*100, pick.CompressionRatio(), avgBits(pick.KeyAvgBits), avgBits(pick.ValueAvgBits))
}

// CacheEntries prints the persisted fingerprints to out.
func CacheEntries(out io.Writer, keys []string, useJSON bool) {
	if useJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		_ = enc.Encode(map[string]interface{}{"fingerprints": keys})
		return
	}
	fmt.Fprintf(out, "\n=== Result Cache ===\nEntries: %d\n\n", len(keys))
	for _, k := range keys {
		fmt.Fprintln(out, " ", k)
	}
}

func resultsToJSON(results []*eval.EvaluationResult) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(results))
	for _, r := range results {
		out = append(out, resultToJSON(r))
	}
	return out
}

func resultToJSON(r *eval.EvaluationResult) map[string]interface{} {
	return map[string]interface{}{
		"key_quantizer":   r.KeyQuantizer,
		"value_quantizer": r.ValueQuantizer,
		"label":           report.PairLabel(r),
		"accuracy":        r.Accuracy,
		"correct":         r.Correct,
		"questions":       r.Questions,
		"key_error":       r.KeyError,
		"value_error":     r.ValueError,
		"key_avg_bits":    r.KeyAvgBits,
		"value_avg_bits":  r.ValueAvgBits,
		"cache_bits":      r.CacheBits,
		"baseline_bits":   r.BaselineBits,
		"compression":     r.CompressionRatio(),
	}
}

func avgBits(b float64) string {
	if b <= 0 {
		return "-"
	}
	return fmt.Sprintf("%.1f", b)
}

func shortDigest(d string) string {
	if len(d) > 12 {
		return d[:12]
	}
	return d
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n-3] + "..."
}
