// Package question provides the evaluation question battery: a deterministic,
// order-stable list of tokenized prompts with reference answers, loaded from
// the embedded default set with an optional user-cache overlay.
package question

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/shayne-snap/kvgauge/data"
)

// Tokenizer converts prompt text to token ids. Implementations must be
// deterministic per model identifier; PadID is the padding token.
type Tokenizer interface {
	Encode(text string) []int
	PadID() int
}

// Question is one tokenized prompt plus its expected answer. Loaded once per
// experiment and shared read-only across all evaluations and workers.
type Question struct {
	ID      string `json:"id"`
	Prompt  string `json:"prompt"`
	Tokens  []int  `json:"tokens"`
	Answer  int    `json:"answer"`
	Choices int    `json:"choices"`
}

// entry is the on-disk shape (tokens are produced by the loader, not stored).
type entry struct {
	ID      string `json:"id"`
	Prompt  string `json:"prompt"`
	Answer  int    `json:"answer"`
	Choices int    `json:"choices"`
}

// CachePath returns the user cache file path for a replacement question set
// (XDG-style: config dir/kvgauge/questions.json).
func CachePath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "kvgauge", "questions.json"), nil
}

// Load returns up to count questions, tokenized with tok, in a deterministic
// order. The embedded set is the base; a parseable user cache file overlays it
// by id (replaced in place, new ids appended).
func Load(tok Tokenizer, count int) ([]Question, error) {
	base, err := decodeEntries(data.QuestionsJSON)
	if err != nil {
		return nil, fmt.Errorf("embedded question set: %w", err)
	}
	if cachePath, err := CachePath(); err == nil {
		if raw, err := os.ReadFile(cachePath); err == nil {
			overlay, err := decodeEntries(raw)
			if err != nil {
				fmt.Fprintf(os.Stderr, "kvgauge: could not parse %s: %v (using embedded set)\n", cachePath, err)
			} else {
				base = mergeEntries(base, overlay)
			}
		}
	}
	if count > 0 && count < len(base) {
		base = base[:count]
	}
	questions := make([]Question, 0, len(base))
	for _, e := range base {
		if e.Choices < 2 {
			return nil, fmt.Errorf("question %q: choices must be >= 2, got %d", e.ID, e.Choices)
		}
		if e.Answer < 0 || e.Answer >= e.Choices {
			return nil, fmt.Errorf("question %q: answer %d out of range [0, %d)", e.ID, e.Answer, e.Choices)
		}
		questions = append(questions, Question{
			ID:      e.ID,
			Prompt:  e.Prompt,
			Tokens:  tok.Encode(e.Prompt),
			Answer:  e.Answer,
			Choices: e.Choices,
		})
	}
	return questions, nil
}

func decodeEntries(raw []byte) ([]entry, error) {
	var entries []entry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// mergeEntries overlays by id: matching ids replace in place, new ids append.
// Base order is preserved so the set identity stays order-stable.
func mergeEntries(base, overlay []entry) []entry {
	byID := make(map[string]entry, len(overlay))
	for _, e := range overlay {
		byID[e.ID] = e
	}
	out := make([]entry, 0, len(base)+len(overlay))
	seen := make(map[string]bool, len(base))
	for _, e := range base {
		if o, ok := byID[e.ID]; ok {
			out = append(out, o)
		} else {
			out = append(out, e)
		}
		seen[e.ID] = true
	}
	for _, e := range overlay {
		if !seen[e.ID] {
			out = append(out, e)
			seen[e.ID] = true
		}
	}
	return out
}

// SetDigest returns a deterministic digest of the question set's identity:
// ids, token sequences, and answers. It feeds the evaluation fingerprint, so
// any change to the battery invalidates cached results.
func SetDigest(questions []Question) string {
	h := sha256.New()
	enc := json.NewEncoder(h)
	for _, q := range questions {
		// Encode never fails on these field types.
		_ = enc.Encode(struct {
			ID      string `json:"id"`
			Tokens  []int  `json:"tokens"`
			Answer  int    `json:"answer"`
			Choices int    `json:"choices"`
		}{q.ID, q.Tokens, q.Answer, q.Choices})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// WriteCacheFile writes raw JSON bytes to the user cache path (used by
// update-questions). Creates the parent dir if needed. The payload must
// already be validated by the caller.
func WriteCacheFile(body []byte) error {
	cachePath, err := CachePath()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(cachePath), 0755); err != nil {
		return err
	}
	return os.WriteFile(cachePath, body, 0644)
}

// Validate checks that raw bytes decode to a usable question set (used before
// writing a fetched replacement set).
func Validate(raw []byte) error {
	entries, err := decodeEntries(raw)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return fmt.Errorf("question set is empty")
	}
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.ID == "" || e.Prompt == "" {
			return fmt.Errorf("question with empty id or prompt")
		}
		if seen[e.ID] {
			return fmt.Errorf("duplicate question id %q", e.ID)
		}
		seen[e.ID] = true
		if e.Choices < 2 || e.Answer < 0 || e.Answer >= e.Choices {
			return fmt.Errorf("question %q: invalid answer/choices", e.ID)
		}
	}
	return nil
}
