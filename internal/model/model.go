// Package model defines the interfaces the evaluation core needs from a model
// serving stack (provider, model handle, tokenizer) and ships a deterministic
// in-process reference model used by tests and the default provider wiring.
package model

import (
	"context"

	"github.com/shayne-snap/kvgauge/internal/device"
	"github.com/shayne-snap/kvgauge/internal/quant"
	"github.com/shayne-snap/kvgauge/internal/question"
)

// KVProcessor intercepts the model's key/value cache path. Every cache write
// goes through Process*, which quantizes and dequantizes the tensor; the model
// continues with the returned (lossy) reconstruction.
type KVProcessor interface {
	ProcessKey(layer int, k *quant.Tensor, attn *quant.AttentionWindow) (*quant.Tensor, error)
	ProcessValue(layer int, v *quant.Tensor, attn *quant.AttentionWindow) (*quant.Tensor, error)
}

// Model is one loaded causal LM replica. A handle is owned by exactly one
// worker and reused across every evaluation scheduled on it.
type Model interface {
	Name() string
	Params() int64
	// Answer runs one question through the model with kv installed on the
	// cache path and returns the chosen answer index.
	Answer(ctx context.Context, q question.Question, kv KVProcessor) (int, error)
}

// Provider loads a ready-to-use model replica onto one device. The returned
// warnings surface non-fatal placement issues (e.g. CPU offloading); they
// affect measured performance, not correctness.
type Provider interface {
	Load(ctx context.Context, name string, dev device.Config, dtype quant.DType) (Model, []string, error)
}

// NewTokenizer returns the deterministic tokenizer for a model identifier.
// The reference stack tokenizes bytes; a real serving stack would substitute
// the model's own vocabulary here.
func NewTokenizer(modelName string) question.Tokenizer {
	return byteTokenizer{}
}

// byteTokenizer maps every prompt byte to id byte+1, reserving 0 for padding.
type byteTokenizer struct{}

func (byteTokenizer) Encode(text string) []int {
	out := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		out[i] = int(text[i]) + 1
	}
	return out
}

func (byteTokenizer) PadID() int { return 0 }
