// Package generation defines the text-generation capability consumed by the
// dispatcher: a blocking prompt-to-text call and a streamed variant.
package generation

import (
	"context"

	"github.com/pkg/errors"
)

// ErrBackend classifies failures raised by a generation backend.
var ErrBackend = errors.New("generation backend error")

// BackendError carries the backend's error unchanged while matching ErrBackend.
type BackendError struct {
	Backend string
	Err     error
}

func (e *BackendError) Error() string {
	if e == nil || e.Err == nil {
		return ""
	}
	return e.Backend + ": " + e.Err.Error()
}

func (e *BackendError) Unwrap() error { return e.Err }

func (e *BackendError) Is(target error) bool { return target == ErrBackend }

// Options are forwarded to the backend as-is. Nil fields use backend defaults.
type Options struct {
	Temperature  *float32 `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	TopP         *float32 `json:"top_p,omitempty" yaml:"top_p,omitempty"`
	TopK         *int     `json:"top_k,omitempty" yaml:"top_k,omitempty"`
	MaxNewTokens *int     `json:"max_new_tokens,omitempty" yaml:"max_new_tokens,omitempty"`
	EOSTokenIDs  []int    `json:"eos_token_ids,omitempty" yaml:"eos_token_ids,omitempty"`
}

// Merge returns o with every field set in override replacing its counterpart.
func (o Options) Merge(override Options) Options {
	out := o
	if override.Temperature != nil {
		out.Temperature = override.Temperature
	}
	if override.TopP != nil {
		out.TopP = override.TopP
	}
	if override.TopK != nil {
		out.TopK = override.TopK
	}
	if override.MaxNewTokens != nil {
		out.MaxNewTokens = override.MaxNewTokens
	}
	if override.EOSTokenIDs != nil {
		out.EOSTokenIDs = append([]int(nil), override.EOSTokenIDs...)
	}
	return out
}

// Map flattens the set options, for debug output.
func (o Options) Map() map[string]any {
	m := map[string]any{}
	if o.Temperature != nil {
		m["temperature"] = *o.Temperature
	}
	if o.TopP != nil {
		m["top_p"] = *o.TopP
	}
	if o.TopK != nil {
		m["top_k"] = *o.TopK
	}
	if o.MaxNewTokens != nil {
		m["max_new_tokens"] = *o.MaxNewTokens
	}
	if len(o.EOSTokenIDs) > 0 {
		m["eos_token_ids"] = append([]int(nil), o.EOSTokenIDs...)
	}
	return m
}

// Result is the outcome of a blocking generation.
type Result struct {
	Text     string
	Warnings []string
	Debug    map[string]any
}

// Stream yields text deltas. Recv returns io.EOF once the backend is done.
// A stream is finite and cannot be restarted. Close may be called while Recv
// is blocked and must make it return.
type Stream interface {
	Recv() (string, error)
	Warnings() []string
	Close() error
}

// OptionChecker is implemented by backends that cannot honor every option.
// Unsupported returns one advisory per option that will not reach the model.
type OptionChecker interface {
	Unsupported(opts Options) []string
}

type Generator interface {
	Name() string
	Generate(ctx context.Context, prompt string, opts Options) (Result, error)
	GenerateStream(ctx context.Context, prompt string, opts Options) (Stream, error)
}

func Float32(v float32) *float32 { return &v }
func Int(v int) *int             { return &v }
