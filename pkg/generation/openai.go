package generation

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIConfig points the backend at an OpenAI-compatible completions endpoint
// (llama.cpp server, vLLM, TGI, ...). The raw rendered prompt is sent as is.
type OpenAIConfig struct {
	BaseURL    string
	APIKey     string
	Model      string
	HTTPClient *http.Client
}

// OpenAIBackend implements Generator on the legacy completions API, which
// accepts a pre-formatted prompt.
type OpenAIBackend struct {
	client *openai.Client
	model  string
}

var (
	_ Generator     = (*OpenAIBackend)(nil)
	_ OptionChecker = (*OpenAIBackend)(nil)
)

func NewOpenAIBackend(cfg OpenAIConfig) (*OpenAIBackend, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, errors.New("openai backend: model is required")
	}
	c := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		c.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}
	if cfg.HTTPClient != nil {
		c.HTTPClient = cfg.HTTPClient
	}
	return &OpenAIBackend{
		client: openai.NewClientWithConfig(c),
		model:  cfg.Model,
	}, nil
}

func (b *OpenAIBackend) Name() string { return b.model }

func (b *OpenAIBackend) request(prompt string, opts Options) openai.CompletionRequest {
	req := openai.CompletionRequest{
		Model:  b.model,
		Prompt: prompt,
	}
	if opts.Temperature != nil {
		req.Temperature = *opts.Temperature
	}
	if opts.TopP != nil {
		req.TopP = *opts.TopP
	}
	if opts.MaxNewTokens != nil {
		req.MaxTokens = *opts.MaxNewTokens
	}
	return req
}

// Unsupported lists the options the completions API cannot carry. top_k and
// eos_token_ids have no field; zero temperature and top_p are omitted from
// the request body and fall back to the server default.
func (b *OpenAIBackend) Unsupported(opts Options) []string {
	var warnings []string
	if opts.TopK != nil {
		warnings = append(warnings, "top_k is not supported by the completions API and was ignored")
	}
	if len(opts.EOSTokenIDs) > 0 {
		warnings = append(warnings, "eos_token_ids is not supported by the completions API and was ignored")
	}
	if opts.Temperature != nil && *opts.Temperature == 0 {
		warnings = append(warnings, "temperature 0 cannot be sent to the completions API; the server default was used")
	}
	if opts.TopP != nil && *opts.TopP == 0 {
		warnings = append(warnings, "top_p 0 cannot be sent to the completions API; the server default was used")
	}
	return warnings
}

func (b *OpenAIBackend) Generate(ctx context.Context, prompt string, opts Options) (Result, error) {
	req := b.request(prompt, opts)
	resp, err := b.client.CreateCompletion(ctx, req)
	if err != nil {
		return Result{}, &BackendError{Backend: "openai", Err: err}
	}
	if len(resp.Choices) == 0 {
		return Result{}, &BackendError{Backend: "openai", Err: errors.New("completion returned no choices")}
	}
	choice := resp.Choices[0]
	var warnings []string
	if choice.FinishReason == "length" {
		warnings = append(warnings, "generation stopped at the max_new_tokens limit")
	}
	log.Debug().Str("component", "generation").Str("model", b.model).Str("finish_reason", choice.FinishReason).Msg("completion finished")
	return Result{
		Text:     choice.Text,
		Warnings: warnings,
		Debug: map[string]any{
			"backend":       "openai",
			"model":         resp.Model,
			"finish_reason": choice.FinishReason,
		},
	}, nil
}

func (b *OpenAIBackend) GenerateStream(ctx context.Context, prompt string, opts Options) (Stream, error) {
	req := b.request(prompt, opts)
	req.Stream = true
	stream, err := b.client.CreateCompletionStream(ctx, req)
	if err != nil {
		return nil, &BackendError{Backend: "openai", Err: err}
	}
	return &openAIStream{stream: stream}, nil
}

type openAIStream struct {
	stream   *openai.CompletionStream
	warnings []string
}

func (s *openAIStream) Recv() (string, error) {
	for {
		resp, err := s.stream.Recv()
		if errors.Is(err, io.EOF) {
			return "", io.EOF
		}
		if err != nil {
			return "", &BackendError{Backend: "openai", Err: err}
		}
		if len(resp.Choices) == 0 {
			continue
		}
		if resp.Choices[0].FinishReason == "length" {
			s.warnings = append(s.warnings, "generation stopped at the max_new_tokens limit")
		}
		if text := resp.Choices[0].Text; text != "" {
			return text, nil
		}
	}
}

func (s *openAIStream) Warnings() []string { return append([]string(nil), s.warnings...) }

func (s *openAIStream) Close() error {
	return s.stream.Close()
}
