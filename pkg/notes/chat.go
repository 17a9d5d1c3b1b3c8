package notes

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/jsonschema-go/jsonschema"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"
)

// ErrNoModel is returned by chat calls when no model client is
// configured; callers fall back to local note extraction.
var ErrNoModel = errors.New("notes: no chat model configured")

// ChatClient is the minimal chat-completion surface the generators
// need. Implementations may be remote models or test fakes.
type ChatClient interface {
	// Complete runs a plain text completion.
	Complete(ctx context.Context, req ChatRequest) (string, error)

	// CompleteJSON runs a completion constrained to the given JSON
	// schema and returns the raw JSON text.
	CompleteJSON(ctx context.Context, req ChatRequest, name string, schema *jsonschema.Schema) (string, error)
}

// ChatRequest carries one prompt pair and sampling parameters.
type ChatRequest struct {
	System      string
	User        string
	Temperature float64
	MaxTokens   int
}

// OpenAIChat implements ChatClient over the OpenAI chat completions
// API or any compatible endpoint.
type OpenAIChat struct {
	client *openai.Client
	model  string
}

var _ ChatClient = (*OpenAIChat)(nil)

// ChatOption configures the OpenAI chat client.
type ChatOption func(*chatConfig)

type chatConfig struct {
	baseURL string
}

// WithChatBaseURL points the client at an OpenAI-compatible endpoint.
func WithChatBaseURL(url string) ChatOption {
	return func(c *chatConfig) { c.baseURL = url }
}

// NewOpenAIChat creates a chat client for the given model identifier.
func NewOpenAIChat(apiKey, model string, opts ...ChatOption) *OpenAIChat {
	var cfg chatConfig
	for _, o := range opts {
		o(&cfg)
	}
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if cfg.baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(cfg.baseURL))
	}
	client := openai.NewClient(clientOpts...)
	return &OpenAIChat{client: &client, model: model}
}

func (c *OpenAIChat) Complete(ctx context.Context, req ChatRequest) (string, error) {
	resp, err := c.client.Chat.Completions.New(ctx, c.params(req))
	if err != nil {
		return "", fmt.Errorf("notes: chat completion: %w", err)
	}
	return firstChoice(resp)
}

func (c *OpenAIChat) CompleteJSON(ctx context.Context, req ChatRequest, name string, schema *jsonschema.Schema) (string, error) {
	params := c.params(req)
	params.ResponseFormat = openai.ChatCompletionNewParamsResponseFormatUnion{
		OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
			JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
				Name:   name,
				Schema: schema,
				Strict: param.NewOpt(true),
			},
		},
	}
	resp, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("notes: structured completion: %w", err)
	}
	return firstChoice(resp)
}

func (c *OpenAIChat) params(req ChatRequest) openai.ChatCompletionNewParams {
	p := openai.ChatCompletionNewParams{
		Model: c.model,
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.SystemMessage(req.System),
			openai.UserMessage(req.User),
		},
	}
	if req.Temperature > 0 {
		p.Temperature = openai.Float(req.Temperature)
	}
	if req.MaxTokens > 0 {
		p.MaxTokens = openai.Int(int64(req.MaxTokens))
	}
	return p
}

func firstChoice(resp *openai.ChatCompletion) (string, error) {
	if resp == nil || len(resp.Choices) == 0 {
		return "", fmt.Errorf("notes: no choices in response")
	}
	msg := resp.Choices[0].Message
	if msg.Refusal != "" {
		return "", fmt.Errorf("notes: model refused: %s", msg.Refusal)
	}
	if msg.Content == "" {
		return "", fmt.Errorf("notes: empty completion content")
	}
	return msg.Content, nil
}
