// Package openai implements the llm contracts on top of the OpenAI API.
package openai

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/errs"
	"github.com/spigell/career-sync/internal/llm"
	"github.com/spigell/career-sync/internal/logger"
	"github.com/spigell/career-sync/internal/utils"
)

const (
	ProviderName      = "openai"
	DefaultModel      = "gpt-5-mini"
	DefaultEmbedModel = "text-embedding-3-large"
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	// MaxLogLength bounds the response preview in debug logs.
	MaxLogLength int
}

// Client produces strict JSON-schema structured output with chat completions.
type Client struct {
	api          openai.Client
	model        string
	logger       *zap.Logger
	maxLogLength int
}

func requestOptions(apiKey, baseURL string) []option.RequestOption {
	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		// Retries are owned by the resolver.
		option.WithMaxRetries(0),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return opts
}

func New(cfg Config, log *zap.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	maxLog := cfg.MaxLogLength
	if maxLog <= 0 {
		maxLog = 512
	}

	return &Client{
		api:          openai.NewClient(requestOptions(cfg.APIKey, cfg.BaseURL)...),
		model:        model,
		logger:       logger.WithProvider(log, ProviderName, model),
		maxLogLength: maxLog,
	}, nil
}

func (c *Client) Provider() string { return ProviderName }
func (c *Client) Model() string    { return c.model }

func (c *Client) InvokeStructured(ctx context.Context, req llm.Request, out any) (*llm.Metadata, error) {
	if req.Schema == nil {
		return nil, errs.Validationf("openai", "structured request without schema")
	}

	definition, err := req.Schema.StrictDefinition()
	if err != nil {
		return nil, fmt.Errorf("render schema %q: %w", req.Schema.Name, err)
	}

	params := openai.ChatCompletionNewParams{
		Model:    c.model,
		Messages: toMessages(req.Messages),
		ResponseFormat: openai.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &openai.ResponseFormatJSONSchemaParam{
				JSONSchema: openai.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        req.Schema.Name,
					Description: openai.String(req.Schema.Description),
					Schema:      definition,
					Strict:      openai.Bool(true),
				},
			},
		},
	}
	if req.ReasoningEffort != "" {
		params.ReasoningEffort = shared.ReasoningEffort(req.ReasoningEffort)
	}
	if req.MaxOutputTokens > 0 {
		params.MaxCompletionTokens = openai.Int(int64(req.MaxOutputTokens))
	}

	start := time.Now()
	resp, err := c.api.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, wrapError("chat", err)
	}

	meta := &llm.Metadata{
		Provider:         ProviderName,
		Model:            c.model,
		PromptTokens:     int(resp.Usage.PromptTokens),
		CompletionTokens: int(resp.Usage.CompletionTokens),
		Latency:          time.Since(start),
		Tags:             req.Tags,
	}

	if len(resp.Choices) == 0 {
		return meta, &errs.ProviderError{Provider: ProviderName, Op: "chat", Retryable: true, Err: errors.New("no choices in response")}
	}

	choice := resp.Choices[0]
	if choice.Message.Refusal != "" {
		return meta, &errs.SchemaViolationError{Schema: req.Schema.Name, Problems: []string{"model refused: " + choice.Message.Refusal}}
	}

	meta.Raw = choice.Message.Content
	c.logger.Debug("structured completion",
		zap.Strings("tags", req.Tags),
		zap.Duration("latency", meta.Latency),
		zap.Int("prompt_tokens", meta.PromptTokens),
		zap.Int("completion_tokens", meta.CompletionTokens),
		zap.String("response_preview", utils.TruncateForLog(meta.Raw, c.maxLogLength)),
	)

	if err := req.Schema.Decode([]byte(meta.Raw), out); err != nil {
		return meta, err
	}
	return meta, nil
}

func toMessages(messages []llm.Message) []openai.ChatCompletionMessageParamUnion {
	out := make([]openai.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, m := range messages {
		switch m.Role {
		case llm.RoleSystem:
			out = append(out, openai.SystemMessage(m.Content))
		case llm.RoleAssistant:
			out = append(out, openai.AssistantMessage(m.Content))
		default:
			out = append(out, openai.UserMessage(m.Content))
		}
	}
	return out
}

func wrapError(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &errs.ProviderError{Provider: ProviderName, Op: op, Err: err}
	}

	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		return &errs.ProviderError{
			Provider:  ProviderName,
			Op:        op,
			Status:    apiErr.StatusCode,
			Retryable: errs.RetryableStatus(apiErr.StatusCode),
			Err:       fmt.Errorf("%s: %w", apiErr.Message, err),
		}
	}

	// No API response at all: network trouble is worth another attempt.
	return &errs.ProviderError{Provider: ProviderName, Op: op, Retryable: true, Err: err}
}
