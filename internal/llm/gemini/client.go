// Package gemini implements the llm contracts on top of the Google GenAI SDK.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/career-sync/internal/errs"
	"github.com/spigell/career-sync/internal/llm"
	"github.com/spigell/career-sync/internal/logger"
	"github.com/spigell/career-sync/internal/utils"
)

const (
	ProviderName      = "gemini"
	DefaultModel      = "gemini-2.5-flash"
	DefaultEmbedModel = "gemini-embedding-001"

	defaultMaxRetries = 2
	retryBaseDelay    = 2 * time.Second
	// Quota errors asking to wait longer than this are returned immediately.
	maxQuotaDelay = 30 * time.Second
)

var (
	wait = utils.WaitFor

	retryAfterPattern = regexp.MustCompile(`(?i)retry (?:after|in) (\d+(?:\.\d+)?)\s*(s|sec|second|seconds)?\b`)
)

type chatCreator interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)
}

type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type sdkChats struct {
	chats *genai.Chats
}

func (s sdkChats) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	chat, err := s.chats.Create(ctx, model, config, history)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

type Config struct {
	APIKey       string
	Model        string
	MaxRetries   int
	MaxLogLength int
}

// Generator sends single-turn chats to Gemini and returns JSON output.
type Generator struct {
	chats        chatCreator
	model        string
	maxRetries   int
	maxLogLength int
	logger       *zap.Logger
}

func newSDKClient(ctx context.Context, apiKey string) (*genai.Client, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}
	return client, nil
}

// NewGenerator creates a Generator configured for the Gemini API backend.
func NewGenerator(ctx context.Context, cfg Config, log *zap.Logger) (*Generator, error) {
	client, err := newSDKClient(ctx, cfg.APIKey)
	if err != nil {
		return nil, err
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultModel
	}

	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultMaxRetries
	}

	maxLog := cfg.MaxLogLength
	if maxLog <= 0 {
		maxLog = 512
	}

	return &Generator{
		chats:        sdkChats{chats: client.Chats},
		model:        model,
		maxRetries:   retries,
		maxLogLength: maxLog,
		logger:       logger.WithProvider(log, ProviderName, model),
	}, nil
}

func (g *Generator) Provider() string { return ProviderName }

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

// GenerateContent sends message with the given system instruction and returns the text reply.
func (g *Generator) GenerateContent(ctx context.Context, system, message string) (string, error) {
	text, _, err := g.generate(ctx, system, message, nil)
	return text, err
}

// InvokeStructured asks for JSON output constrained to the request schema.
// The reply is still validated locally against the full schema.
func (g *Generator) InvokeStructured(ctx context.Context, req llm.Request, out any) (*llm.Metadata, error) {
	if req.Schema == nil {
		return nil, errs.Validationf("gemini", "structured request without schema")
	}

	definition, err := req.Schema.StrictDefinition()
	if err != nil {
		return nil, fmt.Errorf("render schema %q: %w", req.Schema.Name, err)
	}

	var system, user []string
	for _, m := range req.Messages {
		if m.Role == llm.RoleSystem {
			system = append(system, m.Content)
			continue
		}
		user = append(user, m.Content)
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType:   "application/json",
		ResponseJsonSchema: definition,
	}
	if req.MaxOutputTokens > 0 {
		config.MaxOutputTokens = int32(req.MaxOutputTokens)
	}

	start := time.Now()
	text, usage, err := g.generate(ctx, strings.Join(system, "\n\n"), strings.Join(user, "\n\n"), config)
	meta := &llm.Metadata{
		Provider: ProviderName,
		Model:    g.model,
		Latency:  time.Since(start),
		Tags:     req.Tags,
		Raw:      text,
	}
	if usage != nil {
		meta.PromptTokens = int(usage.PromptTokenCount)
		meta.CompletionTokens = int(usage.CandidatesTokenCount)
	}
	if err != nil {
		return meta, err
	}

	if err := req.Schema.Decode([]byte(llm.ExtractJSON(text)), out); err != nil {
		return meta, err
	}
	return meta, nil
}

func (g *Generator) generate(ctx context.Context, system, message string, config *genai.GenerateContentConfig) (string, *genai.GenerateContentResponseUsageMetadata, error) {
	if g == nil || g.chats == nil {
		return "", nil, errors.New("gemini generator is not initialized")
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return "", nil, errs.Validationf("gemini", "message must not be empty")
	}

	if config == nil {
		config = &genai.GenerateContentConfig{}
	}
	if system = strings.TrimSpace(system); system != "" {
		config.SystemInstruction = &genai.Content{
			Role:  genai.RoleUser,
			Parts: []*genai.Part{{Text: system}},
		}
	}

	attempts := g.maxRetries
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		text, usage, err := g.send(ctx, config, message)
		if err == nil {
			return text, usage, nil
		}
		lastErr = err

		delay, retry := retryDelay(err, attempt)
		if !retry || attempt == attempts {
			break
		}

		g.logger.Warn("gemini request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := wait(ctx, delay); err != nil {
			return "", nil, err
		}
	}

	return "", nil, toProviderError(lastErr)
}

func (g *Generator) send(ctx context.Context, config *genai.GenerateContentConfig, message string) (string, *genai.GenerateContentResponseUsageMetadata, error) {
	chat, err := g.chats.Create(ctx, g.model, config, nil)
	if err != nil {
		return "", nil, fmt.Errorf("create chat: %w", err)
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: message})
	if err != nil {
		return "", nil, err
	}
	if resp == nil {
		return "", nil, errors.New("gemini api returned no response")
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return "", resp.UsageMetadata, errors.New("gemini api returned empty response")
	}

	g.logger.Debug("gemini response", zap.String("response_preview", utils.TruncateForLog(output, g.maxLogLength)))
	return output, resp.UsageMetadata, nil
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

// retryDelay decides whether err is temporary and how long to wait before the next attempt.
func retryDelay(err error, attempt int) (time.Duration, bool) {
	apiErr, ok := asAPIError(err)
	if !ok {
		return 0, false
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		if delay, found := quotaDelay(apiErr.Message); found {
			if delay > maxQuotaDelay {
				return 0, false
			}
			return delay, true
		}
		return retryBaseDelay * time.Duration(attempt), true
	case apiErr.Code >= http.StatusInternalServerError:
		return retryBaseDelay * time.Duration(attempt), true
	default:
		return 0, false
	}
}

func quotaDelay(message string) (time.Duration, bool) {
	match := retryAfterPattern.FindStringSubmatch(message)
	if len(match) < 2 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(match[1], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}

func toProviderError(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := asAPIError(err); ok {
		_, retry := retryDelay(err, 1)
		return &errs.ProviderError{
			Provider:  ProviderName,
			Op:        "generate",
			Status:    apiErr.Code,
			Retryable: retry,
			Err:       err,
		}
	}
	return &errs.ProviderError{Provider: ProviderName, Op: "generate", Retryable: true, Err: err}
}
