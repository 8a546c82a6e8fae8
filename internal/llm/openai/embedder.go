package openai

import (
	"context"
	"errors"
	"fmt"

	"github.com/openai/openai-go"
	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/errs"
	"github.com/spigell/career-sync/internal/logger"
)

type EmbedderConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	Dimensions int
}

type Embedder struct {
	api        openai.Client
	model      string
	dimensions int
	logger     *zap.Logger
}

func NewEmbedder(cfg EmbedderConfig, log *zap.Logger) (*Embedder, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("openai: API key is required")
	}
	model := cfg.Model
	if model == "" {
		model = DefaultEmbedModel
	}
	return &Embedder{
		api:        openai.NewClient(requestOptions(cfg.APIKey, cfg.BaseURL)...),
		model:      model,
		dimensions: cfg.Dimensions,
		logger:     logger.WithProvider(log, ProviderName, model),
	}, nil
}

func (e *Embedder) Provider() string { return ProviderName }
func (e *Embedder) Model() string    { return e.model }

func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	params := openai.EmbeddingNewParams{
		Model: openai.EmbeddingModel(e.model),
		Input: openai.EmbeddingNewParamsInputUnion{OfArrayOfStrings: texts},
	}
	if e.dimensions > 0 {
		params.Dimensions = openai.Int(int64(e.dimensions))
	}

	resp, err := e.api.Embeddings.New(ctx, params)
	if err != nil {
		return nil, wrapError("embed", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, &errs.ProviderError{
			Provider: ProviderName,
			Op:       "embed",
			Err:      fmt.Errorf("got %d embeddings for %d inputs", len(resp.Data), len(texts)),
		}
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		idx := int(item.Index)
		if idx < 0 || idx >= len(vectors) {
			return nil, &errs.ProviderError{Provider: ProviderName, Op: "embed", Err: fmt.Errorf("embedding index %d out of range", idx)}
		}
		vec := make([]float32, len(item.Embedding))
		for j, v := range item.Embedding {
			vec[j] = float32(v)
		}
		vectors[idx] = vec
	}

	e.logger.Debug("embedded batch", zap.Int("inputs", len(texts)), zap.Int64("prompt_tokens", resp.Usage.PromptTokens))
	return vectors, nil
}
