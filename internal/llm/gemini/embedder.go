package gemini

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/career-sync/internal/errs"
	"github.com/spigell/career-sync/internal/logger"
)

type embedContenter interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

type EmbedderConfig struct {
	APIKey     string
	Model      string
	Dimensions int
}

type Embedder struct {
	models     embedContenter
	model      string
	dimensions int
	logger     *zap.Logger
}

func NewEmbedder(ctx context.Context, cfg EmbedderConfig, log *zap.Logger) (*Embedder, error) {
	client, err := newSDKClient(ctx, cfg.APIKey)
	if err != nil {
		return nil, err
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = DefaultEmbedModel
	}

	return &Embedder{
		models:     client.Models,
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

	contents := make([]*genai.Content, len(texts))
	for i, text := range texts {
		contents[i] = &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{{Text: text}}}
	}

	config := &genai.EmbedContentConfig{TaskType: "SEMANTIC_SIMILARITY"}
	if e.dimensions > 0 {
		dims := int32(e.dimensions)
		config.OutputDimensionality = &dims
	}

	resp, err := e.models.EmbedContent(ctx, e.model, contents, config)
	if err != nil {
		return nil, toProviderError(err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &errs.ProviderError{
			Provider: ProviderName,
			Op:       "embed",
			Err:      fmt.Errorf("got %d embeddings for %d inputs", len(resp.Embeddings), len(texts)),
		}
	}

	vectors := make([][]float32, len(texts))
	for i, emb := range resp.Embeddings {
		if emb == nil || len(emb.Values) == 0 {
			return nil, &errs.ProviderError{Provider: ProviderName, Op: "embed", Err: fmt.Errorf("empty embedding at %d", i)}
		}
		vectors[i] = emb.Values
	}

	e.logger.Debug("embedded batch", zap.Int("inputs", len(texts)))
	return vectors, nil
}
