package gemini

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/career-sync/internal/errs"
	"github.com/spigell/career-sync/internal/llm"
)

type fakeChatCreator struct {
	mu    sync.Mutex
	calls []chatCallRecord
	queue map[string][]fakeChatResponse
}

type chatCallRecord struct {
	model  string
	config *genai.GenerateContentConfig
	chat   *fakeChat
}

type fakeChatResponse struct {
	resp *genai.GenerateContentResponse
	err  error
}

type fakeChat struct {
	mu       sync.Mutex
	response fakeChatResponse
	messages []string
}

func (f *fakeChat) SendMessage(_ context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, part := range parts {
		f.messages = append(f.messages, part.Text)
	}
	return f.response.resp, f.response.err
}

func newFakeChatCreator() *fakeChatCreator {
	return &fakeChatCreator{queue: make(map[string][]fakeChatResponse)}
}

func (f *fakeChatCreator) enqueue(model string, resp *genai.GenerateContentResponse, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue[model] = append(f.queue[model], fakeChatResponse{resp: resp, err: err})
}

func (f *fakeChatCreator) Create(_ context.Context, model string, config *genai.GenerateContentConfig, _ []*genai.Content) (chatSession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	responses := f.queue[model]
	if len(responses) == 0 {
		return nil, errors.New("unexpected call")
	}
	res := responses[0]
	f.queue[model] = responses[1:]
	chat := &fakeChat{response: res}
	f.calls = append(f.calls, chatCallRecord{model: model, config: config, chat: chat})
	return chat, nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content: &genai.Content{Parts: []*genai.Part{{Text: text}}},
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 40, CandidatesTokenCount: 12},
	}
}

func noSleep(t *testing.T) {
	t.Helper()
	originalWait := wait
	wait = func(context.Context, time.Duration) error { return nil }
	t.Cleanup(func() { wait = originalWait })
}

func TestGeneratorRetriesOnTemporaryError(t *testing.T) {
	noSleep(t)

	chats := newFakeChatCreator()
	tempErr := genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"}
	chats.enqueue("gemini-pro", nil, tempErr)
	chats.enqueue("gemini-pro", textResponse("retry ok"), nil)

	g := &Generator{
		chats:      chats,
		model:      "gemini-pro",
		maxRetries: 2,
		logger:     zap.NewNop(),
	}

	output, err := g.GenerateContent(context.Background(), "system", "message")
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if output != "retry ok" {
		t.Fatalf("unexpected output: %q", output)
	}

	if len(chats.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(chats.calls))
	}

	for _, call := range chats.calls {
		if call.config == nil || call.config.SystemInstruction == nil {
			t.Fatalf("expected system instruction to be set")
		}
		if got := call.config.SystemInstruction.Parts[0].Text; got != "system" {
			t.Fatalf("unexpected system instruction: %q", got)
		}
		if len(call.chat.messages) != 1 || call.chat.messages[0] != "message" {
			t.Fatalf("unexpected chat message: %+v", call.chat.messages)
		}
	}
}

func TestGeneratorStopsAfterRetriesExhausted(t *testing.T) {
	noSleep(t)

	chats := newFakeChatCreator()
	tempErr := genai.APIError{Code: http.StatusInternalServerError, Status: "INTERNAL"}
	chats.enqueue("gemini-pro", nil, tempErr)
	chats.enqueue("gemini-pro", nil, tempErr)

	g := &Generator{chats: chats, model: "gemini-pro", maxRetries: 2, logger: zap.NewNop()}

	_, err := g.GenerateContent(context.Background(), "sys", "msg")
	var provider *errs.ProviderError
	if !errors.As(err, &provider) {
		t.Fatalf("expected provider error after retries exhausted, got %v", err)
	}
	if provider.Status != http.StatusInternalServerError || !provider.Retryable {
		t.Fatalf("unexpected provider error %+v", provider)
	}

	if len(chats.calls) != 2 {
		t.Fatalf("expected 2 calls, got %d", len(chats.calls))
	}
}

func TestGeneratorDoesNotRetryOnLongQuotaDelay(t *testing.T) {
	chats := newFakeChatCreator()
	quotaErr := genai.APIError{
		Code:    http.StatusTooManyRequests,
		Status:  "RESOURCE_EXHAUSTED",
		Message: "quota exhausted, retry after 60 seconds",
	}
	chats.enqueue("gemini-pro", nil, quotaErr)

	g := &Generator{chats: chats, model: "gemini-pro", maxRetries: 3, logger: zap.NewNop()}

	_, err := g.GenerateContent(context.Background(), "sys", "msg")
	if err == nil {
		t.Fatal("expected error when quota delay too long")
	}
	if errs.Retryable(err) {
		t.Fatalf("long quota delays must not be retried upstream either")
	}

	if len(chats.calls) != 1 {
		t.Fatalf("expected single call, got %d", len(chats.calls))
	}
}

func TestQuotaDelay(t *testing.T) {
	tests := []struct {
		message string
		want    time.Duration
		found   bool
	}{
		{message: "quota exhausted, retry after 60 seconds", want: time.Minute, found: true},
		{message: "Please retry in 12.5s.", want: 12500 * time.Millisecond, found: true},
		{message: "internal error", found: false},
	}

	for _, tt := range tests {
		got, found := quotaDelay(tt.message)
		if found != tt.found || got != tt.want {
			t.Fatalf("quotaDelay(%q) = %v, %v; want %v, %v", tt.message, got, found, tt.want, tt.found)
		}
	}
}

type companySpec struct {
	Name string `json:"name"`
	Size string `json:"size" jsonschema:"enum=small,enum=medium,enum=large"`
}

func TestInvokeStructured(t *testing.T) {
	chats := newFakeChatCreator()
	chats.enqueue("gemini-pro", textResponse("```json\n{\"name\":\"Yektanet\",\"size\":\"large\"}\n```"), nil)

	g := &Generator{chats: chats, model: "gemini-pro", maxRetries: 1, logger: zap.NewNop()}

	var out companySpec
	meta, err := g.InvokeStructured(context.Background(), llm.Request{
		Messages: []llm.Message{llm.System("You are a model generator."), llm.User("raw data")},
		Schema:   llm.GenerateSchema[companySpec]("Company", ""),
		Tags:     []string{"ai-generatable-service", "Company"},
	}, &out)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if out.Name != "Yektanet" || out.Size != "large" {
		t.Fatalf("unexpected output %+v", out)
	}
	if meta.PromptTokens != 40 || meta.CompletionTokens != 12 {
		t.Fatalf("unexpected token usage %+v", meta)
	}

	call := chats.calls[0]
	if call.config.ResponseMIMEType != "application/json" {
		t.Fatalf("expected JSON response mime type, got %q", call.config.ResponseMIMEType)
	}
	schema, ok := call.config.ResponseJsonSchema.(map[string]any)
	if !ok {
		t.Fatalf("expected response JSON schema, got %T", call.config.ResponseJsonSchema)
	}
	properties, _ := schema["properties"].(map[string]any)
	if _, ok := properties["size"]; !ok {
		t.Fatalf("expected size in response schema, got %v", schema)
	}
	if system := call.config.SystemInstruction.Parts[0].Text; system != "You are a model generator." {
		t.Fatalf("expected system instruction without schema prose, got %q", system)
	}
}

func TestInvokeStructuredSchemaViolation(t *testing.T) {
	chats := newFakeChatCreator()
	chats.enqueue("gemini-pro", textResponse(`{"name":"Yektanet","size":"huge"}`), nil)

	g := &Generator{chats: chats, model: "gemini-pro", maxRetries: 1, logger: zap.NewNop()}

	var out companySpec
	_, err := g.InvokeStructured(context.Background(), llm.Request{
		Messages: []llm.Message{llm.User("raw data")},
		Schema:   llm.GenerateSchema[companySpec]("Company", ""),
	}, &out)
	if errs.Kind(err) != errs.KindSchema {
		t.Fatalf("expected schema violation, got %v", err)
	}
}

type fakeModels struct {
	resp   *genai.EmbedContentResponse
	err    error
	config *genai.EmbedContentConfig
	inputs int
}

func (f *fakeModels) EmbedContent(_ context.Context, _ string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.config = config
	f.inputs = len(contents)
	return f.resp, f.err
}

func TestEmbedder(t *testing.T) {
	models := &fakeModels{resp: &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{
		{Values: []float32{1, 0}},
		{Values: []float32{0, 1}},
	}}}
	e := &Embedder{models: models, model: DefaultEmbedModel, dimensions: 2, logger: zap.NewNop()}

	vectors, err := e.Embed(context.Background(), []string{"Tehran", "Remote"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(vectors) != 2 || vectors[1][1] != 1 {
		t.Fatalf("unexpected vectors %v", vectors)
	}
	if models.inputs != 2 || models.config.OutputDimensionality == nil || *models.config.OutputDimensionality != 2 {
		t.Fatalf("unexpected request: %d inputs, config %+v", models.inputs, models.config)
	}

	models.resp = &genai.EmbedContentResponse{Embeddings: []*genai.ContentEmbedding{{Values: []float32{1}}}}
	if _, err := e.Embed(context.Background(), []string{"a", "b"}); errs.Kind(err) != errs.KindProvider {
		t.Fatalf("expected provider error on short response, got %v", err)
	}
}
