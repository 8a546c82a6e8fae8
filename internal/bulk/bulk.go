// Package bulk runs batches of structured LLM calls concurrently while
// keeping results in submission order.
package bulk

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/spigell/career-sync/internal/llm"
	"github.com/spigell/career-sync/internal/tracing"
)

// Policy decides what happens to a batch when one task fails.
type Policy int

const (
	// FailFast cancels outstanding tasks and fails the whole batch.
	FailFast Policy = iota
	// BestEffort runs every task and reports failures per result.
	BestEffort
)

func (p Policy) String() string {
	if p == BestEffort {
		return "best_effort"
	}
	return "fail_fast"
}

const defaultConcurrency = 8

type Task struct {
	Messages []llm.Message
	Tags     []string
}

type Result[T any] struct {
	Value T
	Meta  *llm.Metadata
	Err   error
}

type settings struct {
	policy          Policy
	concurrency     int
	reasoningEffort string
	spanName        string
	logger          *zap.Logger
}

type Option func(*settings)

func WithPolicy(p Policy) Option {
	return func(s *settings) { s.policy = p }
}

func WithConcurrency(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

func WithReasoningEffort(effort string) Option {
	return func(s *settings) { s.reasoningEffort = effort }
}

// WithSpanName names the span recorded for every task.
func WithSpanName(name string) Option {
	return func(s *settings) { s.spanName = name }
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// Caller queues structured requests sharing one schema and executes them as a batch.
type Caller[T any] struct {
	client   llm.StructuredClient
	schema   *llm.Schema
	settings settings

	mu    sync.Mutex
	tasks []Task
}

func New[T any](client llm.StructuredClient, schema *llm.Schema, opts ...Option) *Caller[T] {
	s := settings{
		policy:      FailFast,
		concurrency: defaultConcurrency,
		spanName:    "llm.bulk",
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&s)
	}
	return &Caller[T]{client: client, schema: schema, settings: s}
}

// AddTask queues one request. Tags label it in traces.
func (c *Caller[T]) AddTask(messages []llm.Message, tags []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.tasks = append(c.tasks, Task{Messages: messages, Tags: tags})
}

// Len reports the number of queued tasks.
func (c *Caller[T]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tasks)
}

// Call executes every queued task and empties the queue. Results are in
// submission order. Under FailFast the first failure is returned and no
// results are; under BestEffort each Result carries its own error.
func (c *Caller[T]) Call(ctx context.Context) ([]Result[T], error) {
	c.mu.Lock()
	tasks := c.tasks
	c.tasks = nil
	c.mu.Unlock()

	results := make([]Result[T], len(tasks))
	if len(tasks) == 0 {
		return results, nil
	}

	c.settings.logger.Debug("bulk call started",
		zap.Int("tasks", len(tasks)),
		zap.String("policy", c.settings.policy.String()),
		zap.String("schema", c.schema.Name),
	)

	g, gctx := errgroup.WithContext(ctx)
	if c.settings.policy == BestEffort {
		// Failures must not cancel siblings.
		g = &errgroup.Group{}
		gctx = ctx
	}
	g.SetLimit(c.settings.concurrency)

	for i, task := range tasks {
		g.Go(func() error {
			res := c.invoke(gctx, task)
			results[i] = res
			if res.Err != nil && c.settings.policy == FailFast {
				return fmt.Errorf("task %d [%s]: %w", i, strings.Join(task.Tags, ","), res.Err)
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (c *Caller[T]) invoke(ctx context.Context, task Task) Result[T] {
	if err := ctx.Err(); err != nil {
		return Result[T]{Err: err}
	}

	ctx, span := tracing.Start(ctx, c.settings.spanName, attribute.String("llm.schema", c.schema.Name))

	var out T
	meta, err := c.client.InvokeStructured(ctx, llm.Request{
		Messages:        task.Messages,
		Schema:          c.schema,
		Tags:            task.Tags,
		ReasoningEffort: c.settings.reasoningEffort,
	}, &out)

	obs := tracing.Observation{
		Input:    renderMessages(task.Messages),
		Tags:     task.Tags,
		Provider: c.client.Provider(),
		Model:    c.client.Model(),
		Err:      err,
	}
	if meta != nil {
		obs.Output = meta.Raw
		obs.PromptTokens = meta.PromptTokens
		obs.CompletionTokens = meta.CompletionTokens
	}
	tracing.Finish(span, obs)

	if err != nil {
		c.settings.logger.Warn("bulk task failed", zap.Strings("tags", task.Tags), zap.Error(err))
		return Result[T]{Meta: meta, Err: err}
	}
	return Result[T]{Value: out, Meta: meta}
}

func renderMessages(messages []llm.Message) string {
	var b strings.Builder
	for i, m := range messages {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(string(m.Role))
		b.WriteString(": ")
		b.WriteString(m.Content)
	}
	return b.String()
}
