package bulk

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"go.uber.org/goleak"

	"github.com/spigell/career-sync/internal/errs"
	"github.com/spigell/career-sync/internal/llm"
	"github.com/spigell/career-sync/internal/tracing/tracingtest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type answer struct {
	Echo string `json:"echo"`
}

// echoClient answers with the user message, sleeping longer for earlier
// tasks so completion order differs from submission order.
type echoClient struct {
	mu       sync.Mutex
	failOn   map[string]error
	tags     [][]string
	inFlight atomic.Int32
	peak     atomic.Int32
}

func (e *echoClient) InvokeStructured(ctx context.Context, req llm.Request, out any) (*llm.Metadata, error) {
	current := e.inFlight.Add(1)
	defer e.inFlight.Add(-1)
	for {
		peak := e.peak.Load()
		if current <= peak || e.peak.CompareAndSwap(peak, current) {
			break
		}
	}

	msg := req.Messages[len(req.Messages)-1].Content
	e.mu.Lock()
	e.tags = append(e.tags, req.Tags)
	err := e.failOn[msg]
	e.mu.Unlock()

	n, _ := strconv.Atoi(msg)
	select {
	case <-time.After(time.Duration(10-n%10) * time.Millisecond):
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if err != nil {
		return &llm.Metadata{Raw: "oops"}, err
	}

	raw, _ := json.Marshal(answer{Echo: msg})
	if err := json.Unmarshal(raw, out); err != nil {
		return nil, err
	}
	return &llm.Metadata{Raw: string(raw), PromptTokens: 3, CompletionTokens: 2}, nil
}

func (e *echoClient) Provider() string { return "fake" }
func (e *echoClient) Model() string    { return "fake-1" }

var answerSchema = llm.GenerateSchema[answer]("Answer", "")

func TestCallPreservesSubmissionOrder(t *testing.T) {
	client := &echoClient{}
	caller := New[answer](client, answerSchema, WithConcurrency(4))

	for i := 0; i < 10; i++ {
		caller.AddTask([]llm.Message{llm.System("echo"), llm.User(strconv.Itoa(i))}, []string{"test", strconv.Itoa(i)})
	}

	results, err := caller.Call(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("expected 10 results, got %d", len(results))
	}
	for i, res := range results {
		if res.Value.Echo != strconv.Itoa(i) {
			t.Fatalf("result %d out of order: %+v", i, res.Value)
		}
		if res.Meta == nil || res.Meta.PromptTokens != 3 {
			t.Fatalf("missing metadata at %d", i)
		}
	}
	if peak := client.peak.Load(); peak > 4 {
		t.Fatalf("concurrency limit exceeded: %d", peak)
	}
	if len(client.tags) != 10 || client.tags[0][0] != "test" {
		t.Fatalf("expected tags on every call, got %v", client.tags)
	}
}

func TestCallClearsQueue(t *testing.T) {
	caller := New[answer](&echoClient{}, answerSchema)
	caller.AddTask([]llm.Message{llm.User("1")}, nil)
	caller.AddTask([]llm.Message{llm.User("2")}, nil)

	if _, err := caller.Call(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if caller.Len() != 0 {
		t.Fatalf("expected empty queue after call, got %d", caller.Len())
	}

	results, err := caller.Call(context.Background())
	if err != nil || len(results) != 0 {
		t.Fatalf("expected empty second call, got %v, %v", results, err)
	}
}

func TestFailFast(t *testing.T) {
	boom := &errs.ProviderError{Provider: "fake", Status: 500, Retryable: true}
	client := &echoClient{failOn: map[string]error{"3": boom}}
	caller := New[answer](client, answerSchema)

	for i := 0; i < 6; i++ {
		caller.AddTask([]llm.Message{llm.User(strconv.Itoa(i))}, []string{"finder", strconv.Itoa(i)})
	}

	results, err := caller.Call(context.Background())
	if !errors.Is(err, boom) {
		t.Fatalf("expected provider error, got %v", err)
	}
	if results != nil {
		t.Fatalf("fail-fast must not return partial results")
	}
}

func TestBestEffort(t *testing.T) {
	boom := errors.New("bad output")
	client := &echoClient{failOn: map[string]error{"1": boom}}
	caller := New[answer](client, answerSchema, WithPolicy(BestEffort))

	for i := 0; i < 3; i++ {
		caller.AddTask([]llm.Message{llm.User(strconv.Itoa(i))}, nil)
	}

	results, err := caller.Call(context.Background())
	if err != nil {
		t.Fatalf("best effort returns per-result errors, got %v", err)
	}
	if !errors.Is(results[1].Err, boom) {
		t.Fatalf("expected failure recorded on result 1, got %+v", results[1])
	}
	if results[0].Value.Echo != "0" || results[2].Value.Echo != "2" {
		t.Fatalf("unexpected results %+v", results)
	}
}

func TestCallRecordsSpanPerTask(t *testing.T) {
	recorder := tracingtest.Record(t)

	caller := New[answer](&echoClient{}, answerSchema, WithSpanName("llm.finder"))
	caller.AddTask([]llm.Message{llm.User("1")}, []string{"embedding-service", "Tehran"})
	caller.AddTask([]llm.Message{llm.User("2")}, []string{"embedding-service", "Berlin"})

	if _, err := caller.Call(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	names := tracingtest.Names(recorder)
	if len(names) != 2 || names[0] != "llm.finder" {
		t.Fatalf("unexpected spans %v", names)
	}
}
