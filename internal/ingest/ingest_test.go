package ingest

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/spigell/career-sync/internal/cache"
	"github.com/spigell/career-sync/internal/careersite"
	"github.com/spigell/career-sync/internal/entity"
	"github.com/spigell/career-sync/internal/llm"
	"github.com/spigell/career-sync/internal/metrics"
	"github.com/spigell/career-sync/internal/resolver"
	"github.com/spigell/career-sync/internal/store/memory"
)

type hashEmbedder struct{}

func (hashEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, text := range texts {
		h := fnv.New32a()
		_, _ = h.Write([]byte(text))
		sum := h.Sum32()
		out[i] = []float32{float32(sum%97) + 1, float32(sum%89) + 1, float32(sum%83) + 1}
	}
	return out, nil
}

func (hashEmbedder) Provider() string { return "fake" }
func (hashEmbedder) Model() string    { return "fake-embed" }

const opportunityModel = `{"title":"Engineer %s","description":"Builds things","location_type":"remote",` +
	`"contract_type":"full_time","experience_level":"senior","gender":"any","category":"engineering",` +
	`"military_service":"any","minimum_education_level":"bachelor","minimum_experience_years":3,` +
	`"minimum_salary":1000,"currency":"usd","is_active":true}`

// taggedClient answers by the service tag every request carries.
type taggedClient struct {
	mu    sync.Mutex
	calls map[string]int
}

func (c *taggedClient) InvokeStructured(_ context.Context, req llm.Request, out any) (*llm.Metadata, error) {
	if len(req.Tags) < 2 {
		return nil, fmt.Errorf("untagged request %v", req.Tags)
	}
	c.mu.Lock()
	c.calls[req.Tags[0]]++
	c.mu.Unlock()

	var raw string
	switch req.Tags[0] {
	case "embedding-service":
		key := req.Tags[2]
		if req.Tags[1] == entity.Location.Name() {
			raw = fmt.Sprintf(`{"result":{"name":%q,"level":"city"}}`, key)
		} else {
			raw = fmt.Sprintf(`{"result":{"name":%q,"description":"about %s"}}`, key, key)
		}
	case "company-service":
		raw = `{"summary":"Acme builds rockets","model":{"name":"Acme","description":"Rockets","page":"","size":"medium"}}`
	case "opportunity-service":
		id := req.Tags[2]
		summary := "Job " + id
		if id == "bad" {
			summary = ""
		}
		raw = fmt.Sprintf(`{"summary":%q,"model":`+opportunityModel+`}`, summary, id)
	default:
		return nil, fmt.Errorf("unexpected tags %v", req.Tags)
	}

	if err := req.Schema.Decode([]byte(raw), out); err != nil {
		return nil, err
	}
	return &llm.Metadata{Provider: "fake", Model: "fake-llm", Tags: req.Tags}, nil
}

func (c *taggedClient) Provider() string { return "fake" }
func (c *taggedClient) Model() string    { return "fake-llm" }

func (c *taggedClient) count(tag string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls[tag]
}

type fakeSite struct {
	name    string
	ids     []string
	listErr error
}

func (s *fakeSite) Name() string { return s.name }

func (s *fakeSite) CompanyInfo(context.Context) (*careersite.CompanyInfo, error) {
	return &careersite.CompanyInfo{
		Name:         "Acme",
		Size:         entity.SizeMedium,
		LocationName: "Berlin",
		Perks:        []string{"Gym", "Remote work"},
		Extra:        map[string]any{"about": "We build rockets"},
	}, nil
}

func (s *fakeSite) OpportunityIDs(context.Context) ([]string, error) {
	return s.ids, s.listErr
}

func (s *fakeSite) OpportunityDetail(_ context.Context, id string) (*careersite.OpportunityDetail, error) {
	if id == "missing" {
		return nil, &careersite.StatusError{Code: 404, URL: "/jobs/missing"}
	}
	return &careersite.OpportunityDetail{
		LocationName: "Berlin",
		CategoryName: "Backend",
		Extra:        map[string]any{"title": "Engineer " + id},
	}, nil
}

type fixture struct {
	store    *memory.Store
	client   *taggedClient
	services *Services
	metrics  *metrics.Metrics
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		store:   memory.New(),
		client:  &taggedClient{calls: map[string]int{}},
		metrics: metrics.New(prometheus.NewRegistry()),
	}
	deps := resolver.Deps{
		Store:    f.store,
		Cache:    cache.New(cache.NewMemoryBackend(256, time.Hour), "test"),
		Embedder: hashEmbedder{},
		Client:   f.client,
		Metrics:  f.metrics,
	}
	services, err := NewServices(deps, resolver.WithRetry(resolver.RetryConfig{MaxAttempts: 1}))
	if err != nil {
		t.Fatalf("new services: %v", err)
	}
	f.services = services
	return f
}

func registry(t *testing.T, clients ...careersite.Client) *careersite.Registry {
	t.Helper()
	r, err := careersite.NewRegistry(clients...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	return r
}

func TestJobRunIsolatesFailures(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zap.InfoLevel)
	job := NewJob(f.services, WithMetrics(f.metrics), WithLogger(zap.New(core)))

	acme := &fakeSite{name: "acme", ids: []string{"1", "2", "bad", "missing"}}
	broken := &fakeSite{name: "broken", listErr: errors.New("connection refused")}

	report := job.Run(context.Background(), registry(t, broken, acme))
	if len(report.Sources) != 2 {
		t.Fatalf("expected 2 source reports, got %d", len(report.Sources))
	}

	if got := report.Sources[0]; got.Status != StatusFailed || got.Err == nil {
		t.Fatalf("broken source not reported: %+v", got)
	}

	got := report.Sources[1]
	if got.Status != StatusPartial || got.Synced != 2 || got.Listed != 4 {
		t.Fatalf("unexpected acme report: %+v", got)
	}
	if _, ok := got.Failed["bad"]; !ok {
		t.Fatalf("expected bad to fail, got %v", got.Failed)
	}
	if _, ok := got.Failed["missing"]; !ok {
		t.Fatalf("expected missing to fail, got %v", got.Failed)
	}
	if report.Err() == nil || report.Synced() != 2 {
		t.Fatalf("unexpected report totals: err=%v synced=%d", report.Err(), report.Synced())
	}

	counts := map[entity.Kind]int{
		entity.KindOpportunity: 2,
		entity.KindCompany:     1,
		entity.KindLocation:    1,
		entity.KindPerk:        2,
		entity.KindJobCategory: 1,
	}
	for kind, want := range counts {
		if n := f.store.Len(kind); n != want {
			t.Fatalf("expected %d %s records, got %d", want, kind, n)
		}
	}

	if v := testutil.ToFloat64(f.metrics.SourceRuns.WithLabelValues("acme", StatusPartial)); v != 1 {
		t.Fatalf("expected one partial acme run, got %v", v)
	}
	if logs.FilterMessage("opportunity not synced").FilterField(zap.String("id", "bad")).Len() != 1 {
		t.Fatalf("failed opportunity was not logged with its id")
	}
}

func TestJobRunSkipsKnownOpportunities(t *testing.T) {
	f := newFixture(t)
	acme := &fakeSite{name: "acme", ids: []string{"1", "2"}}
	reg := registry(t, acme)

	first := NewJob(f.services).Run(context.Background(), reg)
	if first.Sources[0].Status != StatusOK {
		t.Fatalf("first run: %+v", first.Sources[0])
	}
	generated := f.client.count("opportunity-service")

	acme.ids = []string{"1", "2", "3"}
	var asked []string
	confirm := func(_ context.Context, _ string, ids []string) (bool, error) {
		asked = ids
		return true, nil
	}
	second := NewJob(f.services, WithConfirm(confirm)).Run(context.Background(), reg)

	if !reflect.DeepEqual(asked, []string{"3"}) {
		t.Fatalf("expected only the new id to be confirmed, got %v", asked)
	}
	if second.Sources[0].Synced != 1 || f.store.Len(entity.KindOpportunity) != 3 {
		t.Fatalf("unexpected second run: %+v", second.Sources[0])
	}
	if f.client.count("opportunity-service") != generated+1 {
		t.Fatalf("known opportunities were generated again")
	}
	if f.client.count("company-service") != 1 {
		t.Fatalf("company should come from the cache on the second run")
	}
}

func TestJobRunDeclined(t *testing.T) {
	f := newFixture(t)
	decline := func(context.Context, string, []string) (bool, error) { return false, nil }
	report := NewJob(f.services, WithConfirm(decline)).Run(context.Background(),
		registry(t, &fakeSite{name: "acme", ids: []string{"1"}}))

	if report.Sources[0].Status != StatusDeclined {
		t.Fatalf("expected declined, got %+v", report.Sources[0])
	}
	if f.store.Len(entity.KindCompany) != 0 || f.client.count("company-service") != 0 {
		t.Fatalf("declined source must not spend on the LLM")
	}
}

func TestGetOrCreateOpportunitiesRequiresCompany(t *testing.T) {
	f := newFixture(t)
	_, err := f.services.Opportunities.GetOrCreateOpportunities(context.Background(), &fakeSite{name: "acme"}, nil, []string{"1"})
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestNamesSkipBlank(t *testing.T) {
	f := newFixture(t)
	got, err := f.services.Locations.GetOrCreate(context.Background(), []string{"", "Berlin", "  "})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if got[0] != nil || got[2] != nil || got[1] == nil || got[1].String("name") != "Berlin" {
		t.Fatalf("unexpected records %+v", got)
	}
}
