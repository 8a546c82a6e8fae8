package candoo

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spigell/career-sync/internal/cache"
	"github.com/spigell/career-sync/internal/entity"
)

type fakeCandoo struct {
	mu   sync.Mutex
	hits map[string]int
}

func (f *fakeCandoo) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.hits[r.URL.Path]++
	f.mu.Unlock()

	if r.Header.Get("address") != "https://careers.example.com" || r.Header.Get("careerauthkey") != "key" {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var data any
	switch {
	case r.URL.Path == headerFooterPath:
		data = map[string]any{"companyName": "Example"}
	case r.URL.Path == aboutUsPath:
		data = map[string]any{"text": "We build things"}
	case r.URL.Path == benefitsPath:
		data = map[string]any{"companyBenefitModuleDetailsList": []map[string]any{
			{"benefitId": 13}, {"benefitId": 99}, {"benefitId": 26},
		}}
	case r.URL.Path == jobListPath && r.Method == http.MethodPost:
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["take"] != float64(5) {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		data = map[string]any{"jobs": []map[string]any{{"jobGuid": "g-1"}, {"jobGuid": ""}, {"jobGuid": "g-2"}}}
	case strings.HasPrefix(r.URL.Path, jobDetailPath):
		data = map[string]any{"cityName": "Tehran", "departmentName": "Engineering", "title": "Go developer"}
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
	_ = json.NewEncoder(w).Encode(map[string]any{"data": data})
}

func newTestClient(t *testing.T) (*Client, *fakeCandoo) {
	t.Helper()
	fake := &fakeCandoo{hits: map[string]int{}}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)

	responses := cache.New(cache.NewMemoryBackend(64, 48*time.Hour), "responses")
	c, err := New(Config{
		Name:     "example",
		Address:  "https://careers.example.com",
		AuthKey:  "key",
		Company:  "Example Co",
		Size:     "large",
		Location: "Tehran",
		PageSize: 5,
		BaseURL:  srv.URL,
	}, responses, nil)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	return c, fake
}

func TestCompanyInfo(t *testing.T) {
	c, _ := newTestClient(t)

	info, err := c.CompanyInfo(context.Background())
	if err != nil {
		t.Fatalf("company info: %v", err)
	}
	if info.Name != "Example Co" || info.Size != entity.SizeLarge || info.LocationName != "Tehran" {
		t.Fatalf("unexpected info %+v", info)
	}
	if len(info.Perks) != 2 || info.Perks[0] != "Remote work" || info.Perks[1] != "Food and lunch" {
		t.Fatalf("unexpected perks %v", info.Perks)
	}
	if _, ok := info.Extra["about_us"]; !ok {
		t.Fatalf("about us missing from extra")
	}
}

func TestOpportunities(t *testing.T) {
	c, _ := newTestClient(t)
	ctx := context.Background()

	ids, err := c.OpportunityIDs(ctx)
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	if len(ids) != 2 || ids[0] != "g-1" || ids[1] != "g-2" {
		t.Fatalf("unexpected ids %v", ids)
	}

	detail, err := c.OpportunityDetail(ctx, "g-1")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.LocationName != "Tehran" || detail.CategoryName != "Engineering" {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if detail.Extra["job_page"] != "https://careers.example.com/job-detail/g-1" {
		t.Fatalf("unexpected job page %v", detail.Extra["job_page"])
	}
}

func TestResponsesAreCached(t *testing.T) {
	c, fake := newTestClient(t)
	ctx := context.Background()

	for range 3 {
		if _, err := c.OpportunityIDs(ctx); err != nil {
			t.Fatalf("ids: %v", err)
		}
	}
	if fake.hits[jobListPath] != 1 {
		t.Fatalf("expected one upstream call, got %d", fake.hits[jobListPath])
	}
}

func TestNewRequiresAuthKey(t *testing.T) {
	responses := cache.New(cache.NewMemoryBackend(1, time.Hour), "r")
	if _, err := New(Config{Name: "x", Address: "https://x"}, responses, nil); err == nil {
		t.Fatalf("expected missing auth key to fail")
	}
}
