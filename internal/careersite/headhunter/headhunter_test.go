package headhunter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"testing"

	"github.com/spigell/career-sync/internal/entity"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/vacancies", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("employer_id") != "42" || r.URL.Query().Get("per_page") != perPage {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		items := []map[string]any{{"id": strconv.Itoa(page*10 + 1)}, {"id": strconv.Itoa(page*10 + 2), "archived": page == 1}}
		_ = json.NewEncoder(w).Encode(map[string]any{"items": items, "pages": 2, "page": page, "per_page": 100, "found": 4})
	})
	mux.HandleFunc("/vacancies/11", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id":                 "11",
			"name":               "Go developer",
			"area":               map[string]any{"id": "1", "name": "Moscow"},
			"professional_roles": []map[string]any{{"id": "96", "name": "Programmer, developer"}},
			"salary":             map[string]any{"from": 300000, "currency": "RUR"},
		})
	})
	mux.HandleFunc("/employers/42", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"id": "42", "name": "Acme", "area": map[string]any{"name": "Saint Petersburg"}, "description": "<p>Rockets</p>",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newClient(t *testing.T) *Client {
	t.Helper()
	c, err := New(Config{EmployerID: "42", Token: "token", Size: "medium", Perks: []string{"Gym"}, APIURL: newServer(t).URL}, nil)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	return c
}

func TestOpportunityIDsFollowsPages(t *testing.T) {
	c := newClient(t)
	ids, err := c.OpportunityIDs(context.Background())
	if err != nil {
		t.Fatalf("ids: %v", err)
	}
	want := []string{"1", "2", "11"}
	if len(ids) != len(want) {
		t.Fatalf("expected %v, got %v", want, ids)
	}
	for i := range want {
		if ids[i] != want[i] {
			t.Fatalf("expected %v, got %v", want, ids)
		}
	}
}

func TestOpportunityDetail(t *testing.T) {
	c := newClient(t)
	detail, err := c.OpportunityDetail(context.Background(), "11")
	if err != nil {
		t.Fatalf("detail: %v", err)
	}
	if detail.LocationName != "Moscow" || detail.CategoryName != "Programmer, developer" {
		t.Fatalf("unexpected detail %+v", detail)
	}
	if detail.Extra["name"] != "Go developer" {
		t.Fatalf("raw payload not kept: %v", detail.Extra)
	}
}

func TestCompanyInfo(t *testing.T) {
	c := newClient(t)
	info, err := c.CompanyInfo(context.Background())
	if err != nil {
		t.Fatalf("company: %v", err)
	}
	if info.Name != "Acme" || info.LocationName != "Saint Petersburg" || info.Size != entity.SizeMedium {
		t.Fatalf("unexpected info %+v", info)
	}
	if c.Name() != "hh-42" || len(info.Perks) != 1 {
		t.Fatalf("unexpected name or perks: %s %v", c.Name(), info.Perks)
	}
}
