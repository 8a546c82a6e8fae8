// Package careersite defines the contract of the external career pages the
// ingestion job reads, and the registry that holds them for one run.
package careersite

import (
	"context"
	"fmt"
	"sort"

	"github.com/spigell/career-sync/internal/entity"
)

// CompanyInfo describes the employer behind a career site. Extra carries
// raw upstream data for the generator.
type CompanyInfo struct {
	Name         string             `json:"name"`
	Size         entity.CompanySize `json:"size"`
	LocationName string             `json:"location_name"`
	Perks        []string           `json:"perks"`
	Extra        map[string]any     `json:"extra"`
}

// OpportunityDetail is one job posting as published upstream.
type OpportunityDetail struct {
	LocationName string         `json:"location_name"`
	CategoryName string         `json:"category_name"`
	Extra        map[string]any `json:"extra"`
}

type Client interface {
	// Name identifies the source in logs, metrics and natural keys.
	Name() string
	CompanyInfo(ctx context.Context) (*CompanyInfo, error)
	OpportunityIDs(ctx context.Context) ([]string, error)
	OpportunityDetail(ctx context.Context, id string) (*OpportunityDetail, error)
}

// Registry is the set of sources of one job run.
type Registry struct {
	clients map[string]Client
	order   []string
}

func NewRegistry(clients ...Client) (*Registry, error) {
	r := &Registry{clients: map[string]Client{}}
	for _, c := range clients {
		if err := r.Register(c); err != nil {
			return nil, err
		}
	}
	return r, nil
}

func (r *Registry) Register(c Client) error {
	name := c.Name()
	if name == "" {
		return fmt.Errorf("career site without a name")
	}
	if _, ok := r.clients[name]; ok {
		return fmt.Errorf("career site %q registered twice", name)
	}
	r.clients[name] = c
	r.order = append(r.order, name)
	return nil
}

// Clients returns the sources in registration order.
func (r *Registry) Clients() []Client {
	out := make([]Client, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.clients[name])
	}
	return out
}

func (r *Registry) Get(name string) (Client, bool) {
	c, ok := r.clients[name]
	return c, ok
}

func (r *Registry) Len() int {
	return len(r.order)
}

// Select returns a registry restricted to names. An empty list selects all.
func (r *Registry) Select(names ...string) (*Registry, error) {
	if len(names) == 0 {
		return r, nil
	}
	selected := &Registry{clients: map[string]Client{}}
	for _, name := range names {
		c, ok := r.clients[name]
		if !ok {
			return nil, fmt.Errorf("unknown career site %q (known: %v)", name, r.Names())
		}
		if err := selected.Register(c); err != nil {
			return nil, err
		}
	}
	return selected, nil
}

// Names returns the registered names sorted.
func (r *Registry) Names() []string {
	names := append([]string(nil), r.order...)
	sort.Strings(names)
	return names
}
