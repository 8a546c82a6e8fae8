// Package ingest turns career-site data into resolved records: relation
// lookups go through the embedding services, companies and opportunities
// through the generative ones.
package ingest

import (
	"context"
	"fmt"
	"strings"

	"github.com/spigell/career-sync/internal/agent"
	"github.com/spigell/career-sync/internal/bulk"
	"github.com/spigell/career-sync/internal/entity"
	"github.com/spigell/career-sync/internal/resolver"
)

// names resolves free-text names of one kind. Blank names are skipped and
// yield nil at their position.
type names struct {
	svc *resolver.EmbeddingService
}

func (n names) GetOrCreate(ctx context.Context, values []string) ([]*entity.Record, error) {
	keys := make([]string, 0, len(values))
	pos := make([]int, 0, len(values))
	for i, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		keys = append(keys, v)
		pos = append(pos, i)
	}

	out := make([]*entity.Record, len(values))
	if len(keys) == 0 {
		return out, nil
	}
	records, err := n.svc.ResolveOrCreate(ctx, keys, nil)
	for j, rec := range records {
		out[pos[j]] = rec
	}
	return out, err
}

// GetOrCreateOne resolves a single name. A blank name returns nil, nil.
func (n names) GetOrCreateOne(ctx context.Context, value string) (*entity.Record, error) {
	records, err := n.GetOrCreate(ctx, []string{value})
	if err != nil {
		return nil, err
	}
	return records[0], nil
}

type LocationService struct{ names }

type PerkService struct{ names }

type CategoryService struct{ names }

// Services bundles the domain services of one job run.
type Services struct {
	Locations     *LocationService
	Perks         *PerkService
	Categories    *CategoryService
	Companies     *CompanyService
	Opportunities *OpportunityService
}

// NewServices builds every domain service over deps. Opportunities are
// generated best-effort so one bad posting does not fail its batch.
func NewServices(deps resolver.Deps, opts ...resolver.Option) (*Services, error) {
	embedding := func(typ entity.Embeddable) (names, error) {
		svc, err := resolver.NewEmbeddingService(typ, deps, opts...)
		if err != nil {
			return names{}, fmt.Errorf("%s service: %w", typ.Kind(), err)
		}
		return names{svc: svc}, nil
	}

	locations, err := embedding(entity.Location)
	if err != nil {
		return nil, err
	}
	perks, err := embedding(entity.Perk)
	if err != nil {
		return nil, err
	}
	categories, err := embedding(entity.JobCategory)
	if err != nil {
		return nil, err
	}

	s := &Services{
		Locations:  &LocationService{locations},
		Perks:      &PerkService{perks},
		Categories: &CategoryService{categories},
	}

	companies, err := resolver.NewGenerativeService(entity.Company, deps, opts...)
	if err != nil {
		return nil, fmt.Errorf("company service: %w", err)
	}
	s.Companies = &CompanyService{svc: companies, locations: s.Locations, perks: s.Perks}

	bestEffort := append(append([]resolver.Option(nil), opts...),
		resolver.WithAgentOptions(agent.WithPolicy(bulk.BestEffort)))
	opportunities, err := resolver.NewGenerativeService(entity.Opportunity, deps, bestEffort...)
	if err != nil {
		return nil, fmt.Errorf("opportunity service: %w", err)
	}
	s.Opportunities = &OpportunityService{
		svc:        opportunities,
		locations:  s.Locations,
		categories: s.Categories,
		logger:     deps.Logger,
	}

	return s, nil
}

func idOf(rec *entity.Record) any {
	if rec == nil {
		return nil
	}
	return rec.ID
}
