package ingest

import (
	"context"
	"fmt"

	"github.com/spigell/career-sync/internal/careersite"
	"github.com/spigell/career-sync/internal/entity"
	"github.com/spigell/career-sync/internal/resolver"
)

type CompanyService struct {
	svc       *resolver.GenerativeService
	locations *LocationService
	perks     *PerkService
}

// GetOrCreateCompany returns the company behind client. Its location and
// perks are resolved first and passed to the generator as defaults.
func (s *CompanyService) GetOrCreateCompany(ctx context.Context, client careersite.Client) (*entity.Record, error) {
	info, err := client.CompanyInfo(ctx)
	if err != nil {
		return nil, fmt.Errorf("company info: %w", err)
	}

	perks, err := s.perks.GetOrCreate(ctx, info.Perks)
	if err != nil {
		return nil, fmt.Errorf("company perks: %w", err)
	}
	perkIDs := make([]int64, 0, len(perks))
	for _, p := range perks {
		if p != nil {
			perkIDs = append(perkIDs, p.ID)
		}
	}

	location, err := s.locations.GetOrCreateOne(ctx, info.LocationName)
	if err != nil {
		return nil, fmt.Errorf("company location: %w", err)
	}

	raw := map[string]any{
		"name":     info.Name,
		"size":     info.Size,
		"location": info.LocationName,
		"perks":    info.Perks,
		"source":   client.Name(),
	}
	for k, v := range info.Extra {
		if _, ok := raw[k]; !ok {
			raw[k] = v
		}
	}

	defaults := entity.Defaults{
		"name":     info.Name,
		"size":     info.Size,
		"perk_ids": perkIDs,
	}
	if location != nil {
		defaults["location_id"] = location.ID
	}

	records, err := s.svc.GenerateFromRawData(ctx,
		[]map[string]any{raw},
		[]string{client.Name()},
		[]entity.Defaults{defaults},
		[][]string{{"company-service", client.Name()}},
	)
	if err != nil {
		return nil, err
	}
	return records[0], nil
}
