package ingest

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/careersite"
	"github.com/spigell/career-sync/internal/cache"
	"github.com/spigell/career-sync/internal/entity"
	"github.com/spigell/career-sync/internal/errs"
	"github.com/spigell/career-sync/internal/filtering"
	"github.com/spigell/career-sync/internal/resolver"
)

type OpportunityService struct {
	svc        *resolver.GenerativeService
	locations  *LocationService
	categories *CategoryService
	logger     *zap.Logger
}

// Batch is the outcome of one GetOrCreateOpportunities call. Failed maps
// upstream ids to the error that stopped them.
type Batch struct {
	Records []*entity.Record
	Failed  map[string]error
}

// Cache is the opportunity cache, keyed by filtering.CacheKey.
func (s *OpportunityService) Cache() *cache.Service {
	return s.svc.Cache()
}

// GetOrCreateOpportunities resolves the postings ids of client under
// company. Failures are isolated per id; the returned error is reserved
// for failures that affect the whole batch.
func (s *OpportunityService) GetOrCreateOpportunities(ctx context.Context, client careersite.Client, company *entity.Record, ids []string) (*Batch, error) {
	if company == nil {
		return nil, errs.Validationf("opportunities", "company is required")
	}
	employer, err := entity.Decode[entity.CompanySpec](company)
	if err != nil {
		return nil, err
	}
	source := client.Name()
	log := s.logger
	if log == nil {
		log = zap.NewNop()
	}

	batch := &Batch{Failed: map[string]error{}}
	var (
		kept    []string
		details []*careersite.OpportunityDetail
	)
	for _, id := range ids {
		detail, err := client.OpportunityDetail(ctx, id)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			log.Error("fetching opportunity failed", zap.String("source", source), zap.String("id", id), zap.Error(err))
			batch.Failed[id] = err
			continue
		}
		kept = append(kept, id)
		details = append(details, detail)
	}
	if len(kept) == 0 {
		return batch, nil
	}

	locationNames := make([]string, len(details))
	categoryNames := make([]string, len(details))
	for i, d := range details {
		locationNames[i] = d.LocationName
		categoryNames[i] = d.CategoryName
	}
	locations, err := s.locations.GetOrCreate(ctx, locationNames)
	if err = tolerateUnresolved(log, source, err); err != nil {
		return nil, err
	}
	categories, err := s.categories.GetOrCreate(ctx, categoryNames)
	if err = tolerateUnresolved(log, source, err); err != nil {
		return nil, err
	}

	raw := make([]map[string]any, len(kept))
	keys := make([]string, len(kept))
	defaults := make([]entity.Defaults, len(kept))
	tags := make([][]string, len(kept))
	for i, id := range kept {
		r := map[string]any{
			"company_description": employer.Description,
			"company":  employer.Name,
			"location": details[i].LocationName,
			"category": details[i].CategoryName,
		}
		for k, v := range details[i].Extra {
			if _, ok := r[k]; !ok {
				r[k] = v
			}
		}
		raw[i] = r
		keys[i] = filtering.CacheKey(source, id)
		defaults[i] = entity.Defaults{
			"company_id":   company.ID,
			"location_id":  idOf(locations[i]),
			"category_id":  idOf(categories[i]),
			"reference_id": id,
			"source":       source,
		}
		tags[i] = []string{"opportunity-service", source, id}
	}

	records, err := s.svc.GenerateFromRawData(ctx, raw, keys, defaults, tags)
	var keyErr *resolver.KeyError
	if err != nil && !errors.As(err, &keyErr) {
		return nil, err
	}
	for i, rec := range records {
		if rec != nil {
			batch.Records = append(batch.Records, rec)
			continue
		}
		cause := errs.ErrUnresolved
		if keyErr != nil && keyErr.Failed[keys[i]] != nil {
			cause = keyErr.Failed[keys[i]]
		}
		log.Error("opportunity not synced",
			zap.String("source", source),
			zap.String("id", kept[i]),
			zap.String("error_kind", errs.Kind(cause)),
			zap.Error(cause),
		)
		batch.Failed[kept[i]] = cause
	}
	return batch, nil
}

// tolerateUnresolved drops per-name relation failures. The postings keep a
// nil relation id instead.
func tolerateUnresolved(log *zap.Logger, source string, err error) error {
	var keyErr *resolver.KeyError
	if err == nil || !errors.As(err, &keyErr) {
		return err
	}
	log.Warn("relations left unresolved",
		zap.String("source", source),
		zap.String("kind", string(keyErr.Kind)),
		zap.Strings("names", keyErr.Keys()),
	)
	return nil
}
