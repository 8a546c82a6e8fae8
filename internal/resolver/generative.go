package resolver

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/agent"
	"github.com/spigell/career-sync/internal/cache"
	"github.com/spigell/career-sync/internal/entity"
	"github.com/spigell/career-sync/internal/errs"
	"github.com/spigell/career-sync/internal/logger"
	"github.com/spigell/career-sync/internal/metrics"
	"github.com/spigell/career-sync/internal/tracing"
)

// GenerativeService synthesizes records of one Generatable kind from raw
// upstream data, keyed by caller-chosen cache keys.
type GenerativeService struct {
	typ       entity.Generatable
	embedding entity.Embeddable
	deps      Deps
	cache     *cache.Service
	generator *agent.Generator
	opts      options
	logger    *zap.Logger
}

func NewGenerativeService(typ entity.Generatable, deps Deps, opts ...Option) (*GenerativeService, error) {
	if err := deps.validate(typ.Kind()); err != nil {
		return nil, err
	}

	o := newOptions(opts)
	log := logger.ForEntity(deps.logger(), "generator", string(typ.Kind()))

	gen, err := agent.NewGenerator(deps.Client, typ, append([]agent.Option{agent.WithLogger(log)}, o.agentOpts...)...)
	if err != nil {
		return nil, err
	}

	prefix := o.cachePrefix
	if prefix == "" {
		prefix = string(typ.Kind())
	}

	// Generated kinds that are also embeddable get their summary embedded.
	embedding, _ := typ.(entity.Embeddable)

	return &GenerativeService{
		typ:       typ,
		embedding: embedding,
		deps:      deps,
		cache:     deps.Cache.WithPrefix(prefix),
		generator: gen,
		opts:      o,
		logger:    log,
	}, nil
}

func (s *GenerativeService) Kind() entity.Kind {
	return s.typ.Kind()
}

// Cache returns the cache namespace of the service.
func (s *GenerativeService) Cache() *cache.Service {
	return s.cache
}

// GenerateFromRawData returns one record per raw record in input order.
// raw and cacheKeys must have the same length, as must defaults and tags
// when given; mismatches fail before any network call.
func (s *GenerativeService) GenerateFromRawData(ctx context.Context, raw []map[string]any, cacheKeys []string, defaults []entity.Defaults, tags [][]string) ([]*entity.Record, error) {
	kind := string(s.typ.Kind())
	op := "generate " + kind
	err := func() error {
		if len(cacheKeys) != len(raw) {
			return errs.Validationf(op, "%d cache keys for %d records", len(cacheKeys), len(raw))
		}
		if tags != nil && len(tags) != len(raw) {
			return errs.Validationf(op, "%d tag sets for %d records", len(tags), len(raw))
		}
		return checkDefaults(op, s.typ, len(raw), defaults)
	}()
	if err != nil {
		s.deps.Metrics.Failed(kind, err)
		return nil, err
	}
	if len(raw) == 0 {
		return nil, nil
	}

	ctx, span := tracing.Start(ctx, "resolver.generate_from_raw_data",
		attribute.String("entity", kind),
		attribute.Int("records", len(raw)),
	)
	records, err := s.generate(ctx, raw, cacheKeys, defaults, tags)
	tracing.End(span, err)
	return records, err
}

func (s *GenerativeService) generate(ctx context.Context, raw []map[string]any, keys []string, defaults []entity.Defaults, tags [][]string) ([]*entity.Record, error) {
	kind := string(s.typ.Kind())

	cached := cachedRecords(s.cache.GetCachedValues(ctx, keys), keys, s.logger)
	pending, first := pendingKeys(keys, cached)
	s.deps.Metrics.Resolved(kind, metrics.OutcomeCached, len(keys)-countMissing(cached))

	resolved := map[string]*entity.Record{}
	failures := map[string]error{}
	if len(pending) > 0 {
		pendingRaw := make([]map[string]any, len(pending))
		pendingDefaults := make([]entity.Defaults, len(pending))
		var pendingTags [][]string
		if tags != nil {
			pendingTags = make([][]string, len(pending))
		}
		for j, i := range first {
			pendingRaw[j] = raw[i]
			pendingDefaults[j] = defaultsAt(defaults, i)
			if tags != nil {
				pendingTags[j] = tags[i]
			}
		}

		start := time.Now()
		err := retry(ctx, s.opts.retry, s.logger, func() error {
			out, failed, err := s.synthesize(ctx, pending, pendingRaw, pendingDefaults, pendingTags)
			if err != nil {
				return err
			}
			resolved, failures = out, failed
			return nil
		})
		s.deps.Metrics.Since(kind, "generate", start)

		if err != nil {
			s.logger.Error("batch generation failed",
				zap.Strings("keys", pending),
				zap.String("error_kind", errs.Kind(err)),
				zap.Error(err),
			)
			s.deps.Metrics.Failed(kind, err)
			for _, key := range pending {
				failures[key] = err
			}
		} else {
			for key, ferr := range failures {
				s.logger.Warn("record not generated", zap.String("key", key), zap.Error(ferr))
				s.deps.Metrics.Failed(kind, ferr)
			}
			writeBack(ctx, s.cache, resolved, s.logger)
		}
	}

	return assemble(s.typ.Kind(), keys, cached, resolved, failures)
}

// synthesize generates and persists pending records. Records that fail on
// their own are returned in failed; a batch failure is returned as err.
func (s *GenerativeService) synthesize(ctx context.Context, keys []string, raw []map[string]any, defaults []entity.Defaults, tags [][]string) (map[string]*entity.Record, map[string]error, error) {
	generated, metas, err := s.generator.Execute(ctx, raw, tags)
	var partial *agent.PartialError
	if err != nil && !errors.As(err, &partial) {
		return nil, nil, err
	}
	s.deps.Metrics.Tokens(metas...)

	out := make(map[string]*entity.Record, len(keys))
	failed := map[string]error{}
	var writes []pendingWrite
	for i, g := range generated {
		if partial != nil && partial.Errs[i] != nil {
			failed[keys[i]] = partial.Errs[i]
			continue
		}

		rec, err := s.typ.FromGenerated(g, defaults[i])
		if err != nil {
			failed[keys[i]] = err
			continue
		}
		writes = append(writes, stage(s.typ, rec, keys[i]))
	}

	if err := embedAll(ctx, s.deps.Embedder, s.embedding, writes); err != nil {
		return nil, nil, err
	}
	created, err := persistAll(ctx, s.deps.Store, s.typ.Kind(), writes, out)
	if err != nil {
		return nil, nil, err
	}

	s.deps.Metrics.Resolved(string(s.typ.Kind()), metrics.OutcomeCreated, len(created))
	s.logger.Info("records generated",
		zap.Int("records", len(keys)),
		zap.Int("created", len(created)),
		zap.Int("failed", len(failed)),
	)
	return out, failed, nil
}
