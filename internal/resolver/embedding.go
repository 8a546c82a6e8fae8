package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/agent"
	"github.com/spigell/career-sync/internal/cache"
	"github.com/spigell/career-sync/internal/entity"
	"github.com/spigell/career-sync/internal/errs"
	"github.com/spigell/career-sync/internal/logger"
	"github.com/spigell/career-sync/internal/metrics"
	"github.com/spigell/career-sync/internal/search"
	"github.com/spigell/career-sync/internal/store"
	"github.com/spigell/career-sync/internal/tracing"
)

// EmbeddingService resolves free-text keys to records of one Embeddable
// kind, creating records the finder cannot match.
type EmbeddingService struct {
	typ      entity.Embeddable
	deps     Deps
	cache    *cache.Service
	searcher *search.Searcher
	finder   *agent.Finder
	opts     options
	logger   *zap.Logger
}

func NewEmbeddingService(typ entity.Embeddable, deps Deps, opts ...Option) (*EmbeddingService, error) {
	if err := deps.validate(typ.Kind()); err != nil {
		return nil, err
	}
	if deps.Embedder == nil {
		return nil, fmt.Errorf("resolver %s: missing embedder", typ.Kind())
	}

	o := newOptions(opts)
	log := logger.ForEntity(deps.logger(), "resolver", string(typ.Kind()))

	finder, err := agent.NewFinder(deps.Client, typ, append([]agent.Option{agent.WithLogger(log)}, o.agentOpts...)...)
	if err != nil {
		return nil, err
	}

	prefix := o.cachePrefix
	if prefix == "" {
		prefix = string(typ.Kind())
	}

	return &EmbeddingService{
		typ:      typ,
		deps:     deps,
		cache:    deps.Cache.WithPrefix(prefix),
		searcher: search.New(deps.Store, append([]search.Option{search.WithLogger(log)}, o.searchOpts...)...),
		finder:   finder,
		opts:     o,
		logger:   log,
	}, nil
}

func (s *EmbeddingService) Kind() entity.Kind {
	return s.typ.Kind()
}

// ResolveOrCreate returns one record per key in input order. defaults may be
// nil; otherwise it must match keys and is merged into created records.
// Keys that cannot be resolved are reported through a *KeyError while the
// other positions are still filled.
func (s *EmbeddingService) ResolveOrCreate(ctx context.Context, keys []string, defaults []entity.Defaults) ([]*entity.Record, error) {
	kind := string(s.typ.Kind())
	if err := checkDefaults("resolve "+kind, s.typ, len(keys), defaults); err != nil {
		s.deps.Metrics.Failed(kind, err)
		return nil, err
	}
	if len(keys) == 0 {
		return nil, nil
	}

	ctx, span := tracing.Start(ctx, "resolver.resolve_or_create",
		attribute.String("entity", kind),
		attribute.Int("keys", len(keys)),
	)
	records, err := s.resolveOrCreate(ctx, keys, defaults)
	tracing.End(span, err)
	return records, err
}

func (s *EmbeddingService) resolveOrCreate(ctx context.Context, keys []string, defaults []entity.Defaults) ([]*entity.Record, error) {
	kind := string(s.typ.Kind())

	cached := cachedRecords(s.cache.GetCachedValues(ctx, keys), keys, s.logger)
	pending, first := pendingKeys(keys, cached)
	s.deps.Metrics.Resolved(kind, metrics.OutcomeCached, len(keys)-countMissing(cached))

	resolved := map[string]*entity.Record{}
	failures := map[string]error{}
	if len(pending) > 0 {
		pendingDefaults := make([]entity.Defaults, len(pending))
		for j, i := range first {
			pendingDefaults[j] = defaultsAt(defaults, i)
		}

		start := time.Now()
		err := retry(ctx, s.opts.retry, s.logger, func() error {
			out, err := s.resolve(ctx, pending, pendingDefaults)
			if err != nil {
				return err
			}
			resolved = out
			return nil
		})
		s.deps.Metrics.Since(kind, "resolve", start)

		if err != nil {
			s.logger.Error("batch resolution failed",
				zap.Strings("keys", pending),
				zap.String("error_kind", errs.Kind(err)),
				zap.Error(err),
			)
			s.deps.Metrics.Failed(kind, err)
			for _, key := range pending {
				failures[key] = err
			}
		} else {
			writeBack(ctx, s.cache, resolved, s.logger)
		}
	}

	return assemble(s.typ.Kind(), keys, cached, resolved, failures)
}

// resolve runs embed, search, finder and persistence for distinct keys.
func (s *EmbeddingService) resolve(ctx context.Context, keys []string, defaults []entity.Defaults) (map[string]*entity.Record, error) {
	kind := s.typ.Kind()

	vectors, err := s.deps.Embedder.Embed(ctx, keys)
	if err != nil {
		return nil, fmt.Errorf("embed keys: %w", err)
	}
	if len(vectors) != len(keys) {
		return nil, &errs.ProviderError{Provider: s.deps.Embedder.Provider(), Op: "embed",
			Err: fmt.Errorf("%d vectors for %d keys", len(vectors), len(keys))}
	}

	candidates := make([][]search.Candidate, len(keys))
	tags := make([][]string, len(keys))
	for i, vec := range vectors {
		found, err := s.searcher.FindSimilar(ctx, kind, vec, s.opts.k, s.opts.threshold)
		if err != nil {
			return nil, err
		}
		candidates[i] = found
		tags[i] = []string{"embedding-service", s.typ.Name(), keys[i]}
	}

	resolutions, metas, err := s.finder.Execute(ctx, keys, candidates, tags)
	if err != nil {
		return nil, err
	}
	s.deps.Metrics.Tokens(metas...)

	out := make(map[string]*entity.Record, len(keys))
	var writes []pendingWrite
	existing := 0
	for i, res := range resolutions {
		if res.IsExisting() {
			rec, err := s.deps.Store.FindByID(ctx, kind, *res.ExistingID)
			if errors.Is(err, store.ErrNotFound) {
				return nil, fmt.Errorf("key %q: selected %s %d no longer exists: %w", keys[i], kind, *res.ExistingID, err)
			}
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", keys[i], err)
			}
			out[keys[i]] = rec
			existing++
			continue
		}

		rec, err := s.typ.FromSpec(res.Spec, defaults[i])
		if err != nil {
			return nil, fmt.Errorf("key %q: %w", keys[i], err)
		}
		writes = append(writes, stage(s.typ, rec, keys[i]))
	}

	if err := embedAll(ctx, s.deps.Embedder, s.typ, writes); err != nil {
		return nil, err
	}
	created, err := persistAll(ctx, s.deps.Store, kind, writes, out)
	if err != nil {
		return nil, err
	}

	s.deps.Metrics.Resolved(string(kind), metrics.OutcomeExisting, existing)
	s.deps.Metrics.Resolved(string(kind), metrics.OutcomeCreated, len(created))
	s.logger.Info("keys resolved",
		zap.Int("keys", len(keys)),
		zap.Int("existing", existing),
		zap.Int("created", len(created)),
	)
	return out, nil
}

func countMissing(records []*entity.Record) int {
	n := 0
	for _, rec := range records {
		if rec == nil {
			n++
		}
	}
	return n
}
