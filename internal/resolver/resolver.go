// Package resolver implements the get-or-create orchestrators: keys and raw
// records are resolved through the cache, similarity search and the LLM
// agents, persisted, and written back to the cache.
package resolver

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/agent"
	"github.com/spigell/career-sync/internal/cache"
	"github.com/spigell/career-sync/internal/entity"
	"github.com/spigell/career-sync/internal/errs"
	"github.com/spigell/career-sync/internal/llm"
	"github.com/spigell/career-sync/internal/metrics"
	"github.com/spigell/career-sync/internal/search"
	"github.com/spigell/career-sync/internal/store"
)

// RetryConfig bounds the orchestrator-level retry of provider failures.
type RetryConfig struct {
	MaxAttempts     int           `mapstructure:"max-attempts"`
	InitialInterval time.Duration `mapstructure:"initial-interval"`
	MaxInterval     time.Duration `mapstructure:"max-interval"`
}

func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, InitialInterval: time.Second, MaxInterval: 30 * time.Second}
}

// Deps are the collaborators shared by every service.
type Deps struct {
	Store    store.Store
	Cache    *cache.Service
	Embedder llm.Embedder
	Client   llm.StructuredClient
	Metrics  *metrics.Metrics
	Logger   *zap.Logger
}

type options struct {
	k           int
	threshold   float64
	retry       RetryConfig
	agentOpts   []agent.Option
	searchOpts  []search.Option
	cachePrefix string
}

type Option func(*options)

// WithSearch sets how many candidates within which cosine distance are
// shown to the finder.
func WithSearch(k int, threshold float64) Option {
	return func(o *options) {
		if k > 0 {
			o.k = k
		}
		if threshold > 0 {
			o.threshold = threshold
		}
	}
}

func WithRetry(cfg RetryConfig) Option {
	return func(o *options) { o.retry = cfg }
}

func WithAgentOptions(opts ...agent.Option) Option {
	return func(o *options) { o.agentOpts = append(o.agentOpts, opts...) }
}

func WithSearchOptions(opts ...search.Option) Option {
	return func(o *options) { o.searchOpts = append(o.searchOpts, opts...) }
}

// WithCachePrefix overrides the cache namespace, which defaults to the kind.
func WithCachePrefix(prefix string) Option {
	return func(o *options) { o.cachePrefix = prefix }
}

func newOptions(opts []Option) options {
	o := options{
		k:         search.DefaultK,
		threshold: search.DefaultThreshold,
		retry:     DefaultRetryConfig(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (d Deps) validate(kind entity.Kind) error {
	var missing []string
	if d.Store == nil {
		missing = append(missing, "store")
	}
	if d.Cache == nil {
		missing = append(missing, "cache")
	}
	if d.Client == nil {
		missing = append(missing, "llm client")
	}
	if len(missing) > 0 {
		return fmt.Errorf("resolver %s: missing %s", kind, strings.Join(missing, ", "))
	}
	return nil
}

func (d Deps) logger() *zap.Logger {
	if d.Logger == nil {
		return zap.NewNop()
	}
	return d.Logger
}

// KeyError lists the keys that were neither cached nor resolved. The
// returned records hold nil at their positions.
type KeyError struct {
	Kind   entity.Kind
	Failed map[string]error
}

func (e *KeyError) Error() string {
	keys := e.Keys()
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		parts = append(parts, fmt.Sprintf("%q: %v", key, e.Failed[key]))
	}
	return fmt.Sprintf("%s: %d keys unresolved: %s", e.Kind, len(keys), strings.Join(parts, "; "))
}

// Keys returns the failed keys sorted.
func (e *KeyError) Keys() []string {
	keys := make([]string, 0, len(e.Failed))
	for key := range e.Failed {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func (e *KeyError) Unwrap() []error {
	out := []error{errs.ErrUnresolved}
	for _, key := range e.Keys() {
		out = append(out, e.Failed[key])
	}
	return out
}

// retry runs op with bounded exponential backoff. Only errors classified
// as retryable are repeated.
func retry(ctx context.Context, cfg RetryConfig, logger *zap.Logger, op func() error) error {
	b := backoff.NewExponentialBackOff()
	if cfg.InitialInterval > 0 {
		b.InitialInterval = cfg.InitialInterval
	}
	if cfg.MaxInterval > 0 {
		b.MaxInterval = cfg.MaxInterval
	}
	b.MaxElapsedTime = 0

	attempts := cfg.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(attempts-1)), ctx)

	return backoff.RetryNotify(func() error {
		err := op()
		if err != nil && !errs.Retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}, policy, func(err error, wait time.Duration) {
		logger.Warn("retrying batch",
			zap.String("error_kind", errs.Kind(err)),
			zap.Duration("wait", wait),
			zap.Error(err),
		)
	})
}

func encodeRecord(rec *entity.Record) ([]byte, error) {
	return json.Marshal(rec)
}

// cachedRecords decodes cache hits. Undecodable entries count as misses.
func cachedRecords(values [][]byte, keys []string, logger *zap.Logger) []*entity.Record {
	out := make([]*entity.Record, len(values))
	for i, raw := range values {
		if raw == nil {
			continue
		}
		var rec entity.Record
		if err := json.Unmarshal(raw, &rec); err != nil || rec.ID == 0 {
			logger.Warn("ignoring undecodable cache entry", zap.String("key", keys[i]), zap.Error(err))
			continue
		}
		out[i] = &rec
	}
	return out
}

// writeBack caches resolved records under their input keys.
func writeBack(ctx context.Context, c *cache.Service, resolved map[string]*entity.Record, logger *zap.Logger) {
	keys := make([]string, 0, len(resolved))
	values := make([][]byte, 0, len(resolved))
	for key, rec := range resolved {
		raw, err := encodeRecord(rec)
		if err != nil {
			logger.Warn("record is not cacheable", zap.String("key", key), zap.Error(err))
			continue
		}
		keys = append(keys, key)
		values = append(values, raw)
	}
	if err := c.SetCacheValues(ctx, keys, values); err != nil {
		logger.Warn("cache write-back incomplete", zap.Error(err))
	}
}

// assemble returns records for every input key in input order.
func assemble(kind entity.Kind, keys []string, cached []*entity.Record, resolved map[string]*entity.Record, failures map[string]error) ([]*entity.Record, error) {
	out := make([]*entity.Record, len(keys))
	failed := map[string]error{}
	for i, key := range keys {
		switch {
		case cached[i] != nil:
			out[i] = cached[i]
		case resolved[key] != nil:
			out[i] = resolved[key]
		default:
			cause := failures[key]
			if cause == nil {
				cause = errs.ErrUnresolved
			}
			failed[key] = cause
		}
	}
	if len(failed) > 0 {
		return out, &KeyError{Kind: kind, Failed: failed}
	}
	return out, nil
}

// pendingKeys returns the distinct keys without a cached record, in
// first-seen order, with the index of their first occurrence.
func pendingKeys(keys []string, cached []*entity.Record) ([]string, []int) {
	seen := map[string]bool{}
	var pending []string
	var first []int
	for i, key := range keys {
		if cached[i] != nil || seen[key] {
			continue
		}
		seen[key] = true
		pending = append(pending, key)
		first = append(first, i)
	}
	return pending, first
}

func checkDefaults(op string, typ entity.Type, n int, defaults []entity.Defaults) error {
	if defaults != nil && len(defaults) != n {
		return errs.Validationf(op, "%d default sets for %d inputs", len(defaults), n)
	}
	required := typ.RequiredDefaults()
	if len(required) == 0 {
		return nil
	}
	for i := 0; i < n; i++ {
		var d entity.Defaults
		if defaults != nil {
			d = defaults[i]
		}
		for _, name := range required {
			if v, ok := d[name]; !ok || v == nil {
				return errs.Validationf(op, "input %d is missing required default %q", i, name)
			}
		}
	}
	return nil
}

func defaultsAt(defaults []entity.Defaults, i int) entity.Defaults {
	if defaults == nil {
		return nil
	}
	return defaults[i]
}

// pendingWrite is a built record waiting to be persisted under its input key.
type pendingWrite struct {
	key string
	rec *entity.Record
}

// stage sets the natural key of rec, falling back to the input key.
func stage(typ entity.Type, rec *entity.Record, key string) pendingWrite {
	rec.NaturalKey = typ.NaturalKey(rec)
	if rec.NaturalKey == "" {
		rec.NaturalKey = strings.ToLower(strings.TrimSpace(key))
	}
	return pendingWrite{key: key, rec: rec}
}

// embedAll sets the embedding of every staged record from its embedding key
// in one batch. Nothing is written, so a failure leaves the store untouched.
func embedAll(ctx context.Context, embedder llm.Embedder, typ entity.Embeddable, writes []pendingWrite) error {
	if embedder == nil || typ == nil || len(writes) == 0 {
		return nil
	}
	texts := make([]string, len(writes))
	for i, w := range writes {
		texts[i] = typ.EmbeddingKey(w.rec)
	}
	vectors, err := embedder.Embed(ctx, texts)
	if err != nil {
		return fmt.Errorf("embed %s records: %w", typ.Kind(), err)
	}
	if len(vectors) != len(writes) {
		return &errs.ProviderError{Provider: embedder.Provider(), Op: "embed",
			Err: fmt.Errorf("%d vectors for %d texts", len(vectors), len(writes))}
	}
	for i, w := range writes {
		w.rec.Embedding = vectors[i]
	}
	return nil
}

// persistAll upserts staged records and returns them by input key together
// with the distinct rows written.
func persistAll(ctx context.Context, st store.Store, kind entity.Kind, writes []pendingWrite, out map[string]*entity.Record) ([]*entity.Record, error) {
	var written []*entity.Record
	seen := map[int64]bool{}
	for _, w := range writes {
		stored, err := st.Upsert(ctx, w.rec)
		if err != nil {
			return nil, fmt.Errorf("key %q: persist %s %q: %w", w.key, kind, w.rec.NaturalKey, err)
		}
		out[w.key] = stored
		if !seen[stored.ID] {
			seen[stored.ID] = true
			written = append(written, stored)
		}
	}
	return written, nil
}
