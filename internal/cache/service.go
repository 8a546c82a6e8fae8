package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/utils"
)

// DefaultTTL is how long resolved entities stay cached.
const DefaultTTL = 30 * 24 * time.Hour

// Service is a prefix-scoped, key-sanitizing cache. Backend failures are
// reported per key and never abort a batch.
type Service struct {
	backend   Backend
	prefix    string
	ttl       time.Duration
	maxKeyLen int
	logger    *zap.Logger
	onError   func(op string, err error)
}

type Option func(*Service)

func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithMaxKeyLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.maxKeyLen = n
		}
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithErrorHook registers a callback invoked for every failed backend call.
func WithErrorHook(fn func(op string, err error)) Option {
	return func(s *Service) {
		s.onError = fn
	}
}

func New(backend Backend, prefix string, opts ...Option) *Service {
	s := &Service{
		backend:   backend,
		prefix:    prefix,
		ttl:       DefaultTTL,
		maxKeyLen: DefaultMaxKeyLength,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Prefix returns the namespace of the service.
func (s *Service) Prefix() string {
	return s.prefix
}

// WithPrefix returns a service sharing the backend under another namespace.
func (s *Service) WithPrefix(prefix string) *Service {
	clone := *s
	clone.prefix = prefix
	return &clone
}

// Key is the backend key used for a caller key. Keys that lose characters
// to sanitization carry the md5 of the caller key.
func (s *Service) Key(key string) string {
	return s.prefix + ":" + distinctKey(key, s.maxKeyLen)
}

// GetUncachedKeys returns the distinct keys that have no live entry, in
// first-seen order. A key whose lookup fails is reported as uncached.
func (s *Service) GetUncachedKeys(ctx context.Context, keys []string) []string {
	uncached := make([]string, 0, len(keys))
	for _, key := range utils.Dedupe(keys) {
		if _, ok := s.get(ctx, key); !ok {
			uncached = append(uncached, key)
		}
	}
	return uncached
}

// GetCachedValues returns one slot per input key, in input order, holding
// nil for misses. Duplicate keys are looked up once.
func (s *Service) GetCachedValues(ctx context.Context, keys []string) [][]byte {
	found := make(map[string][]byte, len(keys))
	for _, key := range utils.Dedupe(keys) {
		if value, ok := s.get(ctx, key); ok {
			found[key] = value
		}
	}

	values := make([][]byte, len(keys))
	for i, key := range keys {
		values[i] = found[key]
	}
	return values
}

// SetCacheValues stores values[i] under keys[i] with the service TTL. Every
// write is attempted; failures are returned joined as *Error values.
func (s *Service) SetCacheValues(ctx context.Context, keys []string, values [][]byte) error {
	if len(keys) != len(values) {
		return fmt.Errorf("cache: %d keys but %d values", len(keys), len(values))
	}

	var errs []error
	for i, key := range keys {
		if err := s.set(ctx, key, values[i], s.ttl); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (s *Service) get(ctx context.Context, key string) ([]byte, bool) {
	full := s.Key(key)
	value, err := s.backend.Get(ctx, full)
	switch {
	case err == nil:
		return value, true
	case errors.Is(err, ErrMiss):
		return nil, false
	default:
		s.report(&Error{Op: "get", Key: full, Err: err})
		return nil, false
	}
}

func (s *Service) set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	full := s.Key(key)
	if err := s.backend.Set(ctx, full, value, ttl); err != nil {
		cacheErr := &Error{Op: "set", Key: full, Err: err}
		s.report(cacheErr)
		return cacheErr
	}
	return nil
}

func (s *Service) report(err *Error) {
	s.logger.Warn("cache backend failed",
		zap.String("op", err.Op),
		zap.String("key", err.Key),
		zap.Error(err.Err),
	)
	if s.onError != nil {
		s.onError(err.Op, err)
	}
}
