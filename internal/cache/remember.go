package cache

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"
)

// Remember returns the cached JSON value for key, or calls fn, caches its
// result for ttl and returns it. Cache failures fall through to fn.
func Remember[T any](ctx context.Context, s *Service, key string, ttl time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if raw, ok := s.get(ctx, key); ok {
		var cached T
		err := json.Unmarshal(raw, &cached)
		if err == nil {
			return cached, nil
		}
		s.logger.Warn("discarding undecodable cache entry", zap.String("key", s.Key(key)), zap.Error(err))
	}

	value, err := fn(ctx)
	if err != nil {
		return value, err
	}

	raw, err := json.Marshal(value)
	if err != nil {
		s.logger.Warn("value is not cacheable", zap.String("key", s.Key(key)), zap.Error(err))
		return value, nil
	}

	_ = s.set(ctx, key, raw, ttl)
	return value, nil
}
