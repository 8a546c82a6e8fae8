package cache

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrMiss is returned by a Backend when the key is absent or expired.
var ErrMiss = errors.New("cache miss")

// Backend is the key/value store behind a Service.
type Backend interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
}

// Error reports a failed backend operation on a single key.
type Error struct {
	Op  string
	Key string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("cache %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}
