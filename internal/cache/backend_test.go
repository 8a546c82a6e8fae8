package cache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func TestRedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)
	backend := NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr()}))
	t.Cleanup(func() { _ = backend.Close() })

	ctx := context.Background()
	if _, err := backend.Get(ctx, "missing"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected ErrMiss, got %v", err)
	}

	if err := backend.Set(ctx, "location:Tehran", []byte(`{"id":3}`), time.Minute); err != nil {
		t.Fatalf("set: %v", err)
	}

	got, err := backend.Get(ctx, "location:Tehran")
	if err != nil || string(got) != `{"id":3}` {
		t.Fatalf("unexpected get result %q, %v", got, err)
	}

	mr.FastForward(2 * time.Minute)
	if _, err := backend.Get(ctx, "location:Tehran"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected entry to expire, got %v", err)
	}
}

func TestRedisBackendUnavailable(t *testing.T) {
	mr := miniredis.RunT(t)
	backend := NewRedisBackend(redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1}))
	mr.Close()

	_, err := backend.Get(context.Background(), "k")
	if err == nil || errors.Is(err, ErrMiss) {
		t.Fatalf("expected a transport error, got %v", err)
	}
}

func TestMemoryBackendHonoursPerEntryTTL(t *testing.T) {
	backend := NewMemoryBackend(10, time.Hour)
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	backend.now = func() time.Time { return now }

	ctx := context.Background()
	_ = backend.Set(ctx, "short", []byte("s"), time.Minute)
	_ = backend.Set(ctx, "long", []byte("l"), 0)

	now = now.Add(2 * time.Minute)

	if _, err := backend.Get(ctx, "short"); !errors.Is(err, ErrMiss) {
		t.Fatalf("expected short entry to expire, got %v", err)
	}
	if got, err := backend.Get(ctx, "long"); err != nil || string(got) != "l" {
		t.Fatalf("unexpected long entry %q, %v", got, err)
	}
}

func TestRemember(t *testing.T) {
	svc := New(NewMemoryBackend(10, time.Hour), "candoo")
	ctx := context.Background()

	calls := 0
	fetch := func(context.Context) ([]string, error) {
		calls++
		return []string{"guid-1", "guid-2"}, nil
	}

	for i := 0; i < 3; i++ {
		got, err := Remember(ctx, svc, "jobs", time.Hour, fetch)
		if err != nil {
			t.Fatalf("remember: %v", err)
		}
		if len(got) != 2 || got[1] != "guid-2" {
			t.Fatalf("unexpected value %v", got)
		}
	}
	if calls != 1 {
		t.Fatalf("expected a single upstream call, got %d", calls)
	}

	_, err := Remember(ctx, svc, "broken", time.Hour, func(context.Context) (int, error) {
		return 0, errors.New("upstream down")
	})
	if err == nil {
		t.Fatalf("expected upstream error to propagate")
	}
	if got := svc.GetUncachedKeys(ctx, []string{"broken"}); len(got) != 1 {
		t.Fatalf("failed calls must not be cached")
	}
}
