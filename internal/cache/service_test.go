package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"errors"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type flakyBackend struct {
	mu      sync.Mutex
	data    map[string][]byte
	failGet map[string]bool
	failSet map[string]bool
	gets    int
}

func newFlakyBackend() *flakyBackend {
	return &flakyBackend{
		data:    map[string][]byte{},
		failGet: map[string]bool{},
		failSet: map[string]bool{},
	}
}

func (f *flakyBackend) Get(_ context.Context, key string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.failGet[key] {
		return nil, errors.New("connection reset")
	}
	v, ok := f.data[key]
	if !ok {
		return nil, ErrMiss
	}
	return v, nil
}

func (f *flakyBackend) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failSet[key] {
		return errors.New("read only replica")
	}
	f.data[key] = value
	return nil
}

func TestGetUncachedKeys(t *testing.T) {
	backend := newFlakyBackend()
	svc := New(backend, "location")
	ctx := context.Background()

	if err := svc.SetCacheValues(ctx, []string{"Tehran"}, [][]byte{[]byte(`{"id":1}`)}); err != nil {
		t.Fatalf("set: %v", err)
	}

	got := svc.GetUncachedKeys(ctx, []string{"Berlin", "Tehran", "Berlin", "Remote"})
	if want := []string{"Berlin", "Remote"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	if backend.gets != 3 {
		t.Fatalf("expected duplicate keys to be looked up once, got %d lookups", backend.gets)
	}
}

func TestGetCachedValuesPreservesOrder(t *testing.T) {
	svc := New(newFlakyBackend(), "perk")
	ctx := context.Background()

	_ = svc.SetCacheValues(ctx, []string{"a", "c"}, [][]byte{[]byte("A"), []byte("C")})

	got := svc.GetCachedValues(ctx, []string{"c", "b", "a", "c"})
	want := [][]byte{[]byte("C"), nil, []byte("A"), []byte("C")}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("expected %q, got %q", want, got)
	}
}

func TestSetCacheValuesContinuesAfterFailure(t *testing.T) {
	backend := newFlakyBackend()
	core, observed := observer.New(zapcore.WarnLevel)

	var hooked []string
	svc := New(backend, "company",
		WithLogger(zap.New(core)),
		WithErrorHook(func(op string, _ error) { hooked = append(hooked, op) }),
	)
	backend.failSet[svc.Key("k3")] = true

	keys := []string{"k1", "k2", "k3", "k4", "k5"}
	values := [][]byte{[]byte("1"), []byte("2"), []byte("3"), []byte("4"), []byte("5")}

	err := svc.SetCacheValues(context.Background(), keys, values)
	var cacheErr *Error
	if !errors.As(err, &cacheErr) || cacheErr.Op != "set" {
		t.Fatalf("expected cache set error, got %v", err)
	}

	if len(backend.data) != 4 {
		t.Fatalf("expected the other 4 writes to land, got %d", len(backend.data))
	}
	if observed.FilterMessage("cache backend failed").Len() != 1 {
		t.Fatalf("expected one warning, got %d", observed.Len())
	}
	if !reflect.DeepEqual(hooked, []string{"set"}) {
		t.Fatalf("unexpected hook calls %v", hooked)
	}
}

func TestReadFailureIsTreatedAsMiss(t *testing.T) {
	backend := newFlakyBackend()
	svc := New(backend, "opportunity")
	ctx := context.Background()

	_ = svc.SetCacheValues(ctx, []string{"x"}, [][]byte{[]byte("X")})
	backend.failGet[svc.Key("x")] = true

	if got := svc.GetUncachedKeys(ctx, []string{"x"}); len(got) != 1 {
		t.Fatalf("expected failing key to be uncached, got %v", got)
	}
	if got := svc.GetCachedValues(ctx, []string{"x"}); got[0] != nil {
		t.Fatalf("expected nil for failing key, got %q", got[0])
	}
}

func TestSetCacheValuesLengthMismatch(t *testing.T) {
	err := New(newFlakyBackend(), "p").SetCacheValues(context.Background(), []string{"a"}, nil)
	if err == nil || !strings.Contains(err.Error(), "1 keys but 0 values") {
		t.Fatalf("expected length error, got %v", err)
	}
}

func TestKeyIsPrefixedAndSanitized(t *testing.T) {
	svc := New(newFlakyBackend(), "location")
	sum := md5.Sum([]byte("New York, NY"))
	if got, want := svc.Key("New York, NY"), "location:New_York_NY_"+hex.EncodeToString(sum[:]); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
	if got := svc.WithPrefix("perk").Key("gym"); got != "perk:gym" {
		t.Fatalf("unexpected key %q", got)
	}
}

func TestKeyKeepsNonASCIIKeysDistinct(t *testing.T) {
	backend := newFlakyBackend()
	svc := New(backend, "location")
	ctx := context.Background()

	tehran, shiraz := svc.Key("تهران"), svc.Key("شیراز")
	if tehran == shiraz {
		t.Fatalf("expected distinct backend keys, both are %q", tehran)
	}
	for _, key := range []string{tehran, shiraz} {
		if !strings.HasPrefix(key, "location:") || len(key) > len("location:")+DefaultMaxKeyLength {
			t.Fatalf("unexpected key %q", key)
		}
	}

	if err := svc.SetCacheValues(ctx, []string{"تهران"}, [][]byte{[]byte("1")}); err != nil {
		t.Fatalf("set: %v", err)
	}
	values := svc.GetCachedValues(ctx, []string{"تهران", "شیراز"})
	if string(values[0]) != "1" || values[1] != nil {
		t.Fatalf("expected only tehran cached, got %q", values)
	}
}

func TestKeyLongLossyInputStaysWithinLimit(t *testing.T) {
	svc := New(newFlakyBackend(), "x", WithMaxKeyLength(64))
	a := strings.Repeat("é", 100) + "a"
	b := strings.Repeat("é", 100) + "b"

	keyA, keyB := svc.Key(a), svc.Key(b)
	if keyA == keyB {
		t.Fatalf("expected distinct keys, both are %q", keyA)
	}
	if len(keyA) > len("x:")+64 {
		t.Fatalf("key exceeds limit: %q", keyA)
	}
}
