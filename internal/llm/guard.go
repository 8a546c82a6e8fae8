package llm

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/spigell/career-sync/internal/errs"
)

// GuardConfig bounds every provider call.
type GuardConfig struct {
	// Timeout applies to each call. Zero disables it.
	Timeout time.Duration
	// RequestsPerSecond limits call rate. Zero disables limiting.
	RequestsPerSecond float64
	Burst             int
	// MaxFailures consecutive provider failures open the circuit.
	MaxFailures uint32
	// OpenTimeout is how long the circuit stays open.
	OpenTimeout time.Duration
}

func DefaultGuardConfig() GuardConfig {
	return GuardConfig{
		Timeout:     2 * time.Minute,
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
	}
}

// Guard applies a timeout, a rate limit and a circuit breaker to provider calls.
type Guard struct {
	name    string
	timeout time.Duration
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

func NewGuard(name string, cfg GuardConfig) *Guard {
	g := &Guard{name: name, timeout: cfg.Timeout}

	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	if cfg.MaxFailures > 0 {
		g.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
			Name:        name,
			MaxRequests: 1,
			Timeout:     cfg.OpenTimeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.MaxFailures
			},
			// Only provider outages count against the circuit.
			IsSuccessful: func(err error) bool {
				return err == nil || errs.Kind(err) != errs.KindProvider
			},
		})
	}

	return g
}

// Do runs fn under the guard.
func (g *Guard) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	if g == nil {
		return fn(ctx)
	}

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	if g.breaker == nil {
		return fn(ctx)
	}

	_, err := g.breaker.Execute(func() (interface{}, error) {
		return nil, fn(ctx)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &errs.ProviderError{Provider: g.name, Op: "circuit", Err: err}
	}
	return err
}

type guardedClient struct {
	StructuredClient
	guard *Guard
}

// GuardClient wraps c so that every call goes through g.
func GuardClient(c StructuredClient, g *Guard) StructuredClient {
	return &guardedClient{StructuredClient: c, guard: g}
}

func (c *guardedClient) InvokeStructured(ctx context.Context, req Request, out any) (*Metadata, error) {
	var meta *Metadata
	err := c.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		meta, err = c.StructuredClient.InvokeStructured(ctx, req, out)
		return err
	})
	return meta, err
}

type guardedEmbedder struct {
	Embedder
	guard *Guard
}

// GuardEmbedder wraps e so that every call goes through g.
func GuardEmbedder(e Embedder, g *Guard) Embedder {
	return &guardedEmbedder{Embedder: e, guard: g}
}

func (e *guardedEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	var vectors [][]float32
	err := e.guard.Do(ctx, func(ctx context.Context) error {
		var err error
		vectors, err = e.Embedder.Embed(ctx, texts)
		return err
	})
	return vectors, err
}
