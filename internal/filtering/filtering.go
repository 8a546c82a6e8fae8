// Package filtering narrows the opportunity ids a career site lists before
// any of them reaches the generator.
package filtering

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/cache"
)

// Filter represents a single filtering step applied to opportunity ids.
type Filter interface {
	Name() string
	Disable(reason string)
	IsEnabled() bool

	Validate(cfg *Config) error
	Apply(ctx context.Context, deps Deps, ids []string) ([]string, Step, error)
}

// Deps aggregates dependencies shared across all filtering steps.
type Deps struct {
	// Source is the career site the ids belong to.
	Source string
	// Known is the opportunity cache. Ids already cached there are skipped.
	Known  *cache.Service
	Logger *zap.Logger
}

// Step describes the result of executing a filtering step.
type Step struct {
	Initial int
	Dropped int
	Left    int
}

// Config contains configuration settings consumed by the filters.
type Config struct {
	ExcludeFile  string `mapstructure:"exclude-file"`
	Limit        int    `mapstructure:"limit"`
	IncludeKnown bool   `mapstructure:"include-known"`
}

// Status represents runtime information about a filter.
type Status struct {
	Name    string
	Enabled bool
	Reason  string
	Details map[string]string
}

// statusProvider is implemented by filters that can supply detailed status information.
type statusProvider interface {
	Status() Status
}

// Default returns the steps of a sync run in the order they apply.
func Default() []Filter {
	return []Filter{NewKnown(), NewExcludeFile(), NewLimit()}
}

// DisableByName marks a filter with the provided name as disabled while keeping it in the list.
func DisableByName(steps []Filter, name, reason string) {
	for _, step := range steps {
		if step.Name() == name {
			step.Disable(reason)
		}
	}
}

// Run executes the supplied filters sequentially, returning the ids left.
func Run(ctx context.Context, cfg *Config, deps Deps, steps []Filter, ids []string) ([]string, error) {
	for _, step := range steps {
		if !step.IsEnabled() {
			continue
		}
		if err := step.Validate(cfg); err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	for _, step := range steps {
		if !step.IsEnabled() {
			logger.Info("filter disabled", zap.String("name", step.Name()))
			continue
		}

		next, info, err := step.Apply(ctx, deps, ids)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", step.Name(), err)
		}

		logger.Info("filter step",
			zap.String("name", step.Name()),
			zap.String("source", deps.Source),
			zap.Int("initial", info.Initial),
			zap.Int("dropped", info.Dropped),
			zap.Int("left", info.Left),
		)

		ids = next
	}

	return ids, nil
}

// Describe returns status entries for the provided filters.
func Describe(steps []Filter) []Status {
	statuses := make([]Status, 0, len(steps))
	for _, step := range steps {
		if reporter, ok := step.(statusProvider); ok {
			statuses = append(statuses, reporter.Status())
			continue
		}

		statuses = append(statuses, Status{
			Name:    step.Name(),
			Enabled: step.IsEnabled(),
		})
	}
	return statuses
}

func exclude(ids []string, drop map[string]struct{}) (kept, removed []string) {
	kept = make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := drop[id]; ok {
			removed = append(removed, id)
			continue
		}
		kept = append(kept, id)
	}
	return kept, removed
}
