package filtering

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

const includeKnownMsg = "include-known is set"

// CacheKey is how an opportunity is keyed in the opportunity cache.
func CacheKey(source, id string) string {
	return source + ":" + id
}

type knownFilter struct {
	disabled bool
	reason   string
}

// NewKnown creates a filter that removes opportunities already synced.
func NewKnown() Filter {
	return &knownFilter{}
}

func (f *knownFilter) Name() string { return "known" }

func (f *knownFilter) Disable(reason string) {
	f.disabled = true
	f.reason = reason
}

func (f *knownFilter) IsEnabled() bool { return !f.disabled }

func (f *knownFilter) Validate(cfg *Config) error {
	if cfg != nil && cfg.IncludeKnown {
		f.Disable(includeKnownMsg)
	}
	return nil
}

func (f *knownFilter) Apply(ctx context.Context, deps Deps, ids []string) ([]string, Step, error) {
	initial := len(ids)
	if f.disabled {
		return ids, Step{Initial: initial, Left: initial}, nil
	}
	if deps.Known == nil {
		return nil, Step{}, fmt.Errorf("opportunity cache is required")
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = CacheKey(deps.Source, id)
	}
	uncached := map[string]struct{}{}
	for _, key := range deps.Known.GetUncachedKeys(ctx, keys) {
		uncached[key] = struct{}{}
	}

	known := map[string]struct{}{}
	for i, key := range keys {
		if _, ok := uncached[key]; !ok {
			known[ids[i]] = struct{}{}
		}
	}

	kept, removed := exclude(ids, known)
	if deps.Logger != nil && len(removed) > 0 {
		deps.Logger.Debug("excluding already synced opportunities",
			zap.Strings("excluded_opportunities", removed),
			zap.Int("opportunities_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(removed), Left: len(kept)}, nil
}

func (f *knownFilter) Status() Status {
	return Status{Name: f.Name(), Enabled: f.IsEnabled(), Reason: f.reason}
}

type excludeFileFilter struct {
	path string
}

// NewExcludeFile creates a filter that removes opportunities listed in an exclude file.
// The file holds a JSON array of ids, optionally prefixed with the source
// name ("candoo-acme:42").
func NewExcludeFile() Filter {
	return &excludeFileFilter{}
}

func (f *excludeFileFilter) Name() string { return "exclude_file" }

func (f *excludeFileFilter) Disable(string) {}

func (f *excludeFileFilter) IsEnabled() bool { return true }

func (f *excludeFileFilter) Validate(cfg *Config) error {
	f.path = ""
	if cfg != nil {
		f.path = strings.TrimSpace(cfg.ExcludeFile)
	}
	return nil
}

func (f *excludeFileFilter) Apply(_ context.Context, deps Deps, ids []string) ([]string, Step, error) {
	initial := len(ids)
	if f.path == "" {
		return ids, Step{Initial: initial, Left: initial}, nil
	}

	listed, err := readExcludeFile(f.path)
	if err != nil {
		return nil, Step{}, fmt.Errorf("getting excluded opportunities from file: %w", err)
	}

	drop := map[string]struct{}{}
	for _, entry := range listed {
		source, id, scoped := strings.Cut(entry, ":")
		switch {
		case !scoped:
			drop[entry] = struct{}{}
		case source == deps.Source:
			drop[id] = struct{}{}
		}
	}

	kept, removed := exclude(ids, drop)
	if deps.Logger != nil && len(removed) > 0 {
		deps.Logger.Info("excluding opportunities based on exclude file",
			zap.String("path", f.path),
			zap.Strings("excluded_opportunities", removed),
			zap.Int("opportunities_left", len(kept)),
		)
	}

	return kept, Step{Initial: initial, Dropped: len(removed), Left: len(kept)}, nil
}

func (f *excludeFileFilter) Status() Status {
	details := map[string]string{}
	if f.path != "" {
		details["path"] = f.path
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}

func readExcludeFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}

	var ids []string
	if err := json.Unmarshal(data, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

type limitFilter struct {
	limit int
}

// NewLimit creates a filter that keeps at most the configured number of opportunities.
func NewLimit() Filter {
	return &limitFilter{}
}

func (f *limitFilter) Name() string { return "limit" }

func (f *limitFilter) Disable(string) {}

func (f *limitFilter) IsEnabled() bool { return true }

func (f *limitFilter) Validate(cfg *Config) error {
	f.limit = 0
	if cfg == nil {
		return nil
	}
	if cfg.Limit < 0 {
		return fmt.Errorf("limit must not be negative, got %d", cfg.Limit)
	}
	f.limit = cfg.Limit
	return nil
}

func (f *limitFilter) Apply(_ context.Context, _ Deps, ids []string) ([]string, Step, error) {
	initial := len(ids)
	if f.limit == 0 || initial <= f.limit {
		return ids, Step{Initial: initial, Left: initial}, nil
	}
	return ids[:f.limit], Step{Initial: initial, Dropped: initial - f.limit, Left: f.limit}, nil
}

func (f *limitFilter) Status() Status {
	details := map[string]string{}
	if f.limit > 0 {
		details["limit"] = strconv.Itoa(f.limit)
	}
	return Status{Name: f.Name(), Enabled: true, Details: details}
}
