// Package search finds existing entities close to an embedding and renders
// them as prompt candidates.
package search

import (
	"context"
	"fmt"
	"math/rand/v2"
	"sort"

	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/entity"
	"github.com/spigell/career-sync/internal/store"
)

const (
	DefaultK         = 10
	DefaultThreshold = 2.0
)

// Candidate is one similar entity. Snapshot never contains the embedding.
type Candidate struct {
	ID       int64
	Distance float64
	Snapshot string
}

type Searcher struct {
	store   store.Store
	logger  *zap.Logger
	shuffle func(n int, swap func(i, j int))
}

type Option func(*Searcher)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Searcher) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithShuffle replaces the random permutation, for tests.
func WithShuffle(shuffle func(n int, swap func(i, j int))) Option {
	return func(s *Searcher) { s.shuffle = shuffle }
}

func New(st store.Store, opts ...Option) *Searcher {
	s := &Searcher{store: st, logger: zap.NewNop(), shuffle: rand.Shuffle}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// FindSimilar returns up to k entities of kind within threshold cosine
// distance of vec. The result is shuffled on every call.
func (s *Searcher) FindSimilar(ctx context.Context, kind entity.Kind, vec []float32, k int, threshold float64) ([]Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	matches, err := s.store.VectorSearch(ctx, kind, vec, k, threshold)
	if err != nil {
		return nil, fmt.Errorf("search %s: %w", kind, err)
	}

	// Stores are trusted to filter, but k and threshold are enforced here too.
	kept := matches[:0:0]
	for _, m := range matches {
		if m.Record != nil && m.Distance <= threshold {
			kept = append(kept, m)
		}
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Distance < kept[j].Distance })
	if len(kept) > k {
		kept = kept[:k]
	}

	candidates := make([]Candidate, 0, len(kept))
	for _, m := range kept {
		snap, err := m.Record.Snapshot()
		if err != nil {
			return nil, fmt.Errorf("snapshot %s %d: %w", kind, m.Record.ID, err)
		}
		candidates = append(candidates, Candidate{ID: m.Record.ID, Distance: m.Distance, Snapshot: snap})
	}

	s.shuffle(len(candidates), func(i, j int) {
		candidates[i], candidates[j] = candidates[j], candidates[i]
	})

	s.logger.Debug("similar entities found",
		zap.String("entity", string(kind)),
		zap.Int("matches", len(matches)),
		zap.Int("candidates", len(candidates)),
	)
	return candidates, nil
}

// Snapshots returns the rendered candidates.
func Snapshots(candidates []Candidate) []string {
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.Snapshot
	}
	return out
}

// IDs returns the candidate ids.
func IDs(candidates []Candidate) []int64 {
	out := make([]int64, len(candidates))
	for i, c := range candidates {
		out[i] = c.ID
	}
	return out
}
