// Package memory is an in-process Store for tests and local dry runs.
package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/spigell/career-sync/internal/entity"
	"github.com/spigell/career-sync/internal/store"
)

type key struct {
	kind entity.Kind
	id   int64
}

type Store struct {
	mu      sync.RWMutex
	nextID  int64
	records map[key]*entity.Record
	natural map[entity.Kind]map[string]int64
	now     func() time.Time
}

func New() *Store {
	return &Store{
		records: map[key]*entity.Record{},
		natural: map[entity.Kind]map[string]int64{},
		now:     time.Now,
	}
}

func clone(r *entity.Record) *entity.Record {
	c := *r
	c.Fields = make(map[string]any, len(r.Fields))
	for k, v := range r.Fields {
		c.Fields[k] = v
	}
	c.Embedding = append([]float32(nil), r.Embedding...)
	if r.ParentID != nil {
		id := *r.ParentID
		c.ParentID = &id
	}
	return &c
}

func (s *Store) FindByID(_ context.Context, kind entity.Kind, id int64) (*entity.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key{kind, id}]
	if !ok {
		return nil, store.ErrNotFound
	}
	return clone(rec), nil
}

func (s *Store) Upsert(_ context.Context, rec *entity.Record) (*entity.Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	stored := clone(rec)
	stored.UpdatedAt = now

	if s.natural[rec.Kind] == nil {
		s.natural[rec.Kind] = map[string]int64{}
	}

	if id, ok := s.natural[rec.Kind][rec.NaturalKey]; ok && rec.NaturalKey != "" {
		existing := s.records[key{rec.Kind, id}]
		stored.ID = id
		stored.CreatedAt = existing.CreatedAt
		if len(stored.Embedding) == 0 {
			stored.Embedding = existing.Embedding
		}
	} else {
		s.nextID++
		stored.ID = s.nextID
		stored.CreatedAt = now
	}

	s.records[key{rec.Kind, stored.ID}] = stored
	if rec.NaturalKey != "" {
		s.natural[rec.Kind][rec.NaturalKey] = stored.ID
	}
	return clone(stored), nil
}

func (s *Store) VectorSearch(_ context.Context, kind entity.Kind, vec []float32, k int, threshold float64) ([]store.Match, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var matches []store.Match
	for id, rec := range s.records {
		if id.kind != kind || len(rec.Embedding) == 0 {
			continue
		}
		d := store.CosineDistance(vec, rec.Embedding)
		if d <= threshold {
			matches = append(matches, store.Match{Record: clone(rec), Distance: d})
		}
	}

	sort.Slice(matches, func(i, j int) bool {
		if matches[i].Distance == matches[j].Distance {
			return matches[i].Record.ID < matches[j].Record.ID
		}
		return matches[i].Distance < matches[j].Distance
	})
	if k >= 0 && len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}

// Len reports how many records of kind are stored.
func (s *Store) Len(kind entity.Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for id := range s.records {
		if id.kind == kind {
			n++
		}
	}
	return n
}
