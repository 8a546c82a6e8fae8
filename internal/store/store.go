// Package store defines persistence for resolved entities.
package store

import (
	"context"
	"errors"
	"math"

	"github.com/spigell/career-sync/internal/entity"
)

var ErrNotFound = errors.New("entity not found")

// Match is a vector search hit. Distance is the cosine distance in [0, 2].
type Match struct {
	Record   *entity.Record
	Distance float64
}

type Store interface {
	FindByID(ctx context.Context, kind entity.Kind, id int64) (*entity.Record, error)
	// Upsert inserts rec or updates the row with the same kind and natural
	// key, returning the stored record with its id. An empty embedding keeps
	// the stored one.
	Upsert(ctx context.Context, rec *entity.Record) (*entity.Record, error)
	// VectorSearch returns at most k records of kind with distance <= threshold,
	// closest first.
	VectorSearch(ctx context.Context, kind entity.Kind, vec []float32, k int, threshold float64) ([]Match, error)
}

// CosineDistance returns 1 - cos(a, b). Zero vectors are maximally distant.
func CosineDistance(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 2
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 2
	}
	return 1 - dot/(math.Sqrt(na)*math.Sqrt(nb))
}
