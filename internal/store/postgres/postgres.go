// Package postgres stores entities in PostgreSQL with pgvector embeddings.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/spigell/career-sync/internal/entity"
	"github.com/spigell/career-sync/internal/store"
)

// Dimensions is the embedding width of the entities table.
const Dimensions = 1536

const columns = `id, kind, natural_key, fields, summary, raw_data, parent_id, created_at, updated_at`

type row struct {
	ID         int64         `db:"id"`
	Kind       string        `db:"kind"`
	NaturalKey string        `db:"natural_key"`
	Fields     []byte        `db:"fields"`
	Summary    string        `db:"summary"`
	RawData    []byte        `db:"raw_data"`
	ParentID   sql.NullInt64 `db:"parent_id"`
	CreatedAt  time.Time     `db:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at"`
}

type matchRow struct {
	row
	Distance float64 `db:"distance"`
}

func (r row) record() (*entity.Record, error) {
	rec := &entity.Record{
		ID:         r.ID,
		Kind:       entity.Kind(r.Kind),
		NaturalKey: r.NaturalKey,
		Summary:    r.Summary,
		CreatedAt:  r.CreatedAt,
		UpdatedAt:  r.UpdatedAt,
	}
	if len(r.RawData) > 0 {
		rec.RawData = json.RawMessage(r.RawData)
	}
	if r.ParentID.Valid {
		id := r.ParentID.Int64
		rec.ParentID = &id
	}
	if err := json.Unmarshal(r.Fields, &rec.Fields); err != nil {
		return nil, fmt.Errorf("postgres: decode fields of %s %d: %w", r.Kind, r.ID, err)
	}
	return rec, nil
}

type Store struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: connect: %w", err)
	}
	return New(db), nil
}

func (s *Store) DB() *sqlx.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) FindByID(ctx context.Context, kind entity.Kind, id int64) (*entity.Record, error) {
	var r row
	err := s.db.GetContext(ctx, &r, `SELECT `+columns+` FROM entities WHERE kind = $1 AND id = $2`, string(kind), id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("postgres: find %s %d: %w", kind, id, err)
	}
	return r.record()
}

const upsertSQL = `
	INSERT INTO entities (kind, natural_key, fields, summary, raw_data, parent_id, embedding)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (kind, natural_key) WHERE natural_key <> '' DO UPDATE SET
		fields     = EXCLUDED.fields,
		summary    = EXCLUDED.summary,
		raw_data   = COALESCE(EXCLUDED.raw_data, entities.raw_data),
		parent_id  = EXCLUDED.parent_id,
		embedding  = COALESCE(EXCLUDED.embedding, entities.embedding),
		updated_at = now()
	RETURNING id, created_at, updated_at`

func (s *Store) Upsert(ctx context.Context, rec *entity.Record) (*entity.Record, error) {
	fields, err := json.Marshal(rec.Fields)
	if err != nil {
		return nil, fmt.Errorf("postgres: encode fields: %w", err)
	}

	var raw, parent, embedding any
	if len(rec.RawData) > 0 {
		raw = []byte(rec.RawData)
	}
	if rec.ParentID != nil {
		parent = *rec.ParentID
	}
	if len(rec.Embedding) > 0 {
		embedding = pgvector.NewVector(rec.Embedding)
	}

	stored := *rec
	err = s.db.QueryRowxContext(ctx, upsertSQL,
		string(rec.Kind), rec.NaturalKey, fields, rec.Summary, raw, parent, embedding,
	).Scan(&stored.ID, &stored.CreatedAt, &stored.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("postgres: upsert %s %q: %w", rec.Kind, rec.NaturalKey, err)
	}
	return &stored, nil
}

const searchSQL = `
	SELECT ` + columns + `, embedding <=> $2::vector AS distance
	FROM entities
	WHERE kind = $1 AND embedding IS NOT NULL AND (embedding <=> $2::vector) <= $3
	ORDER BY embedding <=> $2::vector
	LIMIT $4`

func (s *Store) VectorSearch(ctx context.Context, kind entity.Kind, vec []float32, k int, threshold float64) ([]store.Match, error) {
	if k <= 0 {
		return nil, nil
	}

	var rows []matchRow
	if err := s.db.SelectContext(ctx, &rows, searchSQL, string(kind), pgvector.NewVector(vec), threshold, k); err != nil {
		return nil, fmt.Errorf("postgres: vector search %s: %w", kind, err)
	}

	matches := make([]store.Match, 0, len(rows))
	for _, r := range rows {
		rec, err := r.record()
		if err != nil {
			return nil, err
		}
		matches = append(matches, store.Match{Record: rec, Distance: r.Distance})
	}
	return matches, nil
}
