// Package entity describes the records the resolver matches and creates.
// Each kind implements Embeddable, Generatable or both.
package entity

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/career-sync/internal/llm"
)

type Kind string

const (
	KindLocation    Kind = "location"
	KindPerk        Kind = "perk"
	KindJobCategory Kind = "job_category"
	KindCompany     Kind = "company"
	KindOpportunity Kind = "opportunity"
)

// Record is the persisted form of every entity kind.
type Record struct {
	ID         int64           `json:"id"`
	Kind       Kind            `json:"kind"`
	NaturalKey string          `json:"natural_key"`
	Fields     map[string]any  `json:"fields"`
	Summary    string          `json:"summary,omitempty"`
	RawData    json.RawMessage `json:"raw_data,omitempty"`
	ParentID   *int64          `json:"parent_id,omitempty"`
	Embedding  []float32       `json:"-"`
	CreatedAt  time.Time       `json:"created_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

// String returns a field as text, or "" when absent.
func (r *Record) String(field string) string {
	if r == nil || r.Fields == nil {
		return ""
	}
	if v, ok := r.Fields[field]; ok && v != nil {
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	}
	return ""
}

// Snapshot renders the record for an LLM prompt: id, fields and summary,
// never the embedding.
func (r *Record) Snapshot() (string, error) {
	view := make(map[string]any, len(r.Fields)+2)
	for k, v := range r.Fields {
		view[k] = v
	}
	view["id"] = r.ID
	if r.Summary != "" {
		view["summary"] = r.Summary
	}
	data, err := json.MarshalIndent(view, "", "    ")
	if err != nil {
		return "", fmt.Errorf("snapshot %s %d: %w", r.Kind, r.ID, err)
	}
	return string(data), nil
}

// Decode maps the record fields onto a typed view such as LocationSpec.
func Decode[T any](r *Record) (T, error) {
	var out T
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &out,
	})
	if err != nil {
		return out, err
	}
	if err := decoder.Decode(r.Fields); err != nil {
		return out, fmt.Errorf("decode %s %d: %w", r.Kind, r.ID, err)
	}
	return out, nil
}

// Defaults are caller-supplied field values merged over synthesized ones,
// typically relation ids resolved by sibling services.
type Defaults map[string]any

// Keys returns the default names in sorted order.
func (d Defaults) Keys() []string {
	keys := make([]string, 0, len(d))
	for k := range d {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Type is the capability shared by every entity kind.
type Type interface {
	Kind() Kind
	// Name is the human-readable type name used in prompts and tags.
	Name() string
	SchemaFields() []FieldSpec
	// Schema is the structured-output schema of a new entity of this kind.
	Schema() *llm.Schema
	RequiredDefaults() []string
	// NaturalKey identifies a record for idempotent upserts. Empty means the
	// caller's resolution key is used.
	NaturalKey(r *Record) string
}

// Embeddable kinds are matched by vector similarity and can be created
// from a schema-valid spec.
type Embeddable interface {
	Type
	EmbeddingKey(r *Record) string
	FromSpec(spec json.RawMessage, defaults Defaults) (*Record, error)
}

// Generated is what the generator agent produced for one raw record.
type Generated struct {
	Summary string
	Spec    json.RawMessage
	Raw     json.RawMessage
}

// Generatable kinds are synthesized from raw upstream data.
type Generatable interface {
	Type
	FromGenerated(g Generated, defaults Defaults) (*Record, error)
}
