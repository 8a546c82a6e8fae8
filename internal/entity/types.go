package entity

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spigell/career-sync/internal/errs"
	"github.com/spigell/career-sync/internal/llm"
)

type LocationSpec struct {
	Name  string        `json:"name" jsonschema:"maxLength=255" jsonschema_description:"Name of the place in English without its parent regions"`
	Level LocationLevel `json:"level" jsonschema:"enum=global,enum=continent,enum=country,enum=city,enum=district,enum=neighborhood,enum=street,enum=building,enum=room" jsonschema_description:"Administrative level of the place"`
}

type PerkSpec struct {
	Name        string `json:"name" jsonschema:"maxLength=255" unique:"true" jsonschema_description:"Short canonical perk name"`
	Description string `json:"description" jsonschema_description:"One sentence explaining the perk"`
}

type JobCategorySpec struct {
	Name        string `json:"name" jsonschema:"maxLength=255" unique:"true" jsonschema_description:"Canonical job category name such as Backend Engineering"`
	Description string `json:"description" jsonschema_description:"What kind of roles belong to the category"`
}

type CompanySpec struct {
	Name        string      `json:"name" jsonschema:"maxLength=255"`
	Description string      `json:"description" jsonschema_description:"What the company does"`
	Page        string      `json:"page" jsonschema:"maxLength=255" jsonschema_description:"Public careers or home page URL, empty when unknown"`
	Size        CompanySize `json:"size" jsonschema:"enum=small,enum=medium,enum=large,enum=entreprise,enum=other"`
}

type OpportunitySpec struct {
	Title                  string          `json:"title" jsonschema:"maxLength=255"`
	Description            string          `json:"description"`
	LocationType           LocationType    `json:"location_type" jsonschema:"enum=on_site,enum=remote,enum=hybrid"`
	ContractType           ContractType    `json:"contract_type" jsonschema:"enum=full_time,enum=part_time,enum=contract,enum=volunteer,enum=other"`
	ExperienceLevel        ExperienceLevel `json:"experience_level" jsonschema:"enum=entry,enum=mid,enum=senior,enum=principal,enum=other"`
	Gender                 Gender          `json:"gender" jsonschema:"enum=male,enum=female,enum=any"`
	Category               Category        `json:"category" jsonschema:"enum=engineering,enum=hr,enum=finance,enum=marketing,enum=sales,enum=other"`
	MilitaryService        MilitaryService `json:"military_service" jsonschema:"enum=should_have,enum=should_not_have,enum=any"`
	MinimumEducationLevel  EducationLevel  `json:"minimum_education_level" jsonschema:"enum=high_school,enum=bachelor,enum=master,enum=doctorate,enum=other"`
	MinimumExperienceYears *int            `json:"minimum_experience_years" jsonschema:"nullable"`
	MinimumSalary          *float64        `json:"minimum_salary" jsonschema:"nullable" jsonschema_description:"Monthly amount in the given currency"`
	Currency               Currency        `json:"currency" jsonschema:"enum=usd,enum=eur,enum=irr,enum=other"`
	IsActive               bool            `json:"is_active" default:"true"`
}

type base struct {
	kind     Kind
	name     string
	fields   []FieldSpec
	required []string
	schema   *llm.Schema
}

func newBase[S any](kind Kind, name, description string, required ...string) base {
	var spec S
	return base{
		kind:     kind,
		name:     name,
		fields:   fieldsOf(spec),
		required: required,
		schema:   llm.GenerateSchema[S](name, description),
	}
}

func (b base) Kind() Kind                 { return b.kind }
func (b base) Name() string               { return b.name }
func (b base) SchemaFields() []FieldSpec  { return b.fields }
func (b base) Schema() *llm.Schema        { return b.schema }
func (b base) RequiredDefaults() []string { return b.required }

// build merges defaults over a synthesized spec. Defaults win.
func (b base) build(spec json.RawMessage, defaults Defaults) (*Record, error) {
	for _, name := range b.required {
		if v, ok := defaults[name]; !ok || v == nil {
			return nil, errs.Validationf(string(b.kind), "missing required default %q", name)
		}
	}

	fields := map[string]any{}
	if len(spec) > 0 {
		if err := json.Unmarshal(spec, &fields); err != nil {
			return nil, &errs.SchemaViolationError{Schema: b.name, Problems: []string{err.Error()}, Raw: string(spec)}
		}
	}

	rec := &Record{Kind: b.kind, Fields: fields}
	for _, k := range defaults.Keys() {
		v := defaults[k]
		if k == "parent_id" {
			if id, ok := toInt64(v); ok {
				rec.ParentID = &id
			}
			continue
		}
		fields[k] = v
	}
	return rec, nil
}

func toInt64(v any) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int64:
		return n, true
	case float64:
		return int64(n), true
	default:
		return 0, false
	}
}

func normalize(s string) string {
	return strings.ToLower(strings.Join(strings.Fields(s), " "))
}

type locationType struct{ base }

func (locationType) EmbeddingKey(r *Record) string {
	return fmt.Sprintf("%s (%s)", r.String("name"), r.String("level"))
}

func (locationType) NaturalKey(r *Record) string {
	return normalize(r.String("name")) + "|" + r.String("level")
}

func (t locationType) FromSpec(spec json.RawMessage, defaults Defaults) (*Record, error) {
	return t.build(spec, defaults)
}

type namedType struct{ base }

func (namedType) EmbeddingKey(r *Record) string {
	if d := r.String("description"); d != "" {
		return r.String("name") + ": " + d
	}
	return r.String("name")
}

func (namedType) NaturalKey(r *Record) string {
	return normalize(r.String("name"))
}

func (t namedType) FromSpec(spec json.RawMessage, defaults Defaults) (*Record, error) {
	return t.build(spec, defaults)
}

type companyType struct{ base }

func (companyType) EmbeddingKey(r *Record) string {
	if r.Summary != "" {
		return r.Summary
	}
	return r.String("name") + ": " + r.String("description")
}

func (companyType) NaturalKey(r *Record) string {
	return normalize(r.String("name"))
}

func (t companyType) FromSpec(spec json.RawMessage, defaults Defaults) (*Record, error) {
	return t.build(spec, defaults)
}

func (t companyType) FromGenerated(g Generated, defaults Defaults) (*Record, error) {
	rec, err := t.build(g.Spec, defaults)
	if err != nil {
		return nil, err
	}
	rec.Summary = g.Summary
	rec.RawData = g.Raw
	return rec, nil
}

type opportunityType struct{ base }

func (opportunityType) EmbeddingKey(r *Record) string {
	if r.Summary != "" {
		return r.Summary
	}
	return r.String("title") + ": " + r.String("description")
}

// NaturalKey scopes the upstream reference id by its source.
func (opportunityType) NaturalKey(r *Record) string {
	ref := r.String("reference_id")
	if ref == "" {
		return ""
	}
	if src := r.String("source"); src != "" {
		return src + ":" + ref
	}
	return ref
}

func (t opportunityType) FromGenerated(g Generated, defaults Defaults) (*Record, error) {
	rec, err := t.build(g.Spec, defaults)
	if err != nil {
		return nil, err
	}
	rec.Summary = g.Summary
	rec.RawData = g.Raw
	return rec, nil
}

func (t opportunityType) FromSpec(spec json.RawMessage, defaults Defaults) (*Record, error) {
	return t.build(spec, defaults)
}

var (
	Location = locationType{newBase[LocationSpec](KindLocation, "Location",
		"A geographic place at a given administrative level")}
	Perk = namedType{newBase[PerkSpec](KindPerk, "Perk",
		"A benefit offered by an employer")}
	JobCategory = namedType{newBase[JobCategorySpec](KindJobCategory, "JobCategory",
		"A family of related job roles")}
	Company = companyType{newBase[CompanySpec](KindCompany, "Company",
		"An employer publishing opportunities")}
	Opportunity = opportunityType{newBase[OpportunitySpec](KindOpportunity, "Opportunity",
		"A job posting", "company_id", "reference_id")}
)

// LookupEmbeddable returns the Embeddable implementation of kind.
func LookupEmbeddable(kind Kind) (Embeddable, bool) {
	switch kind {
	case KindLocation:
		return Location, true
	case KindPerk:
		return Perk, true
	case KindJobCategory:
		return JobCategory, true
	case KindCompany:
		return Company, true
	case KindOpportunity:
		return Opportunity, true
	default:
		return nil, false
	}
}

// LookupGeneratable returns the Generatable implementation of kind.
func LookupGeneratable(kind Kind) (Generatable, bool) {
	switch kind {
	case KindCompany:
		return Company, true
	case KindOpportunity:
		return Opportunity, true
	default:
		return nil, false
	}
}
