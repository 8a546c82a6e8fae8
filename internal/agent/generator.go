package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"github.com/spigell/career-sync/internal/bulk"
	"github.com/spigell/career-sync/internal/entity"
	"github.com/spigell/career-sync/internal/errs"
	"github.com/spigell/career-sync/internal/llm"
)

const summaryDescription = "A comprehensive summary of the record in plain English text that keeps all of its details. " +
	"It is used to find this record again by embedding similarity search. It is about the data, not the schema of the data."

type generatorReply struct {
	Summary string          `json:"summary"`
	Model   json.RawMessage `json:"model"`
}

// PartialError reports the records a BestEffort generation could not
// produce. Errs is aligned with the input; nil entries succeeded.
type PartialError struct {
	Errs []error
}

func (e *PartialError) Error() string {
	var failed []string
	for i, err := range e.Errs {
		if err != nil {
			failed = append(failed, fmt.Sprintf("record %d: %v", i, err))
		}
	}
	return fmt.Sprintf("%d of %d records failed: %s", len(failed), len(e.Errs), strings.Join(failed, "; "))
}

func (e *PartialError) Unwrap() []error {
	var out []error
	for _, err := range e.Errs {
		if err != nil {
			out = append(out, err)
		}
	}
	return out
}

// Generator synthesizes records of one type from raw data.
type Generator struct {
	client   llm.StructuredClient
	typ      entity.Type
	schema   *llm.Schema
	system   string
	settings settings
}

func NewGenerator(client llm.StructuredClient, typ entity.Type, opts ...Option) (*Generator, error) {
	model, err := describeModel(typ)
	if err != nil {
		return nil, err
	}
	return &Generator{
		client:   client,
		typ:      typ,
		schema:   generatorSchema(typ),
		system:   render(generatorSystemPrompt, map[string]string{"MODEL_SCHEMA": model}),
		settings: newSettings(opts),
	}, nil
}

func generatorSchema(typ entity.Type) *llm.Schema {
	props := jsonschema.NewProperties()
	props.Set("summary", &jsonschema.Schema{Type: "string", Description: summaryDescription})
	model := *typ.Schema().Definition
	model.Description = "The " + typ.Name()
	props.Set("model", &model)
	return llm.NewSchema("Generated"+typ.Name(),
		"A new "+typ.Name()+" and its summary",
		&jsonschema.Schema{
			Type:                 "object",
			Properties:           props,
			Required:             []string{"summary", "model"},
			AdditionalProperties: jsonschema.FalseSchema,
		},
	)
}

// Execute runs every raw record as one bulk batch. Results follow the input
// order. Under BestEffort failed records are left zero and reported through
// a *PartialError alongside the successful ones.
func (g *Generator) Execute(ctx context.Context, raw []map[string]any, tags [][]string) ([]entity.Generated, []*llm.Metadata, error) {
	op := "generator " + g.typ.Name()
	if tags != nil && len(tags) != len(raw) {
		return nil, nil, errs.Validationf(op, "%d tag sets for %d records", len(tags), len(raw))
	}
	if len(raw) == 0 {
		return nil, nil, nil
	}

	payloads := make([]json.RawMessage, len(raw))
	caller := bulk.New[generatorReply](g.client, g.schema, g.settings.bulkOptions("agent.generator", g.settings.policy)...)
	for i, data := range raw {
		payload, err := json.MarshalIndent(data, "", "    ")
		if err != nil {
			return nil, nil, errs.Validationf(op, "record %d is not serializable: %v", i, err)
		}
		payloads[i] = payload

		var tag []string
		if tags != nil {
			tag = tags[i]
		}
		if len(tag) == 0 {
			tag = []string{"ai-generatable-service", g.typ.Name()}
		}
		caller.AddTask([]llm.Message{
			llm.System(g.system),
			llm.User(render(generatorUserPrompt, map[string]string{"RAW_DATA": string(payload)})),
		}, tag)
	}

	results, err := caller.Call(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	generated := make([]entity.Generated, len(results))
	metas := make([]*llm.Metadata, len(results))
	failures := make([]error, len(results))
	failed := false
	for i, res := range results {
		metas[i] = res.Meta
		err := res.Err
		if err == nil && strings.TrimSpace(res.Value.Summary) == "" {
			err = &errs.SchemaViolationError{Schema: g.schema.Name, Problems: []string{"summary is empty"}}
		}
		if err != nil {
			failures[i] = err
			failed = true
			continue
		}
		generated[i] = entity.Generated{
			Summary: strings.TrimSpace(res.Value.Summary),
			Spec:    res.Value.Model,
			Raw:     payloads[i],
		}
	}

	if !failed {
		return generated, metas, nil
	}
	if g.settings.policy == bulk.FailFast {
		return nil, nil, fmt.Errorf("%s: %w", op, errors.Join(failures...))
	}
	return generated, metas, &PartialError{Errs: failures}
}
