package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/invopop/jsonschema"
	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/bulk"
	"github.com/spigell/career-sync/internal/entity"
	"github.com/spigell/career-sync/internal/errs"
	"github.com/spigell/career-sync/internal/llm"
	"github.com/spigell/career-sync/internal/search"
)

// Resolution is the finder's answer for one key: either ExistingID is set or
// Spec holds a schema-valid payload for a new record.
type Resolution struct {
	ExistingID *int64
	Spec       json.RawMessage
}

func (r Resolution) IsExisting() bool {
	return r.ExistingID != nil
}

type objectSelection struct {
	ObjectID int64 `json:"object_id" jsonschema_description:"The id of the record to select"`
}

type finderReply struct {
	Result json.RawMessage `json:"result"`
}

// Finder resolves keys of one entity type against candidate records.
type Finder struct {
	client   llm.StructuredClient
	typ      entity.Type
	schema   *llm.Schema
	system   string
	settings settings
}

func NewFinder(client llm.StructuredClient, typ entity.Type, opts ...Option) (*Finder, error) {
	model, err := describeModel(typ)
	if err != nil {
		return nil, err
	}
	return &Finder{
		client:   client,
		typ:      typ,
		schema:   finderSchema(typ),
		system:   render(finderSystemPrompt, map[string]string{"MODEL_SCHEMA": model}),
		settings: newSettings(opts),
	}, nil
}

// finderSchema is {"result": anyOf[{object_id}, <model>]}.
func finderSchema(typ entity.Type) *llm.Schema {
	props := jsonschema.NewProperties()
	props.Set("result", &jsonschema.Schema{
		AnyOf: []*jsonschema.Schema{
			llm.Reflect[objectSelection](),
			typ.Schema().Definition,
		},
	})
	return llm.NewSchema(typ.Name()+"Resolution",
		"Either the id of an existing "+typ.Name()+" or a new one",
		&jsonschema.Schema{
			Type:                 "object",
			Properties:           props,
			Required:             []string{"result"},
			AdditionalProperties: jsonschema.FalseSchema,
		},
	)
}

// Execute resolves every key against its candidate set. Results follow the
// order of keys. tags may be nil; otherwise every list must match keys.
func (f *Finder) Execute(ctx context.Context, keys []string, candidates [][]search.Candidate, tags [][]string) ([]Resolution, []*llm.Metadata, error) {
	op := "finder " + f.typ.Name()
	if len(candidates) != len(keys) {
		return nil, nil, errs.Validationf(op, "%d candidate sets for %d keys", len(candidates), len(keys))
	}
	if tags != nil && len(tags) != len(keys) {
		return nil, nil, errs.Validationf(op, "%d tag sets for %d keys", len(tags), len(keys))
	}
	if len(keys) == 0 {
		return nil, nil, nil
	}

	caller := bulk.New[finderReply](f.client, f.schema, f.settings.bulkOptions("agent.finder", bulk.FailFast)...)
	for i, key := range keys {
		var tag []string
		if tags != nil {
			tag = tags[i]
		}
		if len(tag) == 0 {
			tag = []string{"embedding-service", f.typ.Name()}
		}
		caller.AddTask([]llm.Message{
			llm.System(f.system),
			llm.User(render(finderUserPrompt, map[string]string{
				"KEY":           key,
				"SIMILAR_ITEMS": strings.Join(search.Snapshots(candidates[i]), candidateSeparator),
			})),
		}, tag)
	}

	results, err := caller.Call(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("%s: %w", op, err)
	}

	resolutions := make([]Resolution, len(results))
	metas := make([]*llm.Metadata, len(results))
	for i, res := range results {
		resolution, err := f.interpret(res.Value, candidates[i])
		if err != nil {
			return nil, nil, fmt.Errorf("%s: key %q: %w", op, keys[i], err)
		}
		resolutions[i] = resolution
		metas[i] = res.Meta

		f.settings.logger.Debug("key resolved",
			zap.String("key", keys[i]),
			zap.Bool("existing", resolution.IsExisting()),
			zap.Int("candidates", len(candidates[i])),
		)
	}
	return resolutions, metas, nil
}

func (f *Finder) interpret(reply finderReply, candidates []search.Candidate) (Resolution, error) {
	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(reply.Result, &envelope); err != nil {
		return Resolution{}, &errs.SchemaViolationError{Schema: f.schema.Name, Problems: []string{err.Error()}, Raw: string(reply.Result)}
	}

	raw, ok := envelope["object_id"]
	if !ok {
		return Resolution{Spec: bytes.Clone(reply.Result)}, nil
	}

	var sel objectSelection
	if err := json.Unmarshal(reply.Result, &sel); err != nil {
		return Resolution{}, &errs.SchemaViolationError{Schema: f.schema.Name, Problems: []string{err.Error()}, Raw: string(raw)}
	}
	if !slices.Contains(search.IDs(candidates), sel.ObjectID) {
		return Resolution{}, &errs.SchemaViolationError{
			Schema:   f.schema.Name,
			Problems: []string{fmt.Sprintf("object_id %d is not one of the candidates", sel.ObjectID)},
			Raw:      string(reply.Result),
		}
	}
	return Resolution{ExistingID: &sel.ObjectID}, nil
}
