// Package agent holds the two LLM agents of the resolution pipeline: the
// finder, which matches a key to an existing record or describes a new one,
// and the generator, which synthesizes records from raw upstream data.
package agent

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/bulk"
	"github.com/spigell/career-sync/internal/entity"
)

var (
	//go:embed prompts/finder_system.md
	finderSystemPrompt string
	//go:embed prompts/finder_user.md
	finderUserPrompt string
	//go:embed prompts/generator_system.md
	generatorSystemPrompt string
	//go:embed prompts/generator_user.md
	generatorUserPrompt string
)

const candidateSeparator = "\n===========\n"

type settings struct {
	logger          *zap.Logger
	concurrency     int
	reasoningEffort string
	policy          bulk.Policy
}

type Option func(*settings)

func WithLogger(logger *zap.Logger) Option {
	return func(s *settings) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithConcurrency(n int) Option {
	return func(s *settings) { s.concurrency = n }
}

func WithReasoningEffort(effort string) Option {
	return func(s *settings) { s.reasoningEffort = effort }
}

// WithPolicy sets the batch failure policy. Only the generator honours
// BestEffort; the finder always fails fast.
func WithPolicy(p bulk.Policy) Option {
	return func(s *settings) { s.policy = p }
}

func newSettings(opts []Option) settings {
	s := settings{logger: zap.NewNop(), policy: bulk.FailFast}
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

func (s settings) bulkOptions(spanName string, policy bulk.Policy) []bulk.Option {
	return []bulk.Option{
		bulk.WithPolicy(policy),
		bulk.WithConcurrency(s.concurrency),
		bulk.WithReasoningEffort(s.reasoningEffort),
		bulk.WithSpanName(spanName),
		bulk.WithLogger(s.logger),
	}
}

// describeModel renders the per-field description of typ for prompts.
func describeModel(typ entity.Type) (string, error) {
	data, err := json.MarshalIndent(typ.SchemaFields(), "", "    ")
	if err != nil {
		return "", fmt.Errorf("describe %s: %w", typ.Name(), err)
	}
	return string(data), nil
}

// render fills {{NAME}} placeholders in one pass. Inserted values are never
// expanded again.
func render(template string, values map[string]string) string {
	names := make([]string, 0, len(values))
	for k := range values {
		names = append(names, k)
	}
	sort.Strings(names)

	pairs := make([]string, 0, 2*len(names))
	for _, k := range names {
		pairs = append(pairs, "{{"+k+"}}", values[k])
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
