package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/spigell/career-sync/internal/errs"
	"github.com/spigell/career-sync/internal/llm"
)

func TestCounters(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.Resolved("perk", OutcomeCached, 3)
	m.Resolved("perk", OutcomeCreated, 0)
	m.Failed("perk", errs.Validationf("op", "bad"))
	m.Failed("perk", &errs.SchemaViolationError{Schema: "Perk"})
	m.Failed("perk", nil)
	m.Tokens(&llm.Metadata{Provider: "openai", Model: "gpt", PromptTokens: 100, CompletionTokens: 20}, nil)
	m.CacheError("get", errors.New("down"))
	m.SourceRun("candoo", "ok")
	m.Since("perk", "embed", time.Now())

	checks := []struct {
		name string
		got  float64
		want float64
	}{
		{"cached", testutil.ToFloat64(m.Resolutions.WithLabelValues("perk", OutcomeCached)), 3},
		{"validation", testutil.ToFloat64(m.Errors.WithLabelValues("perk", errs.KindValidation)), 1},
		{"schema", testutil.ToFloat64(m.Errors.WithLabelValues("perk", errs.KindSchema)), 1},
		{"prompt tokens", testutil.ToFloat64(m.LLMTokens.WithLabelValues("openai", "gpt", "prompt")), 100},
		{"completion tokens", testutil.ToFloat64(m.LLMTokens.WithLabelValues("openai", "gpt", "completion")), 20},
		{"cache errors", testutil.ToFloat64(m.CacheErrors.WithLabelValues("get")), 1},
		{"source runs", testutil.ToFloat64(m.SourceRuns.WithLabelValues("candoo", "ok")), 1},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Fatalf("%s: expected %v, got %v", c.name, c.want, c.got)
		}
	}
	if n := testutil.CollectAndCount(m.BatchDuration); n != 1 {
		t.Fatalf("expected one histogram series, got %d", n)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.Resolved("perk", OutcomeCreated, 1)
	m.Failed("perk", errors.New("x"))
	m.Tokens(&llm.Metadata{})
	m.Since("perk", "embed", time.Now())
	m.CacheError("set", nil)
	m.SourceRun("x", "failed")
}
