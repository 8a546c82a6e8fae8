// Package metrics provides Prometheus metrics for the resolution pipeline
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/spigell/career-sync/internal/errs"
	"github.com/spigell/career-sync/internal/llm"
)

// Resolution outcomes.
const (
	OutcomeCached   = "cached"
	OutcomeExisting = "existing"
	OutcomeCreated  = "created"
	OutcomeFailed   = "failed"
)

// Metrics holds the pipeline collectors. A nil *Metrics records nothing.
type Metrics struct {
	Resolutions   *prometheus.CounterVec
	Errors        *prometheus.CounterVec
	LLMTokens     *prometheus.CounterVec
	BatchDuration *prometheus.HistogramVec
	CacheErrors   *prometheus.CounterVec
	SourceRuns    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		Resolutions: f.NewCounterVec(prometheus.CounterOpts{
			Name: "career_sync_resolutions_total",
			Help: "Keys resolved by the get-or-create pipeline",
		}, []string{"kind", "outcome"}),
		Errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "career_sync_errors_total",
			Help: "Pipeline errors by entity kind and error class",
		}, []string{"kind", "error_kind"}),
		LLMTokens: f.NewCounterVec(prometheus.CounterOpts{
			Name: "career_sync_llm_tokens_total",
			Help: "Tokens spent on LLM calls",
		}, []string{"provider", "model", "direction"}),
		BatchDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "career_sync_batch_duration_seconds",
			Help:    "Duration of resolution batches",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 12), // 50ms to ~100s
		}, []string{"kind", "stage"}),
		CacheErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "career_sync_cache_errors_total",
			Help: "Cache backend failures treated as misses or skipped writes",
		}, []string{"op"}),
		SourceRuns: f.NewCounterVec(prometheus.CounterOpts{
			Name: "career_sync_source_runs_total",
			Help: "Ingestion runs per career site",
		}, []string{"source", "status"}),
	}
}

func (m *Metrics) Resolved(kind, outcome string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.Resolutions.WithLabelValues(kind, outcome).Add(float64(n))
}

// Failed counts err under its error class.
func (m *Metrics) Failed(kind string, err error) {
	if m == nil || err == nil {
		return
	}
	m.Errors.WithLabelValues(kind, errs.Kind(err)).Inc()
}

// Tokens records the usage of every non-nil metadata entry.
func (m *Metrics) Tokens(metas ...*llm.Metadata) {
	if m == nil {
		return
	}
	for _, meta := range metas {
		if meta == nil {
			continue
		}
		m.LLMTokens.WithLabelValues(meta.Provider, meta.Model, "prompt").Add(float64(meta.PromptTokens))
		m.LLMTokens.WithLabelValues(meta.Provider, meta.Model, "completion").Add(float64(meta.CompletionTokens))
	}
}

// Since observes the time elapsed from start.
func (m *Metrics) Since(kind, stage string, start time.Time) {
	if m == nil {
		return
	}
	m.BatchDuration.WithLabelValues(kind, stage).Observe(time.Since(start).Seconds())
}

// CacheError matches the cache.Service error hook.
func (m *Metrics) CacheError(op string, _ error) {
	if m == nil {
		return
	}
	m.CacheErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) SourceRun(source, status string) {
	if m == nil {
		return
	}
	m.SourceRuns.WithLabelValues(source, status).Inc()
}
