package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/spigell/career-sync/internal/careersite"
	"github.com/spigell/career-sync/internal/filtering"
	"github.com/spigell/career-sync/internal/logger"
	"github.com/spigell/career-sync/internal/metrics"
)

// Source run statuses.
const (
	StatusOK       = "ok"
	StatusPartial  = "partial"
	StatusFailed   = "failed"
	StatusDeclined = "declined"
	StatusEmpty    = "empty"
)

// Confirm is asked before LLM spend starts for a source. Returning false
// skips the source.
type Confirm func(ctx context.Context, source string, ids []string) (bool, error)

// SourceReport is the outcome of one career site in a run.
type SourceReport struct {
	Source    string
	Status    string
	CompanyID int64
	Listed    int
	Selected  int
	Synced    int
	// Failed maps opportunity ids to the error that stopped them.
	Failed map[string]error
	Err    error
}

type Report struct {
	Started  time.Time
	Finished time.Time
	Sources  []SourceReport
}

// Err joins the source-level errors of the run.
func (r *Report) Err() error {
	var out []error
	for _, s := range r.Sources {
		if s.Err != nil {
			out = append(out, fmt.Errorf("%s: %w", s.Source, s.Err))
		}
	}
	return errors.Join(out...)
}

// Synced is the number of opportunities resolved across sources.
func (r *Report) Synced() int {
	n := 0
	for _, s := range r.Sources {
		n += s.Synced
	}
	return n
}

// Job is one ingestion pass over a registry of career sites.
type Job struct {
	services *Services
	filters  filtering.Config
	steps    func() []filtering.Filter
	confirm  Confirm
	metrics  *metrics.Metrics
	logger   *zap.Logger
	now      func() time.Time
}

type Option func(*Job)

func WithFilters(cfg filtering.Config) Option {
	return func(j *Job) { j.filters = cfg }
}

// WithSteps replaces the filter pipeline. fn is called once per source.
func WithSteps(fn func() []filtering.Filter) Option {
	return func(j *Job) { j.steps = fn }
}

func WithConfirm(fn Confirm) Option {
	return func(j *Job) { j.confirm = fn }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(j *Job) { j.metrics = m }
}

func WithLogger(l *zap.Logger) Option {
	return func(j *Job) {
		if l != nil {
			j.logger = l
		}
	}
}

func NewJob(services *Services, opts ...Option) *Job {
	j := &Job{
		services: services,
		steps:    filtering.Default,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Run syncs every client of registry in order. A failing client is logged
// and reported; it never stops the others.
func (j *Job) Run(ctx context.Context, registry *careersite.Registry) *Report {
	report := &Report{Started: j.now()}
	for _, client := range registry.Clients() {
		if ctx.Err() != nil {
			break
		}
		sr := j.runSource(ctx, client)
		j.metrics.SourceRun(sr.Source, sr.Status)
		report.Sources = append(report.Sources, sr)
	}
	report.Finished = j.now()

	j.logger.Info("sync finished",
		zap.Int("sources", len(report.Sources)),
		zap.Int("synced", report.Synced()),
		zap.Duration("took", report.Finished.Sub(report.Started)),
	)
	return report
}

func (j *Job) runSource(ctx context.Context, client careersite.Client) SourceReport {
	source := client.Name()
	log := logger.ForSource(j.logger, source)
	sr := SourceReport{Source: source, Failed: map[string]error{}}

	fail := func(stage string, err error) SourceReport {
		log.Error("source failed", zap.String("stage", stage), zap.Error(err))
		sr.Status = StatusFailed
		sr.Err = fmt.Errorf("%s: %w", stage, err)
		return sr
	}

	ids, err := client.OpportunityIDs(ctx)
	if err != nil {
		return fail("list opportunities", err)
	}
	sr.Listed = len(ids)

	deps := filtering.Deps{Source: source, Known: j.services.Opportunities.Cache(), Logger: log}
	ids, err = filtering.Run(ctx, &j.filters, deps, j.steps(), ids)
	if err != nil {
		return fail("filter", err)
	}
	sr.Selected = len(ids)
	if len(ids) == 0 {
		log.Info("nothing to sync", zap.Int("listed", sr.Listed))
		sr.Status = StatusEmpty
		return sr
	}

	if j.confirm != nil {
		ok, err := j.confirm(ctx, source, ids)
		if err != nil {
			return fail("confirm", err)
		}
		if !ok {
			log.Info("sync declined", zap.Int("selected", sr.Selected))
			sr.Status = StatusDeclined
			return sr
		}
	}

	company, err := j.services.Companies.GetOrCreateCompany(ctx, client)
	if err != nil {
		return fail("company", err)
	}
	sr.CompanyID = company.ID

	batch, err := j.services.Opportunities.GetOrCreateOpportunities(ctx, client, company, ids)
	if err != nil {
		return fail("opportunities", err)
	}
	sr.Synced = len(batch.Records)
	sr.Failed = batch.Failed

	sr.Status = StatusOK
	if len(sr.Failed) > 0 {
		sr.Status = StatusPartial
	}
	log.Info("source synced",
		zap.Int("listed", sr.Listed),
		zap.Int("selected", sr.Selected),
		zap.Int("synced", sr.Synced),
		zap.Int("failed", len(sr.Failed)),
	)
	return sr
}
