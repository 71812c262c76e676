// Package pipeline wires the import, clean, enrich, and classify stages
// together and records each stage as a batch run.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/legis-enrich/internal/config"
	"github.com/sells-group/legis-enrich/internal/cost"
	"github.com/sells-group/legis-enrich/internal/enrich"
	"github.com/sells-group/legis-enrich/internal/fetcher"
	"github.com/sells-group/legis-enrich/internal/model"
	"github.com/sells-group/legis-enrich/internal/ocr"
	"github.com/sells-group/legis-enrich/internal/store"
	"github.com/sells-group/legis-enrich/pkg/anthropic"
)

// Pipeline runs batch stages against one store.
type Pipeline struct {
	cfg       *config.Config
	store     store.Store
	fetcher   fetcher.Fetcher
	ocr       ocr.Extractor
	anthropic anthropic.Client
	taxonomy  *enrich.Taxonomy
	costCalc  *cost.Calculator
}

// New creates a Pipeline. Dependencies a stage does not use may be nil:
// clean needs the fetcher and extractor, enrich and classify need the
// Anthropic client, classify needs the taxonomy.
func New(
	cfg *config.Config,
	st store.Store,
	f fetcher.Fetcher,
	ex ocr.Extractor,
	aiClient anthropic.Client,
	tax *enrich.Taxonomy,
) *Pipeline {
	return &Pipeline{
		cfg:       cfg,
		store:     st,
		fetcher:   f,
		ocr:       ex,
		anthropic: aiClient,
		taxonomy:  tax,
		costCalc:  cost.NewCalculator(cost.Rates{Anthropic: cfg.Anthropic.Pricing}),
	}
}

// RunOptions are per-invocation overrides of the configured behaviour.
type RunOptions struct {
	// Force reprocesses items that already have a successful result.
	Force bool
	// Limit caps the number of propositions a stage handles. Zero means
	// no cap.
	Limit int
	// Kinds restricts enrichment to these extraction kinds.
	Kinds []model.ExtractionKind
}

// Run executes every stage in order: import (when a dataset file is
// configured), clean, enrich, classify. It stops at the first stage that
// fails or when ctx is canceled.
func (p *Pipeline) Run(ctx context.Context, opts RunOptions) ([]*model.BatchReport, error) {
	type stage struct {
		name model.Stage
		fn   func(context.Context, RunOptions) (*model.BatchReport, error)
	}
	stages := []stage{
		{model.StageClean, p.Clean},
		{model.StageEnrich, p.Enrich},
		{model.StageClassify, p.Classify},
	}
	if p.cfg.Dataset.PropositionsFile != "" {
		stages = append([]stage{{model.StageImport, func(ctx context.Context, _ RunOptions) (*model.BatchReport, error) {
			return p.Import(ctx)
		}}}, stages...)
	}

	var reports []*model.BatchReport
	for _, s := range stages {
		if ctx.Err() != nil {
			zap.L().Warn("pipeline: stopping before stage", zap.String("stage", string(s.name)))
			return reports, eris.Wrapf(ctx.Err(), "pipeline: %s not started", s.name)
		}
		report, err := s.fn(ctx, opts)
		if report != nil {
			reports = append(reports, report)
		}
		if err != nil {
			return reports, err
		}
	}
	return reports, nil
}

// track persists a batch run around fn. The finishing write is detached
// from ctx so a canceled batch still records how far it got.
func (p *Pipeline) track(ctx context.Context, stage model.Stage, fn func(context.Context) (*model.BatchReport, error)) (*model.BatchReport, error) {
	log := zap.L().With(zap.String("stage", string(stage)))

	run, err := p.store.CreateBatchRun(ctx, stage)
	if err != nil {
		return nil, eris.Wrapf(err, "pipeline: create %s run", stage)
	}
	log = log.With(zap.String("run_id", run.ID))
	log.Info("pipeline: stage starting")

	start := time.Now()
	report, fnErr := fn(ctx)
	duration := time.Since(start).Milliseconds()
	if report != nil && (report.InputTokens > 0 || report.OutputTokens > 0) {
		report.CostUSD = p.costCalc.Claude(p.cfg.Anthropic.Model, report.InputTokens, report.OutputTokens)
	}

	status := model.RunStatusComplete
	var errMsg string
	switch {
	case fnErr != nil:
		status = model.RunStatusFailed
		errMsg = fnErr.Error()
	case ctx.Err() != nil:
		status = model.RunStatusCanceled
	}

	if finishErr := p.store.FinishBatchRun(context.WithoutCancel(ctx), run.ID, status, report, errMsg); finishErr != nil {
		log.Warn("pipeline: failed to finish batch run", zap.Error(finishErr))
	}

	if fnErr != nil {
		log.Error("pipeline: stage failed", zap.Int64("duration_ms", duration), zap.Error(fnErr))
		return report, fnErr
	}
	fields := []zap.Field{zap.String("status", string(status)), zap.Int64("duration_ms", duration)}
	if report != nil {
		t := report.Totals()
		fields = append(fields,
			zap.Int("succeeded", t.Succeeded),
			zap.Int("failed_permanent", t.FailedPermanent),
			zap.Int("skipped", t.Skipped),
			zap.Int("canceled", t.Canceled),
			zap.Float64("cost_usd", report.CostUSD),
		)
	}
	log.Info("pipeline: stage complete", fields...)
	return report, nil
}
