package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/legis-enrich/internal/enrich"
	"github.com/sells-group/legis-enrich/internal/model"
)

// Enrich runs the structured extractions over every stored cleaned text.
// Texts flagged no_text are passed through so the orchestrator records
// them as permanent failures without calling the model.
func (p *Pipeline) Enrich(ctx context.Context, opts RunOptions) (*model.BatchReport, error) {
	return p.track(ctx, model.StageEnrich, func(ctx context.Context) (*model.BatchReport, error) {
		if p.anthropic == nil {
			return nil, eris.New("pipeline: enrich requires an anthropic client")
		}
		inputs, err := p.store.ListCleanedTexts(ctx, nil)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: list cleaned texts")
		}
		return enrich.NewOrchestrator(p.anthropic, p.store, p.enrichOptions(opts)).Run(ctx, inputs)
	})
}

// Classify assigns taxonomy topics to every stored cleaned text.
func (p *Pipeline) Classify(ctx context.Context, opts RunOptions) (*model.BatchReport, error) {
	return p.track(ctx, model.StageClassify, func(ctx context.Context) (*model.BatchReport, error) {
		if p.anthropic == nil {
			return nil, eris.New("pipeline: classify requires an anthropic client")
		}
		if p.taxonomy == nil {
			return nil, eris.New("pipeline: classify requires a taxonomy")
		}
		inputs, err := p.store.ListCleanedTexts(ctx, nil)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: list cleaned texts")
		}
		return enrich.NewClassifier(p.anthropic, p.store, p.taxonomy, p.enrichOptions(opts)).Run(ctx, inputs)
	})
}

func (p *Pipeline) enrichOptions(opts RunOptions) enrich.Options {
	eo := enrich.OptionsFromConfig(p.cfg)
	eo.Force = eo.Force || opts.Force
	eo.Limit = opts.Limit
	if len(opts.Kinds) > 0 {
		eo.Kinds = opts.Kinds
	}
	return eo
}
