package pipeline

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/legis-enrich/internal/dataset"
	"github.com/sells-group/legis-enrich/internal/model"
)

// ReportKeyPropositions counts imported propositions.
const ReportKeyPropositions = "propositions"

// Import loads the configured open-data exports and upserts the selected
// propositions with their authors.
func (p *Pipeline) Import(ctx context.Context) (*model.BatchReport, error) {
	return p.track(ctx, model.StageImport, func(ctx context.Context) (*model.BatchReport, error) {
		props, stats, err := dataset.Load(ctx, p.cfg.Dataset)
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: load dataset")
		}

		report := model.NewBatchReport(model.StageImport)
		for range stats.WrongType + stats.OutOfRange + stats.InvalidDate {
			report.Record(ReportKeyPropositions, model.OutcomeSkipped)
		}
		if len(props) == 0 {
			return report, nil
		}

		if _, err := p.store.UpsertPropositions(ctx, props); err != nil {
			return report, eris.Wrap(err, "pipeline: upsert propositions")
		}
		for range props {
			report.Record(ReportKeyPropositions, model.OutcomeSucceeded)
		}
		return report, nil
	})
}
