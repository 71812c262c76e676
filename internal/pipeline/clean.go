package pipeline

import (
	"context"
	"errors"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/legis-enrich/internal/clean"
	"github.com/sells-group/legis-enrich/internal/fetcher"
	"github.com/sells-group/legis-enrich/internal/model"
	"github.com/sells-group/legis-enrich/internal/ocr"
	"github.com/sells-group/legis-enrich/internal/resilience"
	"github.com/sells-group/legis-enrich/internal/store"
	"github.com/sells-group/legis-enrich/internal/wordcloud"
)

const (
	// ReportKeyText counts cleaned texts: succeeded when text is available,
	// failed_permanent when the proposition is flagged no_text.
	ReportKeyText = "text"
	// ReportKeyWordCloud counts persisted word clouds.
	ReportKeyWordCloud = "word_cloud"

	wordCloudSize = 100
)

// acquired is the outcome of fetching and extracting one document.
type acquired struct {
	doc      model.RawDocument
	ok       bool
	canceled bool
	reason   string
}

// Clean downloads and extracts the documents of propositions that have no
// cleaned text yet (all of them with Force), detects boilerplate across
// the extracted corpus, and persists the cleaned texts and word clouds.
func (p *Pipeline) Clean(ctx context.Context, opts RunOptions) (*model.BatchReport, error) {
	return p.track(ctx, model.StageClean, func(ctx context.Context) (*model.BatchReport, error) {
		if p.fetcher == nil || p.ocr == nil {
			return nil, eris.New("pipeline: clean requires a fetcher and a text extractor")
		}

		props, err := p.store.ListPropositions(ctx, store.PropositionFilter{
			WithoutText: !opts.Force,
			Limit:       opts.Limit,
		})
		if err != nil {
			return nil, eris.Wrap(err, "pipeline: list propositions")
		}

		report := model.NewBatchReport(model.StageClean)
		zap.L().Info("pipeline: cleaning propositions",
			zap.Int("propositions", len(props)),
			zap.Int("workers", p.fetchWorkers()),
		)

		results := p.acquireAll(ctx, props)

		var docs []model.RawDocument
		var texts []model.CleanedText
		for i, r := range results {
			switch {
			case r.canceled:
				report.Record(ReportKeyText, model.OutcomeCanceled)
			case r.ok:
				docs = append(docs, r.doc)
			default:
				texts = append(texts, model.CleanedText{
					PropositionID: props[i].ID,
					Status:        model.TextStatusNoText,
					Reason:        r.reason,
				})
			}
		}

		// Boilerplate detection runs once over the documents extracted in
		// this run. Raw documents are not stored, so an incremental run over
		// a few new propositions relies on page-to-page recurrence and the
		// institutional rules. A Force run re-detects over the whole corpus.
		_, cleaned := clean.CleanCorpus(docs, clean.OptionsFromConfig(p.cfg.Cleaning))
		texts = append(cleaned, texts...)
		if len(texts) == 0 {
			return report, nil
		}

		// Extraction work already done is committed even when canceled.
		persistCtx := context.WithoutCancel(ctx)
		if err := p.store.SaveCleanedTexts(persistCtx, texts); err != nil {
			return report, eris.Wrap(err, "pipeline: save cleaned texts")
		}

		for _, t := range texts {
			if t.Status == model.TextStatusAvailable {
				report.Record(ReportKeyText, model.OutcomeSucceeded)
				continue
			}
			zap.L().Warn("pipeline: proposition has no text",
				zap.Int64("proposition_id", t.PropositionID),
				zap.String("reason", t.Reason),
			)
			report.Fail(model.ItemFailure{PropositionID: t.PropositionID, Kind: ReportKeyText, Error: t.Reason})
		}

		p.saveWordClouds(ctx, texts, report)
		return report, nil
	})
}

// acquireAll fetches and extracts every proposition's document with a
// bounded worker pool. Results are index-aligned with props.
func (p *Pipeline) acquireAll(ctx context.Context, props []model.Proposition) []acquired {
	results := make([]acquired, len(props))

	g := new(errgroup.Group)
	g.SetLimit(p.fetchWorkers())
	for i, prop := range props {
		if ctx.Err() != nil {
			results[i] = acquired{canceled: true}
			continue
		}
		g.Go(func() error {
			results[i] = p.acquire(ctx, prop)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (p *Pipeline) acquire(ctx context.Context, prop model.Proposition) acquired {
	log := zap.L().With(zap.Int64("proposition_id", prop.ID))
	if ctx.Err() != nil {
		return acquired{canceled: true}
	}
	if prop.DocumentURL == "" {
		return acquired{reason: "no document url"}
	}

	path, err := fetcher.FetchPDF(ctx, p.fetcher, prop.DocumentURL, p.cfg.Fetch.DownloadDir, prop.ID)
	if err != nil {
		if ctx.Err() != nil {
			return acquired{canceled: true}
		}
		log.Warn("pipeline: document download failed", zap.Error(err))
		return acquired{reason: "download failed: " + err.Error()}
	}

	retry := p.retryConfig()
	retry.OnRetry = resilience.RetryLogger("ocr", "extract", zap.Int64("proposition_id", prop.ID))
	doc, st, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (model.RawDocument, error) {
		return ocr.Extract(ctx, p.ocr, prop.ID, path)
	})
	switch {
	case st.Interrupted:
		return acquired{canceled: true}
	case errors.Is(err, ocr.ErrNoText):
		// An empty document still goes through cleaning, which flags it no_text.
		return acquired{doc: model.NewRawDocument(prop.ID, nil), ok: true}
	case err != nil:
		log.Warn("pipeline: text extraction failed", zap.Int("attempts", st.Attempts), zap.Error(err))
		return acquired{reason: "text extraction failed: " + err.Error()}
	}
	return acquired{doc: doc, ok: true}
}

func (p *Pipeline) saveWordClouds(ctx context.Context, texts []model.CleanedText, report *model.BatchReport) {
	for _, t := range texts {
		if !t.Available() {
			continue
		}
		if ctx.Err() != nil {
			report.Record(ReportKeyWordCloud, model.OutcomeCanceled)
			continue
		}
		words := wordcloud.Build(t.Text, wordCloudSize)
		if err := p.store.ReplaceWordCloud(ctx, t.PropositionID, words); err != nil {
			zap.L().Error("pipeline: save word cloud", zap.Int64("proposition_id", t.PropositionID), zap.Error(err))
			report.Fail(model.ItemFailure{PropositionID: t.PropositionID, Kind: ReportKeyWordCloud, Error: err.Error()})
			continue
		}
		report.Record(ReportKeyWordCloud, model.OutcomeSucceeded)
	}
}

func (p *Pipeline) fetchWorkers() int {
	if p.cfg.Fetch.Workers > 0 {
		return p.cfg.Fetch.Workers
	}
	return 4
}

func (p *Pipeline) retryConfig() resilience.RetryConfig {
	r := p.cfg.Retry
	return resilience.FromRetryConfig(r.MaxAttempts, r.InitialBackoff, r.MaxBackoff, r.Multiplier, r.JitterFraction)
}
