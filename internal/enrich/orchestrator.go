// Package enrich drives LLM-backed structured extraction and topic
// classification over cleaned proposition text.
package enrich

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/legis-enrich/internal/model"
	"github.com/sells-group/legis-enrich/internal/resilience"
	"github.com/sells-group/legis-enrich/pkg/anthropic"
)

// Orchestrator runs the extraction kinds for a batch of propositions. Each
// (proposition, kind) pair is an independent work item that ends in exactly
// one terminal write, or none when it is skipped or canceled.
type Orchestrator struct {
	store  Store
	opts   Options
	caller *caller

	mu     sync.Mutex
	report *model.BatchReport
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(client anthropic.Client, st Store, opts Options) *Orchestrator {
	opts = opts.withDefaults()
	return &Orchestrator{
		store:  st,
		opts:   opts,
		caller: newCaller(client, opts),
	}
}

type workItem struct {
	input model.CleanedText
	kind  model.ExtractionKind
}

// Run processes every (input, kind) pair with a bounded worker pool. It
// returns an error only when the batch cannot start; per-item failures are
// recorded in the report and logged. Run must not be called concurrently
// on the same Orchestrator.
//
// Cancelling ctx stops new items and new attempts. A request already sent
// completes under the call timeout and its result is committed.
func (o *Orchestrator) Run(ctx context.Context, inputs []model.CleanedText) (*model.BatchReport, error) {
	if err := o.opts.validate(); err != nil {
		return nil, err
	}
	if err := o.store.Ping(ctx); err != nil {
		return nil, eris.Wrap(err, "enrich: ping store")
	}

	o.report = model.NewBatchReport(model.StageEnrich)
	before := o.caller.Usage()
	items := o.workItems(inputs)

	zap.L().Info("enrich: starting batch",
		zap.Int("propositions", len(inputs)),
		zap.Int("items", len(items)),
		zap.Int("workers", o.opts.MaxWorkers),
		zap.Bool("force", o.opts.Force),
	)

	g := new(errgroup.Group)
	g.SetLimit(o.opts.MaxWorkers)
	for _, it := range items {
		if ctx.Err() != nil {
			o.record(string(it.kind), model.OutcomeCanceled)
			continue
		}
		g.Go(func() error {
			o.process(ctx, it)
			return nil
		})
	}
	_ = g.Wait()

	usage := o.caller.Usage().Since(before)
	o.report.InputTokens = usage.InputTokens
	o.report.OutputTokens = usage.OutputTokens
	usage.LogCost(o.opts.Model, "enrich.batch")

	totals := o.report.Totals()
	zap.L().Info("enrich: batch complete",
		zap.Int("succeeded", totals.Succeeded),
		zap.Int("failed_permanent", totals.FailedPermanent),
		zap.Int("skipped", totals.Skipped),
		zap.Int("canceled", totals.Canceled),
	)
	return o.report, nil
}

// workItems expands inputs into (proposition, kind) pairs, dropping repeated
// propositions so a pair is never scheduled twice.
func (o *Orchestrator) workItems(inputs []model.CleanedText) []workItem {
	seen := make(map[int64]bool, len(inputs))
	items := make([]workItem, 0, len(inputs)*len(o.opts.Kinds))
	for _, in := range inputs {
		if seen[in.PropositionID] {
			continue
		}
		seen[in.PropositionID] = true
		if o.opts.Limit > 0 && len(seen) > o.opts.Limit {
			break
		}
		for _, k := range o.opts.Kinds {
			items = append(items, workItem{input: in, kind: k})
		}
	}
	return items
}

func (o *Orchestrator) process(ctx context.Context, it workItem) {
	id := it.input.PropositionID
	log := zap.L().With(zap.Int64("proposition_id", id), zap.String("kind", string(it.kind)))

	if ctx.Err() != nil {
		o.record(string(it.kind), model.OutcomeCanceled)
		return
	}

	if !o.opts.Force {
		existing, err := o.store.GetExtraction(ctx, id, it.kind)
		if err != nil {
			log.Error("enrich: load stored result", zap.Error(err))
			o.fail(id, string(it.kind), 0, err)
			return
		}
		if existing != nil && existing.Status == model.StatusSucceeded {
			o.record(string(it.kind), model.OutcomeSkipped)
			return
		}
	}

	if !it.input.Available() || strings.TrimSpace(it.input.Text) == "" {
		o.commit(ctx, log, &model.ExtractionResult{
			PropositionID: id,
			Kind:          it.kind,
			Status:        model.StatusFailedPermanent,
			LastError:     ErrEmptyInput.Error(),
		})
		return
	}

	req := anthropic.MessageRequest{
		Model:      o.opts.Model,
		MaxTokens:  o.opts.MaxTokens,
		System:     anthropic.BuildCachedSystemBlocks(systemPrompt(it.kind), ""),
		Messages:   []anthropic.Message{{Role: "user", Content: userPrompt(Truncate(it.input.Text, o.opts.MaxInputChars, o.opts.TailChars))}},
		Tools:      []anthropic.Tool{extractionTool(it.kind)},
		ToolChoice: toolName(it.kind),
	}

	retry := o.opts.Retry
	retry.OnRetry = resilience.RetryLogger("anthropic", string(it.kind), zap.Int64("proposition_id", id))

	payload, st, err := resilience.DoVal(ctx, retry, func(ctx context.Context) (json.RawMessage, error) {
		return o.extract(ctx, it.kind, req)
	})

	if st.Interrupted || errors.Is(err, errWaitInterrupted) {
		log.Warn("enrich: item canceled", zap.Int("attempts", st.Attempts))
		o.record(string(it.kind), model.OutcomeCanceled)
		return
	}

	res := &model.ExtractionResult{
		PropositionID: id,
		Kind:          it.kind,
		Attempts:      st.Attempts,
		Model:         o.opts.Model,
	}
	if err != nil {
		res.Status = model.StatusFailedPermanent
		res.LastError = err.Error()
	} else {
		res.Status = model.StatusSucceeded
		res.Payload = payload
	}
	o.commit(ctx, log, res)
}

// extract performs one attempt and returns the validated payload as JSON.
func (o *Orchestrator) extract(ctx context.Context, kind model.ExtractionKind, req anthropic.MessageRequest) (json.RawMessage, error) {
	resp, err := o.caller.call(ctx, "enrich."+string(kind), req)
	if err != nil {
		return nil, err
	}

	input, ok := resp.ToolInput(toolName(kind))
	if !ok {
		return nil, resilience.NewTransientError(
			eris.Wrapf(ErrSchemaViolation, "no %s tool call (stop_reason %s)", toolName(kind), resp.StopReason), 0)
	}

	p, err := model.DecodePayload(kind, input)
	if err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(ErrSchemaViolation, err.Error()), 0)
	}

	out, err := json.Marshal(p)
	if err != nil {
		return nil, resilience.NewPermanentError(eris.Wrap(err, "enrich: encode payload"))
	}
	return out, nil
}

// commit writes a terminal result. The write is detached from ctx so a
// finished item is persisted even when the batch is being canceled.
func (o *Orchestrator) commit(ctx context.Context, log *zap.Logger, res *model.ExtractionResult) {
	res.UpdatedAt = time.Now().UTC()
	if err := o.store.UpsertExtraction(context.WithoutCancel(ctx), res); err != nil {
		log.Error("enrich: persist result", zap.Error(err))
		o.fail(res.PropositionID, string(res.Kind), res.Attempts, eris.Wrap(err, "enrich: persist result"))
		return
	}

	if res.Status == model.StatusSucceeded {
		log.Debug("enrich: item succeeded", zap.Int("attempts", res.Attempts))
		o.record(string(res.Kind), model.OutcomeSucceeded)
		return
	}
	log.Warn("enrich: item failed permanently",
		zap.Int("attempts", res.Attempts),
		zap.String("error", res.LastError),
	)
	o.fail(res.PropositionID, string(res.Kind), res.Attempts, errors.New(res.LastError))
}

func (o *Orchestrator) record(key string, outcome model.Outcome) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.report.Record(key, outcome)
}

func (o *Orchestrator) fail(id int64, kind string, attempts int, err error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.report.Fail(model.ItemFailure{
		PropositionID: id,
		Kind:          kind,
		Attempts:      attempts,
		Error:         err.Error(),
	})
}
