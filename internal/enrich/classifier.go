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

// ReportKeyTopics is the report key classification outcomes are counted under.
const ReportKeyTopics = "topics"

// Classifier assigns taxonomy labels to propositions.
type Classifier struct {
	store  Store
	tax    *Taxonomy
	opts   Options
	caller *caller
	system string

	mu     sync.Mutex
	report *model.BatchReport
}

// NewClassifier creates a Classifier over the given taxonomy.
func NewClassifier(client anthropic.Client, st Store, tax *Taxonomy, opts Options) *Classifier {
	opts = opts.withDefaults()
	return &Classifier{
		store:  st,
		tax:    tax,
		opts:   opts,
		caller: newCaller(client, opts),
		system: classifySystemPrompt(tax.Labels(), tax.MaxTopics()),
	}
}

// rawTopic is one entry of the model's classification response.
type rawTopic struct {
	Label      string   `json:"label"`
	Confidence *float64 `json:"confidence,omitempty"`
}

type topicsResponse struct {
	Topics []rawTopic `json:"topics"`
}

// Run classifies each input once. Error and cancellation semantics match
// Orchestrator.Run.
func (c *Classifier) Run(ctx context.Context, inputs []model.CleanedText) (*model.BatchReport, error) {
	if err := c.opts.validate(); err != nil {
		return nil, err
	}
	if err := c.store.Ping(ctx); err != nil {
		return nil, eris.Wrap(err, "enrich: ping store")
	}

	c.report = model.NewBatchReport(model.StageClassify)
	before := c.caller.Usage()

	seen := make(map[int64]bool, len(inputs))
	g := new(errgroup.Group)
	g.SetLimit(c.opts.MaxWorkers)
	for _, in := range inputs {
		if seen[in.PropositionID] {
			continue
		}
		seen[in.PropositionID] = true
		if c.opts.Limit > 0 && len(seen) > c.opts.Limit {
			break
		}
		if ctx.Err() != nil {
			c.record(model.OutcomeCanceled)
			continue
		}
		g.Go(func() error {
			c.process(ctx, in)
			return nil
		})
	}
	_ = g.Wait()

	usage := c.caller.Usage().Since(before)
	c.report.InputTokens = usage.InputTokens
	c.report.OutputTokens = usage.OutputTokens
	usage.LogCost(c.opts.Model, "classify.batch")

	totals := c.report.Totals()
	zap.L().Info("classify: batch complete",
		zap.Int("succeeded", totals.Succeeded),
		zap.Int("failed_permanent", totals.FailedPermanent),
		zap.Int("skipped", totals.Skipped),
		zap.Int("canceled", totals.Canceled),
	)
	return c.report, nil
}

func (c *Classifier) process(ctx context.Context, in model.CleanedText) {
	id := in.PropositionID
	log := zap.L().With(zap.Int64("proposition_id", id), zap.String("kind", ReportKeyTopics))

	if ctx.Err() != nil {
		c.record(model.OutcomeCanceled)
		return
	}

	if !c.opts.Force {
		existing, err := c.store.GetTopicAssignment(ctx, id)
		if err != nil {
			log.Error("classify: load stored assignment", zap.Error(err))
			c.fail(id, 0, err)
			return
		}
		if existing != nil && existing.Status == model.StatusSucceeded {
			c.record(model.OutcomeSkipped)
			return
		}
	}

	text, source, err := c.input(ctx, in)
	if err != nil {
		log.Error("classify: load summary", zap.Error(err))
		c.fail(id, 0, err)
		return
	}
	if strings.TrimSpace(text) == "" {
		c.commit(ctx, log, c.sentinel(id, source, 0, ErrEmptyInput.Error()))
		return
	}

	req := anthropic.MessageRequest{
		Model:      c.opts.Model,
		MaxTokens:  c.opts.MaxTokens,
		System:     anthropic.BuildCachedSystemBlocks(c.system, ""),
		Messages:   []anthropic.Message{{Role: "user", Content: userPrompt(text)}},
		Tools:      []anthropic.Tool{classifyTool(c.tax.Labels(), c.tax.MaxTopics())},
		ToolChoice: classifyToolName,
	}

	retry := c.opts.Retry
	retry.OnRetry = resilience.RetryLogger("anthropic", "classify", zap.Int64("proposition_id", id))

	topics, st, err := resilience.DoVal(ctx, retry, func(ctx context.Context) ([]rawTopic, error) {
		return c.classify(ctx, req)
	})

	if st.Interrupted || errors.Is(err, errWaitInterrupted) {
		log.Warn("classify: item canceled", zap.Int("attempts", st.Attempts))
		c.record(model.OutcomeCanceled)
		return
	}
	if err != nil {
		c.commit(ctx, log, c.sentinel(id, source, st.Attempts, err.Error()))
		return
	}

	a := c.resolve(id, topics)
	a.Source = source
	a.Attempts = st.Attempts
	if len(a.DroppedLabels) > 0 {
		log.Warn("classify: dropped labels outside the taxonomy", zap.Strings("labels", a.DroppedLabels))
	}
	c.commit(ctx, log, a)
}

// input picks the classifier's input text: the succeeded summary when
// enabled and available, else the truncated cleaned text.
func (c *Classifier) input(ctx context.Context, in model.CleanedText) (string, model.TopicSource, error) {
	if c.opts.ClassifyFromSummary {
		res, err := c.store.GetExtraction(ctx, in.PropositionID, model.KindSummary)
		if err != nil {
			return "", "", err
		}
		if res != nil && res.Status == model.StatusSucceeded {
			p, err := res.Decode()
			if err == nil {
				if s, ok := p.(model.SummaryPayload); ok {
					return s.Summary + "\nTema principal: " + s.MainTheme, model.TopicSourceSummary, nil
				}
			}
			zap.L().Warn("classify: stored summary unreadable, using text",
				zap.Int64("proposition_id", in.PropositionID), zap.Error(err))
		}
	}
	if !in.Available() {
		return "", model.TopicSourceText, nil
	}
	return Truncate(in.Text, c.opts.MaxInputChars, c.opts.TailChars), model.TopicSourceText, nil
}

// classify performs one attempt. Only the response structure is checked
// here; label membership is resolved after the retry loop, since an unknown
// label is dropped rather than retried.
func (c *Classifier) classify(ctx context.Context, req anthropic.MessageRequest) ([]rawTopic, error) {
	resp, err := c.caller.call(ctx, "classify", req)
	if err != nil {
		return nil, err
	}

	input, ok := resp.ToolInput(classifyToolName)
	if !ok {
		return nil, resilience.NewTransientError(
			eris.Wrapf(ErrSchemaViolation, "no %s tool call (stop_reason %s)", classifyToolName, resp.StopReason), 0)
	}

	var out topicsResponse
	if err := json.Unmarshal(input, &out); err != nil {
		return nil, resilience.NewTransientError(eris.Wrap(ErrSchemaViolation, err.Error()), 0)
	}
	if out.Topics == nil {
		return nil, resilience.NewTransientError(eris.Wrap(ErrSchemaViolation, "field topics is missing"), 0)
	}
	for i, t := range out.Topics {
		if t.Confidence != nil && (*t.Confidence < 0 || *t.Confidence > 1) {
			return nil, resilience.NewTransientError(
				eris.Wrapf(ErrSchemaViolation, "topic %d confidence %v out of range", i, *t.Confidence), 0)
		}
	}
	return out.Topics, nil
}

// resolve maps returned labels onto the taxonomy in response order. Unknown
// labels are dropped, repeats collapse, and at most MaxTopics are kept. An
// empty result becomes the sentinel.
func (c *Classifier) resolve(id int64, topics []rawTopic) *model.TopicAssignment {
	a := &model.TopicAssignment{
		PropositionID: id,
		Status:        model.StatusSucceeded,
	}
	kept := make(map[string]bool)
	for _, t := range topics {
		label, ok := c.tax.Match(t.Label)
		if !ok {
			a.DroppedLabels = append(a.DroppedLabels, t.Label)
			continue
		}
		if kept[label] || len(a.Labels) >= c.tax.MaxTopics() {
			continue
		}
		kept[label] = true
		a.Labels = append(a.Labels, model.TopicLabel{
			Label:      label,
			Rank:       len(a.Labels) + 1,
			Confidence: t.Confidence,
		})
	}
	if len(a.Labels) == 0 {
		a.Labels = []model.TopicLabel{{Label: c.tax.Unclassified(), Rank: 1}}
	}
	return a
}

func (c *Classifier) sentinel(id int64, source model.TopicSource, attempts int, lastErr string) *model.TopicAssignment {
	return &model.TopicAssignment{
		PropositionID: id,
		Labels:        []model.TopicLabel{{Label: c.tax.Unclassified(), Rank: 1}},
		Status:        model.StatusFailedPermanent,
		Attempts:      attempts,
		Source:        source,
		LastError:     lastErr,
	}
}

func (c *Classifier) commit(ctx context.Context, log *zap.Logger, a *model.TopicAssignment) {
	a.UpdatedAt = time.Now().UTC()
	if err := c.store.ReplaceTopicAssignment(context.WithoutCancel(ctx), a); err != nil {
		log.Error("classify: persist assignment", zap.Error(err))
		c.fail(a.PropositionID, a.Attempts, eris.Wrap(err, "classify: persist assignment"))
		return
	}

	if a.Status == model.StatusSucceeded {
		log.Debug("classify: item succeeded",
			zap.Strings("labels", a.LabelNames()),
			zap.Int("attempts", a.Attempts),
		)
		c.record(model.OutcomeSucceeded)
		return
	}
	log.Warn("classify: item failed permanently",
		zap.Int("attempts", a.Attempts),
		zap.String("error", a.LastError),
	)
	c.fail(a.PropositionID, a.Attempts, errors.New(a.LastError))
}

func (c *Classifier) record(outcome model.Outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.Record(ReportKeyTopics, outcome)
}

func (c *Classifier) fail(id int64, attempts int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.report.Fail(model.ItemFailure{
		PropositionID: id,
		Kind:          ReportKeyTopics,
		Attempts:      attempts,
		Error:         err.Error(),
	})
}
