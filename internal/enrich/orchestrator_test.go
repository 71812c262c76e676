package enrich

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/legis-enrich/internal/model"
	"github.com/sells-group/legis-enrich/internal/resilience"
	"github.com/sells-group/legis-enrich/pkg/anthropic"
)

const (
	validSummary   = `{"summary":"Institui o programa nacional de hortas urbanas.","main_theme":"Agricultura urbana"}`
	validSentiment = `{"sentiment":"positive","rationale":"Amplia direitos."}`
)

func TestOrchestrator_MalformedTwiceThenValid(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, forTool("record_summary")).
		Return(toolResponse("record_summary", `{"summary": "truncated`), nil).Twice()
	mc.On("CreateMessage", mock.Anything, forTool("record_summary")).
		Return(toolResponse("record_summary", validSummary), nil).Once()

	st := newMemStore()
	o := NewOrchestrator(mc, st, testOptions(model.KindSummary))

	report, err := o.Run(context.Background(), []model.CleanedText{cleaned(1, "Art. 1º Fica instituído o programa.")})
	require.NoError(t, err)

	res := st.extraction(t, 1, model.KindSummary)
	assert.Equal(t, model.StatusSucceeded, res.Status)
	assert.Equal(t, 3, res.Attempts)
	assert.Equal(t, "claude-haiku-4-5-20251001", res.Model)
	assert.JSONEq(t, validSummary, string(res.Payload))

	assert.Equal(t, 1, report.Counts["summary"].Succeeded)
	assert.Equal(t, int64(300), report.InputTokens)
	assert.Equal(t, 1, st.writeCount())
	mc.AssertNumberOfCalls(t, "CreateMessage", 3)
}

func TestOrchestrator_TimeoutEveryAttempt(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, forTool("record_sentiment")).
		Return(nil, context.DeadlineExceeded)
	mc.On("CreateMessage", mock.Anything, forTool("record_summary")).
		Return(toolResponse("record_summary", validSummary), nil)

	opts := testOptions(model.KindSentiment, model.KindSummary)
	opts.Retry.MaxAttempts = 2
	opts.MaxWorkers = 1
	st := newMemStore()

	report, err := NewOrchestrator(mc, st, opts).Run(context.Background(), []model.CleanedText{
		cleaned(1, "texto um"),
		cleaned(2, "texto dois"),
	})
	require.NoError(t, err)

	for _, id := range []int64{1, 2} {
		res := st.extraction(t, id, model.KindSentiment)
		assert.Equal(t, model.StatusFailedPermanent, res.Status)
		assert.Equal(t, 2, res.Attempts)
		assert.Contains(t, res.LastError, "deadline exceeded")

		assert.Equal(t, model.StatusSucceeded, st.extraction(t, id, model.KindSummary).Status)
	}

	assert.Equal(t, 2, report.Counts["sentiment"].FailedPermanent)
	assert.Equal(t, 2, report.Counts["summary"].Succeeded)
	require.Len(t, report.Failures, 2)
	assert.Equal(t, "sentiment", report.Failures[0].Kind)
	assert.Equal(t, 2, report.Failures[0].Attempts)
}

func TestOrchestrator_RetryBound(t *testing.T) {
	for _, maxAttempts := range []int{1, 3, 5} {
		mc := new(mockAnthropicClient)
		mc.On("CreateMessage", mock.Anything, mock.Anything).
			Return(nil, resilience.NewTransientError(errors.New("overloaded"), 529))

		opts := testOptions(model.KindIdeology)
		opts.Retry.MaxAttempts = maxAttempts
		st := newMemStore()

		_, err := NewOrchestrator(mc, st, opts).Run(context.Background(), []model.CleanedText{cleaned(7, "texto")})
		require.NoError(t, err)

		res := st.extraction(t, 7, model.KindIdeology)
		assert.Equal(t, model.StatusFailedPermanent, res.Status)
		assert.Equal(t, maxAttempts, res.Attempts)
		mc.AssertNumberOfCalls(t, "CreateMessage", maxAttempts)
	}
}

func TestOrchestrator_SchemaViolationIsRetried(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(toolResponse("record_sentiment", `{"sentiment":"ecstatic"}`), nil).Once()
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(&anthropic.MessageResponse{StopReason: "end_turn", Content: []anthropic.ContentBlock{{Type: "text", Text: "positivo"}}}, nil).Once()
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(toolResponse("record_sentiment", validSentiment), nil).Once()

	st := newMemStore()
	_, err := NewOrchestrator(mc, st, testOptions(model.KindSentiment)).
		Run(context.Background(), []model.CleanedText{cleaned(3, "texto")})
	require.NoError(t, err)

	res := st.extraction(t, 3, model.KindSentiment)
	assert.Equal(t, model.StatusSucceeded, res.Status)
	assert.Equal(t, 3, res.Attempts)
}

func TestOrchestrator_PermanentErrorNotRetried(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewPermanentError(errors.New("invalid_request_error")))

	st := newMemStore()
	report, err := NewOrchestrator(mc, st, testOptions(model.KindSummary)).
		Run(context.Background(), []model.CleanedText{cleaned(4, "texto")})
	require.NoError(t, err)

	res := st.extraction(t, 4, model.KindSummary)
	assert.Equal(t, model.StatusFailedPermanent, res.Status)
	assert.Equal(t, 1, res.Attempts)
	assert.Equal(t, 1, report.Counts["summary"].FailedPermanent)
	mc.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestOrchestrator_EmptyTextFailsWithoutCalls(t *testing.T) {
	mc := new(mockAnthropicClient)
	st := newMemStore()

	report, err := NewOrchestrator(mc, st, testOptions(model.KindSummary, model.KindNamedEntities)).
		Run(context.Background(), []model.CleanedText{
			cleaned(5, "  \n "),
			{PropositionID: 6, Status: model.TextStatusNoText, Reason: "document has no extractable text"},
		})
	require.NoError(t, err)

	for _, id := range []int64{5, 6} {
		res := st.extraction(t, id, model.KindSummary)
		assert.Equal(t, model.StatusFailedPermanent, res.Status)
		assert.Equal(t, 0, res.Attempts)
		assert.Equal(t, ErrEmptyInput.Error(), res.LastError)
	}
	assert.Equal(t, 4, report.Totals().FailedPermanent)
	mc.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestOrchestrator_RerunIsNoOp(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(toolResponse("record_summary", validSummary), nil)

	st := newMemStore()
	o := NewOrchestrator(mc, st, testOptions(model.KindSummary))
	inputs := []model.CleanedText{cleaned(1, "um"), cleaned(2, "dois")}

	_, err := o.Run(context.Background(), inputs)
	require.NoError(t, err)
	writes := st.writeCount()
	require.Equal(t, 2, writes)

	report, err := o.Run(context.Background(), inputs)
	require.NoError(t, err)
	assert.Equal(t, writes, st.writeCount())
	assert.Equal(t, 2, report.Counts["summary"].Skipped)
	assert.Zero(t, report.InputTokens)
	mc.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestOrchestrator_ForceRefresh(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(toolResponse("record_summary", validSummary), nil)

	st := newMemStore()
	_, err := NewOrchestrator(mc, st, testOptions(model.KindSummary)).
		Run(context.Background(), []model.CleanedText{cleaned(1, "um")})
	require.NoError(t, err)

	opts := testOptions(model.KindSummary)
	opts.Force = true
	report, err := NewOrchestrator(mc, st, opts).Run(context.Background(), []model.CleanedText{cleaned(1, "um")})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Counts["summary"].Succeeded)
	assert.Equal(t, 2, st.writeCount())
	mc.AssertNumberOfCalls(t, "CreateMessage", 2)
}

func TestOrchestrator_ForcedFailureKeepsSucceededRow(t *testing.T) {
	st := newMemStore()
	require.NoError(t, st.UpsertExtraction(context.Background(), &model.ExtractionResult{
		PropositionID: 1, Kind: model.KindSummary, Status: model.StatusSucceeded, Payload: []byte(validSummary), Attempts: 1,
	}))

	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(nil, resilience.NewPermanentError(errors.New("bad request")))

	opts := testOptions(model.KindSummary)
	opts.Force = true
	report, err := NewOrchestrator(mc, st, opts).Run(context.Background(), []model.CleanedText{cleaned(1, "um")})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Counts["summary"].FailedPermanent)
	assert.Equal(t, model.StatusSucceeded, st.extraction(t, 1, model.KindSummary).Status)
}

func TestOrchestrator_CanceledBeforeStart(t *testing.T) {
	mc := new(mockAnthropicClient)
	st := newMemStore()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report, err := NewOrchestrator(mc, st, testOptions()).Run(ctx, []model.CleanedText{cleaned(1, "um")})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Totals().Canceled)
	assert.Zero(t, st.writeCount())
	mc.AssertNotCalled(t, "CreateMessage", mock.Anything, mock.Anything)
}

func TestOrchestrator_CancelDuringBackoffWritesNothing(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(mock.Arguments) { cancel() }).
		Return(nil, resilience.NewTransientError(errors.New("rate limited"), 429))

	opts := testOptions(model.KindSummary)
	opts.Retry.InitialBackoff = time.Minute
	opts.Retry.MaxBackoff = time.Minute
	st := newMemStore()

	report, err := NewOrchestrator(mc, st, opts).Run(ctx, []model.CleanedText{cleaned(1, "um")})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Counts["summary"].Canceled)
	assert.Zero(t, st.writeCount())
	mc.AssertNumberOfCalls(t, "CreateMessage", 1)
}

func TestOrchestrator_InFlightCallCommitsAfterCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			cancel()
			callCtx := args.Get(0).(context.Context)
			assert.NoError(t, callCtx.Err())
		}).
		Return(toolResponse("record_summary", validSummary), nil)

	st := newMemStore()
	report, err := NewOrchestrator(mc, st, testOptions(model.KindSummary)).
		Run(ctx, []model.CleanedText{cleaned(1, "um")})
	require.NoError(t, err)

	assert.Equal(t, 1, report.Counts["summary"].Succeeded)
	assert.Equal(t, model.StatusSucceeded, st.extraction(t, 1, model.KindSummary).Status)
}

func TestOrchestrator_PingFailureIsFatal(t *testing.T) {
	st := newMemStore()
	st.pingErr = errors.New("connection refused")

	_, err := NewOrchestrator(new(mockAnthropicClient), st, testOptions()).
		Run(context.Background(), []model.CleanedText{cleaned(1, "um")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ping store")
	assert.Zero(t, st.writeCount())
}

func TestOrchestrator_InvalidOptions(t *testing.T) {
	opts := testOptions(model.KindSummary, model.KindSummary)
	_, err := NewOrchestrator(new(mockAnthropicClient), newMemStore(), opts).Run(context.Background(), nil)
	assert.Error(t, err)

	opts = testOptions()
	opts.TailChars = opts.MaxInputChars
	_, err = NewOrchestrator(new(mockAnthropicClient), newMemStore(), opts).Run(context.Background(), nil)
	assert.Error(t, err)
}

func TestOrchestrator_DuplicateInputsScheduledOnce(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(toolResponse("record_summary", validSummary), nil)

	st := newMemStore()
	report, err := NewOrchestrator(mc, st, testOptions(model.KindSummary)).
		Run(context.Background(), []model.CleanedText{cleaned(1, "um"), cleaned(1, "um"), cleaned(2, "dois")})
	require.NoError(t, err)

	assert.Equal(t, 2, report.Counts["summary"].Succeeded)
	assert.Equal(t, 2, st.writeCount())
}

func TestOrchestrator_Limit(t *testing.T) {
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.Anything).
		Return(toolResponse("record_summary", validSummary), nil)

	opts := testOptions(model.KindSummary)
	opts.Limit = 2
	report, err := NewOrchestrator(mc, newMemStore(), opts).
		Run(context.Background(), []model.CleanedText{cleaned(1, "a"), cleaned(2, "b"), cleaned(3, "c")})
	require.NoError(t, err)
	assert.Equal(t, 2, report.Totals().Total())
}

func TestOrchestrator_RequestShape(t *testing.T) {
	long := strings.Repeat("a", 3000)
	mc := new(mockAnthropicClient)
	mc.On("CreateMessage", mock.Anything, mock.MatchedBy(func(req anthropic.MessageRequest) bool {
		return req.ToolChoice == "record_named_entities" &&
			len(req.Tools) == 1 &&
			req.Tools[0].Name == "record_named_entities" &&
			len(req.System) == 1 && req.System[0].CacheControl != nil &&
			strings.Contains(req.Messages[0].Content, truncationMarker) &&
			len([]rune(req.Messages[0].Content)) < 2100
	})).Return(toolResponse("record_named_entities", `{"entities":[{"type":"person","value":"Fulano"},{"type":"person","value":"fulano"}]}`), nil)

	st := newMemStore()
	_, err := NewOrchestrator(mc, st, testOptions(model.KindNamedEntities)).
		Run(context.Background(), []model.CleanedText{cleaned(9, long)})
	require.NoError(t, err)

	res := st.extraction(t, 9, model.KindNamedEntities)
	require.Equal(t, model.StatusSucceeded, res.Status)
	p, err := res.Decode()
	require.NoError(t, err)
	assert.Len(t, p.(model.EntitiesPayload).Entities, 1)
}
