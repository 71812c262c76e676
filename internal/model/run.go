package model

import (
	"sort"
	"time"
)

// Stage names a batch-level pipeline stage.
type Stage string

const (
	StageImport   Stage = "import"
	StageClean    Stage = "clean"
	StageEnrich   Stage = "enrich"
	StageClassify Stage = "classify"
)

// Outcome is the per-item result of one batch run.
type Outcome string

const (
	OutcomeSucceeded       Outcome = "succeeded"
	OutcomeFailedPermanent Outcome = "failed_permanent"
	OutcomeSkipped         Outcome = "skipped"
	OutcomeCanceled        Outcome = "canceled"
)

// Counts tallies outcomes for one kind (or for classification).
type Counts struct {
	Succeeded       int `json:"succeeded"`
	FailedPermanent int `json:"failed_permanent"`
	Skipped         int `json:"skipped"`
	Canceled        int `json:"canceled"`
}

// Total returns the number of items counted.
func (c Counts) Total() int {
	return c.Succeeded + c.FailedPermanent + c.Skipped + c.Canceled
}

// ItemFailure surfaces a permanent per-item failure to the caller.
type ItemFailure struct {
	PropositionID int64  `json:"proposition_id"`
	Kind          string `json:"kind"`
	Attempts      int    `json:"attempts"`
	Error         string `json:"error"`
}

// BatchReport summarizes a batch. It is not safe for concurrent use; batch
// runners guard it with their own lock.
type BatchReport struct {
	Stage        Stage              `json:"stage"`
	Counts       map[string]*Counts `json:"counts"`
	Failures     []ItemFailure      `json:"failures,omitempty"`
	InputTokens  int64              `json:"input_tokens"`
	OutputTokens int64              `json:"output_tokens"`
	CostUSD      float64            `json:"cost_usd,omitempty"`
}

// NewBatchReport returns an empty report for stage.
func NewBatchReport(stage Stage) *BatchReport {
	return &BatchReport{Stage: stage, Counts: make(map[string]*Counts)}
}

// Record tallies one item outcome under key.
func (r *BatchReport) Record(key string, o Outcome) {
	c, ok := r.Counts[key]
	if !ok {
		c = &Counts{}
		r.Counts[key] = c
	}
	switch o {
	case OutcomeSucceeded:
		c.Succeeded++
	case OutcomeFailedPermanent:
		c.FailedPermanent++
	case OutcomeSkipped:
		c.Skipped++
	case OutcomeCanceled:
		c.Canceled++
	}
}

// Fail records a permanent failure and its details.
func (r *BatchReport) Fail(f ItemFailure) {
	r.Record(f.Kind, OutcomeFailedPermanent)
	r.Failures = append(r.Failures, f)
}

// Keys returns the count keys in sorted order.
func (r *BatchReport) Keys() []string {
	keys := make([]string, 0, len(r.Counts))
	for k := range r.Counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Totals sums counts across keys.
func (r *BatchReport) Totals() Counts {
	var t Counts
	for _, c := range r.Counts {
		t.Succeeded += c.Succeeded
		t.FailedPermanent += c.FailedPermanent
		t.Skipped += c.Skipped
		t.Canceled += c.Canceled
	}
	return t
}

// RunStatus is the state of a persisted batch run.
type RunStatus string

const (
	RunStatusRunning  RunStatus = "running"
	RunStatusComplete RunStatus = "complete"
	RunStatusCanceled RunStatus = "canceled"
	RunStatusFailed   RunStatus = "failed"
)

// BatchRun is the persisted history record of one batch.
type BatchRun struct {
	ID         string       `json:"id"`
	Stage      Stage        `json:"stage"`
	Status     RunStatus    `json:"status"`
	Report     *BatchReport `json:"report,omitempty"`
	Error      string       `json:"error,omitempty"`
	StartedAt  time.Time    `json:"started_at"`
	FinishedAt *time.Time   `json:"finished_at,omitempty"`
}
