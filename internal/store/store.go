package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/legis-enrich/internal/config"
	"github.com/sells-group/legis-enrich/internal/db"
	"github.com/sells-group/legis-enrich/internal/model"
)

// PropositionFilter specifies criteria for listing propositions.
type PropositionFilter struct {
	Types []string  `json:"types,omitempty"`
	From  time.Time `json:"from,omitempty"`
	To    time.Time `json:"to,omitempty"`
	// WithoutText keeps only propositions that have never been cleaned.
	WithoutText bool `json:"without_text,omitempty"`
	Limit       int  `json:"limit,omitempty"`
	Offset      int  `json:"offset,omitempty"`
}

// RunFilter specifies criteria for listing batch runs.
type RunFilter struct {
	Stage  model.Stage     `json:"stage,omitempty"`
	Status model.RunStatus `json:"status,omitempty"`
	Limit  int             `json:"limit,omitempty"`
	Offset int             `json:"offset,omitempty"`
}

// Store defines the persistence interface for the cleaning and enrichment
// pipeline. Lookups return (nil, nil) when no row exists. Every write is an
// upsert on the row's natural key, so repeating a write never duplicates.
type Store interface {
	// Propositions
	UpsertPropositions(ctx context.Context, props []model.Proposition) (int64, error)
	GetProposition(ctx context.Context, id int64) (*model.Proposition, error)
	ListPropositions(ctx context.Context, filter PropositionFilter) ([]model.Proposition, error)

	// Cleaned text
	SaveCleanedTexts(ctx context.Context, texts []model.CleanedText) error
	GetCleanedText(ctx context.Context, propositionID int64) (*model.CleanedText, error)
	// ListCleanedTexts returns the texts for ids, or every text when ids is empty.
	ListCleanedTexts(ctx context.Context, ids []int64) ([]model.CleanedText, error)

	// Extractions
	GetExtraction(ctx context.Context, propositionID int64, kind model.ExtractionKind) (*model.ExtractionResult, error)
	UpsertExtraction(ctx context.Context, r *model.ExtractionResult) error
	ListExtractions(ctx context.Context, propositionID int64) ([]model.ExtractionResult, error)

	// Topics
	GetTopicAssignment(ctx context.Context, propositionID int64) (*model.TopicAssignment, error)
	ReplaceTopicAssignment(ctx context.Context, a *model.TopicAssignment) error
	TopicCounts(ctx context.Context) ([]model.TopicCount, error)

	// Word clouds
	ReplaceWordCloud(ctx context.Context, propositionID int64, words []model.WordCount) error
	GetWordCloud(ctx context.Context, propositionID int64) ([]model.WordCount, error)

	// Batch runs
	CreateBatchRun(ctx context.Context, stage model.Stage) (*model.BatchRun, error)
	FinishBatchRun(ctx context.Context, id string, status model.RunStatus, report *model.BatchReport, runErr string) error
	ListBatchRuns(ctx context.Context, filter RunFilter) ([]model.BatchRun, error)

	// Lifecycle
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error
}

// Open connects to the backend selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StoreConfig) (Store, error) {
	switch cfg.Driver {
	case "postgres":
		return NewPostgres(ctx, cfg.DatabaseURL, &PoolConfig{MaxConns: cfg.MaxConns, MinConns: cfg.MinConns})
	case "sqlite", "":
		return NewSQLite(cfg.DatabaseURL)
	default:
		return nil, eris.Errorf("store: unknown driver %q", cfg.Driver)
	}
}

// guardFailure keeps a stored success from being overwritten by a failure.
func guardFailure(table string) string {
	return fmt.Sprintf("NOT (%s.status = '%s' AND excluded.status = '%s')",
		table, model.StatusSucceeded, model.StatusFailedPermanent)
}

var (
	propositionUpsert = db.UpsertConfig{
		Table:        "propositions",
		Columns:      []string{"id", "type", "number", "year", "ementa", "presented_at", "document_url", "updated_at"},
		ConflictKeys: []string{"id"},
	}
	authorUpsert = db.UpsertConfig{
		Table:        "authors",
		Columns:      []string{"proposition_id", "author_order", "deputy_id", "name", "party", "state"},
		ConflictKeys: []string{"proposition_id", "author_order"},
	}
	textUpsert = db.UpsertConfig{
		Table:        "proposition_texts",
		Columns:      []string{"proposition_id", "text", "status", "reason", "raw_chars", "updated_at"},
		ConflictKeys: []string{"proposition_id"},
	}
	extractionUpsert = db.UpsertConfig{
		Table:        "extraction_results",
		Columns:      []string{"proposition_id", "kind", "status", "payload", "attempts", "last_error", "model", "updated_at"},
		ConflictKeys: []string{"proposition_id", "kind"},
		Where:        guardFailure("extraction_results"),
	}
	topicUpsert = db.UpsertConfig{
		Table:        "topic_assignments",
		Columns:      []string{"proposition_id", "labels", "status", "attempts", "source", "dropped_labels", "last_error", "updated_at"},
		ConflictKeys: []string{"proposition_id"},
		Where:        guardFailure("topic_assignments"),
	}
)

func propositionRow(p model.Proposition, now time.Time) []any {
	return []any{p.ID, p.Type, p.Number, p.Year, p.Ementa, nullTime(p.PresentedAt), p.DocumentURL, now}
}

func authorRows(props []model.Proposition) [][]any {
	var rows [][]any
	for _, p := range props {
		for i, a := range p.Authors {
			order := a.Order
			if order == 0 {
				order = i + 1
			}
			rows = append(rows, []any{p.ID, order, a.DeputyID, a.Name, a.Party, a.State})
		}
	}
	return rows
}

func textRow(t model.CleanedText) []any {
	return []any{t.PropositionID, t.Text, string(t.Status), t.Reason, t.RawChars, stamp(t.UpdatedAt)}
}

func extractionRow(r *model.ExtractionResult) []any {
	var payload any
	if len(r.Payload) > 0 {
		payload = string(r.Payload)
	}
	return []any{r.PropositionID, string(r.Kind), string(r.Status), payload, r.Attempts, r.LastError, r.Model, stamp(r.UpdatedAt)}
}

func topicRow(a *model.TopicAssignment) ([]any, error) {
	labels, err := json.Marshal(nonNilLabels(a.Labels))
	if err != nil {
		return nil, eris.Wrap(err, "store: marshal topic labels")
	}
	var dropped any
	if len(a.DroppedLabels) > 0 {
		b, err := json.Marshal(a.DroppedLabels)
		if err != nil {
			return nil, eris.Wrap(err, "store: marshal dropped labels")
		}
		dropped = string(b)
	}
	return []any{a.PropositionID, string(labels), string(a.Status), a.Attempts, string(a.Source), dropped, a.LastError, stamp(a.UpdatedAt)}, nil
}

func decodeTopicJSON(a *model.TopicAssignment, labels, dropped string) error {
	if labels != "" {
		if err := json.Unmarshal([]byte(labels), &a.Labels); err != nil {
			return eris.Wrap(err, "store: unmarshal topic labels")
		}
	}
	if dropped != "" {
		if err := json.Unmarshal([]byte(dropped), &a.DroppedLabels); err != nil {
			return eris.Wrap(err, "store: unmarshal dropped labels")
		}
	}
	return nil
}

func nonNilLabels(l []model.TopicLabel) []model.TopicLabel {
	if l == nil {
		return []model.TopicLabel{}
	}
	return l
}

func stamp(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t.UTC()
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	u := t.UTC()
	return &u
}

func runLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}
