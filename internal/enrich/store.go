package enrich

import (
	"context"

	"github.com/sells-group/legis-enrich/internal/model"
)

// Store is the persistence the enrichment stages read and write through.
// Lookups return (nil, nil) when no row exists.
type Store interface {
	Ping(ctx context.Context) error

	GetExtraction(ctx context.Context, propositionID int64, kind model.ExtractionKind) (*model.ExtractionResult, error)
	// UpsertExtraction writes r by (proposition_id, kind). A failed_permanent
	// result never replaces a stored succeeded one.
	UpsertExtraction(ctx context.Context, r *model.ExtractionResult) error

	GetTopicAssignment(ctx context.Context, propositionID int64) (*model.TopicAssignment, error)
	// ReplaceTopicAssignment replaces the proposition's assignment wholesale.
	// As with extractions, a failed_permanent assignment never replaces a
	// stored succeeded one.
	ReplaceTopicAssignment(ctx context.Context, a *model.TopicAssignment) error
}
