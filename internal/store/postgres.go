package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/legis-enrich/internal/db"
	"github.com/sells-group/legis-enrich/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

var _ Store = (*PostgresStore)(nil)

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

const (
	pgGetExtraction = `SELECT proposition_id, kind, status, COALESCE(payload::text, ''), attempts, last_error, model, updated_at
		FROM extraction_results WHERE proposition_id = $1 AND kind = $2`
	pgGetTopics = `SELECT proposition_id, labels::text, status, attempts, source, COALESCE(dropped_labels::text, ''), last_error, updated_at
		FROM topic_assignments WHERE proposition_id = $1`
	pgGetText = `SELECT proposition_id, text, status, reason, raw_chars, updated_at
		FROM proposition_texts WHERE proposition_id = $1`
)

// preparedStatements lists queries to prepare on each new connection; the
// per-item lookups and writes of the enrichment stages run once per work item.
var preparedStatements = map[string]string{
	"get_extraction":           pgGetExtraction,
	"upsert_extraction":        db.MustUpsertSQL(db.Postgres, extractionUpsert),
	"get_topic_assignment":     pgGetTopics,
	"replace_topic_assignment": db.MustUpsertSQL(db.Postgres, topicUpsert),
	"get_cleaned_text":         pgGetText,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				// Tables do not exist before the first migrate.
				var pgErr *pgconn.PgError
				if errors.As(err, &pgErr) && pgErr.Code == "42P01" {
					continue
				}
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS propositions (
	id           BIGINT PRIMARY KEY,
	type         TEXT NOT NULL,
	number       INTEGER NOT NULL,
	year         INTEGER NOT NULL,
	ementa       TEXT NOT NULL DEFAULT '',
	presented_at TIMESTAMPTZ,
	document_url TEXT NOT NULL DEFAULT '',
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS authors (
	proposition_id BIGINT NOT NULL REFERENCES propositions(id) ON DELETE CASCADE,
	author_order   INTEGER NOT NULL,
	deputy_id      BIGINT NOT NULL DEFAULT 0,
	name           TEXT NOT NULL,
	party          TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (proposition_id, author_order)
);

CREATE TABLE IF NOT EXISTS proposition_texts (
	proposition_id BIGINT PRIMARY KEY,
	text           TEXT NOT NULL,
	status         TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	raw_chars      INTEGER NOT NULL DEFAULT 0,
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS extraction_results (
	proposition_id BIGINT NOT NULL,
	kind           TEXT NOT NULL,
	status         TEXT NOT NULL,
	payload        JSONB,
	attempts       INTEGER NOT NULL DEFAULT 0,
	last_error     TEXT NOT NULL DEFAULT '',
	model          TEXT NOT NULL DEFAULT '',
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (proposition_id, kind)
);

CREATE TABLE IF NOT EXISTS topic_assignments (
	proposition_id BIGINT PRIMARY KEY,
	labels         JSONB NOT NULL DEFAULT '[]',
	status         TEXT NOT NULL,
	attempts       INTEGER NOT NULL DEFAULT 0,
	source         TEXT NOT NULL DEFAULT '',
	dropped_labels JSONB,
	last_error     TEXT NOT NULL DEFAULT '',
	updated_at     TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS word_clouds (
	proposition_id BIGINT NOT NULL,
	word           TEXT NOT NULL,
	count          INTEGER NOT NULL,
	PRIMARY KEY (proposition_id, word)
);

CREATE TABLE IF NOT EXISTS batch_runs (
	id          TEXT PRIMARY KEY,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	report      JSONB,
	error       TEXT NOT NULL DEFAULT '',
	started_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	finished_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_propositions_type_year ON propositions(type, year);
CREATE INDEX IF NOT EXISTS idx_extraction_results_status ON extraction_results(kind, status);
CREATE INDEX IF NOT EXISTS idx_batch_runs_started_at ON batch_runs(started_at DESC);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// --- Propositions ---

// UpsertPropositions writes propositions and their authors in one
// transaction through COPY-backed bulk upserts.
func (s *PostgresStore) UpsertPropositions(ctx context.Context, props []model.Proposition) (int64, error) {
	if len(props) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, len(props))
	for i, p := range props {
		rows[i] = propositionRow(p, now)
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: begin proposition upsert")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	n, err := db.BulkUpsertTx(ctx, tx, propositionUpsert, rows)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: upsert propositions")
	}
	if _, err := db.BulkUpsertTx(ctx, tx, authorUpsert, authorRows(props)); err != nil {
		return 0, eris.Wrap(err, "postgres: upsert authors")
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, eris.Wrap(err, "postgres: commit proposition upsert")
	}
	return n, nil
}

func (s *PostgresStore) GetProposition(ctx context.Context, id int64) (*model.Proposition, error) {
	var p model.Proposition
	var presented *time.Time
	err := s.pool.QueryRow(ctx,
		`SELECT id, type, number, year, ementa, presented_at, document_url FROM propositions WHERE id = $1`,
		id,
	).Scan(&p.ID, &p.Type, &p.Number, &p.Year, &p.Ementa, &presented, &p.DocumentURL)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get proposition %d", id)
	}
	if presented != nil {
		p.PresentedAt = *presented
	}

	rows, err := s.pool.Query(ctx,
		`SELECT proposition_id, author_order, deputy_id, name, party, state
		 FROM authors WHERE proposition_id = $1 ORDER BY author_order`,
		id,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list authors %d", id)
	}
	defer rows.Close()
	for rows.Next() {
		var a model.Author
		if err := rows.Scan(&a.PropositionID, &a.Order, &a.DeputyID, &a.Name, &a.Party, &a.State); err != nil {
			return nil, eris.Wrap(err, "postgres: scan author")
		}
		p.Authors = append(p.Authors, a)
	}
	return &p, eris.Wrap(rows.Err(), "postgres: list authors iterate")
}

func (s *PostgresStore) ListPropositions(ctx context.Context, filter PropositionFilter) ([]model.Proposition, error) {
	query := `SELECT p.id, p.type, p.number, p.year, p.ementa, p.presented_at, p.document_url FROM propositions p WHERE true`
	args := []any{}
	argIdx := 1

	if len(filter.Types) > 0 {
		query += fmt.Sprintf(` AND p.type = ANY($%d)`, argIdx)
		args = append(args, filter.Types)
		argIdx++
	}
	if !filter.From.IsZero() {
		query += fmt.Sprintf(` AND p.presented_at >= $%d`, argIdx)
		args = append(args, filter.From.UTC())
		argIdx++
	}
	if !filter.To.IsZero() {
		query += fmt.Sprintf(` AND p.presented_at < $%d`, argIdx)
		args = append(args, filter.To.UTC())
		argIdx++
	}
	if filter.WithoutText {
		query += ` AND NOT EXISTS (SELECT 1 FROM proposition_texts t WHERE t.proposition_id = p.id)`
	}
	query += ` ORDER BY p.id`

	if filter.Limit > 0 {
		query += fmt.Sprintf(` LIMIT $%d`, argIdx)
		args = append(args, filter.Limit)
		argIdx++
	}
	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list propositions")
	}
	defer rows.Close()

	var out []model.Proposition
	for rows.Next() {
		var p model.Proposition
		var presented *time.Time
		if err := rows.Scan(&p.ID, &p.Type, &p.Number, &p.Year, &p.Ementa, &presented, &p.DocumentURL); err != nil {
			return nil, eris.Wrap(err, "postgres: scan proposition")
		}
		if presented != nil {
			p.PresentedAt = *presented
		}
		out = append(out, p)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list propositions iterate")
}

// --- Cleaned text ---

func (s *PostgresStore) SaveCleanedTexts(ctx context.Context, texts []model.CleanedText) error {
	rows := make([][]any, len(texts))
	for i, t := range texts {
		rows[i] = textRow(t)
	}
	_, err := db.BulkUpsert(ctx, s.pool, textUpsert, rows)
	return eris.Wrap(err, "postgres: save cleaned texts")
}

func (s *PostgresStore) GetCleanedText(ctx context.Context, propositionID int64) (*model.CleanedText, error) {
	var t model.CleanedText
	err := s.pool.QueryRow(ctx, pgGetText, propositionID).
		Scan(&t.PropositionID, &t.Text, &t.Status, &t.Reason, &t.RawChars, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get cleaned text %d", propositionID)
	}
	return &t, nil
}

func (s *PostgresStore) ListCleanedTexts(ctx context.Context, ids []int64) ([]model.CleanedText, error) {
	query := `SELECT proposition_id, text, status, reason, raw_chars, updated_at FROM proposition_texts`
	var args []any
	if len(ids) > 0 {
		query += ` WHERE proposition_id = ANY($1)`
		args = append(args, ids)
	}
	query += ` ORDER BY proposition_id`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list cleaned texts")
	}
	defer rows.Close()

	var out []model.CleanedText
	for rows.Next() {
		var t model.CleanedText
		if err := rows.Scan(&t.PropositionID, &t.Text, &t.Status, &t.Reason, &t.RawChars, &t.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan cleaned text")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list cleaned texts iterate")
}

// --- Extractions ---

func (s *PostgresStore) GetExtraction(ctx context.Context, propositionID int64, kind model.ExtractionKind) (*model.ExtractionResult, error) {
	r, err := scanPgExtraction(s.pool.QueryRow(ctx, pgGetExtraction, propositionID, string(kind)))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get extraction %d/%s", propositionID, kind)
	}
	return r, nil
}

func (s *PostgresStore) UpsertExtraction(ctx context.Context, r *model.ExtractionResult) error {
	_, err := s.pool.Exec(ctx, db.MustUpsertSQL(db.Postgres, extractionUpsert), extractionRow(r)...)
	return eris.Wrapf(err, "postgres: upsert extraction %d/%s", r.PropositionID, r.Kind)
}

func (s *PostgresStore) ListExtractions(ctx context.Context, propositionID int64) ([]model.ExtractionResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT proposition_id, kind, status, COALESCE(payload::text, ''), attempts, last_error, model, updated_at
		 FROM extraction_results WHERE proposition_id = $1 ORDER BY kind`,
		propositionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list extractions %d", propositionID)
	}
	defer rows.Close()

	var out []model.ExtractionResult
	for rows.Next() {
		r, err := scanPgExtraction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan extraction")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list extractions iterate")
}

func scanPgExtraction(row pgx.Row) (*model.ExtractionResult, error) {
	var r model.ExtractionResult
	var payload string
	if err := row.Scan(&r.PropositionID, &r.Kind, &r.Status, &payload, &r.Attempts, &r.LastError, &r.Model, &r.UpdatedAt); err != nil {
		return nil, err
	}
	if payload != "" {
		r.Payload = json.RawMessage(payload)
	}
	return &r, nil
}

// --- Topics ---

func (s *PostgresStore) GetTopicAssignment(ctx context.Context, propositionID int64) (*model.TopicAssignment, error) {
	var a model.TopicAssignment
	var labels, dropped string
	err := s.pool.QueryRow(ctx, pgGetTopics, propositionID).
		Scan(&a.PropositionID, &labels, &a.Status, &a.Attempts, &a.Source, &dropped, &a.LastError, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get topic assignment %d", propositionID)
	}
	if err := decodeTopicJSON(&a, labels, dropped); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *PostgresStore) ReplaceTopicAssignment(ctx context.Context, a *model.TopicAssignment) error {
	row, err := topicRow(a)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, db.MustUpsertSQL(db.Postgres, topicUpsert), row...)
	return eris.Wrapf(err, "postgres: replace topic assignment %d", a.PropositionID)
}

func (s *PostgresStore) TopicCounts(ctx context.Context) ([]model.TopicCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT l->>'label' AS label, COUNT(DISTINCT t.proposition_id)
		 FROM topic_assignments t, jsonb_array_elements(t.labels) l
		 GROUP BY 1 ORDER BY 2 DESC, 1`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: topic counts")
	}
	defer rows.Close()

	var out []model.TopicCount
	for rows.Next() {
		var c model.TopicCount
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan topic count")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "postgres: topic counts iterate")
}

// --- Word clouds ---

// ReplaceWordCloud swaps the proposition's word cloud atomically.
func (s *PostgresStore) ReplaceWordCloud(ctx context.Context, propositionID int64, words []model.WordCount) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin word cloud")
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	if _, err := tx.Exec(ctx, `DELETE FROM word_clouds WHERE proposition_id = $1`, propositionID); err != nil {
		return eris.Wrapf(err, "postgres: clear word cloud %d", propositionID)
	}
	rows := make([][]any, len(words))
	for i, w := range words {
		rows[i] = []any{propositionID, w.Word, w.Count}
	}
	if _, err := db.CopyFrom(ctx, tx, "word_clouds", []string{"proposition_id", "word", "count"}, rows); err != nil {
		return eris.Wrapf(err, "postgres: write word cloud %d", propositionID)
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit word cloud")
}

func (s *PostgresStore) GetWordCloud(ctx context.Context, propositionID int64) ([]model.WordCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT word, count FROM word_clouds WHERE proposition_id = $1 ORDER BY count DESC, word`,
		propositionID,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: get word cloud %d", propositionID)
	}
	defer rows.Close()

	var out []model.WordCount
	for rows.Next() {
		var w model.WordCount
		if err := rows.Scan(&w.Word, &w.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan word count")
		}
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "postgres: get word cloud iterate")
}

// --- Batch runs ---

func (s *PostgresStore) CreateBatchRun(ctx context.Context, stage model.Stage) (*model.BatchRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO batch_runs (id, stage, status, started_at) VALUES ($1, $2, $3, $4)`,
		id, string(stage), string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert batch run")
	}
	return &model.BatchRun{ID: id, Stage: stage, Status: model.RunStatusRunning, StartedAt: now}, nil
}

func (s *PostgresStore) FinishBatchRun(ctx context.Context, id string, status model.RunStatus, report *model.BatchReport, runErr string) error {
	var reportJSON any
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal report")
		}
		reportJSON = string(b)
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE batch_runs SET status = $1, report = $2, error = $3, finished_at = $4 WHERE id = $5`,
		string(status), reportJSON, runErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: finish batch run %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("batch run not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) ListBatchRuns(ctx context.Context, filter RunFilter) ([]model.BatchRun, error) {
	query := `SELECT id, stage, status, COALESCE(report::text, ''), error, started_at, finished_at FROM batch_runs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Stage != "" {
		query += fmt.Sprintf(` AND stage = $%d`, argIdx)
		args = append(args, string(filter.Stage))
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	query += ` ORDER BY started_at DESC`

	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, runLimit(filter.Limit))
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list batch runs")
	}
	defer rows.Close()

	var out []model.BatchRun
	for rows.Next() {
		var r model.BatchRun
		var report string
		if err := rows.Scan(&r.ID, &r.Stage, &r.Status, &report, &r.Error, &r.StartedAt, &r.FinishedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch run")
		}
		if report != "" {
			r.Report = &model.BatchReport{}
			if err := json.Unmarshal([]byte(report), r.Report); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal report")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list batch runs iterate")
}
