package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/legis-enrich/internal/db"
	"github.com/sells-group/legis-enrich/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// sqlitePragmas are applied by the driver to every pooled connection.
// Setting them with Exec would only reach the connection that ran it.
var sqlitePragmas = []string{
	"journal_mode(WAL)",
	"busy_timeout(5000)",
	"synchronous(NORMAL)",
	"foreign_keys(1)",
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", sqliteDSN(dsn))
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	if isMemoryDSN(dsn) {
		// Each connection to :memory: is its own database.
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, eris.Wrap(err, "sqlite: ping")
	}
	return &SQLiteStore{db: db}, nil
}

// sqliteDSN appends the connection pragmas and immediate transactions to
// dsn. Immediate transactions take the write lock up front, so a
// read-then-write transaction waits on busy_timeout instead of failing.
func sqliteDSN(dsn string) string {
	params := make([]string, 0, len(sqlitePragmas)+1)
	for _, p := range sqlitePragmas {
		params = append(params, "_pragma="+p)
	}
	params = append(params, "_txlock=immediate")

	sep := "?"
	if strings.Contains(dsn, "?") {
		sep = "&"
	}
	return dsn + sep + strings.Join(params, "&")
}

func isMemoryDSN(dsn string) bool {
	return strings.HasPrefix(dsn, ":memory:") || strings.Contains(dsn, "mode=memory")
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS propositions (
	id           INTEGER PRIMARY KEY,
	type         TEXT NOT NULL,
	number       INTEGER NOT NULL,
	year         INTEGER NOT NULL,
	ementa       TEXT NOT NULL DEFAULT '',
	presented_at DATETIME,
	document_url TEXT NOT NULL DEFAULT '',
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS authors (
	proposition_id INTEGER NOT NULL REFERENCES propositions(id) ON DELETE CASCADE,
	author_order   INTEGER NOT NULL,
	deputy_id      INTEGER NOT NULL DEFAULT 0,
	name           TEXT NOT NULL,
	party          TEXT NOT NULL DEFAULT '',
	state          TEXT NOT NULL DEFAULT '',
	PRIMARY KEY (proposition_id, author_order)
);

CREATE TABLE IF NOT EXISTS proposition_texts (
	proposition_id INTEGER PRIMARY KEY,
	text           TEXT NOT NULL,
	status         TEXT NOT NULL,
	reason         TEXT NOT NULL DEFAULT '',
	raw_chars      INTEGER NOT NULL DEFAULT 0,
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS extraction_results (
	proposition_id INTEGER NOT NULL,
	kind           TEXT NOT NULL,
	status         TEXT NOT NULL,
	payload        TEXT,
	attempts       INTEGER NOT NULL DEFAULT 0,
	last_error     TEXT NOT NULL DEFAULT '',
	model          TEXT NOT NULL DEFAULT '',
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now')),
	PRIMARY KEY (proposition_id, kind)
);

CREATE TABLE IF NOT EXISTS topic_assignments (
	proposition_id INTEGER PRIMARY KEY,
	labels         TEXT NOT NULL DEFAULT '[]',
	status         TEXT NOT NULL,
	attempts       INTEGER NOT NULL DEFAULT 0,
	source         TEXT NOT NULL DEFAULT '',
	dropped_labels TEXT,
	last_error     TEXT NOT NULL DEFAULT '',
	updated_at     DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS word_clouds (
	proposition_id INTEGER NOT NULL,
	word           TEXT NOT NULL,
	count          INTEGER NOT NULL,
	PRIMARY KEY (proposition_id, word)
);

CREATE TABLE IF NOT EXISTS batch_runs (
	id          TEXT PRIMARY KEY,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	report      TEXT,
	error       TEXT NOT NULL DEFAULT '',
	started_at  DATETIME NOT NULL DEFAULT (datetime('now')),
	finished_at DATETIME
);

CREATE INDEX IF NOT EXISTS idx_propositions_type_year ON propositions(type, year);
CREATE INDEX IF NOT EXISTS idx_extraction_results_status ON extraction_results(kind, status);
CREATE INDEX IF NOT EXISTS idx_batch_runs_started_at ON batch_runs(started_at);
`

func (s *SQLiteStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.db.PingContext(ctx), "sqlite: ping")
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Propositions ---

func (s *SQLiteStore) UpsertPropositions(ctx context.Context, props []model.Proposition) (int64, error) {
	if len(props) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()

	var n int64
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		pstmt, err := tx.PrepareContext(ctx, db.MustUpsertSQL(db.SQLite, propositionUpsert))
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare proposition upsert")
		}
		defer pstmt.Close()
		for _, p := range props {
			res, err := pstmt.ExecContext(ctx, propositionRow(p, now)...)
			if err != nil {
				return eris.Wrapf(err, "sqlite: upsert proposition %d", p.ID)
			}
			affected, _ := res.RowsAffected()
			n += affected
		}

		astmt, err := tx.PrepareContext(ctx, db.MustUpsertSQL(db.SQLite, authorUpsert))
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare author upsert")
		}
		defer astmt.Close()
		for _, row := range authorRows(props) {
			if _, err := astmt.ExecContext(ctx, row...); err != nil {
				return eris.Wrap(err, "sqlite: upsert author")
			}
		}
		return nil
	})
	return n, err
}

func (s *SQLiteStore) GetProposition(ctx context.Context, id int64) (*model.Proposition, error) {
	p, err := scanSQLiteProposition(s.db.QueryRowContext(ctx,
		`SELECT id, type, number, year, ementa, presented_at, document_url FROM propositions WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get proposition %d", id)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT proposition_id, author_order, deputy_id, name, party, state
		 FROM authors WHERE proposition_id = ? ORDER BY author_order`, id)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list authors %d", id)
	}
	defer rows.Close()
	for rows.Next() {
		var a model.Author
		if err := rows.Scan(&a.PropositionID, &a.Order, &a.DeputyID, &a.Name, &a.Party, &a.State); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan author")
		}
		p.Authors = append(p.Authors, a)
	}
	return p, eris.Wrap(rows.Err(), "sqlite: list authors iterate")
}

func (s *SQLiteStore) ListPropositions(ctx context.Context, filter PropositionFilter) ([]model.Proposition, error) {
	query := `SELECT p.id, p.type, p.number, p.year, p.ementa, p.presented_at, p.document_url FROM propositions p WHERE 1=1`
	var args []any

	if len(filter.Types) > 0 {
		query += ` AND p.type IN (` + placeholders(len(filter.Types)) + `)`
		for _, t := range filter.Types {
			args = append(args, t)
		}
	}
	if !filter.From.IsZero() {
		query += ` AND p.presented_at >= ?`
		args = append(args, filter.From.UTC())
	}
	if !filter.To.IsZero() {
		query += ` AND p.presented_at < ?`
		args = append(args, filter.To.UTC())
	}
	if filter.WithoutText {
		query += ` AND NOT EXISTS (SELECT 1 FROM proposition_texts t WHERE t.proposition_id = p.id)`
	}
	query += ` ORDER BY p.id`

	if filter.Limit > 0 || filter.Offset > 0 {
		limit := filter.Limit
		if limit <= 0 {
			limit = -1
		}
		query += ` LIMIT ? OFFSET ?`
		args = append(args, limit, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list propositions")
	}
	defer rows.Close()

	var out []model.Proposition
	for rows.Next() {
		p, err := scanSQLiteProposition(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan proposition")
		}
		out = append(out, *p)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list propositions iterate")
}

func scanSQLiteProposition(row scannable) (*model.Proposition, error) {
	var p model.Proposition
	var presented sql.NullTime
	if err := row.Scan(&p.ID, &p.Type, &p.Number, &p.Year, &p.Ementa, &presented, &p.DocumentURL); err != nil {
		return nil, err
	}
	if presented.Valid {
		p.PresentedAt = presented.Time
	}
	return &p, nil
}

// --- Cleaned text ---

func (s *SQLiteStore) SaveCleanedTexts(ctx context.Context, texts []model.CleanedText) error {
	if len(texts) == 0 {
		return nil
	}
	return s.inTx(ctx, func(tx *sql.Tx) error {
		stmt, err := tx.PrepareContext(ctx, db.MustUpsertSQL(db.SQLite, textUpsert))
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare text upsert")
		}
		defer stmt.Close()
		for _, t := range texts {
			if _, err := stmt.ExecContext(ctx, textRow(t)...); err != nil {
				return eris.Wrapf(err, "sqlite: save cleaned text %d", t.PropositionID)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetCleanedText(ctx context.Context, propositionID int64) (*model.CleanedText, error) {
	var t model.CleanedText
	err := s.db.QueryRowContext(ctx,
		`SELECT proposition_id, text, status, reason, raw_chars, updated_at FROM proposition_texts WHERE proposition_id = ?`,
		propositionID,
	).Scan(&t.PropositionID, &t.Text, &t.Status, &t.Reason, &t.RawChars, &t.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get cleaned text %d", propositionID)
	}
	return &t, nil
}

func (s *SQLiteStore) ListCleanedTexts(ctx context.Context, ids []int64) ([]model.CleanedText, error) {
	query := `SELECT proposition_id, text, status, reason, raw_chars, updated_at FROM proposition_texts`
	var args []any
	if len(ids) > 0 {
		query += ` WHERE proposition_id IN (` + placeholders(len(ids)) + `)`
		for _, id := range ids {
			args = append(args, id)
		}
	}
	query += ` ORDER BY proposition_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list cleaned texts")
	}
	defer rows.Close()

	var out []model.CleanedText
	for rows.Next() {
		var t model.CleanedText
		if err := rows.Scan(&t.PropositionID, &t.Text, &t.Status, &t.Reason, &t.RawChars, &t.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan cleaned text")
		}
		out = append(out, t)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list cleaned texts iterate")
}

// --- Extractions ---

const sqliteExtractionCols = `proposition_id, kind, status, COALESCE(payload, ''), attempts, last_error, model, updated_at`

func (s *SQLiteStore) GetExtraction(ctx context.Context, propositionID int64, kind model.ExtractionKind) (*model.ExtractionResult, error) {
	r, err := scanSQLiteExtraction(s.db.QueryRowContext(ctx,
		`SELECT `+sqliteExtractionCols+` FROM extraction_results WHERE proposition_id = ? AND kind = ?`,
		propositionID, string(kind)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get extraction %d/%s", propositionID, kind)
	}
	return r, nil
}

func (s *SQLiteStore) UpsertExtraction(ctx context.Context, r *model.ExtractionResult) error {
	_, err := s.db.ExecContext(ctx, db.MustUpsertSQL(db.SQLite, extractionUpsert), extractionRow(r)...)
	return eris.Wrapf(err, "sqlite: upsert extraction %d/%s", r.PropositionID, r.Kind)
}

func (s *SQLiteStore) ListExtractions(ctx context.Context, propositionID int64) ([]model.ExtractionResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+sqliteExtractionCols+` FROM extraction_results WHERE proposition_id = ? ORDER BY kind`,
		propositionID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: list extractions %d", propositionID)
	}
	defer rows.Close()

	var out []model.ExtractionResult
	for rows.Next() {
		r, err := scanSQLiteExtraction(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan extraction")
		}
		out = append(out, *r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list extractions iterate")
}

func scanSQLiteExtraction(row scannable) (*model.ExtractionResult, error) {
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

func (s *SQLiteStore) GetTopicAssignment(ctx context.Context, propositionID int64) (*model.TopicAssignment, error) {
	var a model.TopicAssignment
	var labels, dropped string
	err := s.db.QueryRowContext(ctx,
		`SELECT proposition_id, labels, status, attempts, source, COALESCE(dropped_labels, ''), last_error, updated_at
		 FROM topic_assignments WHERE proposition_id = ?`,
		propositionID,
	).Scan(&a.PropositionID, &labels, &a.Status, &a.Attempts, &a.Source, &dropped, &a.LastError, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get topic assignment %d", propositionID)
	}
	if err := decodeTopicJSON(&a, labels, dropped); err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *SQLiteStore) ReplaceTopicAssignment(ctx context.Context, a *model.TopicAssignment) error {
	row, err := topicRow(a)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, db.MustUpsertSQL(db.SQLite, topicUpsert), row...)
	return eris.Wrapf(err, "sqlite: replace topic assignment %d", a.PropositionID)
}

func (s *SQLiteStore) TopicCounts(ctx context.Context) ([]model.TopicCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT json_extract(l.value, '$.label') AS label, COUNT(DISTINCT t.proposition_id)
		 FROM topic_assignments t, json_each(t.labels) l
		 GROUP BY 1 ORDER BY 2 DESC, 1`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: topic counts")
	}
	defer rows.Close()

	var out []model.TopicCount
	for rows.Next() {
		var c model.TopicCount
		if err := rows.Scan(&c.Label, &c.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan topic count")
		}
		out = append(out, c)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: topic counts iterate")
}

// --- Word clouds ---

func (s *SQLiteStore) ReplaceWordCloud(ctx context.Context, propositionID int64, words []model.WordCount) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM word_clouds WHERE proposition_id = ?`, propositionID); err != nil {
			return eris.Wrapf(err, "sqlite: clear word cloud %d", propositionID)
		}
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO word_clouds (proposition_id, word, count) VALUES (?, ?, ?)`)
		if err != nil {
			return eris.Wrap(err, "sqlite: prepare word cloud insert")
		}
		defer stmt.Close()
		for _, w := range words {
			if _, err := stmt.ExecContext(ctx, propositionID, w.Word, w.Count); err != nil {
				return eris.Wrapf(err, "sqlite: insert word %q", w.Word)
			}
		}
		return nil
	})
}

func (s *SQLiteStore) GetWordCloud(ctx context.Context, propositionID int64) ([]model.WordCount, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT word, count FROM word_clouds WHERE proposition_id = ? ORDER BY count DESC, word`,
		propositionID)
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get word cloud %d", propositionID)
	}
	defer rows.Close()

	var out []model.WordCount
	for rows.Next() {
		var w model.WordCount
		if err := rows.Scan(&w.Word, &w.Count); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan word count")
		}
		out = append(out, w)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: get word cloud iterate")
}

// --- Batch runs ---

func (s *SQLiteStore) CreateBatchRun(ctx context.Context, stage model.Stage) (*model.BatchRun, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO batch_runs (id, stage, status, started_at) VALUES (?, ?, ?, ?)`,
		id, string(stage), string(model.RunStatusRunning), now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert batch run")
	}
	return &model.BatchRun{ID: id, Stage: stage, Status: model.RunStatusRunning, StartedAt: now}, nil
}

func (s *SQLiteStore) FinishBatchRun(ctx context.Context, id string, status model.RunStatus, report *model.BatchReport, runErr string) error {
	var reportJSON any
	if report != nil {
		b, err := json.Marshal(report)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal report")
		}
		reportJSON = string(b)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE batch_runs SET status = ?, report = ?, error = ?, finished_at = ? WHERE id = ?`,
		string(status), reportJSON, runErr, time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: finish batch run %s", id)
	}
	return checkRowsAffected(res, "batch run", id)
}

func (s *SQLiteStore) ListBatchRuns(ctx context.Context, filter RunFilter) ([]model.BatchRun, error) {
	query := `SELECT id, stage, status, COALESCE(report, ''), error, started_at, finished_at FROM batch_runs WHERE 1=1`
	var args []any

	if filter.Stage != "" {
		query += ` AND stage = ?`
		args = append(args, string(filter.Stage))
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	query += ` ORDER BY started_at DESC LIMIT ?`
	args = append(args, runLimit(filter.Limit))

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list batch runs")
	}
	defer rows.Close()

	var out []model.BatchRun
	for rows.Next() {
		var r model.BatchRun
		var report string
		var finished sql.NullTime
		if err := rows.Scan(&r.ID, &r.Stage, &r.Status, &report, &r.Error, &r.StartedAt, &finished); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan batch run")
		}
		if finished.Valid {
			t := finished.Time
			r.FinishedAt = &t
		}
		if report != "" {
			r.Report = &model.BatchReport{}
			if err := json.Unmarshal([]byte(report), r.Report); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal report")
			}
		}
		out = append(out, r)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list batch runs iterate")
}

// helpers

func (s *SQLiteStore) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin tx")
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit tx")
}

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Errorf("%s not found: %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}
