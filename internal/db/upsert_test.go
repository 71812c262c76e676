package db

import (
	"context"
	"fmt"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBulkUpsert_EmptyRows(t *testing.T) {
	n, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "propositions",
		Columns:      []string{"id", "ementa"},
		ConflictKeys: []string{"id"},
	}, nil)
	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestBulkUpsert_NoColumns(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:        "propositions",
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no columns specified")
}

func TestBulkUpsert_NoConflictKeys(t *testing.T) {
	_, err := BulkUpsert(context.TODO(), nil, UpsertConfig{
		Table:   "propositions",
		Columns: []string{"id", "ementa"},
	}, [][]any{{1, "a"}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no conflict keys specified")
}

func TestBulkUpsert_Success(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE "_tmp_upsert_propositions" \(LIKE "propositions" INCLUDING DEFAULTS\) ON COMMIT DROP`).
		WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_propositions"}, []string{"id", "ementa"}).WillReturnResult(2)
	mock.ExpectExec(`INSERT INTO "propositions" \("id", "ementa"\) SELECT "id", "ementa" FROM "_tmp_upsert_propositions" ON CONFLICT \("id"\) DO UPDATE SET "ementa" = excluded."ementa"`).
		WillReturnResult(pgxmock.NewResult("INSERT", 2))
	mock.ExpectCommit()
	mock.ExpectRollback()

	n, err := BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "propositions",
		Columns:      []string{"id", "ementa"},
		ConflictKeys: []string{"id"},
	}, [][]any{{1, "a"}, {2, "b"}})
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestBulkUpsert_CopyError(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectBegin()
	mock.ExpectExec(`CREATE TEMP TABLE`).WillReturnResult(pgxmock.NewResult("CREATE TABLE", 0))
	mock.ExpectCopyFrom(pgx.Identifier{"_tmp_upsert_propositions"}, []string{"id"}).WillReturnError(fmt.Errorf("boom"))
	mock.ExpectRollback()

	_, err = BulkUpsert(context.Background(), mock, UpsertConfig{
		Table:        "propositions",
		Columns:      []string{"id"},
		ConflictKeys: []string{"id"},
	}, [][]any{{1}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "COPY into temp table")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsertSQL(t *testing.T) {
	cfg := UpsertConfig{
		Table:        "extraction_results",
		Columns:      []string{"proposition_id", "kind", "status"},
		ConflictKeys: []string{"proposition_id", "kind"},
		Where:        "extraction_results.status <> 'succeeded'",
	}

	pg, err := UpsertSQL(Postgres, cfg)
	require.NoError(t, err)
	assert.Equal(t,
		`INSERT INTO "extraction_results" ("proposition_id", "kind", "status") VALUES ($1, $2, $3) `+
			`ON CONFLICT ("proposition_id", "kind") DO UPDATE SET "status" = excluded."status" `+
			`WHERE extraction_results.status <> 'succeeded'`,
		pg)

	lite, err := UpsertSQL(SQLite, cfg)
	require.NoError(t, err)
	assert.Contains(t, lite, "VALUES (?, ?, ?)")
}

func TestUpsertSQL_DoNothing(t *testing.T) {
	q := MustUpsertSQL(SQLite, UpsertConfig{
		Table:        "word_clouds",
		Columns:      []string{"proposition_id", "word"},
		ConflictKeys: []string{"proposition_id", "word"},
	})
	assert.Equal(t, `INSERT INTO "word_clouds" ("proposition_id", "word") VALUES (?, ?) ON CONFLICT ("proposition_id", "word") DO NOTHING`, q)
}

func TestUpsertSQL_Invalid(t *testing.T) {
	_, err := UpsertSQL(Postgres, UpsertConfig{Table: "t"})
	assert.Error(t, err)
	assert.Panics(t, func() { MustUpsertSQL(Postgres, UpsertConfig{Table: "t", Columns: []string{"a"}}) })
}

func TestSanitizeTable(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"simple", `"simple"`},
		{"legis.propositions", `"legis"."propositions"`},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			assert.Equal(t, tt.expected, sanitizeTable(tt.input))
		})
	}
}

func TestQuoteAndJoin(t *testing.T) {
	assert.Equal(t, `"id", "name", "value"`, quoteAndJoin([]string{"id", "name", "value"}))
}
