package schema

import (
	"context"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"

	"github.com/snsanalyzer/snsqa/internal/store"
)

func TestLoadSQLiteRestrictsToAllowList(t *testing.T) {
	db := newSQLiteDB(t)
	catalog, err := Load(context.Background(), db, store.DialectSQLite, []string{"analysis_results"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	tables := catalog.TableNames()
	if len(tables) != 1 || tables[0] != "analysis_results" {
		t.Fatalf("TableNames() = %#v", tables)
	}
	if !catalog.HasColumn("detected_keywords") {
		t.Fatal("expected detected_keywords column")
	}
	if catalog.HasColumn("author_name") {
		t.Fatal("comments columns must not be visible")
	}
	desc := catalog.Describe()
	if !strings.Contains(desc, "CREATE TABLE analysis_results (") || !strings.Contains(desc, "\ttoxicity_score INTEGER") {
		t.Fatalf("Describe() = %q", desc)
	}
	if strings.Contains(desc, "comments") {
		t.Fatalf("Describe() leaked comments table: %q", desc)
	}
}

func TestLoadFailsWhenAllowedTableMissing(t *testing.T) {
	db := newSQLiteDB(t)
	_, err := Load(context.Background(), db, store.DialectSQLite, []string{"analysis_results", "blocked_words"})
	if err == nil || !strings.Contains(err.Error(), "blocked_words") {
		t.Fatalf("Load() error = %v", err)
	}
}

func TestLoadMySQLUsesInformationSchema(t *testing.T) {
	raw, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	if err != nil {
		t.Fatalf("sqlmock.New() error = %v", err)
	}
	t.Cleanup(func() { _ = raw.Close() })
	db := sqlx.NewDb(raw, "mysql")

	mock.ExpectQuery(regexp.QuoteMeta(`FROM information_schema.columns
WHERE table_schema = DATABASE() AND table_name IN (?)`)).
		WithArgs("analysis_results").
		WillReturnRows(sqlmock.NewRows([]string{"table_name", "column_name", "column_type"}).
			AddRow("analysis_results", "comment_id", "bigint(20)").
			AddRow("analysis_results", "category", "varchar(50)"))

	catalog, err := Load(context.Background(), db, store.DialectMySQL, []string{"analysis_results"})
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(catalog.Columns()) != 2 {
		t.Fatalf("Columns() = %#v", catalog.Columns())
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet sql expectations: %v", err)
	}
}

func TestLoadRequiresConnection(t *testing.T) {
	if _, err := Load(context.Background(), nil, store.DialectMySQL, []string{"analysis_results"}); err == nil {
		t.Fatal("expected error for nil db")
	}
}

func TestUnknownTableRefsFlagsHallucinatedTable(t *testing.T) {
	catalog := New([]Column{
		{Table: "analysis_results", Name: "detected_keywords", Type: "text"},
		{Table: "analysis_results", Name: "category", Type: "varchar(50)"},
	})

	bad := "가장 많이 차단된 단어는 `blocked_words` 테이블 기준으로 '바보'입니다."
	if got := catalog.UnknownTableRefs(bad); len(got) != 1 || got[0] != "blocked_words" {
		t.Fatalf("UnknownTableRefs(bad) = %#v", got)
	}
	sqlish := "SELECT word FROM blocked_words JOIN analysis_results ON 1=1"
	if got := catalog.UnknownTableRefs(sqlish); len(got) != 1 || got[0] != "blocked_words" {
		t.Fatalf("UnknownTableRefs(sqlish) = %#v", got)
	}

	good := "**analysis_results** 테이블의 `detected_keywords` 기준으로 집계했습니다. 결과는 from the latest rows."
	if got := catalog.UnknownTableRefs(good); len(got) != 0 {
		t.Fatalf("UnknownTableRefs(good) = %#v", got)
	}
}

func newSQLiteDB(t *testing.T) *sqlx.DB {
	t.Helper()
	db, err := sqlx.Open("sqlite", ":memory:")
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = db.Close() })
	for _, stmt := range []string{
		`CREATE TABLE analysis_results (
			result_id INTEGER PRIMARY KEY,
			comment_id INTEGER NOT NULL,
			category TEXT,
			detected_keywords TEXT,
			toxicity_score INTEGER,
			analyzed_at TEXT
		)`,
		`CREATE TABLE comments (comment_id INTEGER PRIMARY KEY, author_name TEXT)`,
	} {
		if _, err := db.Exec(stmt); err != nil {
			t.Fatalf("create schema: %v", err)
		}
	}
	return db
}
