package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/snsanalyzer/snsqa/internal/failure"
	"github.com/snsanalyzer/snsqa/internal/nl2sql"
	"github.com/snsanalyzer/snsqa/internal/schema"
)

type fakeTranslator struct {
	result nl2sql.Result
	err    error
	got    nl2sql.Request
}

func (f *fakeTranslator) Translate(_ context.Context, req nl2sql.Request) (nl2sql.Result, error) {
	f.got = req
	return f.result, f.err
}

func testCatalog() *schema.Catalog {
	return schema.New([]schema.Column{
		{Table: "analysis_results", Name: "id", Type: "int"},
		{Table: "analysis_results", Name: "sentiment", Type: "varchar(20)"},
		{Table: "analysis_results", Name: "toxicity_score", Type: "int"},
	})
}

func TestSchemaEndpointGroupsColumns(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{Schema: testCatalog()})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/rag/schema", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	tables, _ := decodeBody(t, rr)["tables"].([]any)
	if len(tables) != 1 {
		t.Fatalf("tables = %#v", tables)
	}
	table := tables[0].(map[string]any)
	columns, _ := table["columns"].([]any)
	if table["name"] != "analysis_results" || len(columns) != 3 {
		t.Fatalf("table = %#v", table)
	}
}

func TestSchemaEndpointWithoutCatalog(t *testing.T) {
	h := NewHandler(testConfig(t, nil), Dependencies{})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/v1/rag/schema", nil))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}

func TestTranslateReturnsSQL(t *testing.T) {
	translator := &fakeTranslator{result: nl2sql.Result{
		SQL:   "SELECT COUNT(*) FROM analysis_results WHERE sentiment = 'negative'",
		Model: "llama-3.1-8b-instant",
	}}
	h := NewHandler(testConfig(t, nil), Dependencies{Translator: translator, Schema: testCatalog()})

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/rag/translate", strings.NewReader(`{"question":"부정 게시물 수"}`)))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, body=%s", rr.Code, rr.Body.String())
	}
	got := decodeBody(t, rr)
	if got["sql"] != translator.result.SQL || got["model"] != "llama-3.1-8b-instant" {
		t.Fatalf("body = %#v", got)
	}
	if translator.got.Question != "부정 게시물 수" {
		t.Fatalf("question = %q", translator.got.Question)
	}
	if !strings.Contains(translator.got.Schema, "analysis_results") {
		t.Fatalf("schema = %q", translator.got.Schema)
	}
}

func TestTranslateMapsFailureKinds(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want int
	}{
		{"parse", failure.New(failure.KindGenerationParse, "sanitize sql", errors.New("no SELECT statement")), http.StatusUnprocessableEntity},
		{"rate limit", failure.New(failure.KindRateLimit, "generate sql", errors.New("429")), http.StatusTooManyRequests},
		{"other", errors.New("upstream broke"), http.StatusBadGateway},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			translator := &fakeTranslator{result: nl2sql.Result{Raw: "I cannot help"}, err: tc.err}
			h := NewHandler(testConfig(t, nil), Dependencies{Translator: translator, Schema: testCatalog()})

			rr := httptest.NewRecorder()
			h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/rag/translate", strings.NewReader(`{"question":"q"}`)))
			if rr.Code != tc.want {
				t.Fatalf("status = %d, want %d", rr.Code, tc.want)
			}
		})
	}
}

func TestTranslateRequiresQuestionAndCatalog(t *testing.T) {
	translator := &fakeTranslator{}
	h := NewHandler(testConfig(t, nil), Dependencies{Translator: translator, Schema: testCatalog()})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/rag/translate", strings.NewReader(`{"question":""}`)))
	if rr.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rr.Code)
	}

	h = NewHandler(testConfig(t, nil), Dependencies{Translator: translator})
	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/v1/rag/translate", strings.NewReader(`{"question":"q"}`)))
	if rr.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", rr.Code)
	}
}
