package snsqactl

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestRunAskPrintsAnswerAndSources(t *testing.T) {
	var gotMethod, gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotMethod = r.Method
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"answer":"부정적인 게시물은 3건입니다.","sources":["Database (MariaDB)"],"status":"succeeded"}`))
	}))
	defer srv.Close()

	var stdout, stderr bytes.Buffer
	code := Run(context.Background(), []string{
		"--base-url", srv.URL,
		"--session", "s1",
		"ask", "부정적인", "게시물은?",
	}, Options{Stdout: &stdout, Stderr: &stderr, Timeout: 2 * time.Second})
	if code != 0 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if gotMethod != http.MethodPost || gotPath != "/v1/rag/chat" {
		t.Fatalf("request = %s %s", gotMethod, gotPath)
	}
	if gotBody["question"] != "부정적인 게시물은?" || gotBody["session_id"] != "s1" {
		t.Fatalf("body = %#v", gotBody)
	}
	out := stdout.String()
	if !strings.Contains(out, "부정적인 게시물은 3건입니다.") || !strings.Contains(out, "source: Database (MariaDB)") {
		t.Fatalf("stdout = %q", out)
	}
}

func TestRunAskFailureOutcomeExitsNonZero(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"answer":"데이터베이스에 연결되지 않았습니다.","error":"store is not connected","status":"not_connected"}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "ask", "q"}, Options{Stdout: &stdout})
	if code != 1 {
		t.Fatalf("exit code = %d", code)
	}
	if !strings.Contains(stdout.String(), "not_connected: store is not connected") {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunClearSendsSession(t *testing.T) {
	var gotPath string
	var gotBody map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		_ = json.NewDecoder(r.Body).Decode(&gotBody)
		_, _ = w.Write([]byte(`{"success":true}`))
	}))
	defer srv.Close()

	code := Run(context.Background(), []string{"--base-url", srv.URL, "--session", "s9", "clear"}, Options{})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotPath != "/v1/rag/clear-history" || gotBody["session_id"] != "s9" {
		t.Fatalf("path=%s body=%#v", gotPath, gotBody)
	}
}

func TestRunHistoryPassesQuery(t *testing.T) {
	var gotPath, gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		_, _ = w.Write([]byte(`{"entries":[]}`))
	}))
	defer srv.Close()

	var stdout bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL + "/", "history", "--limit", "5", "--date", "2026-03-04"}, Options{Stdout: &stdout})
	if code != 0 {
		t.Fatalf("exit code = %d", code)
	}
	if gotPath != "/v1/rag/history" || gotQuery != "date=2026-03-04&limit=5" {
		t.Fatalf("request = %s?%s", gotPath, gotQuery)
	}
	if !strings.Contains(stdout.String(), `"entries": []`) {
		t.Fatalf("stdout = %q", stdout.String())
	}
}

func TestRunReturnsErrorOnHTTPFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error_code":"NOT_READY"}`))
	}))
	defer srv.Close()

	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"--base-url", srv.URL, "status"}, Options{Stderr: &stderr})
	if code != 1 {
		t.Fatalf("exit code = %d, stderr=%s", code, stderr.String())
	}
	if !strings.Contains(stderr.String(), "http 503") {
		t.Fatalf("stderr = %q", stderr.String())
	}
}

func TestRunUnknownCommand(t *testing.T) {
	var stderr bytes.Buffer
	code := Run(context.Background(), []string{"unknown"}, Options{Stderr: &stderr})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
	if stderr.Len() == 0 {
		t.Fatal("expected error output")
	}
}

func TestRunAskRequiresQuestion(t *testing.T) {
	code := Run(context.Background(), []string{"ask"}, Options{})
	if code != 2 {
		t.Fatalf("exit code = %d", code)
	}
}
