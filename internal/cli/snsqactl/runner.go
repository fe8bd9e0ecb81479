// Package snsqactl is a command-line client for the snsqa API.
package snsqactl

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

type Options struct {
	BaseURL    string
	SessionID  string
	Timeout    time.Duration
	HTTPClient *http.Client
	Stdout     io.Writer
	Stderr     io.Writer
}

// exitError carries a process exit code out of a cobra command.
type exitError struct {
	code int
	msg  string
}

func (e *exitError) Error() string { return e.msg }

type runner struct {
	baseURL   string
	sessionID string
	timeout   time.Duration
	client    *http.Client
	stdout    io.Writer
	stderr    io.Writer
	styles    styles
}

type styles struct {
	answer  lipgloss.Style
	source  lipgloss.Style
	failure lipgloss.Style
	muted   lipgloss.Style
}

func newStyles(w io.Writer) styles {
	r := lipgloss.NewRenderer(w)
	return styles{
		answer:  r.NewStyle().Foreground(lipgloss.Color("255")),
		source:  r.NewStyle().Foreground(lipgloss.Color("42")).Italic(true),
		failure: r.NewStyle().Foreground(lipgloss.Color("203")).Bold(true),
		muted:   r.NewStyle().Foreground(lipgloss.Color("243")),
	}
}

// Run executes one CLI invocation and returns the process exit code.
func Run(ctx context.Context, args []string, defaults Options) int {
	stdout := defaults.Stdout
	if stdout == nil {
		stdout = io.Discard
	}
	stderr := defaults.Stderr
	if stderr == nil {
		stderr = io.Discard
	}

	r := &runner{stdout: stdout, stderr: stderr, styles: newStyles(stdout)}
	root := r.rootCommand(defaults)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	if err := root.ExecuteContext(ctx); err != nil {
		var exit *exitError
		if errors.As(err, &exit) {
			if exit.msg != "" {
				_, _ = fmt.Fprintln(stderr, exit.msg)
			}
			return exit.code
		}
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}
	return 0
}

func (r *runner) rootCommand(defaults Options) *cobra.Command {
	root := &cobra.Command{
		Use:           "snsqactl",
		Short:         "Ask questions about SNS content analysis results",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, _ []string) {
			r.baseURL = strings.TrimRight(r.baseURL, "/")
			r.client = defaults.HTTPClient
			if r.client == nil {
				r.client = &http.Client{Timeout: r.timeout}
			}
		},
	}
	root.PersistentFlags().StringVar(&r.baseURL, "base-url", firstNonEmpty(defaults.BaseURL, "http://localhost:8000"), "snsqa API base URL")
	root.PersistentFlags().StringVar(&r.sessionID, "session", defaults.SessionID, "Conversation session id")
	root.PersistentFlags().DurationVar(&r.timeout, "timeout", durationOr(defaults.Timeout, 150*time.Second), "HTTP timeout (e.g. 30s)")

	root.AddCommand(
		&cobra.Command{
			Use:   "ask <question>",
			Short: "Ask a question in natural language",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return r.ask(cmd.Context(), strings.Join(args, " "))
			},
		},
		&cobra.Command{
			Use:   "clear",
			Short: "Forget the session's conversation history",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				payload := map[string]string{}
				if r.sessionID != "" {
					payload["session_id"] = r.sessionID
				}
				return r.printJSON(cmd.Context(), http.MethodPost, "/v1/rag/clear-history", payload)
			},
		},
		&cobra.Command{
			Use:   "status",
			Short: "Show store connectivity and allowed tables",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return r.printJSON(cmd.Context(), http.MethodGet, "/v1/rag/status", nil)
			},
		},
		r.historyCommand(),
		&cobra.Command{
			Use:   "health",
			Short: "GET /v1/health",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return r.printJSON(cmd.Context(), http.MethodGet, "/v1/health", nil)
			},
		},
		&cobra.Command{
			Use:   "ready",
			Short: "GET /v1/ready",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, _ []string) error {
				return r.printJSON(cmd.Context(), http.MethodGet, "/v1/ready", nil)
			},
		},
	)
	return root
}

func (r *runner) historyCommand() *cobra.Command {
	var limit int
	var date string
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent questions, or one archived day with --date",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			query := url.Values{}
			if limit > 0 {
				query.Set("limit", strconv.Itoa(limit))
			}
			if date != "" {
				query.Set("date", date)
			}
			path := "/v1/rag/history"
			if encoded := query.Encode(); encoded != "" {
				path += "?" + encoded
			}
			return r.printJSON(cmd.Context(), http.MethodGet, path, nil)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum entries to return")
	cmd.Flags().StringVar(&date, "date", "", "Archived UTC day (YYYY-MM-DD)")
	return cmd
}

type chatOutcome struct {
	Answer  string   `json:"answer"`
	Sources []string `json:"sources"`
	Error   string   `json:"error"`
	Status  string   `json:"status"`
}

func (r *runner) ask(ctx context.Context, question string) error {
	payload := map[string]string{"question": question}
	if r.sessionID != "" {
		payload["session_id"] = r.sessionID
	}
	code, body, err := r.do(ctx, http.MethodPost, "/v1/rag/chat", payload)
	if err != nil {
		return &exitError{code: 1, msg: fmt.Sprintf("request failed: %v", err)}
	}
	if code >= 400 {
		return &exitError{code: 1, msg: fmt.Sprintf("http %d: %s", code, strings.TrimSpace(string(body)))}
	}

	var outcome chatOutcome
	if err := json.Unmarshal(body, &outcome); err != nil {
		return &exitError{code: 1, msg: fmt.Sprintf("decode response: %v", err)}
	}
	if outcome.Status != "succeeded" {
		_, _ = fmt.Fprintln(r.stdout, r.styles.failure.Render(outcome.Answer))
		if outcome.Error != "" {
			_, _ = fmt.Fprintln(r.stdout, r.styles.muted.Render(outcome.Status+": "+outcome.Error))
		}
		return &exitError{code: 1}
	}
	_, _ = fmt.Fprintln(r.stdout, r.styles.answer.Render(outcome.Answer))
	for _, source := range outcome.Sources {
		_, _ = fmt.Fprintln(r.stdout, r.styles.source.Render("source: "+source))
	}
	return nil
}

func (r *runner) printJSON(ctx context.Context, method, path string, payload any) error {
	code, body, err := r.do(ctx, method, path, payload)
	if err != nil {
		return &exitError{code: 1, msg: fmt.Sprintf("request failed: %v", err)}
	}
	if code >= 400 {
		return &exitError{code: 1, msg: fmt.Sprintf("http %d: %s", code, strings.TrimSpace(string(body)))}
	}
	if pretty, ok := prettyJSON(body); ok {
		_, _ = fmt.Fprintln(r.stdout, pretty)
		return nil
	}
	if len(body) > 0 {
		_, _ = fmt.Fprintln(r.stdout, string(body))
	}
	return nil
}

func (r *runner) do(ctx context.Context, method, path string, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, body, nil
}

func prettyJSON(raw []byte) (string, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return "", false
	}
	var anyValue any
	if err := json.Unmarshal(raw, &anyValue); err != nil {
		return "", false
	}
	formatted, err := json.MarshalIndent(anyValue, "", "  ")
	if err != nil {
		return "", false
	}
	return string(formatted), true
}

func firstNonEmpty(a, b string) string {
	if strings.TrimSpace(a) != "" {
		return strings.TrimSpace(a)
	}
	return b
}

func durationOr(v, fallback time.Duration) time.Duration {
	if v > 0 {
		return v
	}
	return fallback
}
