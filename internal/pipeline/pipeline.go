// Package pipeline answers a question in three stages: generate SQL, execute
// it, synthesize the reply. A rate-limited call is re-run once after a fixed
// backoff; every failure becomes an Outcome rather than an error.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/snsanalyzer/snsqa/internal/answer"
	"github.com/snsanalyzer/snsqa/internal/conversation"
	"github.com/snsanalyzer/snsqa/internal/failure"
	"github.com/snsanalyzer/snsqa/internal/history"
	"github.com/snsanalyzer/snsqa/internal/nl2sql"
	"github.com/snsanalyzer/snsqa/internal/observability"
	"github.com/snsanalyzer/snsqa/internal/prompts"
	"github.com/snsanalyzer/snsqa/internal/query"
	"github.com/snsanalyzer/snsqa/internal/schema"
)

const retrySuffix = " - Retrieved after retry"

type SQLGenerator interface {
	Generate(ctx context.Context, req nl2sql.Request) (nl2sql.Result, error)
}

type SQLExecutor interface {
	Execute(ctx context.Context, sqlText string) (query.Result, error)
}

type AnswerSynthesizer interface {
	Synthesize(ctx context.Context, in answer.Input) (string, error)
}

type Recorder interface {
	Record(entry history.Entry) history.Entry
}

type Pinger interface {
	PingContext(ctx context.Context) error
}

type WaitFunc func(ctx context.Context, d time.Duration) error

type Config struct {
	// Catalog is nil when the store could not be reached at startup. Every
	// Query then short-circuits with the not-connected message.
	Catalog     *schema.Catalog
	Generator   SQLGenerator
	Executor    SQLExecutor
	Synthesizer AnswerSynthesizer
	Store       Pinger

	Sessions *conversation.Registry
	History  Recorder
	Messages prompts.Messages

	HistoryWindow   int
	RowLimit        int
	ResultCharCap   int
	RetryBackoff    time.Duration
	ProvenanceLabel string

	Wait   WaitFunc
	Logger *slog.Logger
}

type Pipeline struct {
	catalog     *schema.Catalog
	schemaText  string
	generator   SQLGenerator
	executor    SQLExecutor
	synthesizer AnswerSynthesizer
	store       Pinger

	sessions *conversation.Registry
	history  Recorder
	messages prompts.Messages

	window  int
	rowCap  int
	charCap int
	backoff time.Duration
	label   string

	wait   WaitFunc
	logger *slog.Logger
}

func New(cfg Config) (*Pipeline, error) {
	if cfg.Catalog != nil {
		if cfg.Generator == nil || cfg.Executor == nil || cfg.Synthesizer == nil {
			return nil, fmt.Errorf("generator, executor and synthesizer are required for a connected pipeline")
		}
	}
	if cfg.ResultCharCap <= 0 {
		return nil, fmt.Errorf("result character cap must be > 0")
	}
	if cfg.RetryBackoff < 0 {
		return nil, fmt.Errorf("retry backoff must be >= 0")
	}
	sessions := cfg.Sessions
	if sessions == nil {
		sessions = conversation.NewRegistry(conversation.DefaultMaxSessions)
	}
	messages := cfg.Messages
	if messages == (prompts.Messages{}) {
		messages = prompts.Default().Messages
	}
	rowCap := cfg.RowLimit
	if rowCap <= 0 {
		rowCap = 5
	}
	label := strings.TrimSpace(cfg.ProvenanceLabel)
	if label == "" {
		label = "Database"
	}
	wait := cfg.Wait
	if wait == nil {
		wait = sleepContext
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Pipeline{
		catalog:     cfg.Catalog,
		generator:   cfg.Generator,
		executor:    cfg.Executor,
		synthesizer: cfg.Synthesizer,
		store:       cfg.Store,
		sessions:    sessions,
		history:     cfg.History,
		messages:    messages,
		window:      cfg.HistoryWindow,
		rowCap:      rowCap,
		charCap:     cfg.ResultCharCap,
		backoff:     cfg.RetryBackoff,
		label:       label,
		wait:        wait,
		logger:      logger,
	}
	if cfg.Catalog != nil {
		p.schemaText = cfg.Catalog.Describe()
	}
	return p, nil
}

type attemptResult struct {
	sql    string
	answer string
}

// Query runs the pipeline for one question. On success the turn is appended
// to the session before the outcome is returned. A session is only created
// by a successful turn.
func (p *Pipeline) Query(ctx context.Context, question, sessionID string) Outcome {
	start := time.Now()
	sessionID = conversation.NormalizeID(sessionID)
	logger := observability.WithTrace(ctx, p.logger).With("session_id", sessionID)

	if p.catalog == nil {
		outcome := Outcome{Answer: p.messages.NotConnected, Error: "store is not connected", Status: StatusNotConnected}
		p.finish(sessionID, question, "", false, outcome, start)
		return outcome
	}

	var transcript string
	if session, ok := p.sessions.Peek(sessionID); ok {
		transcript = session.FormatRecent(p.window)
	}
	run, err := p.safeAttempt(ctx, logger, question, transcript)
	retried := false
	if err != nil && failure.IsRateLimit(err) {
		retried = true
		observability.IncrementPipelineRetry()
		logger.Warn("rate limit reached, retrying once", "backoff", p.backoff, "error", err)
		if waitErr := p.wait(ctx, p.backoff); waitErr != nil {
			err = failure.New(failure.KindUnknown, "retry backoff", waitErr)
		} else {
			run, err = p.safeAttempt(ctx, logger, question, transcript)
		}
	}

	var outcome Outcome
	if err != nil {
		outcome = p.failureOutcome(err, retried)
		logger.Error("question pipeline failed", "kind", failure.KindOf(err), "retried", retried, "error", err)
	} else {
		p.sessions.Session(sessionID).Append(question, run.answer)
		source := p.label
		if retried {
			source += retrySuffix
		}
		outcome = Outcome{Answer: run.answer, Sources: []string{source}, Status: StatusSucceeded}
	}
	p.finish(sessionID, question, run.sql, retried, outcome, start)
	return outcome
}

// safeAttempt turns a panic in any stage into an unknown failure.
func (p *Pipeline) safeAttempt(ctx context.Context, logger *slog.Logger, question, transcript string) (run attemptResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			observability.IncrementPipelinePanic()
			err = failure.New(failure.KindUnknown, "pipeline", fmt.Errorf("panic: %v", r))
		}
	}()
	return p.attempt(ctx, logger, question, transcript)
}

func (p *Pipeline) attempt(ctx context.Context, logger *slog.Logger, question, transcript string) (attemptResult, error) {
	var run attemptResult

	started := time.Now()
	generated, err := p.generator.Generate(ctx, nl2sql.Request{
		Question: question,
		History:  transcript,
		Schema:   p.schemaText,
		RowLimit: p.rowCap,
	})
	observability.ObserveStage("generate", err, time.Since(started))
	if err != nil {
		return run, err
	}
	run.sql = generated.SQL
	logger.Debug("sql generated", "sql", generated.SQL)

	started = time.Now()
	result, err := p.executor.Execute(ctx, generated.SQL)
	observability.ObserveStage("execute", err, time.Since(started))
	if err != nil {
		return run, err
	}
	resultText, truncated := query.Truncate(result.Text(), p.charCap)
	if truncated {
		observability.IncrementResultTruncated()
	}

	started = time.Now()
	reply, err := p.synthesizer.Synthesize(ctx, answer.Input{
		Question:   question,
		SQL:        generated.SQL,
		Result:     resultText,
		History:    transcript,
		Schema:     p.schemaText,
		TableNames: p.catalog.TableNames(),
	})
	observability.ObserveStage("synthesize", err, time.Since(started))
	if err != nil {
		return run, err
	}

	if refs := p.catalog.UnknownTableRefs(reply); len(refs) > 0 {
		observability.IncrementUnknownTableRefs()
		logger.Warn("answer references tables outside the allow-list", "tables", refs)
	}
	run.answer = reply
	return run, nil
}

func (p *Pipeline) failureOutcome(err error, retried bool) Outcome {
	description := err.Error()
	switch {
	case errors.Is(err, failure.ErrMissingCredentials):
		return Outcome{Answer: p.messages.MissingCredentials, Error: description, Status: StatusMissingCredentials}
	case failure.KindOf(err) == failure.KindGenerationParse:
		return Outcome{Answer: p.messages.CouldNotUnderstand, Error: description, Status: StatusCouldNotUnderstand}
	case failure.IsRateLimit(err) && retried:
		return Outcome{Answer: p.messages.Overloaded, Error: description, Status: StatusOverloaded}
	default:
		return Outcome{Answer: p.messages.GenericErrorFor(description), Error: description, Status: StatusFailed}
	}
}

func (p *Pipeline) finish(sessionID, question, sqlText string, retried bool, outcome Outcome, start time.Time) {
	observability.ObservePipelineCall(string(outcome.Status))
	if p.history == nil {
		return
	}
	p.history.Record(history.Entry{
		SessionID:  sessionID,
		Question:   question,
		SQL:        sqlText,
		Outcome:    string(outcome.Status),
		Retried:    retried,
		Error:      outcome.Error,
		DurationMs: time.Since(start).Milliseconds(),
	})
}

// ClearHistory empties the session. It always succeeds.
func (p *Pipeline) ClearHistory(sessionID string) bool {
	p.sessions.Clear(sessionID)
	return true
}

func (p *Pipeline) Health(ctx context.Context) Health {
	if p.catalog == nil {
		return Health{Connected: false, Tables: []string{}}
	}
	connected := true
	if p.store != nil {
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		if err := p.store.PingContext(pingCtx); err != nil {
			p.logger.Warn("store ping failed", "error", err)
			connected = false
		}
	}
	return Health{Connected: connected, Tables: p.catalog.TableNames()}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
