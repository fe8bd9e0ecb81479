package query

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/snsanalyzer/snsqa/internal/failure"
	"github.com/snsanalyzer/snsqa/internal/store"
)

const defaultMaxRows = 1000

type Options struct {
	// ReadOnlyTx runs each statement in a read-only transaction. It only
	// applies to MySQL and PostgreSQL.
	ReadOnlyTx     bool
	StatementGuard bool
	MaxRows        int
}

type Executor struct {
	db       *sqlx.DB
	dialect  store.Dialect
	readOnly bool
	guard    bool
	maxRows  int
}

func NewExecutor(db *sqlx.DB, dialect store.Dialect, opts Options) (*Executor, error) {
	if db == nil {
		return nil, fmt.Errorf("db is required")
	}
	maxRows := opts.MaxRows
	if maxRows <= 0 {
		maxRows = defaultMaxRows
	}
	return &Executor{
		db:       db,
		dialect:  dialect,
		readOnly: opts.ReadOnlyTx && (dialect == store.DialectMySQL || dialect == store.DialectPostgres),
		guard:    opts.StatementGuard,
		maxRows:  maxRows,
	}, nil
}

// Execute runs one statement. Every failure is tagged execution, or rate
// limit when the store reports throttling.
func (e *Executor) Execute(ctx context.Context, sqlText string) (Result, error) {
	sqlText = stripTrailingSemicolons(sqlText)
	if e.guard {
		if err := checkStatement(sqlText); err != nil {
			return Result{}, failure.New(failure.KindExecution, "check sql", err)
		}
	} else if sqlText == "" {
		return Result{}, failure.New(failure.KindExecution, "check sql", fmt.Errorf("sql is required"))
	}

	start := time.Now()
	var (
		result Result
		err    error
	)
	if e.readOnly {
		result, err = e.executeReadOnly(ctx, sqlText)
	} else {
		result, err = e.scan(ctx, e.db, sqlText)
	}
	if err != nil {
		return Result{}, failure.Classify("execute sql", err, failure.KindExecution)
	}
	result.Duration = time.Since(start)
	return result, nil
}

func (e *Executor) executeReadOnly(ctx context.Context, sqlText string) (Result, error) {
	tx, err := e.db.BeginTxx(ctx, &sql.TxOptions{ReadOnly: true})
	if err != nil {
		return Result{}, fmt.Errorf("begin read-only transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	result, err := e.scan(ctx, tx, sqlText)
	if err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, fmt.Errorf("commit read-only transaction: %w", err)
	}
	return result, nil
}

func (e *Executor) scan(ctx context.Context, q sqlx.QueryerContext, sqlText string) (Result, error) {
	rows, err := q.QueryxContext(ctx, sqlText)
	if err != nil {
		return Result{}, fmt.Errorf("execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return Result{}, fmt.Errorf("query columns: %w", err)
	}
	result := Result{Columns: columns, Rows: make([][]any, 0)}
	for rows.Next() {
		if len(result.Rows) == e.maxRows {
			result.Capped = true
			break
		}
		values, err := rows.SliceScan()
		if err != nil {
			return Result{}, fmt.Errorf("scan row: %w", err)
		}
		result.Rows = append(result.Rows, NormalizeValues(values))
	}
	if err := rows.Err(); err != nil {
		return Result{}, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// NormalizeValues converts driver byte slices to strings.
func NormalizeValues(values []any) []any {
	normalized := make([]any, len(values))
	for i, value := range values {
		switch typed := value.(type) {
		case []byte:
			normalized[i] = string(typed)
		default:
			normalized[i] = typed
		}
	}
	return normalized
}
