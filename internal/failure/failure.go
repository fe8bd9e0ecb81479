// Package failure tags pipeline errors with a kind at the point where they are
// first raised. Classify is the only place that inspects foreign error values.
package failure

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/openai/openai-go/v2"
)

type Kind string

const (
	KindConnection      Kind = "connection"
	KindGenerationParse Kind = "generation_parse"
	KindExecution       Kind = "execution"
	KindRateLimit       Kind = "rate_limit"
	KindUnknown         Kind = "unknown"
)

// ErrMissingCredentials is returned by a completion backend that has no API key
// and no local fallback.
var ErrMissingCredentials = errors.New("completion backend credentials are not configured")

type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s: %v", e.Kind, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func New(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// KindOf returns the kind of the outermost tagged error in the chain, or
// KindUnknown if err carries no tag.
func KindOf(err error) Kind {
	var tagged *Error
	if errors.As(err, &tagged) {
		return tagged.Kind
	}
	return KindUnknown
}

func IsRateLimit(err error) bool {
	return KindOf(err) == KindRateLimit
}

var rateLimitMarkers = []string{"429", "rate_limit_exceeded"}

// Classify tags err with a kind. Throttling signals from the completion API or
// the store win over fallback; errors already tagged keep their kind.
func Classify(op string, err error, fallback Kind) error {
	if err == nil {
		return nil
	}
	var tagged *Error
	if errors.As(err, &tagged) {
		return err
	}
	if isThrottled(err) {
		return &Error{Kind: KindRateLimit, Op: op, Err: err}
	}
	return &Error{Kind: fallback, Op: op, Err: err}
}

func isThrottled(err error) bool {
	var apiErr *openai.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode == 429 {
		return true
	}
	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		// ER_CON_COUNT_ERROR, ER_USER_LIMIT_REACHED
		if myErr.Number == 1040 || myErr.Number == 1226 {
			return true
		}
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// too_many_connections, configuration_limit_exceeded
		if pgErr.Code == "53300" || pgErr.Code == "53400" {
			return true
		}
	}
	text := err.Error()
	for _, marker := range rateLimitMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}
