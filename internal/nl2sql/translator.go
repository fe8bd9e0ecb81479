package nl2sql

import "context"

type Request struct {
	Question string
	// History is the formatted transcript of recent turns. It may be empty.
	History  string
	Schema   string
	RowLimit int
}

type Result struct {
	SQL   string
	Raw   string
	Model string
}

type Translator interface {
	Translate(ctx context.Context, req Request) (Result, error)
}
