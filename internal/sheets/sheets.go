// Package sheets is the row-store contract used by the submission sink
// plus its Google Sheets implementation.
package sheets

import (
	"context"
	"errors"
	"sync"
)

// Scopes requested for the service account.
var Scopes = []string{
	"https://www.googleapis.com/auth/spreadsheets",
	"https://www.googleapis.com/auth/drive",
}

var ErrNotFound = errors.New("spreadsheet not found")

// Client opens named tables.
type Client interface {
	Open(ctx context.Context, name string) (Worksheet, error)
}

// Worksheet is an append-only table of rows. Row indexes are 1-based.
type Worksheet interface {
	Title() string
	// Rows returns every non-empty row.
	Rows(ctx context.Context) ([][]any, error)
	// UpdateRow overwrites row index with values.
	UpdateRow(ctx context.Context, index int, values []any) error
	// AppendRows writes rows after the last non-empty row.
	AppendRows(ctx context.Context, rows [][]any) error
}

// Lazy builds a Client on first use and hands the same one to every
// caller afterwards. A construction error is sticky.
type Lazy struct {
	build func(ctx context.Context) (Client, error)

	once   sync.Once
	client Client
	err    error
}

// NewLazy wraps build.
func NewLazy(build func(ctx context.Context) (Client, error)) *Lazy {
	return &Lazy{build: build}
}

// Client returns the memoized client.
func (l *Lazy) Client(ctx context.Context) (Client, error) {
	l.once.Do(func() {
		l.client, l.err = l.build(context.WithoutCancel(ctx))
	})
	return l.client, l.err
}

// Open implements Client.
func (l *Lazy) Open(ctx context.Context, name string) (Worksheet, error) {
	c, err := l.Client(ctx)
	if err != nil {
		return nil, err
	}
	return c.Open(ctx, name)
}
