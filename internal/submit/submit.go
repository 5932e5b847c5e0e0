// Package submit appends selection batches to their target table.
package submit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/TobiSchelling/pickclaims/internal/collect"
	"github.com/TobiSchelling/pickclaims/internal/sheets"
)

var (
	ErrEmptyBatch = errors.New("no records to submit")
	// ErrResource wraps any failure reported by the row store.
	ErrResource = errors.New("row store unavailable")
)

// Result describes a successful append.
type Result struct {
	Target      string
	Rows        int
	WroteHeader bool
}

// Sink writes batches through a sheets.Client. It never retries.
type Sink struct {
	client sheets.Client
	logger *zap.Logger

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewSink creates a sink over client.
func NewSink(client sheets.Client, logger *zap.Logger) *Sink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sink{
		client: client,
		logger: logger,
		locks:  make(map[string]*sync.Mutex),
	}
}

// Submit appends records to target. When the table holds no data rows
// the header is written to row 1 first. Existing data rows are never
// touched.
//
// Submissions to the same target are serialized within this process.
// Nothing coordinates separate processes writing the same table.
func (s *Sink) Submit(ctx context.Context, records []collect.Record, target string) (*Result, error) {
	if len(records) == 0 {
		return nil, ErrEmptyBatch
	}
	for _, r := range records {
		if strings.TrimSpace(r.ParticipantID) == "" {
			return nil, collect.ErrMissingParticipant
		}
	}

	lock := s.lockFor(target)
	lock.Lock()
	defer lock.Unlock()

	ws, err := s.client.Open(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("%w: opening %s: %w", ErrResource, target, err)
	}

	existing, err := ws.Rows(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}

	res := &Result{Target: target, Rows: len(records)}
	if !hasRecords(existing) {
		if err := ws.UpdateRow(ctx, 1, collect.Header); err != nil {
			return nil, fmt.Errorf("%w: writing header: %w", ErrResource, err)
		}
		res.WroteHeader = true
	}

	if err := ws.AppendRows(ctx, collect.Rows(records)); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrResource, err)
	}

	s.logger.Info("submission appended",
		zap.String("target", target),
		zap.Int("rows", res.Rows),
		zap.Bool("header", res.WroteHeader),
		zap.String("user_id", records[0].UserID),
		zap.String("condition", string(records[0].Condition)),
	)
	return res, nil
}

func (s *Sink) lockFor(target string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[target]
	if !ok {
		l = &sync.Mutex{}
		s.locks[target] = l
	}
	return l
}

// hasRecords reports whether rows contain any data record. A lone row
// that is exactly the header counts as empty.
func hasRecords(rows [][]any) bool {
	switch len(rows) {
	case 0:
		return false
	case 1:
		return !isHeader(rows[0])
	}
	return true
}

func isHeader(row []any) bool {
	if len(row) != len(collect.Header) {
		return false
	}
	for i, h := range collect.Header {
		if fmt.Sprint(row[i]) != h {
			return false
		}
	}
	return true
}

// MapHTTPStatus maps submission errors to HTTP status codes.
func MapHTTPStatus(err error) int {
	if errors.Is(err, collect.ErrMissingParticipant) || errors.Is(err, ErrEmptyBatch) {
		return http.StatusUnprocessableEntity
	}
	if errors.Is(err, ErrResource) {
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}
