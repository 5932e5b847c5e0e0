package submit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TobiSchelling/pickclaims/internal/collect"
	"github.com/TobiSchelling/pickclaims/internal/database"
	"github.com/TobiSchelling/pickclaims/internal/ordering"
	"github.com/TobiSchelling/pickclaims/internal/sheets"
)

// recordingClient counts calls so tests can assert no write happened.
type recordingClient struct {
	mu      sync.Mutex
	opens   int
	updates int
	appends int
	rows    [][]any
	openErr error
	readErr error
}

func (c *recordingClient) Open(_ context.Context, name string) (sheets.Worksheet, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opens++
	if c.openErr != nil {
		return nil, c.openErr
	}
	return &recordingWorksheet{c: c, name: name}, nil
}

type recordingWorksheet struct {
	c    *recordingClient
	name string
}

func (w *recordingWorksheet) Title() string { return w.name }

func (w *recordingWorksheet) Rows(context.Context) ([][]any, error) {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	return w.c.rows, w.c.readErr
}

func (w *recordingWorksheet) UpdateRow(_ context.Context, index int, values []any) error {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	w.c.updates++
	if len(w.c.rows) < index {
		w.c.rows = append(w.c.rows, values)
	} else {
		w.c.rows[index-1] = values
	}
	return nil
}

func (w *recordingWorksheet) AppendRows(_ context.Context, rows [][]any) error {
	w.c.mu.Lock()
	defer w.c.mu.Unlock()
	w.c.appends++
	w.c.rows = append(w.c.rows, rows...)
	return nil
}

func batch(n int, participant string) []collect.Record {
	now := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	records := make([]collect.Record, n)
	for i := range records {
		records[i] = collect.Record{
			Timestamp:     now,
			UserID:        "user-1",
			ParticipantID: participant,
			PostID:        fmt.Sprint(i + 1),
			Rank:          i + 1,
			Condition:     ordering.Manual,
		}
	}
	return records
}

func TestSubmitEmptyTableWritesHeaderThenRows(t *testing.T) {
	db, err := database.Open(filepath.Join(t.TempDir(), "rows.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	sink := NewSink(db, nil)
	ctx := context.Background()

	res, err := sink.Submit(ctx, batch(3, "P1"), "TTD_Manual")
	require.NoError(t, err)
	assert.True(t, res.WroteHeader)
	assert.Equal(t, 3, res.Rows)

	res, err = sink.Submit(ctx, batch(3, "P2"), "TTD_Manual")
	require.NoError(t, err)
	assert.False(t, res.WroteHeader)

	ws, err := db.Open(ctx, "TTD_Manual")
	require.NoError(t, err)
	rows, err := ws.Rows(ctx)
	require.NoError(t, err)

	require.Len(t, rows, 7)
	assert.Equal(t, collect.Header, rows[0])
	headers := 0
	for _, r := range rows {
		if isHeader(r) {
			headers++
		}
	}
	assert.Equal(t, 1, headers)
	assert.Equal(t, "P1", rows[1][2])
	assert.Equal(t, "P2", rows[6][2])
}

func TestSubmitHeaderOnlyTableCountsAsEmpty(t *testing.T) {
	client := &recordingClient{rows: [][]any{collect.Header}}
	res, err := NewSink(client, nil).Submit(context.Background(), batch(2, "P1"), "TTD_Manual")
	require.NoError(t, err)

	assert.True(t, res.WroteHeader)
	assert.Equal(t, 1, client.updates)
	assert.Len(t, client.rows, 3)
}

func TestSubmitNonEmptyTableSkipsHeader(t *testing.T) {
	client := &recordingClient{}
	sink := NewSink(client, nil)

	_, err := sink.Submit(context.Background(), batch(2, "P1"), "TTD_Manual")
	require.NoError(t, err)
	_, err = sink.Submit(context.Background(), batch(2, "P1"), "TTD_Manual")
	require.NoError(t, err)

	assert.Equal(t, 1, client.updates)
	assert.Equal(t, 2, client.appends)
	assert.Len(t, client.rows, 5)
}

func TestSubmitRejectsBeforeAnyRemoteCall(t *testing.T) {
	tests := []struct {
		name    string
		records []collect.Record
		wantErr error
	}{
		{"empty batch", nil, ErrEmptyBatch},
		{"blank participant", batch(2, " "), collect.ErrMissingParticipant},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client := &recordingClient{}
			_, err := NewSink(client, nil).Submit(context.Background(), tt.records, "TTD_Manual")
			assert.ErrorIs(t, err, tt.wantErr)
			assert.Equal(t, 0, client.opens)
			assert.Equal(t, 0, client.appends)
			assert.Equal(t, http.StatusUnprocessableEntity, MapHTTPStatus(err))
		})
	}
}

func TestSubmitWrapsStoreErrors(t *testing.T) {
	boom := errors.New("connection refused")

	for _, client := range []*recordingClient{{openErr: boom}, {readErr: boom}} {
		_, err := NewSink(client, nil).Submit(context.Background(), batch(1, "P1"), "TTD_Manual")
		assert.ErrorIs(t, err, ErrResource)
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, http.StatusBadGateway, MapHTTPStatus(err))
		assert.Equal(t, 0, client.appends)
	}
}

func TestSubmitConcurrentSingleHeader(t *testing.T) {
	client := &recordingClient{}
	sink := NewSink(client, nil)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := sink.Submit(context.Background(), batch(2, fmt.Sprintf("P%d", i)), "TTD_Manual")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, client.updates)
	assert.Len(t, client.rows, 1+8*2)
}

func TestHasRecords(t *testing.T) {
	assert.False(t, hasRecords(nil))
	assert.False(t, hasRecords([][]any{collect.Header}))
	assert.True(t, hasRecords([][]any{{"2026-01-01", "u"}}))
	assert.True(t, hasRecords([][]any{collect.Header, {"x"}}))
}

func TestMapHTTPStatusDefault(t *testing.T) {
	assert.Equal(t, http.StatusInternalServerError, MapHTTPStatus(errors.New("other")))
}
