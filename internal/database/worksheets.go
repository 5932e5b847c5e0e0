package database

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/TobiSchelling/pickclaims/internal/sheets"
)

// WorksheetStats is the row count of one worksheet.
type WorksheetStats struct {
	Title string
	Rows  int
}

// Open returns the worksheet with the given title, creating it if needed.
func (db *DB) Open(ctx context.Context, name string) (sheets.Worksheet, error) {
	if _, err := db.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO worksheets (title) VALUES (?)`, name,
	); err != nil {
		return nil, fmt.Errorf("creating worksheet %s: %w", name, err)
	}

	var id int64
	if err := db.conn.QueryRowContext(ctx,
		`SELECT id FROM worksheets WHERE title = ?`, name,
	).Scan(&id); err != nil {
		return nil, fmt.Errorf("looking up worksheet %s: %w", name, err)
	}
	return &Worksheet{db: db, id: id, title: name}, nil
}

// Stats returns row counts for every worksheet, ordered by title.
func (db *DB) Stats(ctx context.Context) ([]WorksheetStats, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT w.title, COUNT(r.row_index)
		FROM worksheets w
		LEFT JOIN worksheet_rows r ON r.worksheet_id = w.id
		GROUP BY w.id
		ORDER BY w.title`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stats []WorksheetStats
	for rows.Next() {
		var s WorksheetStats
		if err := rows.Scan(&s.Title, &s.Rows); err != nil {
			return nil, err
		}
		stats = append(stats, s)
	}
	return stats, rows.Err()
}

// Worksheet is a table of JSON-encoded rows keyed by 1-based row index.
type Worksheet struct {
	db    *DB
	id    int64
	title string
}

// Title returns the worksheet title.
func (w *Worksheet) Title() string {
	return w.title
}

// Rows returns all non-empty rows in index order.
func (w *Worksheet) Rows(ctx context.Context) ([][]any, error) {
	rows, err := w.db.conn.QueryContext(ctx,
		`SELECT cells FROM worksheet_rows WHERE worksheet_id = ? ORDER BY row_index`, w.id,
	)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", w.title, err)
	}
	defer rows.Close()

	var out [][]any
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var cells []any
		if err := json.Unmarshal([]byte(raw), &cells); err != nil {
			return nil, fmt.Errorf("decoding %s row: %w", w.title, err)
		}
		if len(cells) > 0 {
			out = append(out, cells)
		}
	}
	return out, rows.Err()
}

// UpdateRow overwrites the row at index.
func (w *Worksheet) UpdateRow(ctx context.Context, index int, values []any) error {
	if index < 1 {
		return fmt.Errorf("invalid row index %d", index)
	}
	cells, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encoding row: %w", err)
	}
	_, err = w.db.conn.ExecContext(ctx, `
		INSERT INTO worksheet_rows (worksheet_id, row_index, cells) VALUES (?, ?, ?)
		ON CONFLICT (worksheet_id, row_index)
		DO UPDATE SET cells = excluded.cells, written_at = datetime('now')`,
		w.id, index, string(cells),
	)
	if err != nil {
		return fmt.Errorf("updating %s row %d: %w", w.title, index, err)
	}
	return nil
}

// AppendRows writes rows after the highest existing row index.
func (w *Worksheet) AppendRows(ctx context.Context, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := w.db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	var last int
	if err := tx.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(row_index), 0) FROM worksheet_rows WHERE worksheet_id = ?`, w.id,
	).Scan(&last); err != nil {
		return fmt.Errorf("finding last row of %s: %w", w.title, err)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO worksheet_rows (worksheet_id, row_index, cells) VALUES (?, ?, ?)`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for i, r := range rows {
		cells, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("encoding row: %w", err)
		}
		if _, err := stmt.ExecContext(ctx, w.id, last+i+1, string(cells)); err != nil {
			return fmt.Errorf("appending to %s: %w", w.title, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit append: %w", err)
	}
	return nil
}
