package sheets

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"
	drive "google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	gsheets "google.golang.org/api/sheets/v4"
)

const (
	spreadsheetMimeType = "application/vnd.google-apps.spreadsheet"
	valueInputOption    = "USER_ENTERED"
	insertDataOption    = "INSERT_ROWS"
)

// Google opens spreadsheets by title and works on their first worksheet.
type Google struct {
	sheets *gsheets.Service
	drive  *drive.Service
	logger *zap.Logger

	mu  sync.RWMutex
	ids map[string]string
}

// NewGoogle authenticates with service-account JSON. ids maps spreadsheet
// titles to known IDs; titles not in ids are looked up through Drive.
func NewGoogle(ctx context.Context, credentialsJSON []byte, ids map[string]string, logger *zap.Logger) (*Google, error) {
	opts := []option.ClientOption{
		option.WithCredentialsJSON(credentialsJSON),
		option.WithScopes(Scopes...),
	}
	ss, err := gsheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating sheets service: %w", err)
	}
	ds, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating drive service: %w", err)
	}
	return NewGoogleFromServices(ss, ds, ids, logger), nil
}

// NewGoogleFromServices wraps already-configured API services.
func NewGoogleFromServices(ss *gsheets.Service, ds *drive.Service, ids map[string]string, logger *zap.Logger) *Google {
	if logger == nil {
		logger = zap.NewNop()
	}
	known := make(map[string]string, len(ids))
	for k, v := range ids {
		known[k] = v
	}
	return &Google{sheets: ss, drive: ds, ids: known, logger: logger}
}

// Open resolves name to a spreadsheet and returns its first worksheet.
func (g *Google) Open(ctx context.Context, name string) (Worksheet, error) {
	id, err := g.spreadsheetID(ctx, name)
	if err != nil {
		return nil, err
	}

	ss, err := g.sheets.Spreadsheets.Get(id).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("getting spreadsheet %s: %w", name, err)
	}
	if len(ss.Sheets) == 0 || ss.Sheets[0].Properties == nil {
		return nil, fmt.Errorf("%w: %s has no worksheets", ErrNotFound, name)
	}

	return &googleWorksheet{
		svc:           g.sheets,
		spreadsheetID: id,
		name:          name,
		sheetTitle:    ss.Sheets[0].Properties.Title,
	}, nil
}

func (g *Google) spreadsheetID(ctx context.Context, name string) (string, error) {
	g.mu.RLock()
	id, ok := g.ids[name]
	g.mu.RUnlock()
	if ok {
		return id, nil
	}

	q := fmt.Sprintf("name = '%s' and mimeType = '%s' and trashed = false",
		strings.ReplaceAll(name, "'", `\'`), spreadsheetMimeType)
	list, err := g.drive.Files.List().
		Q(q).
		Fields("files(id, name)").
		PageSize(1).
		SupportsAllDrives(true).
		IncludeItemsFromAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return "", fmt.Errorf("searching drive for %s: %w", name, err)
	}
	if len(list.Files) == 0 {
		return "", fmt.Errorf("%w: %s", ErrNotFound, name)
	}

	id = list.Files[0].Id
	g.logger.Debug("resolved spreadsheet", zap.String("name", name), zap.String("id", id))

	g.mu.Lock()
	g.ids[name] = id
	g.mu.Unlock()
	return id, nil
}

type googleWorksheet struct {
	svc           *gsheets.Service
	spreadsheetID string
	name          string
	sheetTitle    string
}

func (w *googleWorksheet) Title() string {
	return w.name
}

func (w *googleWorksheet) a1(cell string) string {
	return "'" + strings.ReplaceAll(w.sheetTitle, "'", "''") + "'!" + cell
}

func (w *googleWorksheet) Rows(ctx context.Context) ([][]any, error) {
	vr, err := w.svc.Spreadsheets.Values.Get(w.spreadsheetID, w.a1("A:ZZ")).
		Context(ctx).
		Do()
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", w.name, err)
	}

	rows := make([][]any, 0, len(vr.Values))
	for _, r := range vr.Values {
		if len(r) > 0 {
			rows = append(rows, r)
		}
	}
	return rows, nil
}

func (w *googleWorksheet) UpdateRow(ctx context.Context, index int, values []any) error {
	if index < 1 {
		return fmt.Errorf("invalid row index %d", index)
	}
	vr := &gsheets.ValueRange{Values: [][]any{values}}
	_, err := w.svc.Spreadsheets.Values.Update(w.spreadsheetID, w.a1(fmt.Sprintf("A%d", index)), vr).
		ValueInputOption(valueInputOption).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("updating %s row %d: %w", w.name, index, err)
	}
	return nil
}

func (w *googleWorksheet) AppendRows(ctx context.Context, rows [][]any) error {
	if len(rows) == 0 {
		return nil
	}
	vr := &gsheets.ValueRange{Values: rows}
	_, err := w.svc.Spreadsheets.Values.Append(w.spreadsheetID, w.a1("A1"), vr).
		ValueInputOption(valueInputOption).
		InsertDataOption(insertDataOption).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("appending to %s: %w", w.name, err)
	}
	return nil
}
