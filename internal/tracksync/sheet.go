package tracksync

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/goccy/go-json"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// RowSink is the tracking-sheet write contract. Rows are keyed by artifact
// id in the first column; the implementation decides how keys map to
// physical rows.
type RowSink interface {
	// LoadKeys returns existing row keys mapped to their 1-based row number.
	LoadKeys(ctx context.Context) (map[string]int, error)
	Update(ctx context.Context, rowNum int, row []interface{}) error
	// Append adds the row at the bottom and returns its 1-based row number.
	Append(ctx context.Context, row []interface{}) (int, error)
}

var sheetHeader = []interface{}{
	"Artifact ID", "Parent ID", "Kind", "Filename", "Title", "Platform",
	"Source URL", "Size (bytes)", "Primary Status", "Primary URL",
	"Secondary Status", "Secondary URL", "Attempts", "Last Error",
	"Fingerprint", "Updated At",
}

type SheetConfig struct {
	CredentialsFile string
	TokenFile       string
	SpreadsheetID   string
	SheetName       string
}

// SheetSink writes tracking rows to one tab of a Google spreadsheet. The
// first row is a header; artifact keys live in column A below it.
type SheetSink struct {
	cfg SheetConfig
	svc *sheets.Service
}

func NewSheetSink(ctx context.Context, cfg SheetConfig) (*SheetSink, error) {
	creds, err := os.ReadFile(cfg.CredentialsFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheets credentials: %w", err)
	}
	oauthCfg, err := google.ConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("failed to parse sheets credentials: %w", err)
	}

	tokenBytes, err := os.ReadFile(cfg.TokenFile)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheets token: %w", err)
	}
	token := &oauth2.Token{}
	if err := json.Unmarshal(tokenBytes, token); err != nil {
		return nil, fmt.Errorf("failed to parse sheets token: %w", err)
	}

	svc, err := sheets.NewService(ctx,
		option.WithHTTPClient(oauth2.NewClient(ctx, oauthCfg.TokenSource(ctx, token))))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	return &SheetSink{cfg: cfg, svc: svc}, nil
}

// LoadKeys reads column A and writes the header row first when the tab is
// still empty.
func (s *SheetSink) LoadKeys(ctx context.Context) (map[string]int, error) {
	readRange := fmt.Sprintf("%s!A1:A", s.cfg.SheetName)
	resp, err := s.svc.Spreadsheets.Values.Get(s.cfg.SpreadsheetID, readRange).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet keys: %w", err)
	}

	if len(resp.Values) == 0 {
		if err := s.writeHeader(ctx); err != nil {
			return nil, err
		}
		return map[string]int{}, nil
	}

	keys := make(map[string]int, len(resp.Values))
	for i, row := range resp.Values {
		if i == 0 || len(row) == 0 {
			continue
		}
		if key, ok := row[0].(string); ok && key != "" {
			keys[key] = i + 1
		}
	}
	return keys, nil
}

func (s *SheetSink) writeHeader(ctx context.Context) error {
	_, err := s.svc.Spreadsheets.Values.Update(s.cfg.SpreadsheetID,
		fmt.Sprintf("%s!A1", s.cfg.SheetName),
		&sheets.ValueRange{Values: [][]interface{}{sheetHeader}}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to write sheet header: %w", err)
	}
	return nil
}

func (s *SheetSink) Update(ctx context.Context, rowNum int, row []interface{}) error {
	_, err := s.svc.Spreadsheets.Values.Update(s.cfg.SpreadsheetID,
		fmt.Sprintf("%s!A%d", s.cfg.SheetName, rowNum),
		&sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("failed to update sheet row %d: %w", rowNum, err)
	}
	return nil
}

func (s *SheetSink) Append(ctx context.Context, row []interface{}) (int, error) {
	resp, err := s.svc.Spreadsheets.Values.Append(s.cfg.SpreadsheetID,
		fmt.Sprintf("%s!A1", s.cfg.SheetName),
		&sheets.ValueRange{Values: [][]interface{}{row}}).
		ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to append sheet row: %w", err)
	}

	rowNum := 0
	if resp.Updates != nil && resp.Updates.UpdatedRange != "" {
		fmt.Sscanf(rangeRowPart(resp.Updates.UpdatedRange), "%d", &rowNum)
	}
	return rowNum, nil
}

// rangeRowPart extracts the starting row digits of an A1-notation range like
// "Tracking!A12:O12". The sheet-name prefix may itself contain digits, so
// parsing starts after the last '!'.
func rangeRowPart(a1 string) string {
	if i := strings.LastIndexByte(a1, '!'); i >= 0 {
		a1 = a1[i+1:]
	}
	start := 0
	for start < len(a1) && (a1[start] < '0' || a1[start] > '9') {
		start++
	}
	end := start
	for end < len(a1) && a1[end] >= '0' && a1[end] <= '9' {
		end++
	}
	return a1[start:end]
}
