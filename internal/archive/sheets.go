package archive

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"certextract/internal/logger"
	"certextract/pkg/models"
)

// fixedColumns precede one column per catalog field; a final column holds
// fields outside the catalog.
var fixedColumns = []string{"Filename", "Request ID", "Extracted At", "OCR Engine", "AI Provider", "Pages", "Text Length"}

// SheetsStore appends one row per record to a Google Sheets tab.
type SheetsStore struct {
	sheetsService *sheets.Service
	spreadsheetID string
	sheetName     string
	fields        []string
	log           zerolog.Logger

	mu    sync.Mutex
	ready bool // tab and header row exist
}

// NewSheetsStore creates a store for the spreadsheet at sheetURL. fields
// are the catalog field names in column order.
func NewSheetsStore(ctx context.Context, sheetURL, sheetName string, fields []string) (*SheetsStore, error) {
	const op = "NewSheetsStore"

	spreadsheetID, err := extractSpreadsheetID(sheetURL)
	if err != nil {
		return nil, &ArchiveError{Op: op, Err: err, Details: sheetURL}
	}

	client, err := sheetsHTTPClient(ctx)
	if err != nil {
		return nil, &ArchiveError{Op: op, Err: err, Details: "credentials"}
	}

	svc, err := sheets.NewService(ctx, option.WithHTTPClient(client))
	if err != nil {
		return nil, &ArchiveError{Op: op, Err: err, Details: "sheets.NewService"}
	}

	return NewSheetsStoreWithService(svc, spreadsheetID, sheetName, fields), nil
}

// NewSheetsStoreWithService creates a store with an existing service.
func NewSheetsStoreWithService(svc *sheets.Service, spreadsheetID, sheetName string, fields []string) *SheetsStore {
	if sheetName == "" {
		sheetName = "Certificates"
	}
	return &SheetsStore{
		sheetsService: svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
		fields:        fields,
		log:           logger.WithComponent("archive-sheets"),
	}
}

// sheetsHTTPClient uses service account credentials when configured and
// application default credentials otherwise.
func sheetsHTTPClient(ctx context.Context) (*http.Client, error) {
	var creds []byte
	if credsJSON := os.Getenv("GOOGLE_CREDENTIALS"); credsJSON != "" {
		creds = []byte(credsJSON)
	} else if credsFile := os.Getenv("GOOGLE_APPLICATION_CREDENTIALS"); credsFile != "" {
		data, err := os.ReadFile(credsFile)
		if err != nil {
			return nil, fmt.Errorf("read credentials file: %w", err)
		}
		creds = data
	}

	if creds == nil {
		return google.DefaultClient(ctx, sheets.SpreadsheetsScope)
	}

	config, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials: %w", err)
	}
	return config.Client(ctx), nil
}

var spreadsheetIDPattern = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// extractSpreadsheetID accepts a full Google Sheets URL or a bare ID.
func extractSpreadsheetID(url string) (string, error) {
	if matches := spreadsheetIDPattern.FindStringSubmatch(url); len(matches) == 2 {
		return matches[1], nil
	}
	if url != "" && !strings.ContainsAny(url, "/:?") {
		return url, nil
	}
	return "", fmt.Errorf("invalid Google Sheets URL %q", url)
}

// Save implements Store.
func (s *SheetsStore) Save(ctx context.Context, rec models.MetadataRecord) (string, error) {
	const op = "SheetsStore.Save"

	if err := s.prepare(ctx); err != nil {
		return "", &ArchiveError{Op: op, Err: err, Details: "prepare sheet"}
	}

	valueRange := &sheets.ValueRange{
		Values: [][]interface{}{s.rowValues(rec)},
	}
	_, err := s.sheetsService.Spreadsheets.Values.Append(
		s.spreadsheetID,
		s.sheetName+"!A:A",
		valueRange,
	).ValueInputOption("RAW").InsertDataOption("INSERT_ROWS").Context(ctx).Do()
	if err != nil {
		return "", &ArchiveError{Op: op, Err: err, Details: "append row"}
	}

	s.log.Debug().
		Str("sheet", s.sheetName).
		Str("request_id", rec.RequestID).
		Msg("Appended metadata row")

	return fmt.Sprintf("sheets://%s/%s", s.spreadsheetID, s.sheetName), nil
}

// prepare runs ensureSheetWithHeaders until it succeeds once.
func (s *SheetsStore) prepare(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ready {
		return nil
	}
	if err := s.ensureSheetWithHeaders(ctx); err != nil {
		return err
	}
	s.ready = true
	return nil
}

func (s *SheetsStore) headers() []interface{} {
	row := make([]interface{}, 0, len(fixedColumns)+len(s.fields)+1)
	for _, c := range fixedColumns {
		row = append(row, c)
	}
	for _, f := range s.fields {
		row = append(row, f)
	}
	return append(row, "Other Fields")
}

// rowValues lays rec out in header order.
func (s *SheetsStore) rowValues(rec models.MetadataRecord) []interface{} {
	row := []interface{}{
		rec.Filename,
		rec.RequestID,
		rec.ExtractedAt.UTC().Format(time.RFC3339),
		rec.OCREngine,
		rec.AIProvider,
		rec.PageCount,
		rec.ExtractedTextLength,
	}

	known := make(map[string]bool, len(s.fields))
	for _, f := range s.fields {
		known[f] = true
		row = append(row, rec.Metadata[f])
	}

	var other []string
	for k, v := range rec.Metadata {
		if !known[k] {
			other = append(other, k+": "+v)
		}
	}
	sort.Strings(other)
	return append(row, strings.Join(other, "; "))
}

// ensureSheetWithHeaders creates the tab and its header row when missing.
func (s *SheetsStore) ensureSheetWithHeaders(ctx context.Context) error {
	spreadsheet, err := s.sheetsService.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get spreadsheet: %w", err)
	}

	sheetExists := false
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == s.sheetName {
			sheetExists = true
			break
		}
	}

	if !sheetExists {
		s.log.Info().Str("sheet", s.sheetName).Msg("Creating new sheet")

		batchUpdateReq := &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: s.sheetName}}},
			},
		}
		if _, err := s.sheetsService.Spreadsheets.BatchUpdate(s.spreadsheetID, batchUpdateReq).Context(ctx).Do(); err != nil {
			return fmt.Errorf("create sheet: %w", err)
		}
	}

	headerRange := s.sheetName + "!1:1"
	resp, err := s.sheetsService.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("get headers: %w", err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	s.log.Info().Str("sheet", s.sheetName).Msg("Adding headers to sheet")
	_, err = s.sheetsService.Spreadsheets.Values.Update(
		s.spreadsheetID,
		headerRange,
		&sheets.ValueRange{Values: [][]interface{}{s.headers()}},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("add headers: %w", err)
	}
	return nil
}
