// Package sheetdata treats Google Sheets worksheets as simple tables.
//
// The first row of a worksheet holds the column headings; every other row is
// a record keyed by fields.TitleToName of its heading. Rows are located by
// scanning the whole worksheet, and row numbers are captured at read time:
// a deletion that lands between a read and a later update or delete shifts
// the rows underneath it. That is acceptable for a small membership list with
// a single nightly culling job, but callers must not hold Rows for long.
package sheetdata

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/common/logging"
	"membership-manager/internal/fields"
	"membership-manager/internal/metrics"
)

// Sheet identifies the worksheet that backs one field set
type Sheet struct {
	SpreadsheetID  string
	WorksheetID    int64
	WorksheetTitle string
	Fields         *fields.Set
}

// IDField is the column used to find a row's own position
func (s *Sheet) IDField() string {
	return fields.ID
}

func (s *Sheet) String() string {
	return fmt.Sprintf("%s::%s", s.SpreadsheetID, s.WorksheetTitle)
}

// a1 quotes the worksheet title for A1 notation, optionally adding a cell range
func (s *Sheet) a1(cells string) string {
	rng := "'" + strings.ReplaceAll(s.WorksheetTitle, "'", "''") + "'"
	if cells != "" {
		rng += "!" + cells
	}
	return rng
}

// Row is one record of a sheet. Num is 1-based; 0 means the position is not
// known (a row built in code rather than read from the sheet).
type Row struct {
	Values   map[string]string
	Sheet    *Sheet
	Num      int
	Headings []string
}

// NewRow creates an unpositioned row for sheet
func NewRow(sheet *Sheet, values map[string]string) *Row {
	return &Row{Values: values, Sheet: sheet}
}

// Matcher selects records; a nil Matcher matches everything
type Matcher func(record map[string]string) bool

// Config selects the credentials used for the Sheets and Drive APIs
type Config struct {
	CredentialsFile string
	CredentialsJSON string
}

// Store talks to the Sheets and Drive APIs
type Store struct {
	sheets  *sheets.Service
	drive   *drive.Service
	logger  logging.Logger
	metrics *metrics.Registry
}

// NewStore creates the API clients. Extra options are appended after the
// credentials, which lets tests point the clients at a fake endpoint.
func NewStore(ctx context.Context, config Config, m *metrics.Registry, extra ...option.ClientOption) (*Store, error) {
	var opts []option.ClientOption
	if config.CredentialsJSON != "" {
		opts = append(opts, option.WithCredentialsJSON([]byte(config.CredentialsJSON)))
	} else if config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(config.CredentialsFile))
	}
	opts = append(opts, option.WithScopes(sheets.SpreadsheetsScope, drive.DriveScope))
	opts = append(opts, extra...)

	sheetsService, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.ConnectionError("failed to create Sheets client", err)
	}

	driveService, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, errors.ConnectionError("failed to create Drive client", err)
	}

	return &Store{
		sheets:  sheetsService,
		drive:   driveService,
		logger:  logging.GetGlobalLogger().WithFields(logging.Field{"component", "sheetdata"}),
		metrics: m,
	}, nil
}

// SheetProperties are the identifying properties of a worksheet
type SheetProperties struct {
	ID    int64
	Title string
}

// FirstSheetProperties returns the id and title of the first worksheet in a
// spreadsheet.
func (s *Store) FirstSheetProperties(ctx context.Context, spreadsheetID string) (*SheetProperties, error) {
	ss, err := s.sheets.Spreadsheets.Get(spreadsheetID).Context(ctx).Do()
	s.metrics.ObserveSheetOp("get_spreadsheet", err)
	if err != nil {
		return nil, errors.ConnectionError("failed to get spreadsheet", err).WithContext("spreadsheet", spreadsheetID)
	}
	if len(ss.Sheets) == 0 || ss.Sheets[0].Properties == nil {
		return nil, errors.NotFoundError("worksheet").WithContext("spreadsheet", spreadsheetID)
	}
	props := ss.Sheets[0].Properties
	return &SheetProperties{ID: props.SheetId, Title: props.Title}, nil
}

// Resolve builds a Sheet for the first worksheet of spreadsheetID
func (s *Store) Resolve(ctx context.Context, spreadsheetID string, set *fields.Set) (*Sheet, error) {
	props, err := s.FirstSheetProperties(ctx, spreadsheetID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("Resolved worksheet",
		logging.String("set", set.Name),
		logging.String("spreadsheet", spreadsheetID),
		logging.String("worksheet", props.Title),
		logging.Any("worksheet_id", props.ID),
	)
	return &Sheet{
		SpreadsheetID:  spreadsheetID,
		WorksheetID:    props.ID,
		WorksheetTitle: props.Title,
		Fields:         set,
	}, nil
}

func (s *Store) getValues(ctx context.Context, sheet *Sheet, cells string) ([][]interface{}, error) {
	resp, err := s.sheets.Spreadsheets.Values.Get(sheet.SpreadsheetID, sheet.a1(cells)).
		DateTimeRenderOption("FORMATTED_STRING").
		MajorDimension("ROWS").
		ValueRenderOption("UNFORMATTED_VALUE").
		Context(ctx).
		Do()
	s.metrics.ObserveSheetOp("get_values", err)
	if err != nil {
		return nil, errors.ConnectionError("failed to read sheet", err).WithContext("sheet", sheet.String())
	}
	return resp.Values, nil
}

func (s *Store) headings(ctx context.Context, sheet *Sheet) ([]string, error) {
	values, err := s.getValues(ctx, sheet, "1:1")
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		return nil, missingHeadings(sheet)
	}
	return cellsToStrings(values[0]), nil
}

func missingHeadings(sheet *Sheet) error {
	return errors.InternalError("spreadsheet is missing headings", nil).WithContext("sheet", sheet.String())
}

// FindRows returns up to max matching rows (all of them when max <= 0)
func (s *Store) FindRows(ctx context.Context, sheet *Sheet, match Matcher, max int) ([]*Row, error) {
	values, err := s.getValues(ctx, sheet, "")
	if err != nil {
		return nil, err
	}
	if len(values) == 0 {
		err := missingHeadings(sheet)
		s.logger.Error("Spreadsheet is missing headings", err, logging.String("sheet", sheet.String()))
		return nil, err
	}

	headings := cellsToStrings(values[0])
	var matches []*Row
	for i := 1; i < len(values); i++ {
		record := recordFromCells(headings, values[i])
		if match != nil && !match(record) {
			continue
		}
		matches = append(matches, &Row{Values: record, Sheet: sheet, Num: i + 1, Headings: headings})
		if max > 0 && len(matches) >= max {
			break
		}
	}

	s.logger.Debug("Found rows",
		logging.String("set", sheet.Fields.Name),
		logging.Int("matches", len(matches)),
		logging.Int("max", max),
	)
	return matches, nil
}

// FindRow returns the first matching row, or nil when nothing matches
func (s *Store) FindRow(ctx context.Context, sheet *Sheet, match Matcher) (*Row, error) {
	rows, err := s.FindRows(ctx, sheet, match, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

// Append adds row to the end of its sheet. When the row has no headings they
// are fetched first, which costs an extra request.
func (s *Store) Append(ctx context.Context, row *Row) error {
	cells, err := s.rowCells(ctx, row)
	if err != nil {
		return err
	}

	_, err = s.sheets.Spreadsheets.Values.Append(row.Sheet.SpreadsheetID, row.Sheet.a1(""),
		&sheets.ValueRange{Values: [][]interface{}{cells}}).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	s.metrics.ObserveSheetOp("append", err)
	if err != nil {
		return errors.ConnectionError("failed to append row", err).WithContext("sheet", row.Sheet.String())
	}
	return nil
}

// Update writes row back to its sheet, locating it by id first when its
// position is unknown.
func (s *Store) Update(ctx context.Context, row *Row) error {
	if row.Num <= 0 {
		idField := row.Sheet.IDField()
		id := row.Values[idField]
		found, err := s.FindRow(ctx, row.Sheet, func(record map[string]string) bool {
			return record[idField] == id
		})
		if err != nil {
			return err
		}
		if found == nil {
			return (&errors.AppError{Type: errors.ErrTypeNotFound, Message: "could not find own row to update"}).WithContext("id", id)
		}
		row.Num = found.Num
		if row.Headings == nil {
			row.Headings = found.Headings
		}
	}
	return s.UpdateRows(ctx, row.Sheet, []*Row{row})
}

// UpdateRows overwrites the given rows in one batch. Every row must carry
// its position, and row 1 (the headings) is never written.
func (s *Store) UpdateRows(ctx context.Context, sheet *Sheet, rows []*Row) error {
	if len(rows) == 0 {
		return nil
	}

	req := &sheets.BatchUpdateValuesRequest{ValueInputOption: "USER_ENTERED"}
	for _, r := range rows {
		if r.Num <= 0 {
			return errors.ValidationError("row number not populated")
		}
		if r.Num == 1 {
			err := errors.ValidationError("attempt to overwrite headings prevented").WithContext("sheet", sheet.String())
			s.logger.Error("Refusing to overwrite sheet headings", err, logging.Any("row", r.Values))
			return err
		}

		cells, err := s.rowCells(ctx, r)
		if err != nil {
			return err
		}

		req.Data = append(req.Data, &sheets.ValueRange{
			Range:          sheet.a1("A" + strconv.Itoa(r.Num)),
			MajorDimension: "ROWS",
			Values:         [][]interface{}{cells},
		})
	}

	_, err := s.sheets.Spreadsheets.Values.BatchUpdate(sheet.SpreadsheetID, req).Context(ctx).Do()
	s.metrics.ObserveSheetOp("update", err)
	if err != nil {
		return errors.ConnectionError("failed to update rows", err).WithContext("sheet", sheet.String())
	}
	return nil
}

// DeleteRows removes the rows at the given 1-based positions. Deletion runs
// bottom-up so earlier deletions do not shift later ones.
func (s *Store) DeleteRows(ctx context.Context, sheet *Sheet, nums []int) error {
	if len(nums) == 0 {
		return nil
	}

	sorted := append([]int(nil), nums...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))

	req := &sheets.BatchUpdateSpreadsheetRequest{}
	for _, n := range sorted {
		if n <= 1 {
			return errors.ValidationError("invalid row number for delete").WithContext("row", n)
		}
		idx := int64(n - 1)
		req.Requests = append(req.Requests, &sheets.Request{
			DeleteDimension: &sheets.DeleteDimensionRequest{
				Range: &sheets.DimensionRange{
					Dimension:       "ROWS",
					SheetId:         sheet.WorksheetID,
					StartIndex:      idx,
					EndIndex:        idx + 1,
					ForceSendFields: []string{"SheetId", "StartIndex", "EndIndex"},
				},
			},
		})
	}

	_, err := s.sheets.Spreadsheets.BatchUpdate(sheet.SpreadsheetID, req).Context(ctx).Do()
	s.metrics.ObserveSheetOp("delete", err)
	if err != nil {
		return errors.ConnectionError("failed to delete rows", err).WithContext("sheet", sheet.String())
	}
	return nil
}

// CopyDriveFile copies a Drive file with a new title and description, then
// hands ownership of the copy to the owner of the original. Returns the id
// of the copy.
func (s *Store) CopyDriveFile(ctx context.Context, fileID, title, description string) (string, error) {
	copied, err := s.drive.Files.Copy(fileID, &drive.File{Name: title, Description: description}).Context(ctx).Do()
	s.metrics.ObserveSheetOp("drive_copy", err)
	if err != nil {
		return "", errors.ConnectionError("failed to copy drive file", err).WithContext("file", fileID)
	}

	orig, err := s.drive.Files.Get(fileID).Fields("owners").Context(ctx).Do()
	if err != nil {
		return copied.Id, errors.ConnectionError("failed to read drive file owners", err).WithContext("file", fileID)
	}
	if len(orig.Owners) == 0 {
		return copied.Id, errors.NotFoundError("drive file owner").WithContext("file", fileID)
	}

	_, err = s.drive.Permissions.Update(copied.Id, orig.Owners[0].PermissionId, &drive.Permission{Role: "owner"}).
		TransferOwnership(true).
		Context(ctx).
		Do()
	s.metrics.ObserveSheetOp("drive_transfer", err)
	if err != nil {
		return copied.Id, errors.ConnectionError("failed to transfer drive file ownership", err).WithContext("file", copied.Id)
	}

	s.logger.Info("Copied drive file",
		logging.String("source", fileID),
		logging.String("copy", copied.Id),
		logging.String("title", title),
	)
	return copied.Id, nil
}

// rowCells orders row values by the sheet headings. Keys the row does not
// have become nil, which leaves those cells untouched on update.
func (s *Store) rowCells(ctx context.Context, row *Row) ([]interface{}, error) {
	if row.Headings == nil {
		headings, err := s.headings(ctx, row.Sheet)
		if err != nil {
			return nil, err
		}
		row.Headings = headings
	}

	cells := make([]interface{}, len(row.Headings))
	for i, h := range row.Headings {
		if v, ok := row.Values[fields.TitleToName(h)]; ok {
			cells[i] = v
		}
	}
	return cells, nil
}

// recordFromCells zips headings with a row; short rows are padded with ""
func recordFromCells(headings []string, cells []interface{}) map[string]string {
	record := make(map[string]string, len(headings))
	for i, h := range headings {
		value := ""
		if i < len(cells) {
			value = cellString(cells[i])
		}
		record[fields.TitleToName(h)] = value
	}
	return record
}

func cellsToStrings(cells []interface{}) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = cellString(c)
	}
	return out
}

func cellString(cell interface{}) string {
	switch v := cell.(type) {
	case nil:
		return ""
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		if v {
			return "TRUE"
		}
		return "FALSE"
	default:
		return fmt.Sprint(v)
	}
}
