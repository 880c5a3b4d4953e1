// Package testutil holds fakes shared by package tests.
package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"membership-manager/internal/common/errors"
	"membership-manager/internal/fields"
	"membership-manager/internal/sheetdata"
)

// DriveCopy records one CopyDriveFile call
type DriveCopy struct {
	FileID      string
	Title       string
	Description string
}

// MemorySheets is an in-memory stand-in for sheetdata.Store. Each sheet is
// a slice of records whose headings are the field titles of its set.
type MemorySheets struct {
	mu     sync.Mutex
	rows   map[*sheetdata.Sheet][]map[string]string
	Copies []DriveCopy
	// Err, when set, is returned by every call
	Err error
}

// NewMemorySheets creates an empty store
func NewMemorySheets() *MemorySheets {
	return &MemorySheets{rows: map[*sheetdata.Sheet][]map[string]string{}}
}

// NewSheet builds a sheet for set with a made-up spreadsheet id
func NewSheet(set *fields.Set) *sheetdata.Sheet {
	return &sheetdata.Sheet{
		SpreadsheetID:  "ss-" + set.Name,
		WorksheetTitle: "Sheet1",
		Fields:         set,
	}
}

// Seed appends records to sheet as if they were already there
func (m *MemorySheets) Seed(sheet *sheetdata.Sheet, records ...map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range records {
		m.rows[sheet] = append(m.rows[sheet], m.normalize(sheet, r))
	}
}

// Records returns a copy of sheet's records in row order
func (m *MemorySheets) Records(sheet *sheetdata.Sheet) []map[string]string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]map[string]string, len(m.rows[sheet]))
	for i, r := range m.rows[sheet] {
		out[i] = copyRecord(r)
	}
	return out
}

func (m *MemorySheets) normalize(sheet *sheetdata.Sheet, r map[string]string) map[string]string {
	out := make(map[string]string, len(sheet.Fields.All()))
	for _, f := range sheet.Fields.All() {
		out[f.Name] = r[f.Name]
	}
	return out
}

func copyRecord(r map[string]string) map[string]string {
	out := make(map[string]string, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

func (m *MemorySheets) FindRows(ctx context.Context, sheet *sheetdata.Sheet, match sheetdata.Matcher, max int) ([]*sheetdata.Row, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return nil, m.Err
	}

	var out []*sheetdata.Row
	for i, r := range m.rows[sheet] {
		record := copyRecord(r)
		if match != nil && !match(record) {
			continue
		}
		out = append(out, &sheetdata.Row{
			Values:   record,
			Sheet:    sheet,
			Num:      i + 2,
			Headings: sheet.Fields.Titles(),
		})
		if max > 0 && len(out) >= max {
			break
		}
	}
	return out, nil
}

func (m *MemorySheets) FindRow(ctx context.Context, sheet *sheetdata.Sheet, match sheetdata.Matcher) (*sheetdata.Row, error) {
	rows, err := m.FindRows(ctx, sheet, match, 1)
	if err != nil || len(rows) == 0 {
		return nil, err
	}
	return rows[0], nil
}

func (m *MemorySheets) Append(ctx context.Context, row *sheetdata.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}
	m.rows[row.Sheet] = append(m.rows[row.Sheet], m.normalize(row.Sheet, row.Values))
	return nil
}

func (m *MemorySheets) Update(ctx context.Context, row *sheetdata.Row) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	idx := row.Num - 2
	if row.Num <= 0 {
		idx = -1
		for i, r := range m.rows[row.Sheet] {
			if r[fields.ID] == row.Values[fields.ID] {
				idx = i
				break
			}
		}
		if idx < 0 {
			return &errors.AppError{Type: errors.ErrTypeNotFound, Message: "could not find own row to update"}
		}
	}
	if idx < 0 || idx >= len(m.rows[row.Sheet]) {
		return errors.ValidationError(fmt.Sprintf("row %d out of range", row.Num))
	}

	current := m.rows[row.Sheet][idx]
	for k, v := range row.Values {
		if _, ok := current[k]; ok {
			current[k] = v
		}
	}
	return nil
}

func (m *MemorySheets) DeleteRows(ctx context.Context, sheet *sheetdata.Sheet, nums []int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return m.Err
	}

	sorted := append([]int(nil), nums...)
	sort.Sort(sort.Reverse(sort.IntSlice(sorted)))
	for _, n := range sorted {
		idx := n - 2
		if idx < 0 || idx >= len(m.rows[sheet]) {
			return errors.ValidationError("invalid row number for delete")
		}
		m.rows[sheet] = append(m.rows[sheet][:idx], m.rows[sheet][idx+1:]...)
	}
	return nil
}

func (m *MemorySheets) CopyDriveFile(ctx context.Context, fileID, title, description string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return "", m.Err
	}
	m.Copies = append(m.Copies, DriveCopy{FileID: fileID, Title: title, Description: description})
	return fmt.Sprintf("copy-%d", len(m.Copies)), nil
}
