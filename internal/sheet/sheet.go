// Package sheet reads record rows from a workbook and writes extraction
// results back out as a single-sheet workbook.
package sheet

import (
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"golang.org/x/text/unicode/norm"

	"github.com/maiteclab/sheetgpt/internal/extract"
)

var (
	// ErrColumnNotFound is returned when a named column is not in the header.
	ErrColumnNotFound = errors.New("column not found")
	// ErrNoSheet is returned for a workbook without any worksheet.
	ErrNoSheet = errors.New("workbook has no sheets")
)

// Workbook holds the first sheet of a spreadsheet: a header row and the
// data rows beneath it. Blank rows are dropped on load.
type Workbook struct {
	sheet  string
	header []string
	rows   [][]cell
}

// cell keeps both the displayed text and the typed value of a cell.
type cell struct {
	text  string
	value any
}

// Open reads a workbook.
func Open(r io.Reader) (*Workbook, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read workbook: %w", err)
	}
	defer f.Close()
	return load(f)
}

// OpenFile reads a workbook from disk.
func OpenFile(path string) (*Workbook, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open workbook: %w", err)
	}
	defer f.Close()
	return load(f)
}

func load(f *excelize.File) (*Workbook, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, ErrNoSheet
	}
	name := sheets[0]

	text, err := f.GetRows(name)
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
	}
	raw, err := f.GetRows(name, excelize.Options{RawCellValue: true})
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet %q: %w", name, err)
	}

	w := &Workbook{sheet: name}
	if len(text) == 0 {
		return w, nil
	}
	w.header = append([]string(nil), text[0]...)

	for r := 1; r < len(text); r++ {
		width := max(len(text[r]), len(w.header))
		row := make([]cell, width)
		blank := true
		for c := range row {
			var t, v string
			if c < len(text[r]) {
				t = text[r][c]
			}
			if r < len(raw) && c < len(raw[r]) {
				v = raw[r][c]
			}
			if strings.TrimSpace(t) != "" || strings.TrimSpace(v) != "" {
				blank = false
			}
			row[c] = cell{text: t, value: typedValue(f, name, r, c, t, v)}
		}
		if !blank {
			w.rows = append(w.rows, row)
		}
	}
	return w, nil
}

// typedValue keeps numeric and boolean cells as Go numbers and bools so
// identifiers round-trip without turning into text. Everything else is the
// displayed string; empty cells are nil.
func typedValue(f *excelize.File, sheetName string, r, c int, text, raw string) any {
	if raw == "" && text == "" {
		return nil
	}
	ref, err := excelize.CoordinatesToCellName(c+1, r+1)
	if err != nil {
		return text
	}
	typ, err := f.GetCellType(sheetName, ref)
	if err != nil {
		return text
	}

	switch typ {
	case excelize.CellTypeBool:
		return raw == "1" || strings.EqualFold(raw, "true")
	case excelize.CellTypeUnset, excelize.CellTypeNumber:
		if n, ok := parseNumber(raw); ok {
			return n
		}
	}
	return text
}

func parseNumber(s string) (any, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, false
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i, true
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		return nil, false
	}
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int64(f), true
	}
	return f, true
}

// SheetName returns the name of the sheet that was read.
func (w *Workbook) SheetName() string { return w.sheet }

// Columns returns the header names in order.
func (w *Workbook) Columns() []string {
	return append([]string(nil), w.header...)
}

// Len returns the number of non-blank data rows.
func (w *Workbook) Len() int { return len(w.rows) }

// ColumnIndex resolves a column name. An exact match wins; otherwise names
// are compared after Unicode NFKC normalization and trimming, so full-width
// or padded headers still match what a user typed.
func (w *Workbook) ColumnIndex(name string) (int, error) {
	for i, h := range w.header {
		if h == name {
			return i, nil
		}
	}
	want := normalizeHeader(name)
	if want != "" {
		for i, h := range w.header {
			if normalizeHeader(h) == want {
				return i, nil
			}
		}
	}
	return -1, fmt.Errorf("%w: %q", ErrColumnNotFound, name)
}

func normalizeHeader(s string) string {
	return strings.TrimSpace(norm.NFKC.String(s))
}

// Preview returns up to n typed values from the top of a column.
func (w *Workbook) Preview(column string, n int) ([]any, error) {
	idx, err := w.ColumnIndex(column)
	if err != nil {
		return nil, err
	}
	if n > len(w.rows) {
		n = len(w.rows)
	}
	out := make([]any, 0, n)
	for _, row := range w.rows[:n] {
		out = append(out, row[idx].value)
	}
	return out, nil
}

// Requests builds one extraction request per data row. The ID keeps the
// cell's type; the input is the cell's displayed text.
func (w *Workbook) Requests(idColumn, inputColumn, instruction string, outputFormat *string) ([]extract.Request, error) {
	idIdx, err := w.ColumnIndex(idColumn)
	if err != nil {
		return nil, fmt.Errorf("id column: %w", err)
	}
	inIdx, err := w.ColumnIndex(inputColumn)
	if err != nil {
		return nil, fmt.Errorf("input column: %w", err)
	}

	var format *string
	if outputFormat != nil {
		f := *outputFormat
		format = &f
	}

	reqs := make([]extract.Request, len(w.rows))
	for i, row := range w.rows {
		reqs[i] = extract.Request{
			Index:              i,
			ID:                 row[idIdx].value,
			InputData:          row[inIdx].text,
			InstructionPrompt:  instruction,
			OutputFormatPrompt: format,
		}
	}
	return reqs, nil
}
