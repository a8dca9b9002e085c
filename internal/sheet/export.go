package sheet

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/maiteclab/sheetgpt/internal/extract"
)

// OutputSheet is the name of the single sheet written by Export.
const OutputSheet = "Output"

// ErrExport wraps any failure to produce the output workbook.
var ErrExport = errors.New("failed to generate output workbook")

// Export flattens responses into a workbook. The ID column comes first,
// followed by every result key in order of first appearance. Cells a row
// has no value for are left blank.
func Export(responses []extract.Response, idColumn string) ([]byte, error) {
	columns := []string{idColumn}
	seen := map[string]bool{idColumn: true}
	rows := make([]map[string]any, len(responses))

	for i, resp := range responses {
		keys, values := resp.Result.Row()
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}
		values[idColumn] = resp.ID
		rows[i] = values
	}

	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName(f.GetSheetName(0), OutputSheet); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExport, err)
	}

	for c, name := range columns {
		if err := setCell(f, c, 0, name); err != nil {
			return nil, err
		}
	}
	for r, row := range rows {
		for c, name := range columns {
			v, ok := row[name]
			if !ok || v == nil {
				continue
			}
			if err := setCell(f, c, r+1, v); err != nil {
				return nil, err
			}
		}
	}

	buf, err := f.WriteToBuffer()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrExport, err)
	}
	return buf.Bytes(), nil
}

func setCell(f *excelize.File, col, row int, v any) error {
	ref, err := excelize.CoordinatesToCellName(col+1, row+1)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExport, err)
	}
	v, err = cellValue(v)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrExport, err)
	}
	if err := f.SetCellValue(OutputSheet, ref, v); err != nil {
		return fmt.Errorf("%w: %v", ErrExport, err)
	}
	return nil
}

// cellValue passes scalars through and encodes nested values as compact JSON.
func cellValue(v any) (any, error) {
	switch x := v.(type) {
	case string, bool, int, int64, float64, json.Number:
		if n, ok := x.(json.Number); ok {
			return n.String(), nil
		}
		return x, nil
	default:
		b, err := json.Marshal(x)
		if err != nil {
			return nil, err
		}
		return string(b), nil
	}
}

// OutputFileName builds "{base}_{model}_responses_{YYYYMMDDHHMMSS}.xlsx"
// from the uploaded data file name.
func OutputFileName(dataFileName, model string, t time.Time) string {
	base := filepath.Base(dataFileName)
	base = strings.TrimSuffix(base, filepath.Ext(base))
	model = strings.NewReplacer("/", "-", "\\", "-").Replace(model)
	return fmt.Sprintf("%s_%s_responses_%s.xlsx", base, model, t.Format("20060102150405"))
}
