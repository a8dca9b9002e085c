package sheet

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/maiteclab/sheetgpt/internal/extract"
	"github.com/maiteclab/sheetgpt/internal/structured"
	"github.com/maiteclab/sheetgpt/internal/testutil"
)

func openRows(t *testing.T, rows [][]any) *Workbook {
	t.Helper()
	w, err := Open(bytes.NewReader(testutil.Workbook(t, rows)))
	require.NoError(t, err)
	return w
}

func TestOpen_Columns(t *testing.T) {
	w := openRows(t, [][]any{
		{"ID", "Text", "Note"},
		{1, "Ann is 34", "x"},
	})
	assert.Equal(t, []string{"ID", "Text", "Note"}, w.Columns())
	assert.Equal(t, "Sheet1", w.SheetName())
	assert.Equal(t, 1, w.Len())
}

func TestOpen_Invalid(t *testing.T) {
	_, err := Open(bytes.NewReader([]byte("not a workbook")))
	assert.Error(t, err)
}

func TestRequests(t *testing.T) {
	w := openRows(t, [][]any{
		{"ID", "Text"},
		{101, "Ann is 34 and married"},
		{nil, nil},
		{"007", "Bond"},
		{2.5, 42},
		{true, "flag row"},
	})
	format := "Name: string"

	reqs, err := w.Requests("ID", "Text", "Extract.", &format)
	require.NoError(t, err)
	require.Len(t, reqs, 4, "blank row must be skipped")

	assert.Equal(t, int64(101), reqs[0].ID)
	assert.Equal(t, "Ann is 34 and married", reqs[0].InputData)
	assert.Equal(t, "007", reqs[1].ID)
	assert.Equal(t, 2.5, reqs[2].ID)
	assert.Equal(t, "42", reqs[2].InputData)
	assert.Equal(t, true, reqs[3].ID)

	for i, r := range reqs {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, "Extract.", r.InstructionPrompt)
		require.NotNil(t, r.OutputFormatPrompt)
		assert.Equal(t, format, *r.OutputFormatPrompt)
	}

	format = "changed"
	assert.Equal(t, "Name: string", *reqs[0].OutputFormatPrompt, "prompt must be copied")
}

func TestRequests_NoFormat(t *testing.T) {
	w := openRows(t, [][]any{{"ID", "Text"}, {1, "a"}})
	reqs, err := w.Requests("ID", "Text", "Go.", nil)
	require.NoError(t, err)
	assert.Nil(t, reqs[0].OutputFormatPrompt)
}

func TestRequests_UnknownColumn(t *testing.T) {
	w := openRows(t, [][]any{{"ID", "Text"}, {1, "a"}})

	_, err := w.Requests("Missing", "Text", "", nil)
	assert.True(t, errors.Is(err, ErrColumnNotFound))

	_, err = w.Requests("ID", "Missing", "", nil)
	assert.ErrorIs(t, err, ErrColumnNotFound)
}

func TestColumnIndex_Normalized(t *testing.T) {
	w := openRows(t, [][]any{{" ＩＤ ", "Text"}, {1, "a"}})
	idx, err := w.ColumnIndex("ID")
	require.NoError(t, err)
	assert.Equal(t, 0, idx)
}

func TestPreview(t *testing.T) {
	w := openRows(t, [][]any{
		{"ID", "Text"},
		{1, "a"}, {2, "b"}, {3, "c"}, {4, "d"},
	})
	got, err := w.Preview("ID", 3)
	require.NoError(t, err)
	assert.Equal(t, []any{int64(1), int64(2), int64(3)}, got)

	got, err = w.Preview("Text", 10)
	require.NoError(t, err)
	assert.Len(t, got, 4)
}

func TestExport(t *testing.T) {
	responses := []extract.Response{
		{ID: int64(1), Result: structured.Fields([]string{"Name", "Age"}, map[string]any{"Name": "Ann", "Age": int64(34)})},
		{ID: int64(2), Result: structured.Failure("model request failed: boom")},
		{ID: "x3", Result: structured.Empty()},
		{ID: int64(4), Result: structured.Fields([]string{"Name", "Age"}, map[string]any{"Name": "Bo", "Age": nil})},
	}

	data, err := Export(responses, "ID")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	assert.Equal(t, []string{OutputSheet}, f.GetSheetList())
	rows, err := f.GetRows(OutputSheet)
	require.NoError(t, err)
	require.Len(t, rows, 5)

	assert.Equal(t, []string{"ID", "Name", "Age", "error"}, rows[0])
	assert.Equal(t, []string{"1", "Ann", "34"}, rows[1])
	assert.Equal(t, []string{"2", "", "", "model request failed: boom"}, rows[2])
	assert.Equal(t, []string{"x3"}, rows[3])
	assert.Equal(t, []string{"4", "Bo"}, rows[4])

	typ, err := f.GetCellType(OutputSheet, "A2")
	require.NoError(t, err)
	assert.NotEqual(t, excelize.CellTypeSharedString, typ, "numeric IDs stay numeric")
}

func TestExport_PassthroughAndIDOverride(t *testing.T) {
	responses := []extract.Response{
		{ID: int64(9), Result: structured.Raw("free text")},
		{ID: int64(10), Result: structured.Fields([]string{"ID", "v"}, map[string]any{"ID": "model said", "v": "ok"})},
	}
	data, err := Export(responses, "ID")
	require.NoError(t, err)

	f, err := excelize.OpenReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer f.Close()

	rows, err := f.GetRows(OutputSheet)
	require.NoError(t, err)
	assert.Equal(t, []string{"ID", "response", "v"}, rows[0])
	assert.Equal(t, []string{"9", "free text"}, rows[1])
	assert.Equal(t, []string{"10", "", "ok"}, rows[2], "the row ID wins over a same-named field")
}

func TestCellValue_Nested(t *testing.T) {
	v, err := cellValue(map[string]any{"a": []any{1, 2}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":[1,2]}`, v)
}

func TestOutputFileName(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 7, 9, 0, time.UTC)
	assert.Equal(t, "people_gpt-3.5-turbo_responses_20240305140709.xlsx",
		OutputFileName("uploads/people.xlsx", "gpt-3.5-turbo", ts))
	assert.Equal(t, "data.v2_org-model_responses_20240305140709.xlsx",
		OutputFileName("data.v2.xlsx", "org/model", ts))
}
