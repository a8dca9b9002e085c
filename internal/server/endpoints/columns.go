package endpoints

import (
	"bytes"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/maiteclab/sheetgpt/internal/api"
	"github.com/maiteclab/sheetgpt/internal/sheet"
	"github.com/maiteclab/sheetgpt/internal/svcctx"
)

// DefaultPreviewRows is the number of values shown per column.
const DefaultPreviewRows = 3

// ColumnsResponse lists the header of a workbook's first sheet.
type ColumnsResponse struct {
	Sheet   string           `json:"sheet" yaml:"sheet"`
	Rows    int              `json:"rows" yaml:"rows"`
	Columns []string         `json:"columns" yaml:"columns"`
	Preview map[string][]any `json:"preview,omitempty" yaml:"preview,omitempty"`
}

// Columns describes a workbook, with up to preview values per column.
func Columns(wb *sheet.Workbook, preview int) (ColumnsResponse, error) {
	resp := ColumnsResponse{
		Sheet:   wb.SheetName(),
		Rows:    wb.Len(),
		Columns: wb.Columns(),
	}
	if preview <= 0 {
		return resp, nil
	}
	resp.Preview = make(map[string][]any, len(resp.Columns))
	for _, col := range resp.Columns {
		vals, err := wb.Preview(col, preview)
		if err != nil {
			return resp, err
		}
		resp.Preview[col] = vals
	}
	return resp, nil
}

// ColumnsEndpoint handles POST /api/columns.
type ColumnsEndpoint struct{}

var _ api.Endpoint = (*ColumnsEndpoint)(nil)

func (e *ColumnsEndpoint) Route() (string, string, http.HandlerFunc) {
	return "POST", "/api/columns", e.handler
}

// handler godoc
//
//	@Summary		List workbook columns
//	@Description	Returns the header of the first sheet and a preview of each column
//	@Tags			extract
//	@Accept			mpfd
//	@Produce		json
//	@Param			data	formData	file	true	"Workbook (.xlsx)"
//	@Param			preview	formData	int		false	"Values to preview per column (default 3, 0 disables)"
//	@Success		200		{object}	ColumnsResponse
//	@Failure		400		{object}	ErrorResponse
//	@Router			/api/columns [post]
func (e *ColumnsEndpoint) handler(w http.ResponseWriter, r *http.Request) {
	logger := svcctx.LoggerFrom(r.Context())
	if !parseForm(w, r) {
		return
	}
	defer cleanupForm(r, logger)

	data, _, ok, err := formFile(r, "data")
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "data file is required")
		return
	}

	preview := DefaultPreviewRows
	if v := r.FormValue("preview"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "preview must be a non-negative integer")
			return
		}
		preview = n
	}

	wb, err := sheet.Open(bytes.NewReader(data))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp, err := Columns(wb, preview)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (e *ColumnsEndpoint) Command(getServerURL func() string) *cobra.Command {
	var preview int
	cmd := &cobra.Command{
		Use:   "columns <workbook.xlsx>",
		Short: "List the columns of a workbook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			client := api.NewClient(getServerURL())
			var resp ColumnsResponse
			err = client.PostForm(cmd.Context(), "/api/columns",
				map[string]string{"preview": fmt.Sprint(preview)},
				[]api.FormFile{{Field: "data", Name: filepath.Base(args[0]), Data: data}},
				&resp)
			if err != nil {
				return err
			}
			return api.Output(resp)
		},
	}
	cmd.Flags().IntVar(&preview, "preview", DefaultPreviewRows, "Values to preview per column (0 disables)")
	return cmd
}
