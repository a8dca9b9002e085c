package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/maiteclab/sheetgpt/internal/api"
	"github.com/maiteclab/sheetgpt/internal/server/endpoints"
	"github.com/maiteclab/sheetgpt/internal/sheet"
)

var columnsPreview int

var columnsCmd = &cobra.Command{
	Use:   "columns <workbook.xlsx>",
	Short: "List the columns of a workbook's first sheet",
	Long: `List the header of a workbook's first sheet, with the first few values
of each column to help pick the id and input columns.

Examples:
  sheetgpt columns people.xlsx
  sheetgpt columns people.xlsx --preview 0 -o json`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if columnsPreview < 0 {
			return fmt.Errorf("%w: --preview must not be negative", errUsage)
		}
		wb, err := sheet.OpenFile(args[0])
		if err != nil {
			return err
		}
		resp, err := endpoints.Columns(wb, columnsPreview)
		if err != nil {
			return err
		}
		return api.Output(resp)
	},
}

func init() {
	columnsCmd.Flags().IntVar(&columnsPreview, "preview", endpoints.DefaultPreviewRows, "Values to preview per column (0 disables)")
	rootCmd.AddCommand(columnsCmd)
}
