package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/maiteclab/sheetgpt/internal/api"
	"github.com/maiteclab/sheetgpt/internal/promptfile"
	"github.com/maiteclab/sheetgpt/internal/server/endpoints"
)

var formatTable bool

var formatCmd = &cobra.Command{
	Use:   "format <format.txt|format.docx>",
	Short: "Show the fields an output format declares",
	Long: `Parse an output format file and show each declared field with its
allowed values and type, plus the JSON Schema replies are checked against.

Each line "Name: type" or "Name: type(v1,v2)" declares a field. Types are
string, integer, float and boolean. Lines without a colon are ignored.

Examples:
  sheetgpt format format.docx
  sheetgpt format format.txt --table`,
	Args: exactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		text, err := promptfile.ReadFile(args[0])
		if err != nil {
			return err
		}
		resp, err := endpoints.ParseFormat(text)
		if err != nil {
			return err
		}
		if !formatTable {
			return api.Output(resp)
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "COLUMN NAME\tVALUES\tDATA TYPE")
		for _, f := range resp.Fields {
			fmt.Fprintf(w, "%s\t%s\t%s\n", f.Name, f.Values, f.Type)
		}
		if err := w.Flush(); err != nil {
			return err
		}
		if resp.Warning != "" {
			fmt.Fprintln(cmd.ErrOrStderr(), "warning:", resp.Warning)
		}
		return nil
	},
}

func init() {
	formatCmd.Flags().BoolVar(&formatTable, "table", false, "Print the fields as a table")
	rootCmd.AddCommand(formatCmd)
}
