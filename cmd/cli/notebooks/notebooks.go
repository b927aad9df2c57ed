package notebooks

import (
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/crucial707/juport/cmd/cli/client"
	"github.com/crucial707/juport/cmd/cli/output"
	"github.com/crucial707/juport/internal/models"
	"github.com/crucial707/juport/internal/params"
)

// ==========================
// Init Notebooks
// ==========================
func InitNotebooks(rootCmd *cobra.Command) {
	notebooksCmd := &cobra.Command{
		Use:   "notebooks",
		Short: "Inspect notebooks",
	}

	notebooksCmd.AddCommand(
		listNotebooksCmd(),
		paramsCmd(),
	)

	rootCmd.AddCommand(notebooksCmd)
}

// ==========================
// LIST
// ==========================
func listNotebooksCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List notebooks known to the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			var page struct {
				Items []models.Notebook `json:"items"`
				Total int               `json:"total"`
			}
			if err := client.Do(cmd.Context(), http.MethodGet, "/notebooks", "", nil, &page); err != nil {
				return err
			}
			if jsonOutput {
				return output.PrintJSON(cmd.OutOrStdout(), page.Items)
			}

			rows := make([][]interface{}, 0, len(page.Items))
			for _, nb := range page.Items {
				rows = append(rows, []interface{}{nb.Path, nb.Size, nb.ModifiedAt.Format("2006-01-02 15:04")})
			}
			output.RenderTable(cmd.OutOrStdout(), []string{"Path", "Size", "Modified"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")
	return cmd
}

// ==========================
// PARAMS (local scan)
// ==========================
func paramsCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "params [notebook.ipynb]",
		Short: "Show the parameters a local notebook declares",
		Long: `Scan a notebook file without running it and list the parameters it reads
(os.getenv calls and "# @param" annotations) and the files it writes.

Example:
  juport notebooks params reports/weekly.ipynb`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			report, err := params.ScanNotebook(data)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			if jsonOutput {
				return output.PrintJSON(cmd.OutOrStdout(), report)
			}

			out := cmd.OutOrStdout()
			rows := make([][]interface{}, 0, len(report.Params))
			for _, p := range report.Params {
				rows = append(rows, []interface{}{p.Name, p.Kind, fmt.Sprint(p.Default), p.Source, output.Dash(p.Description)})
			}
			output.RenderTable(out, []string{"Name", "Kind", "Default", "Source", "Description"}, rows)

			if len(report.Outputs) > 0 {
				names := make([]string, 0, len(report.Outputs))
				for _, f := range report.Outputs {
					names = append(names, f.Name)
				}
				fmt.Fprintf(out, "\nOutputs: %s\n", strings.Join(names, ", "))
			}
			for _, d := range report.Skipped {
				fmt.Fprintf(out, "skipped %s\n", d.Error())
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the scan report as JSON")
	return cmd
}
