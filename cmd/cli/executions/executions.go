package executions

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/crucial707/juport/cmd/cli/client"
	"github.com/crucial707/juport/cmd/cli/output"
	"github.com/crucial707/juport/internal/models"
)

// ==========================
// Init Executions
// ==========================
func InitExecutions(rootCmd *cobra.Command) {
	executionsCmd := &cobra.Command{
		Use:   "executions",
		Short: "Inspect notebook executions",
	}

	executionsCmd.AddCommand(
		listExecutionsCmd(),
		getExecutionCmd(),
		downloadCmd(),
	)

	rootCmd.AddCommand(executionsCmd)
}

func duration(e models.Execution) string {
	if e.FinishedAt == nil {
		return "-"
	}
	return e.FinishedAt.Sub(e.StartedAt).Round(time.Second).String()
}

// ==========================
// LIST
// ==========================
func listExecutionsCmd() *cobra.Command {
	var jsonOutput bool
	var scheduleID, limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent executions",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := url.Values{}
			q.Set("limit", strconv.Itoa(limit))
			if scheduleID > 0 {
				q.Set("schedule_id", strconv.Itoa(scheduleID))
			}
			var page struct {
				Items []models.Execution `json:"items"`
				Total int                `json:"total"`
			}
			if err := client.Do(cmd.Context(), http.MethodGet, "/executions?"+q.Encode(), "", nil, &page); err != nil {
				return err
			}
			if jsonOutput {
				return output.PrintJSON(cmd.OutOrStdout(), page.Items)
			}

			rows := make([][]interface{}, 0, len(page.Items))
			for _, e := range page.Items {
				schedule := "-"
				if e.ScheduleID != nil {
					schedule = strconv.Itoa(*e.ScheduleID)
				}
				rows = append(rows, []interface{}{e.ID, e.NotebookPath, schedule, e.Trigger, e.Status,
					e.StartedAt.Local().Format("2006-01-02 15:04:05"), duration(e), len(e.Artifacts)})
			}
			output.RenderTable(cmd.OutOrStdout(),
				[]string{"ID", "Notebook", "Schedule", "Trigger", "Status", "Started", "Duration", "Artifacts"}, rows)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")
	cmd.Flags().IntVar(&scheduleID, "schedule", 0, "Only executions of this schedule")
	cmd.Flags().IntVar(&limit, "limit", 20, "Number of executions to show")
	return cmd
}

// ==========================
// GET
// ==========================
func getExecutionCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "get [id]",
		Short: "Show one execution with its artifacts and log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var e models.Execution
			if err := client.Do(cmd.Context(), http.MethodGet, "/executions/"+args[0], "", nil, &e); err != nil {
				return err
			}
			if jsonOutput {
				return output.PrintJSON(cmd.OutOrStdout(), e)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Execution: %d (%s)\n", e.ID, e.Key)
			fmt.Fprintf(out, "Notebook:  %s\n", e.NotebookPath)
			fmt.Fprintf(out, "Trigger:   %s\n", e.Trigger)
			fmt.Fprintf(out, "Status:    %s\n", e.Status)
			fmt.Fprintf(out, "Duration:  %s\n", duration(e))
			if e.Error != "" {
				fmt.Fprintf(out, "Error:     %s\n", e.Error)
			}
			if e.CleanupError != "" {
				fmt.Fprintf(out, "Cleanup:   %s\n", e.CleanupError)
			}

			if len(e.Artifacts) > 0 {
				fmt.Fprintln(out, "\nArtifacts:")
				rows := make([][]interface{}, 0, len(e.Artifacts))
				for _, a := range e.Artifacts {
					rows = append(rows, []interface{}{a.Name, a.Kind, a.Size})
				}
				output.RenderTable(out, []string{"Name", "Kind", "Size"}, rows)
			} else {
				fmt.Fprintln(out, "\nNo artifacts.")
			}
			if e.Log != "" {
				fmt.Fprintf(out, "\nLog:\n%s\n", e.Log)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")
	return cmd
}

// ==========================
// DOWNLOAD
// ==========================
func downloadCmd() *cobra.Command {
	var dest string

	cmd := &cobra.Command{
		Use:   "download [id] [artifact]",
		Short: "Download an artifact of an execution",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := client.Raw(cmd.Context(), http.MethodGet,
				"/executions/"+args[0]+"/artifacts/"+(&url.URL{Path: args[1]}).EscapedPath(), "", nil)
			if err != nil {
				return err
			}
			defer resp.Body.Close()

			if dest == "" {
				dest = path.Base(args[1])
			}
			f, err := os.Create(dest)
			if err != nil {
				return err
			}
			n, err := io.Copy(f, resp.Body)
			if cerr := f.Close(); err == nil {
				err = cerr
			}
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Saved %s (%d bytes)\n", dest, n)
			return nil
		},
	}

	cmd.Flags().StringVarP(&dest, "output", "o", "", "Destination file (default: artifact base name)")
	return cmd
}
