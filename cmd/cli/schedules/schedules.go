package schedules

import (
	"fmt"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/crucial707/juport/cmd/cli/client"
	"github.com/crucial707/juport/cmd/cli/output"
	"github.com/crucial707/juport/internal/models"
)

// ==========================
// Init Schedules
// ==========================
func InitSchedules(rootCmd *cobra.Command) {
	schedulesCmd := &cobra.Command{
		Use:   "schedules",
		Short: "Manage notebook schedules",
	}

	schedulesCmd.AddCommand(
		listSchedulesCmd(),
		runScheduleCmd(),
		toggleScheduleCmd(),
		deleteScheduleCmd(),
	)

	rootCmd.AddCommand(schedulesCmd)
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04")
}

// ==========================
// LIST
// ==========================
func listSchedulesCmd() *cobra.Command {
	var jsonOutput bool
	var limit, offset int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, args []string) error {
			var page struct {
				Items []models.Schedule `json:"items"`
				Total int               `json:"total"`
			}
			path := fmt.Sprintf("/schedules?limit=%d&offset=%d", limit, offset)
			if err := client.Do(cmd.Context(), http.MethodGet, path, "", nil, &page); err != nil {
				return err
			}
			if jsonOutput {
				return output.PrintJSON(cmd.OutOrStdout(), page.Items)
			}

			rows := make([][]interface{}, 0, len(page.Items))
			for _, s := range page.Items {
				state := "paused"
				if s.Active {
					state = "active"
				}
				rows = append(rows, []interface{}{s.ID, s.Name, s.NotebookPath, s.CronExpr, s.Timezone, state,
					formatTime(s.LastRunAt), formatTime(s.NextRunAt)})
			}
			output.RenderTable(cmd.OutOrStdout(),
				[]string{"ID", "Name", "Notebook", "Cron", "Timezone", "State", "Last run", "Next run"}, rows)
			fmt.Fprintf(cmd.OutOrStdout(), "%d of %d schedules\n", len(page.Items), page.Total)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output raw JSON")
	cmd.Flags().IntVar(&limit, "limit", 50, "Page size")
	cmd.Flags().IntVar(&offset, "offset", 0, "Page offset")
	return cmd
}

// ==========================
// RUN NOW
// ==========================
func runScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run [id]",
		Short: "Run a schedule now",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var exec models.Execution
			if err := client.Do(cmd.Context(), http.MethodPost, "/schedules/"+args[0]+"/run", "", nil, &exec); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Execution %d started (key %s)\n", exec.ID, exec.Key)
			return nil
		},
	}
}

// ==========================
// TOGGLE
// ==========================
func toggleScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "toggle [id]",
		Short: "Pause or resume a schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var s models.Schedule
			if err := client.Do(cmd.Context(), http.MethodPut, "/schedules/"+args[0]+"/toggle", "", nil, &s); err != nil {
				return err
			}
			if s.Active {
				fmt.Fprintf(cmd.OutOrStdout(), "Schedule %d resumed, next run %s\n", s.ID, formatTime(s.NextRunAt))
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "Schedule %d paused\n", s.ID)
			}
			return nil
		},
	}
}

// ==========================
// DELETE
// ==========================
func deleteScheduleCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete [id]",
		Short: "Delete a schedule (its executions are kept)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client.Do(cmd.Context(), http.MethodDelete, "/schedules/"+args[0], "", nil, nil); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Schedule deleted")
			return nil
		},
	}
}
