package cron

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/crucial707/juport/internal/scheduler"
)

// InitCron registers the cron preview command.
func InitCron(rootCmd *cobra.Command) {
	rootCmd.AddCommand(cronCmd())
}

func cronCmd() *cobra.Command {
	var tz string
	var count int

	cmd := &cobra.Command{
		Use:   "cron [expression]",
		Short: "Check a cron expression and preview its next runs",
		Long: `Check a five-field cron expression (or a descriptor such as @daily) and
print when it fires next in the given timezone.

Example:
  juport cron "0 9 * * 1-5" --tz Europe/Rome --count 3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if count < 1 || count > 20 {
				return fmt.Errorf("count must be between 1 and 20")
			}
			now := time.Now()
			fires, err := scheduler.NextFires(args[0], tz, now, count)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if prev, ok, err := scheduler.PreviousFire(args[0], tz, now); err == nil && ok {
				fmt.Fprintf(out, "Previous: %s\n", prev.Format(time.RFC1123))
			}
			for i, t := range fires {
				fmt.Fprintf(out, "Next %d:  %s\n", i+1, t.Format(time.RFC1123))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&tz, "tz", "UTC", "IANA timezone the expression is evaluated in")
	cmd.Flags().IntVar(&count, "count", 5, "Number of upcoming runs to show (1-20)")
	return cmd
}
