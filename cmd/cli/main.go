package main

import (
	"fmt"
	"os"

	"github.com/crucial707/juport/cmd/cli/auth"
	"github.com/crucial707/juport/cmd/cli/cron"
	"github.com/crucial707/juport/cmd/cli/executions"
	"github.com/crucial707/juport/cmd/cli/notebooks"
	"github.com/crucial707/juport/cmd/cli/root"
	"github.com/crucial707/juport/cmd/cli/schedules"
	"github.com/crucial707/juport/cmd/cli/tasks"
)

func main() {
	rootCmd := root.GetRoot()
	auth.InitAuth(rootCmd)
	notebooks.InitNotebooks(rootCmd)
	schedules.InitSchedules(rootCmd)
	executions.InitExecutions(rootCmd)
	cron.InitCron(rootCmd)
	tasks.InitTasks(rootCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
