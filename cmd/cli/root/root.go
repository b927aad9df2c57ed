package root

import (
	"github.com/spf13/cobra"
)

// RootCmd is the juport command.
var RootCmd = &cobra.Command{
	Use:           "juport",
	Short:         "Notebook report scheduler CLI",
	Long:          "Command line interface for inspecting notebooks and driving the juport API.",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// GetRoot returns the RootCmd.
func GetRoot() *cobra.Command {
	return RootCmd
}
