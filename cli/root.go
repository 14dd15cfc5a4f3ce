package cli

import (
	"github.com/spf13/cobra"
)

// rootCmd is a root of all commands.
var rootCmd = &cobra.Command{
	Use:   "raidfs [command] [flags]",
	Short: "raidfs command-line interface",
	Long:  `raidfs command-line interface`,
	Run:   rootCmdRun,
}

func rootCmdRun(cmd *cobra.Command, args []string) {
	cmd.Help()
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	// Add commands.
	rootCmd.AddCommand(raidNodeCmd)
}
