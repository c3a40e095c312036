package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

// fatal prints an error message to standard error and then terminates the
// process with an error exit code.
func fatal(err error) {
	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}

// mainify wraps an error-returning Cobra entry point into a standard one,
// allowing entry points to rely on defer-based cleanup before termination.
func mainify(entry func(*cobra.Command, []string) error) func(*cobra.Command, []string) {
	return func(command *cobra.Command, arguments []string) {
		if err := entry(command, arguments); err != nil {
			fatal(err)
		}
	}
}

// rootCommand is the top-level command.
var rootCommand = &cobra.Command{
	Use:   "bazaar",
	Short: "Distributed version control plumbing",
	Run: func(command *cobra.Command, arguments []string) {
		command.Help()
	},
}

// rootConfiguration stores configuration for the root command.
var rootConfiguration struct {
	// help indicates whether or not help information should be shown for the
	// command.
	help bool
}

func init() {
	// Grab a handle for the command line flags.
	flags := rootCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	flags.BoolVarP(&rootConfiguration.help, "help", "h", false, "Show help information")

	// Register commands.
	rootCommand.AddCommand(
		serveCommand,
		mergeCommand,
		resolveCommand,
		conflictsCommand,
		versionCommand,
	)
}

func main() {
	if err := rootCommand.Execute(); err != nil {
		os.Exit(1)
	}
}
