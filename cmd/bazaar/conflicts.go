package main

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/spf13/cobra"

	"github.com/mrod0101/bazaar/pkg/conflicts"
	"github.com/mrod0101/bazaar/pkg/tree"
)

func conflictsMain(command *cobra.Command, arguments []string) error {
	// Open the working tree.
	wt, err := tree.OpenWorkingTree(conflictsConfiguration.tree)
	if err != nil {
		return errors.Wrap(err, "unable to open working tree")
	}

	// List recorded conflicts.
	recorded, err := conflicts.ReadConflicts(wt)
	if err != nil {
		return err
	}
	for _, conflict := range recorded {
		fmt.Println(conflict)
	}
	return nil
}

var conflictsCommand = &cobra.Command{
	Use:   "conflicts",
	Short: "List working tree conflicts",
	Args:  cobra.NoArgs,
	Run:   mainify(conflictsMain),
}

var conflictsConfiguration struct {
	// help indicates whether or not help information should be shown for the
	// command.
	help bool
	// tree is the working tree path.
	tree string
}

func init() {
	// Grab a handle for the command line flags.
	flags := conflictsCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	flags.BoolVarP(&conflictsConfiguration.help, "help", "h", false, "Show help information")

	// Wire up flags.
	flags.StringVarP(&conflictsConfiguration.tree, "tree", "t", ".", "Working tree path")
}
