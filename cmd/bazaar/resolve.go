package main

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/spf13/cobra"

	"github.com/mrod0101/bazaar/pkg/conflicts"
	"github.com/mrod0101/bazaar/pkg/tree"
)

func resolveMain(command *cobra.Command, arguments []string) error {
	// Parse the action.
	action, err := conflicts.ParseAction(resolveConfiguration.action)
	if err != nil {
		return err
	}

	// Open the working tree.
	wt, err := tree.OpenWorkingTree(resolveConfiguration.tree)
	if err != nil {
		return errors.Wrap(err, "unable to open working tree")
	}

	// Resolve. With no paths, all recorded conflicts are resolved.
	resolved, err := conflicts.ResolveConflicts(wt, arguments, action)
	if err != nil {
		return err
	}
	fmt.Printf("%d conflicts resolved\n", resolved)
	return nil
}

var resolveCommand = &cobra.Command{
	Use:   "resolve [<path>...]",
	Short: "Mark working tree conflicts as resolved",
	Run:   mainify(resolveMain),
}

var resolveConfiguration struct {
	// help indicates whether or not help information should be shown for the
	// command.
	help bool
	// tree is the working tree path.
	tree string
	// action is the resolution action.
	action string
}

func init() {
	// Grab a handle for the command line flags.
	flags := resolveCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	flags.BoolVarP(&resolveConfiguration.help, "help", "h", false, "Show help information")

	// Wire up resolve flags.
	flags.StringVarP(&resolveConfiguration.tree, "tree", "t", ".", "Working tree path")
	flags.StringVar(&resolveConfiguration.action, "action", "done", "Resolution action (done, take-this, take-other)")
}
