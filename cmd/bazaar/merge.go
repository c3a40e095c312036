package main

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/spf13/cobra"

	"github.com/mrod0101/bazaar/pkg/logging"
	"github.com/mrod0101/bazaar/pkg/merge"
	"github.com/mrod0101/bazaar/pkg/tree"
)

func mergeMain(command *cobra.Command, arguments []string) error {
	// Validate arguments.
	if len(arguments) != 1 {
		return errors.New("merge requires a working tree path")
	}
	if mergeConfiguration.base == "" || mergeConfiguration.other == "" {
		return errors.New("merge requires --base and --other trees")
	}

	// Open the three trees. The target tree is the only one mutated.
	this, err := tree.OpenWorkingTree(arguments[0])
	if err != nil {
		return errors.Wrap(err, "unable to open working tree")
	}
	base, err := tree.OpenWorkingTree(mergeConfiguration.base)
	if err != nil {
		return errors.Wrap(err, "unable to open base tree")
	}
	other, err := tree.OpenWorkingTree(mergeConfiguration.other)
	if err != nil {
		return errors.Wrap(err, "unable to open merge source tree")
	}

	// Merge.
	logger := logging.RootLogger.Sublogger("merge")
	merger := merge.NewMerger(this, base, other, logger)
	merged, err := merger.Merge()
	if err != nil {
		return errors.Wrap(err, "merge failed")
	}

	// Report conflicts.
	for _, conflict := range merged {
		fmt.Println(conflict)
	}
	if len(merged) > 0 {
		return errors.Errorf("%d conflicts encountered", len(merged))
	}
	fmt.Println("All changes applied successfully.")
	return nil
}

var mergeCommand = &cobra.Command{
	Use:   "merge <tree>",
	Short: "Perform a three-way merge into a working tree",
	Args:  cobra.ExactArgs(1),
	Run:   mainify(mergeMain),
}

var mergeConfiguration struct {
	// help indicates whether or not help information should be shown for the
	// command.
	help bool
	// base is the common ancestor tree path.
	base string
	// other is the merge source tree path.
	other string
}

func init() {
	// Grab a handle for the command line flags.
	flags := mergeCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	flags.BoolVarP(&mergeConfiguration.help, "help", "h", false, "Show help information")

	// Wire up merge flags.
	flags.StringVar(&mergeConfiguration.base, "base", "", "Common ancestor tree path")
	flags.StringVar(&mergeConfiguration.other, "other", "", "Merge source tree path")
}
