package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"gopkg.in/yaml.v3"

	"github.com/mrod0101/bazaar/pkg/logging"
	"github.com/mrod0101/bazaar/pkg/smart/server"
	"github.com/mrod0101/bazaar/pkg/transport"
)

// serveConfigurationFile is the YAML form of the serve configuration.
type serveConfigurationFile struct {
	// Address is the TCP listen address.
	Address string `yaml:"address"`
	// Root is the directory to serve.
	Root string `yaml:"root"`
	// ReadOnly rejects mutating commands when set.
	ReadOnly bool `yaml:"readOnly"`
}

func serveMain(command *cobra.Command, arguments []string) error {
	// Start from flag values and layer in the configuration file, if any.
	// Flags that were explicitly set take precedence.
	address := serveConfiguration.address
	root := serveConfiguration.root
	readOnly := serveConfiguration.readOnly
	if serveConfiguration.configFile != "" {
		data, err := os.ReadFile(serveConfiguration.configFile)
		if err != nil {
			return errors.Wrap(err, "unable to read configuration file")
		}
		var configuration serveConfigurationFile
		if err := yaml.Unmarshal(data, &configuration); err != nil {
			return errors.Wrap(err, "unable to parse configuration file")
		}
		if !command.Flags().Changed("address") && configuration.Address != "" {
			address = configuration.Address
		}
		if !command.Flags().Changed("root") && configuration.Root != "" {
			root = configuration.Root
		}
		if !command.Flags().Changed("read-only") {
			readOnly = configuration.ReadOnly
		}
	}

	// Create the backing transport.
	backing, err := transport.NewLocalTransport(root)
	if err != nil {
		return errors.Wrap(err, "unable to create transport")
	}

	// Create a channel to track termination signals before starting the
	// server so that shutdown is clean, not mid-initialization.
	signalTermination := make(chan os.Signal, 1)
	signal.Notify(signalTermination, os.Interrupt, syscall.SIGTERM)

	// Create and start the server, deferring its shutdown.
	logger := logging.RootLogger.Sublogger("serve")
	smartServer, err := server.New(address, backing, readOnly, logger)
	if err != nil {
		return errors.Wrap(err, "unable to create server")
	}
	smartServer.Start()
	defer smartServer.Stop()
	fmt.Println("listening on", smartServer.Addr())

	// Wait for termination.
	sig := <-signalTermination
	return errors.Errorf("terminated by signal: %s", sig)
}

var serveCommand = &cobra.Command{
	Use:   "serve",
	Short: "Serve a directory over the smart protocol",
	Args:  cobra.NoArgs,
	Run:   mainify(serveMain),
}

var serveConfiguration struct {
	// help indicates whether or not help information should be shown for the
	// command.
	help bool
	// address is the TCP listen address.
	address string
	// root is the directory to serve.
	root string
	// readOnly rejects mutating commands when set.
	readOnly bool
	// configFile is an optional YAML configuration file.
	configFile string
}

// registerServeFlags registers the serve flags into the specified flag set.
func registerServeFlags(flags *pflag.FlagSet) {
	flags.StringVar(&serveConfiguration.address, "address", "localhost:4155", "TCP listen address")
	flags.StringVar(&serveConfiguration.root, "root", ".", "Directory to serve")
	flags.BoolVar(&serveConfiguration.readOnly, "read-only", false, "Reject mutating commands")
	flags.StringVarP(&serveConfiguration.configFile, "config", "c", "", "YAML configuration file")
}

func init() {
	// Grab a handle for the command line flags.
	flags := serveCommand.Flags()

	// Disable alphabetical sorting of flags in help output.
	flags.SortFlags = false

	// Manually add a help flag to override the default message. Cobra will
	// still implement its logic automatically.
	flags.BoolVarP(&serveConfiguration.help, "help", "h", false, "Show help information")

	// Wire up serve flags.
	registerServeFlags(flags)
}
