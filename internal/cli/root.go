// Package cli implements the ffibind command line.
package cli

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"ffibind/internal/config"
)

// globalOptions are the flags shared by every command.
type globalOptions struct {
	configFile string
	verbose    bool
}

// NewRootCommand creates the ffibind command tree.
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	root := &cobra.Command{
		Use:   "ffibind",
		Short: "Generate Go bindings for C and Objective-C headers",
		Long: `ffibind reads C and Objective-C headers and generates Go bindings:
struct, union and enum mirrors with checked layouts, function bindings
called through libffi, Objective-C class wrappers and block trampolines.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default is ./"+config.FileName+".yaml)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")

	root.AddCommand(
		newGenerateCommand(opts),
		newSymbolsCommand(opts),
		newLayoutCommand(opts),
		newVersionCommand(),
	)
	return root
}

// Execute runs the command line until it finishes or is interrupted.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCommand().ExecuteContext(ctx)
}

// loadConfig reads the --config file, or .ffibind.yaml in the working
// directory when none is given.
func (o *globalOptions) loadConfig() (*config.Config, error) {
	if o.configFile != "" {
		return config.NewFileLoader(o.configFile).Load()
	}
	return config.LoadConfig()
}
