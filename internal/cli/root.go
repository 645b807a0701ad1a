package cli

import (
	"context"
	"os"

	charmlog "github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/tobyh/cirrus/pkg/buildinfo"
)

// rootOpts carries the persistent flags shared by every subcommand.
type rootOpts struct {
	configPath string
}

// Execute runs the cirrus CLI and returns an error if any command
// fails. This is the main entry point for the CLI application.
//
// The function sets up the root command with all subcommands (check,
// create, update, delete, watch), configures logging based on the
// --verbose flag, and executes the command tree.
//
// Logging:
//   - Default: info level (logs to stderr)
//   - With --verbose (-v): debug level
//
// The logger is attached to the context and accessible to all commands
// via loggerFromContext.
func Execute(ctx context.Context) error {
	var verbose bool
	opts := &rootOpts{}

	root := &cobra.Command{
		Use:          "cirrus",
		Short:        "Cirrus orchestrates interdependent CloudFormation stacks",
		Long:         `Cirrus creates, updates, and deletes sets of CloudFormation stacks declared in one deployment document, ordering every operation by the stacks' declared dependencies and resolving parameters across stack boundaries.`,
		Version:      buildinfo.Version,
		SilenceUsage: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			level := charmlog.InfoLevel
			if verbose {
				level = charmlog.DebugLevel
			}
			cmd.SetContext(withLogger(cmd.Context(), newLogger(os.Stderr, level)))
		},
	}

	root.SetVersionTemplate(buildinfo.Template())
	root.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "cirrus.yaml", "deployment document to operate on")

	root.AddCommand(newCheckCmd(opts))
	root.AddCommand(newCreateCmd(opts))
	root.AddCommand(newUpdateCmd(opts))
	root.AddCommand(newDeleteCmd(opts))
	root.AddCommand(newWatchCmd(opts))

	return root.ExecuteContext(ctx)
}
