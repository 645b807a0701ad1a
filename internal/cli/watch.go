package cli

import (
	"github.com/spf13/cobra"

	"github.com/tobyh/cirrus/pkg/orchestrator"
)

// newWatchCmd creates the watch command, which tails one stack's event
// stream until its status changes.
func newWatchCmd(opts *rootOpts) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "watch <stack>",
		Short: "Follow one stack's events until its status changes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := buildOrchestrator(cmd.Context(), opts.configPath, orchestrator.Options{})
			if err != nil {
				return err
			}
			return o.Watch(cmd.Context(), args[0])
		},
	}
	return cmd
}
