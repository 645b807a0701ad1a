package cli

import (
	"github.com/spf13/cobra"

	"github.com/tobyh/cirrus/pkg/orchestrator"
)

// newCheckCmd creates the check command. It resolves every stack's
// parameters and reports remote existence without issuing a single
// mutating call.
func newCheckCmd(opts *rootOpts) *cobra.Command {
	var only string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Resolve parameters and report stack state without changing anything",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := buildOrchestrator(cmd.Context(), opts.configPath, orchestrator.Options{})
			if err != nil {
				return err
			}
			if err := o.Check(cmd.Context(), only); err != nil {
				return err
			}
			printSuccess("check complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&only, "stack", "s", "", "limit the check to one stack")
	return cmd
}
