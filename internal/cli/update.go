package cli

import (
	"github.com/spf13/cobra"

	"github.com/tobyh/cirrus/pkg/orchestrator"
)

// newUpdateCmd creates the update command. Stacks whose remote template
// and parameters already match are skipped without a remote mutation.
func newUpdateCmd(opts *rootOpts) *cobra.Command {
	var only string

	cmd := &cobra.Command{
		Use:   "update",
		Short: "Update existing stacks whose template or parameters changed",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			o, err := buildOrchestrator(cmd.Context(), opts.configPath, orchestrator.Options{})
			if err != nil {
				return err
			}
			if err := o.Update(cmd.Context(), only); err != nil {
				return err
			}
			printSuccess("update complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&only, "stack", "s", "", "limit the update to one stack")
	return cmd
}
