package cli

import (
	"github.com/spf13/cobra"

	"github.com/tobyh/cirrus/pkg/orchestrator"
)

// newDeleteCmd creates the delete command. Stacks are deleted in
// reverse dependency order and every deletion asks for an explicit
// "yes" on stdin first.
func newDeleteCmd(opts *rootOpts) *cobra.Command {
	var only string
	var force bool

	cmd := &cobra.Command{
		Use:   "delete",
		Short: "Delete stacks in reverse dependency order, with confirmation",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			confirm := confirmStackDeletion
			if force {
				confirm = func(name, id string) bool { return true }
			}
			o, err := buildOrchestrator(cmd.Context(), opts.configPath, orchestrator.Options{
				Confirm: confirm,
			})
			if err != nil {
				return err
			}
			if err := o.Delete(cmd.Context(), only); err != nil {
				return err
			}
			printSuccess("delete complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&only, "stack", "s", "", "limit deletion to one stack")
	cmd.Flags().BoolVar(&force, "force", false, "skip the confirmation prompt")
	return cmd
}
