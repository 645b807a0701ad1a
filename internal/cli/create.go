package cli

import (
	"github.com/spf13/cobra"

	"github.com/tobyh/cirrus/pkg/errors"
	"github.com/tobyh/cirrus/pkg/orchestrator"
)

// newCreateCmd creates the create command. Sequential by default:
// every stack is watched to its terminal status before the next one
// starts. With --concurrent, all dependency-satisfied stacks are issued
// at once and the frontier advances as creations complete.
func newCreateCmd(opts *rootOpts) *cobra.Command {
	var only string
	var concurrent bool

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create all missing stacks in dependency order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if concurrent && only != "" {
				return errors.New(errors.ErrCodeConfiguration, "--stack cannot be combined with --concurrent")
			}
			o, err := buildOrchestrator(cmd.Context(), opts.configPath, orchestrator.Options{})
			if err != nil {
				return err
			}
			if concurrent {
				err = o.CreateConcurrent(cmd.Context())
			} else {
				err = o.Create(cmd.Context(), only)
			}
			if err != nil {
				return err
			}
			printSuccess("create complete")
			return nil
		},
	}

	cmd.Flags().StringVarP(&only, "stack", "s", "", "limit creation to one stack")
	cmd.Flags().BoolVar(&concurrent, "concurrent", false, "issue independent stacks concurrently")
	return cmd
}
