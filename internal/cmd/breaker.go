package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/batchguard/internal/ux"
)

func newBreakerCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breaker",
		Short: "Inspect or reset the circuit breaker",
	}

	status := &cobra.Command{
		Use:   "status",
		Short: "Show the circuit breaker state",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			st, err := cc.Breaker().State()
			if err != nil {
				return err
			}
			return cc.Output(breakerView{st})
		},
	}

	var yes bool
	reset := &cobra.Command{
		Use:   "reset",
		Short: "Close the circuit breaker after the failures were investigated",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			b := cc.Breaker()
			st, err := b.State()
			if err != nil {
				return err
			}

			if st.Open && !yes {
				if !ux.ShouldPrompt() {
					return fmt.Errorf("refusing to reset an open breaker without confirmation; pass --yes")
				}
				ok, err := ux.Confirm(
					"Reset the circuit breaker?",
					fmt.Sprintf("%d consecutive runs failed. Automatic runs resume after the reset.", st.ConsecutiveFailures),
					false,
				)
				if err != nil {
					return err
				}
				if !ok {
					return nil
				}
			}

			if err := b.Reset(); err != nil {
				return err
			}
			cc.Logger.Info("circuit breaker reset", "previous_failures", st.ConsecutiveFailures)
			st, err = b.State()
			if err != nil {
				return err
			}
			return cc.Output(breakerView{st})
		},
	}
	reset.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")

	cmd.AddCommand(status, reset)
	return cmd
}
