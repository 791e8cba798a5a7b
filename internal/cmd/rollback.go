package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/batchguard/internal/exec"
	"github.com/felixgeelhaar/batchguard/internal/manifest"
	"github.com/felixgeelhaar/batchguard/internal/ux"
)

func newRollbackCmd() *cobra.Command {
	var (
		runID string
		batch int
		yes   bool
	)

	cmd := &cobra.Command{
		Use:   "rollback",
		Short: "Restore a batch snapshot of a past run",
		Long: `Restore one published batch snapshot of a past run under the repository lock.

Every restored file is verified against the checksum recorded when the
snapshot was taken. A mismatch is reported with the backup location and is
never retried automatically.

Examples:
  # Restore the last snapshot of a run
  batchguard rollback --run 20261019T101500Z-1a2b3c4d

  # Restore batch 2 without prompting
  batchguard rollback --run 20261019T101500Z-1a2b3c4d --batch 2 --yes`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}

			if runID == "" {
				if runID, err = pickRun(cc); err != nil {
					return err
				}
			}

			if !yes {
				if !ux.ShouldPrompt() {
					return fmt.Errorf("refusing to restore without confirmation; pass --yes")
				}
				target := "its latest snapshot"
				if batch >= 0 {
					target = fmt.Sprintf("batch %d", batch)
				}
				ok, err := ux.Confirm(
					fmt.Sprintf("Restore %s of run %s?", target, runID),
					"Files in the snapshot are overwritten and files created since are removed.",
					false,
				)
				if err != nil {
					return err
				}
				if !ok {
					cc.Logger.Info("rollback cancelled")
					return nil
				}
			}

			runner := exec.RunnerFunc(func(ctx context.Context, _ manifest.Task) exec.Outcome {
				return exec.Fatal(fmt.Errorf("rollback does not run tasks"))
			})
			o, err := cc.Orchestrator(runner, "", nil)
			if err != nil {
				return err
			}
			defer o.Close()

			res, err := o.RestoreRun(cmd.Context(), runID, batch)
			if res != nil {
				if ferr := cc.Output(rollbackView{res}); ferr != nil {
					return ferr
				}
			}
			return err
		},
	}

	cmd.Flags().StringVar(&runID, "run", "", "run id to restore (prompted when omitted)")
	cmd.Flags().IntVar(&batch, "batch", -1, "batch index to restore (default: latest snapshot)")
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "skip the confirmation prompt")
	return cmd
}

// pickRun lets the user choose a run arena when --run was omitted
func pickRun(cc *CommandContext) (string, error) {
	if !ux.ShouldPrompt() {
		return "", fmt.Errorf(`required flag "run" not set`)
	}
	metas, err := cc.Store().List()
	if err != nil {
		return "", err
	}
	if len(metas) == 0 {
		return "", fmt.Errorf("no snapshots under %s", cc.Config.BackupPath())
	}
	ids := make([]string, 0, len(metas))
	for i := len(metas) - 1; i >= 0; i-- {
		ids = append(ids, metas[i].RunID)
	}
	return ux.Select("Which run should be restored?", ids)
}
