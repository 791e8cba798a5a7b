package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/batchguard/internal/lock"
)

func newSnapshotsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshots",
		Short: "Manage batch snapshots",
	}

	list := &cobra.Command{
		Use:   "list",
		Short: "List run arenas under the backup directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			metas, err := cc.Store().List()
			if err != nil {
				return err
			}
			return cc.Output(snapshotListView(metas))
		},
	}

	var retention time.Duration
	prune := &cobra.Command{
		Use:   "prune",
		Short: "Delete run arenas older than the retention period",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			if retention <= 0 {
				retention = cc.Config.Snapshot.Retention
			}
			// Runs and restores in other processes hold the same lock while
			// their arenas are in use.
			rl := lock.New(cc.RepoRoot, cc.Config.StatePath())
			if err := rl.TryAcquire("prune"); err != nil {
				return err
			}
			defer func() {
				if err := rl.Release(); err != nil {
					cc.Logger.Warn("failed to release repository lock", "error", err)
				}
			}()

			removed, err := cc.Store().Prune(time.Now(), retention, rl)
			if err != nil {
				return err
			}
			cc.Logger.Info("pruned snapshots", "removed", len(removed), "retention", retention)
			return cc.Output(prunedView(removed))
		},
	}
	prune.Flags().DurationVar(&retention, "older-than", 0, "retention override (default from config)")

	cmd.AddCommand(list, prune)
	return cmd
}
