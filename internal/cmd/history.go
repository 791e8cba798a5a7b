package cmd

import (
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Inspect recorded runs",
	}

	var limit int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			rec, err := cc.History()
			if err != nil {
				return err
			}
			defer rec.Close()

			runs, err := rec.ListRuns()
			if err != nil {
				return err
			}
			if limit > 0 && len(runs) > limit {
				runs = runs[:limit]
			}
			return cc.Output(runListView(runs))
		},
	}
	list.Flags().IntVarP(&limit, "limit", "n", 20, "show at most this many runs (0 for all)")

	var events bool
	show := &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run record",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			rec, err := cc.History()
			if err != nil {
				return err
			}
			defer rec.Close()

			if events {
				evs, err := rec.Events(args[0])
				if err != nil {
					return err
				}
				return cc.Output(eventsView(evs))
			}

			run, err := rec.LoadRun(args[0])
			if err != nil {
				return err
			}
			return cc.Output(runView{run})
		},
	}
	show.Flags().BoolVar(&events, "events", false, "print the verified event log instead of the run record")

	cmd.AddCommand(list, show)
	return cmd
}
