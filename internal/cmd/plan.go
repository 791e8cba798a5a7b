package cmd

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/batchguard/internal/plan"
	"github.com/felixgeelhaar/batchguard/internal/ux"
)

const watchDebounce = 200 * time.Millisecond

type planFlags struct {
	manifest string
	out      string
	watch    bool
}

func newPlanCmd() *cobra.Command {
	var f planFlags

	cmd := &cobra.Command{
		Use:   "plan",
		Short: "Compute the batch plan for a task manifest",
		Long: `Compute the batch plan for a task manifest without touching the repository.

Tasks in one batch modify disjoint files and have no dependency on each other.
Conflicting tasks are serialized in manifest order.

Examples:
  # Show the plan for the configured manifest
  batchguard plan

  # Write the plan as JSON for a later 'batchguard run --plan'
  batchguard plan --manifest tasks.yaml --format json --out plan.json

  # Re-plan every time the manifest changes
  batchguard plan --watch`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			if f.watch {
				return watchPlan(cmd.Context(), cc, f)
			}
			return renderPlan(cc, f)
		},
	}

	cmd.Flags().StringVarP(&f.manifest, "manifest", "m", "", "task manifest (default from config)")
	cmd.Flags().StringVarP(&f.out, "out", "o", "", "also save the plan as JSON to this path")
	cmd.Flags().BoolVarP(&f.watch, "watch", "w", false, "re-plan whenever the manifest changes")
	return cmd
}

// planView renders a plan with the lipgloss plan renderer in text mode
type planView struct {
	*plan.Plan
}

func (v planView) MarshalYAML() (any, error) { return v.Plan, nil }

func (v planView) RenderText(w io.Writer) error {
	return plan.Render(w, v.Plan)
}

func renderPlan(cc *CommandContext, f planFlags) error {
	m, _, err := cc.LoadManifest(f.manifest)
	if err != nil {
		return err
	}
	p, err := plan.Build(m)
	if err != nil {
		return err
	}
	if f.out != "" {
		if err := plan.Save(p, f.out); err != nil {
			return err
		}
		cc.Logger.Info("plan saved", "path", f.out, "batches", len(p.Batches))
	}
	return cc.Output(planView{p})
}

func watchPlan(ctx context.Context, cc *CommandContext, f planFlags) error {
	_, path, err := cc.LoadManifest(f.manifest)
	if err != nil {
		ux.PrintError(cc.Stderr, err)
	}
	if path == "" {
		return err
	}
	f.manifest = path

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	defer watcher.Close()

	// Editors replace files by rename, so watch the directory.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}

	replan := func() {
		if err := renderPlan(cc, f); err != nil {
			ux.PrintError(cc.Stderr, err)
		}
	}
	replan()
	cc.Logger.Info("watching manifest", "path", path)

	var debounce <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != filepath.Clean(path) {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				debounce = time.After(watchDebounce)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			cc.Logger.Warn("manifest watcher error", "error", err)
		case <-debounce:
			debounce = nil
			fmt.Fprintln(cc.Stdout)
			replan()
		}
	}
}
