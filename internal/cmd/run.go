package cmd

import (
	"context"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/metrics"
	"github.com/felixgeelhaar/batchguard/internal/orchestrator"
	"github.com/felixgeelhaar/batchguard/internal/plan"
)

type runFlags struct {
	manifest string
	plan     string
	command  string
	workers  int
	metrics  bool
}

func newRunCmd() *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Execute a task manifest batch by batch with rollback",
		Long: `Execute a task manifest batch by batch.

Every batch is snapshotted before its tasks start. After the batch the
configured validation layers run; a blocking failure restores the snapshot
and halts the run. Repeated failed runs open the circuit breaker.

Send SIGUSR1 to request a rollback of the current batch; it is honoured once
the running tasks have finished. Ctrl+C cancels the batch, restores its
snapshot and aborts.

Examples:
  # Run the configured manifest
  batchguard run

  # Run with an explicit task command and a Prometheus endpoint
  batchguard run --manifest tasks.yaml --command ./apply-task.sh --metrics

  # Refuse to run if the manifest no longer matches a reviewed plan
  batchguard run --plan plan.json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cc, err := NewCommandContext(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("command") {
				cc.Config.Executor.Command = f.command
			}
			if cmd.Flags().Changed("workers") {
				cc.Config.Executor.Workers = f.workers
			}
			if cmd.Flags().Changed("metrics") {
				cc.Config.Metrics.Enabled = f.metrics
			}
			return runManifest(cmd.Context(), cc, f)
		},
	}

	cmd.Flags().StringVarP(&f.manifest, "manifest", "m", "", "task manifest (default from config)")
	cmd.Flags().StringVar(&f.plan, "plan", "", "reviewed plan the manifest must still produce")
	cmd.Flags().StringVar(&f.command, "command", "", "shell command run once per task")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "concurrent tasks per batch (default from config)")
	cmd.Flags().BoolVar(&f.metrics, "metrics", false, "serve Prometheus metrics while running")
	return cmd
}

func runManifest(ctx context.Context, cc *CommandContext, f runFlags) error {
	m, path, err := cc.LoadManifest(f.manifest)
	if err != nil {
		return err
	}

	if f.plan != "" {
		reviewed, err := plan.Load(f.plan)
		if err != nil {
			return err
		}
		current, err := plan.Build(m)
		if err != nil {
			return err
		}
		if !plan.SameSchedule(reviewed, current) {
			return errors.New(errors.ErrCodePlanInvalid, "manifest no longer produces the reviewed plan "+f.plan).
				WithSuggestion("Re-run 'batchguard plan --out " + f.plan + "' and review the new batches")
		}
	}

	reg, mtr := metrics.NewRegistry()
	if cc.Config.Metrics.Enabled {
		stop, err := serveMetrics(cc, metrics.Handler(reg))
		if err != nil {
			return err
		}
		defer stop()
	}

	o, err := cc.Orchestrator(cc.Runner(), path, mtr)
	if err != nil {
		return err
	}
	defer func() {
		if err := o.Close(); err != nil {
			cc.Logger.Warn("failed to close run history", "error", err)
		}
	}()

	stopRequests := watchRollbackRequests(cc, o)
	defer stopRequests()

	rec, runErr := o.Run(ctx, m)
	if rec != nil {
		if err := cc.Output(runView{rec}); err != nil {
			return err
		}
	}
	return runErr
}

// watchRollbackRequests turns SIGUSR1 into a rollback request until the
// returned func is called.
func watchRollbackRequests(cc *CommandContext, o *orchestrator.Orchestrator) func() {
	requests := make(chan os.Signal, 1)
	signal.Notify(requests, syscall.SIGUSR1)

	done := make(chan struct{})
	exited := make(chan struct{})
	go func() {
		defer close(exited)
		for {
			select {
			case <-requests:
				cc.Logger.Warn("rollback requested, waiting for the current batch to finish")
				o.RequestRollback()
			case <-done:
				return
			}
		}
	}()

	return func() {
		signal.Stop(requests)
		close(done)
		<-exited
	}
}

func serveMetrics(cc *CommandContext, handler http.Handler) (func(), error) {
	ln, err := net.Listen("tcp", cc.Config.Metrics.Listen)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "cannot listen on "+cc.Config.Metrics.Listen, err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", handler)
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
			cc.Logger.Warn("metrics server stopped", "error", err)
		}
	}()
	cc.Logger.Info("serving metrics", "addr", ln.Addr().String())

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}, nil
}
