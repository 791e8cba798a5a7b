package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/batchguard/internal/ux"
)

// NewRootCommand builds the batchguard command tree
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:   "batchguard",
		Short: "Batch concurrent code-modification tasks with snapshot rollback",
		Long: `batchguard plans a manifest of file-modifying tasks into batches that never
touch the same file concurrently, snapshots every batch before it runs,
validates the result and restores the snapshot byte for byte when a blocking
validation layer fails.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	flags := root.PersistentFlags()
	flags.String("config", "", "config file (default is <repo>/.batchguard/config.yaml)")
	flags.String("repo", "", "repository root (default: discovered from the working directory)")
	flags.StringP("format", "f", "text", "output format: "+joinFormats())
	flags.String("log-level", "", "log level override: debug, info, warn, error")
	flags.String("log-format", "", "log format override: text, json")
	flags.BoolP("quiet", "q", false, "only log errors")

	root.AddCommand(
		newInitCmd(),
		newPlanCmd(),
		newRunCmd(),
		newRollbackCmd(),
		newBreakerCmd(),
		newHistoryCmd(),
		newSnapshotsCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the root command
func Execute() error {
	return NewRootCommand().Execute()
}

// ExecuteContext runs the root command with ctx, which commands use for
// cancellation.
func ExecuteContext(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

func joinFormats() string {
	s := ""
	for i, f := range ux.Formats {
		if i > 0 {
			s += ", "
		}
		s += f
	}
	return s
}
