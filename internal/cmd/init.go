package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/batchguard/internal/config"
	"github.com/felixgeelhaar/batchguard/internal/gate"
)

func newInitCmd() *cobra.Command {
	var (
		force   bool
		command string
	)

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default .batchguard/config.yaml",
		Long: `Create the .batchguard state directory with a default configuration.

The generated config runs 'go build ./...' as a blocking validation layer for
Go files and leaves the task command empty; set executor.command before the
first run.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			repo, err := cmd.Flags().GetString("repo")
			if err != nil {
				return err
			}
			if repo == "" {
				if repo, err = os.Getwd(); err != nil {
					return err
				}
			}
			repo, err = filepath.Abs(repo)
			if err != nil {
				return err
			}

			path := filepath.Join(repo, config.StateDirName, config.FileName)
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("%s already exists; pass --force to overwrite", path)
			}

			cfg := config.Default(repo)
			// The root is implied by the config location.
			cfg.Repo.Root = ""
			cfg.Executor.Command = command
			cfg.Validation.Layers = []gate.LayerConfig{{
				Name:     "build",
				Type:     "script",
				Blocking: true,
				Paths:    []string{"**/*.go"},
				Config:   map[string]any{"script": "go build ./..."},
			}}

			if err := config.Save(cfg, path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote %s\n", path)
			return nil
		},
	}

	cmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config")
	cmd.Flags().StringVar(&command, "command", "", "shell command run once per task")
	return cmd
}
