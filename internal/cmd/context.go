package cmd

import (
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/batchguard/internal/breaker"
	"github.com/felixgeelhaar/batchguard/internal/config"
	"github.com/felixgeelhaar/batchguard/internal/exec"
	"github.com/felixgeelhaar/batchguard/internal/gate"
	"github.com/felixgeelhaar/batchguard/internal/history"
	"github.com/felixgeelhaar/batchguard/internal/hooks"
	"github.com/felixgeelhaar/batchguard/internal/log"
	"github.com/felixgeelhaar/batchguard/internal/manifest"
	"github.com/felixgeelhaar/batchguard/internal/metrics"
	"github.com/felixgeelhaar/batchguard/internal/orchestrator"
	"github.com/felixgeelhaar/batchguard/internal/snapshot"
	"github.com/felixgeelhaar/batchguard/internal/ux"
)

// CommandContext holds the resolved flags and configuration of one
// invocation. Commands build it in RunE instead of reading globals.
type CommandContext struct {
	RepoRoot   string
	ConfigPath string
	Format     string
	Quiet      bool

	Config *config.Config
	Logger *log.Logger

	Stdout io.Writer
	Stderr io.Writer
}

// NewCommandContext resolves the repository, loads configuration and sets
// up logging for cmd.
func NewCommandContext(cmd *cobra.Command) (*CommandContext, error) {
	flags := cmd.Flags()

	configPath, err := flags.GetString("config")
	if err != nil {
		return nil, err
	}
	repo, err := flags.GetString("repo")
	if err != nil {
		return nil, err
	}
	format, err := flags.GetString("format")
	if err != nil {
		return nil, err
	}
	quiet, err := flags.GetBool("quiet")
	if err != nil {
		return nil, err
	}
	logLevel, err := flags.GetString("log-level")
	if err != nil {
		return nil, err
	}
	logFormat, err := flags.GetString("log-format")
	if err != nil {
		return nil, err
	}

	if repo == "" {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		if repo, err = ux.DiscoverRepoRoot(wd); err != nil {
			return nil, err
		}
	}

	cfg, err := config.Load(configPath, repo)
	if err != nil {
		return nil, err
	}
	if logLevel != "" {
		cfg.Log.Level = logLevel
	}
	if logFormat != "" {
		cfg.Log.Format = logFormat
	}

	lc := log.DefaultConfig()
	lc.Level = log.ParseLevel(cfg.Log.Level)
	lc.Format = log.ParseFormat(cfg.Log.Format)
	lc.Output = cmd.ErrOrStderr()
	if quiet {
		lc.Level = log.LevelError
	}

	logger := log.New(lc)
	log.SetDefaultLogger(logger)

	return &CommandContext{
		RepoRoot:   cfg.Repo.Root,
		ConfigPath: configPath,
		Format:     format,
		Quiet:      quiet,
		Config:     cfg,
		Logger:     logger,
		Stdout:     cmd.OutOrStdout(),
		Stderr:     cmd.ErrOrStderr(),
	}, nil
}

// Output formats v according to --format
func (c *CommandContext) Output(v any) error {
	f, err := ux.NewFormatter(c.Format, &ux.FormatterOptions{Writer: c.Stdout})
	if err != nil {
		return err
	}
	return f.Format(v)
}

// LoadManifest reads the manifest at path, falling back to the configured
// manifest and then to discovery in the repository root.
func (c *CommandContext) LoadManifest(path string) (*manifest.Manifest, string, error) {
	if path == "" {
		path = c.Config.ManifestPath()
		if _, err := os.Stat(path); err != nil {
			if found, derr := ux.DiscoverManifest(c.RepoRoot); derr == nil {
				path = found
			}
		}
	}
	m, err := manifest.Load(path)
	if err != nil {
		return nil, path, err
	}
	for _, w := range m.Warnings() {
		c.Logger.Warn("manifest warning", "warning", w)
	}
	return m, path, nil
}

// Breaker opens the repository's circuit breaker
func (c *CommandContext) Breaker() *breaker.Breaker {
	return breaker.New(c.Config.BreakerPath(), c.Config.Breaker.Threshold)
}

// Store opens the repository's snapshot store
func (c *CommandContext) Store() *snapshot.Store {
	return snapshot.NewStore(c.RepoRoot, c.Config.BackupPath(), c.Logger)
}

// History opens the repository's run history
func (c *CommandContext) History() (*history.Recorder, error) {
	return history.NewRecorder(c.Config.HistoryPath())
}

// Gate builds the validation gate from the configured layers
func (c *CommandContext) Gate() (*gate.Gate, error) {
	reg := gate.NewRegistry()
	for _, lc := range c.Config.Validation.Layers {
		if err := reg.RegisterFromConfig(lc); err != nil {
			return nil, err
		}
	}
	return gate.New(reg, c.Logger), nil
}

// Hooks builds the notification registry from the configured hooks
func (c *CommandContext) Hooks() (*hooks.Registry, error) {
	reg := hooks.NewRegistry(c.Logger)
	for _, hc := range c.Config.Hooks {
		if err := reg.RegisterFromConfig(hc); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// Runner builds the shell command runner from the executor config
func (c *CommandContext) Runner() *exec.CommandRunner {
	ec := c.Config.Executor
	return &exec.CommandRunner{
		Command:            ec.Command,
		Shell:              ec.Shell,
		RepoRoot:           c.RepoRoot,
		RetryableExitCodes: ec.RetryableExitCodes,
		GracePeriod:        ec.GracePeriod,
		RecordDir:          filepath.Join(c.Config.HistoryPath(), "tasks"),
		Logger:             c.Logger,
	}
}

// Orchestrator wires every component for the repository. A nil m records
// metrics into a private registry.
func (c *CommandContext) Orchestrator(runner exec.Runner, manifestPath string, m *metrics.Metrics) (*orchestrator.Orchestrator, error) {
	g, err := c.Gate()
	if err != nil {
		return nil, err
	}
	hk, err := c.Hooks()
	if err != nil {
		return nil, err
	}
	rec, err := c.History()
	if err != nil {
		return nil, err
	}

	ec := c.Config.Executor
	return orchestrator.New(orchestrator.Options{
		RepoRoot:     c.RepoRoot,
		StateDir:     c.Config.StatePath(),
		BackupDir:    c.Config.BackupPath(),
		Retention:    c.Config.Snapshot.Retention,
		ManifestPath: manifestPath,
		Runner:       runner,
		Executor: exec.Options{
			Workers:     ec.Workers,
			TaskTimeout: ec.TaskTimeout,
			MaxRetries:  ec.MaxRetries,
			RetryDelay:  ec.RetryDelay,
			Logger:      c.Logger,
		},
		Gate:    g,
		Breaker: c.Breaker(),
		History: rec,
		Metrics: m,
		Hooks:   hk,
		Logger:  c.Logger,
	})
}
