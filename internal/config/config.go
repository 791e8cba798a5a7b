// Package config handles batchguard configuration using Viper.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/fsutil"
	"github.com/felixgeelhaar/batchguard/internal/gate"
	"github.com/felixgeelhaar/batchguard/internal/hooks"
)

const (
	// StateDirName holds config, lock, breaker state, history and backups
	StateDirName = ".batchguard"

	// FileName is the config file looked up inside the state directory
	FileName = "config.yaml"

	// EnvPrefix prefixes environment overrides, e.g. BATCHGUARD_BREAKER_THRESHOLD
	EnvPrefix = "BATCHGUARD"
)

// Config holds the batchguard configuration.
type Config struct {
	Repo       RepoConfig       `mapstructure:"repo" yaml:"repo"`
	Snapshot   SnapshotConfig   `mapstructure:"snapshot" yaml:"snapshot"`
	Executor   ExecutorConfig   `mapstructure:"executor" yaml:"executor"`
	Breaker    BreakerConfig    `mapstructure:"breaker" yaml:"breaker"`
	Validation ValidationConfig `mapstructure:"validation" yaml:"validation"`
	Log        LogConfig        `mapstructure:"log" yaml:"log"`
	Metrics    MetricsConfig    `mapstructure:"metrics" yaml:"metrics"`
	Hooks      []hooks.Config   `mapstructure:"hooks" yaml:"hooks,omitempty"`
}

// RepoConfig locates the repository and its manifest.
type RepoConfig struct {
	Root     string `mapstructure:"root" yaml:"root"`
	StateDir string `mapstructure:"state_dir" yaml:"state_dir"`
	Manifest string `mapstructure:"manifest" yaml:"manifest"`
}

// SnapshotConfig controls the backup arena.
type SnapshotConfig struct {
	// Dir defaults to <state_dir>/backups
	Dir       string        `mapstructure:"dir" yaml:"dir,omitempty"`
	Retention time.Duration `mapstructure:"retention" yaml:"retention"`
}

// ExecutorConfig controls batch execution.
type ExecutorConfig struct {
	Workers            int           `mapstructure:"workers" yaml:"workers"`
	TaskTimeout        time.Duration `mapstructure:"task_timeout" yaml:"task_timeout"`
	MaxRetries         int           `mapstructure:"max_retries" yaml:"max_retries"`
	RetryDelay         time.Duration `mapstructure:"retry_delay" yaml:"retry_delay"`
	Command            string        `mapstructure:"command" yaml:"command"`
	Shell              string        `mapstructure:"shell" yaml:"shell"`
	RetryableExitCodes []int         `mapstructure:"retryable_exit_codes" yaml:"retryable_exit_codes,omitempty"`
	GracePeriod        time.Duration `mapstructure:"grace_period" yaml:"grace_period"`
}

// BreakerConfig controls the circuit breaker.
type BreakerConfig struct {
	Threshold int `mapstructure:"threshold" yaml:"threshold"`
}

// ValidationConfig lists the gate layers in evaluation order.
type ValidationConfig struct {
	Layers []gate.LayerConfig `mapstructure:"layers" yaml:"layers"`
}

// LogConfig controls structured logging.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint served during a run.
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled" yaml:"enabled"`
	Listen  string `mapstructure:"listen" yaml:"listen"`
}

// Load reads configuration from file and environment. An empty configPath
// looks for .batchguard/config.yaml under repoRoot; a missing file there is
// fine and leaves the defaults in place.
func Load(configPath, repoRoot string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	if configPath != "" {
		if _, err := os.Stat(configPath); err != nil {
			return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "config file not readable: "+configPath, err)
		}
		v.SetConfigFile(configPath)
	} else {
		v.AddConfigPath(filepath.Join(repoRoot, StateDirName))
		v.SetConfigName(strings.TrimSuffix(FileName, filepath.Ext(FileName)))
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errors.NewFileUnmarshalError(v.ConfigFileUsed(), "YAML", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "failed to decode configuration", err)
	}

	if cfg.Repo.Root == "" {
		cfg.Repo.Root = repoRoot
	}
	root, err := filepath.Abs(expandHome(cfg.Repo.Root))
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeConfigInvalid, "invalid repository root", err)
	}
	cfg.Repo.Root = root

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Default returns the configuration used when no file and no environment
// overrides exist.
func Default(repoRoot string) *Config {
	v := viper.New()
	setDefaults(v)

	var cfg Config
	_ = v.Unmarshal(&cfg)
	cfg.Repo.Root = repoRoot
	return &cfg
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("repo.root", "")
	v.SetDefault("repo.state_dir", StateDirName)
	v.SetDefault("repo.manifest", "tasks.yaml")

	v.SetDefault("snapshot.dir", "")
	v.SetDefault("snapshot.retention", 24*time.Hour)

	v.SetDefault("executor.workers", runtime.NumCPU())
	v.SetDefault("executor.task_timeout", 0)
	v.SetDefault("executor.max_retries", 2)
	v.SetDefault("executor.retry_delay", time.Second)
	v.SetDefault("executor.command", "")
	v.SetDefault("executor.shell", "/bin/sh")
	v.SetDefault("executor.retryable_exit_codes", []int{75})
	v.SetDefault("executor.grace_period", 10*time.Second)

	v.SetDefault("breaker.threshold", 3)

	v.SetDefault("validation.layers", []gate.LayerConfig{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", "127.0.0.1:9464")

	v.SetDefault("hooks", []hooks.Config{})
}

// Validate checks the configuration for values the engine cannot work with.
func (c *Config) Validate() error {
	var problems []string

	if c.Repo.Manifest == "" {
		problems = append(problems, "repo.manifest must not be empty")
	}
	if c.Snapshot.Retention <= 0 {
		problems = append(problems, "snapshot.retention must be positive")
	}
	if c.Executor.Workers < 0 {
		problems = append(problems, "executor.workers must not be negative")
	}
	if c.Executor.MaxRetries < 0 {
		problems = append(problems, "executor.max_retries must not be negative")
	}
	if c.Executor.TaskTimeout < 0 || c.Executor.RetryDelay < 0 || c.Executor.GracePeriod < 0 {
		problems = append(problems, "executor durations must not be negative")
	}
	if c.Breaker.Threshold < 1 {
		problems = append(problems, "breaker.threshold must be at least 1")
	}
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("log.level %q is not one of debug, info, warn, error", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		problems = append(problems, fmt.Sprintf("log.format %q is not text or json", c.Log.Format))
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		problems = append(problems, "metrics.listen is required when metrics are enabled")
	}

	seen := make(map[string]bool)
	for i, l := range c.Validation.Layers {
		switch {
		case l.Name == "":
			problems = append(problems, fmt.Sprintf("validation.layers[%d] has no name", i))
		case seen[l.Name]:
			problems = append(problems, fmt.Sprintf("validation layer %q is declared twice", l.Name))
		}
		seen[l.Name] = true
		if l.Type == "" {
			problems = append(problems, fmt.Sprintf("validation layer %q has no type", l.Name))
		}
	}

	hookNames := make(map[string]bool)
	for i, h := range c.Hooks {
		switch {
		case h.Name == "":
			problems = append(problems, fmt.Sprintf("hooks[%d] has no name", i))
		case hookNames[h.Name]:
			problems = append(problems, fmt.Sprintf("hook %q is declared twice", h.Name))
		}
		hookNames[h.Name] = true
		for _, ev := range h.Events {
			if !hooks.IsValidEventType(ev) {
				problems = append(problems, fmt.Sprintf("hook %q subscribes to unknown event %q", h.Name, ev))
			}
		}
	}

	if len(problems) == 0 {
		return nil
	}
	return errors.New(errors.ErrCodeConfigInvalid, "invalid configuration: "+strings.Join(problems, "; ")).
		WithSuggestion(fmt.Sprintf("Check %s or the %s_* environment variables", filepath.Join(StateDirName, FileName), EnvPrefix))
}

// StatePath resolves the state directory against the repository root
func (c *Config) StatePath() string {
	return c.resolve(c.Repo.StateDir)
}

// ManifestPath resolves the manifest against the repository root
func (c *Config) ManifestPath() string {
	return c.resolve(c.Repo.Manifest)
}

// BackupPath is where run arenas live
func (c *Config) BackupPath() string {
	if c.Snapshot.Dir != "" {
		return c.resolve(c.Snapshot.Dir)
	}
	return filepath.Join(c.StatePath(), "backups")
}

// HistoryPath is where events and run records are written
func (c *Config) HistoryPath() string {
	return filepath.Join(c.StatePath(), "history")
}

// BreakerPath is the persisted circuit breaker state
func (c *Config) BreakerPath() string {
	return filepath.Join(c.StatePath(), "breaker.json")
}

func (c *Config) resolve(p string) string {
	p = expandHome(p)
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.Repo.Root, p)
}

// Save writes the configuration as YAML
func Save(cfg *Config, path string) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return fsutil.AtomicWrite(path, data, 0o644)
}

func expandHome(p string) string {
	if p == "" || p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, p[1:])
}
