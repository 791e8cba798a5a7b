package config

import (
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/gate"
	"github.com/felixgeelhaar/batchguard/internal/hooks"
)

func writeConfig(t *testing.T, root, content string) string {
	t.Helper()
	path := filepath.Join(root, StateDirName, FileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	root := t.TempDir()

	cfg, err := Load("", root)
	require.NoError(t, err)

	assert.Equal(t, root, cfg.Repo.Root)
	assert.Equal(t, 24*time.Hour, cfg.Snapshot.Retention)
	assert.Equal(t, 3, cfg.Breaker.Threshold)
	assert.Equal(t, runtime.NumCPU(), cfg.Executor.Workers)
	assert.Equal(t, []int{75}, cfg.Executor.RetryableExitCodes)
	assert.Empty(t, cfg.Validation.Layers)
	assert.Equal(t, filepath.Join(root, StateDirName, "backups"), cfg.BackupPath())
	assert.Equal(t, filepath.Join(root, "tasks.yaml"), cfg.ManifestPath())
}

func TestLoadFromRepoStateDir(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, `
repo:
  manifest: plan/tasks.yaml
snapshot:
  retention: 2h
executor:
  workers: 2
  task_timeout: 30s
  command: make task
breaker:
  threshold: 5
validation:
  layers:
    - name: tests
      type: script
      blocking: true
      paths: ["**/*.go"]
      timeout: 1m
      config:
        script: go test ./...
    - name: docs
      type: script
log:
  level: debug
  format: json
hooks:
  - name: notify
    type: webhook
    events: [run_finished, circuit_open]
    timeout: 5s
    config:
      url: https://hooks.example.com/batchguard
`)

	cfg, err := Load("", root)
	require.NoError(t, err)

	assert.Equal(t, 2*time.Hour, cfg.Snapshot.Retention)
	assert.Equal(t, 2, cfg.Executor.Workers)
	assert.Equal(t, 30*time.Second, cfg.Executor.TaskTimeout)
	assert.Equal(t, "make task", cfg.Executor.Command)
	assert.Equal(t, 5, cfg.Breaker.Threshold)
	assert.Equal(t, filepath.Join(root, "plan", "tasks.yaml"), cfg.ManifestPath())

	require.Len(t, cfg.Validation.Layers, 2)
	tests := cfg.Validation.Layers[0]
	assert.Equal(t, "tests", tests.Name)
	assert.True(t, tests.Blocking)
	assert.Equal(t, []string{"**/*.go"}, tests.Paths)
	assert.Equal(t, time.Minute, tests.Timeout)
	assert.Equal(t, "go test ./...", tests.Config["script"])
	assert.False(t, cfg.Validation.Layers[1].Blocking)

	require.Len(t, cfg.Hooks, 1)
	assert.Equal(t, []hooks.EventType{hooks.EventRunFinished, hooks.EventCircuitOpen}, cfg.Hooks[0].Events)
	assert.Equal(t, 5*time.Second, cfg.Hooks[0].Timeout)
	assert.Equal(t, "https://hooks.example.com/batchguard", cfg.Hooks[0].Config["url"])
}

func TestLoadEnvOverride(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "breaker:\n  threshold: 5\n")
	t.Setenv("BATCHGUARD_BREAKER_THRESHOLD", "7")
	t.Setenv("BATCHGUARD_LOG_FORMAT", "json")

	cfg, err := Load("", root)
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Breaker.Threshold)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoadExplicitPath(t *testing.T) {
	root := t.TempDir()
	path := filepath.Join(root, "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte("breaker:\n  threshold: 9\n"), 0o644))

	cfg, err := Load(path, root)
	require.NoError(t, err)
	assert.Equal(t, 9, cfg.Breaker.Threshold)

	_, err = Load(filepath.Join(root, "missing.yaml"), root)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
}

func TestLoadMalformed(t *testing.T) {
	root := t.TempDir()
	writeConfig(t, root, "breaker: [unclosed\n")

	_, err := Load("", root)
	require.Error(t, err)
	assert.True(t, errors.HasCode(err, errors.ErrCodeFileUnmarshal))
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"zero threshold", func(c *Config) { c.Breaker.Threshold = 0 }},
		{"no retention", func(c *Config) { c.Snapshot.Retention = 0 }},
		{"negative retries", func(c *Config) { c.Executor.MaxRetries = -1 }},
		{"bad level", func(c *Config) { c.Log.Level = "loud" }},
		{"bad format", func(c *Config) { c.Log.Format = "xml" }},
		{"metrics without listen", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Listen = "" }},
		{"duplicate layer", func(c *Config) {
			c.Validation.Layers = append(c.Validation.Layers,
				layer("tests"), layer("tests"))
		}},
		{"unnamed layer", func(c *Config) { c.Validation.Layers = append(c.Validation.Layers, layer("")) }},
		{"unknown hook event", func(c *Config) {
			c.Hooks = append(c.Hooks, hooks.Config{Name: "n", Type: "script", Events: []hooks.EventType{"on_deploy"}})
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default(t.TempDir())
			require.NoError(t, cfg.Validate())

			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, errors.HasCode(err, errors.ErrCodeConfigInvalid))
		})
	}
}

func TestSaveRoundTrip(t *testing.T) {
	root := t.TempDir()
	cfg := Default(root)
	cfg.Breaker.Threshold = 4
	cfg.Executor.TaskTimeout = 90 * time.Second
	cfg.Validation.Layers = append(cfg.Validation.Layers, layer("lint"))

	path := filepath.Join(root, StateDirName, FileName)
	require.NoError(t, Save(cfg, path))

	loaded, err := Load("", root)
	require.NoError(t, err)
	assert.Equal(t, 4, loaded.Breaker.Threshold)
	assert.Equal(t, 90*time.Second, loaded.Executor.TaskTimeout)
	require.Len(t, loaded.Validation.Layers, 1)
	assert.Equal(t, "lint", loaded.Validation.Layers[0].Name)
}

func layer(name string) gate.LayerConfig {
	return gate.LayerConfig{Name: name, Type: "script", Config: map[string]any{"script": "true"}}
}
