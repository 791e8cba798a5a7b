package exec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/felixgeelhaar/batchguard/internal/log"
	"github.com/felixgeelhaar/batchguard/internal/manifest"
)

// Environment variables handed to task commands
const (
	EnvTaskID          = "BATCHGUARD_TASK_ID"
	EnvTaskFiles       = "BATCHGUARD_TASK_FILES"
	EnvTaskDeps        = "BATCHGUARD_TASK_DEPS"
	EnvTaskDescription = "BATCHGUARD_TASK_DESCRIPTION"
	EnvTaskOwner       = "BATCHGUARD_TASK_OWNER"
	EnvRepoRoot        = "BATCHGUARD_REPO_ROOT"
)

const defaultGracePeriod = 10 * time.Second

// CommandRunner runs one shell command per task inside the repository.
// Exit code 0 is success, codes listed in RetryableExitCodes are
// recoverable and everything else is fatal. On cancellation the process
// receives an interrupt and GracePeriod to exit on its own.
type CommandRunner struct {
	Command            string
	Shell              string
	RepoRoot           string
	Env                map[string]string
	RetryableExitCodes []int
	GracePeriod        time.Duration

	// RecordDir, when set, receives one TaskRecord per attempt
	RecordDir string

	Logger *log.Logger
}

// CommandResult captures one process execution
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Duration time.Duration
	Error    error
}

// Run implements Runner
func (r *CommandRunner) Run(ctx context.Context, task manifest.Task) Outcome {
	if strings.TrimSpace(r.Command) == "" {
		return Fatal(fmt.Errorf("no task command configured"))
	}

	env := r.environment(task)
	record := NewTaskRecord(task.ID(), r.Command, env)
	record.InputHashes = hashFiles(r.RepoRoot, task.Files())

	res, err := r.execute(ctx, env)
	if err != nil {
		return Fatal(fmt.Errorf("start task command: %w", err))
	}

	record.Complete(res)
	record.OutputHashes = hashFiles(r.RepoRoot, task.Files())
	changed := record.ChangedFiles()

	if r.RecordDir != "" {
		if err := SaveTaskRecord(record, r.RecordDir); err != nil {
			log.OrDefault(r.Logger).Warn("failed to save task record", "task", task.ID(), "error", err)
		}
	}

	detail := fmt.Sprintf("exit %d in %s", res.ExitCode, res.Duration.Round(time.Millisecond))
	if len(changed) > 0 {
		detail += "; changed " + strings.Join(changed, ", ")
	}

	switch {
	case res.ExitCode == 0:
		return Success(detail)
	case ctx.Err() != nil:
		return Outcome{Status: StatusCancelled, Err: ctx.Err(), Detail: detail}
	case slices.Contains(r.RetryableExitCodes, res.ExitCode):
		return Outcome{Status: StatusRecoverable, Err: exitError(res), Detail: detail}
	default:
		return Outcome{Status: StatusFatal, Err: exitError(res), Detail: detail}
	}
}

func (r *CommandRunner) execute(ctx context.Context, env []string) (*CommandResult, error) {
	startTime := time.Now()

	shell := r.Shell
	if shell == "" {
		shell = "/bin/sh"
	}

	cmd := exec.CommandContext(ctx, shell, "-c", r.Command)
	cmd.Dir = r.RepoRoot
	cmd.Env = append(os.Environ(), env...)
	cmd.Cancel = func() error {
		return cmd.Process.Signal(os.Interrupt)
	}
	cmd.WaitDelay = r.GracePeriod
	if cmd.WaitDelay <= 0 {
		cmd.WaitDelay = defaultGracePeriod
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else if ctx.Err() == nil {
			return nil, err
		} else {
			exitCode = -1
		}
	}

	return &CommandResult{
		ExitCode: exitCode,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(startTime),
		Error:    err,
	}, nil
}

func (r *CommandRunner) environment(task manifest.Task) []string {
	env := []string{
		EnvTaskID + "=" + task.ID(),
		EnvTaskFiles + "=" + strings.Join(task.Files(), "\n"),
		EnvTaskDeps + "=" + strings.Join(task.Deps(), " "),
		EnvTaskDescription + "=" + task.Description(),
		EnvTaskOwner + "=" + task.Owner(),
		EnvRepoRoot + "=" + r.RepoRoot,
	}
	keys := make([]string, 0, len(r.Env))
	for k := range r.Env {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		env = append(env, k+"="+r.Env[k])
	}
	return env
}

func exitError(res *CommandResult) error {
	msg := strings.TrimSpace(res.Stderr)
	if len(msg) > 512 {
		msg = "..." + msg[len(msg)-512:]
	}
	if msg == "" {
		return fmt.Errorf("task command exited with code %d", res.ExitCode)
	}
	return fmt.Errorf("task command exited with code %d: %s", res.ExitCode, msg)
}

func hashFiles(root string, files []string) map[string]string {
	out := make(map[string]string, len(files))
	for _, f := range files {
		if sum, err := HashFile(filepath.Join(root, filepath.FromSlash(f))); err == nil {
			out[f] = sum
		}
	}
	return out
}
