package gate

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// ScriptLayer runs a script against the touched files. Exit code 0 passes.
type ScriptLayer struct {
	name      string
	script    string
	args      []string
	shell     string
	dir       string
	passFiles bool
}

// NewScriptLayer creates a script layer. Config keys: script (required),
// args, shell (default /bin/sh), dir, pass_files.
func NewScriptLayer(cfg LayerConfig) (Layer, error) {
	script, ok := cfg.Config["script"].(string)
	if !ok || script == "" {
		return nil, fmt.Errorf("script path required")
	}

	layer := &ScriptLayer{
		name:   cfg.Name,
		script: script,
		shell:  "/bin/sh",
	}

	if argsInterface, ok := cfg.Config["args"]; ok {
		if argsList, ok := argsInterface.([]any); ok {
			for _, arg := range argsList {
				if argStr, ok := arg.(string); ok {
					layer.args = append(layer.args, argStr)
				}
			}
		}
	}
	if shell, ok := cfg.Config["shell"].(string); ok && shell != "" {
		layer.shell = shell
	}
	if dir, ok := cfg.Config["dir"].(string); ok {
		layer.dir = dir
	}
	if pass, ok := cfg.Config["pass_files"].(bool); ok {
		layer.passFiles = pass
	}

	return layer, nil
}

// Name implements Layer
func (l *ScriptLayer) Name() string { return l.name }

// Validate implements Layer
func (l *ScriptLayer) Validate(ctx context.Context, files []string) Result {
	args := append([]string{l.script}, l.args...)
	if l.passFiles {
		args = append(args, files...)
	}

	cmd := exec.CommandContext(ctx, l.shell, args...)
	cmd.Dir = l.dir
	cmd.Env = append(os.Environ(),
		"BATCHGUARD_LAYER="+l.name,
		"BATCHGUARD_FILES="+strings.Join(files, "\n"),
		"BATCHGUARD_FILE_COUNT="+strconv.Itoa(len(files)),
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = strings.TrimSpace(stdout.String())
		}
		return Fail(fmt.Sprintf("script failed: %v: %s", err, tail(msg, 1024)))
	}
	return Pass(tail(strings.TrimSpace(stdout.String()), 1024))
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
