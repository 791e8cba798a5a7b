package hooks

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"strconv"
	"strings"
)

// base carries the fields every built-in hook shares
type base struct {
	name   string
	events []EventType
}

func (b base) Name() string            { return b.name }
func (b base) EventTypes() []EventType { return b.events }

// ScriptHook runs a shell command with the event in its environment and
// the event JSON on stdin
type ScriptHook struct {
	base
	script string
	shell  string
}

// NewScriptHook creates a new script hook
func NewScriptHook(cfg Config) (Hook, error) {
	script, ok := cfg.Config["script"].(string)
	if !ok || script == "" {
		return nil, fmt.Errorf("script required")
	}

	hook := &ScriptHook{
		base:   base{name: cfg.Name, events: cfg.Events},
		script: script,
		shell:  "/bin/sh",
	}
	if shell, ok := cfg.Config["shell"].(string); ok && shell != "" {
		hook.shell = shell
	}
	return hook, nil
}

// Execute implements Hook
func (h *ScriptHook) Execute(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	cmd := exec.CommandContext(ctx, h.shell, "-c", h.script)
	cmd.Env = append(os.Environ(),
		"BATCHGUARD_EVENT="+string(event.Type),
		"BATCHGUARD_RUN_ID="+event.RunID,
		"BATCHGUARD_BATCH="+strconv.Itoa(event.Batch),
		"BATCHGUARD_RUN_STATUS="+event.Status,
		"BATCHGUARD_ERROR_CODE="+event.ErrorCode,
		"BATCHGUARD_BACKUP_PATH="+event.BackupPath,
	)
	cmd.Stdin = bytes.NewReader(payload)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("script failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}

// WebhookHook posts the event as JSON
type WebhookHook struct {
	base
	url     string
	headers map[string]string
	client  *http.Client
}

// NewWebhookHook creates a new webhook hook
func NewWebhookHook(cfg Config) (Hook, error) {
	url, ok := cfg.Config["url"].(string)
	if !ok || url == "" {
		return nil, fmt.Errorf("webhook URL required")
	}

	hook := &WebhookHook{
		base:    base{name: cfg.Name, events: cfg.Events},
		url:     url,
		headers: make(map[string]string),
		client:  &http.Client{},
	}
	if headers, ok := cfg.Config["headers"].(map[string]any); ok {
		for key, value := range headers {
			if s, ok := value.(string); ok {
				hook.headers[key] = os.ExpandEnv(s)
			}
		}
	}
	return hook, nil
}

// Execute implements Hook
func (h *WebhookHook) Execute(ctx context.Context, event *Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	return post(ctx, h.client, h.url, payload, h.headers)
}

// SlackHook posts a one-line summary to a Slack incoming webhook
type SlackHook struct {
	base
	webhookURL string
	channel    string
	username   string
	client     *http.Client
}

// NewSlackHook creates a new Slack hook
func NewSlackHook(cfg Config) (Hook, error) {
	webhookURL, ok := cfg.Config["webhook_url"].(string)
	if !ok || webhookURL == "" {
		return nil, fmt.Errorf("slack webhook URL required")
	}

	hook := &SlackHook{
		base:       base{name: cfg.Name, events: cfg.Events},
		webhookURL: os.ExpandEnv(webhookURL),
		username:   "batchguard",
		client:     &http.Client{},
	}
	if channel, ok := cfg.Config["channel"].(string); ok {
		hook.channel = channel
	}
	if username, ok := cfg.Config["username"].(string); ok && username != "" {
		hook.username = username
	}
	return hook, nil
}

// Execute implements Hook
func (h *SlackHook) Execute(ctx context.Context, event *Event) error {
	payload := map[string]any{
		"text":     formatMessage(event),
		"username": h.username,
	}
	if h.channel != "" {
		payload["channel"] = h.channel
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal slack payload: %w", err)
	}
	return post(ctx, h.client, h.webhookURL, data, nil)
}

func formatMessage(event *Event) string {
	var msg string
	switch event.Type {
	case EventRunFinished:
		msg = fmt.Sprintf("Run %s finished: %s", event.RunID, event.Status)
	case EventRollbackCompleted:
		msg = fmt.Sprintf("Run %s: batch %d rolled back (%d files)", event.RunID, event.Batch, len(event.Files))
	case EventRollbackFailed:
		msg = fmt.Sprintf("Run %s: rollback of batch %d FAILED verification, manual recovery required from %s",
			event.RunID, event.Batch, event.BackupPath)
	case EventCircuitOpen:
		msg = fmt.Sprintf("Circuit breaker opened after run %s; automatic runs are refused until reset", event.RunID)
	default:
		msg = fmt.Sprintf("Event %s for run %s", event.Type, event.RunID)
	}
	if event.ErrorCode != "" {
		msg += fmt.Sprintf("\n[%s] %s", event.ErrorCode, event.ErrorMessage)
	}
	return msg
}

func post(ctx context.Context, client *http.Client, url string, payload []byte, headers map[string]string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("webhook request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
