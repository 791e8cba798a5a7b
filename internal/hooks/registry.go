package hooks

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/batchguard/internal/log"
)

type registered struct {
	hook    Hook
	timeout time.Duration
}

// Registry manages hooks and dispatches events to them
type Registry struct {
	mu sync.RWMutex

	// hooks maps event types to registered hooks
	hooks map[EventType][]registered

	// factories maps hook types to their factory functions
	factories map[string]Factory

	logger *log.Logger
}

// NewRegistry creates a registry with the built-in script, webhook and
// slack factories.
func NewRegistry(logger *log.Logger) *Registry {
	r := &Registry{
		hooks:     make(map[EventType][]registered),
		factories: make(map[string]Factory),
		logger:    log.OrDefault(logger).With("component", "hooks"),
	}
	r.RegisterFactory("script", NewScriptHook)
	r.RegisterFactory("webhook", NewWebhookHook)
	r.RegisterFactory("slack", NewSlackHook)
	return r
}

// RegisterFactory registers a hook factory
func (r *Registry) RegisterFactory(hookType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[hookType] = factory
}

// Register adds a hook for every event it handles
func (r *Registry) Register(hook Hook, timeout time.Duration) error {
	if hook == nil {
		return fmt.Errorf("hook cannot be nil")
	}
	events := hook.EventTypes()
	if len(events) == 0 {
		return fmt.Errorf("hook %s subscribes to no events", hook.Name())
	}
	for _, t := range events {
		if !IsValidEventType(t) {
			return fmt.Errorf("hook %s: unknown event %q", hook.Name(), t)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, t := range events {
		r.hooks[t] = append(r.hooks[t], registered{hook: hook, timeout: timeout})
	}
	return nil
}

// RegisterFromConfig creates and registers a hook from configuration.
// Disabled hooks are skipped.
func (r *Registry) RegisterFromConfig(cfg Config) error {
	if cfg.Disabled {
		return nil
	}

	r.mu.RLock()
	factory, exists := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !exists {
		return fmt.Errorf("unknown hook type: %s", cfg.Type)
	}

	hook, err := factory(cfg)
	if err != nil {
		return fmt.Errorf("failed to create hook %s: %w", cfg.Name, err)
	}
	return r.Register(hook, cfg.Timeout)
}

// Trigger executes all hooks registered for the event type and logs every
// failure. It returns once all hooks finished.
func (r *Registry) Trigger(ctx context.Context, event *Event) []ExecutionResult {
	if r == nil {
		return nil
	}
	r.mu.RLock()
	hooks := r.hooks[event.Type]
	r.mu.RUnlock()

	results := executeAll(ctx, hooks, event)
	for _, res := range results {
		if !res.Success {
			r.logger.Warn("hook failed", "hook", res.HookName, "event", res.EventType,
				"run_id", event.RunID, "error", res.Error, "duration", res.Duration)
		}
	}
	return results
}

// HasHooksFor checks if there are any hooks registered for an event type
func (r *Registry) HasHooksFor(eventType EventType) bool {
	if r == nil {
		return false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.hooks[eventType]) > 0
}

// Count returns the number of distinct registered hooks
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	seen := make(map[string]bool)
	for _, hooks := range r.hooks {
		for _, h := range hooks {
			seen[h.hook.Name()] = true
		}
	}
	return len(seen)
}
