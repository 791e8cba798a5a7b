package hooks

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// maxConcurrency limits concurrent hook execution per event
const maxConcurrency = 10

// executeAll runs hooks concurrently and returns one result per hook in
// registration order. Hook errors never abort sibling hooks.
func executeAll(ctx context.Context, hooks []registered, event *Event) []ExecutionResult {
	if len(hooks) == 0 {
		return nil
	}

	results := make([]ExecutionResult, len(hooks))
	var g errgroup.Group
	g.SetLimit(maxConcurrency)

	for i, h := range hooks {
		g.Go(func() error {
			results[i] = execute(ctx, h, event)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func execute(ctx context.Context, h registered, event *Event) (result ExecutionResult) {
	result = ExecutionResult{
		HookName:  h.hook.Name(),
		EventType: event.Type,
	}

	timeout := h.timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	hookCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			result.Success = false
			result.Error = fmt.Sprintf("hook panicked: %v", p)
		}
		result.Duration = time.Since(start)
	}()

	if err := h.hook.Execute(hookCtx, event); err != nil {
		result.Error = err.Error()
		return result
	}
	result.Success = true
	return result
}
