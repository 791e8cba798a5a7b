package gate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/felixgeelhaar/batchguard/internal/errors"
	"github.com/felixgeelhaar/batchguard/internal/log"
)

const maxConcurrentLayers = 4

// Gate evaluates the registered layers
type Gate struct {
	registry *Registry
	logger   *log.Logger
}

// New creates a gate over registry
func New(registry *Registry, logger *log.Logger) *Gate {
	if registry == nil {
		registry = NewRegistry()
	}
	return &Gate{
		registry: registry,
		logger:   log.OrDefault(logger).With("component", "gate"),
	}
}

// Registry returns the underlying registry
func (g *Gate) Registry() *Registry { return g.registry }

// Evaluate runs every layer against the files touched by batch. Any failed
// blocking layer yields DecisionHalt; failed advisory layers are logged.
func (g *Gate) Evaluate(ctx context.Context, batch int, files []string) *Outcome {
	start := time.Now()
	layers := g.registry.snapshot()
	logger := g.logger.ForBatch(batch)

	out := &Outcome{
		Batch:    batch,
		Layers:   make([]LayerOutcome, len(layers)),
		Decision: DecisionContinue,
		Files:    append([]string(nil), files...),
	}

	eg := new(errgroup.Group)
	eg.SetLimit(maxConcurrentLayers)
	for i, l := range layers {
		eg.Go(func() error {
			out.Layers[i] = runLayer(ctx, l, files)
			return nil
		})
	}
	_ = eg.Wait()

	for _, lo := range out.Layers {
		switch {
		case lo.Passed:
			logger.Debug("validation layer passed", "layer", lo.Name, "skipped", lo.Skipped, "duration", lo.Duration)
		case lo.Blocking:
			out.Decision = DecisionHalt
			logger.Error("blocking validation layer failed", "layer", lo.Name, "message", lo.Message)
		default:
			adv := errors.New(errors.ErrCodeValidationAdvisory,
				fmt.Sprintf("advisory layer %s failed: %s", lo.Name, lo.Message)).WithBatch(batch)
			logger.WithError(adv).Warn("advisory validation failure, continuing")
		}
	}

	out.Duration = time.Since(start)
	return out
}

func runLayer(ctx context.Context, l registered, files []string) (lo LayerOutcome) {
	lo = LayerOutcome{Name: l.cfg.Name, Blocking: l.cfg.Blocking}
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			lo.Passed = false
			lo.Message = fmt.Sprintf("layer panicked: %v", r)
		}
		lo.Duration = time.Since(start)
	}()

	selected := filter(files, l.cfg.Paths)
	lo.Files = len(selected)
	if len(l.cfg.Paths) > 0 && len(selected) == 0 {
		lo.Passed = true
		lo.Skipped = true
		lo.Message = "no touched file matches " + strings.Join(l.cfg.Paths, ", ")
		return lo
	}

	timeout := l.cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	layerCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	res := l.layer.Validate(layerCtx, selected)
	lo.Passed = res.Passed
	lo.Message = res.Message
	if !res.Passed && layerCtx.Err() == context.DeadlineExceeded {
		lo.Message = fmt.Sprintf("timed out after %s: %s", timeout, res.Message)
	}
	return lo
}

func filter(files, patterns []string) []string {
	if len(patterns) == 0 {
		return append([]string(nil), files...)
	}
	var out []string
	for _, f := range files {
		for _, p := range patterns {
			if ok, _ := doublestar.Match(p, f); ok {
				out = append(out, f)
				break
			}
		}
	}
	return out
}

// Err returns a ValidationBlockingFailure when the decision is halt
func (o *Outcome) Err() error {
	if o == nil || o.Decision != DecisionHalt {
		return nil
	}
	return errors.NewValidationBlockingFailure(o.Batch, o.FailedBlocking(), o.Files)
}

// FailedBlocking lists the names of failed blocking layers
func (o *Outcome) FailedBlocking() []string {
	var names []string
	for _, l := range o.Layers {
		if l.Blocking && !l.Passed {
			names = append(names, l.Name)
		}
	}
	return names
}

// Advisories lists failed advisory layers
func (o *Outcome) Advisories() []LayerOutcome {
	var out []LayerOutcome
	for _, l := range o.Layers {
		if !l.Blocking && !l.Passed {
			out = append(out, l)
		}
	}
	return out
}
