package gate

import (
	"fmt"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/felixgeelhaar/batchguard/internal/errors"
)

// Factory builds a layer from configuration
type Factory func(cfg LayerConfig) (Layer, error)

type registered struct {
	layer Layer
	cfg   LayerConfig
}

// Registry holds layer factories and the configured layers in order
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
	layers    []registered
}

// NewRegistry creates a registry with the built-in factories
func NewRegistry() *Registry {
	r := &Registry{factories: make(map[string]Factory)}
	r.RegisterFactory("script", NewScriptLayer)
	return r
}

// RegisterFactory registers a layer factory under a type name
func (r *Registry) RegisterFactory(layerType string, factory Factory) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.factories[layerType] = factory
}

// Register adds a programmatic layer; cfg supplies blocking, paths and timeout
func (r *Registry) Register(layer Layer, cfg LayerConfig) error {
	if layer == nil {
		return configError("layer cannot be nil")
	}
	if cfg.Name == "" {
		cfg.Name = layer.Name()
	}
	for _, p := range cfg.Paths {
		if !doublestar.ValidatePattern(p) {
			return configError(fmt.Sprintf("layer %s: invalid path pattern %q", cfg.Name, p))
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	for _, existing := range r.layers {
		if existing.cfg.Name == cfg.Name {
			return configError(fmt.Sprintf("layer %s registered twice", cfg.Name))
		}
	}
	r.layers = append(r.layers, registered{layer: layer, cfg: cfg})
	return nil
}

// RegisterFromConfig builds a layer through its factory and registers it
func (r *Registry) RegisterFromConfig(cfg LayerConfig) error {
	if cfg.Name == "" {
		return configError("layer name is required")
	}

	r.mu.RLock()
	factory, ok := r.factories[cfg.Type]
	r.mu.RUnlock()
	if !ok {
		return configError(fmt.Sprintf("layer %s: unknown type %q", cfg.Name, cfg.Type))
	}

	layer, err := factory(cfg)
	if err != nil {
		return errors.Wrap(errors.ErrCodeValidationConfig, fmt.Sprintf("create layer %s", cfg.Name), err)
	}
	return r.Register(layer, cfg)
}

// Configs returns the configuration of every registered layer in order
func (r *Registry) Configs() []LayerConfig {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]LayerConfig, len(r.layers))
	for i, l := range r.layers {
		out[i] = l.cfg
	}
	return out
}

func (r *Registry) snapshot() []registered {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]registered(nil), r.layers...)
}

func configError(msg string) *errors.Error {
	return errors.New(errors.ErrCodeValidationConfig, msg).
		WithSuggestion("Check the validation.layers section of the configuration")
}
