package broker

import (
	"fmt"
	"slices"
	"sync"

	"github.com/camelya58/kafkabridge/core"
)

// Factory creates a Broker from the given Config.
type Factory func(cfg Config) (core.Broker, error)

// Registry maps transport names to broker factories.
type Registry struct {
	mu        sync.RWMutex
	factories map[string]Factory
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]Factory)}
}

// Register adds a named broker factory. Names are unique.
func (r *Registry) Register(name string, factory Factory) error {
	if name == "" || factory == nil {
		return fmt.Errorf("kafkabridge: invalid broker factory %q", name)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.factories[name]; ok {
		return fmt.Errorf("kafkabridge: broker %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// Create instantiates a broker by name using the registered factory.
func (r *Registry) Create(name string, cfg Config) (core.Broker, error) {
	r.mu.RLock()
	f, ok := r.factories[name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("kafkabridge: unknown broker %q (registered: %v)", name, r.Names())
	}
	b, err := f(cfg)
	if err != nil {
		return nil, fmt.Errorf("kafkabridge: create %s broker: %w", name, err)
	}
	return b, nil
}

// Names returns the registered transport names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.factories))
	for name := range r.factories {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
