// Package registry maps (category, type) pairs to component factories. The
// config loader resolves pipeline specs through it, and third-party code can
// register additional component types before loading a config that names
// them. Built-ins are registered by the config package, not here: the
// registry itself has no opinion about which components exist.
package registry

import (
	"fmt"
	"sort"
	"sync"

	"github.com/ragtune/ragtune/internal/errors"
)

// Category is a component slot in the pipeline.
type Category string

const (
	CategoryRetriever    Category = "retriever"
	CategoryReranker     Category = "reranker"
	CategoryReformulator Category = "reformulator"
	CategoryEstimator    Category = "estimator"
	CategoryScheduler    Category = "scheduler"
	CategoryAssembler    Category = "assembler"
	CategoryFeedback     Category = "feedback"
)

// Categories lists every pipeline slot, in pipeline order.
func Categories() []Category {
	return []Category{
		CategoryRetriever,
		CategoryReranker,
		CategoryReformulator,
		CategoryEstimator,
		CategoryScheduler,
		CategoryAssembler,
		CategoryFeedback,
	}
}

// Factory builds one component instance from its config params. The returned
// value must implement the interface of its category; Build enforces that at
// resolution time.
type Factory func(params map[string]any) (any, error)

// Registry is a concurrency-safe (category, type) → factory table.
type Registry struct {
	mu        sync.RWMutex
	factories map[Category]map[string]Factory
}

// New creates an empty registry.
func New() *Registry {
	return &Registry{
		factories: make(map[Category]map[string]Factory),
	}
}

// Register adds a factory under (category, typeName). Registering the same
// pair twice is an error: silently replacing a factory would make pipeline
// behavior depend on package init order.
func (r *Registry) Register(category Category, typeName string, factory Factory) error {
	if typeName == "" {
		return fmt.Errorf("register %s: empty type name", category)
	}
	if factory == nil {
		return fmt.Errorf("register %s/%s: nil factory", category, typeName)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	byType, ok := r.factories[category]
	if !ok {
		byType = make(map[string]Factory)
		r.factories[category] = byType
	}
	if _, exists := byType[typeName]; exists {
		return fmt.Errorf("register %s/%s: already registered", category, typeName)
	}
	byType[typeName] = factory
	return nil
}

// MustRegister is Register for package init paths where a duplicate is a
// programming error.
func (r *Registry) MustRegister(category Category, typeName string, factory Factory) {
	if err := r.Register(category, typeName, factory); err != nil {
		panic(err)
	}
}

// Resolve returns the factory for (category, typeName).
func (r *Registry) Resolve(category Category, typeName string) (Factory, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	factory, ok := r.factories[category][typeName]
	if !ok {
		return nil, errors.New(errors.ErrCodeComponentUnknown,
			fmt.Sprintf("unknown %s type %q", category, typeName), nil).
			WithDetail("category", string(category)).
			WithDetail("type", typeName).
			WithSuggestion(fmt.Sprintf("run 'ragtune list' to see registered %s types", category))
	}
	return factory, nil
}

// List returns the registered type names for a category, sorted.
func (r *Registry) List(category Category) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.factories[category]))
	for name := range r.factories[category] {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Build resolves the factory, runs it, and asserts the produced component to
// T. A factory producing the wrong type is a registration bug surfaced here
// with the concrete type in the message.
func Build[T any](r *Registry, category Category, typeName string, params map[string]any) (T, error) {
	var zero T

	factory, err := r.Resolve(category, typeName)
	if err != nil {
		return zero, err
	}

	component, err := factory(params)
	if err != nil {
		return zero, fmt.Errorf("build %s/%s: %w", category, typeName, err)
	}

	typed, ok := component.(T)
	if !ok {
		return zero, fmt.Errorf("build %s/%s: factory produced %T, which does not implement the %s interface",
			category, typeName, component, category)
	}
	return typed, nil
}

// defaultRegistry is the process-global table the config loader uses.
var defaultRegistry = New()

// Default returns the process-global registry.
func Default() *Registry {
	return defaultRegistry
}
