package core

import (
	"errors"
	"fmt"
)

var (
	// ErrEmptyRegistry is returned when assigning from a registry with no entries
	ErrEmptyRegistry = errors.New("no actor implementations registered")

	// ErrKindMismatch is returned when a constructor builds an actor reporting another kind
	ErrKindMismatch = errors.New("constructed actor reports a different kind")
)

type registryEntry struct {
	kind string
	ctor Constructor
	opts Options
}

// Registry maps implementation identifiers to constructors. Entries keep
// their registration order, which drives round-robin assignment.
type Registry struct {
	entries []registryEntry
	index   map[string]int
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{index: make(map[string]int)}
}

// Register adds an implementation. opts, if any, are applied through the
// actor's Configure hook as part of every construction.
func (r *Registry) Register(kind string, ctor Constructor, opts Options) error {
	if kind == "" {
		return fmt.Errorf("implementation kind cannot be empty")
	}
	if ctor == nil {
		return fmt.Errorf("constructor for %s cannot be nil", kind)
	}
	if _, exists := r.index[kind]; exists {
		return fmt.Errorf("implementation %s is already registered", kind)
	}

	r.index[kind] = len(r.entries)
	r.entries = append(r.entries, registryEntry{kind: kind, ctor: ctor, opts: opts})
	return nil
}

// Len returns the number of registered implementations.
func (r *Registry) Len() int {
	return len(r.entries)
}

// Kinds returns the registered identifiers in registration order.
func (r *Registry) Kinds() []string {
	kinds := make([]string, len(r.entries))
	for i, e := range r.entries {
		kinds[i] = e.kind
	}
	return kinds
}

// Has reports whether kind is registered.
func (r *Registry) Has(kind string) bool {
	_, ok := r.index[kind]
	return ok
}

// Assign returns the implementation for the i-th declared relay: entry i mod k.
func (r *Registry) Assign(i int) (string, error) {
	if len(r.entries) == 0 {
		return "", ErrEmptyRegistry
	}
	if i < 0 {
		return "", fmt.Errorf("negative relay index %d", i)
	}
	return r.entries[i%len(r.entries)].kind, nil
}

// Build constructs the actor for the i-th declared relay.
func (r *Registry) Build(i int, spec Spec) (Actor, error) {
	kind, err := r.Assign(i)
	if err != nil {
		return nil, err
	}
	return r.BuildKind(kind, spec)
}

// BuildKind constructs an actor of a specific implementation.
func (r *Registry) BuildKind(kind string, spec Spec) (Actor, error) {
	idx, ok := r.index[kind]
	if !ok {
		return nil, fmt.Errorf("implementation %s is not registered", kind)
	}
	entry := r.entries[idx]

	actor, err := entry.ctor(spec)
	if err != nil {
		return nil, fmt.Errorf("failed to construct %s for node %d: %w", kind, spec.ID, err)
	}
	if actor.Kind() != kind {
		return nil, fmt.Errorf("%w: registered %s, got %s", ErrKindMismatch, kind, actor.Kind())
	}
	if len(entry.opts) > 0 {
		if err := actor.Configure(entry.opts); err != nil {
			return nil, fmt.Errorf("failed to configure %s for node %d: %w", kind, spec.ID, err)
		}
	}
	return actor, nil
}
