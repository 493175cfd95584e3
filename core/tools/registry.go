package tools

import (
	"fmt"
	"sort"
	"sync"
)

// DuplicateToolError indicates a second registration under an existing name.
// This is a programmer error, fatal at startup.
type DuplicateToolError struct {
	Name string
}

func (e *DuplicateToolError) Error() string {
	return fmt.Sprintf("tool already registered: %s", e.Name)
}

// UnknownToolError indicates a lookup for a name the registry has never seen.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool: %s", e.Name)
}

// ErrRegistrySealed indicates registration after the registry was sealed.
var ErrRegistrySealed = fmt.Errorf("tool registry is sealed")

// Registry is the process-wide tool catalog: populated once at startup,
// sealed, then read-only for the life of the process.
type Registry struct {
	mu     sync.RWMutex
	sealed bool
	tools  map[string]Descriptor
}

// NewRegistry creates an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{tools: make(map[string]Descriptor)}
}

// Register adds a descriptor. Fails with DuplicateToolError on a name
// collision and ErrRegistrySealed after Seal.
func (r *Registry) Register(desc Descriptor) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return ErrRegistrySealed
	}
	if desc.Name == "" {
		return fmt.Errorf("tool descriptor requires a name")
	}
	if _, exists := r.tools[desc.Name]; exists {
		return &DuplicateToolError{Name: desc.Name}
	}

	r.tools[desc.Name] = desc
	return nil
}

// Seal freezes the registry. All registration happens before this point.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Resolve returns the descriptor for name, or UnknownToolError.
func (r *Registry) Resolve(name string) (Descriptor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	desc, ok := r.tools[name]
	if !ok {
		return Descriptor{}, &UnknownToolError{Name: name}
	}
	return desc, nil
}

// Validate resolves the tool and checks arguments against its schema,
// returning the coerced arguments. Validation is exhaustive: every violation
// is collected so the model can correct all of them in one round trip.
func (r *Registry) Validate(name string, args map[string]any) (map[string]any, error) {
	desc, err := r.Resolve(name)
	if err != nil {
		return nil, err
	}
	return validateArguments(desc, args)
}

// List returns all descriptors sorted by name.
func (r *Registry) List() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	result := make([]Descriptor, 0, len(r.tools))
	for _, desc := range r.tools {
		result = append(result, desc)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Name < result[j].Name })
	return result
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.tools)
}
