package validate

import (
	"errors"
	"fmt"
	"sync"
)

// Registry maps validator type tags to constructors. Built once per process
// and safe for concurrent use.
type Registry struct {
	mu           sync.RWMutex
	constructors map[string]Constructor
}

// NewRegistry creates a registry with the built-in validators registered.
func NewRegistry() *Registry {
	r := &Registry{constructors: make(map[string]Constructor)}
	r.MustRegister("json_schema", newJSONSchemaValidator)
	r.MustRegister("length", newLengthValidator)
	r.MustRegister("regex", newRegexValidator)
	return r
}

// Register adds a constructor for a validator type. Re-registering a type
// replaces the previous constructor.
func (r *Registry) Register(typ string, ctor Constructor) error {
	if typ == "" {
		return fmt.Errorf("validator type cannot be empty")
	}
	if ctor == nil {
		return fmt.Errorf("validator constructor cannot be nil")
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.constructors[typ] = ctor

	return nil
}

// MustRegister registers a constructor and panics on failure. Intended for
// process startup wiring.
func (r *Registry) MustRegister(typ string, ctor Constructor) {
	if err := r.Register(typ, ctor); err != nil {
		panic(err)
	}
}

// Build instantiates a validator from its spec. Unknown types and
// constructor failures come back as configuration errors.
func (r *Registry) Build(spec Spec) (Validator, error) {
	r.mu.RLock()
	ctor, ok := r.constructors[spec.Type]
	r.mu.RUnlock()

	if !ok {
		return nil, &ConfigError{Component: spec.Type, Reason: "unknown validator type"}
	}

	v, err := ctor(spec.Params)
	if err != nil {
		var ce *ConfigError
		if errors.As(err, &ce) {
			return nil, err
		}
		return nil, &ConfigError{Component: spec.Type, Reason: err.Error()}
	}

	return v, nil
}

// Types returns the registered validator type tags.
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	types := make([]string, 0, len(r.constructors))
	for typ := range r.constructors {
		types = append(types, typ)
	}

	return types
}
