package capability

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/xeipuuv/gojsonschema"

	"github.com/assaylab/assay/pkg/provider"
)

// DefaultTimeout bounds a single capability execution.
const DefaultTimeout = 30 * time.Second

// maxOutputSize caps capability output folded back into the conversation.
const maxOutputSize = 10 * 1024 // 10KB

// Parameter defines a parameter for a capability.
type Parameter struct {
	Name        string      `json:"name"`
	Type        string      `json:"type"`
	Description string      `json:"description"`
	Required    bool        `json:"required"`
	Default     interface{} `json:"default,omitempty"`
}

// Handler is the function signature for capability execution.
type Handler func(ctx context.Context, params map[string]interface{}) (string, error)

// Descriptor defines a capability's metadata and handler.
type Descriptor struct {
	Name        string      `json:"name"`
	Description string      `json:"description"`
	Parameters  []Parameter `json:"parameters"`
	Handler     Handler     `json:"-"`
}

// schemaMap builds the JSON Schema document for the descriptor's parameters.
func (d Descriptor) schemaMap() map[string]interface{} {
	schema := map[string]interface{}{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           make(map[string]interface{}),
	}

	properties := schema["properties"].(map[string]interface{})
	required := []string{}

	for _, param := range d.Parameters {
		paramSchema := map[string]interface{}{
			"type":        param.Type,
			"description": param.Description,
		}

		if param.Default != nil {
			paramSchema["default"] = param.Default
		}

		properties[param.Name] = paramSchema

		if param.Required {
			required = append(required, param.Name)
		}
	}

	if len(required) > 0 {
		schema["required"] = required
	}

	return schema
}

// Tool converts the descriptor into the wire format surfaced to providers.
func (d Descriptor) Tool() provider.Tool {
	return provider.Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: d.schemaMap(),
	}
}

// Executor is the capability surface handed to the retry engine.
type Executor interface {
	// Resolve maps capability names to provider tool definitions.
	// Unknown names are an error.
	Resolve(names []string) ([]provider.Tool, error)

	// Execute runs a capability by name.
	Execute(ctx context.Context, name string, params map[string]interface{}) (string, error)
}

// Registry manages and executes capabilities.
type Registry struct {
	caps    map[string]*Descriptor
	schemas map[string]*gojsonschema.Schema
	timeout time.Duration
	mu      sync.RWMutex
}

// New creates a new capability registry.
func New() *Registry {
	return &Registry{
		caps:    make(map[string]*Descriptor),
		schemas: make(map[string]*gojsonschema.Schema),
		timeout: DefaultTimeout,
	}
}

// SetTimeout overrides the per-execution timeout.
func (r *Registry) SetTimeout(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if d > 0 {
		r.timeout = d
	}
}

// Register registers a new capability.
func (r *Registry) Register(def Descriptor) error {
	if err := validateDescriptor(def); err != nil {
		return fmt.Errorf("invalid capability definition: %w", err)
	}

	schemaLoader := gojsonschema.NewGoLoader(def.schemaMap())
	schema, err := gojsonschema.NewSchema(schemaLoader)
	if err != nil {
		return fmt.Errorf("failed to compile schema: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.caps[def.Name] = &def
	r.schemas[def.Name] = schema

	log.Debug().Str("capability", def.Name).Msg("Capability registered")

	return nil
}

// Unregister removes a capability.
func (r *Registry) Unregister(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.caps, name)
	delete(r.schemas, name)
}

// Get returns a capability descriptor by name.
func (r *Registry) Get(name string) *Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.caps[name]
}

// List returns all registered capability names.
func (r *Registry) List() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.caps))
	for name := range r.caps {
		names = append(names, name)
	}

	return names
}

// Count returns the number of registered capabilities.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return len(r.caps)
}

// Resolve maps capability names to provider tool definitions.
func (r *Registry) Resolve(names []string) ([]provider.Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tools := make([]provider.Tool, 0, len(names))
	for _, name := range names {
		def, ok := r.caps[name]
		if !ok {
			return nil, fmt.Errorf("unknown capability: %s", name)
		}
		tools = append(tools, def.Tool())
	}

	return tools, nil
}

// Execute runs a capability with the given parameters. Handler output is
// truncated when it exceeds the size cap, errors come back as errors for the
// caller to fold into the conversation.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]interface{}) (string, error) {
	r.mu.RLock()
	def := r.caps[name]
	schema := r.schemas[name]
	timeout := r.timeout
	r.mu.RUnlock()

	if def == nil {
		return "", fmt.Errorf("unknown capability: %s", name)
	}

	if err := validateParameters(schema, params); err != nil {
		return "", fmt.Errorf("parameter validation failed: %w", err)
	}

	log.Debug().Str("capability", name).Msg("Executing capability")

	timeoutCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	resultChan := make(chan string, 1)
	errChan := make(chan error, 1)

	go func() {
		result, err := def.Handler(timeoutCtx, params)
		if err != nil {
			errChan <- err
		} else {
			resultChan <- result
		}
	}()

	select {
	case result := <-resultChan:
		return truncateOutput(result), nil
	case err := <-errChan:
		return "", err
	case <-timeoutCtx.Done():
		return "", fmt.Errorf("capability execution timeout after %v", timeout)
	}
}

// validateDescriptor validates a capability definition.
func validateDescriptor(def Descriptor) error {
	if def.Name == "" {
		return fmt.Errorf("capability name cannot be empty")
	}
	if def.Description == "" {
		return fmt.Errorf("capability description cannot be empty")
	}
	if def.Handler == nil {
		return fmt.Errorf("capability handler cannot be nil")
	}

	validTypes := map[string]bool{
		"string": true, "number": true, "boolean": true,
		"object": true, "array": true, "integer": true,
	}

	for _, param := range def.Parameters {
		if param.Name == "" {
			return fmt.Errorf("parameter name cannot be empty")
		}
		if param.Type == "" {
			return fmt.Errorf("parameter type cannot be empty for %s", param.Name)
		}
		if param.Description == "" {
			return fmt.Errorf("parameter description cannot be empty for %s", param.Name)
		}
		if !validTypes[param.Type] {
			return fmt.Errorf("invalid parameter type %s for %s", param.Type, param.Name)
		}
	}

	return nil
}

// validateParameters validates parameters against a compiled JSON Schema.
func validateParameters(schema *gojsonschema.Schema, params map[string]interface{}) error {
	if schema == nil {
		return nil
	}

	paramsLoader := gojsonschema.NewGoLoader(params)
	result, err := schema.Validate(paramsLoader)
	if err != nil {
		return err
	}

	if !result.Valid() {
		errors := []string{}
		for _, err := range result.Errors() {
			errors = append(errors, err.String())
		}
		return fmt.Errorf("validation errors: %v", errors)
	}

	return nil
}

// truncateOutput trims oversized capability output.
func truncateOutput(output string) string {
	if len(output) <= maxOutputSize {
		return output
	}

	log.Warn().
		Int("original", len(output)).
		Int("truncated", maxOutputSize).
		Msg("Capability output truncated")

	return output[:maxOutputSize] + "\n... [output truncated]"
}
