package provider

import (
	"context"
	"fmt"
	"time"
)

// Message represents one turn in a conversation transcript.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Parameters map[string]interface{} `json:"parameters"`
}

// Tool describes a capability surfaced to the model.
type Tool struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	InputSchema map[string]interface{} `json:"input_schema"`
}

// Usage tracks token consumption for a single invocation.
type Usage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

// Request contains the parameters for a single model invocation.
type Request struct {
	Model        string        `json:"model"`
	Messages     []Message     `json:"messages"`
	Tools        []Tool        `json:"tools,omitempty"`
	Temperature  float64       `json:"temperature,omitempty"`
	MaxTokens    int           `json:"max_tokens,omitempty"`
	SystemPrompt string        `json:"system_prompt,omitempty"`
	Timeout      time.Duration `json:"timeout,omitempty"`
}

// DefaultTimeout bounds a single invocation when the request does not set one.
const DefaultTimeout = 60 * time.Second

// Validate checks the request for structural problems before dispatch.
func (r *Request) Validate() error {
	if r.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if len(r.Messages) == 0 {
		return fmt.Errorf("messages cannot be empty")
	}
	if r.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	return nil
}

// Response contains the model output from a single invocation.
type Response struct {
	Content      string     `json:"content"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *Usage     `json:"usage,omitempty"`

	// Cached is true when the response was served from the response cache
	// rather than a live invocation.
	Cached bool `json:"cached,omitempty"`
}

// Gateway is the uniform entry point for model invocations. Implementations
// perform exactly one call per Invoke; retry policy lives with the caller.
type Gateway interface {
	// Invoke makes a single model call.
	Invoke(ctx context.Context, req Request) (*Response, error)

	// Name returns the backend name.
	Name() string
}

// Profile selects and configures a backend.
type Profile struct {
	Backend string   `json:"backend"` // "anthropic", "openai", "local", "cli"
	APIKey  string   `json:"api_key,omitempty"`
	BaseURL string   `json:"base_url,omitempty"`
	Command string   `json:"command,omitempty"`
	Args    []string `json:"args,omitempty"`
}

// Factory creates gateways from profiles.
type Factory struct{}

// NewGateway creates a gateway for the backend named in the profile.
func (f *Factory) NewGateway(profile Profile) (Gateway, error) {
	switch profile.Backend {
	case "anthropic":
		return NewAnthropicGateway(profile.APIKey), nil
	case "openai":
		return NewOpenAIGateway(profile.APIKey), nil
	case "local":
		return NewLocalGateway(profile.BaseURL, profile.APIKey), nil
	case "cli":
		return NewCLIGateway(profile.Command, profile.Args...), nil
	default:
		return nil, &Error{
			Provider: profile.Backend,
			Kind:     KindInvalidRequest,
			Message:  fmt.Sprintf("unsupported backend: %s", profile.Backend),
		}
	}
}

// callContext applies the per-invocation timeout.
func callContext(ctx context.Context, req Request) (context.Context, context.CancelFunc) {
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return context.WithTimeout(ctx, timeout)
}
