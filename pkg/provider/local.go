package provider

import (
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// NewLocalGateway creates a gateway for an OpenAI-compatible local server
// such as llama.cpp, vLLM or Ollama. The wire protocol is identical to
// OpenAI's, so the gateway reuses the same adapter under a different name.
func NewLocalGateway(baseURL, apiKey string) *OpenAIGateway {
	opts := []option.RequestOption{option.WithBaseURL(baseURL)}
	if apiKey != "" {
		opts = append(opts, option.WithAPIKey(apiKey))
	}
	return &OpenAIGateway{
		client: openai.NewClient(opts...),
		name:   "local",
	}
}
