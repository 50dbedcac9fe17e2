package cache

import (
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/blake3"

	"github.com/assaylab/assay/pkg/provider"
)

// fingerprintPayload is the canonical request image that keys the cache.
// Timeout is deliberately excluded: two requests differing only in their
// deadline are the same conversation. Map-typed fields (tool schemas, tool
// call parameters) marshal with sorted keys, keeping the encoding stable.
type fingerprintPayload struct {
	Backend      string             `json:"backend"`
	Model        string             `json:"model"`
	SystemPrompt string             `json:"system_prompt,omitempty"`
	Temperature  float64            `json:"temperature"`
	MaxTokens    int                `json:"max_tokens"`
	Messages     []provider.Message `json:"messages"`
	Tools        []provider.Tool    `json:"tools,omitempty"`
}

// Fingerprint derives a stable cache key from the backend name and the
// request content.
func Fingerprint(backend string, req provider.Request) (string, error) {
	payload := fingerprintPayload{
		Backend:      backend,
		Model:        req.Model,
		SystemPrompt: req.SystemPrompt,
		Temperature:  req.Temperature,
		MaxTokens:    req.MaxTokens,
		Messages:     req.Messages,
		Tools:        req.Tools,
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("fingerprint request: %w", err)
	}

	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
