package delegate

import (
	"encoding/json"
	"fmt"

	"github.com/assaylab/assay/pkg/validate"
)

// Verdict is the structured judgment an agent-task judge must return.
type Verdict struct {
	Pass        bool     `json:"pass"`
	Reasoning   string   `json:"reasoning"`
	Suggestions []string `json:"suggestions,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
}

// ParseVerdict extracts the first JSON object from raw judge output,
// tolerating code fences and surrounding prose, and requires the pass and
// reasoning fields to be present and well-typed.
func ParseVerdict(raw string) (*Verdict, error) {
	payload := validate.ExtractJSON(raw)

	var fields map[string]interface{}
	if err := json.Unmarshal([]byte(payload), &fields); err != nil {
		return nil, fmt.Errorf("verdict is not valid JSON: %w", err)
	}

	passRaw, ok := fields["pass"]
	if !ok {
		return nil, fmt.Errorf("verdict is missing the pass field")
	}
	pass, ok := passRaw.(bool)
	if !ok {
		return nil, fmt.Errorf("verdict pass field must be a boolean")
	}

	reasoningRaw, ok := fields["reasoning"]
	if !ok {
		return nil, fmt.Errorf("verdict is missing the reasoning field")
	}
	reasoning, ok := reasoningRaw.(string)
	if !ok || reasoning == "" {
		return nil, fmt.Errorf("verdict reasoning must be a non-empty string")
	}

	verdict := &Verdict{Pass: pass, Reasoning: reasoning}

	if list, ok := fields["suggestions"].([]interface{}); ok {
		for _, item := range list {
			if s, ok := item.(string); ok && s != "" {
				verdict.Suggestions = append(verdict.Suggestions, s)
			}
		}
	}
	if confidence, ok := fields["confidence"].(float64); ok {
		verdict.Confidence = confidence
	}

	return verdict, nil
}
