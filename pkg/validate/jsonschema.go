package validate

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

// jsonSchemaValidator checks that the response parses as JSON and conforms
// to a JSON Schema document.
type jsonSchemaValidator struct {
	schema *gojsonschema.Schema
}

// newJSONSchemaValidator accepts either a full schema document under
// "schema" or a bare list of required top-level fields under "required".
func newJSONSchemaValidator(params map[string]interface{}) (Validator, error) {
	doc, ok := params["schema"]
	if !ok {
		required, ok := params["required"]
		if !ok {
			return nil, fmt.Errorf("json_schema requires a \"schema\" document or a \"required\" field list")
		}
		doc = map[string]interface{}{
			"type":     "object",
			"required": required,
		}
	}

	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return nil, fmt.Errorf("failed to compile schema: %w", err)
	}

	return &jsonSchemaValidator{schema: schema}, nil
}

func (v *jsonSchemaValidator) Validate(ctx context.Context, in Input) (Result, error) {
	payload := ExtractJSON(in.Content)

	var parsed interface{}
	if err := json.Unmarshal([]byte(payload), &parsed); err != nil {
		return Result{
			Pass:       false,
			Structural: true,
			Reasoning:  fmt.Sprintf("response is not valid JSON: %v", err),
			Suggestions: []string{
				"respond with a single valid JSON object and no surrounding prose",
			},
		}, nil
	}

	res, err := v.schema.Validate(gojsonschema.NewGoLoader(parsed))
	if err != nil {
		return Result{}, err
	}

	if !res.Valid() {
		suggestions := []string{}
		for _, e := range res.Errors() {
			suggestions = append(suggestions, e.String())
		}
		return Result{
			Pass:        false,
			Reasoning:   fmt.Sprintf("response violates the expected schema (%d problem(s))", len(suggestions)),
			Suggestions: suggestions,
		}, nil
	}

	return Result{Pass: true, Reasoning: "response conforms to the expected schema"}, nil
}

// ExtractJSON strips Markdown code fences and surrounding prose, returning
// the first balanced JSON object or array found in s. When nothing
// JSON-shaped is found the trimmed input comes back unchanged so callers
// surface the original parse error.
func ExtractJSON(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	s = strings.TrimSpace(s)

	if len(s) > 0 && (s[0] == '{' || s[0] == '[') {
		return s
	}

	start := strings.IndexAny(s, "{[")
	if start == -1 {
		return s
	}

	open := s[start]
	closer := byte('}')
	if open == '[' {
		closer = ']'
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case open:
			depth++
		case closer:
			depth--
			if depth == 0 {
				return s[start : i+1]
			}
		}
	}

	return s[start:]
}
