package delegate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseVerdict(t *testing.T) {
	t.Run("should parse a bare JSON verdict", func(t *testing.T) {
		verdict, err := ParseVerdict(`{"pass": true, "reasoning": "meets all criteria"}`)
		require.NoError(t, err)
		assert.True(t, verdict.Pass)
		assert.Equal(t, "meets all criteria", verdict.Reasoning)
		assert.Empty(t, verdict.Suggestions)
		assert.Zero(t, verdict.Confidence)
	})

	t.Run("should parse a verdict inside a code fence", func(t *testing.T) {
		raw := "```json\n{\"pass\": false, \"reasoning\": \"missing citation\"}\n```"
		verdict, err := ParseVerdict(raw)
		require.NoError(t, err)
		assert.False(t, verdict.Pass)
		assert.Equal(t, "missing citation", verdict.Reasoning)
	})

	t.Run("should parse a verdict wrapped in prose", func(t *testing.T) {
		raw := `Here is my judgment: {"pass": true, "reasoning": "concise and correct"} Hope that helps.`
		verdict, err := ParseVerdict(raw)
		require.NoError(t, err)
		assert.True(t, verdict.Pass)
	})

	t.Run("should surface suggestions and confidence", func(t *testing.T) {
		raw := `{"pass": false, "reasoning": "too vague", "suggestions": ["name the exact error", "quote the log line"], "confidence": 0.85}`
		verdict, err := ParseVerdict(raw)
		require.NoError(t, err)
		assert.Equal(t, []string{"name the exact error", "quote the log line"}, verdict.Suggestions)
		assert.InDelta(t, 0.85, verdict.Confidence, 1e-9)
	})

	t.Run("should skip suggestion items that are not strings", func(t *testing.T) {
		raw := `{"pass": false, "reasoning": "incomplete", "suggestions": ["add a summary", 7, "", null]}`
		verdict, err := ParseVerdict(raw)
		require.NoError(t, err)
		assert.Equal(t, []string{"add a summary"}, verdict.Suggestions)
	})

	t.Run("should reject output with no JSON object", func(t *testing.T) {
		_, err := ParseVerdict("I think the response looks fine to me.")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not valid JSON")
	})

	t.Run("should reject a verdict missing the pass field", func(t *testing.T) {
		_, err := ParseVerdict(`{"reasoning": "looks good"}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing the pass field")
	})

	t.Run("should reject a non-boolean pass field", func(t *testing.T) {
		_, err := ParseVerdict(`{"pass": "yes", "reasoning": "looks good"}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "must be a boolean")
	})

	t.Run("should reject a verdict missing the reasoning field", func(t *testing.T) {
		_, err := ParseVerdict(`{"pass": true}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "missing the reasoning field")
	})

	t.Run("should reject empty reasoning", func(t *testing.T) {
		_, err := ParseVerdict(`{"pass": true, "reasoning": ""}`)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "non-empty string")
	})
}
