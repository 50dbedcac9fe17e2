package provider

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromHTTPStatus(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		message string
		want    Kind
	}{
		{"rate limit", 429, "rate limit exceeded", KindTransient},
		{"request timeout", 408, "request timeout", KindTransient},
		{"server error", 500, "internal server error", KindTransient},
		{"bad gateway", 502, "bad gateway", KindTransient},
		{"overloaded", 529, "overloaded", KindTransient},
		{"unauthorized", 401, "invalid x-api-key", KindAuth},
		{"forbidden", 403, "forbidden", KindAuth},
		{"plain bad request", 400, "max_tokens required", KindInvalidRequest},
		{"unknown model", 404, "model does not exist", KindInvalidRequest},
		{"content filter", 400, "blocked by content filter", KindPolicy},
		{"safety refusal", 422, "flagged by safety system", KindPolicy},
		{"moderation", 400, "failed moderation check", KindPolicy},
		{"tunneled auth failure", 400, "unauthorized: invalid key", KindAuth},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := FromHTTPStatus("test", tt.status, tt.message, nil)
			assert.Equal(t, tt.want, err.Kind)
			assert.Equal(t, tt.status, err.StatusCode)
		})
	}

	t.Run("should carry retry-after hint", func(t *testing.T) {
		d := 30 * time.Second
		err := FromHTTPStatus("test", 429, "slow down", &d)
		require.NotNil(t, err.RetryAfter)
		assert.Equal(t, 30*time.Second, *err.RetryAfter)
	})
}

func TestParseRetryAfter(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	t.Run("should parse integer seconds", func(t *testing.T) {
		d := ParseRetryAfter("15", now)
		require.NotNil(t, d)
		assert.Equal(t, 15*time.Second, *d)
	})

	t.Run("should parse http date", func(t *testing.T) {
		d := ParseRetryAfter(now.Add(2*time.Minute).Format(time.RFC1123), now)
		require.NotNil(t, d)
		assert.Equal(t, 2*time.Minute, *d)
	})

	t.Run("should clamp past dates to zero", func(t *testing.T) {
		d := ParseRetryAfter(now.Add(-time.Minute).Format(time.RFC1123), now)
		require.NotNil(t, d)
		assert.Equal(t, time.Duration(0), *d)
	})

	t.Run("should return nil for empty value", func(t *testing.T) {
		assert.Nil(t, ParseRetryAfter("", now))
	})

	t.Run("should return nil for garbage", func(t *testing.T) {
		assert.Nil(t, ParseRetryAfter("soon", now))
	})
}

func TestErrorPredicates(t *testing.T) {
	transient := &Error{Provider: "test", Kind: KindTransient, StatusCode: 429, Message: "rate limited"}
	auth := &Error{Provider: "test", Kind: KindAuth, StatusCode: 401, Message: "bad key"}
	policy := &Error{Provider: "test", Kind: KindPolicy, StatusCode: 400, Message: "refused"}

	t.Run("should detect transient errors", func(t *testing.T) {
		assert.True(t, IsTransient(transient))
		assert.False(t, IsTransient(auth))
		assert.False(t, IsTransient(nil))
		assert.False(t, IsTransient(fmt.Errorf("plain error")))
	})

	t.Run("should detect auth errors", func(t *testing.T) {
		assert.True(t, IsAuth(auth))
		assert.False(t, IsAuth(transient))
	})

	t.Run("should detect fatal errors", func(t *testing.T) {
		assert.True(t, IsFatal(auth))
		assert.True(t, IsFatal(policy))
		assert.False(t, IsFatal(transient))
		assert.False(t, IsFatal(fmt.Errorf("plain error")))
	})

	t.Run("should unwrap wrapped errors", func(t *testing.T) {
		wrapped := fmt.Errorf("invoke failed: %w", transient)
		assert.True(t, IsTransient(wrapped))

		d := 5 * time.Second
		withHint := fmt.Errorf("invoke failed: %w", &Error{Kind: KindTransient, RetryAfter: &d})
		require.NotNil(t, RetryAfterHint(withHint))
		assert.Equal(t, 5*time.Second, *RetryAfterHint(withHint))
	})
}

func TestErrorMessage(t *testing.T) {
	t.Run("should include status when present", func(t *testing.T) {
		err := &Error{Provider: "anthropic", Kind: KindTransient, StatusCode: 429, Message: "rate limited"}
		assert.Equal(t, "anthropic transient error (status=429): rate limited", err.Error())
	})

	t.Run("should omit status when absent", func(t *testing.T) {
		err := &Error{Provider: "cli", Kind: KindInvalidRequest, Message: "command cannot be empty"}
		assert.Equal(t, "cli invalid_request error: command cannot be empty", err.Error())
	})

	t.Run("should fall back to generic message", func(t *testing.T) {
		err := &Error{Provider: "openai", Kind: KindTransient}
		assert.Contains(t, err.Error(), "request failed")
	})
}
