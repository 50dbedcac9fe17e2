package provider

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Kind classifies provider failures for retry decisions.
type Kind string

const (
	// KindTransient marks failures worth retrying: rate limits, server
	// errors, timeouts, network blips.
	KindTransient Kind = "transient"

	// KindAuth marks authentication and authorization failures.
	KindAuth Kind = "auth"

	// KindInvalidRequest marks structurally unacceptable requests.
	KindInvalidRequest Kind = "invalid_request"

	// KindPolicy marks content policy refusals.
	KindPolicy Kind = "policy"
)

// Error is the unified error returned by gateway adapters.
type Error struct {
	Provider   string
	Kind       Kind
	StatusCode int
	Message    string
	RetryAfter *time.Duration
}

func (e *Error) Error() string {
	msg := strings.TrimSpace(e.Message)
	if msg == "" {
		msg = "request failed"
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s %s error (status=%d): %s", e.Provider, e.Kind, e.StatusCode, msg)
	}
	return fmt.Sprintf("%s %s error: %s", e.Provider, e.Kind, msg)
}

// FromHTTPStatus maps an HTTP status code to the error taxonomy. Ambiguous
// 400/422 responses are refined by message hints.
func FromHTTPStatus(provider string, statusCode int, message string, retryAfter *time.Duration) *Error {
	e := &Error{
		Provider:   strings.TrimSpace(provider),
		StatusCode: statusCode,
		Message:    message,
		RetryAfter: retryAfter,
	}
	switch {
	case statusCode == 400 || statusCode == 422:
		e.Kind = classifyByMessage(message)
	case statusCode == 401 || statusCode == 403:
		e.Kind = KindAuth
	case statusCode == 408 || statusCode == 429:
		e.Kind = KindTransient
	case statusCode >= 500:
		e.Kind = KindTransient
	default:
		e.Kind = KindInvalidRequest
	}
	return e
}

// classifyByMessage refines classification when the status code is ambiguous
// and providers tunnel domain-specific failures in text.
func classifyByMessage(message string) Kind {
	lower := strings.ToLower(message)
	switch {
	case strings.Contains(lower, "content filter") ||
		strings.Contains(lower, "safety") ||
		strings.Contains(lower, "moderation"):
		return KindPolicy
	case strings.Contains(lower, "unauthorized") ||
		strings.Contains(lower, "invalid key") ||
		strings.Contains(lower, "invalid api key"):
		return KindAuth
	default:
		return KindInvalidRequest
	}
}

// ParseRetryAfter parses the Retry-After header value.
// Supported forms:
// - integer seconds
// - HTTP-date (RFC 7231)
func ParseRetryAfter(v string, now time.Time) *time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return nil
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		d := time.Duration(secs) * time.Second
		return &d
	}
	if t, err := http.ParseTime(v); err == nil {
		d := t.Sub(now)
		if d < 0 {
			d = 0
		}
		return &d
	}
	return nil
}

// IsTransient reports whether err is a provider failure worth retrying.
func IsTransient(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindTransient
}

// IsAuth reports whether err is an authentication or authorization failure.
func IsAuth(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind == KindAuth
}

// IsFatal reports whether err is a provider failure retrying cannot fix.
func IsFatal(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.Kind != KindTransient
}

// RetryAfterHint extracts the provider-suggested retry delay, if any.
func RetryAfterHint(err error) *time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return nil
}
