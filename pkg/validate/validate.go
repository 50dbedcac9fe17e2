package validate

import (
	"context"
	"errors"
	"fmt"

	"github.com/assaylab/assay/pkg/provider"
)

// Spec identifies which validation strategy to instantiate and how to
// configure it.
type Spec struct {
	Type   string                 `json:"type"`
	Params map[string]interface{} `json:"params,omitempty"`
}

// Result is the outcome of one validator.
type Result struct {
	Pass        bool     `json:"pass"`
	Reasoning   string   `json:"reasoning"`
	Suggestions []string `json:"suggestions,omitempty"`

	// Structural marks failures that make further validation meaningless,
	// e.g. output that does not parse at all. A structural failure
	// short-circuits the remaining pipeline stages.
	Structural bool `json:"structural,omitempty"`
}

// Input carries the response under validation plus run context.
type Input struct {
	// Content is the text being validated.
	Content string

	// Response is the full provider response, when available.
	Response *provider.Response

	// Task is the original task description given to the primary model.
	Task string

	// Depth is the remaining delegation budget for validators that issue
	// nested runs. Zero forbids delegation.
	Depth int
}

// Validator checks one response against one criterion.
type Validator interface {
	Validate(ctx context.Context, in Input) (Result, error)
}

// Constructor builds a validator from spec params.
type Constructor func(params map[string]interface{}) (Validator, error)

// ConfigError marks a configuration problem detected up front: an unknown
// validator type, malformed params, an unresolvable capability, or an
// exhausted delegation depth. Config errors fail the run and are never
// retried.
type ConfigError struct {
	Component string
	Reason    string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Component, e.Reason)
}

// IsConfigError reports whether err is a configuration error.
func IsConfigError(err error) bool {
	var e *ConfigError
	return errors.As(err, &e)
}

// MalfunctionError reports a broken judge: a delegated validator did not
// produce a conforming verdict even after re-asking. Distinct from a
// validation failure, where the primary response itself is at fault.
type MalfunctionError struct {
	Validator string
	Reason    string
	Output    string
}

func (e *MalfunctionError) Error() string {
	return fmt.Sprintf("validator %s malfunctioned: %s", e.Validator, e.Reason)
}

// IsMalfunction reports whether err is a validator malfunction.
func IsMalfunction(err error) bool {
	var e *MalfunctionError
	return errors.As(err, &e)
}
