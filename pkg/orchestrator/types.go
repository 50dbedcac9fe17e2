package orchestrator

import (
	"fmt"
	"time"

	"github.com/assaylab/assay/pkg/provider"
	"github.com/assaylab/assay/pkg/validate"
)

// Mode is the escalation tier a validation cycle runs under.
type Mode string

const (
	ModeInitial         Mode = "INITIAL"
	ModeSelfCorrect     Mode = "SELF_CORRECT"
	ModeToolAssisted    Mode = "TOOL_ASSISTED"
	ModeHumanEscalation Mode = "HUMAN_ESCALATION"
)

// Status is the terminal state of a run. StatusFailed never reaches callers
// through a Result (failed runs return an error); it exists so audit records
// of failed runs carry an explicit status.
type Status string

const (
	StatusSuccess          Status = "SUCCESS"
	StatusNeedsHumanReview Status = "NEEDS_HUMAN_REVIEW"
	StatusFailed           Status = "FAILED"
)

// DefaultBudget bounds a whole run when RequestConfig.Budget is zero.
const DefaultBudget = 10 * time.Minute

// RetryPolicy shapes the escalation ladder for one run.
type RetryPolicy struct {
	// AttemptsBeforeTool is the number of validation cycles that run
	// without tool assistance. Cycles beyond it run TOOL_ASSISTED.
	AttemptsBeforeTool int

	// AttemptsBeforeHuman is the number of validation cycles allowed
	// before the run is handed to a human. Human escalation takes
	// precedence: when both thresholds are equal the tool tier is
	// never entered.
	AttemptsBeforeHuman int

	// MaxAttempts is a hard cap on validation cycles. Zero falls back
	// to AttemptsBeforeHuman.
	MaxAttempts int

	// TransientRetryLimit is how many extra gateway calls a single
	// cycle may spend on transient provider errors before the run
	// fails. Zero disables transient retries.
	TransientRetryLimit int

	// DebugCapability names the capability attached to tool-assisted
	// cycles. Empty means tool-assisted cycles carry no extra tool.
	DebugCapability string

	// Backoff shapes the delay between transient retries.
	Backoff Backoff
}

// DefaultRetryPolicy allows two plain cycles, two tool-assisted cycles, and
// up to two transient re-calls per cycle.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		AttemptsBeforeTool:  2,
		AttemptsBeforeHuman: 4,
		MaxAttempts:         4,
		TransientRetryLimit: 2,
		Backoff:             DefaultBackoff(),
	}
}

// withDefaults fills the derivable fields. A zero policy becomes
// DefaultRetryPolicy so an unset RequestConfig.Policy stays usable.
func (p RetryPolicy) withDefaults() RetryPolicy {
	if p == (RetryPolicy{}) {
		return DefaultRetryPolicy()
	}
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = p.AttemptsBeforeHuman
	}
	if p.Backoff == (Backoff{}) {
		p.Backoff = DefaultBackoff()
	}
	return p
}

// Validate rejects negative policy fields.
func (p RetryPolicy) Validate() error {
	if p.AttemptsBeforeTool < 0 {
		return fmt.Errorf("attempts before tool cannot be negative")
	}
	if p.AttemptsBeforeHuman < 0 {
		return fmt.Errorf("attempts before human cannot be negative")
	}
	if p.MaxAttempts < 0 {
		return fmt.Errorf("max attempts cannot be negative")
	}
	if p.TransientRetryLimit < 0 {
		return fmt.Errorf("transient retry limit cannot be negative")
	}
	return nil
}

// RequestConfig describes one logical task. It is never mutated by the
// engine; each run works on derived copies of the message history.
type RequestConfig struct {
	// RunID identifies the run. Empty mints a fresh nanoid.
	RunID string

	// Model is the target model identifier.
	Model string

	// Messages seed the conversation history.
	Messages []provider.Message

	// SystemPrompt is passed through to the gateway on every call.
	SystemPrompt string

	Temperature float64
	MaxTokens   int

	// Task describes what the response is supposed to accomplish. Judge
	// validators embed it in their instructions.
	Task string

	// Validators are applied in order to every candidate response.
	Validators []validate.Spec

	// Policy shapes the escalation ladder. The zero value means
	// DefaultRetryPolicy.
	Policy RetryPolicy

	// DelegateDepth is the remaining delegation budget handed to
	// agent-task validators. Zero forbids delegation.
	DelegateDepth int

	// Capabilities are attached to every provider call of this run.
	Capabilities []string

	// Timeout bounds each provider call. Zero means the gateway default.
	Timeout time.Duration

	// Budget bounds the whole run wall-clock. Zero means DefaultBudget.
	Budget time.Duration
}

// Validate checks the config before any provider call.
func (c *RequestConfig) Validate() error {
	if c.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}
	if len(c.Messages) == 0 {
		return fmt.Errorf("messages cannot be empty")
	}
	if c.Temperature < 0 || c.Temperature > 1 {
		return fmt.Errorf("temperature must be between 0 and 1")
	}
	if c.MaxTokens < 0 {
		return fmt.Errorf("max tokens cannot be negative")
	}
	if c.DelegateDepth < 0 {
		return fmt.Errorf("delegate depth cannot be negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if c.Budget < 0 {
		return fmt.Errorf("budget cannot be negative")
	}
	if err := c.Policy.Validate(); err != nil {
		return err
	}
	return nil
}

// AttemptRecord is one row in a run's append-only attempt log. Every real
// gateway invocation appends a row; a cache-served cycle appends one too,
// flagged Cached, without advancing the provider-call ordinal.
type AttemptRecord struct {
	// Attempt is the provider-call ordinal at the time of this row.
	Attempt int

	// Cycle is the validation cycle the row belongs to.
	Cycle int

	Mode   Mode
	Cached bool

	// Response holds the assistant text the call produced, if any.
	Response string

	// ToolCalls counts capability invocations resolved after this call.
	ToolCalls int

	// Validation is set on the row carrying the cycle's validated
	// response; transient-error and tool-round rows leave it nil.
	Validation *validate.Aggregate

	// Err holds the provider or validator error text for failed calls.
	Err string

	Duration time.Duration
}

// Result is the outcome of a run.
type Result struct {
	ID     string
	Status Status

	// Response is the accepted provider response. Set on SUCCESS only.
	Response *provider.Response

	// Content is the accepted response text. Set on SUCCESS only.
	Content string

	// Reasoning explains why the run needs human review: the aggregated
	// validation reasoning, or the validator malfunction text.
	Reasoning string

	// Attempts is the full attempt log in append order.
	Attempts []AttemptRecord

	// History is the final conversation history, including correction
	// feedback and, on success, the accepted assistant message.
	History []provider.Message

	// Mode is the escalation tier the run terminated in.
	Mode Mode

	Duration      time.Duration
	ProviderCalls int

	// Error carries the fatal error text on audit records of failed
	// runs. Callers receive the error itself from Run.
	Error string
}
