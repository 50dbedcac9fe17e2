package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/assaylab/assay/internal/metrics"
	"github.com/assaylab/assay/internal/tracing"
	"github.com/assaylab/assay/pkg/provider"
	"github.com/assaylab/assay/pkg/validate"
)

// maxToolRounds bounds provider calls spent resolving tool invocations
// within one validation cycle.
const maxToolRounds = 10

// runState is the mutable state of one in-flight run. Owned by a single
// goroutine for the lifetime of the run.
type runState struct {
	id         string
	cfg        RequestConfig
	policy     RetryPolicy
	history    []provider.Message
	attempts   []AttemptRecord
	cycle      int
	mode       Mode
	calls      int
	baseTools  []provider.Tool
	debugTools []provider.Tool
	started    time.Time
}

func (s *runState) record(rec AttemptRecord) {
	s.attempts = append(s.attempts, rec)
}

func (s *runState) result(status Status, resp *provider.Response, reasoning string) *Result {
	res := &Result{
		ID:            s.id,
		Status:        status,
		Response:      resp,
		Reasoning:     reasoning,
		Attempts:      s.attempts,
		History:       s.history,
		Mode:          s.mode,
		Duration:      time.Since(s.started),
		ProviderCalls: s.calls,
	}
	if resp != nil {
		res.Content = resp.Content
	}
	return res
}

func (s *runState) failure(err error) *Result {
	res := s.result(StatusFailed, nil, "")
	res.Error = err.Error()
	return res
}

// execute drives the retry state machine for one run. On failure it returns
// the error together with a partial FAILED result so the audit trail keeps
// the attempt log; callers only ever see the error.
func (e *Engine) execute(ctx context.Context, runID string, cfg RequestConfig) (*Result, error) {
	logger := tracing.LoggerFromContext(ctx, e.logger)
	policy := cfg.Policy.withDefaults()

	// Instantiate every validator up front so configuration errors
	// surface before the first provider call.
	pipeline, err := validate.Build(e.validators, cfg.Validators)
	if err != nil {
		return nil, err
	}

	baseTools, debugTools, err := e.resolveTools(cfg, policy)
	if err != nil {
		return nil, err
	}

	rs := &runState{
		id:         runID,
		cfg:        cfg,
		policy:     policy,
		history:    append([]provider.Message(nil), cfg.Messages...),
		baseTools:  baseTools,
		debugTools: debugTools,
		started:    time.Now(),
	}

	for {
		rs.cycle++
		previous := rs.mode
		rs.mode = modeFor(rs.cycle, policy)
		if rs.cycle > 1 && rs.mode != previous {
			metrics.RecordEscalation(string(rs.mode))
		}

		logger.Info().
			Int("cycle", rs.cycle).
			Str("mode", string(rs.mode)).
			Msg("Starting validation cycle")

		resp, elapsed, err := e.runCycle(ctx, rs)
		if err != nil {
			return rs.failure(err), err
		}

		agg, err := pipeline.Exec(ctx, validate.Input{
			Content:  resp.Content,
			Response: resp,
			Task:     cfg.Task,
			Depth:    cfg.DelegateDepth,
		})
		if err != nil {
			var malfunction *validate.MalfunctionError
			if errors.As(err, &malfunction) {
				rs.record(AttemptRecord{
					Attempt:  rs.calls,
					Cycle:    rs.cycle,
					Mode:     rs.mode,
					Cached:   resp.Cached,
					Response: resp.Content,
					Err:      err.Error(),
					Duration: elapsed,
				})
				logger.Warn().Err(err).Msg("Validator malfunctioned, routing to human review")
				rs.mode = ModeHumanEscalation
				metrics.RecordEscalation(string(ModeHumanEscalation))
				return rs.result(StatusNeedsHumanReview, nil, err.Error()), nil
			}
			return rs.failure(err), err
		}

		rs.record(AttemptRecord{
			Attempt:    rs.calls,
			Cycle:      rs.cycle,
			Mode:       rs.mode,
			Cached:     resp.Cached,
			Response:   resp.Content,
			Validation: &agg,
			Duration:   elapsed,
		})

		if agg.Pass {
			logger.Info().
				Int("cycle", rs.cycle).
				Int("provider_calls", rs.calls).
				Msg("Validation passed")
			rs.history = append(rs.history, provider.Message{
				Role:    "assistant",
				Content: resp.Content,
			})
			return rs.result(StatusSuccess, resp, ""), nil
		}

		next := Decide(rs.cycle+1, policy)
		if next == ModeHumanEscalation || rs.cycle >= policy.MaxAttempts {
			logger.Warn().
				Int("cycles", rs.cycle).
				Str("reasoning", agg.Reasoning).
				Msg("Validation unresolved, escalating to human review")
			rs.mode = ModeHumanEscalation
			metrics.RecordEscalation(string(ModeHumanEscalation))
			return rs.result(StatusNeedsHumanReview, nil, agg.Reasoning), nil
		}

		feedback := composeFeedback(agg, next, policy.DebugCapability)
		rs.history = append(rs.history,
			provider.Message{Role: "assistant", Content: resp.Content},
			provider.Message{Role: "user", Content: feedback},
		)

		logger.Debug().
			Str("next_mode", string(next)).
			Int("suggestions", len(agg.Suggestions)).
			Msg("Appended correction feedback")
	}
}

// runCycle obtains one validated-candidate response: it invokes the gateway
// and resolves any tool calls until the model produces plain text, bounded
// by maxToolRounds.
func (e *Engine) runCycle(ctx context.Context, rs *runState) (*provider.Response, time.Duration, error) {
	tools := rs.baseTools
	if rs.mode == ModeToolAssisted && len(rs.debugTools) > 0 {
		tools = mergeTools(rs.baseTools, rs.debugTools)
	}

	for round := 0; round < maxToolRounds; round++ {
		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		default:
		}

		resp, elapsed, err := e.invokeWithRetry(ctx, rs, tools)
		if err != nil {
			return nil, 0, err
		}

		// Plain text, or nobody to execute tools: this is the cycle's
		// candidate response.
		if len(resp.ToolCalls) == 0 || e.capabilities == nil {
			return resp, elapsed, nil
		}

		rs.record(AttemptRecord{
			Attempt:   rs.calls,
			Cycle:     rs.cycle,
			Mode:      rs.mode,
			Cached:    resp.Cached,
			Response:  resp.Content,
			ToolCalls: len(resp.ToolCalls),
			Duration:  elapsed,
		})

		rs.history = append(rs.history, provider.Message{
			Role:      "assistant",
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})

		for _, call := range resp.ToolCalls {
			output, execErr := e.capabilities.Execute(ctx, call.Name, call.Parameters)
			if execErr != nil {
				output = fmt.Sprintf("capability error: %v", execErr)
			}
			rs.history = append(rs.history, provider.Message{
				Role:       "tool",
				Content:    output,
				ToolCallID: call.ID,
			})
		}
	}

	return nil, 0, fmt.Errorf("exceeded %d tool rounds in one validation cycle", maxToolRounds)
}

// invokeWithRetry performs one logical gateway call, absorbing transient
// provider errors up to the policy's TransientRetryLimit. Every real call
// advances the provider-call ordinal; cache-served responses do not.
func (e *Engine) invokeWithRetry(ctx context.Context, rs *runState, tools []provider.Tool) (*provider.Response, time.Duration, error) {
	logger := tracing.LoggerFromContext(ctx, e.logger)

	req := provider.Request{
		Model:        rs.cfg.Model,
		Messages:     rs.history,
		Tools:        tools,
		Temperature:  rs.cfg.Temperature,
		MaxTokens:    rs.cfg.MaxTokens,
		SystemPrompt: rs.cfg.SystemPrompt,
		Timeout:      rs.cfg.Timeout,
	}

	var lastErr error

	for call := 0; call <= rs.policy.TransientRetryLimit; call++ {
		start := time.Now()
		resp, err := e.gateway.Invoke(ctx, req)
		elapsed := time.Since(start)

		if err == nil {
			if resp.Cached {
				logger.Debug().Int("cycle", rs.cycle).Msg("Response served from cache")
			} else {
				rs.calls++
				metrics.RecordProviderCall(e.gateway.Name(), elapsed, "success")
			}
			return resp, elapsed, nil
		}

		rs.calls++
		rs.record(AttemptRecord{
			Attempt:  rs.calls,
			Cycle:    rs.cycle,
			Mode:     rs.mode,
			Err:      err.Error(),
			Duration: elapsed,
		})

		if !provider.IsTransient(err) {
			metrics.RecordProviderCall(e.gateway.Name(), elapsed, "fatal_error")
			return nil, 0, err
		}

		metrics.RecordProviderCall(e.gateway.Name(), elapsed, "transient_error")
		lastErr = err

		// Last allowed call: report exhaustion without waiting.
		if call == rs.policy.TransientRetryLimit {
			break
		}

		seed := fmt.Sprintf("%s:%d:%d", rs.id, rs.cycle, call+1)
		delay := rs.policy.Backoff.Delay(call+1, provider.RetryAfterHint(err), seed)

		logger.Warn().
			Err(err).
			Int("retry", call+1).
			Dur("delay", delay).
			Msg("Retrying after transient provider error")

		select {
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		case <-time.After(delay):
		}
	}

	return nil, 0, fmt.Errorf("transient retries (%d) exhausted: %w", rs.policy.TransientRetryLimit, lastErr)
}

// resolveTools maps the configured capability names to tool descriptors.
// Unresolvable names are configuration errors raised before any call.
func (e *Engine) resolveTools(cfg RequestConfig, policy RetryPolicy) ([]provider.Tool, []provider.Tool, error) {
	if len(cfg.Capabilities) == 0 && policy.DebugCapability == "" {
		return nil, nil, nil
	}
	if e.capabilities == nil {
		return nil, nil, &validate.ConfigError{
			Component: "capabilities",
			Reason:    "no capability executor configured",
		}
	}

	var base []provider.Tool
	if len(cfg.Capabilities) > 0 {
		resolved, err := e.capabilities.Resolve(cfg.Capabilities)
		if err != nil {
			return nil, nil, &validate.ConfigError{Component: "capabilities", Reason: err.Error()}
		}
		base = resolved
	}

	var debug []provider.Tool
	if policy.DebugCapability != "" {
		resolved, err := e.capabilities.Resolve([]string{policy.DebugCapability})
		if err != nil {
			return nil, nil, &validate.ConfigError{Component: "debug capability", Reason: err.Error()}
		}
		debug = resolved
	}

	return base, debug, nil
}

// mergeTools appends extras not already present by name.
func mergeTools(base, extra []provider.Tool) []provider.Tool {
	merged := append([]provider.Tool(nil), base...)
	seen := make(map[string]bool, len(base))
	for _, tool := range base {
		seen[tool.Name] = true
	}
	for _, tool := range extra {
		if !seen[tool.Name] {
			merged = append(merged, tool)
			seen[tool.Name] = true
		}
	}
	return merged
}
