// Package delegate implements the agent-task validator: instead of checking
// a response in-process, it issues a nested orchestration run against a
// judge model and maps the judge's structured verdict onto the validation
// result. The nested run flows through the same engine as the outer run, so
// cancellation, tracing, and capability execution all propagate.
package delegate

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/assaylab/assay/internal/metrics"
	"github.com/assaylab/assay/internal/tracing"
	"github.com/assaylab/assay/pkg/orchestrator"
	"github.com/assaylab/assay/pkg/provider"
	"github.com/assaylab/assay/pkg/validate"
)

// TypeTag is the validator type tag the delegate registers under.
const TypeTag = "agent_task"

// DefaultReasks bounds corrective re-asks on malformed verdicts.
const DefaultReasks = 1

const judgeSystemPrompt = `You are a strict validator. You judge whether a candidate response satisfies explicit criteria.

Reply with a single JSON object and no other text:
{
  "pass": true or false,
  "reasoning": "why the response does or does not satisfy the criteria",
  "suggestions": ["concrete correction", ...],
  "confidence": 0.0-1.0
}

The pass and reasoning fields are mandatory. Do not wrap the object in markdown fences.`

// Runner issues orchestration runs. *orchestrator.Engine satisfies it.
type Runner interface {
	Run(ctx context.Context, cfg orchestrator.RequestConfig) (*orchestrator.Result, error)
}

// Option configures the validators built by Register.
type Option func(*judgeValidator)

// WithLogger sets the logger judge validators report through.
func WithLogger(logger zerolog.Logger) Option {
	return func(v *judgeValidator) {
		v.logger = logger
	}
}

// Register installs the agent_task validator type on a registry, wired to
// the runner that executes judge runs.
func Register(reg *validate.Registry, runner Runner, opts ...Option) error {
	if runner == nil {
		return fmt.Errorf("runner is required")
	}
	return reg.Register(TypeTag, func(params map[string]interface{}) (validate.Validator, error) {
		return newJudge(runner, params, opts...)
	})
}

type judgeValidator struct {
	runner       Runner
	logger       zerolog.Logger
	model        string
	criteria     string
	capabilities []string
	reasks       int
}

func newJudge(runner Runner, params map[string]interface{}, opts ...Option) (validate.Validator, error) {
	model, _ := params["model"].(string)
	if model == "" {
		return nil, fmt.Errorf("%q requires a judge model", "model")
	}
	criteria, _ := params["criteria"].(string)
	if criteria == "" {
		return nil, fmt.Errorf("%q requires explicit validation criteria", "criteria")
	}

	v := &judgeValidator{
		runner:   runner,
		model:    model,
		criteria: criteria,
		reasks:   DefaultReasks,
	}

	if raw, ok := params["capabilities"]; ok {
		list, ok := raw.([]interface{})
		if !ok {
			return nil, fmt.Errorf("%q must be a list of capability names", "capabilities")
		}
		for _, item := range list {
			name, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%q must be a list of capability names", "capabilities")
			}
			v.capabilities = append(v.capabilities, name)
		}
	}

	if raw, ok := params["reasks"]; ok {
		reasks, err := intValue(raw)
		if err != nil {
			return nil, fmt.Errorf("%q must be an integer", "reasks")
		}
		if reasks < 0 {
			return nil, fmt.Errorf("%q cannot be negative", "reasks")
		}
		v.reasks = reasks
	}

	for _, opt := range opts {
		opt(v)
	}

	return v, nil
}

// Validate judges the input by running a nested orchestration against the
// judge model. The remaining delegation budget arrives on the input; zero
// forbids any nested call. Malformed verdicts are re-asked up to the
// configured bound, then reported as a validator malfunction rather than a
// validation failure.
func (v *judgeValidator) Validate(ctx context.Context, in validate.Input) (validate.Result, error) {
	if in.Depth <= 0 {
		metrics.RecordDelegateDepthExceeded()
		return validate.Result{}, &validate.ConfigError{
			Component: TypeTag,
			Reason:    "delegation depth exhausted",
		}
	}

	ctx = tracing.PropagateToDelegate(ctx)
	logger := tracing.LoggerFromContext(ctx, v.logger)

	transcript := []provider.Message{
		{Role: "user", Content: buildJudgePrompt(in.Content, in.Task, v.criteria)},
	}

	var lastOutput string
	for ask := 0; ask <= v.reasks; ask++ {
		result, err := v.runner.Run(ctx, orchestrator.RequestConfig{
			Model:        v.model,
			Messages:     transcript,
			SystemPrompt: judgeSystemPrompt,
			Policy: orchestrator.RetryPolicy{
				MaxAttempts:         1,
				TransientRetryLimit: 2,
			},
			DelegateDepth: in.Depth - 1,
			Capabilities:  v.capabilities,
		})
		if err != nil {
			return validate.Result{}, fmt.Errorf("judge run: %w", err)
		}

		verdict, parseErr := ParseVerdict(result.Content)
		if parseErr == nil {
			logger.Debug().
				Bool("pass", verdict.Pass).
				Float64("confidence", verdict.Confidence).
				Msg("Judge verdict received")
			return validate.Result{
				Pass:        verdict.Pass,
				Reasoning:   verdict.Reasoning,
				Suggestions: verdict.Suggestions,
			}, nil
		}

		lastOutput = result.Content
		logger.Warn().
			Err(parseErr).
			Int("ask", ask+1).
			Msg("Judge verdict unparseable")

		transcript = append(transcript,
			provider.Message{Role: "assistant", Content: result.Content},
			provider.Message{Role: "user", Content: correctiveMessage(parseErr)},
		)
	}

	return validate.Result{}, &validate.MalfunctionError{
		Validator: TypeTag,
		Reason:    fmt.Sprintf("judge verdict unparseable after %d re-ask(s)", v.reasks),
		Output:    lastOutput,
	}
}

// buildJudgePrompt frames the content under validation for the judge.
func buildJudgePrompt(content, task, criteria string) string {
	prompt := ""
	if task != "" {
		prompt += fmt.Sprintf("## Task\n%s\n\n", task)
	}
	prompt += fmt.Sprintf("## Validation criteria\n%s\n\n## Response under evaluation\n%s\n\nJudge whether the response satisfies the criteria.", criteria, content)
	return prompt
}

// correctiveMessage asks the judge to repair a malformed verdict.
func correctiveMessage(parseErr error) string {
	return fmt.Sprintf(
		"Your verdict could not be parsed: %v.\nReply again with only the JSON object described in your instructions, including the pass and reasoning fields.",
		parseErr,
	)
}

func intValue(raw interface{}) (int, error) {
	switch n := raw.(type) {
	case int:
		return n, nil
	case int64:
		return int(n), nil
	case float64:
		if n != float64(int(n)) {
			return 0, fmt.Errorf("not an integer")
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("not a number")
	}
}
