package validate

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/assaylab/assay/internal/metrics"
)

// NamedResult pairs a validator's type tag with its result.
type NamedResult struct {
	Type   string `json:"type"`
	Result Result `json:"result"`
}

// Aggregate is the combined outcome of the pipeline. Pass is the logical
// AND of all results, reasoning concatenates each failing validator's
// reasoning, suggestions are the order-preserving deduplicated union.
type Aggregate struct {
	Pass        bool          `json:"pass"`
	Reasoning   string        `json:"reasoning"`
	Suggestions []string      `json:"suggestions,omitempty"`
	Results     []NamedResult `json:"results,omitempty"`
}

// Pipeline executes an ordered list of validators against one response.
// A pipeline with no stages passes vacuously.
type Pipeline struct {
	stages []stage
}

type stage struct {
	typ       string
	validator Validator
}

// Build instantiates every spec up front so configuration problems surface
// before any provider call is made.
func Build(reg *Registry, specs []Spec) (*Pipeline, error) {
	stages := make([]stage, 0, len(specs))
	for _, spec := range specs {
		v, err := reg.Build(spec)
		if err != nil {
			return nil, err
		}
		stages = append(stages, stage{typ: spec.Type, validator: v})
	}
	return &Pipeline{stages: stages}, nil
}

// Len returns the number of pipeline stages.
func (p *Pipeline) Len() int {
	return len(p.stages)
}

// Exec runs the validators in declaration order. All stages run so that
// suggestions from each can be surfaced together; only a structural failure
// short-circuits the remainder. A validator error aborts the pipeline and
// propagates unchanged.
func (p *Pipeline) Exec(ctx context.Context, in Input) (Aggregate, error) {
	agg := Aggregate{Pass: true}

	var failing []string
	seen := map[string]bool{}

	for _, st := range p.stages {
		start := time.Now()
		res, err := st.validator.Validate(ctx, in)
		metrics.RecordValidation(st.typ, time.Since(start), err == nil && res.Pass)
		if err != nil {
			return Aggregate{}, fmt.Errorf("validator %s: %w", st.typ, err)
		}

		agg.Results = append(agg.Results, NamedResult{Type: st.typ, Result: res})

		if res.Pass {
			continue
		}

		agg.Pass = false
		if res.Reasoning != "" {
			failing = append(failing, fmt.Sprintf("[%s] %s", st.typ, res.Reasoning))
		}
		for _, s := range res.Suggestions {
			if !seen[s] {
				seen[s] = true
				agg.Suggestions = append(agg.Suggestions, s)
			}
		}

		if res.Structural {
			break
		}
	}

	agg.Reasoning = strings.Join(failing, "; ")

	return agg, nil
}
