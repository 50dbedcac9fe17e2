// Package orchestrator drives validation-gated LLM runs with escalating
// retries.
//
// Invariants:
// - The provider-call ordinal advances by exactly one per real gateway
//   invocation; cache-served responses never advance it.
// - The escalation mode is a pure function of the validation-cycle ordinal
//   and the policy thresholds, and never moves backward within a run.
// - Validation failures are data, not errors: errors from Run are reserved
//   for fatal conditions, and NEEDS_HUMAN_REVIEW is a normal Result status.
//
// Usage:
//
//	engine, _ := orchestrator.New(gateway, validate.NewRegistry(),
//		orchestrator.WithLogger(logger),
//	)
//	result, err := engine.Run(ctx, orchestrator.RequestConfig{
//		Model:    "claude-sonnet-4-20250514",
//		Messages: []provider.Message{{Role: "user", Content: "..."}},
//		Validators: []validate.Spec{
//			{Type: "json_schema", Params: map[string]interface{}{"required": []interface{}{"answer"}}},
//		},
//	})
//	_ = result
//	_ = err
package orchestrator
