package orchestrator

// Decide maps a validation-cycle ordinal to the escalation mode that governs
// it. Pure function of the ordinal and the thresholds: no side effects, no
// I/O. Human escalation is checked first, so configurations where
// AttemptsBeforeTool >= AttemptsBeforeHuman never enter the tool tier.
func Decide(cycle int, policy RetryPolicy) Mode {
	if cycle > policy.AttemptsBeforeHuman {
		return ModeHumanEscalation
	}
	if cycle > policy.AttemptsBeforeTool {
		return ModeToolAssisted
	}
	return ModeSelfCorrect
}

// modeFor labels a cycle for the attempt log: the first cycle of a run is
// INITIAL, later cycles follow Decide.
func modeFor(cycle int, policy RetryPolicy) Mode {
	if cycle <= 1 {
		return ModeInitial
	}
	return Decide(cycle, policy)
}
