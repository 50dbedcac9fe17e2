package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDecide(t *testing.T) {
	t.Run("should walk the ladder with staggered thresholds", func(t *testing.T) {
		policy := RetryPolicy{AttemptsBeforeTool: 2, AttemptsBeforeHuman: 4}

		tests := []struct {
			cycle int
			want  Mode
		}{
			{1, ModeSelfCorrect},
			{2, ModeSelfCorrect},
			{3, ModeToolAssisted},
			{4, ModeToolAssisted},
			{5, ModeHumanEscalation},
			{9, ModeHumanEscalation},
		}

		for _, tt := range tests {
			assert.Equal(t, tt.want, Decide(tt.cycle, policy), "cycle %d", tt.cycle)
		}
	})

	t.Run("should never enter tool mode with equal thresholds", func(t *testing.T) {
		policy := RetryPolicy{AttemptsBeforeTool: 3, AttemptsBeforeHuman: 3}

		for cycle := 1; cycle <= 10; cycle++ {
			mode := Decide(cycle, policy)
			assert.NotEqual(t, ModeToolAssisted, mode, "cycle %d", cycle)
		}
		assert.Equal(t, ModeSelfCorrect, Decide(3, policy))
		assert.Equal(t, ModeHumanEscalation, Decide(4, policy))
	})

	t.Run("should let human precedence win when tool threshold is higher", func(t *testing.T) {
		policy := RetryPolicy{AttemptsBeforeTool: 5, AttemptsBeforeHuman: 2}

		assert.Equal(t, ModeSelfCorrect, Decide(2, policy))
		assert.Equal(t, ModeHumanEscalation, Decide(3, policy))
		assert.Equal(t, ModeHumanEscalation, Decide(6, policy))
	})

	t.Run("should escalate immediately with zero thresholds", func(t *testing.T) {
		assert.Equal(t, ModeHumanEscalation, Decide(1, RetryPolicy{}))
	})

	t.Run("should be deterministic", func(t *testing.T) {
		policy := RetryPolicy{AttemptsBeforeTool: 2, AttemptsBeforeHuman: 4}

		first := Decide(3, policy)
		for i := 0; i < 100; i++ {
			assert.Equal(t, first, Decide(3, policy))
		}
	})
}

func TestModeFor(t *testing.T) {
	policy := RetryPolicy{AttemptsBeforeTool: 2, AttemptsBeforeHuman: 4}

	t.Run("should label the first cycle INITIAL", func(t *testing.T) {
		assert.Equal(t, ModeInitial, modeFor(1, policy))
	})

	t.Run("should follow Decide afterwards", func(t *testing.T) {
		assert.Equal(t, ModeSelfCorrect, modeFor(2, policy))
		assert.Equal(t, ModeToolAssisted, modeFor(3, policy))
		assert.Equal(t, ModeToolAssisted, modeFor(4, policy))
	})
}
