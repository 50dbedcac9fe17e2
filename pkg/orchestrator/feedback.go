package orchestrator

import (
	"fmt"
	"strings"

	"github.com/assaylab/assay/pkg/validate"
)

// composeFeedback renders a failed validation aggregate as the correction
// message appended to the conversation before the next cycle. Suggestions
// arrive already deduplicated from the pipeline. When the next cycle is
// tool-assisted and a debug capability is configured, the message instructs
// the model to invoke it before answering again.
func composeFeedback(agg validate.Aggregate, next Mode, debugCapability string) string {
	var b strings.Builder

	b.WriteString("Your previous response did not pass validation.\n\n")
	b.WriteString("Validation feedback:\n")
	b.WriteString(agg.Reasoning)
	b.WriteString("\n")

	if len(agg.Suggestions) > 0 {
		b.WriteString("\nSuggested corrections:\n")
		for i, suggestion := range agg.Suggestions {
			fmt.Fprintf(&b, "%d. %s\n", i+1, suggestion)
		}
	}

	if next == ModeToolAssisted && debugCapability != "" {
		fmt.Fprintf(&b, "\nUse the %s tool to investigate the problem before you answer again.\n", debugCapability)
	}

	b.WriteString("\nProvide a corrected response.")
	return b.String()
}
