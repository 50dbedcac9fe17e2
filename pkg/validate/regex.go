package validate

import (
	"context"
	"fmt"
	"regexp"
)

// regexValidator requires the response to match (or avoid) a pattern.
type regexValidator struct {
	re        *regexp.Regexp
	mustMatch bool
}

func newRegexValidator(params map[string]interface{}) (Validator, error) {
	pattern, _ := params["pattern"].(string)
	if pattern == "" {
		return nil, fmt.Errorf("regex requires a \"pattern\"")
	}

	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, fmt.Errorf("invalid pattern: %v", err)
	}

	mustMatch := true
	if m, ok := params["must_match"].(bool); ok {
		mustMatch = m
	}

	return &regexValidator{re: re, mustMatch: mustMatch}, nil
}

func (v *regexValidator) Validate(ctx context.Context, in Input) (Result, error) {
	matched := v.re.MatchString(in.Content)

	if matched == v.mustMatch {
		return Result{Pass: true, Reasoning: "response satisfies the pattern constraint"}, nil
	}

	if v.mustMatch {
		return Result{
			Pass:      false,
			Reasoning: fmt.Sprintf("response does not match required pattern %q", v.re.String()),
			Suggestions: []string{
				fmt.Sprintf("include content matching %q", v.re.String()),
			},
		}, nil
	}

	return Result{
		Pass:      false,
		Reasoning: fmt.Sprintf("response matches forbidden pattern %q", v.re.String()),
		Suggestions: []string{
			fmt.Sprintf("remove content matching %q", v.re.String()),
		},
	}, nil
}
