package validate

import (
	"context"
	"fmt"
	"math"
	"strings"
)

// lengthValidator bounds response length in characters or words.
type lengthValidator struct {
	min  int
	max  int
	unit string
}

func newLengthValidator(params map[string]interface{}) (Validator, error) {
	min, hasMin, err := intParam(params, "min")
	if err != nil {
		return nil, err
	}
	max, hasMax, err := intParam(params, "max")
	if err != nil {
		return nil, err
	}
	if !hasMin && !hasMax {
		return nil, fmt.Errorf("length requires \"min\" or \"max\"")
	}
	if hasMin && min < 0 || hasMax && max < 0 {
		return nil, fmt.Errorf("length bounds cannot be negative")
	}
	if hasMin && hasMax && max < min {
		return nil, fmt.Errorf("length \"max\" cannot be below \"min\"")
	}

	unit := "chars"
	if raw, ok := params["unit"]; ok {
		unit, ok = raw.(string)
		if !ok || (unit != "chars" && unit != "words") {
			return nil, fmt.Errorf("length \"unit\" must be \"chars\" or \"words\"")
		}
	}

	v := &lengthValidator{unit: unit}
	if hasMin {
		v.min = min
	}
	if hasMax {
		v.max = max
	}
	return v, nil
}

func (v *lengthValidator) Validate(ctx context.Context, in Input) (Result, error) {
	n := len(in.Content)
	if v.unit == "words" {
		n = len(strings.Fields(in.Content))
	}

	if v.min > 0 && n < v.min {
		return Result{
			Pass:      false,
			Reasoning: fmt.Sprintf("response is too short: %d %s, minimum is %d", n, v.unit, v.min),
			Suggestions: []string{
				fmt.Sprintf("expand the response to at least %d %s", v.min, v.unit),
			},
		}, nil
	}

	if v.max > 0 && n > v.max {
		return Result{
			Pass:      false,
			Reasoning: fmt.Sprintf("response is too long: %d %s, maximum is %d", n, v.unit, v.max),
			Suggestions: []string{
				fmt.Sprintf("shorten the response to at most %d %s", v.max, v.unit),
			},
		}, nil
	}

	return Result{Pass: true, Reasoning: fmt.Sprintf("response length %d %s is within bounds", n, v.unit)}, nil
}

// intParam reads an integer spec param, tolerating the float64 that JSON
// decoding produces.
func intParam(params map[string]interface{}, key string) (int, bool, error) {
	raw, ok := params[key]
	if !ok {
		return 0, false, nil
	}
	switch n := raw.(type) {
	case int:
		return n, true, nil
	case int64:
		return int(n), true, nil
	case float64:
		if n != math.Trunc(n) {
			return 0, false, fmt.Errorf("%q must be an integer", key)
		}
		return int(n), true, nil
	default:
		return 0, false, fmt.Errorf("%q must be a number", key)
	}
}
