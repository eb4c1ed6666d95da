package domain

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrStateNotObject is returned when the state payload is not a JSON object.
var ErrStateNotObject = errors.New("coaching state is not a JSON object")

// ParseState decodes raw JSON and validates it into a CoachingState.
func ParseState(data []byte, fallback Stage) (CoachingState, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return CoachingState{}, fmt.Errorf("decode coaching state: %w", err)
	}
	return ValidateState(raw, fallback)
}

// ValidateState coerces a decoded JSON value into a fully populated state.
// Only a non-object top level fails; every field-level problem is replaced
// by the field's default. The payload's own stage wins over fallback when
// it normalizes to a known stage.
func ValidateState(raw any, fallback Stage) (CoachingState, error) {
	obj, ok := raw.(map[string]any)
	if !ok {
		return CoachingState{}, ErrStateNotObject
	}

	st := EmptyState(fallback)
	st.Stage = StageOr(stringField(obj, "stage"), fallback)
	st.UserGoals = stringList(obj["user_goals"])
	st.Options = stringList(obj["options"])
	st.Risks = stringList(obj["risks"])
	st.Agreements = stringList(obj["agreements"])
	st.NextPromptToUser = stringField(obj, "next_prompt_to_user")

	if reality, ok := obj["reality"].(map[string]any); ok {
		st.Reality.Facts = stringList(reality["facts"])
		st.Reality.Obstacles = stringList(reality["obstacles"])
		st.Reality.Supports = stringList(reality["supports"])
		st.Reality.Score = ClampScore(reality["score_0to10"])
	}

	if res, ok := obj["resources"].(map[string]any); ok {
		st.Resources.Internal = stringList(res["internal"])
		st.Resources.External = stringList(res["external"])
	}

	if plan, ok := obj["plan"].(map[string]any); ok {
		st.Plan = Plan{
			FirstStep:        stringField(plan, "first_step"),
			WhenWhere:        stringField(plan, "when_where"),
			MeasureOfSuccess: stringField(plan, "measure_of_success"),
			IfThen:           stringField(plan, "if_then"),
			PlanB:            stringField(plan, "planB"),
		}
	}

	return st, nil
}

// ClampScore converts v to a score in [ScoreMin, ScoreMax].
// Numbers and numeric strings are accepted; anything else, including
// NaN and infinities, yields nil.
func ClampScore(v any) *float64 {
	n, ok := ToNumber(v)
	if !ok {
		return nil
	}
	n = math.Min(ScoreMax, math.Max(ScoreMin, n))
	return &n
}

// ToNumber extracts a finite float from a JSON number or numeric string.
func ToNumber(v any) (float64, bool) {
	var n float64
	switch t := v.(type) {
	case float64:
		n = t
	case float32:
		n = float64(t)
	case int:
		n = float64(t)
	case int64:
		n = float64(t)
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return 0, false
		}
		n = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		if err != nil {
			return 0, false
		}
		n = f
	default:
		return 0, false
	}
	if math.IsNaN(n) || math.IsInf(n, 0) {
		return 0, false
	}
	return n, true
}

func stringField(obj map[string]any, key string) string {
	s, ok := obj[key].(string)
	if !ok {
		return ""
	}
	return strings.TrimSpace(s)
}

// stringList keeps the trimmed, non-empty string entries of an array value.
func stringList(v any) []string {
	out := []string{}
	items, ok := v.([]any)
	if !ok {
		return out
	}
	for _, item := range items {
		s, ok := item.(string)
		if !ok {
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}
