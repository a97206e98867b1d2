package funnel

import (
	"github.com/rs/zerolog"
)

// Evaluator evaluates rule conditions against the answers collected so far.
// It is pure: no I/O, no mutation of its inputs.
type Evaluator struct {
	logger zerolog.Logger
}

func NewEvaluator(logger zerolog.Logger) *Evaluator {
	return &Evaluator{logger: logger}
}

// Evaluate combines the per-condition results with the given logic ("and"
// or "or"; anything else is treated as "and"). An empty condition list
// never fires. A condition on an unanswered question is false, and an
// unrecognized operator is false, so a malformed rule can only ever fail to
// fire, never block or require by accident.
func (e *Evaluator) Evaluate(conditions []Condition, logic string, answers map[string]interface{}) bool {
	if len(conditions) == 0 {
		return false
	}

	if logic == LogicOr {
		for _, c := range conditions {
			if e.evalCondition(c, answers) {
				return true
			}
		}
		return false
	}

	for _, c := range conditions {
		if !e.evalCondition(c, answers) {
			return false
		}
	}
	return true
}

func (e *Evaluator) evalCondition(c Condition, answers map[string]interface{}) bool {
	answer, ok := answers[c.QuestionKey]
	if !ok || answer == nil {
		return false
	}

	switch c.Operator {
	case "eq":
		return valuesEqual(answer, c.Value)
	case "neq":
		return !valuesEqual(answer, c.Value)
	case "gt", "gte", "lt", "lte":
		return compareNumeric(answer, c.Value, c.Operator)
	case "in":
		for _, v := range c.Values {
			if valuesEqual(answer, v) {
				return true
			}
		}
		return false
	default:
		e.logger.Warn().
			Str("operator", c.Operator).
			Str("question_key", c.QuestionKey).
			Msg("unrecognized rule operator, condition treated as false")
		return false
	}
}

// valuesEqual compares an answer with a rule value. Numbers are compared
// numerically regardless of their Go type, since JSON decoding and database
// scans produce a mix of float64, int, and int64.
func valuesEqual(a, b interface{}) bool {
	if af, aok := toFloat(a); aok {
		bf, bok := toFloat(b)
		return bok && af == bf
	}
	switch av := a.(type) {
	case string:
		bv, ok := b.(string)
		return ok && av == bv
	case bool:
		bv, ok := b.(bool)
		return ok && av == bv
	default:
		return false
	}
}

// compareNumeric orders two values numerically. Non-numeric operands make
// the condition false.
func compareNumeric(a, b interface{}, op string) bool {
	af, aok := toFloat(a)
	bf, bok := toFloat(b)
	if !aok || !bok {
		return false
	}
	switch op {
	case "gt":
		return af > bf
	case "gte":
		return af >= bf
	case "lt":
		return af < bf
	case "lte":
		return af <= bf
	}
	return false
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
