package funnel

import (
	"testing"

	"github.com/rs/zerolog"
)

func newTestEvaluator() *Evaluator { return NewEvaluator(zerolog.Nop()) }

func TestEvaluate_Eq(t *testing.T) {
	e := newTestEvaluator()
	conds := []Condition{{QuestionKey: "smoker", Operator: "eq", Value: true}}
	if !e.Evaluate(conds, LogicAnd, map[string]interface{}{"smoker": true}) {
		t.Error("expected eq true to fire")
	}
	if e.Evaluate(conds, LogicAnd, map[string]interface{}{"smoker": false}) {
		t.Error("expected eq false not to fire")
	}
}

func TestEvaluate_EqNumericTypesMix(t *testing.T) {
	e := newTestEvaluator()
	// JSON decoding yields float64, database scans yield int; they must compare equal.
	conds := []Condition{{QuestionKey: "age", Operator: "eq", Value: float64(40)}}
	if !e.Evaluate(conds, LogicAnd, map[string]interface{}{"age": 40}) {
		t.Error("int answer must equal float64 rule value")
	}
}

func TestEvaluate_Neq(t *testing.T) {
	e := newTestEvaluator()
	conds := []Condition{{QuestionKey: "country", Operator: "neq", Value: "de"}}
	if !e.Evaluate(conds, LogicAnd, map[string]interface{}{"country": "fr"}) {
		t.Error("expected neq to fire for different value")
	}
	if e.Evaluate(conds, LogicAnd, map[string]interface{}{"country": "de"}) {
		t.Error("expected neq not to fire for equal value")
	}
}

func TestEvaluate_NumericComparisons(t *testing.T) {
	e := newTestEvaluator()
	answers := map[string]interface{}{"age": float64(40)}

	cases := []struct {
		op    string
		value float64
		want  bool
	}{
		{"gt", 39, true}, {"gt", 40, false},
		{"gte", 40, true}, {"gte", 41, false},
		{"lt", 41, true}, {"lt", 40, false},
		{"lte", 40, true}, {"lte", 39, false},
	}
	for _, tc := range cases {
		conds := []Condition{{QuestionKey: "age", Operator: tc.op, Value: tc.value}}
		if got := e.Evaluate(conds, LogicAnd, answers); got != tc.want {
			t.Errorf("age=40 %s %v: got %v, want %v", tc.op, tc.value, got, tc.want)
		}
	}
}

func TestEvaluate_NumericComparisonOnString(t *testing.T) {
	e := newTestEvaluator()
	conds := []Condition{{QuestionKey: "age", Operator: "gt", Value: float64(10)}}
	if e.Evaluate(conds, LogicAnd, map[string]interface{}{"age": "forty"}) {
		t.Error("non-numeric answer must make the condition false")
	}
}

func TestEvaluate_In(t *testing.T) {
	e := newTestEvaluator()
	conds := []Condition{{QuestionKey: "region", Operator: "in", Values: []interface{}{"eu", "uk"}}}
	if !e.Evaluate(conds, LogicAnd, map[string]interface{}{"region": "eu"}) {
		t.Error("expected in to fire for member value")
	}
	if e.Evaluate(conds, LogicAnd, map[string]interface{}{"region": "us"}) {
		t.Error("expected in not to fire for non-member value")
	}
}

func TestEvaluate_UnansweredQuestionIsFalse(t *testing.T) {
	e := newTestEvaluator()
	conds := []Condition{{QuestionKey: "smoker", Operator: "eq", Value: true}}
	if e.Evaluate(conds, LogicAnd, map[string]interface{}{}) {
		t.Error("condition on an unanswered question must be false")
	}
}

func TestEvaluate_UnknownOperatorIsFalse(t *testing.T) {
	e := newTestEvaluator()
	conds := []Condition{{QuestionKey: "smoker", Operator: "matches", Value: true}}
	if e.Evaluate(conds, LogicAnd, map[string]interface{}{"smoker": true}) {
		t.Error("unknown operator must make the condition false")
	}
}

func TestEvaluate_AndLogic(t *testing.T) {
	e := newTestEvaluator()
	conds := []Condition{
		{QuestionKey: "smoker", Operator: "eq", Value: true},
		{QuestionKey: "age", Operator: "gte", Value: float64(18)},
	}
	answers := map[string]interface{}{"smoker": true, "age": float64(30)}
	if !e.Evaluate(conds, LogicAnd, answers) {
		t.Error("expected and to fire when all conditions hold")
	}
	answers["age"] = float64(16)
	if e.Evaluate(conds, LogicAnd, answers) {
		t.Error("expected and not to fire when one condition fails")
	}
}

func TestEvaluate_OrLogic(t *testing.T) {
	e := newTestEvaluator()
	conds := []Condition{
		{QuestionKey: "smoker", Operator: "eq", Value: true},
		{QuestionKey: "age", Operator: "gte", Value: float64(65)},
	}
	if !e.Evaluate(conds, LogicOr, map[string]interface{}{"smoker": false, "age": float64(70)}) {
		t.Error("expected or to fire when one condition holds")
	}
	if e.Evaluate(conds, LogicOr, map[string]interface{}{"smoker": false, "age": float64(30)}) {
		t.Error("expected or not to fire when no condition holds")
	}
}

func TestEvaluate_EmptyConditionsNeverFire(t *testing.T) {
	e := newTestEvaluator()
	if e.Evaluate(nil, LogicAnd, map[string]interface{}{"x": 1}) {
		t.Error("empty condition list must not fire")
	}
	if e.Evaluate(nil, LogicOr, map[string]interface{}{"x": 1}) {
		t.Error("empty condition list must not fire under or either")
	}
}

func TestEvaluate_UnknownLogicDefaultsToAnd(t *testing.T) {
	e := newTestEvaluator()
	conds := []Condition{
		{QuestionKey: "a", Operator: "eq", Value: true},
		{QuestionKey: "b", Operator: "eq", Value: true},
	}
	answers := map[string]interface{}{"a": true, "b": false}
	if e.Evaluate(conds, "xor", answers) {
		t.Error("unknown logic must behave as and")
	}
}
