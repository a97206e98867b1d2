package funnel

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Funnel maps to the funnel table. Assessments reference a funnel by id;
// clients address it by slug.
type Funnel struct {
	ID        uuid.UUID `db:"id" json:"id"`
	Slug      string    `db:"slug" json:"slug"`
	Title     string    `db:"title" json:"title"`
	Status    string    `db:"status" json:"status"`
	Version   int       `db:"version" json:"version"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// Step maps to the funnel_step table. order_index is 1-based and unique
// within a funnel.
type Step struct {
	ID           uuid.UUID `db:"id" json:"id"`
	FunnelID     uuid.UUID `db:"funnel_id" json:"funnel_id"`
	OrderIndex   int       `db:"order_index" json:"order_index"`
	Title        string    `db:"title" json:"title"`
	HasQuestions bool      `db:"has_questions" json:"has_questions"`
	CreatedAt    time.Time `db:"created_at" json:"created_at"`
}

// Question maps to the funnel_question table. Key is unique within a funnel
// and is what answers and rule conditions refer to.
type Question struct {
	ID        uuid.UUID `db:"id" json:"id"`
	StepID    uuid.UUID `db:"step_id" json:"step_id"`
	Key       string    `db:"key" json:"key"`
	Label     string    `db:"label" json:"label"`
	ValueType string    `db:"value_type" json:"value_type"`
	Required  bool      `db:"required" json:"required"`
	SortOrder int       `db:"sort_order" json:"sort_order"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
}

// Condition is one predicate inside a conditional rule. Value carries the
// scalar for comparison operators; Values carries the set for "in".
type Condition struct {
	QuestionKey string        `json:"question_key"`
	Operator    string        `json:"operator"`
	Value       interface{}   `json:"value,omitempty"`
	Values      []interface{} `json:"values,omitempty"`
}

// ConditionalRule maps to the funnel_rule table. Conditions is stored as
// JSONB. rule_type conditional_required makes the target question required
// when the rule fires; conditional_visible controls whether the question is
// shown at all.
type ConditionalRule struct {
	ID         uuid.UUID   `db:"id" json:"id"`
	QuestionID uuid.UUID   `db:"question_id" json:"question_id"`
	StepID     uuid.UUID   `db:"step_id" json:"step_id"`
	RuleType   string      `db:"rule_type" json:"rule_type"`
	Logic      string      `db:"logic" json:"logic"`
	Conditions []Condition `db:"conditions" json:"conditions"`
	Priority   int         `db:"priority" json:"priority"`
	Active     bool        `db:"active" json:"active"`
	CreatedAt  time.Time   `db:"created_at" json:"created_at"`
}

const (
	StatusDraft   = "draft"
	StatusActive  = "active"
	StatusRetired = "retired"

	RuleTypeRequired = "conditional_required"
	RuleTypeVisible  = "conditional_visible"

	LogicAnd = "and"
	LogicOr  = "or"
)

var (
	ErrNotFound = errors.New("funnel not found")
	ErrInactive = errors.New("funnel is not active")
)

// Definition is a fully loaded funnel: the funnel row plus its steps in
// order, all questions, and all active rules. The assessment state machine
// works against this snapshot.
type Definition struct {
	Funnel    *Funnel
	Steps     []*Step            // ordered by order_index
	Questions []*Question        // all steps, ordered by step then sort_order
	Rules     []*ConditionalRule // active only

	evaluator *Evaluator
}

// NewDefinition assembles a definition from already-loaded parts. Steps must
// be ordered by order_index and rules filtered to active ones.
func NewDefinition(f *Funnel, steps []*Step, questions []*Question, rules []*ConditionalRule, logger zerolog.Logger) *Definition {
	return &Definition{
		Funnel:    f,
		Steps:     steps,
		Questions: questions,
		Rules:     rules,
		evaluator: NewEvaluator(logger),
	}
}

// StepByID returns the step with the given id, or nil.
func (d *Definition) StepByID(id uuid.UUID) *Step {
	for _, s := range d.Steps {
		if s.ID == id {
			return s
		}
	}
	return nil
}

// FirstStep returns the lowest-ordered step, or nil for an empty funnel.
func (d *Definition) FirstStep() *Step {
	if len(d.Steps) == 0 {
		return nil
	}
	return d.Steps[0]
}

// NextStep returns the step following the given one in order, or nil when
// it is the last.
func (d *Definition) NextStep(s *Step) *Step {
	for i, cur := range d.Steps {
		if cur.ID == s.ID && i+1 < len(d.Steps) {
			return d.Steps[i+1]
		}
	}
	return nil
}

// QuestionsForStep returns the step's questions in sort order.
func (d *Definition) QuestionsForStep(stepID uuid.UUID) []*Question {
	var out []*Question
	for _, q := range d.Questions {
		if q.StepID == stepID {
			out = append(out, q)
		}
	}
	return out
}

// QuestionByID returns the question with the given id, or nil.
func (d *Definition) QuestionByID(id uuid.UUID) *Question {
	for _, q := range d.Questions {
		if q.ID == id {
			return q
		}
	}
	return nil
}

// rulesFor returns the active rules of the given type targeting a question.
func (d *Definition) rulesFor(questionID uuid.UUID, ruleType string) []*ConditionalRule {
	var out []*ConditionalRule
	for _, r := range d.Rules {
		if r.QuestionID == questionID && r.RuleType == ruleType {
			out = append(out, r)
		}
	}
	return out
}

// Visible reports whether the question should be shown given the answers so
// far. Questions with no visibility rules are always visible; with rules,
// any firing rule shows the question.
func (d *Definition) Visible(q *Question, answers map[string]interface{}) bool {
	rules := d.rulesFor(q.ID, RuleTypeVisible)
	if len(rules) == 0 {
		return true
	}
	for _, r := range rules {
		if d.evaluator.Evaluate(r.Conditions, r.Logic, answers) {
			return true
		}
	}
	return false
}

// EffectiveRequired reports whether the question must be answered given the
// answers so far: statically required, or any firing conditional_required
// rule. Hidden questions are never required.
func (d *Definition) EffectiveRequired(q *Question, answers map[string]interface{}) bool {
	if !d.Visible(q, answers) {
		return false
	}
	if q.Required {
		return true
	}
	for _, r := range d.rulesFor(q.ID, RuleTypeRequired) {
		if d.evaluator.Evaluate(r.Conditions, r.Logic, answers) {
			return true
		}
	}
	return false
}

// MissingRequired returns the keys of effectively required questions in the
// given step that have no answer yet, in question sort order.
func (d *Definition) MissingRequired(stepID uuid.UUID, answers map[string]interface{}) []string {
	var missing []string
	for _, q := range d.QuestionsForStep(stepID) {
		if !d.EffectiveRequired(q, answers) {
			continue
		}
		if _, ok := answers[q.Key]; !ok {
			missing = append(missing, q.Key)
		}
	}
	return missing
}

// MissingRequiredAll returns unanswered effectively required question keys
// across every step, in funnel order.
func (d *Definition) MissingRequiredAll(answers map[string]interface{}) []string {
	var missing []string
	for _, s := range d.Steps {
		missing = append(missing, d.MissingRequired(s.ID, answers)...)
	}
	return missing
}
