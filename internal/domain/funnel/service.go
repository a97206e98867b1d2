package funnel

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

type Service struct {
	repo      Repository
	evaluator *Evaluator
	logger    zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{
		repo:      repo,
		evaluator: NewEvaluator(logger),
		logger:    logger,
	}
}

var validFunnelStatuses = map[string]bool{
	StatusDraft: true, StatusActive: true, StatusRetired: true,
}

var validValueTypes = map[string]bool{
	"string": true, "number": true, "boolean": true,
}

var validRuleTypes = map[string]bool{
	RuleTypeRequired: true, RuleTypeVisible: true,
}

var validOperators = map[string]bool{
	"eq": true, "neq": true, "gt": true, "gte": true, "lt": true, "lte": true, "in": true,
}

func (s *Service) CreateFunnel(ctx context.Context, f *Funnel) error {
	if f.Slug == "" {
		return fmt.Errorf("slug is required")
	}
	if f.Title == "" {
		return fmt.Errorf("title is required")
	}
	if f.Status == "" {
		f.Status = StatusDraft
	}
	if !validFunnelStatuses[f.Status] {
		return fmt.Errorf("invalid status: %s", f.Status)
	}
	if f.Version == 0 {
		f.Version = 1
	}
	return s.repo.CreateFunnel(ctx, f)
}

func (s *Service) GetFunnel(ctx context.Context, id uuid.UUID) (*Funnel, error) {
	return s.repo.GetFunnelByID(ctx, id)
}

func (s *Service) GetFunnelBySlug(ctx context.Context, slug string) (*Funnel, error) {
	return s.repo.GetFunnelBySlug(ctx, slug)
}

// ActiveFunnelBySlug resolves the slug and enforces that only active
// funnels accept new assessments.
func (s *Service) ActiveFunnelBySlug(ctx context.Context, slug string) (*Funnel, error) {
	f, err := s.repo.GetFunnelBySlug(ctx, slug)
	if err != nil {
		return nil, err
	}
	if f.Status != StatusActive {
		return nil, ErrInactive
	}
	return f, nil
}

func (s *Service) ListFunnels(ctx context.Context, limit, offset int) ([]*Funnel, int, error) {
	return s.repo.ListFunnels(ctx, limit, offset)
}

// Activate publishes a funnel. Steps must exist and their order_index
// values must be contiguous from 1, otherwise resume-position math breaks.
func (s *Service) Activate(ctx context.Context, id uuid.UUID) error {
	steps, err := s.repo.GetSteps(ctx, id)
	if err != nil {
		return err
	}
	if len(steps) == 0 {
		return fmt.Errorf("cannot activate funnel without steps")
	}
	for i, st := range steps {
		if st.OrderIndex != i+1 {
			return fmt.Errorf("step order must be contiguous from 1, found %d at position %d", st.OrderIndex, i+1)
		}
	}
	if err := s.repo.UpdateFunnelStatus(ctx, id, StatusActive); err != nil {
		return err
	}
	s.logger.Info().Str("funnel_id", id.String()).Msg("funnel activated")
	return nil
}

func (s *Service) Retire(ctx context.Context, id uuid.UUID) error {
	return s.repo.UpdateFunnelStatus(ctx, id, StatusRetired)
}

func (s *Service) AddStep(ctx context.Context, st *Step) error {
	if st.FunnelID == uuid.Nil {
		return fmt.Errorf("funnel_id is required")
	}
	if st.OrderIndex < 1 {
		return fmt.Errorf("order_index must be >= 1")
	}
	if st.Title == "" {
		return fmt.Errorf("title is required")
	}
	return s.repo.AddStep(ctx, st)
}

// AddQuestion enforces funnel-wide key uniqueness: answers and rule
// conditions address questions by key, so a duplicate anywhere in the funnel
// would make them ambiguous.
func (s *Service) AddQuestion(ctx context.Context, q *Question) error {
	if q.StepID == uuid.Nil {
		return fmt.Errorf("step_id is required")
	}
	if q.Key == "" {
		return fmt.Errorf("key is required")
	}
	if !validValueTypes[q.ValueType] {
		return fmt.Errorf("invalid value_type: %s", q.ValueType)
	}
	st, err := s.repo.GetStep(ctx, q.StepID)
	if err != nil {
		return err
	}
	existing, err := s.repo.GetQuestions(ctx, st.FunnelID)
	if err != nil {
		return err
	}
	for _, other := range existing {
		if other.Key == q.Key {
			return fmt.Errorf("question key %q already exists in this funnel", q.Key)
		}
	}
	return s.repo.AddQuestion(ctx, q)
}

// AddRule validates rule content at write time. The evaluator tolerates
// unknown operators at read time, but there is no reason to accept them
// into the catalog.
func (s *Service) AddRule(ctx context.Context, r *ConditionalRule) error {
	if r.QuestionID == uuid.Nil || r.StepID == uuid.Nil {
		return fmt.Errorf("question_id and step_id are required")
	}
	if !validRuleTypes[r.RuleType] {
		return fmt.Errorf("invalid rule_type: %s", r.RuleType)
	}
	if r.Logic == "" {
		r.Logic = LogicAnd
	}
	if r.Logic != LogicAnd && r.Logic != LogicOr {
		return fmt.Errorf("invalid logic: %s", r.Logic)
	}
	if len(r.Conditions) == 0 {
		return fmt.Errorf("at least one condition is required")
	}
	for _, c := range r.Conditions {
		if c.QuestionKey == "" {
			return fmt.Errorf("condition question_key is required")
		}
		if !validOperators[c.Operator] {
			return fmt.Errorf("invalid operator: %s", c.Operator)
		}
		if c.Operator == "in" && len(c.Values) == 0 {
			return fmt.Errorf("operator \"in\" requires values")
		}
		if c.Operator != "in" && c.Value == nil {
			return fmt.Errorf("operator %q requires a value", c.Operator)
		}
	}
	return s.repo.AddRule(ctx, r)
}

// Definition loads the full funnel snapshot the assessment state machine
// evaluates against.
func (s *Service) Definition(ctx context.Context, funnelID uuid.UUID) (*Definition, error) {
	f, err := s.repo.GetFunnelByID(ctx, funnelID)
	if err != nil {
		return nil, err
	}
	steps, err := s.repo.GetSteps(ctx, funnelID)
	if err != nil {
		return nil, fmt.Errorf("load steps: %w", err)
	}
	questions, err := s.repo.GetQuestions(ctx, funnelID)
	if err != nil {
		return nil, fmt.Errorf("load questions: %w", err)
	}
	rules, err := s.repo.GetActiveRules(ctx, funnelID)
	if err != nil {
		return nil, fmt.Errorf("load rules: %w", err)
	}
	return &Definition{
		Funnel:    f,
		Steps:     steps,
		Questions: questions,
		Rules:     rules,
		evaluator: s.evaluator,
	}, nil
}
