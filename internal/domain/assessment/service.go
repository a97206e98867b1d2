package assessment

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intake/intake/internal/domain/funnel"
	"github.com/intake/intake/internal/platform/db"
)

// Catalog is the slice of the funnel service the state machine needs.
type Catalog interface {
	ActiveFunnelBySlug(ctx context.Context, slug string) (*funnel.Funnel, error)
	Definition(ctx context.Context, funnelID uuid.UUID) (*funnel.Definition, error)
}

// JobCreator enqueues downstream processing exactly once per assessment and
// exposes the resulting job reference for completion responses.
type JobCreator interface {
	EnsureJob(ctx context.Context, assessmentID uuid.UUID) error
	// JobID returns uuid.Nil without error when no job exists yet.
	JobID(ctx context.Context, assessmentID uuid.UUID) (uuid.UUID, error)
}

type Service struct {
	repo    Repository
	catalog Catalog
	jobs    JobCreator
	logger  zerolog.Logger
}

func NewService(repo Repository, catalog Catalog, jobs JobCreator, logger zerolog.Logger) *Service {
	return &Service{repo: repo, catalog: catalog, jobs: jobs, logger: logger}
}

// StartOrResume opens an assessment for the patient on the funnel with the
// given slug. If one is already in progress it is returned unchanged, so the
// call is safe to repeat. With forceNew the open assessment is abandoned and
// a fresh one created in a single transaction. The bool result reports
// whether an existing assessment was resumed.
func (s *Service) StartOrResume(ctx context.Context, patientID uuid.UUID, slug string, forceNew bool) (*Assessment, bool, error) {
	f, err := s.catalog.ActiveFunnelBySlug(ctx, slug)
	if err != nil {
		return nil, false, err
	}
	def, err := s.catalog.Definition(ctx, f.ID)
	if err != nil {
		return nil, false, err
	}
	first := def.FirstStep()
	if first == nil {
		return nil, false, fmt.Errorf("funnel %s has no steps", slug)
	}

	fresh := &Assessment{PatientID: patientID, FunnelID: f.ID, CurrentStepID: first.ID}

	if forceNew {
		if err := s.repo.AbandonAndCreate(ctx, fresh); err != nil {
			return nil, false, err
		}
		s.logger.Info().
			Str("assessment_id", fresh.ID.String()).
			Str("funnel", slug).
			Msg("assessment restarted")
		return fresh, false, nil
	}

	// Two concurrent starts race on the partial unique index; the loser
	// fetches the winner's row instead of failing.
	a, inserted, err := db.InsertOrFetch(ctx,
		func(ctx context.Context) (*Assessment, error) {
			if err := s.repo.Create(ctx, fresh); err != nil {
				return nil, err
			}
			return fresh, nil
		},
		func(ctx context.Context) (*Assessment, error) {
			return s.repo.GetInProgress(ctx, patientID, f.ID)
		},
	)
	if err != nil {
		return nil, false, err
	}
	if inserted {
		s.logger.Info().
			Str("assessment_id", a.ID.String()).
			Str("funnel", slug).
			Msg("assessment started")
	}
	return a, !inserted, nil
}

// Get returns the assessment after checking ownership.
func (s *Service) Get(ctx context.Context, patientID, id uuid.UUID) (*Assessment, error) {
	a, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.PatientID != patientID {
		return nil, ErrForbidden
	}
	return a, nil
}

func (s *Service) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	return s.repo.ListByPatient(ctx, patientID, limit, offset)
}

// answerMap converts stored answers into the key-value form the rule engine
// evaluates against. Answers to questions no longer in the definition are
// ignored.
func answerMap(def *funnel.Definition, answers []*Answer) map[string]interface{} {
	m := make(map[string]interface{}, len(answers))
	for _, a := range answers {
		if q := def.QuestionByID(a.QuestionID); q != nil {
			m[q.Key] = a.Value
		}
	}
	return m
}

func validateValueType(valueType string, value interface{}) error {
	switch valueType {
	case "string":
		if _, ok := value.(string); !ok {
			return fmt.Errorf("value must be a string")
		}
	case "number":
		switch value.(type) {
		case float64, float32, int, int32, int64:
		default:
			return fmt.Errorf("value must be a number")
		}
	case "boolean":
		if _, ok := value.(bool); !ok {
			return fmt.Errorf("value must be a boolean")
		}
	}
	return nil
}

// SaveAnswer persists one answer. Repeating the call with the same value is
// a no-op upsert. Answering backwards is always allowed; answering a step
// ahead of the current one requires every step in between to have its
// effectively required questions resolved, and advances the resume position.
func (s *Service) SaveAnswer(ctx context.Context, patientID, assessmentID, questionID uuid.UUID, value interface{}) (*Assessment, error) {
	a, err := s.Get(ctx, patientID, assessmentID)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusCompleted {
		return nil, ErrAlreadyCompleted
	}
	if a.Status != StatusInProgress {
		return nil, ErrNotFound
	}

	def, err := s.catalog.Definition(ctx, a.FunnelID)
	if err != nil {
		return nil, err
	}
	q := def.QuestionByID(questionID)
	if q == nil {
		return nil, fmt.Errorf("question %s: %w", questionID, ErrQuestionNotFound)
	}
	target := def.StepByID(q.StepID)
	current := def.StepByID(a.CurrentStepID)
	if target == nil || current == nil {
		return nil, fmt.Errorf("assessment step state is inconsistent with the funnel")
	}
	if value == nil {
		return nil, fmt.Errorf("value is required")
	}
	if err := validateValueType(q.ValueType, value); err != nil {
		return nil, err
	}

	stored, err := s.repo.GetAnswers(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	answers := answerMap(def, stored)

	if target.OrderIndex > current.OrderIndex {
		// Walk the steps between the resume position and the target; any
		// unresolved required question blocks the jump.
		for st := current; st != nil && st.OrderIndex < target.OrderIndex; st = def.NextStep(st) {
			if missing := def.MissingRequired(st.ID, answers); len(missing) > 0 {
				s.logger.Debug().
					Str("assessment_id", assessmentID.String()).
					Str("step_id", st.ID.String()).
					Strs("missing", missing).
					Msg("step jump blocked by unanswered required questions")
				return nil, ErrStepOrder
			}
		}
	}

	advanceTo := uuid.Nil
	if target.OrderIndex > current.OrderIndex {
		advanceTo = target.ID
	}
	if err := s.repo.SaveAnswer(ctx, &Answer{
		AssessmentID: assessmentID,
		QuestionID:   questionID,
		Value:        value,
	}, advanceTo); err != nil {
		return nil, err
	}
	if advanceTo != uuid.Nil {
		a.CurrentStepID = advanceTo
	}
	return a, nil
}

// Complete closes the assessment. Completing an already completed assessment
// returns it unchanged. All effectively required questions across the funnel
// must be answered, otherwise a MissingAnswersError lists the gaps. The
// losing side of a concurrent completion race observes the winner's result.
func (s *Service) Complete(ctx context.Context, patientID, assessmentID uuid.UUID) (*Assessment, error) {
	a, err := s.Get(ctx, patientID, assessmentID)
	if err != nil {
		return nil, err
	}
	if a.Status == StatusCompleted {
		return a, nil
	}
	if a.Status != StatusInProgress {
		return nil, ErrNotFound
	}

	def, err := s.catalog.Definition(ctx, a.FunnelID)
	if err != nil {
		return nil, err
	}
	stored, err := s.repo.GetAnswers(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if missing := def.MissingRequiredAll(answerMap(def, stored)); len(missing) > 0 {
		return nil, &MissingAnswersError{Missing: missing}
	}

	won, err := s.repo.MarkCompleted(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	if !won {
		// Lost the race: the other caller completed it first.
		return s.Get(ctx, patientID, assessmentID)
	}

	s.logger.Info().
		Str("assessment_id", assessmentID.String()).
		Str("patient_id", patientID.String()).
		Msg("assessment completed")

	// Job creation failing must not undo the completion; the orphan sweep
	// picks these up later.
	if err := s.jobs.EnsureJob(ctx, assessmentID); err != nil {
		s.logger.Error().Err(err).
			Str("assessment_id", assessmentID.String()).
			Msg("failed to enqueue processing job")
	}

	return s.Get(ctx, patientID, assessmentID)
}

// Progress builds the per-step view a client renders: counts of visible and
// answered questions, unresolved required keys, and overall readiness.
func (s *Service) Progress(ctx context.Context, patientID, assessmentID uuid.UUID) (*Progress, error) {
	a, err := s.Get(ctx, patientID, assessmentID)
	if err != nil {
		return nil, err
	}
	def, err := s.catalog.Definition(ctx, a.FunnelID)
	if err != nil {
		return nil, err
	}
	stored, err := s.repo.GetAnswers(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	answers := answerMap(def, stored)

	p := &Progress{
		AssessmentID:  a.ID,
		Status:        a.Status,
		CurrentStepID: a.CurrentStepID,
	}
	visibleTotal, answeredTotal := 0, 0
	for _, st := range def.Steps {
		sp := StepProgress{
			StepID:          st.ID,
			OrderIndex:      st.OrderIndex,
			Title:           st.Title,
			Current:         st.ID == a.CurrentStepID,
			MissingRequired: def.MissingRequired(st.ID, answers),
		}
		for _, q := range def.QuestionsForStep(st.ID) {
			if !def.Visible(q, answers) {
				continue
			}
			sp.VisibleCount++
			if _, ok := answers[q.Key]; ok {
				sp.AnsweredCount++
			}
		}
		visibleTotal += sp.VisibleCount
		answeredTotal += sp.AnsweredCount
		p.Steps = append(p.Steps, sp)
	}
	if visibleTotal > 0 {
		p.PercentDone = answeredTotal * 100 / visibleTotal
	}
	p.ReadyToComplete = a.Status == StatusInProgress && len(def.MissingRequiredAll(answers)) == 0
	return p, nil
}

// ProcessingJobID returns the downstream job reference for an assessment,
// uuid.Nil when none exists yet (the enqueue failed and the orphan sweep has
// not caught up).
func (s *Service) ProcessingJobID(ctx context.Context, assessmentID uuid.UUID) (uuid.UUID, error) {
	return s.jobs.JobID(ctx, assessmentID)
}

// AnswersFor returns the stored answers keyed by question key, for the
// assessment detail view.
func (s *Service) AnswersFor(ctx context.Context, patientID, assessmentID uuid.UUID) (map[string]interface{}, error) {
	a, err := s.Get(ctx, patientID, assessmentID)
	if err != nil {
		return nil, err
	}
	def, err := s.catalog.Definition(ctx, a.FunnelID)
	if err != nil {
		return nil, err
	}
	stored, err := s.repo.GetAnswers(ctx, assessmentID)
	if err != nil {
		return nil, err
	}
	return answerMap(def, stored), nil
}
