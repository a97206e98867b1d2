package assessment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"github.com/intake/intake/internal/domain/funnel"
)

type mockRepo struct {
	assessments map[uuid.UUID]*Assessment
	answers     map[uuid.UUID]map[uuid.UUID]*Answer
	// stepOrder mirrors funnel_step.order_index so SaveAnswer can apply the
	// same monotonic advance guard as the SQL implementation.
	stepOrder map[uuid.UUID]int
}

func newMockRepo() *mockRepo {
	return &mockRepo{
		assessments: make(map[uuid.UUID]*Assessment),
		answers:     make(map[uuid.UUID]map[uuid.UUID]*Answer),
		stepOrder:   make(map[uuid.UUID]int),
	}
}

func (m *mockRepo) openFor(patientID, funnelID uuid.UUID) *Assessment {
	for _, a := range m.assessments {
		if a.PatientID == patientID && a.FunnelID == funnelID && a.Status == StatusInProgress {
			return a
		}
	}
	return nil
}

func (m *mockRepo) Create(ctx context.Context, a *Assessment) error {
	if m.openFor(a.PatientID, a.FunnelID) != nil {
		return &pgconn.PgError{Code: "23505", ConstraintName: "assessment_open_uniq"}
	}
	a.ID = uuid.New()
	a.Status = StatusInProgress
	m.assessments[a.ID] = a
	return nil
}

func (m *mockRepo) AbandonAndCreate(ctx context.Context, a *Assessment) error {
	if open := m.openFor(a.PatientID, a.FunnelID); open != nil {
		open.Status = StatusAbandoned
	}
	return m.Create(ctx, a)
}

func (m *mockRepo) GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	a, ok := m.assessments[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *mockRepo) GetInProgress(ctx context.Context, patientID, funnelID uuid.UUID) (*Assessment, error) {
	if a := m.openFor(patientID, funnelID); a != nil {
		cp := *a
		return &cp, nil
	}
	return nil, ErrNotFound
}

func (m *mockRepo) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	var items []*Assessment
	for _, a := range m.assessments {
		if a.PatientID == patientID {
			cp := *a
			items = append(items, &cp)
		}
	}
	return items, len(items), nil
}

func (m *mockRepo) MarkCompleted(ctx context.Context, id uuid.UUID) (bool, error) {
	a, ok := m.assessments[id]
	if !ok || a.Status != StatusInProgress {
		return false, nil
	}
	a.Status = StatusCompleted
	return true, nil
}

func (m *mockRepo) SaveAnswer(ctx context.Context, ans *Answer, advanceTo uuid.UUID) error {
	a, ok := m.assessments[ans.AssessmentID]
	if !ok {
		return ErrNotFound
	}
	switch a.Status {
	case StatusInProgress:
	case StatusCompleted:
		return ErrAlreadyCompleted
	default:
		return ErrNotFound
	}
	byQuestion, ok := m.answers[ans.AssessmentID]
	if !ok {
		byQuestion = make(map[uuid.UUID]*Answer)
		m.answers[ans.AssessmentID] = byQuestion
	}
	byQuestion[ans.QuestionID] = ans
	if advanceTo != uuid.Nil && m.stepOrder[advanceTo] > m.stepOrder[a.CurrentStepID] {
		a.CurrentStepID = advanceTo
	}
	return nil
}

func (m *mockRepo) GetAnswers(ctx context.Context, assessmentID uuid.UUID) ([]*Answer, error) {
	var items []*Answer
	for _, a := range m.answers[assessmentID] {
		items = append(items, a)
	}
	return items, nil
}

type mockCatalog struct {
	funnels map[string]*funnel.Funnel
	defs    map[uuid.UUID]*funnel.Definition
}

func (m *mockCatalog) ActiveFunnelBySlug(ctx context.Context, slug string) (*funnel.Funnel, error) {
	f, ok := m.funnels[slug]
	if !ok {
		return nil, funnel.ErrNotFound
	}
	if f.Status != funnel.StatusActive {
		return nil, funnel.ErrInactive
	}
	return f, nil
}

func (m *mockCatalog) Definition(ctx context.Context, funnelID uuid.UUID) (*funnel.Definition, error) {
	d, ok := m.defs[funnelID]
	if !ok {
		return nil, funnel.ErrNotFound
	}
	return d, nil
}

type mockJobs struct {
	created map[uuid.UUID]int
	ids     map[uuid.UUID]uuid.UUID
	err     error
}

func (m *mockJobs) EnsureJob(ctx context.Context, assessmentID uuid.UUID) error {
	if m.err != nil {
		return m.err
	}
	if m.created == nil {
		m.created = make(map[uuid.UUID]int)
		m.ids = make(map[uuid.UUID]uuid.UUID)
	}
	m.created[assessmentID]++
	if _, ok := m.ids[assessmentID]; !ok {
		m.ids[assessmentID] = uuid.New()
	}
	return nil
}

func (m *mockJobs) JobID(ctx context.Context, assessmentID uuid.UUID) (uuid.UUID, error) {
	return m.ids[assessmentID], nil
}

// fixture describes the funnel used across the state machine tests:
//
//	step 1: smoker (boolean, required), pack_years (number, required when smoker=true)
//	step 2: goal (string, required)
type fixture struct {
	svc       *Service
	repo      *mockRepo
	jobs      *mockJobs
	funnel    *funnel.Funnel
	step1     *funnel.Step
	step2     *funnel.Step
	smoker    *funnel.Question
	packYears *funnel.Question
	goal      *funnel.Question
	patientID uuid.UUID
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &funnel.Funnel{ID: uuid.New(), Slug: "resp", Title: "Respiratory", Status: funnel.StatusActive, Version: 1}
	s1 := &funnel.Step{ID: uuid.New(), FunnelID: f.ID, OrderIndex: 1, Title: "History", HasQuestions: true}
	s2 := &funnel.Step{ID: uuid.New(), FunnelID: f.ID, OrderIndex: 2, Title: "Goals", HasQuestions: true}
	smoker := &funnel.Question{ID: uuid.New(), StepID: s1.ID, Key: "smoker", ValueType: "boolean", Required: true, SortOrder: 1}
	packYears := &funnel.Question{ID: uuid.New(), StepID: s1.ID, Key: "pack_years", ValueType: "number", SortOrder: 2}
	goal := &funnel.Question{ID: uuid.New(), StepID: s2.ID, Key: "goal", ValueType: "string", Required: true, SortOrder: 1}

	rules := []*funnel.ConditionalRule{{
		ID: uuid.New(), QuestionID: packYears.ID, StepID: s1.ID,
		RuleType: funnel.RuleTypeRequired, Logic: funnel.LogicAnd, Active: true,
		Conditions: []funnel.Condition{{QuestionKey: "smoker", Operator: "eq", Value: true}},
	}}

	def := funnel.NewDefinition(f,
		[]*funnel.Step{s1, s2},
		[]*funnel.Question{smoker, packYears, goal},
		rules, zerolog.Nop())

	catalog := &mockCatalog{
		funnels: map[string]*funnel.Funnel{f.Slug: f},
		defs:    map[uuid.UUID]*funnel.Definition{f.ID: def},
	}
	repo := newMockRepo()
	repo.stepOrder[s1.ID] = s1.OrderIndex
	repo.stepOrder[s2.ID] = s2.OrderIndex
	jobs := &mockJobs{}

	return &fixture{
		svc:       NewService(repo, catalog, jobs, zerolog.Nop()),
		repo:      repo,
		jobs:      jobs,
		funnel:    f,
		step1:     s1,
		step2:     s2,
		smoker:    smoker,
		packYears: packYears,
		goal:      goal,
		patientID: uuid.New(),
	}
}

func TestStartOrResume_New(t *testing.T) {
	fx := newFixture(t)
	a, resumed, err := fx.svc.StartOrResume(context.Background(), fx.patientID, "resp", false)
	if err != nil {
		t.Fatalf("StartOrResume: %v", err)
	}
	if resumed {
		t.Error("first start must not be a resume")
	}
	if a.Status != StatusInProgress {
		t.Errorf("expected in_progress, got %s", a.Status)
	}
	if a.CurrentStepID != fx.step1.ID {
		t.Error("new assessment must start at the first step")
	}
}

func TestStartOrResume_Idempotent(t *testing.T) {
	fx := newFixture(t)
	first, _, err := fx.svc.StartOrResume(context.Background(), fx.patientID, "resp", false)
	if err != nil {
		t.Fatalf("first start: %v", err)
	}
	second, resumed, err := fx.svc.StartOrResume(context.Background(), fx.patientID, "resp", false)
	if err != nil {
		t.Fatalf("second start: %v", err)
	}
	if !resumed {
		t.Error("second start must resume")
	}
	if second.ID != first.ID {
		t.Error("resume must return the same assessment")
	}
	if len(fx.repo.assessments) != 1 {
		t.Errorf("expected exactly one assessment, got %d", len(fx.repo.assessments))
	}
}

func TestStartOrResume_ForceNew(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	first, _, _ := fx.svc.StartOrResume(ctx, fx.patientID, "resp", false)

	fresh, resumed, err := fx.svc.StartOrResume(ctx, fx.patientID, "resp", true)
	if err != nil {
		t.Fatalf("force new: %v", err)
	}
	if resumed {
		t.Error("force new must not resume")
	}
	if fresh.ID == first.ID {
		t.Error("force new must create a different assessment")
	}
	if fx.repo.assessments[first.ID].Status != StatusAbandoned {
		t.Error("previous assessment must be abandoned")
	}
}

func TestStartOrResume_InactiveFunnel(t *testing.T) {
	fx := newFixture(t)
	fx.funnel.Status = funnel.StatusRetired
	if _, _, err := fx.svc.StartOrResume(context.Background(), fx.patientID, "resp", false); !errors.Is(err, funnel.ErrInactive) {
		t.Errorf("expected ErrInactive, got %v", err)
	}
}

func TestStartOrResume_UnknownSlug(t *testing.T) {
	fx := newFixture(t)
	if _, _, err := fx.svc.StartOrResume(context.Background(), fx.patientID, "nope", false); !errors.Is(err, funnel.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}

func TestSaveAnswer_Ownership(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, _, _ := fx.svc.StartOrResume(ctx, fx.patientID, "resp", false)

	other := uuid.New()
	if _, err := fx.svc.SaveAnswer(ctx, other, a.ID, fx.smoker.ID, true); !errors.Is(err, ErrForbidden) {
		t.Errorf("expected ErrForbidden, got %v", err)
	}
}

func TestSaveAnswer_CompletedAssessment(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, _, _ := fx.svc.StartOrResume(ctx, fx.patientID, "resp", false)
	fx.repo.assessments[a.ID].Status = StatusCompleted

	if _, err := fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.smoker.ID, true); !errors.Is(err, ErrAlreadyCompleted) {
		t.Errorf("expected ErrAlreadyCompleted, got %v", err)
	}
}

func TestSaveAnswer_UnknownQuestion(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, _, _ := fx.svc.StartOrResume(ctx, fx.patientID, "resp", false)

	_, err := fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, uuid.New(), true)
	if !errors.Is(err, ErrQuestionNotFound) {
		t.Errorf("expected ErrQuestionNotFound for question outside the funnel, got %v", err)
	}
}

func TestSaveAnswer_ValueTypeMismatch(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, _, _ := fx.svc.StartOrResume(ctx, fx.patientID, "resp", false)

	if _, err := fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.smoker.ID, "yes"); err == nil {
		t.Error("expected error for string answer to boolean question")
	}
	if _, err := fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.packYears.ID, true); err == nil {
		t.Error("expected error for boolean answer to number question")
	}
	if _, err := fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.goal.ID, float64(3)); err == nil {
		t.Error("expected error for numeric answer to string question")
	}
}

func TestSaveAnswer_BlocksStepSkip(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, _, _ := fx.svc.StartOrResume(ctx, fx.patientID, "resp", false)

	// smoker is required in step 1 and unanswered; jumping to step 2 must fail.
	if _, err := fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.goal.ID, "quit smoking"); !errors.Is(err, ErrStepOrder) {
		t.Errorf("expected ErrStepOrder, got %v", err)
	}
}

func TestSaveAnswer_ConditionalRequiredBlocksSkip(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, _, _ := fx.svc.StartOrResume(ctx, fx.patientID, "resp", false)

	// smoker=true makes pack_years required; step 2 stays blocked until it
	// is answered.
	if _, err := fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.smoker.ID, true); err != nil {
		t.Fatalf("save smoker: %v", err)
	}
	if _, err := fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.goal.ID, "quit"); !errors.Is(err, ErrStepOrder) {
		t.Errorf("expected ErrStepOrder while pack_years unanswered, got %v", err)
	}
	if _, err := fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.packYears.ID, float64(12)); err != nil {
		t.Fatalf("save pack_years: %v", err)
	}
	got, err := fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.goal.ID, "quit")
	if err != nil {
		t.Fatalf("save goal after step 1 resolved: %v", err)
	}
	if got.CurrentStepID != fx.step2.ID {
		t.Error("answering into step 2 must advance the resume position")
	}
}

func TestSaveAnswer_AdvancesWhenConditionalNotRequired(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, _, _ := fx.svc.StartOrResume(ctx, fx.patientID, "resp", false)

	// smoker=false leaves pack_years optional, so step 2 opens immediately.
	if _, err := fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.smoker.ID, false); err != nil {
		t.Fatalf("save smoker: %v", err)
	}
	got, err := fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.goal.ID, "stay fit")
	if err != nil {
		t.Fatalf("save goal: %v", err)
	}
	if got.CurrentStepID != fx.step2.ID {
		t.Error("resume position must advance to step 2")
	}
}

func TestSaveAnswer_BackNavigationKeepsPosition(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, _, _ := fx.svc.StartOrResume(ctx, fx.patientID, "resp", false)

	fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.smoker.ID, false)
	fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.goal.ID, "stay fit")

	// Revising a step 1 answer must not move the resume position back.
	got, err := fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.smoker.ID, true)
	if err != nil {
		t.Fatalf("revise smoker: %v", err)
	}
	if got.CurrentStepID != fx.step2.ID {
		t.Error("back navigation must not regress the current step")
	}
}

// staleSnapshotRepo serves reads from a snapshot frozen at wrap time while
// writes go to the live store, so every caller computes its step advance from
// the same pre-write view of the assessment.
type staleSnapshotRepo struct {
	*mockRepo
	snapshots map[uuid.UUID]Assessment
}

func freezeSnapshots(m *mockRepo) *staleSnapshotRepo {
	s := &staleSnapshotRepo{mockRepo: m, snapshots: make(map[uuid.UUID]Assessment)}
	for id, a := range m.assessments {
		s.snapshots[id] = *a
	}
	return s
}

func (s *staleSnapshotRepo) GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	if a, ok := s.snapshots[id]; ok {
		cp := a
		return &cp, nil
	}
	return s.mockRepo.GetByID(ctx, id)
}

func TestSaveAnswer_ConcurrentSavesKeepFurthestStep(t *testing.T) {
	ctx := context.Background()

	// Three steps with no required questions so a save can land in any of
	// them straight from step 1.
	f := &funnel.Funnel{ID: uuid.New(), Slug: "survey", Title: "Survey", Status: funnel.StatusActive, Version: 1}
	s1 := &funnel.Step{ID: uuid.New(), FunnelID: f.ID, OrderIndex: 1, Title: "One", HasQuestions: true}
	s2 := &funnel.Step{ID: uuid.New(), FunnelID: f.ID, OrderIndex: 2, Title: "Two", HasQuestions: true}
	s3 := &funnel.Step{ID: uuid.New(), FunnelID: f.ID, OrderIndex: 3, Title: "Three", HasQuestions: true}
	q1 := &funnel.Question{ID: uuid.New(), StepID: s1.ID, Key: "a", ValueType: "string", SortOrder: 1}
	q2 := &funnel.Question{ID: uuid.New(), StepID: s2.ID, Key: "b", ValueType: "string", SortOrder: 1}
	q3 := &funnel.Question{ID: uuid.New(), StepID: s3.ID, Key: "c", ValueType: "string", SortOrder: 1}
	def := funnel.NewDefinition(f,
		[]*funnel.Step{s1, s2, s3},
		[]*funnel.Question{q1, q2, q3},
		nil, zerolog.Nop())
	catalog := &mockCatalog{
		funnels: map[string]*funnel.Funnel{f.Slug: f},
		defs:    map[uuid.UUID]*funnel.Definition{f.ID: def},
	}

	repo := newMockRepo()
	repo.stepOrder[s1.ID] = s1.OrderIndex
	repo.stepOrder[s2.ID] = s2.OrderIndex
	repo.stepOrder[s3.ID] = s3.OrderIndex
	patientID := uuid.New()

	svc := NewService(repo, catalog, &mockJobs{}, zerolog.Nop())
	a, _, err := svc.StartOrResume(ctx, patientID, "survey", false)
	if err != nil {
		t.Fatalf("StartOrResume: %v", err)
	}

	// Both saves below read the assessment as it stood at step 1, the way two
	// in-flight requests would before either commit lands.
	stale := NewService(freezeSnapshots(repo), catalog, &mockJobs{}, zerolog.Nop())

	if _, err := stale.SaveAnswer(ctx, patientID, a.ID, q3.ID, "far"); err != nil {
		t.Fatalf("save into step 3: %v", err)
	}
	if got := repo.assessments[a.ID].CurrentStepID; got != s3.ID {
		t.Fatalf("expected resume position at step 3, got step order %d", repo.stepOrder[got])
	}

	if _, err := stale.SaveAnswer(ctx, patientID, a.ID, q2.ID, "near"); err != nil {
		t.Fatalf("save into step 2: %v", err)
	}
	if got := repo.assessments[a.ID].CurrentStepID; got != s3.ID {
		t.Errorf("slower save into step 2 must not regress the resume position, got step order %d", repo.stepOrder[got])
	}
}

func TestSaveAnswer_UpsertIsIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, _, _ := fx.svc.StartOrResume(ctx, fx.patientID, "resp", false)

	for i := 0; i < 3; i++ {
		if _, err := fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.smoker.ID, false); err != nil {
			t.Fatalf("save %d: %v", i, err)
		}
	}
	if n := len(fx.repo.answers[a.ID]); n != 1 {
		t.Errorf("expected one stored answer, got %d", n)
	}
}

func TestComplete_MissingRequired(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, _, _ := fx.svc.StartOrResume(ctx, fx.patientID, "resp", false)
	fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.smoker.ID, true)

	_, err := fx.svc.Complete(ctx, fx.patientID, a.ID)
	var missing *MissingAnswersError
	if !errors.As(err, &missing) {
		t.Fatalf("expected MissingAnswersError, got %v", err)
	}
	if len(missing.Missing) != 2 {
		t.Fatalf("expected 2 missing keys, got %v", missing.Missing)
	}
	if missing.Missing[0] != "pack_years" || missing.Missing[1] != "goal" {
		t.Errorf("expected [pack_years goal] in funnel order, got %v", missing.Missing)
	}
	if len(fx.jobs.created) != 0 {
		t.Error("no job may be created for a failed completion")
	}
}

func TestComplete_Success(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, _, _ := fx.svc.StartOrResume(ctx, fx.patientID, "resp", false)
	fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.smoker.ID, false)
	fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.goal.ID, "stay fit")

	done, err := fx.svc.Complete(ctx, fx.patientID, a.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", done.Status)
	}
	if fx.jobs.created[a.ID] != 1 {
		t.Errorf("expected exactly one job, got %d", fx.jobs.created[a.ID])
	}
}

func TestComplete_IsIdempotent(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, _, _ := fx.svc.StartOrResume(ctx, fx.patientID, "resp", false)
	fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.smoker.ID, false)
	fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.goal.ID, "stay fit")

	if _, err := fx.svc.Complete(ctx, fx.patientID, a.ID); err != nil {
		t.Fatalf("first complete: %v", err)
	}
	again, err := fx.svc.Complete(ctx, fx.patientID, a.ID)
	if err != nil {
		t.Fatalf("second complete: %v", err)
	}
	if again.Status != StatusCompleted {
		t.Errorf("expected completed, got %s", again.Status)
	}
	if fx.jobs.created[a.ID] != 1 {
		t.Errorf("repeat completion must not enqueue another job, got %d", fx.jobs.created[a.ID])
	}
}

func TestComplete_JobFailureDoesNotUndoCompletion(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	fx.jobs.err = errors.New("queue unavailable")

	a, _, _ := fx.svc.StartOrResume(ctx, fx.patientID, "resp", false)
	fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.smoker.ID, false)
	fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.goal.ID, "stay fit")

	done, err := fx.svc.Complete(ctx, fx.patientID, a.ID)
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if done.Status != StatusCompleted {
		t.Errorf("completion must survive a job enqueue failure, got %s", done.Status)
	}
}

func TestProgress(t *testing.T) {
	fx := newFixture(t)
	ctx := context.Background()
	a, _, _ := fx.svc.StartOrResume(ctx, fx.patientID, "resp", false)
	fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.smoker.ID, true)

	p, err := fx.svc.Progress(ctx, fx.patientID, a.ID)
	if err != nil {
		t.Fatalf("Progress: %v", err)
	}
	if len(p.Steps) != 2 {
		t.Fatalf("expected 2 steps, got %d", len(p.Steps))
	}
	s1 := p.Steps[0]
	if !s1.Current {
		t.Error("step 1 must be current")
	}
	if s1.VisibleCount != 2 || s1.AnsweredCount != 1 {
		t.Errorf("step 1: expected 2 visible / 1 answered, got %d / %d", s1.VisibleCount, s1.AnsweredCount)
	}
	if len(s1.MissingRequired) != 1 || s1.MissingRequired[0] != "pack_years" {
		t.Errorf("step 1: expected [pack_years] missing, got %v", s1.MissingRequired)
	}
	if p.ReadyToComplete {
		t.Error("must not be ready to complete with required questions open")
	}
	if p.PercentDone != 33 {
		t.Errorf("expected 33 percent (1 of 3 visible), got %d", p.PercentDone)
	}

	fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.packYears.ID, float64(10))
	fx.svc.SaveAnswer(ctx, fx.patientID, a.ID, fx.goal.ID, "quit")

	p, err = fx.svc.Progress(ctx, fx.patientID, a.ID)
	if err != nil {
		t.Fatalf("Progress after answers: %v", err)
	}
	if !p.ReadyToComplete {
		t.Error("expected ready to complete")
	}
	if p.PercentDone != 100 {
		t.Errorf("expected 100 percent, got %d", p.PercentDone)
	}
}
