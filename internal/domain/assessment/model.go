package assessment

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Assessment maps to the assessment table. A partial unique index guarantees
// at most one in_progress row per (patient_id, funnel_id).
type Assessment struct {
	ID            uuid.UUID  `db:"id" json:"id"`
	PatientID     uuid.UUID  `db:"patient_id" json:"patient_id"`
	FunnelID      uuid.UUID  `db:"funnel_id" json:"funnel_id"`
	Status        string     `db:"status" json:"status"`
	CurrentStepID uuid.UUID  `db:"current_step_id" json:"current_step_id"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	CompletedAt   *time.Time `db:"completed_at" json:"completed_at,omitempty"`
}

// Answer maps to the assessment_answer table. Value is stored as JSONB; a
// unique constraint on (assessment_id, question_id) makes saves upserts.
type Answer struct {
	AssessmentID uuid.UUID   `db:"assessment_id" json:"assessment_id"`
	QuestionID   uuid.UUID   `db:"question_id" json:"question_id"`
	Value        interface{} `db:"value" json:"value"`
	UpdatedAt    time.Time   `db:"updated_at" json:"updated_at"`
}

const (
	StatusInProgress = "in_progress"
	StatusCompleted  = "completed"
	StatusAbandoned  = "abandoned"
)

var (
	ErrNotFound         = errors.New("assessment not found")
	ErrQuestionNotFound = errors.New("question not found in funnel")
	ErrForbidden        = errors.New("assessment belongs to another patient")
	ErrAlreadyCompleted = errors.New("assessment is already completed")
	ErrStepOrder        = errors.New("step order violation")
)

// MissingAnswersError reports the required question keys still unanswered
// when completion is attempted.
type MissingAnswersError struct {
	Missing []string
}

func (e *MissingAnswersError) Error() string {
	return fmt.Sprintf("required questions unanswered: %s", strings.Join(e.Missing, ", "))
}

// StepProgress is the per-step slice of a progress view.
type StepProgress struct {
	StepID          uuid.UUID `json:"step_id"`
	OrderIndex      int       `json:"order_index"`
	Title           string    `json:"title"`
	Current         bool      `json:"current"`
	VisibleCount    int       `json:"visible_count"`
	AnsweredCount   int       `json:"answered_count"`
	MissingRequired []string  `json:"missing_required"`
}

// Progress summarizes how far a patient is through a funnel.
type Progress struct {
	AssessmentID    uuid.UUID      `json:"assessment_id"`
	Status          string         `json:"status"`
	CurrentStepID   uuid.UUID      `json:"current_step_id"`
	Steps           []StepProgress `json:"steps"`
	PercentDone     int            `json:"percent_done"`
	ReadyToComplete bool           `json:"ready_to_complete"`
}
