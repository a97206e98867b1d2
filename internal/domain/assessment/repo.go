package assessment

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Create inserts a new in_progress assessment. The partial unique index
	// on (patient_id, funnel_id) WHERE status = 'in_progress' rejects a
	// second open assessment with a unique violation.
	Create(ctx context.Context, a *Assessment) error
	// AbandonAndCreate atomically abandons any open assessment for the
	// patient and funnel and inserts a fresh one.
	AbandonAndCreate(ctx context.Context, a *Assessment) error
	GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error)
	GetInProgress(ctx context.Context, patientID, funnelID uuid.UUID) (*Assessment, error)
	ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error)
	// SaveAnswer upserts the answer and, when advanceTo is non-nil, moves the
	// resume position, in one transaction that locks the assessment row. A
	// save racing a completion fails with ErrAlreadyCompleted instead of
	// recording an answer after completed became visible.
	SaveAnswer(ctx context.Context, ans *Answer, advanceTo uuid.UUID) error
	// MarkCompleted flips in_progress to completed and reports whether this
	// call won the transition.
	MarkCompleted(ctx context.Context, id uuid.UUID) (bool, error)
	GetAnswers(ctx context.Context, assessmentID uuid.UUID) ([]*Answer, error)
}
