package processing

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	// Insert creates a queued job. The unique constraint on assessment_id
	// rejects a second job for the same assessment with a unique violation.
	Insert(ctx context.Context, j *Job) error
	GetByAssessment(ctx context.Context, assessmentID uuid.UUID) (*Job, error)
	// CompletedWithoutJob returns ids of completed assessments that have no
	// processing job yet, oldest first.
	CompletedWithoutJob(ctx context.Context, limit int) ([]uuid.UUID, error)
}
