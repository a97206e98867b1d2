package processing

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

// Job maps to the processing_job table. A unique constraint on assessment_id
// guarantees at most one job per completed assessment. Execution is an
// external worker's concern; this service only creates and reads the row.
type Job struct {
	ID            uuid.UUID `db:"id" json:"id"`
	AssessmentID  uuid.UUID `db:"assessment_id" json:"assessment_id"`
	Status        string    `db:"status" json:"status"`
	Stage         string    `db:"stage" json:"stage"`
	CorrelationID uuid.UUID `db:"correlation_id" json:"correlation_id"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

const (
	StatusQueued    = "queued"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"

	// StageTriage is the first stage the external worker picks a job up in.
	StageTriage = "triage"
)

var ErrNotFound = errors.New("processing job not found")
