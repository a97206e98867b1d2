package processing

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/intake/intake/internal/platform/db"
)

type queryable interface {
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...interface{}) (pgconn.CommandTag, error)
}

type repoPG struct{ pool *pgxpool.Pool }

func NewRepoPG(pool *pgxpool.Pool) Repository {
	return &repoPG{pool: pool}
}

func (r *repoPG) conn(ctx context.Context) queryable {
	if tx := db.TxFromContext(ctx); tx != nil {
		return tx
	}
	return r.pool
}

const jobCols = `id, assessment_id, status, stage, correlation_id, created_at, updated_at`

func (r *repoPG) Insert(ctx context.Context, j *Job) error {
	j.ID = uuid.New()
	j.Status = StatusQueued
	if j.Stage == "" {
		j.Stage = StageTriage
	}
	if j.CorrelationID == uuid.Nil {
		j.CorrelationID = uuid.New()
	}
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO processing_job (id, assessment_id, status, stage, correlation_id)
		VALUES ($1,$2,$3,$4,$5)`,
		j.ID, j.AssessmentID, j.Status, j.Stage, j.CorrelationID)
	return err
}

func (r *repoPG) GetByAssessment(ctx context.Context, assessmentID uuid.UUID) (*Job, error) {
	var j Job
	err := r.conn(ctx).QueryRow(ctx,
		`SELECT `+jobCols+` FROM processing_job WHERE assessment_id = $1`, assessmentID).
		Scan(&j.ID, &j.AssessmentID, &j.Status, &j.Stage, &j.CorrelationID, &j.CreatedAt, &j.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return &j, err
}

func (r *repoPG) CompletedWithoutJob(ctx context.Context, limit int) ([]uuid.UUID, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT a.id
		FROM assessment a
		LEFT JOIN processing_job j ON j.assessment_id = a.id
		WHERE a.status = 'completed' AND j.id IS NULL
		ORDER BY a.completed_at
		LIMIT $1`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
