package assessment

import (
	"context"
	"encoding/json"
	"fmt"

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

const assessmentCols = `id, patient_id, funnel_id, status, current_step_id, created_at, updated_at, completed_at`

func (r *repoPG) scanAssessment(row pgx.Row) (*Assessment, error) {
	var a Assessment
	err := row.Scan(&a.ID, &a.PatientID, &a.FunnelID, &a.Status, &a.CurrentStepID,
		&a.CreatedAt, &a.UpdatedAt, &a.CompletedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return &a, err
}

func (r *repoPG) Create(ctx context.Context, a *Assessment) error {
	a.ID = uuid.New()
	a.Status = StatusInProgress
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO assessment (id, patient_id, funnel_id, status, current_step_id)
		VALUES ($1,$2,$3,$4,$5)`,
		a.ID, a.PatientID, a.FunnelID, a.Status, a.CurrentStepID)
	return err
}

func (r *repoPG) AbandonAndCreate(ctx context.Context, a *Assessment) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		_, err := r.conn(ctx).Exec(ctx, `
			UPDATE assessment SET status = $3, updated_at = NOW()
			WHERE patient_id = $1 AND funnel_id = $2 AND status = $4`,
			a.PatientID, a.FunnelID, StatusAbandoned, StatusInProgress)
		if err != nil {
			return fmt.Errorf("abandon open assessment: %w", err)
		}
		return r.Create(ctx, a)
	})
}

func (r *repoPG) GetByID(ctx context.Context, id uuid.UUID) (*Assessment, error) {
	return r.scanAssessment(r.conn(ctx).QueryRow(ctx,
		`SELECT `+assessmentCols+` FROM assessment WHERE id = $1`, id))
}

func (r *repoPG) GetInProgress(ctx context.Context, patientID, funnelID uuid.UUID) (*Assessment, error) {
	return r.scanAssessment(r.conn(ctx).QueryRow(ctx, `
		SELECT `+assessmentCols+` FROM assessment
		WHERE patient_id = $1 AND funnel_id = $2 AND status = $3`,
		patientID, funnelID, StatusInProgress))
}

func (r *repoPG) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]*Assessment, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx,
		`SELECT COUNT(*) FROM assessment WHERE patient_id = $1`, patientID).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+assessmentCols+` FROM assessment
		WHERE patient_id = $1
		ORDER BY created_at DESC LIMIT $2 OFFSET $3`, patientID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Assessment
	for rows.Next() {
		a, err := r.scanAssessment(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, a)
	}
	return items, total, rows.Err()
}

// SaveAnswer locks the assessment row for the duration of the write so a
// concurrent completion either finishes first (and this save fails) or waits
// until the answer and step advance are committed together.
func (r *repoPG) SaveAnswer(ctx context.Context, ans *Answer, advanceTo uuid.UUID) error {
	return db.WithTx(ctx, r.pool, func(ctx context.Context) error {
		var status string
		err := r.conn(ctx).QueryRow(ctx,
			`SELECT status FROM assessment WHERE id = $1 FOR UPDATE`, ans.AssessmentID).
			Scan(&status)
		if db.IsNoRows(err) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		switch status {
		case StatusInProgress:
		case StatusCompleted:
			return ErrAlreadyCompleted
		default:
			return ErrNotFound
		}

		if err := r.upsertAnswer(ctx, ans); err != nil {
			return err
		}
		if advanceTo != uuid.Nil {
			// The caller computed advanceTo from a snapshot that may be stale
			// by now; compare step order under the lock so a slower save into
			// an earlier step never rolls the resume position back.
			_, err := r.conn(ctx).Exec(ctx, `
				UPDATE assessment SET current_step_id = $2, updated_at = NOW()
				WHERE id = $1
				  AND (SELECT s.order_index FROM funnel_step s WHERE s.id = $2) >
				      (SELECT s.order_index FROM funnel_step s WHERE s.id = assessment.current_step_id)`,
				ans.AssessmentID, advanceTo)
			return err
		}
		return nil
	})
}

func (r *repoPG) MarkCompleted(ctx context.Context, id uuid.UUID) (bool, error) {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE assessment SET status = $2, completed_at = NOW(), updated_at = NOW()
		WHERE id = $1 AND status = $3`, id, StatusCompleted, StatusInProgress)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *repoPG) upsertAnswer(ctx context.Context, ans *Answer) error {
	value, err := json.Marshal(ans.Value)
	if err != nil {
		return fmt.Errorf("marshal answer value: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO assessment_answer (assessment_id, question_id, value)
		VALUES ($1,$2,$3)
		ON CONFLICT (assessment_id, question_id)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()`,
		ans.AssessmentID, ans.QuestionID, value)
	return err
}

func (r *repoPG) GetAnswers(ctx context.Context, assessmentID uuid.UUID) ([]*Answer, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT assessment_id, question_id, value, updated_at
		FROM assessment_answer WHERE assessment_id = $1`, assessmentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Answer
	for rows.Next() {
		var a Answer
		var raw []byte
		if err := rows.Scan(&a.AssessmentID, &a.QuestionID, &raw, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &a.Value); err != nil {
			return nil, fmt.Errorf("unmarshal answer value for question %s: %w", a.QuestionID, err)
		}
		items = append(items, &a)
	}
	return items, rows.Err()
}
