package funnel

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

const funnelCols = `id, slug, title, status, version, created_at, updated_at`

func (r *repoPG) scanFunnel(row pgx.Row) (*Funnel, error) {
	var f Funnel
	err := row.Scan(&f.ID, &f.Slug, &f.Title, &f.Status, &f.Version, &f.CreatedAt, &f.UpdatedAt)
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return &f, err
}

func (r *repoPG) CreateFunnel(ctx context.Context, f *Funnel) error {
	f.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO funnel (id, slug, title, status, version)
		VALUES ($1,$2,$3,$4,$5)`,
		f.ID, f.Slug, f.Title, f.Status, f.Version)
	return err
}

func (r *repoPG) GetFunnelByID(ctx context.Context, id uuid.UUID) (*Funnel, error) {
	return r.scanFunnel(r.conn(ctx).QueryRow(ctx, `SELECT `+funnelCols+` FROM funnel WHERE id = $1`, id))
}

func (r *repoPG) GetFunnelBySlug(ctx context.Context, slug string) (*Funnel, error) {
	return r.scanFunnel(r.conn(ctx).QueryRow(ctx, `SELECT `+funnelCols+` FROM funnel WHERE slug = $1`, slug))
}

func (r *repoPG) UpdateFunnelStatus(ctx context.Context, id uuid.UUID, status string) error {
	tag, err := r.conn(ctx).Exec(ctx, `
		UPDATE funnel SET status = $2, version = version + 1, updated_at = NOW()
		WHERE id = $1`, id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *repoPG) ListFunnels(ctx context.Context, limit, offset int) ([]*Funnel, int, error) {
	var total int
	if err := r.conn(ctx).QueryRow(ctx, `SELECT COUNT(*) FROM funnel`).Scan(&total); err != nil {
		return nil, 0, err
	}
	rows, err := r.conn(ctx).Query(ctx, `SELECT `+funnelCols+` FROM funnel ORDER BY created_at DESC LIMIT $1 OFFSET $2`, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()
	var items []*Funnel
	for rows.Next() {
		f, err := r.scanFunnel(rows)
		if err != nil {
			return nil, 0, err
		}
		items = append(items, f)
	}
	return items, total, nil
}

// -- Steps --

const stepCols = `id, funnel_id, order_index, title, has_questions, created_at`

func (r *repoPG) scanStep(row pgx.Row) (*Step, error) {
	var s Step
	err := row.Scan(&s.ID, &s.FunnelID, &s.OrderIndex, &s.Title, &s.HasQuestions, &s.CreatedAt)
	return &s, err
}

func (r *repoPG) AddStep(ctx context.Context, s *Step) error {
	s.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO funnel_step (id, funnel_id, order_index, title, has_questions)
		VALUES ($1,$2,$3,$4,$5)`,
		s.ID, s.FunnelID, s.OrderIndex, s.Title, s.HasQuestions)
	return err
}

func (r *repoPG) GetStep(ctx context.Context, id uuid.UUID) (*Step, error) {
	s, err := r.scanStep(r.conn(ctx).QueryRow(ctx,
		`SELECT `+stepCols+` FROM funnel_step WHERE id = $1`, id))
	if db.IsNoRows(err) {
		return nil, ErrNotFound
	}
	return s, err
}

func (r *repoPG) GetSteps(ctx context.Context, funnelID uuid.UUID) ([]*Step, error) {
	rows, err := r.conn(ctx).Query(ctx,
		`SELECT `+stepCols+` FROM funnel_step WHERE funnel_id = $1 ORDER BY order_index`, funnelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Step
	for rows.Next() {
		s, err := r.scanStep(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, s)
	}
	return items, rows.Err()
}

// -- Questions --

const questionCols = `q.id, q.step_id, q.key, q.label, q.value_type, q.required, q.sort_order, q.created_at`

func (r *repoPG) scanQuestion(row pgx.Row) (*Question, error) {
	var q Question
	err := row.Scan(&q.ID, &q.StepID, &q.Key, &q.Label, &q.ValueType, &q.Required, &q.SortOrder, &q.CreatedAt)
	return &q, err
}

func (r *repoPG) AddQuestion(ctx context.Context, q *Question) error {
	q.ID = uuid.New()
	_, err := r.conn(ctx).Exec(ctx, `
		INSERT INTO funnel_question (id, step_id, key, label, value_type, required, sort_order)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		q.ID, q.StepID, q.Key, q.Label, q.ValueType, q.Required, q.SortOrder)
	return err
}

func (r *repoPG) GetQuestions(ctx context.Context, funnelID uuid.UUID) ([]*Question, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT `+questionCols+`
		FROM funnel_question q
		JOIN funnel_step s ON s.id = q.step_id
		WHERE s.funnel_id = $1
		ORDER BY s.order_index, q.sort_order`, funnelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*Question
	for rows.Next() {
		q, err := r.scanQuestion(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, q)
	}
	return items, rows.Err()
}

// -- Rules --

func (r *repoPG) AddRule(ctx context.Context, rule *ConditionalRule) error {
	rule.ID = uuid.New()
	conds, err := json.Marshal(rule.Conditions)
	if err != nil {
		return fmt.Errorf("marshal rule conditions: %w", err)
	}
	_, err = r.conn(ctx).Exec(ctx, `
		INSERT INTO funnel_rule (id, question_id, step_id, rule_type, logic, conditions, priority, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		rule.ID, rule.QuestionID, rule.StepID, rule.RuleType, rule.Logic, conds, rule.Priority, rule.Active)
	return err
}

func (r *repoPG) GetActiveRules(ctx context.Context, funnelID uuid.UUID) ([]*ConditionalRule, error) {
	rows, err := r.conn(ctx).Query(ctx, `
		SELECT r.id, r.question_id, r.step_id, r.rule_type, r.logic, r.conditions, r.priority, r.active, r.created_at
		FROM funnel_rule r
		JOIN funnel_step s ON s.id = r.step_id
		WHERE s.funnel_id = $1 AND r.active
		ORDER BY r.priority, r.created_at`, funnelID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []*ConditionalRule
	for rows.Next() {
		var rule ConditionalRule
		var conds []byte
		if err := rows.Scan(&rule.ID, &rule.QuestionID, &rule.StepID, &rule.RuleType, &rule.Logic,
			&conds, &rule.Priority, &rule.Active, &rule.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(conds, &rule.Conditions); err != nil {
			return nil, fmt.Errorf("unmarshal conditions for rule %s: %w", rule.ID, err)
		}
		items = append(items, &rule)
	}
	return items, rows.Err()
}
