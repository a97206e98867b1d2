package funnel

import (
	"context"

	"github.com/google/uuid"
)

type Repository interface {
	CreateFunnel(ctx context.Context, f *Funnel) error
	GetFunnelByID(ctx context.Context, id uuid.UUID) (*Funnel, error)
	GetFunnelBySlug(ctx context.Context, slug string) (*Funnel, error)
	UpdateFunnelStatus(ctx context.Context, id uuid.UUID, status string) error
	ListFunnels(ctx context.Context, limit, offset int) ([]*Funnel, int, error)
	// Steps
	AddStep(ctx context.Context, s *Step) error
	GetStep(ctx context.Context, id uuid.UUID) (*Step, error)
	GetSteps(ctx context.Context, funnelID uuid.UUID) ([]*Step, error)
	// Questions
	AddQuestion(ctx context.Context, q *Question) error
	GetQuestions(ctx context.Context, funnelID uuid.UUID) ([]*Question, error)
	// Rules
	AddRule(ctx context.Context, r *ConditionalRule) error
	GetActiveRules(ctx context.Context, funnelID uuid.UUID) ([]*ConditionalRule, error)
}
