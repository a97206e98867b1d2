package processing

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/intake/intake/internal/platform/db"
)

type Service struct {
	repo   Repository
	logger zerolog.Logger
}

func NewService(repo Repository, logger zerolog.Logger) *Service {
	return &Service{repo: repo, logger: logger}
}

// EnsureJob creates the processing job for an assessment if it does not
// exist yet. Concurrent callers race on the unique constraint; the loser
// observes the winner's job. The result is exactly one job per assessment
// no matter how often completion is retried.
func (s *Service) EnsureJob(ctx context.Context, assessmentID uuid.UUID) error {
	job, inserted, err := db.InsertOrFetch(ctx,
		func(ctx context.Context) (*Job, error) {
			j := &Job{AssessmentID: assessmentID}
			if err := s.repo.Insert(ctx, j); err != nil {
				return nil, err
			}
			return j, nil
		},
		func(ctx context.Context) (*Job, error) {
			return s.repo.GetByAssessment(ctx, assessmentID)
		},
	)
	if err != nil {
		return err
	}
	if inserted {
		s.logger.Info().
			Str("job_id", job.ID.String()).
			Str("assessment_id", assessmentID.String()).
			Msg("processing job enqueued")
	}
	return nil
}

func (s *Service) JobForAssessment(ctx context.Context, assessmentID uuid.UUID) (*Job, error) {
	return s.repo.GetByAssessment(ctx, assessmentID)
}

// JobID returns the id of the assessment's job, uuid.Nil when none exists.
func (s *Service) JobID(ctx context.Context, assessmentID uuid.UUID) (uuid.UUID, error) {
	j, err := s.repo.GetByAssessment(ctx, assessmentID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return uuid.Nil, nil
		}
		return uuid.Nil, err
	}
	return j.ID, nil
}

// RequeueOrphans creates jobs for completed assessments that are missing
// one, covering completions whose enqueue failed after the status flip. It
// returns the number of jobs created.
func (s *Service) RequeueOrphans(ctx context.Context, limit int) (int, error) {
	ids, err := s.repo.CompletedWithoutJob(ctx, limit)
	if err != nil {
		return 0, err
	}
	created := 0
	for _, id := range ids {
		if err := s.EnsureJob(ctx, id); err != nil {
			s.logger.Error().Err(err).
				Str("assessment_id", id.String()).
				Msg("failed to requeue orphaned assessment")
			continue
		}
		created++
	}
	if created > 0 {
		s.logger.Info().Int("count", created).Msg("orphaned assessments requeued")
	}
	return created, nil
}
