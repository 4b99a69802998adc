package service

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"github.com/stemsi/exstem-proctor/internal/submission"
)

var (
	ErrSubmissionNotFound = errors.New("submission not found")
	ErrNotSubmissionOwner = errors.New("submission belongs to another student")
)

// SubmissionService serves saved submissions outside a live attempt.
type SubmissionService struct {
	repo   *repository.SubmissionRepository
	grader submission.Grader
	log    zerolog.Logger
}

// NewSubmissionService creates a new SubmissionService.
func NewSubmissionService(repo *repository.SubmissionRepository, grader submission.Grader, log zerolog.Logger) *SubmissionService {
	return &SubmissionService{
		repo:   repo,
		grader: grader,
		log:    log.With().Str("component", "submission_service").Logger(),
	}
}

// ListForStudent returns a student's submissions for an exam.
func (s *SubmissionService) ListForStudent(ctx context.Context, examID uuid.UUID, studentID string) ([]model.Submission, error) {
	subs, err := s.repo.ListByExamStudent(ctx, examID, studentID)
	if err != nil {
		return nil, err
	}
	if subs == nil {
		subs = []model.Submission{}
	}
	return subs, nil
}

// Regrade asks the grading service again for one of the student's
// submissions. This is the only retry path; nothing retries on its own.
func (s *SubmissionService) Regrade(ctx context.Context, studentID string, id uuid.UUID) (*model.Submission, error) {
	sub, err := s.repo.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSubmissionNotFound
		}
		return nil, err
	}
	if sub.StudentID != studentID {
		return nil, ErrNotSubmissionOwner
	}

	grade, err := submission.Grade(ctx, s.grader, s.repo, id)
	if err != nil {
		s.log.Warn().Err(err).Str("submission_id", id.String()).Msg("Regrade failed")
		return nil, err
	}

	sub.AIGrade = &grade
	sub.GradingStatus = model.GradingStatusCompleted
	return sub, nil
}
