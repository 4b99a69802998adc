package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
)

// activeSessionTTL bounds how long a crashed server can keep a student locked out.
const activeSessionTTL = 6 * time.Hour

var ErrAttemptInProgress = errors.New("another attempt for this exam is already in progress")

// ProctoringService keeps the proctoring_sessions table and the
// one-attempt-per-student lock in Redis.
type ProctoringService struct {
	repo    *repository.ProctoringRepository
	rdb     *redis.Client
	monitor *ViolationLogService
	log     zerolog.Logger
}

// NewProctoringService creates a new ProctoringService.
func NewProctoringService(repo *repository.ProctoringRepository, rdb *redis.Client, monitor *ViolationLogService, log zerolog.Logger) *ProctoringService {
	return &ProctoringService{
		repo:    repo,
		rdb:     rdb,
		monitor: monitor,
		log:     log.With().Str("component", "proctoring_service").Logger(),
	}
}

// Claim reserves the exam for one live connection of a student. It fails
// with ErrAttemptInProgress while another connection holds it.
func (s *ProctoringService) Claim(ctx context.Context, examID uuid.UUID, studentID, token string) error {
	ok, err := s.rdb.SetNX(ctx, config.CacheKey.ActiveProctorSessionKey(examID.String(), studentID), token, activeSessionTTL).Result()
	if err != nil {
		return fmt.Errorf("claim attempt: %w", err)
	}
	if !ok {
		return ErrAttemptInProgress
	}
	return nil
}

// Release frees the claim if token still owns it.
func (s *ProctoringService) Release(ctx context.Context, examID uuid.UUID, studentID, token string) {
	key := config.CacheKey.ActiveProctorSessionKey(examID.String(), studentID)
	current, err := s.rdb.Get(ctx, key).Result()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			s.log.Warn().Err(err).Str("student_id", studentID).Msg("Failed to read attempt claim")
		}
		return
	}
	if current != token {
		return
	}
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		s.log.Warn().Err(err).Str("student_id", studentID).Msg("Failed to release attempt claim")
	}
}

// Opened records a started proctoring session.
func (s *ProctoringService) Opened(ctx context.Context, rec model.ProctoringSessionRecord) error {
	if err := s.repo.OpenSession(ctx, rec); err != nil {
		return fmt.Errorf("open session record: %w", err)
	}
	s.monitor.publish(ctx, rec.ExamID.String(), MonitorEvent{
		Type:      MonitorEventSessionOpened,
		StudentID: rec.StudentID,
		SessionID: rec.SessionID,
		Session:   &rec,
	})
	return nil
}

// Closed stamps the end of a proctoring session.
func (s *ProctoringService) Closed(ctx context.Context, rec model.ProctoringSessionRecord) error {
	endedAt := time.Now()
	if rec.EndedAt != nil {
		endedAt = *rec.EndedAt
	}
	if err := s.repo.CloseSession(ctx, rec.SessionID, endedAt, rec.ViolationCount); err != nil {
		return fmt.Errorf("close session record: %w", err)
	}
	s.monitor.publish(ctx, rec.ExamID.String(), MonitorEvent{
		Type:      MonitorEventSessionClosed,
		StudentID: rec.StudentID,
		SessionID: rec.SessionID,
		Session:   &rec,
	})
	return nil
}
