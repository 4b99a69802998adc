package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// MonitorEvent is what tutors receive on the live monitor stream.
type MonitorEvent struct {
	Type      string                         `json:"type"`
	StudentID string                         `json:"student_id"`
	SessionID string                         `json:"session_id,omitempty"`
	Violation *model.Violation               `json:"violation,omitempty"`
	Session   *model.ProctoringSessionRecord `json:"session,omitempty"`
}

const (
	MonitorEventViolation     = "violation"
	MonitorEventSessionOpened = "session_opened"
	MonitorEventSessionClosed = "session_closed"
	MonitorEventPing          = "ping"
)

// ViolationLogService writes each violation to the persistence queue and
// announces it on the exam's monitor channel.
type ViolationLogService struct {
	rdb *redis.Client
	log zerolog.Logger
}

// NewViolationLogService creates a new ViolationLogService.
func NewViolationLogService(rdb *redis.Client, log zerolog.Logger) *ViolationLogService {
	return &ViolationLogService{
		rdb: rdb,
		log: log.With().Str("component", "violation_log").Logger(),
	}
}

// LogViolation queues one violation. The ViolationWorker persists it.
func (s *ViolationLogService) LogViolation(ctx context.Context, entry model.ViolationLogEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal violation: %w", err)
	}

	v := entry.Violation
	event, err := json.Marshal(MonitorEvent{
		Type:      MonitorEventViolation,
		StudentID: entry.StudentID,
		SessionID: entry.SessionID,
		Violation: &v,
	})
	if err != nil {
		return fmt.Errorf("marshal monitor event: %w", err)
	}

	pipe := s.rdb.Pipeline()
	pipe.RPush(ctx, config.WorkerKey.PersistViolationsQueue, data)
	pipe.Publish(ctx, config.CacheKey.ProctorChannel(entry.ExamID), event)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("queue violation: %w", err)
	}
	return nil
}

// publish announces a session event. Failures only cost the live view.
func (s *ViolationLogService) publish(ctx context.Context, examID string, ev MonitorEvent) {
	data, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.rdb.Publish(ctx, config.CacheKey.ProctorChannel(examID), data).Err(); err != nil {
		s.log.Debug().Err(err).Str("exam_id", examID).Msg("Monitor publish failed")
	}
}
