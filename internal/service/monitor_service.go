package service

import (
	"context"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/repository"
	"golang.org/x/sync/errgroup"
)

// RecentViolationLimit caps the violation log returned to tutors.
const RecentViolationLimit = 100

// MonitorService builds the tutor's view of an exam's proctoring.
type MonitorService struct {
	proctoringRepo *repository.ProctoringRepository
}

// NewMonitorService creates a new MonitorService.
func NewMonitorService(proctoringRepo *repository.ProctoringRepository) *MonitorService {
	return &MonitorService{proctoringRepo: proctoringRepo}
}

// ProctoringSnapshot is the state of an exam's proctoring at one moment.
type ProctoringSnapshot struct {
	Sessions        []model.ProctoringSessionRecord `json:"sessions"`
	Students        []model.StudentViolationSummary `json:"students"`
	Recent          []model.ViolationRecord         `json:"recent"`
	TotalViolations int64                           `json:"total_violations"`
	ActiveSessions  int                             `json:"active_sessions"`
}

// Snapshot runs the three queries concurrently.
func (s *MonitorService) Snapshot(ctx context.Context, examID uuid.UUID) (*ProctoringSnapshot, error) {
	snap := &ProctoringSnapshot{}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		snap.Sessions, err = s.proctoringRepo.ListSessions(gctx, examID)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Students, err = s.proctoringRepo.ViolationSummaries(gctx, examID)
		return err
	})
	g.Go(func() error {
		var err error
		snap.Recent, err = s.proctoringRepo.RecentViolations(gctx, examID, RecentViolationLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if snap.Sessions == nil {
		snap.Sessions = []model.ProctoringSessionRecord{}
	}
	if snap.Students == nil {
		snap.Students = []model.StudentViolationSummary{}
	}
	if snap.Recent == nil {
		snap.Recent = []model.ViolationRecord{}
	}
	for _, st := range snap.Students {
		snap.TotalViolations += st.Total
	}
	for _, sess := range snap.Sessions {
		if sess.EndedAt == nil {
			snap.ActiveSessions++
		}
	}
	return snap, nil
}
