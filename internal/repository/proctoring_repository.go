package repository

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// ProctoringRepository stores proctoring session records and reads the
// violation log written by the violation worker.
type ProctoringRepository struct {
	pool *pgxpool.Pool
}

// NewProctoringRepository creates a new ProctoringRepository.
func NewProctoringRepository(pool *pgxpool.Pool) *ProctoringRepository {
	return &ProctoringRepository{pool: pool}
}

// OpenSession records the start of a proctored attempt.
func (r *ProctoringRepository) OpenSession(ctx context.Context, rec model.ProctoringSessionRecord) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO proctoring_sessions (session_id, exam_id, student_id, started_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (session_id) DO NOTHING`,
		rec.SessionID, rec.ExamID, rec.StudentID, rec.StartedAt,
	)
	return err
}

// CloseSession stamps the end of a session. Closing twice keeps the first end time.
func (r *ProctoringRepository) CloseSession(ctx context.Context, sessionID string, endedAt time.Time, violations int) error {
	_, err := r.pool.Exec(ctx,
		`UPDATE proctoring_sessions
		 SET ended_at = COALESCE(ended_at, $2), violation_count = $3
		 WHERE session_id = $1`,
		sessionID, endedAt, violations,
	)
	return err
}

// ListSessions returns the proctoring sessions of an exam, newest first.
func (r *ProctoringRepository) ListSessions(ctx context.Context, examID uuid.UUID) ([]model.ProctoringSessionRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT session_id, exam_id, student_id, started_at, ended_at, violation_count
		 FROM proctoring_sessions
		 WHERE exam_id = $1
		 ORDER BY started_at DESC`,
		examID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ProctoringSessionRecord
	for rows.Next() {
		var rec model.ProctoringSessionRecord
		if err := rows.Scan(&rec.SessionID, &rec.ExamID, &rec.StudentID, &rec.StartedAt, &rec.EndedAt, &rec.ViolationCount); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// ViolationSummaries counts logged violations per student for an exam.
func (r *ProctoringRepository) ViolationSummaries(ctx context.Context, examID uuid.UUID) ([]model.StudentViolationSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT student_id,
		        COUNT(*),
		        COUNT(*) FILTER (WHERE severity = $2)
		 FROM proctoring_violations
		 WHERE exam_id = $1
		 GROUP BY student_id
		 ORDER BY student_id`,
		examID, model.SeverityCritical,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.StudentViolationSummary
	for rows.Next() {
		var s model.StudentViolationSummary
		if err := rows.Scan(&s.StudentID, &s.Total, &s.Critical); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// RecentViolations returns the newest violations logged for an exam.
func (r *ProctoringRepository) RecentViolations(ctx context.Context, examID uuid.UUID, limit int) ([]model.ViolationRecord, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, session_id, student_id, type, severity, payload, detected_at
		 FROM proctoring_violations
		 WHERE exam_id = $1
		 ORDER BY detected_at DESC
		 LIMIT $2`,
		examID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.ViolationRecord
	for rows.Next() {
		var v model.ViolationRecord
		if err := rows.Scan(&v.ID, &v.SessionID, &v.StudentID, &v.Type, &v.Severity, &v.Payload, &v.DetectedAt); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}
