package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ProctoringSessionRecord is the persisted trace of one proctored attempt.
type ProctoringSessionRecord struct {
	SessionID      string     `json:"session_id"`
	ExamID         uuid.UUID  `json:"exam_id"`
	StudentID      string     `json:"student_id"`
	StartedAt      time.Time  `json:"started_at"`
	EndedAt        *time.Time `json:"ended_at,omitempty"`
	ViolationCount int        `json:"violation_count"`
}

// ViolationRecord is one row of the persisted violation log.
type ViolationRecord struct {
	ID         int64           `json:"id"`
	SessionID  string          `json:"session_id"`
	StudentID  string          `json:"student_id"`
	Type       ViolationType   `json:"type"`
	Severity   Severity        `json:"severity"`
	Payload    json.RawMessage `json:"payload"`
	DetectedAt time.Time       `json:"detected_at"`
}

// StudentViolationSummary aggregates the violation log per student.
type StudentViolationSummary struct {
	StudentID string `json:"student_id"`
	Total     int64  `json:"total"`
	Critical  int64  `json:"critical"`
}
