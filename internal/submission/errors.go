package submission

import (
	"errors"
	"fmt"

	"github.com/google/uuid"
)

var (
	ErrGradingRejected = errors.New("grading rejected")
	ErrInvalidReply    = errors.New("invalid grading reply")
	ErrNotFound        = errors.New("submission not found")
)

// SubmissionError is a failed save of one answer. It never blocks
// progression to the next question.
type SubmissionError struct {
	QuestionIndex int
	Err           error
}

func (e *SubmissionError) Error() string {
	return fmt.Sprintf("save answer for question %d: %v", e.QuestionIndex+1, e.Err)
}

func (e *SubmissionError) Unwrap() error { return e.Err }

// GradingError is a failed or rejected grading call. The submission
// stays ungraded until it is graded again.
type GradingError struct {
	SubmissionID uuid.UUID
	Err          error
}

func (e *GradingError) Error() string {
	return fmt.Sprintf("grade submission %s: %v", e.SubmissionID, e.Err)
}

func (e *GradingError) Unwrap() error { return e.Err }
