package model

import (
	"time"

	"github.com/google/uuid"
)

// QuestionType is a normalized question type.
type QuestionType string

const (
	QuestionTypeMultipleChoice QuestionType = "multiple_choice"
	QuestionTypeShortAnswer    QuestionType = "short_answer"
	QuestionTypeEssay          QuestionType = "essay"
)

// GradingStatus is set once the asynchronous grading call resolves.
type GradingStatus string

const (
	GradingStatusCompleted GradingStatus = "completed"
)

// AIGrade is the grade returned by the external grading service.
type AIGrade struct {
	Marks    float64 `json:"marks"`
	Feedback string  `json:"feedback"`
}

// Submission is created once per question advance, the forced final one included.
type Submission struct {
	ID             uuid.UUID     `json:"id"`
	ExamID         uuid.UUID     `json:"examId"`
	StudentID      string        `json:"studentId"`
	QuestionIndex  int           `json:"questionIndex"`
	QuestionType   QuestionType  `json:"questionType"`
	SelectedOption *int          `json:"selectedOption"`
	TextAnswer     string        `json:"textAnswer,omitempty"`
	EssayText      string        `json:"essayText,omitempty"`
	WordCount      int           `json:"wordCount,omitempty"`
	IsCorrect      bool          `json:"isCorrect"`
	Marks          float64       `json:"marks"`
	AIGrade        *AIGrade      `json:"ai_grade,omitempty"`
	GradingStatus  GradingStatus `json:"grading_status,omitempty"`
	Timestamp      time.Time     `json:"timestamp"`
}

// Graded reports whether the asynchronous grade has been merged.
func (s *Submission) Graded() bool {
	return s.GradingStatus == GradingStatusCompleted
}
