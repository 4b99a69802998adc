package model

import (
	"github.com/google/uuid"
)

// Exam is the read-only exam document consumed by the exam-taking core.
// Authoring happens elsewhere.
type Exam struct {
	ID        uuid.UUID  `json:"id"`
	Title     string     `json:"title"`
	Questions []Question `json:"questions"`
}

// Question is one entry of an exam. Time is the allotment in minutes.
type Question struct {
	Text           string   `json:"text"`
	Type           string   `json:"type"`
	Options        []Option `json:"options,omitempty"`
	Marks          float64  `json:"marks"`
	Time           int      `json:"time"`
	ExpectedLength int      `json:"expectedLength,omitempty"`
}

// Option is a selectable answer of an option-based question.
type Option struct {
	Text      string `json:"text"`
	IsCorrect bool   `json:"isCorrect"`
}

// HasOptions reports whether the question is answered by selecting an option.
func (q Question) HasOptions() bool {
	return len(q.Options) > 0
}

// ExamForStudent is the exam as sent to the exam taker (no correct flags).
type ExamForStudent struct {
	ID        uuid.UUID            `json:"id"`
	Title     string               `json:"title"`
	Questions []QuestionForStudent `json:"questions"`
}

// QuestionForStudent is a question without the correct answer, sent to students.
type QuestionForStudent struct {
	Text    string   `json:"text"`
	Type    string   `json:"type"`
	Options []string `json:"options,omitempty"`
	Marks   float64  `json:"marks"`
	Time    int      `json:"time"`
}

// ForStudent strips the correct flags from an option list.
func (q Question) ForStudent() QuestionForStudent {
	out := QuestionForStudent{
		Text:  q.Text,
		Type:  q.Type,
		Marks: q.Marks,
		Time:  q.Time,
	}
	for _, o := range q.Options {
		out.Options = append(out.Options, o.Text)
	}
	return out
}

// ForStudent returns the student-facing copy of the exam.
func (e *Exam) ForStudent() ExamForStudent {
	out := ExamForStudent{
		ID:        e.ID,
		Title:     e.Title,
		Questions: make([]QuestionForStudent, len(e.Questions)),
	}
	for i, q := range e.Questions {
		out.Questions[i] = q.ForStudent()
	}
	return out
}
