package submission

import (
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Free-text questions above either limit are graded as essays.
const (
	essayMarksThreshold  = 5
	essayLengthThreshold = 100
)

// NormalizeType lowercases raw and turns hyphens into underscores. An
// empty type means multiple choice.
func NormalizeType(raw string) model.QuestionType {
	t := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(raw)), "-", "_")
	if t == "" {
		return model.QuestionTypeMultipleChoice
	}
	return model.QuestionType(t)
}

// Classify returns the type a question is submitted as. A question
// without options is free text whatever its nominal type.
func Classify(q model.Question) model.QuestionType {
	t := NormalizeType(q.Type)
	if q.HasOptions() {
		return t
	}
	if q.Marks > essayMarksThreshold || q.ExpectedLength > essayLengthThreshold || t == model.QuestionTypeEssay {
		return model.QuestionTypeEssay
	}
	return model.QuestionTypeShortAnswer
}

// WordCount counts whitespace separated words.
func WordCount(text string) int {
	return len(strings.Fields(text))
}

// Input identifies the question being left and the answer given.
type Input struct {
	ExamID         uuid.UUID
	StudentID      string
	QuestionIndex  int
	Question       model.Question
	SelectedOption *int
	Text           string
	At             time.Time
}

// Build shapes the submission for in.Question. Only multiple choice is
// scored here; every other type keeps the zero placeholders until the
// grading service fills them in.
func Build(in Input) model.Submission {
	qt := Classify(in.Question)
	sub := model.Submission{
		ExamID:        in.ExamID,
		StudentID:     in.StudentID,
		QuestionIndex: in.QuestionIndex,
		QuestionType:  qt,
		Timestamp:     in.At.UTC(),
	}

	switch {
	case in.Question.HasOptions():
		sub.SelectedOption = in.SelectedOption
		if qt == model.QuestionTypeMultipleChoice && in.SelectedOption != nil {
			i := *in.SelectedOption
			if i >= 0 && i < len(in.Question.Options) && in.Question.Options[i].IsCorrect {
				sub.IsCorrect = true
				sub.Marks = in.Question.Marks
			}
		}
	case qt == model.QuestionTypeEssay:
		sub.EssayText = in.Text
		sub.WordCount = WordCount(in.Text)
	default:
		sub.TextAnswer = in.Text
	}
	return sub
}
