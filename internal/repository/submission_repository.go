package repository

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// SubmissionRepository stores one row per answered question.
type SubmissionRepository struct {
	pool *pgxpool.Pool
}

// NewSubmissionRepository creates a new SubmissionRepository.
func NewSubmissionRepository(pool *pgxpool.Pool) *SubmissionRepository {
	return &SubmissionRepository{pool: pool}
}

// Create inserts a submission and returns the generated identifier.
func (r *SubmissionRepository) Create(ctx context.Context, s *model.Submission) (uuid.UUID, error) {
	var id uuid.UUID
	err := r.pool.QueryRow(ctx,
		`INSERT INTO submissions (exam_id, student_id, question_index, question_type, selected_option,
		                          text_answer, essay_text, word_count, is_correct, marks, submitted_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 RETURNING id`,
		s.ExamID, s.StudentID, s.QuestionIndex, s.QuestionType, s.SelectedOption,
		s.TextAnswer, s.EssayText, s.WordCount, s.IsCorrect, s.Marks, s.Timestamp,
	).Scan(&id)
	return id, err
}

// UpdateGrade merges the grading result into a submission.
func (r *SubmissionRepository) UpdateGrade(ctx context.Context, id uuid.UUID, grade model.AIGrade) error {
	data, err := json.Marshal(grade)
	if err != nil {
		return err
	}
	tag, err := r.pool.Exec(ctx,
		`UPDATE submissions SET ai_grade = $1::jsonb, grading_status = $2 WHERE id = $3`,
		data, model.GradingStatusCompleted, id,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return pgx.ErrNoRows
	}
	return nil
}

const submissionColumns = `id, exam_id, student_id, question_index, question_type, selected_option,
	text_answer, essay_text, word_count, is_correct, marks, ai_grade, grading_status, submitted_at`

// GetByID retrieves one submission.
func (r *SubmissionRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Submission, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
	return scanSubmission(row)
}

// ListByExamStudent returns a student's submissions for an exam in question order.
func (r *SubmissionRepository) ListByExamStudent(ctx context.Context, examID uuid.UUID, studentID string) ([]model.Submission, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT `+submissionColumns+`
		 FROM submissions
		 WHERE exam_id = $1 AND student_id = $2
		 ORDER BY question_index, submitted_at`,
		examID, studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var subs []model.Submission
	for rows.Next() {
		s, err := scanSubmission(rows)
		if err != nil {
			return nil, err
		}
		subs = append(subs, *s)
	}
	return subs, rows.Err()
}

func scanSubmission(row pgx.Row) (*model.Submission, error) {
	s := &model.Submission{}
	var aiGrade []byte
	var status *string
	err := row.Scan(&s.ID, &s.ExamID, &s.StudentID, &s.QuestionIndex, &s.QuestionType, &s.SelectedOption,
		&s.TextAnswer, &s.EssayText, &s.WordCount, &s.IsCorrect, &s.Marks, &aiGrade, &status, &s.Timestamp)
	if err != nil {
		return nil, err
	}
	if len(aiGrade) > 0 {
		s.AIGrade = &model.AIGrade{}
		if err := json.Unmarshal(aiGrade, s.AIGrade); err != nil {
			return nil, err
		}
	}
	if status != nil {
		s.GradingStatus = model.GradingStatus(*status)
	}
	return s, nil
}
