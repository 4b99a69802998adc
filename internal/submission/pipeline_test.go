package submission

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	mu        sync.Mutex
	createErr error
	gradeErr  error
	rows      map[uuid.UUID]model.Submission
}

func newMemStore() *memStore {
	return &memStore{rows: map[uuid.UUID]model.Submission{}}
}

func (s *memStore) Create(_ context.Context, sub *model.Submission) (uuid.UUID, error) {
	if s.createErr != nil {
		return uuid.Nil, s.createErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	id := uuid.New()
	row := *sub
	row.ID = id
	s.rows[id] = row
	return id, nil
}

func (s *memStore) UpdateGrade(_ context.Context, id uuid.UUID, g model.AIGrade) error {
	if s.gradeErr != nil {
		return s.gradeErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.rows[id]
	row.AIGrade = &g
	row.GradingStatus = model.GradingStatusCompleted
	s.rows[id] = row
	return nil
}

func (s *memStore) get(id uuid.UUID) model.Submission {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.rows[id]
}

type fakeGrader struct {
	mu    sync.Mutex
	err   error
	grade model.AIGrade
	calls int
}

func (g *fakeGrader) Grade(context.Context, uuid.UUID) (model.AIGrade, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.calls++
	return g.grade, g.err
}

func (g *fakeGrader) set(grade model.AIGrade, err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.grade, g.err = grade, err
}

type events struct {
	mu            sync.Mutex
	submitted     []model.Submission
	graded        []model.Submission
	submitErrs    []error
	gradingErrors []error
}

func (e *events) Submitted(s model.Submission) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitted = append(e.submitted, s)
}

func (e *events) SubmissionFailed(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.submitErrs = append(e.submitErrs, err)
}

func (e *events) Graded(s model.Submission) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.graded = append(e.graded, s)
}

func (e *events) GradingFailed(err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gradingErrors = append(e.gradingErrors, err)
}

func TestSubmitSavesThenGrades(t *testing.T) {
	store := newMemStore()
	grader := &fakeGrader{grade: model.AIGrade{Marks: 3, Feedback: "ok"}}
	ev := &events{}
	p := NewPipeline(store, grader, ev, zerolog.Nop())

	sub, err := p.Submit(context.Background(), model.Submission{QuestionIndex: 0, QuestionType: model.QuestionTypeEssay})
	require.NoError(t, err)
	require.NotEqual(t, uuid.Nil, sub.ID)
	p.Wait()

	subs := p.Submissions()
	require.Len(t, subs, 1)
	assert.True(t, subs[0].Graded())
	assert.Equal(t, 3.0, subs[0].AIGrade.Marks)
	stored := store.get(sub.ID)
	assert.True(t, stored.Graded())

	require.Len(t, ev.submitted, 1)
	require.Len(t, ev.graded, 1)
	assert.Equal(t, sub.ID, ev.graded[0].ID)
}

func TestSubmitSaveFailureIsReported(t *testing.T) {
	store := newMemStore()
	store.createErr = errors.New("connection refused")
	grader := &fakeGrader{}
	ev := &events{}
	p := NewPipeline(store, grader, ev, zerolog.Nop())

	_, err := p.Submit(context.Background(), model.Submission{QuestionIndex: 3})
	var serr *SubmissionError
	require.True(t, errors.As(err, &serr))
	assert.Equal(t, 3, serr.QuestionIndex)

	p.Wait()
	assert.Empty(t, p.Submissions())
	assert.Len(t, ev.submitErrs, 1)
	assert.Zero(t, grader.calls, "nothing to grade without a saved submission")
}

func TestGradingFailureLeavesSubmissionUngraded(t *testing.T) {
	store := newMemStore()
	grader := &fakeGrader{err: ErrGradingRejected}
	ev := &events{}
	p := NewPipeline(store, grader, ev, zerolog.Nop())

	sub, err := p.Submit(context.Background(), model.Submission{})
	require.NoError(t, err)
	p.Wait()

	subs := p.Submissions()
	require.Len(t, subs, 1)
	assert.False(t, subs[0].Graded())
	assert.Nil(t, subs[0].AIGrade)

	require.Len(t, ev.gradingErrors, 1)
	var gerr *GradingError
	require.True(t, errors.As(ev.gradingErrors[0], &gerr))
	assert.Equal(t, sub.ID, gerr.SubmissionID)

	grader.set(model.AIGrade{Marks: 1}, nil)
	regraded, err := p.Regrade(context.Background(), sub.ID)
	require.NoError(t, err)
	assert.True(t, regraded.Graded())
	assert.True(t, p.Submissions()[0].Graded())
}

func TestGradeStoredFailureStillMergesInMemory(t *testing.T) {
	store := newMemStore()
	grader := &fakeGrader{grade: model.AIGrade{Marks: 2}}
	p := NewPipeline(store, grader, nil, zerolog.Nop())

	sub, err := p.Submit(context.Background(), model.Submission{})
	require.NoError(t, err)
	p.Wait()

	store.gradeErr = errors.New("db down")
	_, err = p.Regrade(context.Background(), sub.ID)
	assert.NoError(t, err)
	assert.True(t, p.Submissions()[0].Graded())
}

func TestRegradeUnknownSubmission(t *testing.T) {
	p := NewPipeline(newMemStore(), &fakeGrader{}, nil, zerolog.Nop())
	_, err := p.Regrade(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrNotFound)
}
