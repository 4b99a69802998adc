package submission

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// Store persists submissions.
type Store interface {
	Create(ctx context.Context, sub *model.Submission) (uuid.UUID, error)
	UpdateGrade(ctx context.Context, id uuid.UUID, grade model.AIGrade) error
}

// Listener is told about every outcome of the pipeline. Failures are
// reported here and never returned to the progression path.
type Listener interface {
	Submitted(sub model.Submission)
	SubmissionFailed(err error)
	Graded(sub model.Submission)
	GradingFailed(err error)
}

// Grade asks g for a grade and stores it.
func Grade(ctx context.Context, g Grader, s Store, id uuid.UUID) (model.AIGrade, error) {
	grade, err := g.Grade(ctx, id)
	if err != nil {
		return model.AIGrade{}, &GradingError{SubmissionID: id, Err: err}
	}
	if err := s.UpdateGrade(ctx, id, grade); err != nil {
		return grade, fmt.Errorf("store grade: %w", err)
	}
	return grade, nil
}

// Pipeline saves the answers of one attempt and grades them in the
// background. It keeps the attempt's submissions in save order.
type Pipeline struct {
	store    Store
	grader   Grader
	listener Listener
	log      zerolog.Logger

	mu          sync.Mutex
	submissions []model.Submission

	inflight sync.WaitGroup
}

// NewPipeline creates a pipeline. listener may be nil.
func NewPipeline(store Store, grader Grader, listener Listener, log zerolog.Logger) *Pipeline {
	return &Pipeline{
		store:    store,
		grader:   grader,
		listener: listener,
		log:      log.With().Str("component", "submission_pipeline").Logger(),
	}
}

// Submit saves sub and, once saved, starts grading it without waiting.
// A save failure is returned as a *SubmissionError and reported to the
// listener; the caller moves on regardless.
func (p *Pipeline) Submit(ctx context.Context, sub model.Submission) (model.Submission, error) {
	id, err := p.store.Create(ctx, &sub)
	if err != nil {
		serr := &SubmissionError{QuestionIndex: sub.QuestionIndex, Err: err}
		p.log.Error().Err(err).Int("question_index", sub.QuestionIndex).Msg("Failed to save submission")
		if p.listener != nil {
			p.listener.SubmissionFailed(serr)
		}
		return sub, serr
	}
	sub.ID = id

	p.mu.Lock()
	p.submissions = append(p.submissions, sub)
	p.mu.Unlock()

	p.log.Debug().
		Str("submission_id", id.String()).
		Int("question_index", sub.QuestionIndex).
		Str("question_type", string(sub.QuestionType)).
		Msg("Submission saved")

	if p.listener != nil {
		p.listener.Submitted(sub)
	}

	p.inflight.Add(1)
	go func() {
		defer p.inflight.Done()
		p.grade(context.WithoutCancel(ctx), id)
	}()

	return sub, nil
}

// Regrade grades a submission again and waits for the result.
func (p *Pipeline) Regrade(ctx context.Context, id uuid.UUID) (model.Submission, error) {
	if _, ok := p.find(id); !ok {
		return model.Submission{}, ErrNotFound
	}
	return p.grade(ctx, id)
}

func (p *Pipeline) grade(ctx context.Context, id uuid.UUID) (model.Submission, error) {
	grade, err := Grade(ctx, p.grader, p.store, id)
	var gerr *GradingError
	if errors.As(err, &gerr) {
		p.log.Warn().Err(err).Str("submission_id", id.String()).Msg("Grading failed")
		if p.listener != nil {
			p.listener.GradingFailed(err)
		}
		return model.Submission{}, err
	}
	if err != nil {
		// graded but not stored; the attempt still sees the grade
		p.log.Error().Err(err).Str("submission_id", id.String()).Msg("Failed to store grade")
	}

	sub, ok := p.merge(id, grade)
	if !ok {
		return model.Submission{}, ErrNotFound
	}
	if p.listener != nil {
		p.listener.Graded(sub)
	}
	return sub, nil
}

func (p *Pipeline) merge(id uuid.UUID, grade model.AIGrade) (model.Submission, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.submissions {
		if p.submissions[i].ID == id {
			g := grade
			p.submissions[i].AIGrade = &g
			p.submissions[i].GradingStatus = model.GradingStatusCompleted
			return p.submissions[i], true
		}
	}
	return model.Submission{}, false
}

func (p *Pipeline) find(id uuid.UUID) (model.Submission, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, s := range p.submissions {
		if s.ID == id {
			return s, true
		}
	}
	return model.Submission{}, false
}

// Submissions returns the saved submissions in save order.
func (p *Pipeline) Submissions() []model.Submission {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Submission, len(p.submissions))
	copy(out, p.submissions)
	return out
}

// Wait blocks until background grading calls have returned.
func (p *Pipeline) Wait() {
	p.inflight.Wait()
}
