package attempt

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// TickInterval is the countdown cadence.
const TickInterval = time.Second

// DefaultQuestionSeconds applies when a question has no time allotment.
const DefaultQuestionSeconds = 120

// State is the phase of an attempt.
type State string

const (
	StateLoading    State = "loading"
	StateInProgress State = "in_progress"
	StateSubmitting State = "submitting"
	StateCompleted  State = "completed"
	StateAborted    State = "aborted"
)

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateAborted
}

var (
	ErrEmptyExam        = errors.New("exam has no questions")
	ErrNotInProgress    = errors.New("attempt is not in progress")
	ErrInvalidAnswer    = errors.New("answer is not valid for advancing")
	ErrWrongAnswerKind  = errors.New("answer kind does not match the question")
	ErrOptionOutOfRange = errors.New("option index out of range")
)

// Answer is the transient answer of the current question. Only one of
// SelectedOption and Text is ever set.
type Answer struct {
	SelectedOption *int
	Text           string
}

// Step is handed to the submit hook when the attempt leaves a question.
type Step struct {
	Index    int
	Question model.Question
	Answer   Answer
	// Auto is true when the timer forced the advance.
	Auto bool
	Last bool
}

// Hooks are the callbacks of a Machine. All are optional and are called
// without the machine lock held.
type Hooks struct {
	// Submit runs while the machine is in StateSubmitting. Its outcome
	// never blocks progression.
	Submit     func(ctx context.Context, step Step)
	OnQuestion func(index int, q model.Question, timeRemaining int)
	OnTick     func(index, timeRemaining int)
	OnComplete func()
}

// Progress is a point-in-time view of the machine.
type Progress struct {
	State         State
	Index         int
	Total         int
	TimeRemaining int
	Answer        Answer
}

// Machine is the per-question countdown and progression of one attempt.
type Machine struct {
	hooks Hooks
	log   zerolog.Logger

	mu        sync.Mutex
	exam      *model.Exam
	state     State
	index     int
	remaining int
	answer    Answer
	done      chan struct{}
}

// NewMachine returns a machine in StateLoading.
func NewMachine(hooks Hooks, log zerolog.Logger) *Machine {
	return &Machine{
		hooks: hooks,
		log:   log.With().Str("component", "attempt_machine").Logger(),
		state: StateLoading,
		done:  make(chan struct{}),
	}
}

// SecondsFor is the countdown start for q.
func SecondsFor(q model.Question) int {
	if q.Time <= 0 {
		return DefaultQuestionSeconds
	}
	return q.Time * 60
}

// Load starts the attempt on the first question of exam.
func (m *Machine) Load(exam *model.Exam) error {
	if exam == nil || len(exam.Questions) == 0 {
		return ErrEmptyExam
	}

	m.mu.Lock()
	if m.state != StateLoading {
		m.mu.Unlock()
		return ErrNotInProgress
	}
	m.exam = exam
	m.index = 0
	m.remaining = SecondsFor(exam.Questions[0])
	m.answer = Answer{}
	m.state = StateInProgress
	first, remaining := exam.Questions[0], m.remaining
	m.mu.Unlock()

	if m.hooks.OnQuestion != nil {
		m.hooks.OnQuestion(0, first, remaining)
	}
	return nil
}

// SelectOption picks an option of the current question.
func (m *Machine) SelectOption(i int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateInProgress {
		return ErrNotInProgress
	}
	q := m.exam.Questions[m.index]
	if !q.HasOptions() {
		return ErrWrongAnswerKind
	}
	if i < 0 || i >= len(q.Options) {
		return ErrOptionOutOfRange
	}
	m.answer = Answer{SelectedOption: &i}
	return nil
}

// SetText replaces the free-text answer of the current question.
func (m *Machine) SetText(text string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state != StateInProgress {
		return ErrNotInProgress
	}
	if m.exam.Questions[m.index].HasOptions() {
		return ErrWrongAnswerKind
	}
	m.answer = Answer{Text: text}
	return nil
}

// CanAdvance reports whether the manual advance is enabled.
func (m *Machine) CanAdvance() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateInProgress && m.answerValid()
}

func (m *Machine) answerValid() bool {
	if m.exam.Questions[m.index].HasOptions() {
		return m.answer.SelectedOption != nil
	}
	return strings.TrimSpace(m.answer.Text) != ""
}

// Advance is the manual Next/Finish action. It is refused with
// ErrInvalidAnswer while the current answer is not valid.
func (m *Machine) Advance(ctx context.Context) error {
	m.mu.Lock()
	if m.state != StateInProgress {
		m.mu.Unlock()
		return ErrNotInProgress
	}
	if !m.answerValid() {
		m.mu.Unlock()
		return ErrInvalidAnswer
	}
	step := m.beginSubmitLocked(false)
	m.mu.Unlock()

	m.finishSubmit(ctx, step)
	return nil
}

// Tick counts one second down. When the countdown reaches zero the
// question is submitted as is, bypassing the validity gate. It reports
// whether this tick forced a submission.
func (m *Machine) Tick(ctx context.Context) bool {
	m.mu.Lock()
	if m.state != StateInProgress {
		m.mu.Unlock()
		return false
	}
	if m.remaining > 0 {
		m.remaining--
	}
	index, remaining := m.index, m.remaining
	if remaining > 0 {
		m.mu.Unlock()
		if m.hooks.OnTick != nil {
			m.hooks.OnTick(index, remaining)
		}
		return false
	}
	step := m.beginSubmitLocked(true)
	m.mu.Unlock()

	if m.hooks.OnTick != nil {
		m.hooks.OnTick(index, 0)
	}
	m.log.Debug().Int("question_index", index).Msg("Time expired, submitting")
	m.finishSubmit(ctx, step)
	return true
}

// beginSubmitLocked moves to StateSubmitting. The caller holds m.mu.
func (m *Machine) beginSubmitLocked(auto bool) Step {
	m.state = StateSubmitting
	return Step{
		Index:    m.index,
		Question: m.exam.Questions[m.index],
		Answer:   m.answer,
		Auto:     auto,
		Last:     m.index == len(m.exam.Questions)-1,
	}
}

func (m *Machine) finishSubmit(ctx context.Context, step Step) {
	if m.hooks.Submit != nil {
		m.hooks.Submit(ctx, step)
	}

	m.mu.Lock()
	if m.state != StateSubmitting {
		// aborted while the submit hook ran
		m.mu.Unlock()
		return
	}
	if step.Last {
		m.state = StateCompleted
		close(m.done)
		m.mu.Unlock()

		m.log.Debug().Msg("Attempt completed")
		if m.hooks.OnComplete != nil {
			m.hooks.OnComplete()
		}
		return
	}

	m.index++
	m.remaining = SecondsFor(m.exam.Questions[m.index])
	m.answer = Answer{}
	m.state = StateInProgress
	index, q, remaining := m.index, m.exam.Questions[m.index], m.remaining
	m.mu.Unlock()

	if m.hooks.OnQuestion != nil {
		m.hooks.OnQuestion(index, q, remaining)
	}
}

// Abort ends an unfinished attempt. It reports false if the attempt had
// already reached a terminal state.
func (m *Machine) Abort() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state.Terminal() {
		return false
	}
	m.state = StateAborted
	close(m.done)
	return true
}

// Done is closed once the attempt completes or is aborted.
func (m *Machine) Done() <-chan struct{} {
	return m.done
}

// Progress returns the current state.
func (m *Machine) Progress() Progress {
	m.mu.Lock()
	defer m.mu.Unlock()

	p := Progress{
		State:         m.state,
		Index:         m.index,
		TimeRemaining: m.remaining,
		Answer:        m.answer,
	}
	if m.exam != nil {
		p.Total = len(m.exam.Questions)
	}
	return p
}

// Run ticks the countdown every interval until the attempt ends or ctx
// is cancelled.
func (m *Machine) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = TickInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.done:
			return nil
		case <-ticker.C:
			m.Tick(ctx)
		}
	}
}
