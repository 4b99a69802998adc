package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/attempt"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/submission"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ─── Fakes ──────────────────────────────────────────────────────────

type staticExams map[uuid.UUID]*model.Exam

func (s staticExams) GetExam(_ context.Context, id uuid.UUID) (*model.Exam, error) {
	e, ok := s[id]
	if !ok {
		return nil, ErrExamNotFound
	}
	return e, nil
}

type memSubmissions struct {
	mu   sync.Mutex
	rows map[uuid.UUID]model.Submission
}

func (m *memSubmissions) Create(_ context.Context, s *model.Submission) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rows == nil {
		m.rows = map[uuid.UUID]model.Submission{}
	}
	id := uuid.New()
	row := *s
	row.ID = id
	m.rows[id] = row
	return id, nil
}

func (m *memSubmissions) UpdateGrade(_ context.Context, id uuid.UUID, g model.AIGrade) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row := m.rows[id]
	row.AIGrade = &g
	row.GradingStatus = model.GradingStatusCompleted
	m.rows[id] = row
	return nil
}

type okGrader struct{}

func (okGrader) Grade(context.Context, uuid.UUID) (model.AIGrade, error) {
	return model.AIGrade{Marks: 1, Feedback: "fine"}, nil
}

// flakyGrader fails the first call and grades every later one.
type flakyGrader struct {
	calls atomic.Int32
}

func (f *flakyGrader) Grade(context.Context, uuid.UUID) (model.AIGrade, error) {
	if f.calls.Add(1) == 1 {
		return model.AIGrade{}, errors.New("grading service unavailable")
	}
	return model.AIGrade{Marks: 4, Feedback: "second look"}, nil
}

type device struct {
	released atomic.Int32
}

func (d *device) Release() error {
	d.released.Add(1)
	return nil
}

type camera struct {
	device
}

func (c *camera) CurrentFrame() (*proctor.Frame, error) {
	return nil, proctor.ErrNoFrame
}

type devices struct {
	mu        sync.Mutex
	deny      map[proctor.DeviceKind]bool
	handed    map[proctor.DeviceKind]*device
	requested []proctor.DeviceKind
}

func newDevices() *devices {
	return &devices{deny: map[proctor.DeviceKind]bool{}, handed: map[proctor.DeviceKind]*device{}}
}

func (d *devices) Acquire(_ context.Context, kind proctor.DeviceKind, _ proctor.Constraints) (proctor.Stream, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requested = append(d.requested, kind)
	if d.deny[kind] {
		return nil, proctor.ErrPermissionDenied
	}
	if kind == proctor.DeviceCamera {
		c := &camera{}
		d.handed[kind] = &c.device
		return c, nil
	}
	dev := &device{}
	d.handed[kind] = dev
	return dev, nil
}

func (d *devices) held() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, dev := range d.handed {
		if dev.released.Load() == 0 {
			n++
		}
	}
	return n
}

type nopSink struct{}

func (nopSink) LogViolation(context.Context, model.ViolationLogEntry) error { return nil }

type memRecords struct {
	mu     sync.Mutex
	opened []model.ProctoringSessionRecord
	closed []model.ProctoringSessionRecord
}

func (m *memRecords) Opened(_ context.Context, rec model.ProctoringSessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, rec)
	return nil
}

func (m *memRecords) Closed(_ context.Context, rec model.ProctoringSessionRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = append(m.closed, rec)
	return nil
}

type pageRecorder struct {
	mu         sync.Mutex
	sessionID  string
	setupErr   *proctor.SetupError
	questions  []int
	ticks      int
	submitted  []model.Submission
	graded     []model.Submission
	failures   []error
	violations []model.Violation
	done       chan []model.Submission
}

func newPageRecorder() *pageRecorder {
	return &pageRecorder{done: make(chan []model.Submission, 1)}
}

func (p *pageRecorder) SessionStarted(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.sessionID = id
}

func (p *pageRecorder) SetupFailed(err *proctor.SetupError) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.setupErr = err
}

func (p *pageRecorder) QuestionChanged(index, _ int, _ model.QuestionForStudent, _ int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.questions = append(p.questions, index)
}

func (p *pageRecorder) Tick(int, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ticks++
}

func (p *pageRecorder) ViolationRaised(v model.Violation) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.violations = append(p.violations, v)
}

func (p *pageRecorder) Submitted(s model.Submission) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submitted = append(p.submitted, s)
}

func (p *pageRecorder) SubmissionFailed(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, err)
}

func (p *pageRecorder) Graded(s model.Submission) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.graded = append(p.graded, s)
}

func (p *pageRecorder) GradingFailed(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failures = append(p.failures, err)
}

func (p *pageRecorder) Completed(subs []model.Submission) {
	p.done <- subs
}

func (p *pageRecorder) waitCompleted(t *testing.T) []model.Submission {
	t.Helper()
	select {
	case subs := <-p.done:
		return subs
	case <-time.After(5 * time.Second):
		t.Fatal("attempt did not complete")
		return nil
	}
}

// ─── Fixtures ───────────────────────────────────────────────────────

func oneQuestionExam() *model.Exam {
	return &model.Exam{
		ID:    uuid.New(),
		Title: "Arithmetic",
		Questions: []model.Question{{
			Text:    "2 + 2?",
			Type:    "multiple_choice",
			Marks:   5,
			Time:    1,
			Options: []model.Option{{Text: "3"}, {Text: "4", IsCorrect: true}},
		}},
	}
}

var quiet = []proctor.DetectorOption{
	proctor.WithGazeStrategy(proctor.StrategyFunc(func(*proctor.Frame) proctor.Signal { return proctor.Signal{} })),
	proctor.WithObjectStrategy(proctor.StrategyFunc(func(*proctor.Frame) proctor.Signal { return proctor.Signal{} })),
}

func newAttempt(exam *model.Exam, dev *devices, rec *memRecords, page *pageRecorder, tick time.Duration) *AttemptController {
	svc := NewAttemptService(staticExams{exam.ID: exam}, &memSubmissions{}, okGrader{}, nopSink{}, rec, zerolog.Nop())
	return svc.NewAttempt(AttemptOptions{
		ExamID:          exam.ID,
		StudentID:       "student-7",
		Proctored:       true,
		Devices:         dev,
		TickInterval:    tick,
		DetectorOptions: quiet,
	}, page)
}

// ─── Scenarios ──────────────────────────────────────────────────────

func TestProctoredAttemptAnsweredBeforeTimeout(t *testing.T) {
	exam := oneQuestionExam()
	dev := newDevices()
	rec := &memRecords{}
	page := newPageRecorder()
	ctrl := newAttempt(exam, dev, rec, page, time.Hour)

	require.NoError(t, ctrl.Begin(context.Background()))
	assert.Equal(t, 3, dev.held())
	assert.True(t, ctrl.Session().Monitoring())
	assert.Equal(t, 60, ctrl.Progress().TimeRemaining)

	require.NoError(t, ctrl.SelectOption(1))
	require.NoError(t, ctrl.Advance(context.Background()))

	subs := page.waitCompleted(t)
	require.Len(t, subs, 1)
	assert.True(t, subs[0].IsCorrect)
	assert.Equal(t, 5.0, subs[0].Marks)
	require.NotNil(t, subs[0].SelectedOption)
	assert.Equal(t, 1, *subs[0].SelectedOption)

	assert.Equal(t, attempt.StateCompleted, ctrl.Progress().State)
	assert.Zero(t, dev.held(), "all capture streams released")
	assert.False(t, ctrl.Session().IsActive())

	ctrl.WaitGrading()
	page.mu.Lock()
	assert.Len(t, page.graded, 1)
	assert.NotEmpty(t, page.sessionID)
	page.mu.Unlock()

	rec.mu.Lock()
	defer rec.mu.Unlock()
	require.Len(t, rec.opened, 1)
	require.Len(t, rec.closed, 1)
	assert.Equal(t, rec.opened[0].SessionID, rec.closed[0].SessionID)
	assert.NotNil(t, rec.closed[0].EndedAt)
}

func TestProctoredAttemptTimesOut(t *testing.T) {
	exam := oneQuestionExam()
	dev := newDevices()
	page := newPageRecorder()
	// sixty ticks at one millisecond each
	ctrl := newAttempt(exam, dev, &memRecords{}, page, time.Millisecond)

	require.NoError(t, ctrl.Begin(context.Background()))

	subs := page.waitCompleted(t)
	require.Len(t, subs, 1)
	assert.Nil(t, subs[0].SelectedOption)
	assert.False(t, subs[0].IsCorrect)
	assert.Zero(t, subs[0].Marks)

	assert.Equal(t, attempt.StateCompleted, ctrl.Progress().State)
	assert.Zero(t, dev.held())

	page.mu.Lock()
	defer page.mu.Unlock()
	assert.Equal(t, 60, page.ticks)
	assert.Len(t, page.submitted, 1)
}

func TestProctoredAttemptCameraDenied(t *testing.T) {
	exam := oneQuestionExam()
	dev := newDevices()
	dev.deny[proctor.DeviceCamera] = true
	rec := &memRecords{}
	page := newPageRecorder()
	ctrl := newAttempt(exam, dev, rec, page, time.Millisecond)

	err := ctrl.Begin(context.Background())
	var setupErr *proctor.SetupError
	require.True(t, errors.As(err, &setupErr))
	assert.Equal(t, proctor.DeviceCamera, setupErr.Device)

	page.mu.Lock()
	assert.Same(t, setupErr, page.setupErr)
	page.mu.Unlock()

	assert.Equal(t, []proctor.DeviceKind{proctor.DeviceCamera}, dev.requested)
	assert.Zero(t, dev.held())
	assert.Nil(t, ctrl.Session())

	// no timer ever starts
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, attempt.StateLoading, ctrl.Progress().State)
	page.mu.Lock()
	assert.Zero(t, page.ticks)
	assert.Empty(t, page.questions)
	page.mu.Unlock()

	assert.ErrorIs(t, ctrl.SelectOption(1), ErrAttemptNotStarted)
	assert.Empty(t, rec.opened)
}

func TestScreenShareDeniedReleasesEarlierDevices(t *testing.T) {
	exam := oneQuestionExam()
	dev := newDevices()
	dev.deny[proctor.DeviceScreen] = true
	page := newPageRecorder()
	ctrl := newAttempt(exam, dev, &memRecords{}, page, time.Millisecond)

	err := ctrl.Begin(context.Background())
	assert.ErrorIs(t, err, proctor.ErrPermissionDenied)
	assert.Len(t, dev.requested, 3)
	assert.Zero(t, dev.held())
}

func TestAbandonReleasesDevices(t *testing.T) {
	exam := oneQuestionExam()
	dev := newDevices()
	rec := &memRecords{}
	page := newPageRecorder()
	ctrl := newAttempt(exam, dev, rec, page, time.Hour)

	require.NoError(t, ctrl.Begin(context.Background()))
	ctrl.Abandon()
	ctrl.Abandon()

	assert.Equal(t, attempt.StateAborted, ctrl.Progress().State)
	assert.Zero(t, dev.held())
	assert.ErrorIs(t, ctrl.Advance(context.Background()), attempt.ErrNotInProgress)

	rec.mu.Lock()
	defer rec.mu.Unlock()
	assert.Len(t, rec.closed, 1)
}

func TestUnproctoredAttemptSkipsDevices(t *testing.T) {
	exam := oneQuestionExam()
	exam.Questions = append(exam.Questions, model.Question{Text: "Why?", Type: "essay", Marks: 10})

	svc := NewAttemptService(staticExams{exam.ID: exam}, &memSubmissions{}, okGrader{}, nopSink{}, nil, zerolog.Nop())
	page := newPageRecorder()
	ctrl := svc.NewAttempt(AttemptOptions{ExamID: exam.ID, StudentID: "s", TickInterval: time.Hour}, page)

	require.NoError(t, ctrl.Begin(context.Background()))
	assert.Nil(t, ctrl.Session())
	assert.False(t, ctrl.NotifyEnvironment(proctor.EnvEvent{Kind: proctor.EnvWindowBlur}))

	require.NoError(t, ctrl.SelectOption(0))
	require.NoError(t, ctrl.Advance(context.Background()))
	require.NoError(t, ctrl.SetText("because it is"))
	require.NoError(t, ctrl.Advance(context.Background()))

	subs := page.waitCompleted(t)
	require.Len(t, subs, 2)
	assert.Equal(t, model.QuestionTypeEssay, subs[1].QuestionType)
	assert.Equal(t, 3, subs[1].WordCount)

	page.mu.Lock()
	defer page.mu.Unlock()
	assert.Equal(t, []int{0, 1}, page.questions)
}

func TestBeginTwice(t *testing.T) {
	exam := oneQuestionExam()
	ctrl := newAttempt(exam, newDevices(), &memRecords{}, newPageRecorder(), time.Hour)
	require.NoError(t, ctrl.Begin(context.Background()))
	defer ctrl.Abandon()
	assert.ErrorIs(t, ctrl.Begin(context.Background()), ErrAttemptStarted)
}

func TestBeginUnknownExam(t *testing.T) {
	svc := NewAttemptService(staticExams{}, &memSubmissions{}, okGrader{}, nopSink{}, nil, zerolog.Nop())
	ctrl := svc.NewAttempt(AttemptOptions{ExamID: uuid.New()}, newPageRecorder())
	assert.ErrorIs(t, ctrl.Begin(context.Background()), ErrExamNotFound)
}

func TestEnvironmentViolationReachesPage(t *testing.T) {
	exam := oneQuestionExam()
	page := newPageRecorder()
	ctrl := newAttempt(exam, newDevices(), &memRecords{}, page, time.Hour)

	require.NoError(t, ctrl.Begin(context.Background()))
	defer ctrl.Abandon()

	require.True(t, ctrl.NotifyEnvironment(proctor.EnvEvent{Kind: proctor.EnvWindowBlur}))
	require.Eventually(t, func() bool {
		page.mu.Lock()
		defer page.mu.Unlock()
		return len(page.violations) == 1
	}, time.Second, 5*time.Millisecond)

	assert.Equal(t, model.ViolationWindowFocusLost, ctrl.Session().Violations()[0].Type)
}

func TestRegradeAfterGradingFailure(t *testing.T) {
	exam := oneQuestionExam()
	svc := NewAttemptService(staticExams{exam.ID: exam}, &memSubmissions{}, &flakyGrader{}, nopSink{}, nil, zerolog.Nop())
	page := newPageRecorder()
	ctrl := svc.NewAttempt(AttemptOptions{ExamID: exam.ID, StudentID: "s", TickInterval: time.Hour}, page)

	_, err := ctrl.Regrade(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrAttemptNotStarted)

	require.NoError(t, ctrl.Begin(context.Background()))
	require.NoError(t, ctrl.SelectOption(1))
	require.NoError(t, ctrl.Advance(context.Background()))
	subs := page.waitCompleted(t)
	require.Len(t, subs, 1)
	ctrl.WaitGrading()

	page.mu.Lock()
	require.Len(t, page.failures, 1)
	assert.Empty(t, page.graded)
	page.mu.Unlock()

	_, err = ctrl.Regrade(context.Background(), uuid.New())
	assert.ErrorIs(t, err, submission.ErrNotFound)

	sub, err := ctrl.Regrade(context.Background(), subs[0].ID)
	require.NoError(t, err)
	require.NotNil(t, sub.AIGrade)
	assert.Equal(t, 4.0, sub.AIGrade.Marks)

	page.mu.Lock()
	defer page.mu.Unlock()
	require.Len(t, page.graded, 1)
	assert.Equal(t, subs[0].ID, page.graded[0].ID)
	assert.Equal(t, model.GradingStatusCompleted, page.graded[0].GradingStatus)
}

func TestCanAdvanceFollowsAnswer(t *testing.T) {
	exam := oneQuestionExam()
	exam.Questions = append(exam.Questions, model.Question{Text: "Why?", Type: "essay", Marks: 10})
	svc := NewAttemptService(staticExams{exam.ID: exam}, &memSubmissions{}, okGrader{}, nopSink{}, nil, zerolog.Nop())
	ctrl := svc.NewAttempt(AttemptOptions{ExamID: exam.ID, StudentID: "s", TickInterval: time.Hour}, newPageRecorder())

	assert.False(t, ctrl.CanAdvance(), "not started")
	require.NoError(t, ctrl.Begin(context.Background()))
	defer ctrl.Abandon()

	assert.False(t, ctrl.CanAdvance())
	require.NoError(t, ctrl.SelectOption(0))
	assert.True(t, ctrl.CanAdvance())
	require.NoError(t, ctrl.Advance(context.Background()))

	assert.False(t, ctrl.CanAdvance())
	require.NoError(t, ctrl.SetText("   "))
	assert.False(t, ctrl.CanAdvance(), "blank text")
	require.NoError(t, ctrl.SetText("gravity"))
	assert.True(t, ctrl.CanAdvance())
}
