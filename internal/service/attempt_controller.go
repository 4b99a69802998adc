package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/attempt"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/submission"
)

const recordTimeout = 5 * time.Second

var (
	ErrAttemptNotStarted = errors.New("attempt has not started")
	ErrAttemptStarted    = errors.New("attempt already started")
	ErrNoDevices         = errors.New("proctored attempt without a device provider")
	ErrAttemptAbandoned  = errors.New("attempt abandoned")
)

// ExamLoader fetches the exam an attempt runs on.
type ExamLoader interface {
	GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

// SessionRecorder keeps the durable trace of proctoring sessions.
type SessionRecorder interface {
	Opened(ctx context.Context, rec model.ProctoringSessionRecord) error
	Closed(ctx context.Context, rec model.ProctoringSessionRecord) error
}

// AttemptListener receives everything the exam page shows. Calls may come
// from several goroutines.
type AttemptListener interface {
	SessionStarted(sessionID string)
	SetupFailed(err *proctor.SetupError)
	QuestionChanged(index, total int, q model.QuestionForStudent, timeRemaining int)
	Tick(index, timeRemaining int)
	ViolationRaised(v model.Violation)
	Submitted(sub model.Submission)
	SubmissionFailed(err error)
	Graded(sub model.Submission)
	GradingFailed(err error)
	Completed(subs []model.Submission)
}

// AttemptService builds attempt controllers from the shared dependencies.
type AttemptService struct {
	exams   ExamLoader
	store   submission.Store
	grader  submission.Grader
	sink    proctor.ViolationSink
	records SessionRecorder
	log     zerolog.Logger
}

// NewAttemptService creates a new AttemptService. records may be nil.
func NewAttemptService(
	exams ExamLoader,
	store submission.Store,
	grader submission.Grader,
	sink proctor.ViolationSink,
	records SessionRecorder,
	log zerolog.Logger,
) *AttemptService {
	return &AttemptService{
		exams:   exams,
		store:   store,
		grader:  grader,
		sink:    sink,
		records: records,
		log:     log,
	}
}

// AttemptOptions describes one attempt.
type AttemptOptions struct {
	ExamID    uuid.UUID
	StudentID string
	Proctored bool
	Devices   proctor.DeviceProvider
	// Hidden reports whether the exam page is hidden. Nil disables the
	// tab switch check.
	Hidden func() bool

	TickInterval       time.Duration
	VisibilityInterval time.Duration
	DetectorOptions    []proctor.DetectorOption
	Now                func() time.Time
}

// NewAttempt returns a controller for one exam page. Nothing starts
// until Begin.
func (s *AttemptService) NewAttempt(opts AttemptOptions, listener AttemptListener) *AttemptController {
	if opts.TickInterval <= 0 {
		opts.TickInterval = attempt.TickInterval
	}
	if opts.VisibilityInterval <= 0 {
		opts.VisibilityInterval = proctor.VisibilityInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &AttemptController{
		svc:      s,
		opts:     opts,
		listener: listener,
		log: s.log.With().
			Str("component", "attempt_controller").
			Str("exam_id", opts.ExamID.String()).
			Str("student_id", opts.StudentID).
			Logger(),
	}
}

// AttemptController drives one exam page: the optional proctoring
// session, the question timer and the submission pipeline.
type AttemptController struct {
	svc      *AttemptService
	opts     AttemptOptions
	listener AttemptListener
	log      zerolog.Logger

	mu       sync.Mutex
	started  bool
	closed   bool
	machine  *attempt.Machine
	pipeline *submission.Pipeline
	session  *proctor.Session
	observer *proctor.EnvironmentObserver
	exam     *model.Exam
	cancel   context.CancelFunc

	teardownOnce sync.Once
}

// Begin loads the exam and, for proctored attempts, acquires the devices
// and starts monitoring before the first question is shown. A setup
// failure is reported to the listener and nothing else starts.
func (c *AttemptController) Begin(ctx context.Context) error {
	c.mu.Lock()
	if c.started {
		c.mu.Unlock()
		return ErrAttemptStarted
	}
	c.started = true
	c.mu.Unlock()

	exam, err := c.svc.exams.GetExam(ctx, c.opts.ExamID)
	if err != nil {
		return fmt.Errorf("load exam: %w", err)
	}
	if len(exam.Questions) == 0 {
		return ErrNoQuestions
	}
	if c.opts.Proctored && c.opts.Devices == nil {
		return ErrNoDevices
	}

	runCtx, cancel := context.WithCancel(ctx)

	var session *proctor.Session
	var observer *proctor.EnvironmentObserver
	if c.opts.Proctored {
		session, err = proctor.Start(ctx, c.opts.ExamID, c.opts.StudentID, c.opts.Devices, proctor.Options{
			Sink:        c.svc.sink,
			OnViolation: c.listener.ViolationRaised,
			Log:         c.svc.log,
			Now:         c.opts.Now,
		})
		if err != nil {
			cancel()
			var setupErr *proctor.SetupError
			if errors.As(err, &setupErr) {
				c.listener.SetupFailed(setupErr)
			}
			return err
		}

		c.recordOpened(session)
		c.listener.SessionStarted(session.ID)

		observer = proctor.NewEnvironmentObserver(c.opts.Hidden).
			WithInterval(c.opts.VisibilityInterval).
			WithClock(c.opts.Now)
		detector := proctor.NewDetector(c.svc.log, c.opts.DetectorOptions...)
		if err := session.StartMonitoring(runCtx, detector, observer); err != nil {
			cancel()
			session.Stop()
			c.recordClosed(session)
			return fmt.Errorf("start monitoring: %w", err)
		}
	}

	pipeline := submission.NewPipeline(c.svc.store, c.svc.grader, c, c.svc.log)
	machine := attempt.NewMachine(attempt.Hooks{
		Submit:     c.submit,
		OnQuestion: c.questionChanged,
		OnTick:     c.listener.Tick,
		OnComplete: c.complete,
	}, c.log)

	c.mu.Lock()
	if c.closed {
		// abandoned while the devices were being acquired
		c.mu.Unlock()
		cancel()
		if session != nil {
			session.Stop()
			c.recordClosed(session)
		}
		return ErrAttemptAbandoned
	}
	c.exam = exam
	c.session = session
	c.observer = observer
	c.pipeline = pipeline
	c.machine = machine
	c.cancel = cancel
	c.mu.Unlock()

	if err := machine.Load(exam); err != nil {
		c.teardown()
		return err
	}

	go func() {
		if err := machine.Run(runCtx, c.opts.TickInterval); err != nil && !errors.Is(err, context.Canceled) {
			c.log.Warn().Err(err).Msg("Timer stopped")
		}
	}()

	c.log.Info().Bool("proctored", c.opts.Proctored).Int("questions", len(exam.Questions)).Msg("Attempt started")
	return nil
}

func (c *AttemptController) current() (*attempt.Machine, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.machine == nil {
		return nil, ErrAttemptNotStarted
	}
	return c.machine, nil
}

// SelectOption forwards an option pick to the current question.
func (c *AttemptController) SelectOption(i int) error {
	m, err := c.current()
	if err != nil {
		return err
	}
	return m.SelectOption(i)
}

// SetText forwards a free-text answer to the current question.
func (c *AttemptController) SetText(text string) error {
	m, err := c.current()
	if err != nil {
		return err
	}
	return m.SetText(text)
}

// CanAdvance reports whether the Next/Finish button is enabled.
func (c *AttemptController) CanAdvance() bool {
	m, err := c.current()
	if err != nil {
		return false
	}
	return m.CanAdvance()
}

// Advance is the Next/Finish button.
func (c *AttemptController) Advance(ctx context.Context) error {
	m, err := c.current()
	if err != nil {
		return err
	}
	return m.Advance(ctx)
}

// NotifyEnvironment forwards a pushed page signal to the observer. It is
// a no-op for unproctored attempts.
func (c *AttemptController) NotifyEnvironment(ev proctor.EnvEvent) bool {
	c.mu.Lock()
	obs := c.observer
	c.mu.Unlock()
	if obs == nil {
		return false
	}
	return obs.Notify(ev)
}

// Progress reports the timer state. Before Begin it is StateLoading.
func (c *AttemptController) Progress() attempt.Progress {
	m, err := c.current()
	if err != nil {
		return attempt.Progress{State: attempt.StateLoading}
	}
	return m.Progress()
}

// Session returns the proctoring session, nil when unproctored.
func (c *AttemptController) Session() *proctor.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// Submissions returns the answers saved so far.
func (c *AttemptController) Submissions() []model.Submission {
	c.mu.Lock()
	p := c.pipeline
	c.mu.Unlock()
	if p == nil {
		return nil
	}
	return p.Submissions()
}

// Regrade retries grading for one of this attempt's submissions. The
// outcome also reaches the listener as Graded or GradingFailed.
func (c *AttemptController) Regrade(ctx context.Context, id uuid.UUID) (model.Submission, error) {
	c.mu.Lock()
	p := c.pipeline
	c.mu.Unlock()
	if p == nil {
		return model.Submission{}, ErrAttemptNotStarted
	}
	return p.Regrade(ctx, id)
}

// WaitGrading blocks until background grading calls have returned.
func (c *AttemptController) WaitGrading() {
	c.mu.Lock()
	p := c.pipeline
	c.mu.Unlock()
	if p != nil {
		p.Wait()
	}
}

// Abandon ends the attempt because the page went away. Saved answers
// stay saved; the proctoring session is stopped.
func (c *AttemptController) Abandon() {
	c.mu.Lock()
	m := c.machine
	c.mu.Unlock()

	if m != nil && m.Abort() {
		c.log.Info().Msg("Attempt abandoned")
	}
	c.teardown()
}

func (c *AttemptController) submit(ctx context.Context, step attempt.Step) {
	sub := submission.Build(submission.Input{
		ExamID:         c.opts.ExamID,
		StudentID:      c.opts.StudentID,
		QuestionIndex:  step.Index,
		Question:       step.Question,
		SelectedOption: step.Answer.SelectedOption,
		Text:           step.Answer.Text,
		At:             c.opts.Now(),
	})

	// failures reach the listener through the pipeline
	_, _ = c.pipeline.Submit(ctx, sub)
}

func (c *AttemptController) questionChanged(index int, q model.Question, remaining int) {
	c.mu.Lock()
	total := len(c.exam.Questions)
	c.mu.Unlock()
	c.listener.QuestionChanged(index, total, q.ForStudent(), remaining)
}

func (c *AttemptController) complete() {
	c.teardown()
	c.listener.Completed(c.pipeline.Submissions())
	c.log.Info().Msg("Attempt completed")
}

// teardown stops monitoring and releases the devices once.
func (c *AttemptController) teardown() {
	c.teardownOnce.Do(func() {
		c.mu.Lock()
		c.closed = true
		session, cancel := c.session, c.cancel
		c.mu.Unlock()

		if session != nil {
			session.Stop()
			c.recordClosed(session)
		}
		if cancel != nil {
			cancel()
		}
	})
}

func (c *AttemptController) recordOpened(s *proctor.Session) {
	if c.svc.records == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	err := c.svc.records.Opened(ctx, model.ProctoringSessionRecord{
		SessionID: s.ID,
		ExamID:    s.ExamID,
		StudentID: s.StudentID,
		StartedAt: s.StartedAt,
	})
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to record session start")
	}
}

func (c *AttemptController) recordClosed(s *proctor.Session) {
	if c.svc.records == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	endedAt := c.opts.Now()
	err := c.svc.records.Closed(ctx, model.ProctoringSessionRecord{
		SessionID:      s.ID,
		ExamID:         s.ExamID,
		StudentID:      s.StudentID,
		StartedAt:      s.StartedAt,
		EndedAt:        &endedAt,
		ViolationCount: len(s.Violations()),
	})
	if err != nil {
		c.log.Warn().Err(err).Str("session_id", s.ID).Msg("Failed to record session end")
	}
}

// Submitted, SubmissionFailed, Graded and GradingFailed let the
// controller act as the pipeline's listener.

func (c *AttemptController) Submitted(sub model.Submission) { c.listener.Submitted(sub) }

func (c *AttemptController) SubmissionFailed(err error) { c.listener.SubmissionFailed(err) }

func (c *AttemptController) Graded(sub model.Submission) { c.listener.Graded(sub) }

func (c *AttemptController) GradingFailed(err error) { c.listener.GradingFailed(err) }
