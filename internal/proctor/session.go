package proctor

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"golang.org/x/sync/errgroup"
)

const logWriteTimeout = 5 * time.Second

// ViolationSink writes one violation to the external log.
type ViolationSink interface {
	LogViolation(ctx context.Context, entry model.ViolationLogEntry) error
}

// Options configures a Session.
type Options struct {
	Sink ViolationSink
	// OnViolation is called after every recorded violation.
	OnViolation func(model.Violation)
	Log         zerolog.Logger
	Now         func() time.Time
}

type ownedStream struct {
	kind   DeviceKind
	stream Stream
}

// Session is the handle for one proctored attempt. It exclusively owns
// the three capture streams and the monitoring goroutines, and keeps the
// violation sequence append-only.
type Session struct {
	ID        string
	ExamID    uuid.UUID
	StudentID string
	StartedAt time.Time

	sink        ViolationSink
	onViolation func(model.Violation)
	now         func() time.Time
	log         zerolog.Logger

	mu         sync.Mutex
	active     bool
	streams    []ownedStream
	violations []model.Violation
	cancel     context.CancelFunc
	group      *errgroup.Group
}

// NewSessionID builds an opaque session token from the start time and
// the student identifier.
func NewSessionID(studentID string, at time.Time) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	return fmt.Sprintf("proctor_%d_%s_%s", at.UnixMilli(), studentID, suffix)
}

// Start acquires camera, microphone and screen share one after another.
// If any acquisition fails, the ones already held are released and a
// *SetupError is returned; no partial session is ever left active.
func Start(ctx context.Context, examID uuid.UUID, studentID string, provider DeviceProvider, opts Options) (*Session, error) {
	now := opts.Now
	if now == nil {
		now = time.Now
	}

	startedAt := now()
	s := &Session{
		ID:          NewSessionID(studentID, startedAt),
		ExamID:      examID,
		StudentID:   studentID,
		StartedAt:   startedAt,
		sink:        opts.Sink,
		onViolation: opts.OnViolation,
		now:         now,
	}
	s.log = opts.Log.With().
		Str("component", "proctor_session").
		Str("session_id", s.ID).
		Str("exam_id", examID.String()).
		Str("student_id", studentID).
		Logger()

	acquired := make([]ownedStream, 0, len(acquisitionOrder))
	for _, kind := range acquisitionOrder {
		stream, err := provider.Acquire(ctx, kind, ConstraintsFor(kind))
		if err == nil && stream == nil {
			err = ErrDeviceUnavailable
		}
		if err != nil {
			releaseAll(s.log, acquired)
			s.log.Warn().Err(err).Str("device", string(kind)).Msg("Proctoring setup failed")
			return nil, &SetupError{Device: kind, Err: err}
		}
		acquired = append(acquired, ownedStream{kind: kind, stream: stream})
	}

	s.streams = acquired
	s.active = true
	s.log.Info().Msg("Proctoring session started")
	return s, nil
}

// StartMonitoring launches the violation detector on the camera stream and
// the environment observer. It is kept apart from Start so monitoring can
// later begin after a grace period without changing Start.
func (s *Session) StartMonitoring(ctx context.Context, det *Detector, env *EnvironmentObserver) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.active {
		return ErrSessionInactive
	}
	if s.group != nil {
		return ErrAlreadyMonitoring
	}

	var src FrameSource
	for _, owned := range s.streams {
		if owned.kind == DeviceCamera {
			src, _ = owned.stream.(FrameSource)
		}
	}

	monCtx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(monCtx)
	if det != nil {
		g.Go(func() error { return det.Run(gctx, src, s.Record) })
	}
	if env != nil {
		g.Go(func() error { return env.Run(gctx, s.Record) })
	}

	s.cancel = cancel
	s.group = g
	s.log.Debug().Msg("Monitoring started")
	return nil
}

// Record appends v to the session and writes it to the violation log.
// Violations arriving after Stop are dropped. A log write failure is
// logged and does not affect later violations.
func (s *Session) Record(v model.Violation) {
	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return
	}
	s.violations = append(s.violations, v)
	s.mu.Unlock()

	if s.sink != nil {
		entry := model.ViolationLogEntry{
			ExamID:    s.ExamID.String(),
			StudentID: s.StudentID,
			SessionID: s.ID,
			Violation: v,
			Timestamp: s.now().UTC().Format(time.RFC3339Nano),
		}
		ctx, cancel := context.WithTimeout(context.Background(), logWriteTimeout)
		if err := s.sink.LogViolation(ctx, entry); err != nil {
			s.log.Error().Err(&LogWriteError{Type: v.Type, Err: err}).Msg("Violation not logged")
		}
		cancel()
	}

	s.log.Info().
		Str("type", string(v.Type)).
		Str("severity", string(v.Severity)).
		Msg("Violation recorded")

	if s.onViolation != nil {
		s.onViolation(v)
	}
}

// Violations returns a copy of the violations recorded so far.
func (s *Session) Violations() []model.Violation {
	if s == nil {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.Violation, len(s.violations))
	copy(out, s.violations)
	return out
}

// IsActive reports whether the session holds its devices.
func (s *Session) IsActive() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// ActiveHandles is the number of capture streams still held.
func (s *Session) ActiveHandles() int {
	if s == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// Monitoring reports whether the detector and observer are running.
func (s *Session) Monitoring() bool {
	if s == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.group != nil
}

// Stop tears the session down: monitoring is cancelled and waited for,
// then every stream is released on its own so one failure cannot keep
// the others alive. Safe to call any number of times, and on nil.
func (s *Session) Stop() {
	if s == nil {
		return
	}

	s.mu.Lock()
	wasActive := s.active
	cancel, group, streams := s.cancel, s.group, s.streams
	s.active = false
	s.cancel, s.group, s.streams = nil, nil, nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if group != nil {
		_ = group.Wait()
	}
	releaseAll(s.log, streams)

	if wasActive {
		s.log.Info().Int("violations", len(s.Violations())).Msg("Proctoring session stopped")
	}
}

// releaseAll releases streams in reverse acquisition order and never fails.
func releaseAll(log zerolog.Logger, streams []ownedStream) {
	for i := len(streams) - 1; i >= 0; i-- {
		release(log, streams[i])
	}
}

func release(log zerolog.Logger, owned ownedStream) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("device", string(owned.kind)).Msg("Stream release panicked")
		}
	}()
	if err := owned.stream.Release(); err != nil {
		log.Debug().Err(err).Str("device", string(owned.kind)).Msg("Stream release failed")
	}
}
