package proctor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
)

// FrameInterval is the cadence of frame analysis while a session is active.
const FrameInterval = 2000 * time.Millisecond

// StarvedCyclesWarn is how many cycles in a row may go without a usable
// frame before the detector warns that monitoring is blind.
const StarvedCyclesWarn = 5

// Detector samples the camera on a fixed cadence and turns four
// independent checks into violations.
type Detector struct {
	gaze     Strategy
	objects  Strategy
	interval time.Duration
	now      func() time.Time
	log      zerolog.Logger

	// starved counts consecutive cycles without a usable frame. Only the
	// Run goroutine touches it.
	starved int
}

// DetectorOption customizes a Detector.
type DetectorOption func(*Detector)

// WithGazeStrategy replaces the looking-away placeholder.
func WithGazeStrategy(s Strategy) DetectorOption {
	return func(d *Detector) { d.gaze = s }
}

// WithObjectStrategy replaces the suspicious-object placeholder.
func WithObjectStrategy(s Strategy) DetectorOption {
	return func(d *Detector) { d.objects = s }
}

// WithFrameInterval overrides the sampling cadence.
func WithFrameInterval(interval time.Duration) DetectorOption {
	return func(d *Detector) { d.interval = interval }
}

// WithDetectorClock overrides the clock used to stamp violations.
func WithDetectorClock(now func() time.Time) DetectorOption {
	return func(d *Detector) { d.now = now }
}

// NewDetector creates a Detector with the randomized placeholders.
func NewDetector(log zerolog.Logger, opts ...DetectorOption) *Detector {
	d := &Detector{
		gaze:     NewRandomGaze(nil),
		objects:  NewRandomObjects(nil),
		interval: FrameInterval,
		now:      time.Now,
		log:      log.With().Str("component", "violation_detector").Logger(),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Analyze runs the four checks over one frame, in order. A panic inside a
// check is returned as an *AnalysisError and the cycle yields nothing.
func (d *Detector) Analyze(f *Frame) (out []model.Violation, err error) {
	defer func() {
		if r := recover(); r != nil {
			out = nil
			err = &AnalysisError{Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if f == nil || f.PixelCount() == 0 {
		return nil, &AnalysisError{Err: ErrNoFrame}
	}

	at := d.now()

	if !DetectFace(f) {
		out = append(out, model.NewViolation(model.ViolationNoFace, at))
	}

	if DetectMultipleFaces(f) {
		out = append(out, model.NewViolation(model.ViolationMultipleFaces, at))
	}

	if sig := d.gaze.Evaluate(f); sig.Triggered {
		v := model.NewViolation(model.ViolationLookingAway, at)
		v.Details = sig.Details
		out = append(out, v)
	}

	if sig := d.objects.Evaluate(f); sig.Triggered {
		v := model.NewViolation(model.ViolationSuspiciousObjects, at)
		v.Details = sig.Details
		v.Objects = sig.Objects
		out = append(out, v)
	}

	return out, nil
}

// Run samples src every interval until ctx is cancelled. Failed cycles are
// logged and skipped; monitoring continues on the next tick.
func (d *Detector) Run(ctx context.Context, src FrameSource, emit func(model.Violation)) error {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			d.cycle(src, emit)
		}
	}
}

func (d *Detector) cycle(src FrameSource, emit func(model.Violation)) {
	if src == nil {
		d.log.Debug().Msg("No camera frame source, skipping cycle")
		return
	}

	frame, err := src.CurrentFrame()
	if err != nil {
		if errors.Is(err, ErrNoFrame) || errors.Is(err, ErrStaleFrame) {
			d.starve(err)
		} else {
			d.log.Warn().Err(&AnalysisError{Err: err}).Msg("Frame capture failed, skipping cycle")
		}
		return
	}

	d.starved = 0

	violations, err := d.Analyze(frame)
	if err != nil {
		d.log.Warn().Err(err).Msg("Frame analysis failed, skipping cycle")
		return
	}

	for _, v := range violations {
		emit(v)
	}
}

// starve logs a missed cycle, at Warn every StarvedCyclesWarn cycles in a row.
func (d *Detector) starve(err error) {
	d.starved++
	if d.starved%StarvedCyclesWarn == 0 {
		d.log.Warn().Err(err).Int("cycles", d.starved).Msg("No usable camera frame, monitoring is blind")
		return
	}
	d.log.Debug().Err(err).Msg("No usable frame, skipping cycle")
}
