package proctor

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/stemsi/exstem-proctor/internal/model"
)

// VisibilityInterval is the cadence of the document-hidden poll.
const VisibilityInterval = 1000 * time.Millisecond

// EnvEventKind identifies a pushed environment signal.
type EnvEventKind string

const (
	EnvWindowBlur       EnvEventKind = "window_blur"
	EnvFullscreenChange EnvEventKind = "fullscreen_change"
)

// EnvEvent is a pushed environment signal. Fullscreen carries the new
// state for EnvFullscreenChange.
type EnvEvent struct {
	Kind       EnvEventKind
	Fullscreen bool
}

// EnvironmentObserver merges pushed events (blur, fullscreen change) and a
// polled signal (document hidden) into one violation stream, so callers do
// not care which kind of signal produced a violation. Leaving fullscreen
// is a violation only after the page has entered it once.
type EnvironmentObserver struct {
	hidden           func() bool
	interval         time.Duration
	now              func() time.Time
	events           chan EnvEvent
	expectFullscreen atomic.Bool
}

// NewEnvironmentObserver creates an observer polling hidden every
// VisibilityInterval. A nil hidden disables the poll.
func NewEnvironmentObserver(hidden func() bool) *EnvironmentObserver {
	return &EnvironmentObserver{
		hidden:   hidden,
		interval: VisibilityInterval,
		now:      time.Now,
		events:   make(chan EnvEvent, 64),
	}
}

// WithInterval overrides the visibility poll cadence.
func (o *EnvironmentObserver) WithInterval(d time.Duration) *EnvironmentObserver {
	o.interval = d
	return o
}

// WithClock overrides the clock used to stamp violations.
func (o *EnvironmentObserver) WithClock(now func() time.Time) *EnvironmentObserver {
	o.now = now
	return o
}

// Notify queues a pushed event. It never blocks; it reports false when
// the queue is full and the event was dropped.
func (o *EnvironmentObserver) Notify(ev EnvEvent) bool {
	select {
	case o.events <- ev:
		return true
	default:
		return false
	}
}

// Run delivers violations to emit until ctx is cancelled.
func (o *EnvironmentObserver) Run(ctx context.Context, emit func(model.Violation)) error {
	var tick <-chan time.Time
	if o.hidden != nil {
		ticker := time.NewTicker(o.interval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-o.events:
			if v, ok := o.translate(ev); ok {
				emit(v)
			}
		case <-tick:
			if o.hidden() {
				emit(model.NewViolation(model.ViolationTabSwitch, o.now()))
			}
		}
	}
}

func (o *EnvironmentObserver) translate(ev EnvEvent) (model.Violation, bool) {
	switch ev.Kind {
	case EnvWindowBlur:
		return model.NewViolation(model.ViolationWindowFocusLost, o.now()), true
	case EnvFullscreenChange:
		if ev.Fullscreen {
			o.expectFullscreen.Store(true)
			return model.Violation{}, false
		}
		if o.expectFullscreen.Load() {
			return model.NewViolation(model.ViolationFullscreenExit, o.now()), true
		}
	}
	return model.Violation{}, false
}
