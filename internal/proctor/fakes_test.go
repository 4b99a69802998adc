package proctor

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"

	"github.com/stemsi/exstem-proctor/internal/model"
)

var skinRGB = [3]uint8{200, 120, 90}

type fakeStream struct {
	releases   atomic.Int32
	releaseErr error
}

func (s *fakeStream) Release() error {
	s.releases.Add(1)
	return s.releaseErr
}

type fakeCamera struct {
	fakeStream
	mu    sync.Mutex
	frame *Frame
}

func (c *fakeCamera) CurrentFrame() (*Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frame == nil {
		return nil, ErrNoFrame
	}
	return c.frame, nil
}

type fakeProvider struct {
	mu        sync.Mutex
	fail      map[DeviceKind]error
	streams   map[DeviceKind]Stream
	requested []DeviceKind
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{
		fail: map[DeviceKind]error{},
		streams: map[DeviceKind]Stream{
			DeviceCamera:     &fakeCamera{},
			DeviceMicrophone: &fakeStream{},
			DeviceScreen:     &fakeStream{},
		},
	}
}

func (p *fakeProvider) Acquire(_ context.Context, kind DeviceKind, _ Constraints) (Stream, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.requested = append(p.requested, kind)
	if err := p.fail[kind]; err != nil {
		return nil, err
	}
	return p.streams[kind], nil
}

func (p *fakeProvider) releases(kind DeviceKind) int32 {
	switch s := p.streams[kind].(type) {
	case *fakeCamera:
		return s.releases.Load()
	case *fakeStream:
		return s.releases.Load()
	}
	return -1
}

type fakeSink struct {
	mu      sync.Mutex
	entries []model.ViolationLogEntry
	failFor model.ViolationType
}

func (s *fakeSink) LogViolation(_ context.Context, e model.ViolationLogEntry) error {
	if e.Violation.Type == s.failFor {
		return errors.New("log store down")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

type stubRand struct {
	f float64
	n int
}

func (r stubRand) Float64() float64 { return r.f }
func (r stubRand) IntN(n int) int {
	if r.n >= n {
		return n - 1
	}
	return r.n
}

var (
	never  = StrategyFunc(func(*Frame) Signal { return Signal{} })
	always = StrategyFunc(func(*Frame) Signal {
		return Signal{Triggered: true, Details: map[string]any{"gazeDirection": "left"}}
	})
)
