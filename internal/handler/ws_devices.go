package handler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stemsi/exstem-proctor/internal/proctor"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// permissionPromptTimeout bounds how long a student may leave a browser
// permission prompt open.
const permissionPromptTimeout = 2 * time.Minute

// maxFrameAge is how long a camera frame counts as current. A client that
// stops sending frames leaves the detector with ErrStaleFrame.
const maxFrameAge = 2 * proctor.FrameInterval

type deviceReply struct {
	granted bool
	reason  string
}

// remoteDevices acquires devices from the browser over the socket. Each
// Acquire sends request_device and waits for the client's grant or denial.
type remoteDevices struct {
	out *ws.Writer

	mu      sync.Mutex
	pending map[proctor.DeviceKind]chan deviceReply
	camera  *remoteCamera

	hidden atomic.Bool
	now    func() time.Time
}

func newRemoteDevices(out *ws.Writer) *remoteDevices {
	return &remoteDevices{
		out:     out,
		pending: make(map[proctor.DeviceKind]chan deviceReply),
		now:     time.Now,
	}
}

func (d *remoteDevices) Acquire(ctx context.Context, kind proctor.DeviceKind, c proctor.Constraints) (proctor.Stream, error) {
	reply := make(chan deviceReply, 1)
	d.mu.Lock()
	d.pending[kind] = reply
	d.mu.Unlock()
	defer func() {
		d.mu.Lock()
		delete(d.pending, kind)
		d.mu.Unlock()
	}()

	err := d.out.WriteTyped(ws.RequestDeviceEvent{
		Event:  ws.EventRequestDevice,
		Device: string(kind),
		Constraints: ws.DeviceConstraints{
			Video:      c.Video,
			Audio:      c.Audio,
			Width:      c.Width,
			Height:     c.Height,
			FacingMode: c.FacingMode,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("request %s: %w", kind, err)
	}

	timer := time.NewTimer(permissionPromptTimeout)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
		return nil, fmt.Errorf("%w: no answer to permission prompt", proctor.ErrDeviceUnavailable)
	case r := <-reply:
		if !r.granted {
			return nil, denialError(r.reason)
		}
	}

	stream := &remoteStream{kind: kind, out: d.out}
	if kind == proctor.DeviceCamera {
		cam := &remoteCamera{remoteStream: stream, now: d.now}
		d.mu.Lock()
		d.camera = cam
		d.mu.Unlock()
		return cam, nil
	}
	return stream, nil
}

func denialError(reason string) error {
	switch reason {
	case "permission_denied", "":
		return proctor.ErrPermissionDenied
	case "unavailable":
		return proctor.ErrDeviceUnavailable
	case "unsupported":
		return proctor.ErrUnsupported
	default:
		return fmt.Errorf("%w: %s", proctor.ErrDeviceUnavailable, reason)
	}
}

// resolve delivers the client's answer to a pending Acquire. It reports
// false when nothing was waiting for that device.
func (d *remoteDevices) resolve(kind proctor.DeviceKind, granted bool, reason string) bool {
	d.mu.Lock()
	reply, ok := d.pending[kind]
	d.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case reply <- deviceReply{granted: granted, reason: reason}:
		return true
	default:
		return false
	}
}

var errNoCamera = errors.New("camera not granted")

func (d *remoteDevices) currentCamera() *remoteCamera {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.camera
}

// cameraLive reports whether a granted, unreleased camera takes frames.
func (d *remoteDevices) cameraLive() bool {
	cam := d.currentCamera()
	return cam != nil && !cam.released.Load()
}

// pushFrame stores the latest camera frame.
func (d *remoteDevices) pushFrame(f *proctor.Frame) error {
	cam := d.currentCamera()
	if cam == nil {
		return errNoCamera
	}
	cam.set(f)
	return nil
}

func (d *remoteDevices) setHidden(hidden bool) { d.hidden.Store(hidden) }

func (d *remoteDevices) isHidden() bool { return d.hidden.Load() }

// remoteStream is a device held by the browser. Release tells the client
// to stop the track.
type remoteStream struct {
	kind     proctor.DeviceKind
	out      *ws.Writer
	released atomic.Bool
}

func (s *remoteStream) Release() error {
	if s.released.Swap(true) {
		return nil
	}
	return s.out.WriteTyped(ws.ReleaseDeviceEvent{Event: ws.EventReleaseDevice, Device: string(s.kind)})
}

// remoteCamera also keeps the most recent frame the client sent and
// when it arrived.
type remoteCamera struct {
	*remoteStream
	now func() time.Time

	mu    sync.Mutex
	frame *proctor.Frame
	at    time.Time
}

func (c *remoteCamera) set(f *proctor.Frame) {
	if c.released.Load() {
		return
	}
	c.mu.Lock()
	c.frame = f
	c.at = c.now()
	c.mu.Unlock()
}

func (c *remoteCamera) CurrentFrame() (*proctor.Frame, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.frame == nil {
		return nil, proctor.ErrNoFrame
	}
	if age := c.now().Sub(c.at); age > maxFrameAge {
		return nil, fmt.Errorf("%w: last frame %s ago", proctor.ErrStaleFrame, age.Round(time.Millisecond))
	}
	return c.frame, nil
}
