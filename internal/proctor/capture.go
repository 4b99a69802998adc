package proctor

import (
	"context"
)

// DeviceKind names one of the three capture devices a session owns.
type DeviceKind string

const (
	DeviceCamera     DeviceKind = "camera"
	DeviceMicrophone DeviceKind = "microphone"
	DeviceScreen     DeviceKind = "screen"
)

// acquisitionOrder is the order devices are requested in. Each request
// waits for the previous one so a failure short-circuits the rest.
var acquisitionOrder = []DeviceKind{DeviceCamera, DeviceMicrophone, DeviceScreen}

// Constraints describe what is asked of a device.
type Constraints struct {
	Video      bool   `json:"video"`
	Audio      bool   `json:"audio"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	FacingMode string `json:"facingMode,omitempty"`
}

// ConstraintsFor returns the request sent for each device kind.
func ConstraintsFor(kind DeviceKind) Constraints {
	switch kind {
	case DeviceCamera:
		return Constraints{Video: true, Width: 1280, Height: 720, FacingMode: "user"}
	case DeviceMicrophone:
		return Constraints{Audio: true}
	case DeviceScreen:
		return Constraints{Video: true, Audio: true}
	default:
		return Constraints{}
	}
}

// Stream is a live capture handle. Release may be called on an already
// stopped stream and may then return an error.
type Stream interface {
	Release() error
}

// FrameSource is implemented by camera streams that can hand out the
// current video frame.
type FrameSource interface {
	CurrentFrame() (*Frame, error)
}

// DeviceProvider acquires capture streams. Acquire may block for as long
// as the user takes to answer a permission prompt.
type DeviceProvider interface {
	Acquire(ctx context.Context, kind DeviceKind, c Constraints) (Stream, error)
}
