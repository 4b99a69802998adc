package proctor

import (
	"errors"
	"fmt"

	"github.com/stemsi/exstem-proctor/internal/model"
)

var (
	ErrPermissionDenied  = errors.New("permission denied")
	ErrDeviceUnavailable = errors.New("device unavailable")
	ErrUnsupported       = errors.New("capture not supported")
	ErrNoFrame           = errors.New("no camera frame available")
	ErrStaleFrame        = errors.New("camera frame is stale")
	ErrFrameTooLarge     = errors.New("camera frame exceeds size limit")
	ErrSessionInactive   = errors.New("proctoring session is not active")
	ErrAlreadyMonitoring = errors.New("monitoring already started")
)

// SetupError is fatal to starting a session. Devices acquired before the
// failing one have already been released when it is returned.
type SetupError struct {
	Device DeviceKind
	Err    error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("acquire %s: %v", e.Device, e.Err)
}

func (e *SetupError) Unwrap() error { return e.Err }

// AnalysisError marks a frame-analysis cycle that was skipped.
type AnalysisError struct {
	Err error
}

func (e *AnalysisError) Error() string {
	return fmt.Sprintf("analyze frame: %v", e.Err)
}

func (e *AnalysisError) Unwrap() error { return e.Err }

// LogWriteError marks a violation that could not be written to the log.
type LogWriteError struct {
	Type model.ViolationType
	Err  error
}

func (e *LogWriteError) Error() string {
	return fmt.Sprintf("log violation %s: %v", e.Type, e.Err)
}

func (e *LogWriteError) Unwrap() error { return e.Err }
