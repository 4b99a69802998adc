package model

import (
	"time"
)

// ViolationType is the closed set of proctoring violations.
type ViolationType string

const (
	ViolationNoFace            ViolationType = "NO_FACE_DETECTED"
	ViolationMultipleFaces     ViolationType = "MULTIPLE_FACES"
	ViolationLookingAway       ViolationType = "LOOKING_AWAY"
	ViolationSuspiciousObjects ViolationType = "SUSPICIOUS_OBJECTS"
	ViolationWindowFocusLost   ViolationType = "WINDOW_FOCUS_LOST"
	ViolationFullscreenExit    ViolationType = "FULLSCREEN_EXIT"
	ViolationTabSwitch         ViolationType = "TAB_SWITCH"
)

// Severity is fixed per violation type.
type Severity string

const (
	SeverityMedium   Severity = "MEDIUM"
	SeverityHigh     Severity = "HIGH"
	SeverityCritical Severity = "CRITICAL"
)

var violationSeverity = map[ViolationType]Severity{
	ViolationNoFace:            SeverityHigh,
	ViolationMultipleFaces:     SeverityCritical,
	ViolationLookingAway:       SeverityMedium,
	ViolationSuspiciousObjects: SeverityHigh,
	ViolationWindowFocusLost:   SeverityHigh,
	ViolationFullscreenExit:    SeverityHigh,
	ViolationTabSwitch:         SeverityCritical,
}

// AllViolationTypes lists every violation type in declaration order.
var AllViolationTypes = []ViolationType{
	ViolationNoFace,
	ViolationMultipleFaces,
	ViolationLookingAway,
	ViolationSuspiciousObjects,
	ViolationWindowFocusLost,
	ViolationFullscreenExit,
	ViolationTabSwitch,
}

// Severity returns the fixed severity of t, or "" for an unknown type.
func (t ViolationType) Severity() Severity {
	return violationSeverity[t]
}

// Valid reports whether t belongs to the closed set.
func (t ViolationType) Valid() bool {
	_, ok := violationSeverity[t]
	return ok
}

// Point is an image-space position in pixels.
type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// DetectedObject is one suspicious object reported by an object detector.
type DetectedObject struct {
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
	Position   Point   `json:"position"`
}

// Violation is immutable once created.
type Violation struct {
	Type      ViolationType    `json:"type"`
	Severity  Severity         `json:"severity"`
	Timestamp string           `json:"timestamp"`
	Details   map[string]any   `json:"details,omitempty"`
	Objects   []DetectedObject `json:"objects,omitempty"`
}

// NewViolation stamps a violation of type t detected at the given instant.
func NewViolation(t ViolationType, at time.Time) Violation {
	return Violation{
		Type:      t,
		Severity:  t.Severity(),
		Timestamp: at.UTC().Format(time.RFC3339Nano),
	}
}

// ViolationLogEntry is the record written to the external violation log,
// one per violation.
type ViolationLogEntry struct {
	ExamID    string    `json:"examId"`
	StudentID string    `json:"studentId"`
	SessionID string    `json:"sessionId"`
	Violation Violation `json:"violation"`
	Timestamp string    `json:"timestamp"`
}
