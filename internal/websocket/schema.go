package websocket

import "github.com/stemsi/exstem-proctor/internal/model"

// ─── Actions (Client → Server) ──────────────────────────────────────

type Action string

const (
	ActionDeviceGranted Action = "device_granted"
	ActionDeviceDenied  Action = "device_denied"
	ActionFrame         Action = "frame"
	ActionEnv           Action = "env"
	ActionSelectOption  Action = "select_option"
	ActionTextAnswer    Action = "text_answer"
	ActionNext          Action = "next"
	ActionRegrade       Action = "regrade"
	ActionPing          Action = "ping"
)

// RequestEnvelope is used to peek at the action before full parsing.
type RequestEnvelope struct {
	Action Action `json:"action"`
}

// DeviceReply answers a request_device event.
type DeviceReply struct {
	Action Action `json:"action"`
	Device string `json:"device" binding:"required,oneof=camera microphone screen"`
	// Reason is one of permission_denied, unavailable, unsupported.
	Reason string `json:"reason"`
}

// FrameRequest carries one camera frame (JPEG, PNG or WebP). Clients may
// also send the raw image bytes as a binary message.
type FrameRequest struct {
	Action Action `json:"action"`
	Data   []byte `json:"data" binding:"required"`
}

// Environment signal kinds.
const (
	EnvWindowBlur       = "window_blur"
	EnvFullscreenChange = "fullscreen_change"
	EnvVisibility       = "visibility"
)

// EnvRequest reports a page environment change.
type EnvRequest struct {
	Action     Action `json:"action"`
	Kind       string `json:"kind" binding:"required,oneof=window_blur fullscreen_change visibility"`
	Fullscreen bool   `json:"fullscreen"`
	Hidden     bool   `json:"hidden"`
}

// SelectOptionRequest picks an option of the current question.
type SelectOptionRequest struct {
	Action Action `json:"action"`
	Option *int   `json:"option" binding:"required,min=0"`
}

// TextAnswerRequest replaces the free-text answer of the current question.
type TextAnswerRequest struct {
	Action Action `json:"action"`
	Text   string `json:"text" binding:"max=20000"`
}

// RegradeRequest retries grading of a submission saved in this attempt.
type RegradeRequest struct {
	Action       Action `json:"action"`
	SubmissionID string `json:"submissionId" binding:"required,uuid"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type Event string

const (
	EventRequestDevice  Event = "request_device"
	EventReleaseDevice  Event = "release_device"
	EventSessionStarted Event = "session_started"
	EventSetupFailed    Event = "setup_failed"
	EventQuestion       Event = "question"
	EventTick           Event = "tick"
	EventAnswer         Event = "answer"
	EventViolation      Event = "violation"
	EventSubmitted      Event = "submitted"
	EventGraded         Event = "graded"
	EventCompleted      Event = "completed"
	EventError          Event = "error"
	EventPong           Event = "pong"
)

type DeviceConstraints struct {
	Video      bool   `json:"video"`
	Audio      bool   `json:"audio"`
	Width      int    `json:"width,omitempty"`
	Height     int    `json:"height,omitempty"`
	FacingMode string `json:"facingMode,omitempty"`
}

type RequestDeviceEvent struct {
	Event       Event             `json:"event"`
	Device      string            `json:"device"`
	Constraints DeviceConstraints `json:"constraints"`
}

type ReleaseDeviceEvent struct {
	Event  Event  `json:"event"`
	Device string `json:"device"`
}

type SessionStartedEvent struct {
	Event     Event  `json:"event"`
	SessionID string `json:"sessionId"`
}

type SetupFailedEvent struct {
	Event  Event  `json:"event"`
	Device string `json:"device"`
	Error  string `json:"error"`
}

type QuestionEvent struct {
	Event         Event                    `json:"event"`
	Index         int                      `json:"index"`
	Total         int                      `json:"total"`
	Question      model.QuestionForStudent `json:"question"`
	TimeRemaining int                      `json:"timeRemaining"`
}

type TickEvent struct {
	Event         Event `json:"event"`
	Index         int   `json:"index"`
	TimeRemaining int   `json:"timeRemaining"`
}

// AnswerEvent acknowledges an answer change.
type AnswerEvent struct {
	Event      Event `json:"event"`
	CanAdvance bool  `json:"canAdvance"`
}

type ViolationEvent struct {
	Event     Event           `json:"event"`
	Violation model.Violation `json:"violation"`
}

type SubmissionEvent struct {
	Event      Event            `json:"event"`
	Submission model.Submission `json:"submission"`
}

type CompletedEvent struct {
	Event       Event              `json:"event"`
	Submissions []model.Submission `json:"submissions"`
}

type ErrorResponse struct {
	Event Event  `json:"event"`
	Error string `json:"error"`
	// Recoverable errors never end the attempt.
	Recoverable bool `json:"recoverable,omitempty"`
}

type PongResponse struct {
	Event Event `json:"event"`
}
