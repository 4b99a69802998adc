package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/attempt"
	"github.com/stemsi/exstem-proctor/internal/middleware"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
	"github.com/stemsi/exstem-proctor/internal/submission"
	"github.com/stemsi/exstem-proctor/internal/validator"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// maxFrameBytes caps one camera frame.
const maxFrameBytes = 4 << 20

// buildUpgrader creates a WebSocket upgrader with origin validation.
// An empty allowedOrigins permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// WSHandler serves the exam page stream.
type WSHandler struct {
	attempts   *service.AttemptService
	proctoring *service.ProctoringService
	log        zerolog.Logger
	upgrader   websocket.Upgrader
}

// NewWSHandler creates a new WSHandler.
func NewWSHandler(attempts *service.AttemptService, proctoring *service.ProctoringService, log zerolog.Logger, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		attempts:   attempts,
		proctoring: proctoring,
		log:        log.With().Str("component", "ws_handler").Logger(),
		upgrader:   buildUpgrader(allowedOrigins),
	}
}

// ExamWebSocketStream godoc
// WS /ws/v1/student/exams/:exam_id/stream?proctored=true
// Runs one exam attempt for the lifetime of the connection. The client
// holds the devices and forwards frames, page signals and answers.
func (h *WSHandler) ExamWebSocketStream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}

	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return
	}

	studentID := claims.UserID()
	// a sessionId from the launching page also turns proctoring on
	proctored := c.Query("proctored") == "true" || c.Query("sessionId") != ""

	claim := uuid.NewString()
	if err := h.proctoring.Claim(c.Request.Context(), examID, studentID, claim); err != nil {
		if errors.Is(err, service.ErrAttemptInProgress) {
			response.Fail(c, http.StatusConflict, response.ErrAttemptInProgress)
			return
		}
		h.log.Error().Err(err).Msg("Failed to claim attempt")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	defer h.proctoring.Release(context.Background(), examID, studentID, claim)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}
	defer conn.Close()
	conn.SetReadLimit(maxFrameBytes)

	wsLog := h.log.With().
		Str("student_id", studentID).
		Str("exam_id", examID.String()).
		Bool("proctored", proctored).
		Logger()

	out := ws.NewWriter(conn)
	devices := newRemoteDevices(out)
	ctrl := h.attempts.NewAttempt(service.AttemptOptions{
		ExamID:    examID,
		StudentID: studentID,
		Proctored: proctored,
		Devices:   devices,
		Hidden:    devices.isHidden,
	}, &wsPage{out: out, log: wsLog})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	wsLog.Info().Msg("Student connected")

	// Begin waits on device grants, which arrive through the read loop.
	go func() {
		if err := ctrl.Begin(ctx); err != nil {
			h.beginFailed(out, wsLog, err)
		}
	}()

	s := &streamSession{ctx: ctx, ctrl: ctrl, devices: devices, out: out, log: wsLog}
	s.readLoop(conn)

	cancel()
	ctrl.Abandon()
	wsLog.Info().Str("state", string(ctrl.Progress().State)).Msg("Student disconnected")
}

func (h *WSHandler) beginFailed(out *ws.Writer, log zerolog.Logger, err error) {
	var setupErr *proctor.SetupError
	switch {
	case errors.As(err, &setupErr):
		// already reported as setup_failed
		log.Warn().Err(err).Msg("Proctoring setup failed")
		return
	case errors.Is(err, service.ErrAttemptAbandoned), errors.Is(err, context.Canceled):
		return
	case errors.Is(err, service.ErrExamNotFound):
		_ = out.WriteError(response.GetMessage(response.ErrNotFound), false)
	case errors.Is(err, service.ErrNoQuestions):
		_ = out.WriteError(response.GetMessage(response.ErrNoQuestions), false)
	default:
		log.Error().Err(err).Msg("Failed to begin attempt")
		_ = out.WriteError(response.GetMessage(response.ErrInternal), false)
	}
}

// streamSession is the read side of one attempt connection.
type streamSession struct {
	ctx     context.Context
	ctrl    *service.AttemptController
	devices *remoteDevices
	out     *ws.Writer
	log     zerolog.Logger
}

func (s *streamSession) readLoop(conn *websocket.Conn) {
	for {
		kind, data, err := ws.ReadMessage(conn)
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.log.Warn().Err(err).Msg("Unexpected close")
			} else {
				s.log.Debug().Msg("Connection closed")
			}
			return
		}

		if kind == websocket.BinaryMessage {
			s.handleFrame(data)
			continue
		}

		var env ws.RequestEnvelope
		if err := json.Unmarshal(data, &env); err != nil {
			s.reject("invalid message")
			continue
		}
		s.dispatch(env.Action, data)
	}
}

func (s *streamSession) dispatch(action ws.Action, data []byte) {
	switch action {
	case ws.ActionDeviceGranted, ws.ActionDeviceDenied:
		var req ws.DeviceReply
		if !s.decode(data, &req) {
			return
		}
		if !s.devices.resolve(proctor.DeviceKind(req.Device), action == ws.ActionDeviceGranted, req.Reason) {
			s.log.Debug().Str("device", req.Device).Msg("Device reply with no pending request")
		}

	case ws.ActionFrame:
		var req ws.FrameRequest
		if !s.decode(data, &req) {
			return
		}
		s.handleFrame(req.Data)

	case ws.ActionEnv:
		var req ws.EnvRequest
		if !s.decode(data, &req) {
			return
		}
		s.handleEnv(req)

	case ws.ActionSelectOption:
		var req ws.SelectOptionRequest
		if !s.decode(data, &req) {
			return
		}
		s.answered(s.ctrl.SelectOption(*req.Option))

	case ws.ActionTextAnswer:
		var req ws.TextAnswerRequest
		if !s.decode(data, &req) {
			return
		}
		s.answered(s.ctrl.SetText(req.Text))

	case ws.ActionNext:
		s.answer(s.ctrl.Advance(s.ctx))

	case ws.ActionRegrade:
		var req ws.RegradeRequest
		if !s.decode(data, &req) {
			return
		}
		s.regrade(uuid.MustParse(req.SubmissionID))

	case ws.ActionPing:
		_ = s.out.WriteTyped(ws.PongResponse{Event: ws.EventPong})

	default:
		s.log.Warn().Str("action", string(action)).Msg("Unknown action")
		s.reject("unknown action: " + string(action))
	}
}

// decode unmarshals and validates a client message, reporting problems
// back to the client.
func (s *streamSession) decode(data []byte, v interface{}) bool {
	if err := json.Unmarshal(data, v); err != nil {
		s.reject("invalid message")
		return false
	}
	if fields := validator.Struct(v); fields != nil {
		s.reject(validator.Summary(fields))
		return false
	}
	return true
}

func (s *streamSession) reject(msg string) {
	_ = s.out.WriteError(msg, true)
}

func (s *streamSession) handleFrame(data []byte) {
	if !s.devices.cameraLive() {
		s.log.Debug().Msg("Dropping frame, camera not granted")
		return
	}
	frame, err := proctor.DecodeFrame(data)
	if err != nil {
		s.log.Debug().Err(err).Msg("Dropping undecodable frame")
		return
	}
	if err := s.devices.pushFrame(frame); err != nil {
		s.log.Debug().Err(err).Msg("Dropping frame")
	}
}

func (s *streamSession) handleEnv(req ws.EnvRequest) {
	switch req.Kind {
	case ws.EnvVisibility:
		s.devices.setHidden(req.Hidden)
	case ws.EnvWindowBlur:
		s.notify(proctor.EnvEvent{Kind: proctor.EnvWindowBlur})
	case ws.EnvFullscreenChange:
		s.notify(proctor.EnvEvent{Kind: proctor.EnvFullscreenChange, Fullscreen: req.Fullscreen})
	}
}

func (s *streamSession) notify(ev proctor.EnvEvent) {
	if !s.ctrl.NotifyEnvironment(ev) && s.ctrl.Session() != nil {
		s.log.Warn().Str("kind", string(ev.Kind)).Msg("Environment event dropped")
	}
}

// regrade runs off the read loop because it waits on the grading service.
// Results reach the client as graded or error events.
func (s *streamSession) regrade(id uuid.UUID) {
	go func() {
		_, err := s.ctrl.Regrade(context.WithoutCancel(s.ctx), id)
		switch {
		case err == nil:
		case errors.Is(err, submission.ErrNotFound):
			s.reject("submission not found in this attempt")
		case errors.Is(err, service.ErrAttemptNotStarted):
			s.reject("attempt has not started")
		default:
			// grading failures are already reported through the listener
			s.log.Debug().Err(err).Str("submission_id", id.String()).Msg("Regrade failed")
		}
	}()
}

// answered tells the client whether Next/Finish may be enabled.
func (s *streamSession) answered(err error) {
	if err != nil {
		s.answer(err)
		return
	}
	_ = s.out.WriteTyped(ws.AnswerEvent{Event: ws.EventAnswer, CanAdvance: s.ctrl.CanAdvance()})
}

func (s *streamSession) answer(err error) {
	switch {
	case err == nil:
	case errors.Is(err, service.ErrAttemptNotStarted):
		s.reject("attempt has not started")
	case errors.Is(err, attempt.ErrNotInProgress):
		s.reject("question is not accepting answers")
	case errors.Is(err, attempt.ErrInvalidAnswer):
		s.reject("answer the question before continuing")
	default:
		s.reject(err.Error())
	}
}
