package handler

import (
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/proctor"
	ws "github.com/stemsi/exstem-proctor/internal/websocket"
)

// wsPage turns attempt events into socket events. Write failures mean
// the client is gone; the read loop notices and abandons the attempt.
type wsPage struct {
	out *ws.Writer
	log zerolog.Logger
}

func (p *wsPage) send(v interface{}) {
	if err := p.out.WriteTyped(v); err != nil {
		p.log.Debug().Err(err).Msg("Write to client failed")
	}
}

func (p *wsPage) fail(err error) {
	if werr := p.out.WriteError(err.Error(), true); werr != nil {
		p.log.Debug().Err(werr).Msg("Write to client failed")
	}
}

func (p *wsPage) SessionStarted(sessionID string) {
	p.send(ws.SessionStartedEvent{Event: ws.EventSessionStarted, SessionID: sessionID})
}

func (p *wsPage) SetupFailed(err *proctor.SetupError) {
	p.send(ws.SetupFailedEvent{Event: ws.EventSetupFailed, Device: string(err.Device), Error: err.Err.Error()})
}

func (p *wsPage) QuestionChanged(index, total int, q model.QuestionForStudent, timeRemaining int) {
	p.send(ws.QuestionEvent{Event: ws.EventQuestion, Index: index, Total: total, Question: q, TimeRemaining: timeRemaining})
}

func (p *wsPage) Tick(index, timeRemaining int) {
	p.send(ws.TickEvent{Event: ws.EventTick, Index: index, TimeRemaining: timeRemaining})
}

func (p *wsPage) ViolationRaised(v model.Violation) {
	p.send(ws.ViolationEvent{Event: ws.EventViolation, Violation: v})
}

func (p *wsPage) Submitted(sub model.Submission) {
	p.send(ws.SubmissionEvent{Event: ws.EventSubmitted, Submission: sub})
}

func (p *wsPage) SubmissionFailed(err error) { p.fail(err) }

func (p *wsPage) Graded(sub model.Submission) {
	p.send(ws.SubmissionEvent{Event: ws.EventGraded, Submission: sub})
}

func (p *wsPage) GradingFailed(err error) { p.fail(err) }

func (p *wsPage) Completed(subs []model.Submission) {
	if subs == nil {
		subs = []model.Submission{}
	}
	p.send(ws.CompletedEvent{Event: ws.EventCompleted, Submissions: subs})
}
