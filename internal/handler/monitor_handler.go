package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/config"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stemsi/exstem-proctor/internal/response"
	"github.com/stemsi/exstem-proctor/internal/service"
)

const (
	keepAliveInterval = 30 * time.Second
	snapshotTimeout   = 5 * time.Second // a slow query must not stall the stream
)

// monitorFeed delivers live monitor payloads for one exam. The
// subscription is confirmed before Subscribe returns.
type monitorFeed interface {
	Subscribe(ctx context.Context, examID uuid.UUID) (<-chan string, func() error, error)
}

// redisFeed reads the exam's proctoring pub/sub channel.
type redisFeed struct {
	rdb *redis.Client
}

func (f redisFeed) Subscribe(ctx context.Context, examID uuid.UUID) (<-chan string, func() error, error) {
	pubsub := f.rdb.Subscribe(ctx, config.CacheKey.ProctorChannel(examID.String()))
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, nil, fmt.Errorf("subscribe monitor channel: %w", err)
	}

	out := make(chan string)
	go func() {
		defer close(out)
		for msg := range pubsub.Channel() {
			select {
			case out <- msg.Payload:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, pubsub.Close, nil
}

type examLookup interface {
	GetExam(ctx context.Context, id uuid.UUID) (*model.Exam, error)
}

type snapshotter interface {
	Snapshot(ctx context.Context, examID uuid.UUID) (*service.ProctoringSnapshot, error)
}

// MonitorHandler serves the tutor's live proctoring view.
type MonitorHandler struct {
	feed    monitorFeed
	exams   examLookup
	monitor snapshotter
	log     zerolog.Logger
}

// NewMonitorHandler creates a new MonitorHandler.
func NewMonitorHandler(
	rdb *redis.Client,
	examService *service.ExamService,
	monitorService *service.MonitorService,
	log zerolog.Logger,
) *MonitorHandler {
	return &MonitorHandler{
		feed:    redisFeed{rdb: rdb},
		exams:   examService,
		monitor: monitorService,
		log:     log.With().Str("component", "monitor_handler").Logger(),
	}
}

// MonitorExamSSE godoc
// GET /api/v1/tutor/exams/:exam_id/monitor
// Sends a snapshot, then every violation and session change as it happens.
// The channel is subscribed before the snapshot is read so no event falls
// between the two.
func (h *MonitorHandler) MonitorExamSSE(c *gin.Context) {
	examID, ok := h.examParam(c)
	if !ok {
		return
	}

	reqCtx := c.Request.Context()

	ch, closeFeed, err := h.feed.Subscribe(reqCtx, examID)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Failed to subscribe to monitor channel")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}
	defer closeFeed()

	snap, err := h.snapshot(reqCtx, examID)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Failed to build monitor snapshot")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")

	c.SSEvent("message", gin.H{"type": "snapshot", "data": snap})
	c.Writer.Flush()

	keepAlive := time.NewTicker(keepAliveInterval)
	defer keepAlive.Stop()

	pingPayload, _ := json.Marshal(service.MonitorEvent{Type: service.MonitorEventPing})

	h.log.Info().Str("exam_id", examID.String()).Msg("Tutor attached to proctoring monitor")

	for {
		select {
		case <-reqCtx.Done():
			h.log.Info().Str("exam_id", examID.String()).Msg("Tutor detached from proctoring monitor")
			return

		case payload, open := <-ch:
			if !open {
				return
			}
			// payloads are already MonitorEvent JSON
			writeSSEData(c, []byte(payload))

		case <-keepAlive.C:
			writeSSEData(c, pingPayload)
		}
	}
}

// ListViolations godoc
// GET /api/v1/tutor/exams/:exam_id/violations
// Per-student violation counts, session records and the recent log.
func (h *MonitorHandler) ListViolations(c *gin.Context) {
	examID, ok := h.examParam(c)
	if !ok {
		return
	}

	snap, err := h.snapshot(c.Request.Context(), examID)
	if err != nil {
		h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Failed to list violations")
		response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		return
	}

	response.Success(c, http.StatusOK, snap)
}

// examParam parses :exam_id and checks the exam exists. It writes the
// error response itself.
func (h *MonitorHandler) examParam(c *gin.Context) (uuid.UUID, bool) {
	examID, err := uuid.Parse(c.Param("exam_id"))
	if err != nil {
		response.Fail(c, http.StatusBadRequest, response.ErrInvalidID)
		return uuid.Nil, false
	}

	if _, err := h.exams.GetExam(c.Request.Context(), examID); err != nil {
		if errors.Is(err, service.ErrExamNotFound) {
			response.Fail(c, http.StatusNotFound, response.ErrNotFound)
		} else {
			h.log.Error().Err(err).Str("exam_id", examID.String()).Msg("Failed to load exam")
			response.Fail(c, http.StatusInternalServerError, response.ErrInternal)
		}
		return uuid.Nil, false
	}
	return examID, true
}

func (h *MonitorHandler) snapshot(ctx context.Context, examID uuid.UUID) (*service.ProctoringSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, snapshotTimeout)
	defer cancel()
	return h.monitor.Snapshot(ctx, examID)
}

func writeSSEData(c *gin.Context, payload []byte) {
	c.Writer.Write([]byte("data: "))
	c.Writer.Write(payload)
	c.Writer.Write([]byte("\n\n"))
	c.Writer.Flush()
}
