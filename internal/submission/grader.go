package submission

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/tidwall/gjson"
)

// Grader asks the external grading service to grade a stored submission.
type Grader interface {
	Grade(ctx context.Context, submissionID uuid.UUID) (model.AIGrade, error)
}

// HTTPGrader calls POST <base>/grade.
type HTTPGrader struct {
	endpoint string
	client   *http.Client
}

// NewHTTPGrader returns a grader for the service at baseURL.
func NewHTTPGrader(baseURL string, timeout time.Duration) *HTTPGrader {
	return &HTTPGrader{
		endpoint: baseURL + "/grade",
		client:   &http.Client{Timeout: timeout},
	}
}

type gradeRequest struct {
	SubmissionID uuid.UUID `json:"submissionId"`
}

func (g *HTTPGrader) Grade(ctx context.Context, submissionID uuid.UUID) (model.AIGrade, error) {
	body, err := json.Marshal(gradeRequest{SubmissionID: submissionID})
	if err != nil {
		return model.AIGrade{}, fmt.Errorf("encode grade request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.endpoint, bytes.NewReader(body))
	if err != nil {
		return model.AIGrade{}, fmt.Errorf("build grade request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return model.AIGrade{}, fmt.Errorf("call grading service: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return model.AIGrade{}, fmt.Errorf("read grading reply: %w", err)
	}
	if !gjson.ValidBytes(raw) {
		return model.AIGrade{}, fmt.Errorf("%w: status %d", ErrInvalidReply, resp.StatusCode)
	}

	reply := gjson.ParseBytes(raw)
	if reply.Get("status").String() != "success" {
		msg := reply.Get("message").String()
		if msg == "" {
			msg = http.StatusText(resp.StatusCode)
		}
		return model.AIGrade{}, fmt.Errorf("%w: %s", ErrGradingRejected, msg)
	}

	grade := reply.Get("ai_grade")
	if !grade.IsObject() {
		return model.AIGrade{}, fmt.Errorf("%w: missing ai_grade", ErrInvalidReply)
	}
	return model.AIGrade{
		Marks:    grade.Get("marks").Float(),
		Feedback: grade.Get("feedback").String(),
	}, nil
}
