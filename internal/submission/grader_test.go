package submission

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gradingServer(t *testing.T, status int, reply string) (*httptest.Server, *uuid.UUID) {
	t.Helper()
	var got uuid.UUID
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/grade", r.URL.Path)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))

		var body struct {
			SubmissionID uuid.UUID `json:"submissionId"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		got = body.SubmissionID

		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv, &got
}

func TestHTTPGraderSuccess(t *testing.T) {
	srv, got := gradingServer(t, http.StatusOK,
		`{"status":"success","ai_grade":{"marks":7.5,"feedback":"Clear argument"}}`)
	id := uuid.New()

	grade, err := NewHTTPGrader(srv.URL, time.Second).Grade(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, id, *got)
	assert.Equal(t, 7.5, grade.Marks)
	assert.Equal(t, "Clear argument", grade.Feedback)
}

func TestHTTPGraderRejected(t *testing.T) {
	srv, _ := gradingServer(t, http.StatusUnprocessableEntity, `{"status":"error","message":"submission has no text"}`)

	_, err := NewHTTPGrader(srv.URL, time.Second).Grade(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrGradingRejected)
	assert.Contains(t, err.Error(), "submission has no text")
}

func TestHTTPGraderInvalidReply(t *testing.T) {
	srv, _ := gradingServer(t, http.StatusBadGateway, `<html>bad gateway</html>`)
	_, err := NewHTTPGrader(srv.URL, time.Second).Grade(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrInvalidReply)

	srv, _ = gradingServer(t, http.StatusOK, `{"status":"success"}`)
	_, err = NewHTTPGrader(srv.URL, time.Second).Grade(context.Background(), uuid.New())
	assert.ErrorIs(t, err, ErrInvalidReply)
}

func TestHTTPGraderNetworkFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	_, err := NewHTTPGrader(srv.URL, time.Second).Grade(context.Background(), uuid.New())
	assert.Error(t, err)
}
