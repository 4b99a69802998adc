package worker

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestToRow(t *testing.T) {
	examID := uuid.New()
	at := time.Date(2026, 5, 4, 9, 30, 0, 123000000, time.UTC)
	v := model.NewViolation(model.ViolationMultipleFaces, at)
	entry := model.ViolationLogEntry{
		ExamID:    examID.String(),
		StudentID: "s-9",
		SessionID: "proctor_1_s-9_abcd1234",
		Violation: v,
	}

	row, err := toRow(entry)
	require.NoError(t, err)
	require.Len(t, row, len(violationColumns))

	assert.Equal(t, "proctor_1_s-9_abcd1234", row[0])
	assert.Equal(t, examID, row[1])
	assert.Equal(t, "s-9", row[2])
	assert.Equal(t, "MULTIPLE_FACES", row[3])
	assert.Equal(t, "CRITICAL", row[4])
	assert.True(t, at.Equal(row[6].(time.Time)))

	var payload map[string]any
	require.NoError(t, json.Unmarshal(row[5].([]byte), &payload))
	assert.Equal(t, "MULTIPLE_FACES", payload["type"])
}

func TestToRowRejectsBadEntries(t *testing.T) {
	good := model.ViolationLogEntry{
		ExamID:    uuid.NewString(),
		Violation: model.NewViolation(model.ViolationTabSwitch, time.Now()),
	}

	bad := good
	bad.ExamID = "not-a-uuid"
	_, err := toRow(bad)
	assert.Error(t, err)

	bad = good
	bad.Violation.Timestamp = "yesterday"
	_, err = toRow(bad)
	assert.Error(t, err)
}

func TestSleepCtx(t *testing.T) {
	assert.True(t, sleepCtx(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	start := time.Now()
	assert.False(t, sleepCtx(ctx, time.Minute))
	assert.Less(t, time.Since(start), time.Second, "cancelled context ends the backoff")
}
