package proctor

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-proctor/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// faceFrame has one 30x30 skin block inside the top-left quadrant.
func faceFrame() *Frame {
	f := NewFrame(100, 100)
	f.Fill(5, 5, 35, 35, skinRGB[0], skinRGB[1], skinRGB[2])
	return f
}

func types(vs []model.Violation) []model.ViolationType {
	out := make([]model.ViolationType, len(vs))
	for i, v := range vs {
		out[i] = v.Type
	}
	return out
}

func TestAnalyzeNoFace(t *testing.T) {
	d := NewDetector(zerolog.Nop(), WithGazeStrategy(never), WithObjectStrategy(never))

	vs, err := d.Analyze(NewFrame(64, 48))
	require.NoError(t, err)
	assert.Equal(t, []model.ViolationType{model.ViolationNoFace}, types(vs))
	assert.Equal(t, model.SeverityHigh, vs[0].Severity)
}

func TestAnalyzeCleanFrame(t *testing.T) {
	d := NewDetector(zerolog.Nop(), WithGazeStrategy(never), WithObjectStrategy(never))

	vs, err := d.Analyze(faceFrame())
	require.NoError(t, err)
	assert.Empty(t, vs)
}

func TestAnalyzeMultipleFaces(t *testing.T) {
	d := NewDetector(zerolog.Nop(), WithGazeStrategy(never), WithObjectStrategy(never))

	f := NewFrame(100, 100)
	f.Fill(10, 10, 25, 25, skinRGB[0], skinRGB[1], skinRGB[2])
	f.Fill(65, 65, 80, 80, skinRGB[0], skinRGB[1], skinRGB[2])

	vs, err := d.Analyze(f)
	require.NoError(t, err)
	assert.Equal(t, []model.ViolationType{model.ViolationMultipleFaces}, types(vs))
	assert.Equal(t, model.SeverityCritical, vs[0].Severity)
}

func TestAnalyzeRunsChecksInOrder(t *testing.T) {
	objects := StrategyFunc(func(*Frame) Signal {
		return Signal{Triggered: true, Objects: []model.DetectedObject{{Type: "phone", Confidence: 0.9}}}
	})
	d := NewDetector(zerolog.Nop(), WithGazeStrategy(always), WithObjectStrategy(objects))

	vs, err := d.Analyze(NewFrame(10, 10))
	require.NoError(t, err)
	assert.Equal(t, []model.ViolationType{
		model.ViolationNoFace,
		model.ViolationLookingAway,
		model.ViolationSuspiciousObjects,
	}, types(vs))
	assert.Equal(t, "left", vs[1].Details["gazeDirection"])
	assert.Equal(t, model.SeverityMedium, vs[1].Severity)
	assert.Equal(t, "phone", vs[2].Objects[0].Type)
	assert.Equal(t, model.SeverityHigh, vs[2].Severity)
}

func TestAnalyzeRecoversFromPanickingStrategy(t *testing.T) {
	boom := StrategyFunc(func(*Frame) Signal { panic("model crashed") })
	d := NewDetector(zerolog.Nop(), WithGazeStrategy(boom), WithObjectStrategy(never))

	vs, err := d.Analyze(faceFrame())
	assert.Nil(t, vs)
	var ae *AnalysisError
	assert.True(t, errors.As(err, &ae))
}

func TestAnalyzeNilFrame(t *testing.T) {
	d := NewDetector(zerolog.Nop())
	_, err := d.Analyze(nil)
	assert.ErrorIs(t, err, ErrNoFrame)
}

func TestRandomPlaceholders(t *testing.T) {
	src := stubRand{f: 0.05, n: 1}

	gaze := NewRandomGaze(src).Evaluate(nil)
	assert.True(t, gaze.Triggered)
	assert.Equal(t, "right", gaze.Details["gazeDirection"])
	assert.Equal(t, 11, gaze.Details["blinkRate"])

	obj := NewRandomObjects(src).Evaluate(NewFrame(10, 10))
	assert.False(t, obj.Triggered, "0.05 is above the 2% object chance")

	obj = NewRandomObjects(stubRand{f: 0.01, n: 3}).Evaluate(NewFrame(10, 10))
	require.True(t, obj.Triggered)
	assert.Equal(t, model.Point{X: 3, Y: 3}, obj.Objects[0].Position)
	assert.InDelta(t, 0.7025, obj.Objects[0].Confidence, 1e-9)
}

func TestDetectorRunSkipsMissingFramesAndKeepsGoing(t *testing.T) {
	cam := &fakeCamera{}
	d := NewDetector(zerolog.Nop(),
		WithGazeStrategy(never),
		WithObjectStrategy(never),
		WithFrameInterval(5*time.Millisecond),
	)

	var mu sync.Mutex
	var got []model.Violation
	emit := func(v model.Violation) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, v)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx, cam, emit)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cam.mu.Lock()
	cam.frame = NewFrame(8, 8)
	cam.mu.Unlock()

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) > 0
	}, time.Second, 5*time.Millisecond)

	cancel()
	<-done

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, model.ViolationNoFace, got[0].Type)
}

type staleCamera struct{}

func (staleCamera) CurrentFrame() (*Frame, error) { return nil, ErrStaleFrame }

func TestDetectorWarnsWhenStarvedOfFrames(t *testing.T) {
	var buf bytes.Buffer
	d := NewDetector(zerolog.New(&buf).Level(zerolog.WarnLevel), WithGazeStrategy(never), WithObjectStrategy(never))
	emit := func(model.Violation) { t.Fatal("no violation expected without a frame") }

	for i := 0; i < StarvedCyclesWarn-1; i++ {
		d.cycle(staleCamera{}, emit)
	}
	assert.Empty(t, buf.String())

	d.cycle(staleCamera{}, emit)
	assert.Contains(t, buf.String(), "monitoring is blind")
	assert.Contains(t, buf.String(), ErrStaleFrame.Error())

	buf.Reset()
	d.cycle(&fakeCamera{frame: faceFrame()}, emit)
	assert.Equal(t, 0, d.starved, "a usable frame resets the count")
}
