package proctor

import (
	"math/rand/v2"

	"github.com/stemsi/exstem-proctor/internal/model"
)

const (
	// LookingAwayProbability is the per-cycle chance of the gaze placeholder firing.
	LookingAwayProbability = 0.10
	// SuspiciousObjectProbability is the per-cycle chance of the object placeholder firing.
	SuspiciousObjectProbability = 0.02
)

// Signal is what a strategy reports for one frame.
type Signal struct {
	Triggered bool
	Details   map[string]any
	Objects   []model.DetectedObject
}

// Strategy evaluates one frame. Gaze and object detection sit behind it so
// a trained model can replace the placeholders without touching Detector.
type Strategy interface {
	Evaluate(f *Frame) Signal
}

// StrategyFunc adapts a function to Strategy.
type StrategyFunc func(f *Frame) Signal

func (fn StrategyFunc) Evaluate(f *Frame) Signal { return fn(f) }

// RandomSource is the subset of *rand.Rand the placeholders use.
type RandomSource interface {
	Float64() float64
	IntN(n int) int
}

// globalRand uses the goroutine-safe top-level math/rand/v2 functions.
type globalRand struct{}

func (globalRand) Float64() float64 { return rand.Float64() }
func (globalRand) IntN(n int) int   { return rand.IntN(n) }

// RandomGaze stands in for a gaze model: it flags looking away with a
// fixed probability per cycle, regardless of the frame.
type RandomGaze struct {
	Probability float64
	Rand        RandomSource
}

// NewRandomGaze returns the placeholder with the default probability.
// A nil source uses the global generator.
func NewRandomGaze(src RandomSource) *RandomGaze {
	if src == nil {
		src = globalRand{}
	}
	return &RandomGaze{Probability: LookingAwayProbability, Rand: src}
}

var gazeDirections = []string{"left", "right", "down"}

func (g *RandomGaze) Evaluate(_ *Frame) Signal {
	if g.Rand.Float64() >= g.Probability {
		return Signal{}
	}
	return Signal{
		Triggered: true,
		Details: map[string]any{
			"gazeDirection": gazeDirections[g.Rand.IntN(len(gazeDirections))],
			"blinkRate":     10 + g.Rand.IntN(20),
		},
	}
}

// RandomObjects stands in for an object detector: with a fixed
// probability per cycle it reports a phone somewhere in the frame.
type RandomObjects struct {
	Probability float64
	Rand        RandomSource
}

// NewRandomObjects returns the placeholder with the default probability.
func NewRandomObjects(src RandomSource) *RandomObjects {
	if src == nil {
		src = globalRand{}
	}
	return &RandomObjects{Probability: SuspiciousObjectProbability, Rand: src}
}

func (o *RandomObjects) Evaluate(f *Frame) Signal {
	if o.Rand.Float64() >= o.Probability {
		return Signal{}
	}
	obj := model.DetectedObject{
		Type:       "phone",
		Confidence: 0.7 + o.Rand.Float64()*0.25,
	}
	if f != nil && f.Width > 0 && f.Height > 0 {
		obj.Position = model.Point{X: o.Rand.IntN(f.Width), Y: o.Rand.IntN(f.Height)}
	}
	return Signal{Triggered: true, Objects: []model.DetectedObject{obj}}
}
