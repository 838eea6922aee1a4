package animator

import (
	"math"
	"sync"
	"time"
)

// AnalysisNode samples the frequency spectrum of whatever audio is
// currently playing. Bin values are bytes in 0..255, matching a 256-point
// FFT half-spectrum. FrequencyData fills dst and returns the number of
// bins written; zero means no data yet.
type AnalysisNode interface {
	FrequencyData(dst []byte) int
}

// BinCount is the number of spectrum bins the animator samples per frame.
const BinCount = 128

// Pointer is the normalized pointer/camera position, both axes in [-1,1].
type Pointer struct {
	X float64
	Y float64
}

// Gaze is the head look-at point in avatar space.
type Gaze struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Frame is the influence snapshot produced by one Step.
type Frame struct {
	Speech float64 `json:"speech"`
	Blink  float64 `json:"blink"`
	Smile  float64 `json:"smile"`
	Gaze   Gaze    `json:"gaze"`
}

// Config tunes the animator. Zero values fall back to the defaults the
// avatar was calibrated with.
type Config struct {
	LipSyncGain    float64
	SmileInfluence float64
}

const (
	// blinkLerp keeps the pulse from popping; speechLerp favors
	// responsiveness while still rounding off spectrum jitter.
	blinkLerp  = 0.5
	speechLerp = 0.8

	// The blink pulse fires on the narrow crest of a slow sine wave.
	blinkRate      = 1.5
	blinkThreshold = 0.98

	// Mean bin amplitude of typical speech sits near 100/255.
	speechNormalization = 100.0
)

// Animator computes smoothed blend-shape influences every render tick.
// Step never blocks and never fails: with no analysis node attached the
// mouth simply decays shut while blink, gaze and the idle expression
// keep running.
type Animator struct {
	targets TargetSet
	gain    float64
	smile   float64

	mu   sync.Mutex
	node AnalysisNode

	bins []byte

	speechInfluence float64
	blinkInfluence  float64
	smileInfluence  float64
	gaze            Gaze
}

func New(targets TargetSet, cfg Config) *Animator {
	gain := cfg.LipSyncGain
	if gain <= 0 {
		gain = 2.8
	}
	smile := cfg.SmileInfluence
	if smile < 0 || smile > 1 {
		smile = 0.2
	}
	return &Animator{
		targets: targets,
		gain:    gain,
		smile:   smile,
		bins:    make([]byte, BinCount),
	}
}

// AttachAnalysis connects the live playback spectrum. Passing nil is a
// no-op detach, which lets callers feed a failed initialization straight
// through without branching.
func (a *Animator) AttachAnalysis(node AnalysisNode) {
	a.mu.Lock()
	a.node = node
	a.mu.Unlock()
}

// DetachAnalysis disconnects the spectrum source; speech influence then
// decays toward zero under the regular smoothing law.
func (a *Animator) DetachAnalysis() {
	a.AttachAnalysis(nil)
}

// Step advances the animation by one render tick and pushes the updated
// influences into the resolved targets.
func (a *Animator) Step(elapsed time.Duration, pointer Pointer) Frame {
	t := elapsed.Seconds()

	// Gaze follows the pointer directly; frame rate supplies the
	// perceptual smoothing.
	a.gaze = Gaze{
		X: pointer.X * 0.4,
		Y: pointer.Y*0.2 + 1.2,
		Z: 2.0,
	}

	pulse := 0.0
	if math.Sin(t*blinkRate) > blinkThreshold {
		pulse = 1.0
	}
	a.blinkInfluence = clamp01(lerp(a.blinkInfluence, pulse, blinkLerp))

	speechTarget := 0.0
	if energy, ok := a.sampleEnergy(); ok {
		speechTarget = clamp01(energy / speechNormalization * a.gain)
	}
	a.speechInfluence = clamp01(lerp(a.speechInfluence, speechTarget, speechLerp))

	a.smileInfluence = a.smile

	for _, target := range a.targets.Speech {
		target.Mesh.SetInfluence(target.Channel, a.speechInfluence)
	}
	for _, target := range a.targets.Blink {
		target.Mesh.SetInfluence(target.Channel, a.blinkInfluence)
	}
	for _, target := range a.targets.Expression {
		target.Mesh.SetInfluence(target.Channel, a.smileInfluence)
	}

	return Frame{
		Speech: a.speechInfluence,
		Blink:  a.blinkInfluence,
		Smile:  a.smileInfluence,
		Gaze:   a.gaze,
	}
}

// sampleEnergy reduces the current spectrum to its mean bin amplitude.
func (a *Animator) sampleEnergy() (float64, bool) {
	a.mu.Lock()
	node := a.node
	a.mu.Unlock()
	if node == nil {
		return 0, false
	}

	n := node.FrequencyData(a.bins)
	if n <= 0 {
		return 0, false
	}
	if n > len(a.bins) {
		n = len(a.bins)
	}

	sum := 0.0
	for _, b := range a.bins[:n] {
		sum += float64(b)
	}
	return sum / float64(n), true
}

func lerp(from, to, factor float64) float64 {
	return from + (to-from)*factor
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
