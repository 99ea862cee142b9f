package liveness

import (
	"context"
	"errors"
	"fmt"
	"image"
	"log/slog"
	"maps"
	"math"
	"sync"
	"sync/atomic"

	"github.com/your-org/kiosk/internal/observability"
)

const (
	NeutralScore   = 0.5
	liveMotionMin  = 0.2
	motionNormUnit = 0.1

	NoticeInsufficientFrames = "insufficient frames"
)

var ErrInvalidThreshold = errors.New("anti-spoofing threshold must be in [0,1]")

// Verdict is the liveness assessment of one face crop.
type Verdict struct {
	IsReal    bool           `json:"is_real"`
	RealScore float64        `json:"real_score"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// MotionVerdict is the liveness assessment of a short frame window.
type MotionVerdict struct {
	IsLive bool    `json:"is_live"`
	Score  float64 `json:"score"`
	Notice string  `json:"notice,omitempty"`
}

// SpoofClassifier scores a face crop. Implementations fill RealScore in [0,1]
// and may set IsReal themselves; the gate re-derives IsReal when it has a
// threshold configured.
type SpoofClassifier interface {
	Score(ctx context.Context, crop image.Image) (Verdict, error)
}

// AlwaysReal is a no-op classifier for deployments without a model.
type AlwaysReal struct{}

func (AlwaysReal) Score(context.Context, image.Image) (Verdict, error) {
	return Verdict{IsReal: true, RealScore: 1}, nil
}

type Options struct {
	Enabled      bool
	Threshold    float64
	FailClosed   bool
	MotionVeto   bool
	BufferSize   int
	MotionFrames int
	// FlowWidth is the width frames are downsampled to before flow estimation.
	FlowWidth int
	Flow      FlowEstimator
}

type Stats struct {
	Real   int64 `json:"real"`
	Spoof  int64 `json:"spoof"`
	Errors int64 `json:"errors"`
}

// Gate wraps a SpoofClassifier and a motion check over recent frames.
type Gate struct {
	classifier   SpoofClassifier
	flow         FlowEstimator
	frames       *Ring[image.Image]
	motionFrames int
	flowWidth    int
	failClosed   bool
	motionVeto   bool

	mu        sync.RWMutex
	enabled   bool
	threshold float64

	real, spoof, errs atomic.Int64
}

func NewGate(classifier SpoofClassifier, opts Options) *Gate {
	if classifier == nil {
		classifier = AlwaysReal{}
	}
	if opts.BufferSize <= 0 {
		opts.BufferSize = 10
	}
	if opts.MotionFrames <= 0 {
		opts.MotionFrames = 3
	}
	if opts.FlowWidth <= 0 {
		opts.FlowWidth = 160
	}
	if opts.Flow == nil {
		opts.Flow = LucasKanade{}
	}
	return &Gate{
		classifier:   classifier,
		flow:         opts.Flow,
		frames:       NewRing[image.Image](opts.BufferSize),
		motionFrames: opts.MotionFrames,
		flowWidth:    opts.FlowWidth,
		failClosed:   opts.FailClosed,
		motionVeto:   opts.MotionVeto,
		enabled:      opts.Enabled,
		threshold:    opts.Threshold,
	}
}

// Assess scores a face crop. Classifier errors and panics never escape: the
// gate returns a neutral real verdict, or a spoof verdict when fail-closed.
func (g *Gate) Assess(ctx context.Context, crop image.Image) (v Verdict) {
	g.mu.RLock()
	enabled, threshold := g.enabled, g.threshold
	g.mu.RUnlock()

	if !enabled {
		return Verdict{IsReal: true, RealScore: 1}
	}

	defer func() {
		if r := recover(); r != nil {
			v = g.failed(fmt.Errorf("classifier panic: %v", r))
		}
	}()

	res, err := g.classifier.Score(ctx, crop)
	if err != nil {
		return g.failed(err)
	}
	if math.IsNaN(res.RealScore) {
		return g.failed(errors.New("classifier returned NaN score"))
	}
	res.RealScore = clamp01(res.RealScore)
	if threshold > 0 {
		res.IsReal = res.RealScore > threshold
	}

	if res.IsReal {
		g.real.Add(1)
	} else {
		g.spoof.Add(1)
	}
	return res
}

func (g *Gate) failed(err error) Verdict {
	g.errs.Add(1)
	observability.SpoofClassifierErrors.Inc()
	slog.Warn("anti-spoofing classifier failed", "error", err, "fail_closed", g.failClosed)

	if g.failClosed {
		return Verdict{IsReal: false, RealScore: 0, Metadata: map[string]any{"error": err.Error()}}
	}
	return Verdict{IsReal: true, RealScore: NeutralScore, Metadata: map[string]any{"error": err.Error()}}
}

// AssessMotion measures movement across an ordered frame window.
func (g *Gate) AssessMotion(frames []image.Image) MotionVerdict {
	if len(frames) < 2 {
		return MotionVerdict{IsLive: true, Score: NeutralScore, Notice: NoticeInsufficientFrames}
	}

	first := frames[0].Bounds()
	height := int(math.Round(float64(first.Dy()) * float64(g.flowWidth) / float64(first.Dx())))
	if g.flowWidth >= first.Dx() {
		height = 0
	}

	prev, scale := toGray(frames[0], g.flowWidth, height)
	var movement float64
	for _, f := range frames[1:] {
		curr, _ := toGray(f, g.flowWidth, height)
		mag, err := g.flow.MeanMagnitude(prev, curr, scale)
		if err != nil {
			slog.Warn("motion liveness failed", "error", err)
			return MotionVerdict{IsLive: true, Score: NeutralScore, Notice: err.Error()}
		}
		movement += mag
		prev = curr
	}

	score := math.Min(1, movement/(float64(len(frames))*motionNormUnit))
	return MotionVerdict{IsLive: score > liveMotionMin, Score: score}
}

// Combine folds a motion verdict into a face verdict. Motion is recorded in
// the metadata; it only changes the outcome when motion veto is enabled.
func (g *Gate) Combine(face Verdict, motion MotionVerdict) Verdict {
	out := Verdict{IsReal: face.IsReal, RealScore: face.RealScore, Metadata: make(map[string]any, len(face.Metadata)+2)}
	maps.Copy(out.Metadata, face.Metadata)
	out.Metadata["movement_score"] = motion.Score
	out.Metadata["motion_live"] = motion.IsLive
	if motion.Notice != "" {
		out.Metadata["motion_notice"] = motion.Notice
	}

	if g.motionVeto && !motion.IsLive {
		out.IsReal = false
		out.RealScore = math.Min(face.RealScore, motion.Score)
	}
	return out
}

func (g *Gate) Push(frame image.Image) { g.frames.Push(frame) }

func (g *Gate) Recent(n int) []image.Image { return g.frames.Recent(n) }

// MotionWindow returns the configured number of newest frames, or nil when the
// buffer does not hold that many yet.
func (g *Gate) MotionWindow() []image.Image {
	if g.frames.Len() < g.motionFrames {
		return nil
	}
	return g.frames.Recent(g.motionFrames)
}

func (g *Gate) BufferLen() int { return g.frames.Len() }

// UpdateSettings changes enablement and threshold at runtime. An invalid
// threshold leaves both settings untouched.
func (g *Gate) UpdateSettings(enabled bool, threshold float64) error {
	if math.IsNaN(threshold) || threshold < 0 || threshold > 1 {
		slog.Warn("rejected anti-spoofing threshold", "threshold", threshold)
		return ErrInvalidThreshold
	}
	g.mu.Lock()
	g.enabled, g.threshold = enabled, threshold
	g.mu.Unlock()
	slog.Info("anti-spoofing settings updated", "enabled", enabled, "threshold", threshold)
	return nil
}

func (g *Gate) Settings() (enabled bool, threshold float64) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.enabled, g.threshold
}

func (g *Gate) Stats() Stats {
	return Stats{Real: g.real.Load(), Spoof: g.spoof.Load(), Errors: g.errs.Load()}
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}
